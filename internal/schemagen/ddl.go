// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package schemagen

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/autobrr/tenantkit/internal/introspect"
)

// DDL renders a description into CREATE TABLE IF NOT EXISTS statements, one
// per table, for seeding default objects into a freshly created database.
// Foreign keys and secondary indexes are intentionally not rendered: seeding
// happens before any data exists and postcreate hooks own anything fancier.
func DDL(desc *introspect.SchemaDescription) []string {
	stmts := make([]string, 0, len(desc.Tables))

	for _, t := range desc.Tables {
		stmts = append(stmts, createTable(desc.Schema, t))
	}

	return stmts
}

func createTable(schema string, t introspect.Table) string {
	var b strings.Builder

	target := pgx.Identifier{t.Name}
	if schema != "" {
		target = pgx.Identifier{schema, t.Name}
	}

	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", target.Sanitize())

	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{c.Name}.Sanitize())
		b.WriteString(" ")
		b.WriteString(c.DataType)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if c.Default != nil && *c.Default != "" {
			fmt.Fprintf(&b, " DEFAULT %s", *c.Default)
		}
	}

	if len(t.PrimaryKey) > 0 {
		quoted := make([]string, len(t.PrimaryKey))
		for i, col := range t.PrimaryKey {
			quoted[i] = pgx.Identifier{col}.Sanitize()
		}
		fmt.Fprintf(&b, ", PRIMARY KEY (%s)", strings.Join(quoted, ", "))
	}

	b.WriteString(")")

	return b.String()
}
