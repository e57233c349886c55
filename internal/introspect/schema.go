// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package introspect reflects live PostgreSQL schemas into typed
// descriptions that drive binding generation.
package introspect

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// SchemaDescription is the reflected structure of one schema: every base
// table with its columns, primary key, foreign keys, and indexes.
type SchemaDescription struct {
	Database string  `json:"database"`
	Schema   string  `json:"schema"`
	Tables   []Table `json:"tables"`
}

type Table struct {
	Name          string       `json:"name"`
	Columns       []Column     `json:"columns"`
	PrimaryKey    []string     `json:"primaryKey,omitempty"`
	ForeignKeys   []ForeignKey `json:"foreignKeys,omitempty"`
	Indexes       []Index      `json:"indexes,omitempty"`
	EstimatedRows int64        `json:"estimatedRows,omitempty"`
}

type Column struct {
	Name     string  `json:"name"`
	DataType string  `json:"dataType"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
	Ordinal  int     `json:"ordinal"`
	Primary  bool    `json:"primary"`
}

type ForeignKey struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	RefSchema  string   `json:"refSchema"`
	RefTable   string   `json:"refTable"`
	RefColumns []string `json:"refColumns"`
}

type Index struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// Table returns the named table, or nil.
func (d *SchemaDescription) Table(name string) *Table {
	for i := range d.Tables {
		if d.Tables[i].Name == name {
			return &d.Tables[i]
		}
	}
	return nil
}

// Normalize sorts the description into canonical order: tables by name,
// columns by ordinal, foreign keys and indexes by name. Primary-key column
// order is structural and left untouched. Inspect returns descriptions
// already normalized; call this after building one by hand.
func (d *SchemaDescription) Normalize() {
	sort.Slice(d.Tables, func(i, j int) bool { return d.Tables[i].Name < d.Tables[j].Name })
	for i := range d.Tables {
		t := &d.Tables[i]
		sort.Slice(t.Columns, func(a, b int) bool {
			if t.Columns[a].Ordinal != t.Columns[b].Ordinal {
				return t.Columns[a].Ordinal < t.Columns[b].Ordinal
			}
			return t.Columns[a].Name < t.Columns[b].Name
		})
		sort.Slice(t.ForeignKeys, func(a, b int) bool { return t.ForeignKeys[a].Name < t.ForeignKeys[b].Name })
		sort.Slice(t.Indexes, func(a, b int) bool { return t.Indexes[a].Name < t.Indexes[b].Name })
	}
}

// Fingerprint hashes the structural content of the description (xxhash64,
// hex-encoded). Two reflections of an unchanged schema produce the same
// fingerprint regardless of construction order; row estimates are excluded
// so the fingerprint only moves on structural drift.
func (d *SchemaDescription) Fingerprint() string {
	clone := *d
	clone.Tables = append([]Table(nil), d.Tables...)
	for i := range clone.Tables {
		t := &clone.Tables[i]
		t.Columns = append([]Column(nil), t.Columns...)
		t.ForeignKeys = append([]ForeignKey(nil), t.ForeignKeys...)
		t.Indexes = append([]Index(nil), t.Indexes...)
	}
	clone.Normalize()

	h := xxhash.New()
	field := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.WriteString(p)
			_, _ = h.WriteString("\x1f")
		}
		_, _ = h.WriteString("\n")
	}

	field("database", clone.Database)
	field("schema", clone.Schema)
	for _, t := range clone.Tables {
		field("table", t.Name)
		for _, c := range t.Columns {
			def := ""
			if c.Default != nil {
				def = *c.Default
			}
			field("column", c.Name, c.DataType, strconv.FormatBool(c.Nullable), def,
				strconv.Itoa(c.Ordinal), strconv.FormatBool(c.Primary))
		}
		field(append([]string{"pk"}, t.PrimaryKey...)...)
		for _, fk := range t.ForeignKeys {
			parts := []string{"fk", fk.Name, fk.RefSchema, fk.RefTable}
			parts = append(parts, fk.Columns...)
			parts = append(parts, fk.RefColumns...)
			field(parts...)
		}
		for _, idx := range t.Indexes {
			field("index", idx.Name, idx.Definition)
		}
	}

	return fmt.Sprintf("%016x", h.Sum64())
}
