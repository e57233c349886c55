// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package introspect

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tenantkit/internal/dbinterface"
)

// ReflectionError reports a failed schema reflection. Missing optional
// tooling is not a ReflectionError; this type marks definite failures.
type ReflectionError struct {
	Schema string
	Err    error
}

func (e *ReflectionError) Error() string {
	return fmt.Sprintf("reflect schema %q: %v", e.Schema, e.Err)
}

func (e *ReflectionError) Unwrap() error {
	return e.Err
}

// Inspector reflects schema structure through a live connection.
type Inspector interface {
	Inspect(ctx context.Context, q dbinterface.Querier, schema string) (*SchemaDescription, error)
	ListSchemas(ctx context.Context, q dbinterface.Querier) ([]string, error)
}

const (
	queryCurrentDatabase = `SELECT current_database()`

	queryListSchemas = `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
		  AND schema_name NOT LIKE 'pg_toast%'
		  AND schema_name NOT LIKE 'pg_temp%'
		ORDER BY schema_name`

	queryListTables = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	queryGetColumns = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable,
			c.column_default,
			c.ordinal_position,
			COALESCE(pk.is_primary, false) AS is_primary
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name, true AS is_primary
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
			WHERE tc.table_schema = $1
			  AND tc.table_name = $2
			  AND tc.constraint_type = 'PRIMARY KEY'
		) pk ON c.column_name = pk.column_name
		WHERE c.table_schema = $1
		  AND c.table_name = $2
		ORDER BY c.ordinal_position`

	queryPrimaryKey = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = $1
		  AND tc.table_name = $2
		  AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position`

	queryForeignKeys = `
		SELECT
			tc.constraint_name,
			kcu.column_name,
			ccu.table_schema,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.table_schema = $1
		  AND tc.table_name = $2
		  AND tc.constraint_type = 'FOREIGN KEY'
		ORDER BY tc.constraint_name, kcu.ordinal_position`

	queryIndexes = `
		SELECT indexname, indexdef
		FROM pg_indexes
		WHERE schemaname = $1
		  AND tablename = $2
		ORDER BY indexname`

	queryEstimateRows = `
		SELECT COALESCE(c.reltuples::bigint, 0)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
		  AND c.relname = $2`
)

// PGInspector reflects schemas via information_schema and pg_catalog.
type PGInspector struct{}

func NewPGInspector() *PGInspector {
	return &PGInspector{}
}

// Inspect reflects every base table under schema into a normalized
// description. Failures return a *ReflectionError.
func (in *PGInspector) Inspect(ctx context.Context, q dbinterface.Querier, schema string) (*SchemaDescription, error) {
	desc := &SchemaDescription{Schema: schema}

	if err := q.QueryRow(ctx, queryCurrentDatabase).Scan(&desc.Database); err != nil {
		return nil, &ReflectionError{Schema: schema, Err: errors.Wrap(err, "resolve current database")}
	}

	tableNames, err := in.listTables(ctx, q, schema)
	if err != nil {
		return nil, &ReflectionError{Schema: schema, Err: err}
	}

	for _, name := range tableNames {
		table, err := in.describeTable(ctx, q, schema, name)
		if err != nil {
			return nil, &ReflectionError{Schema: schema, Err: err}
		}
		desc.Tables = append(desc.Tables, *table)
	}

	desc.Normalize()

	log.Debug().
		Str("database", desc.Database).
		Str("schema", schema).
		Int("tables", len(desc.Tables)).
		Str("fingerprint", desc.Fingerprint()).
		Msg("Schema reflected")

	return desc, nil
}

// ListSchemas returns user schemas, excluding system namespaces.
func (in *PGInspector) ListSchemas(ctx context.Context, q dbinterface.Querier) ([]string, error) {
	rows, err := q.Query(ctx, queryListSchemas)
	if err != nil {
		return nil, errors.Wrap(err, "list schemas")
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan schema name")
		}
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate schemas")
	}

	return schemas, nil
}

func (in *PGInspector) listTables(ctx context.Context, q dbinterface.Querier, schema string) ([]string, error) {
	rows, err := q.Query(ctx, queryListTables, schema)
	if err != nil {
		return nil, errors.Wrapf(err, "list tables in %q", schema)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan table name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate tables")
	}

	return names, nil
}

func (in *PGInspector) describeTable(ctx context.Context, q dbinterface.Querier, schema, table string) (*Table, error) {
	t := &Table{Name: table}

	if err := in.loadColumns(ctx, q, schema, t); err != nil {
		return nil, err
	}
	if err := in.loadPrimaryKey(ctx, q, schema, t); err != nil {
		return nil, err
	}
	if err := in.loadForeignKeys(ctx, q, schema, t); err != nil {
		return nil, err
	}
	if err := in.loadIndexes(ctx, q, schema, t); err != nil {
		return nil, err
	}

	// reltuples is an estimate maintained by autovacuum; good enough for
	// diagnostics, excluded from the fingerprint.
	if err := q.QueryRow(ctx, queryEstimateRows, schema, table).Scan(&t.EstimatedRows); err != nil {
		t.EstimatedRows = 0
	}

	return t, nil
}

func (in *PGInspector) loadColumns(ctx context.Context, q dbinterface.Querier, schema string, t *Table) error {
	rows, err := q.Query(ctx, queryGetColumns, schema, t.Name)
	if err != nil {
		return errors.Wrapf(err, "describe columns of %q", t.Name)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			col      Column
			nullable string
		)
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &col.Default, &col.Ordinal, &col.Primary); err != nil {
			return errors.Wrapf(err, "scan column of %q", t.Name)
		}
		col.Nullable = nullable == "YES"
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(err, "iterate columns of %q", t.Name)
	}

	return nil
}

func (in *PGInspector) loadPrimaryKey(ctx context.Context, q dbinterface.Querier, schema string, t *Table) error {
	rows, err := q.Query(ctx, queryPrimaryKey, schema, t.Name)
	if err != nil {
		return errors.Wrapf(err, "describe primary key of %q", t.Name)
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return errors.Wrapf(err, "scan primary key of %q", t.Name)
		}
		t.PrimaryKey = append(t.PrimaryKey, col)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(err, "iterate primary key of %q", t.Name)
	}

	return nil
}

func (in *PGInspector) loadForeignKeys(ctx context.Context, q dbinterface.Querier, schema string, t *Table) error {
	rows, err := q.Query(ctx, queryForeignKeys, schema, t.Name)
	if err != nil {
		return errors.Wrapf(err, "describe foreign keys of %q", t.Name)
	}
	defer rows.Close()

	// One row per referencing column; fold rows into one entry per
	// constraint, preserving column order.
	byName := make(map[string]*ForeignKey)
	var order []string
	for rows.Next() {
		var name, col, refSchema, refTable, refCol string
		if err := rows.Scan(&name, &col, &refSchema, &refTable, &refCol); err != nil {
			return errors.Wrapf(err, "scan foreign key of %q", t.Name)
		}
		fk, ok := byName[name]
		if !ok {
			fk = &ForeignKey{Name: name, RefSchema: refSchema, RefTable: refTable}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, col)
		fk.RefColumns = append(fk.RefColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(err, "iterate foreign keys of %q", t.Name)
	}

	for _, name := range order {
		t.ForeignKeys = append(t.ForeignKeys, *byName[name])
	}

	return nil
}

func (in *PGInspector) loadIndexes(ctx context.Context, q dbinterface.Querier, schema string, t *Table) error {
	rows, err := q.Query(ctx, queryIndexes, schema, t.Name)
	if err != nil {
		return errors.Wrapf(err, "describe indexes of %q", t.Name)
	}
	defer rows.Close()

	for rows.Next() {
		var idx Index
		if err := rows.Scan(&idx.Name, &idx.Definition); err != nil {
			return errors.Wrapf(err, "scan index of %q", t.Name)
		}
		t.Indexes = append(t.Indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(err, "iterate indexes of %q", t.Name)
	}

	return nil
}
