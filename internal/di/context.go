// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package di resolves request contexts to tenant-scoped resources. A web
// layer injects tenant, schema, and database into the request context; the
// provider turns them into binding handles and sessions.
package di

import "context"

type contextKey string

const (
	tenantKey   contextKey = "tenantkit_tenant"
	schemaKey   contextKey = "tenantkit_schema"
	databaseKey contextKey = "tenantkit_database"
)

// WithTenant returns a context carrying the tenant id.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// WithSchema returns a context carrying the schema name.
func WithSchema(ctx context.Context, schema string) context.Context {
	return context.WithValue(ctx, schemaKey, schema)
}

// WithDatabase returns a context carrying the raw database name.
func WithDatabase(ctx context.Context, database string) context.Context {
	return context.WithValue(ctx, databaseKey, database)
}

// TenantFromContext extracts the tenant id, reporting whether one is set.
func TenantFromContext(ctx context.Context) (string, bool) {
	tenant, ok := ctx.Value(tenantKey).(string)
	return tenant, ok && tenant != ""
}

// SchemaFromContext extracts the schema name, reporting whether one is set.
func SchemaFromContext(ctx context.Context) (string, bool) {
	schema, ok := ctx.Value(schemaKey).(string)
	return schema, ok && schema != ""
}

// DatabaseFromContext extracts the raw database name, reporting whether one
// is set.
func DatabaseFromContext(ctx context.Context) (string, bool) {
	database, ok := ctx.Value(databaseKey).(string)
	return database, ok && database != ""
}
