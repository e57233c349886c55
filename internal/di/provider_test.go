// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package di

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/tenantkit/internal/artifact"
	"github.com/autobrr/tenantkit/internal/bindings"
	"github.com/autobrr/tenantkit/internal/dbinterface"
	"github.com/autobrr/tenantkit/internal/engine"
	"github.com/autobrr/tenantkit/internal/introspect"
	"github.com/autobrr/tenantkit/internal/schemagen"
	"github.com/autobrr/tenantkit/internal/session"
	"github.com/autobrr/tenantkit/internal/tenancy"
)

func TestMain(m *testing.M) {
	log.Logger = log.Output(io.Discard)
	os.Exit(m.Run())
}

type stubEngine struct {
	identity tenancy.Identity
}

var _ engine.Engine = (*stubEngine)(nil)

func (e *stubEngine) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (e *stubEngine) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (e *stubEngine) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (e *stubEngine) Begin(context.Context) (pgx.Tx, error) {
	return nil, pgx.ErrTxClosed
}

func (e *stubEngine) Identity() tenancy.Identity { return e.identity }
func (e *stubEngine) Pooled() bool               { return false }
func (e *stubEngine) Ping(context.Context) error { return nil }
func (e *stubEngine) Stats() engine.Stats        { return engine.Stats{} }
func (e *stubEngine) Close()                     {}

type stubProvider struct{}

func (stubProvider) Get(_ context.Context, database, tenant string, _ *introspect.SchemaDescription) (engine.Engine, error) {
	identity, err := tenancy.NewIdentity(database, tenant)
	if err != nil {
		return nil, err
	}
	return &stubEngine{identity: identity}, nil
}

type staticInspector struct{}

func (staticInspector) Inspect(_ context.Context, _ dbinterface.Querier, schema string) (*introspect.SchemaDescription, error) {
	return &introspect.SchemaDescription{
		Database: "billing",
		Schema:   schema,
		Tables: []introspect.Table{
			{
				Name: "user_profile",
				Columns: []introspect.Column{
					{Name: "id", DataType: "bigint", Ordinal: 1, Primary: true},
				},
				PrimaryKey: []string{"id"},
			},
		},
	}, nil
}

func (staticInspector) ListSchemas(context.Context, dbinterface.Querier) ([]string, error) {
	return []string{"public"}, nil
}

func newBindingCache(t *testing.T) *bindings.Cache {
	t.Helper()
	store := artifact.NewStore(t.TempDir(), artifact.CodecNone)
	return bindings.NewCache(store, schemagen.NewJSONGenerator(), stubProvider{}, bindings.CacheOptions{
		Inspector: staticInspector{},
	})
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	return NewProvider(newBindingCache(t), session.NewFactory(stubProvider{}, session.Options{}), "billing")
}

func TestContextInjection(t *testing.T) {
	ctx := t.Context()

	_, ok := TenantFromContext(ctx)
	require.False(t, ok)
	_, ok = SchemaFromContext(ctx)
	require.False(t, ok)
	_, ok = DatabaseFromContext(ctx)
	require.False(t, ok)

	ctx = WithTenant(ctx, "acme")
	ctx = WithSchema(ctx, "audit")
	ctx = WithDatabase(ctx, "billing")

	tenant, ok := TenantFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "acme", tenant)

	schema, ok := SchemaFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "audit", schema)

	database, ok := DatabaseFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "billing", database)

	// empty values read back as absent
	_, ok = TenantFromContext(WithTenant(t.Context(), ""))
	require.False(t, ok)
}

func TestBindingFromContext(t *testing.T) {
	p := newTestProvider(t)

	ctx := WithTenant(t.Context(), "acme")
	h, err := p.BindingFromContext(ctx)
	require.NoError(t, err)
	require.Equal(t, bindings.StateLoaded, h.State())
	require.Equal(t, "acme", h.Key().Tenant)
	require.Equal(t, "public", h.Key().Schema)

	h2, err := p.BindingFromContext(WithSchema(ctx, "audit"))
	require.NoError(t, err)
	require.Equal(t, "audit", h2.Key().Schema)
}

func TestBindingFromContextRequiresTenant(t *testing.T) {
	p := newTestProvider(t)

	_, err := p.BindingFromContext(t.Context())
	require.ErrorIs(t, err, ErrNoTenant)
}

func TestProviderDatabaseFallback(t *testing.T) {
	p := NewProvider(newBindingCache(t), session.NewFactory(stubProvider{}, session.Options{}), "")

	_, err := p.BindingFromContext(WithTenant(t.Context(), "acme"))
	require.ErrorIs(t, err, ErrNoDatabase)

	ctx := WithDatabase(WithTenant(t.Context(), "acme"), "inventory")
	h, err := p.BindingFromContext(ctx)
	require.NoError(t, err)
	require.Equal(t, "inventory", h.Key().Database)
}

func TestResolveTable(t *testing.T) {
	p := newTestProvider(t)
	ctx := WithTenant(t.Context(), "acme")

	b, err := p.ResolveTable(ctx, "user_profile")
	require.NoError(t, err)
	require.Equal(t, "user_profile", b.Table)
	require.Equal(t, "UserProfile", b.Exposed)

	_, err = p.ResolveTable(ctx, "no_such_table")
	require.ErrorIs(t, err, ErrBindingNotFound)
	require.ErrorContains(t, err, "no_such_table")
}

func TestSessionFromContext(t *testing.T) {
	p := newTestProvider(t)

	s, err := p.SessionFromContext(WithTenant(t.Context(), "acme"))
	require.NoError(t, err)
	require.Equal(t, "acme__billing", s.Engine().Identity().String())

	_, err = p.SessionFromContext(t.Context())
	require.ErrorIs(t, err, ErrNoTenant)
}
