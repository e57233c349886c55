// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/autobrr/tenantkit/internal/bindings"
	"github.com/autobrr/tenantkit/internal/session"
)

var (
	// ErrNoTenant means the context carries no tenant id.
	ErrNoTenant = errors.New("no tenant in context")

	// ErrNoDatabase means the context carries no database name and the
	// provider has no default.
	ErrNoDatabase = errors.New("no database in context")

	// ErrBindingNotFound marks a table resolution miss surfaced at the
	// provider layer.
	ErrBindingNotFound = errors.New("binding not found")
)

// BindingSource is the slice of the binding cache the provider needs.
type BindingSource interface {
	Get(ctx context.Context, database, tenant, schema string, rawDB bool) (*bindings.Handle, error)
	Resolve(ctx context.Context, database, tenant, schema, table string, rawDB bool) (*bindings.TableBinding, bool, error)
}

// SessionSource is the slice of the session factory the provider needs.
type SessionSource interface {
	Open(ctx context.Context, database string, opts ...session.Option) (*session.Session, error)
}

// Provider bundles the binding cache and session factory behind
// request-scoped lookups.
type Provider struct {
	bindings BindingSource
	sessions SessionSource

	// defaultDatabase serves requests whose context names no database.
	defaultDatabase string
}

func NewProvider(bindings BindingSource, sessions SessionSource, defaultDatabase string) *Provider {
	return &Provider{
		bindings:        bindings,
		sessions:        sessions,
		defaultDatabase: defaultDatabase,
	}
}

func (p *Provider) database(ctx context.Context) (string, error) {
	if database, ok := DatabaseFromContext(ctx); ok {
		return database, nil
	}
	if p.defaultDatabase != "" {
		return p.defaultDatabase, nil
	}
	return "", ErrNoDatabase
}

// BindingFromContext resolves the context's (tenant, schema) to a binding
// handle, generating its artifact on first use.
func (p *Provider) BindingFromContext(ctx context.Context) (*bindings.Handle, error) {
	tenant, ok := TenantFromContext(ctx)
	if !ok {
		return nil, ErrNoTenant
	}

	database, err := p.database(ctx)
	if err != nil {
		return nil, err
	}

	schema, _ := SchemaFromContext(ctx)

	return p.bindings.Get(ctx, database, tenant, schema, false)
}

// ResolveTable maps a table name through the context's binding. A miss
// returns ErrBindingNotFound carrying the table name.
func (p *Provider) ResolveTable(ctx context.Context, table string) (*bindings.TableBinding, error) {
	tenant, ok := TenantFromContext(ctx)
	if !ok {
		return nil, ErrNoTenant
	}

	database, err := p.database(ctx)
	if err != nil {
		return nil, err
	}

	schema, _ := SchemaFromContext(ctx)

	b, ok, err := p.bindings.Resolve(ctx, database, tenant, schema, table, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBindingNotFound, table)
	}
	return b, nil
}

// SessionFromContext opens a session for the context's tenant.
func (p *Provider) SessionFromContext(ctx context.Context) (*session.Session, error) {
	tenant, ok := TenantFromContext(ctx)
	if !ok {
		return nil, ErrNoTenant
	}

	database, err := p.database(ctx)
	if err != nil {
		return nil, err
	}

	return p.sessions.Open(ctx, database, session.WithTenant(tenant))
}
