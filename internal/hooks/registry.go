// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hooks keeps a process-wide table of postcreate actions that run
// exactly once against a database, right after its pool is first created.
//
// Actions are registered against raw database names (un-tenant-qualified);
// the engine cache triggers a run per fully-qualified identity, so a hook
// registered for "billing" runs once for every tenant's billing database.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tenantkit/internal/dbinterface"
)

// AutoHook returns SQL statements to run inside the postcreate transaction.
// A nil or empty slice is allowed and means the hook has nothing to do for
// this tenant. Statements execute in the order returned.
type AutoHook func(ctx context.Context, tenant string) ([]string, error)

// ManualHook receives the open postcreate transaction and the tenant id and
// may issue arbitrary statements on it. The registry owns commit and
// rollback; manual hooks must not call either.
type ManualHook func(ctx context.Context, tx pgx.Tx, tenant string) error

// HookError reports which registered action aborted a postcreate run.
type HookError struct {
	Database string
	Kind     string // "auto" or "manual"
	Index    int    // position in registration order
	Err      error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("postcreate %s hook %d for database %q failed: %v", e.Kind, e.Index, e.Database, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// Registry is a concurrency-safe table of postcreate hooks keyed by raw
// database name. Registration typically happens during package init or
// application wiring, before any engine is created, but late registration
// is safe: it only affects identities created afterwards.
type Registry struct {
	mu      sync.RWMutex
	autos   map[string][]AutoHook
	manuals map[string][]ManualHook
}

func NewRegistry() *Registry {
	return &Registry{
		autos:   make(map[string][]AutoHook),
		manuals: make(map[string][]ManualHook),
	}
}

// RegisterAuto appends hook to the auto table of every given raw database
// name. Auto hooks run first, in registration order, all inside one
// transaction.
func (r *Registry) RegisterAuto(hook AutoHook, databases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, db := range databases {
		r.autos[db] = append(r.autos[db], hook)
	}
}

// RegisterManual appends hook to the manual table of every given raw
// database name. Manual hooks run after all auto hooks, in registration
// order, on the same transaction.
func (r *Registry) RegisterManual(hook ManualHook, databases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, db := range databases {
		r.manuals[db] = append(r.manuals[db], hook)
	}
}

// Count reports how many auto and manual hooks are registered for a raw
// database name.
func (r *Registry) Count(database string) (autos, manuals int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.autos[database]), len(r.manuals[database])
}

// Run executes every hook registered for rawDatabase inside a single
// transaction: autos in registration order, then manuals, one commit at the
// end. Any failure rolls the whole transaction back, so either every hook's
// effects persist or none do. A database with no registered hooks is a
// no-op and opens no transaction.
func (r *Registry) Run(ctx context.Context, db dbinterface.TxBeginner, rawDatabase, tenant string) error {
	r.mu.RLock()
	autos := make([]AutoHook, len(r.autos[rawDatabase]))
	copy(autos, r.autos[rawDatabase])
	manuals := make([]ManualHook, len(r.manuals[rawDatabase]))
	copy(manuals, r.manuals[rawDatabase])
	r.mu.RUnlock()

	if len(autos) == 0 && len(manuals) == 0 {
		return nil
	}

	if err := r.run(ctx, db, rawDatabase, tenant, autos, manuals); err != nil {
		recordRunFailed()
		return err
	}

	recordRunCompleted()

	return nil
}

func (r *Registry) run(ctx context.Context, db dbinterface.TxBeginner, rawDatabase, tenant string, autos []AutoHook, manuals []ManualHook) error {
	log.Debug().
		Str("database", rawDatabase).
		Str("tenant", tenant).
		Int("autoHooks", len(autos)).
		Int("manualHooks", len(manuals)).
		Msg("Running postcreate hooks")

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin postcreate transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, hook := range autos {
		statements, err := hook(ctx, tenant)
		if err != nil {
			return &HookError{Database: rawDatabase, Kind: "auto", Index: i, Err: err}
		}

		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return &HookError{Database: rawDatabase, Kind: "auto", Index: i, Err: err}
			}
		}
	}

	for i, hook := range manuals {
		if err := hook(ctx, tx, tenant); err != nil {
			return &HookError{Database: rawDatabase, Kind: "manual", Index: i, Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit postcreate transaction: %w", err)
	}

	log.Debug().
		Str("database", rawDatabase).
		Str("tenant", tenant).
		Msg("Postcreate hooks committed")

	return nil
}
