// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package engine owns the per-identity connection engines: their
// construction, the retry-connect bootstrap that makes a database exist and
// answer, and the process-wide cache that hands the same engine back to
// every caller of the same identity.
package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tenantkit/internal/dbinterface"
	"github.com/autobrr/tenantkit/internal/tenancy"
	"github.com/autobrr/tenantkit/pkg/redact"
)

// Stats is a point-in-time view of an engine's pool, in the shape the
// metrics collector wants. Unpooled engines report zeros.
type Stats struct {
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	MaxConns      int32
}

// Engine is one identity's handle to the cluster. Both strategies satisfy
// dbinterface.TxQuerier, so hook execution, schema reflection and sessions
// run the same against either. Engines returned by the cache are shared:
// callers must never Close them, the cache does that at teardown.
type Engine interface {
	dbinterface.TxQuerier

	Identity() tenancy.Identity
	Pooled() bool
	Ping(ctx context.Context) error
	Stats() Stats
	Close()
}

// Factory constructs an engine for an identity. The cache uses New; tests
// substitute their own.
type Factory func(ctx context.Context, identity tenancy.Identity, opts Options) (Engine, error)

// New builds an engine for the identity using the pooling strategy selected
// in opts. The engine is not probed here; the Bootstrapper owns that.
func New(ctx context.Context, identity tenancy.Identity, opts Options) (Engine, error) {
	connString := opts.ConnString(identity.Qualified())

	log.Debug().
		Str("identity", identity.Qualified()).
		Str("conninfo", redact.DSN(connString)).
		Bool("pooled", opts.Pool.Enabled).
		Msg("Building engine")

	if opts.Pool.Enabled {
		cfg, err := pgxpool.ParseConfig(connString)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pool config for %q: %w", identity.Qualified(), err)
		}

		cfg.MaxConns = opts.Pool.MaxConns
		cfg.MinConns = opts.Pool.MinConns
		cfg.MaxConnLifetime = opts.Pool.MaxConnLifetime
		cfg.MaxConnIdleTime = opts.Pool.MaxConnIdleTime
		cfg.HealthCheckPeriod = opts.Pool.HealthCheckPeriod

		if opts.Pool.PrePing {
			cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
				return conn.Ping(ctx) == nil
			}
		}

		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool for %q: %w", identity.Qualified(), err)
		}

		return &pooledEngine{identity: identity, pool: pool}, nil
	}

	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config for %q: %w", identity.Qualified(), err)
	}

	return &unpooledEngine{identity: identity, cfg: cfg}, nil
}

// pooledEngine wraps a pgxpool.Pool. Connections are bounded, health-checked
// and recycled per PoolOptions.
type pooledEngine struct {
	identity tenancy.Identity
	pool     *pgxpool.Pool
}

func (e *pooledEngine) Identity() tenancy.Identity { return e.identity }
func (e *pooledEngine) Pooled() bool               { return true }

func (e *pooledEngine) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return e.pool.Exec(ctx, sql, args...)
}

func (e *pooledEngine) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return e.pool.Query(ctx, sql, args...)
}

func (e *pooledEngine) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return e.pool.QueryRow(ctx, sql, args...)
}

func (e *pooledEngine) Begin(ctx context.Context) (pgx.Tx, error) {
	return e.pool.Begin(ctx)
}

func (e *pooledEngine) Ping(ctx context.Context) error {
	return e.pool.Ping(ctx)
}

func (e *pooledEngine) Stats() Stats {
	s := e.pool.Stat()
	return Stats{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
	}
}

func (e *pooledEngine) Close() {
	e.pool.Close()
	log.Debug().Str("identity", e.identity.Qualified()).Msg("Closed pooled engine")
}

// unpooledEngine opens a fresh connection per operation and closes it when
// the operation's results are consumed. This is the no-reuse strategy for
// short-lived or untrusted tenants.
type unpooledEngine struct {
	identity tenancy.Identity
	cfg      *pgx.ConnConfig
}

func (e *unpooledEngine) Identity() tenancy.Identity { return e.identity }
func (e *unpooledEngine) Pooled() bool               { return false }

func (e *unpooledEngine) dial(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %q: %w", e.identity.Qualified(), err)
	}
	return conn, nil
}

func (e *unpooledEngine) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	conn, err := e.dial(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer conn.Close(ctx)

	return conn.Exec(ctx, sql, args...)
}

func (e *unpooledEngine) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	conn, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}

	return &connClosingRows{Rows: rows, conn: conn}, nil
}

func (e *unpooledEngine) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	conn, err := e.dial(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return &connClosingRow{row: conn.QueryRow(ctx, sql, args...), conn: conn}
}

func (e *unpooledEngine) Begin(ctx context.Context) (pgx.Tx, error) {
	conn, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}

	return &connClosingTx{Tx: tx, conn: conn}, nil
}

func (e *unpooledEngine) Ping(ctx context.Context) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	return conn.Ping(ctx)
}

func (e *unpooledEngine) Stats() Stats { return Stats{} }

// Close is a no-op: unpooled engines hold no connections between
// operations.
func (e *unpooledEngine) Close() {}

// connClosingRows closes the one-shot connection together with the result
// set.
type connClosingRows struct {
	pgx.Rows
	conn *pgx.Conn
}

func (r *connClosingRows) Close() {
	r.Rows.Close()
	r.conn.Close(context.Background())
}

// connClosingRow closes the one-shot connection once the row is scanned.
type connClosingRow struct {
	row  pgx.Row
	conn *pgx.Conn
}

func (r *connClosingRow) Scan(dest ...any) error {
	defer r.conn.Close(context.Background())
	return r.row.Scan(dest...)
}

// errRow defers a dial failure until Scan, matching pgx.Row semantics.
type errRow struct {
	err error
}

func (r errRow) Scan(dest ...any) error { return r.err }

// connClosingTx closes the one-shot connection when the transaction ends,
// whichever way it ends.
type connClosingTx struct {
	pgx.Tx
	conn *pgx.Conn
}

func (t *connClosingTx) Commit(ctx context.Context) error {
	err := t.Tx.Commit(ctx)
	t.conn.Close(ctx)
	return err
}

func (t *connClosingTx) Rollback(ctx context.Context) error {
	err := t.Tx.Rollback(ctx)
	t.conn.Close(ctx)
	return err
}
