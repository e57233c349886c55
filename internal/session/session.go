// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package session builds units of work on top of cached engines. A session
// borrows its engine from the cache and optionally wraps statement execution
// in a bounded retry policy for transient failures. Integrity violations
// never retry: replaying a constraint error cannot succeed and may hide a
// real bug.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tenantkit/internal/engine"
	"github.com/autobrr/tenantkit/internal/introspect"
)

const (
	defaultRetryAttempts = 3
	defaultRetryInterval = 100 * time.Millisecond

	statementJitter = 50 * time.Millisecond
)

// EngineProvider is the slice of the engine cache the factory needs.
type EngineProvider interface {
	Get(ctx context.Context, database, tenant string, meta *introspect.SchemaDescription) (engine.Engine, error)
}

// Options configures the factory-wide retry policy.
type Options struct {
	// RetryQuery wraps statement execution in the retry policy for every
	// session. Individual opens may override it.
	RetryQuery bool

	// RetryAttempts bounds total execution attempts per statement.
	RetryAttempts uint

	// RetryInterval is the base delay between attempts.
	RetryInterval time.Duration
}

// Factory opens sessions bound to cached engines.
type Factory struct {
	engines EngineProvider
	opts    Options
}

func NewFactory(engines EngineProvider, opts Options) *Factory {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	return &Factory{engines: engines, opts: opts}
}

type sessionConfig struct {
	tenant string
	meta   *introspect.SchemaDescription
	retry  *bool
}

// Option adjusts a single Open call.
type Option func(*sessionConfig)

// WithTenant scopes the session's engine to a tenant.
func WithTenant(tenant string) Option {
	return func(cfg *sessionConfig) {
		cfg.tenant = tenant
	}
}

// WithMetadata passes a schema description through to engine creation, where
// it seeds default tables for identities created by this call.
func WithMetadata(meta *introspect.SchemaDescription) Option {
	return func(cfg *sessionConfig) {
		cfg.meta = meta
	}
}

// WithRetry enables statement retry for this session regardless of the
// factory default.
func WithRetry() Option {
	return func(cfg *sessionConfig) {
		on := true
		cfg.retry = &on
	}
}

// WithoutRetry disables statement retry for this session regardless of the
// factory default.
func WithoutRetry() Option {
	return func(cfg *sessionConfig) {
		off := false
		cfg.retry = &off
	}
}

// Open obtains the engine for (database, tenant) through the cache and binds
// a new session to it. Engine creation side effects (bootstrap, hooks) apply
// on first use of an identity, exactly as with a direct cache lookup.
func (f *Factory) Open(ctx context.Context, database string, opts ...Option) (*Session, error) {
	var cfg sessionConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	eng, err := f.engines.Get(ctx, database, cfg.tenant, cfg.meta)
	if err != nil {
		return nil, err
	}

	retrying := f.opts.RetryQuery
	if cfg.retry != nil {
		retrying = *cfg.retry
	}

	recordSessionOpened()
	log.Debug().
		Str("identity", eng.Identity().String()).
		Bool("retrying", retrying).
		Msg("Session opened")

	return &Session{
		eng:      eng,
		retrying: retrying,
		attempts: f.opts.RetryAttempts,
		delay:    f.opts.RetryInterval,
	}, nil
}

// Session is a unit of work over one engine. It holds no connection of its
// own; each statement acquires and releases through the engine's strategy.
type Session struct {
	eng      engine.Engine
	retrying bool
	attempts uint
	delay    time.Duration
}

// Engine exposes the underlying engine. It belongs to the cache; callers
// must not close it.
func (s *Session) Engine() engine.Engine {
	return s.eng
}

// Retrying reports whether statement retry is active for this session.
func (s *Session) Retrying() bool {
	return s.retrying
}

func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if !s.retrying {
		return s.eng.Exec(ctx, sql, args...)
	}

	var tag pgconn.CommandTag
	err := s.do(ctx, func() error {
		var execErr error
		tag, execErr = s.eng.Exec(ctx, sql, args...)
		return classifyStatementError(execErr)
	})
	return tag, err
}

// Query retries only statement initiation; once rows are streaming, a
// failure surfaces through rows.Err and is the caller's to handle.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if !s.retrying {
		return s.eng.Query(ctx, sql, args...)
	}

	var rows pgx.Rows
	err := s.do(ctx, func() error {
		var queryErr error
		rows, queryErr = s.eng.Query(ctx, sql, args...)
		return classifyStatementError(queryErr)
	})
	return rows, err
}

// QueryRow defers execution to Scan, so with retry active the whole
// issue-and-scan runs under the policy.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if !s.retrying {
		return s.eng.QueryRow(ctx, sql, args...)
	}
	return &retryRow{s: s, ctx: ctx, sql: sql, args: args}
}

// Begin opens an explicit transaction on the engine. Statements inside it
// are never individually retried: replaying part of a transaction would
// reapply side effects the server already saw.
func (s *Session) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.eng.Begin(ctx)
}

// Close releases the session. The engine stays open; disposal is the
// cache's responsibility.
func (s *Session) Close() {}

func (s *Session) do(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		retry.MaxJitter(statementJitter),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			recordStatementRetry()
			log.Debug().
				Err(err).
				Uint("attempt", attempt+1).
				Str("identity", s.eng.Identity().String()).
				Msg("Retrying statement")
		}),
	)
}

type retryRow struct {
	s    *Session
	ctx  context.Context
	sql  string
	args []any
}

func (r *retryRow) Scan(dest ...any) error {
	return r.s.do(r.ctx, func() error {
		err := r.s.eng.QueryRow(r.ctx, r.sql, r.args...).Scan(dest...)
		return classifyStatementError(err)
	})
}

// classifyStatementError decides whether a failed statement may be retried.
// Serialization failures, deadlocks, connection drops and timeouts are
// transient; integrity violations and everything else are terminal.
func classifyStatementError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return retry.Unrecoverable(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			// integrity_constraint_violation class
			return retry.Unrecoverable(err)
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			// serialization_failure, deadlock_detected
			return err
		case strings.HasPrefix(pgErr.Code, "08"):
			// connection_exception class
			return err
		default:
			return retry.Unrecoverable(err)
		}
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return err
	}

	return retry.Unrecoverable(err)
}
