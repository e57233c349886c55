// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-version"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tenantkit/internal/tenancy"
)

// SQLSTATE codes the bootstrapper classifies on.
const (
	codeDuplicateDatabase     = "42P04"
	codeInvalidAuthorization  = "28000"
	codeInvalidPassword       = "28P01"
	codeInsufficientPrivilege = "42501"
)

// ConnectError means the bootstrap gave up on an identity: either the retry
// budget ran out or a permanent failure (bad credentials, missing privilege,
// too-old server) made further attempts pointless.
type ConnectError struct {
	Identity tenancy.Identity
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to database %q after %d attempt(s): %v", e.Identity.Qualified(), e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// maintenanceConn is the slice of *pgx.Conn the bootstrapper needs from the
// maintenance database, as an interface so tests can stand in for a live
// server.
type maintenanceConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

type maintenanceDialer func(ctx context.Context, connString string) (maintenanceConn, error)

func dialMaintenance(ctx context.Context, connString string) (maintenanceConn, error) {
	return pgx.Connect(ctx, connString)
}

// Bootstrapper makes a database identity exist and answer before its engine
// is handed out: create the database if the server doesn't have it, probe
// liveness, and retry transient failures up to the configured bound.
// Permanent failures stop immediately instead of burning the budget.
type Bootstrapper struct {
	opts Options
	dial maintenanceDialer
}

func NewBootstrapper(opts Options) *Bootstrapper {
	return &Bootstrapper{opts: opts, dial: dialMaintenance}
}

// EnsureReachable runs the bootstrap sequence against a freshly constructed
// engine. First success wins; exhausting the retry bound or hitting a
// permanent failure returns a ConnectError.
func (b *Bootstrapper) EnsureReachable(ctx context.Context, eng Engine) error {
	identity := eng.Identity()

	attempts := b.opts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var tried int
	err := retry.Do(func() error {
		tried++

		if err := b.ensureDatabaseExists(ctx, identity); err != nil {
			return classifyBootstrapError(err)
		}

		if err := eng.Ping(ctx); err != nil {
			return classifyBootstrapError(err)
		}

		if b.opts.MinServerVersion != "" {
			if err := b.checkServerVersion(ctx, eng); err != nil {
				return err
			}
		}

		return nil
	},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(b.opts.RetryInterval),
		retry.DelayType(retry.CombineDelay(retry.FixedDelay, retry.RandomDelay)),
		retry.MaxJitter(250*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			recordBootstrapRetry()
			log.Warn().
				Err(err).
				Uint("attempt", n+1).
				Str("identity", identity.Qualified()).
				Msg("Database not reachable yet, retrying")
		}),
	)
	if err != nil {
		recordBootstrapFailure()
		return &ConnectError{Identity: identity, Attempts: tried, Err: err}
	}

	log.Debug().
		Str("identity", identity.Qualified()).
		Int("attempts", tried).
		Msg("Database reachable")

	return nil
}

// ensureDatabaseExists checks the server catalog through the maintenance
// database and issues CREATE DATABASE when the target is missing. Losing a
// creation race to another process counts as success.
func (b *Bootstrapper) ensureDatabaseExists(ctx context.Context, identity tenancy.Identity) error {
	conn, err := b.dial(ctx, b.opts.MaintenanceConnString())
	if err != nil {
		return fmt.Errorf("failed to connect to maintenance database: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", identity.Qualified()).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check for database %q: %w", identity.Qualified(), err)
	}
	if exists {
		return nil
	}

	log.Info().Str("database", identity.Qualified()).Msg("Creating missing database")

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{identity.Qualified()}.Sanitize()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeDuplicateDatabase {
			return nil
		}
		return fmt.Errorf("failed to create database %q: %w", identity.Qualified(), err)
	}

	return nil
}

// checkServerVersion enforces the configured minimum server version. A
// too-old server can't become newer by retrying, so violations are
// unrecoverable.
func (b *Bootstrapper) checkServerVersion(ctx context.Context, eng Engine) error {
	minimum, err := version.NewVersion(b.opts.MinServerVersion)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("invalid minServerVersion %q: %w", b.opts.MinServerVersion, err))
	}

	var raw string
	if err := eng.QueryRow(ctx, "SHOW server_version").Scan(&raw); err != nil {
		return fmt.Errorf("failed to read server version: %w", err)
	}

	// Servers report strings like "16.4 (Debian 16.4-1.pgdg120+1)"; the
	// leading token is the comparable part.
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return fmt.Errorf("server reported empty version")
	}

	current, err := version.NewVersion(fields[0])
	if err != nil {
		return fmt.Errorf("failed to parse server version %q: %w", raw, err)
	}

	if current.LessThan(minimum) {
		return retry.Unrecoverable(fmt.Errorf("server version %s is below required minimum %s", current, minimum))
	}

	return nil
}

// classifyBootstrapError tags failures that retrying cannot fix. Bad
// credentials and missing privileges stop the loop immediately; everything
// else is assumed transient and stays retryable.
func classifyBootstrapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeInvalidAuthorization, codeInvalidPassword:
			return retry.Unrecoverable(fmt.Errorf("authentication failed: %w", err))
		case codeInsufficientPrivilege:
			return retry.Unrecoverable(err)
		}
	}
	return err
}
