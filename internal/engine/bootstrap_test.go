// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/tenantkit/internal/tenancy"
)

func newBootstrapEngine(t *testing.T) *fakeEngine {
	t.Helper()
	identity, err := tenancy.NewIdentity("billing", "acme")
	require.NoError(t, err)
	return &fakeEngine{identity: identity}
}

func TestEnsureReachableCreatesMissingDatabase(t *testing.T) {
	conn := &fakeMaintConn{exists: false}

	b := NewBootstrapper(testOptions())
	b.dial = func(ctx context.Context, connString string) (maintenanceConn, error) {
		return conn, nil
	}

	eng := newBootstrapEngine(t)
	require.NoError(t, b.EnsureReachable(t.Context(), eng))

	require.Len(t, conn.execs, 1)
	assert.Equal(t, `CREATE DATABASE "acme__billing"`, conn.execs[0])
	assert.Equal(t, 1, eng.pings)
	assert.True(t, conn.closed)
}

func TestEnsureReachableSkipsExistingDatabase(t *testing.T) {
	conn := &fakeMaintConn{exists: true}

	b := NewBootstrapper(testOptions())
	b.dial = func(ctx context.Context, connString string) (maintenanceConn, error) {
		return conn, nil
	}

	require.NoError(t, b.EnsureReachable(t.Context(), newBootstrapEngine(t)))
	assert.Empty(t, conn.execs)
}

func TestEnsureReachableToleratesCreationRace(t *testing.T) {
	conn := &fakeMaintConn{
		exists:  false,
		execErr: &pgconn.PgError{Code: codeDuplicateDatabase, Message: "database already exists"},
	}

	b := NewBootstrapper(testOptions())
	b.dial = func(ctx context.Context, connString string) (maintenanceConn, error) {
		return conn, nil
	}

	require.NoError(t, b.EnsureReachable(t.Context(), newBootstrapEngine(t)))
}

func TestEnsureReachableRetriesTransientFailures(t *testing.T) {
	conn := &fakeMaintConn{exists: true}

	b := NewBootstrapper(testOptions())
	b.dial = func(ctx context.Context, connString string) (maintenanceConn, error) {
		return conn, nil
	}

	eng := newBootstrapEngine(t)
	eng.pingErrs = []error{errors.New("connection refused"), errors.New("connection refused")}

	require.NoError(t, b.EnsureReachable(t.Context(), eng))
	assert.Equal(t, 3, eng.pings)
}

func TestEnsureReachableExhaustsRetryBudget(t *testing.T) {
	conn := &fakeMaintConn{exists: true}

	opts := testOptions()
	opts.MaxRetries = 3

	b := NewBootstrapper(opts)
	b.dial = func(ctx context.Context, connString string) (maintenanceConn, error) {
		return conn, nil
	}

	eng := newBootstrapEngine(t)
	eng.pingErr = errors.New("connection refused")

	err := b.EnsureReachable(t.Context(), eng)
	require.Error(t, err)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.Equal(t, "acme__billing", connErr.Identity.Qualified())
	assert.Equal(t, 3, eng.pings)
}

func TestEnsureReachableStopsOnAuthFailure(t *testing.T) {
	conn := &fakeMaintConn{exists: true}

	opts := testOptions()
	opts.MaxRetries = 10

	b := NewBootstrapper(opts)
	b.dial = func(ctx context.Context, connString string) (maintenanceConn, error) {
		return conn, nil
	}

	eng := newBootstrapEngine(t)
	eng.pingErr = &pgconn.PgError{Code: codeInvalidPassword, Message: "password authentication failed"}

	err := b.EnsureReachable(t.Context(), eng)
	require.Error(t, err)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 1, connErr.Attempts, "auth failures must not burn the retry budget")
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestEnsureReachableStopsOnMissingPrivilege(t *testing.T) {
	conn := &fakeMaintConn{
		exists:  false,
		execErr: &pgconn.PgError{Code: codeInsufficientPrivilege, Message: "permission denied to create database"},
	}

	opts := testOptions()
	opts.MaxRetries = 10

	b := NewBootstrapper(opts)
	b.dial = func(ctx context.Context, connString string) (maintenanceConn, error) {
		return conn, nil
	}

	err := b.EnsureReachable(t.Context(), newBootstrapEngine(t))
	require.Error(t, err)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 1, connErr.Attempts)
}

func TestEnsureReachableRetriesMaintenanceDialFailure(t *testing.T) {
	conn := &fakeMaintConn{exists: true}

	var dials int
	b := NewBootstrapper(testOptions())
	b.dial = func(ctx context.Context, connString string) (maintenanceConn, error) {
		dials++
		if dials == 1 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}

	eng := newBootstrapEngine(t)
	require.NoError(t, b.EnsureReachable(t.Context(), eng))
	assert.Equal(t, 2, dials)
}

func TestEnsureReachableEnforcesMinServerVersion(t *testing.T) {
	conn := &fakeMaintConn{exists: true}

	opts := testOptions()
	opts.MaxRetries = 10
	opts.MinServerVersion = "14.0"

	b := NewBootstrapper(opts)
	b.dial = func(ctx context.Context, connString string) (maintenanceConn, error) {
		return conn, nil
	}

	t.Run("too old", func(t *testing.T) {
		eng := newBootstrapEngine(t)
		eng.serverVersion = "13.2 (Debian 13.2-1.pgdg100+1)"

		err := b.EnsureReachable(t.Context(), eng)
		require.Error(t, err)

		var connErr *ConnectError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, 1, connErr.Attempts, "version violations must not be retried")
		assert.Contains(t, err.Error(), "below required minimum")
	})

	t.Run("new enough", func(t *testing.T) {
		eng := newBootstrapEngine(t)
		eng.serverVersion = "16.4 (Debian 16.4-1.pgdg120+1)"

		require.NoError(t, b.EnsureReachable(t.Context(), eng))
	})
}

func TestConnectErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	identity, err := tenancy.NewIdentity("billing", "acme")
	require.NoError(t, err)

	connErr := &ConnectError{Identity: identity, Attempts: 4, Err: inner}
	assert.ErrorIs(t, connErr, inner)
	assert.Contains(t, connErr.Error(), "acme__billing")
	assert.Contains(t, connErr.Error(), "4 attempt")
}
