// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tenantkit/internal/tenancy"
)

func TestMain(m *testing.M) {
	log.Logger = log.Output(io.Discard)
	os.Exit(m.Run())
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.MaxRetries = 3
	opts.RetryInterval = time.Millisecond
	opts.Pool.Enabled = false
	return opts
}

// scanRow satisfies pgx.Row with canned values.
type scanRow struct {
	vals []any
	err  error
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		if i >= len(r.vals) {
			break
		}
		switch d := dest[i].(type) {
		case *string:
			*d = r.vals[i].(string)
		case *int:
			*d = r.vals[i].(int)
		case *bool:
			*d = r.vals[i].(bool)
		default:
			return fmt.Errorf("scanRow: unsupported dest %T", dest[i])
		}
	}
	return nil
}

// fakeMaintConn stands in for the maintenance-database connection.
type fakeMaintConn struct {
	exists   bool
	execErr  error
	queryErr error

	mu     sync.Mutex
	execs  []string
	closed bool
}

func (c *fakeMaintConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, sql)
	if c.execErr != nil {
		return pgconn.CommandTag{}, c.execErr
	}
	return pgconn.CommandTag{}, nil
}

func (c *fakeMaintConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if c.queryErr != nil {
		return scanRow{err: c.queryErr}
	}
	return scanRow{vals: []any{c.exists}}
}

func (c *fakeMaintConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeTx implements the slice of pgx.Tx hook execution touches.
type fakeTx struct {
	pgx.Tx

	mu         sync.Mutex
	execs      []string
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.execs = append(t.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

// fakeEngine is an Engine whose ping results and server version are
// scripted.
type fakeEngine struct {
	identity      tenancy.Identity
	serverVersion string

	mu       sync.Mutex
	pingErrs []error // consumed one per Ping; exhausted means success
	pingErr  error   // persistent fallback once pingErrs runs dry
	pings    int
	execs    []string
	tx       *fakeTx
	closed   bool
}

var _ Engine = (*fakeEngine)(nil)

func (e *fakeEngine) Identity() tenancy.Identity { return e.identity }
func (e *fakeEngine) Pooled() bool               { return false }

func (e *fakeEngine) Ping(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pings++
	if len(e.pingErrs) > 0 {
		err := e.pingErrs[0]
		e.pingErrs = e.pingErrs[1:]
		return err
	}
	return e.pingErr
}

func (e *fakeEngine) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.execs = append(e.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (e *fakeEngine) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("fakeEngine: Query not scripted")
}

func (e *fakeEngine) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if sql == "SHOW server_version" {
		return scanRow{vals: []any{e.serverVersion}}
	}
	return scanRow{err: fmt.Errorf("fakeEngine: unexpected query %q", sql)}
}

func (e *fakeEngine) Begin(ctx context.Context) (pgx.Tx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx == nil {
		e.tx = &fakeTx{}
	}
	return e.tx, nil
}

func (e *fakeEngine) Stats() Stats { return Stats{} }

func (e *fakeEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
