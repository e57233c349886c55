// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface defines database access interfaces to avoid import
// cycles between the engine, hook, introspection, and session packages.
package dbinterface

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs statements. *pgxpool.Pool, *pgx.Conn, and pgx.Tx all satisfy
// it, so hook actions and DDL seeding can run against any of them.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Querier runs queries and statements without transaction control.
type Querier interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner opens transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxQuerier combines query execution with transaction control. The hook
// registry runs against a TxQuerier so all hook actions share one
// transaction.
type TxQuerier interface {
	Querier
	TxBeginner
}
