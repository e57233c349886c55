// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The pgx handle types must keep satisfying these interfaces; a driver
// upgrade that changes a signature should fail here, not at a call site.
var (
	_ Querier    = (*pgxpool.Pool)(nil)
	_ TxQuerier  = (*pgxpool.Pool)(nil)
	_ Querier    = (*pgx.Conn)(nil)
	_ TxQuerier  = (*pgx.Conn)(nil)
	_ TxQuerier  = (pgx.Tx)(nil)
	_ TxBeginner = (*pgxpool.Pool)(nil)
)
