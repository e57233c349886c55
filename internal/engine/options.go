// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "time"

// PoolOptions controls the pooled connection strategy. When Enabled is
// false, engines open a fresh connection per operation instead.
type PoolOptions struct {
	Enabled           bool
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	PrePing           bool
}

// Options carries everything needed to reach the cluster and construct
// engines. The config package populates it; nothing here reads files or
// the environment.
type Options struct {
	Host                string
	Port                int
	User                string
	Password            string
	SSLMode             string
	MaintenanceDatabase string
	ConnectTimeout      time.Duration
	MaxRetries          int
	RetryInterval       time.Duration
	MinServerVersion    string

	// AntiPersistent disables engine caching entirely: every lookup
	// constructs a fresh engine and the caller-visible cache never grows.
	// Pooling is forced off for these engines since nothing tracks them
	// for disposal. Postcreate setup still runs only once per identity.
	AntiPersistent bool

	Pool PoolOptions

	// Params is an extensible bag of extra connection parameters appended
	// to the conninfo string. Core keys (host, user, dbname, ...) cannot
	// be overridden through it.
	Params map[string]string
}

// DefaultOptions returns the settings used when the config surface leaves
// everything unset.
func DefaultOptions() Options {
	return Options{
		Host:                "localhost",
		Port:                5432,
		User:                "postgres",
		SSLMode:             "prefer",
		MaintenanceDatabase: "postgres",
		ConnectTimeout:      10 * time.Second,
		MaxRetries:          30,
		RetryInterval:       2 * time.Second,
		Pool: PoolOptions{
			Enabled:           true,
			MaxConns:          10,
			MinConns:          0,
			MaxConnLifetime:   30 * time.Minute,
			MaxConnIdleTime:   5 * time.Minute,
			HealthCheckPeriod: time.Minute,
			PrePing:           true,
		},
	}
}
