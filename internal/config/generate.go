// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// GetDefaultConfigDir returns the per-user config directory. A bare
// /config XDG_CONFIG_HOME (the usual container mount) is used directly.
func GetDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "tenantkit")
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "tenantkit")
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "tenantkit"
	}

	return filepath.Join(home, ".config", "tenantkit")
}

// WriteDefaultConfig writes the commented default config file to path,
// creating parent directories. An existing file is never overwritten.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s: %w", path, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

const defaultConfigTemplate = `# config.toml - Auto-generated

# Hostname / IP of the PostgreSQL endpoint.
#
# Default: "localhost"
#
host = "localhost"

# Port of the PostgreSQL endpoint.
#
# Default: 5432
#
port = 5432

# User for maintenance connections and engines.
#
# Default: "postgres"
#
user = "postgres"

# Password for the configured user.
#
# Default: ""
#
#password = ""

# TLS mode for server connections: disable, allow, prefer, require,
# verify-ca, verify-full.
#
# Default: "prefer"
#
sslMode = "prefer"

# Maintenance database used for reachability probes and CREATE DATABASE.
#
# Default: "postgres"
#
maintenanceDatabase = "postgres"

# Schema assumed when a binding lookup does not name one.
#
# Default: "public"
#
defaultSchema = "public"

# Minimum server version accepted during bootstrap. Empty disables the
# check.
#
# Default: ""
#
#minServerVersion = "14.0"

# Bootstrap attempts against an unreachable database before giving up.
#
# Default: 30
#
maxRetries = 30

# Pause between bootstrap attempts.
#
# Default: "2s"
#
retryInterval = "2s"

# Dial timeout for every new server connection.
#
# Default: "10s"
#
connectTimeout = "10s"

# Construct a fresh engine per lookup instead of caching engines.
#
# Default: false
#
antiPersistent = false

# Retry transient statement failures inside sessions. Integrity
# violations are never retried.
#
# Default: false
#
retryQuery = false

# Attempts per statement when retryQuery is enabled.
#
# Default: 3
#
queryRetries = 3

# Load an existing binding artifact on first use instead of regenerating
# it.
#
# Default: false
#
deferRegeneration = false

# Log level: TRACE, DEBUG, INFO, WARN, ERROR.
#
# Default: "INFO"
#
logLevel = "INFO"

# Log file path. Empty logs to stderr only. Relative paths resolve
# against the config directory.
#
# Default: ""
#
#logPath = "log/tenantkit.log"

# Max log file size in MB before rotation.
#
# Default: 50
#
logMaxSize = 50

# Rotated log files to keep.
#
# Default: 3
#
logMaxBackups = 3

[pool]
# Pool connections per engine. Disabled, every operation opens a fresh
# connection.
#
# Default: true
#
enabled = true

# Upper bound of pooled connections per engine.
#
# Default: 10
#
maxConns = 10

# Connections kept open while idle.
#
# Default: 0
#
minConns = 0

# Recycle a connection after this lifetime.
#
# Default: "30m"
#
maxConnLifetime = "30m"

# Close a connection idle for this long.
#
# Default: "5m"
#
maxConnIdleTime = "5m"

# Background health check cadence.
#
# Default: "1m"
#
healthCheckPeriod = "1m"

# Validate a pooled connection before handing it out.
#
# Default: true
#
prePing = true

# Extra conninfo parameters appended to every DSN. Core keys (host, user,
# dbname, ...) cannot be overridden here.
#
#[pool.params]
#application_name = "tenantkit"

[bindings]
# Directory holding binding artifacts. Empty resolves to
# <config-dir>/bindings.
#
# Default: ""
#
#dir = ""

# Artifact compression: none, gzip, zstd, brotli.
#
# Default: "none"
#
compression = "none"

# Watch the artifact directory and mark bindings stale when their files
# change.
#
# Default: false
#
watch = false

[metrics]
# Serve Prometheus metrics and health endpoints.
#
# Default: false
#
enabled = false

# Metrics listen host.
#
# Default: "127.0.0.1"
#
host = "127.0.0.1"

# Metrics listen port.
#
# Default: 9744
#
port = 9744

# Basic auth users for the metrics server (username = password). Empty
# disables auth.
#
#[metrics.basicAuthUsers]
#admin = "changeme"
`
