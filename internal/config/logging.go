// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/tenantkit/internal/logstream"
)

// LogManager owns the process logging pipeline: a switchable writer the
// global zerolog logger stays pointed at, plus the hub mirroring complete
// lines for streaming consumers.
type LogManager struct {
	hub         *logstream.Hub
	switchable  *logstream.SwitchableWriter
	mu          sync.Mutex
	initialized atomic.Bool
}

// NewLogManager creates a LogManager writing to stderr until Apply
// configures something else.
func NewLogManager() *LogManager {
	hub := logstream.NewHub(logstream.DefaultBufferSize)
	return &LogManager{
		hub:        hub,
		switchable: logstream.NewSwitchableWriter(baseLogWriter(), hub),
	}
}

// Initialize points the global logger at the switchable writer. The
// logger itself stays at trace level; filtering happens through the
// global level, so runtime changes never mutate log.Logger (which would
// race with concurrent logging).
func (lm *LogManager) Initialize() {
	if lm.initialized.Swap(true) {
		return
	}
	log.Logger = log.Logger.Output(lm.switchable).Level(zerolog.TraceLevel)
}

// GetHub returns the hub mirroring every complete log line.
func (lm *LogManager) GetHub() *logstream.Hub {
	return lm.hub
}

// Apply reconfigures the level and destination. Safe for concurrent use.
// The previous rotator, if any, is closed after the swap.
func (lm *LogManager) Apply(level, logPath string, maxSize, maxBackups int) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	setLogLevel(level)

	w, closer, err := buildLogWriter(logPath, maxSize, maxBackups)
	if err != nil {
		return err
	}

	if oldCloser := lm.switchable.Swap(w, closer); oldCloser != nil {
		if closeErr := oldCloser.Close(); closeErr != nil {
			// Already swapped, so this lands on the new writer.
			log.Debug().Err(closeErr).Msg("Failed to close old log rotator")
		}
	}

	return nil
}

func buildLogWriter(logPath string, maxSize, maxBackups int) (io.Writer, io.Closer, error) {
	base := baseLogWriter()
	if logPath == "" {
		return base, nil, nil
	}

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}
	return io.MultiWriter(base, rotator), rotator, nil
}

// baseLogWriter picks human-readable console output on a terminal and
// raw JSON otherwise.
func baseLogWriter() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return os.Stderr
}

func setLogLevel(level string) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// LogSettingsResponse is the runtime view of the log settings, including
// which fields the environment has locked.
type LogSettingsResponse struct {
	Level      string            `json:"level"`
	Path       string            `json:"path"`
	MaxSize    int               `json:"maxSize"`
	MaxBackups int               `json:"maxBackups"`
	ConfigPath string            `json:"configPath,omitempty"`
	Locked     map[string]string `json:"locked,omitempty"`
}

// LogSettingsUpdate carries a partial log settings change; nil fields
// stay untouched.
type LogSettingsUpdate struct {
	Level      *string `json:"level,omitempty"`
	Path       *string `json:"path,omitempty"`
	MaxSize    *int    `json:"maxSize,omitempty"`
	MaxBackups *int    `json:"maxBackups,omitempty"`
}
