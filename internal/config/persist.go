// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	lockedByEnv      = "environment"
	lockedByEnvEmpty = "environment (empty)"
)

// persistMu serializes writers of config.toml.
var persistMu sync.Mutex

// PersistLogSettings rewrites only the log-related keys in config.toml,
// preserving every other line and comment, then replaces the file
// atomically (temp file + fsync + rename).
func (c *AppConfig) PersistLogSettings(level, path string, maxSize, maxBackups int) error {
	persistMu.Lock()
	defer persistMu.Unlock()

	configPath := c.viper.ConfigFileUsed()
	if configPath == "" {
		return errors.New("no config file path available")
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	updated := updateLogSettingsInTOML(string(content), logSettingLines(level, path, maxSize, maxBackups))

	return writeFileAtomic(configPath, []byte(updated))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config.toml.tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// logSettingLine is one log key rendered the way it should appear in the
// file.
type logSettingLine struct {
	key             string
	value           string
	commentOut      bool // write the line commented out
	skipWhenMissing bool // do not append when the file lacks the key
}

func (s logSettingLine) line() string {
	if s.commentOut {
		return "#" + s.key + " = " + s.value
	}
	return s.key + " = " + s.value
}

func logSettingLines(level, path string, maxSize, maxBackups int) []logSettingLine {
	// An empty logPath is written commented out so the template stays a
	// useful example, and never appended when absent.
	return []logSettingLine{
		{key: "logLevel", value: strconv.Quote(level)},
		{key: "logPath", value: strconv.Quote(path), commentOut: path == "", skipWhenMissing: path == ""},
		{key: "logMaxSize", value: strconv.Itoa(maxSize)},
		{key: "logMaxBackups", value: strconv.Itoa(maxBackups)},
	}
}

// updateLogSettingsInTOML replaces matching key lines in place, leaving
// comments and unrelated keys untouched. Keys missing from the file are
// appended at the end.
func updateLogSettingsInTOML(content string, settings []logSettingLine) string {
	lines := strings.Split(content, "\n")
	seen := make(map[string]bool, len(settings))

	for i, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		key, _, found := strings.Cut(trimmed, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)

		for _, s := range settings {
			if strings.EqualFold(key, s.key) {
				lines[i] = s.line()
				seen[s.key] = true
				break
			}
		}
	}

	var missing []string
	for _, s := range settings {
		if !seen[s.key] && !s.skipWhenMissing {
			missing = append(missing, s.line())
		}
	}
	if len(missing) > 0 {
		lines = append(lines, "", "# Log settings")
		lines = append(lines, missing...)
	}

	return strings.Join(lines, "\n")
}

// GetLockedLogSettings reports which log settings the environment has
// pinned, keyed by their API field name.
func (c *AppConfig) GetLockedLogSettings() map[string]string {
	locked := make(map[string]string)
	checkEnvLock(locked, "level", envPrefix+"LOG_LEVEL")
	checkEnvLock(locked, "path", envPrefix+"LOG_PATH")
	checkEnvLock(locked, "maxSize", envPrefix+"LOG_MAX_SIZE")
	checkEnvLock(locked, "maxBackups", envPrefix+"LOG_MAX_BACKUPS")
	return locked
}

func checkEnvLock(locked map[string]string, key, envVar string) {
	if value, ok := os.LookupEnv(envVar); ok {
		if strings.TrimSpace(value) == "" {
			locked[key] = lockedByEnvEmpty
		} else {
			locked[key] = lockedByEnv
		}
	}
}

// GetLogSettings returns the current log settings. Path is resolved to an
// absolute location so callers see where logs actually land.
func (c *AppConfig) GetLogSettings() LogSettingsResponse {
	c.configMu.Lock()
	level := canonicalizeLogLevel(c.Config.LogLevel)
	path := c.ResolveLogPath(c.Config.LogPath)
	maxSize := c.Config.LogMaxSize
	maxBackups := c.Config.LogMaxBackups
	configPath := c.viper.ConfigFileUsed()
	c.configMu.Unlock()

	return LogSettingsResponse{
		Level:      level,
		Path:       path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		ConfigPath: configPath,
		Locked:     c.GetLockedLogSettings(),
	}
}

// canonicalizeLogLevel uppercases a level and falls back to INFO for
// anything unrecognized.
func canonicalizeLogLevel(level string) string {
	normalized := strings.ToUpper(strings.TrimSpace(level))
	switch normalized {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
		return normalized
	default:
		return "INFO"
	}
}

func validateLockedFields(update LogSettingsUpdate, locked map[string]string) error {
	if update.Level != nil && locked["level"] != "" {
		return fmt.Errorf("cannot modify level: locked by %s", locked["level"])
	}
	if update.Path != nil && locked["path"] != "" {
		return fmt.Errorf("cannot modify path: locked by %s", locked["path"])
	}
	if update.MaxSize != nil && locked["maxSize"] != "" {
		return fmt.Errorf("cannot modify maxSize: locked by %s", locked["maxSize"])
	}
	if update.MaxBackups != nil && locked["maxBackups"] != "" {
		return fmt.Errorf("cannot modify maxBackups: locked by %s", locked["maxBackups"])
	}
	return nil
}

// UpdateLogSettings validates and applies a partial log settings change,
// then persists it. Env-locked fields are rejected. On any failure the
// previous settings are restored.
func (c *AppConfig) UpdateLogSettings(update LogSettingsUpdate) (LogSettingsResponse, error) {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	if err := validateLockedFields(update, c.GetLockedLogSettings()); err != nil {
		return LogSettingsResponse{}, err
	}

	old := struct {
		level, path         string
		maxSize, maxBackups int
	}{c.Config.LogLevel, c.Config.LogPath, c.Config.LogMaxSize, c.Config.LogMaxBackups}

	committed := false
	defer func() {
		if committed {
			return
		}
		c.Config.LogLevel = old.level
		c.Config.LogPath = old.path
		c.Config.LogMaxSize = old.maxSize
		c.Config.LogMaxBackups = old.maxBackups
		c.viper.Set("logLevel", old.level)
		c.viper.Set("logPath", old.path)
		c.viper.Set("logMaxSize", old.maxSize)
		c.viper.Set("logMaxBackups", old.maxBackups)
		// Apply may have partially taken effect (level before a path
		// error), so push the restored settings back best-effort.
		c.ApplyLogConfig() //nolint:errcheck
	}()

	if update.Level != nil {
		c.Config.LogLevel = canonicalizeLogLevel(*update.Level)
		c.viper.Set("logLevel", c.Config.LogLevel)
	}
	if update.Path != nil {
		c.Config.LogPath = *update.Path
		c.viper.Set("logPath", c.Config.LogPath)
	}
	if update.MaxSize != nil {
		c.Config.LogMaxSize = *update.MaxSize
		c.viper.Set("logMaxSize", c.Config.LogMaxSize)
	}
	if update.MaxBackups != nil {
		c.Config.LogMaxBackups = *update.MaxBackups
		c.viper.Set("logMaxBackups", c.Config.LogMaxBackups)
	}

	if err := c.ApplyLogConfig(); err != nil {
		return LogSettingsResponse{}, fmt.Errorf("failed to apply log configuration: %w", err)
	}

	if err := c.PersistLogSettings(c.Config.LogLevel, c.Config.LogPath, c.Config.LogMaxSize, c.Config.LogMaxBackups); err != nil {
		return LogSettingsResponse{}, fmt.Errorf("failed to persist settings: %w", err)
	}

	committed = true
	// Build the response inline; GetLogSettings would deadlock on configMu.
	return LogSettingsResponse{
		Level:      canonicalizeLogLevel(c.Config.LogLevel),
		Path:       c.ResolveLogPath(c.Config.LogPath),
		MaxSize:    c.Config.LogMaxSize,
		MaxBackups: c.Config.LogMaxBackups,
		ConfigPath: c.viper.ConfigFileUsed(),
		Locked:     c.GetLockedLogSettings(),
	}, nil
}
