// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and persists the application configuration: a TOML
// file managed through viper, overridden by TENANTKIT__ environment
// variables, with log settings reloadable at runtime.
package config

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/tenantkit/internal/artifact"
	"github.com/autobrr/tenantkit/internal/bindings"
	"github.com/autobrr/tenantkit/internal/engine"
	"github.com/autobrr/tenantkit/internal/session"
	"github.com/autobrr/tenantkit/pkg/debounce"
)

const envPrefix = "TENANTKIT__"

// reloadDebounce coalesces the bursts of fsnotify events editors produce
// when rewriting the config file.
const reloadDebounce = 500 * time.Millisecond

// PoolConfig mirrors the [pool] table.
type PoolConfig struct {
	Enabled           bool
	MaxConns          int
	MinConns          int
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	PrePing           bool
	Params            map[string]string
}

// BindingsConfig mirrors the [bindings] table.
type BindingsConfig struct {
	Dir         string
	Compression string
	Watch       bool
}

// MetricsConfig mirrors the [metrics] table.
type MetricsConfig struct {
	Enabled        bool
	Host           string
	Port           int
	BasicAuthUsers map[string]string
}

// Config is the full configuration surface as read from file and
// environment.
type Config struct {
	Host                string
	Port                int
	User                string
	Password            string
	SSLMode             string
	MaintenanceDatabase string
	DefaultSchema       string
	MinServerVersion    string
	MaxRetries          int
	RetryInterval       time.Duration
	ConnectTimeout      time.Duration
	AntiPersistent      bool
	RetryQuery          bool
	QueryRetries        int
	DeferRegeneration   bool

	Pool     PoolConfig
	Bindings BindingsConfig
	Metrics  MetricsConfig

	LogLevel      string
	LogPath       string
	LogMaxSize    int
	LogMaxBackups int
}

// AppConfig owns the loaded configuration, the viper instance backing it,
// and the log manager whose settings it controls.
type AppConfig struct {
	Config *Config

	viper      *viper.Viper
	logManager *LogManager
	version    string

	configMu sync.Mutex
	reload   *debounce.Debouncer
}

// New loads the configuration from configPath (a directory or a .toml
// file; empty means the default config directory), creating a commented
// default file when none exists. Environment variables override file
// values. The global logger is initialized before New returns.
func New(configPath, version string) (*AppConfig, error) {
	c := &AppConfig{
		Config:     &Config{},
		viper:      viper.New(),
		logManager: NewLogManager(),
		version:    version,
		reload:     debounce.New(reloadDebounce),
	}

	c.defaults()

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", c.viper.ConfigFileUsed(), err)
	}

	c.loadFromEnv()

	c.logManager.Initialize()
	if err := c.ApplyLogConfig(); err != nil {
		return nil, err
	}

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	v := c.viper

	v.SetDefault("host", "localhost")
	v.SetDefault("port", 5432)
	v.SetDefault("user", "postgres")
	v.SetDefault("password", "")
	v.SetDefault("sslMode", "prefer")
	v.SetDefault("maintenanceDatabase", "postgres")
	v.SetDefault("defaultSchema", "public")
	v.SetDefault("minServerVersion", "")
	v.SetDefault("maxRetries", 30)
	v.SetDefault("retryInterval", "2s")
	v.SetDefault("connectTimeout", "10s")
	v.SetDefault("antiPersistent", false)
	v.SetDefault("retryQuery", false)
	v.SetDefault("queryRetries", 3)
	v.SetDefault("deferRegeneration", false)

	v.SetDefault("pool.enabled", true)
	v.SetDefault("pool.maxConns", 10)
	v.SetDefault("pool.minConns", 0)
	v.SetDefault("pool.maxConnLifetime", "30m")
	v.SetDefault("pool.maxConnIdleTime", "5m")
	v.SetDefault("pool.healthCheckPeriod", "1m")
	v.SetDefault("pool.prePing", true)
	v.SetDefault("pool.params", map[string]string{})

	v.SetDefault("bindings.dir", "")
	v.SetDefault("bindings.compression", "none")
	v.SetDefault("bindings.watch", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.host", "127.0.0.1")
	v.SetDefault("metrics.port", 9744)
	v.SetDefault("metrics.basicAuthUsers", map[string]string{})

	v.SetDefault("logLevel", "INFO")
	v.SetDefault("logPath", "")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("logMaxBackups", 3)
}

func (c *AppConfig) load(configPath string) error {
	dirOrFile := configPath
	if dirOrFile == "" {
		dirOrFile = GetDefaultConfigDir()
	}

	file := dirOrFile
	if filepath.Ext(dirOrFile) != ".toml" {
		file = filepath.Join(dirOrFile, "config.toml")
	}

	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		if writeErr := WriteDefaultConfig(file); writeErr != nil {
			return writeErr
		}
		log.Debug().Str("path", file).Msg("Created default config file")
	} else if err != nil {
		return fmt.Errorf("failed to stat config file %s: %w", file, err)
	}

	c.viper.SetConfigFile(file)
	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", file, err)
	}

	return nil
}

// loadFromEnv applies TENANTKIT__* overrides on top of whatever the file
// provided. Values that fail to parse are ignored rather than fatal; the
// file value stays in effect.
func (c *AppConfig) loadFromEnv() {
	cfg := c.Config

	envString("HOST", &cfg.Host)
	envInt("PORT", &cfg.Port)
	envString("USER", &cfg.User)
	envString("PASSWORD", &cfg.Password)
	envString("SSL_MODE", &cfg.SSLMode)
	envString("MAINTENANCE_DATABASE", &cfg.MaintenanceDatabase)
	envString("DEFAULT_SCHEMA", &cfg.DefaultSchema)
	envString("MIN_SERVER_VERSION", &cfg.MinServerVersion)
	envInt("MAX_RETRIES", &cfg.MaxRetries)
	envDuration("RETRY_INTERVAL", &cfg.RetryInterval)
	envDuration("CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	envBool("ANTI_PERSISTENT", &cfg.AntiPersistent)
	envBool("RETRY_QUERY", &cfg.RetryQuery)
	envInt("QUERY_RETRIES", &cfg.QueryRetries)
	envBool("DEFER_REGENERATION", &cfg.DeferRegeneration)

	envBool("POOL_ENABLED", &cfg.Pool.Enabled)
	envInt("POOL_MAX_CONNS", &cfg.Pool.MaxConns)
	envInt("POOL_MIN_CONNS", &cfg.Pool.MinConns)
	envDuration("POOL_MAX_CONN_LIFETIME", &cfg.Pool.MaxConnLifetime)
	envDuration("POOL_MAX_CONN_IDLE_TIME", &cfg.Pool.MaxConnIdleTime)
	envDuration("POOL_HEALTH_CHECK_PERIOD", &cfg.Pool.HealthCheckPeriod)
	envBool("POOL_PRE_PING", &cfg.Pool.PrePing)

	envString("BINDINGS_DIR", &cfg.Bindings.Dir)
	envString("BINDINGS_COMPRESSION", &cfg.Bindings.Compression)
	envBool("BINDINGS_WATCH", &cfg.Bindings.Watch)

	envBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	envString("METRICS_HOST", &cfg.Metrics.Host)
	envInt("METRICS_PORT", &cfg.Metrics.Port)

	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("LOG_PATH", &cfg.LogPath)
	envInt("LOG_MAX_SIZE", &cfg.LogMaxSize)
	envInt("LOG_MAX_BACKUPS", &cfg.LogMaxBackups)
}

func envString(key string, target *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*target = v
	}
}

func envInt(key string, target *int) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envBool(key string, target *bool) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func envDuration(key string, target *time.Duration) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

// watchConfig reloads the runtime-updatable settings when the config file
// changes on disk. Everything else requires a restart.
func (c *AppConfig) watchConfig() {
	c.viper.OnConfigChange(func(_ fsnotify.Event) {
		c.reload.Do(c.reloadDynamic)
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) reloadDynamic() {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	locked := c.GetLockedLogSettings()
	changed := false

	if locked["level"] == "" {
		if level := canonicalizeLogLevel(c.viper.GetString("logLevel")); level != c.Config.LogLevel {
			c.Config.LogLevel = level
			changed = true
		}
	}
	if locked["path"] == "" {
		if path := c.viper.GetString("logPath"); path != c.Config.LogPath {
			c.Config.LogPath = path
			changed = true
		}
	}
	if locked["maxSize"] == "" {
		if maxSize := c.viper.GetInt("logMaxSize"); maxSize != c.Config.LogMaxSize {
			c.Config.LogMaxSize = maxSize
			changed = true
		}
	}
	if locked["maxBackups"] == "" {
		if maxBackups := c.viper.GetInt("logMaxBackups"); maxBackups != c.Config.LogMaxBackups {
			c.Config.LogMaxBackups = maxBackups
			changed = true
		}
	}

	if !changed {
		return
	}

	if err := c.ApplyLogConfig(); err != nil {
		log.Error().Err(err).Msg("Failed to apply reloaded log settings")
		return
	}

	log.Info().
		Str("level", c.Config.LogLevel).
		Str("path", c.Config.LogPath).
		Msg("Log settings reloaded from config file")
}

// ApplyLogConfig pushes the current log settings into the log manager.
// Callers that mutate settings hold configMu around the mutation and this
// call.
func (c *AppConfig) ApplyLogConfig() error {
	return c.logManager.Apply(
		c.Config.LogLevel,
		c.ResolveLogPath(c.Config.LogPath),
		c.Config.LogMaxSize,
		c.Config.LogMaxBackups,
	)
}

// ResolveLogPath resolves a relative log path against the config
// directory. Empty stays empty, meaning stderr only.
func (c *AppConfig) ResolveLogPath(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.configDir(), path)
}

func (c *AppConfig) configDir() string {
	if file := c.viper.ConfigFileUsed(); file != "" {
		return filepath.Dir(file)
	}
	return GetDefaultConfigDir()
}

// GetLogManager returns the log manager owned by this config.
func (c *AppConfig) GetLogManager() *LogManager {
	return c.logManager
}

// Version returns the application version the config was created with.
func (c *AppConfig) Version() string {
	return c.version
}

// EngineOptions maps the connection surface into engine options.
func (c *AppConfig) EngineOptions() engine.Options {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	cfg := c.Config
	return engine.Options{
		Host:                cfg.Host,
		Port:                cfg.Port,
		User:                cfg.User,
		Password:            cfg.Password,
		SSLMode:             cfg.SSLMode,
		MaintenanceDatabase: cfg.MaintenanceDatabase,
		ConnectTimeout:      cfg.ConnectTimeout,
		MaxRetries:          cfg.MaxRetries,
		RetryInterval:       cfg.RetryInterval,
		MinServerVersion:    cfg.MinServerVersion,
		AntiPersistent:      cfg.AntiPersistent,
		Pool: engine.PoolOptions{
			Enabled:           cfg.Pool.Enabled,
			MaxConns:          int32(cfg.Pool.MaxConns),
			MinConns:          int32(cfg.Pool.MinConns),
			MaxConnLifetime:   cfg.Pool.MaxConnLifetime,
			MaxConnIdleTime:   cfg.Pool.MaxConnIdleTime,
			HealthCheckPeriod: cfg.Pool.HealthCheckPeriod,
			PrePing:           cfg.Pool.PrePing,
		},
		Params: maps.Clone(cfg.Pool.Params),
	}
}

// SessionOptions maps the statement-retry surface into session options.
func (c *AppConfig) SessionOptions() session.Options {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	return session.Options{
		RetryQuery:    c.Config.RetryQuery,
		RetryAttempts: uint(c.Config.QueryRetries),
	}
}

// BindingOptions maps the binding surface into cache options.
func (c *AppConfig) BindingOptions() bindings.CacheOptions {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	return bindings.CacheOptions{
		DefaultSchema:     c.Config.DefaultSchema,
		DeferRegeneration: c.Config.DeferRegeneration,
	}
}

// BindingStore constructs the artifact store configured by the [bindings]
// table.
func (c *AppConfig) BindingStore() (*artifact.Store, error) {
	c.configMu.Lock()
	compression := c.Config.Bindings.Compression
	c.configMu.Unlock()

	codec, err := artifact.ParseCodec(compression)
	if err != nil {
		return nil, err
	}

	return artifact.NewStore(c.BindingsDir(), codec), nil
}

// BindingsDir returns the artifact directory, resolving relative paths
// against the config directory. Empty means <config-dir>/bindings.
func (c *AppConfig) BindingsDir() string {
	c.configMu.Lock()
	dir := c.Config.Bindings.Dir
	c.configMu.Unlock()

	if dir == "" {
		return filepath.Join(c.configDir(), "bindings")
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.configDir(), dir)
}

// MetricsAddr returns the host:port the metrics server should listen on.
func (c *AppConfig) MetricsAddr() string {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	return net.JoinHostPort(c.Config.Metrics.Host, strconv.Itoa(c.Config.Metrics.Port))
}
