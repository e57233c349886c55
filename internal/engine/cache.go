// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/tenantkit/internal/hooks"
	"github.com/autobrr/tenantkit/internal/introspect"
	"github.com/autobrr/tenantkit/internal/schemagen"
	"github.com/autobrr/tenantkit/internal/tenancy"
)

// ErrCacheClosed is returned by Get after Close has run.
var ErrCacheClosed = errors.New("engine cache is closed")

// Cache owns one engine per fully-qualified identity. Lookups are lazy:
// the first Get for an identity constructs the engine, bootstraps the
// database, seeds default objects and runs postcreate hooks; every later
// Get returns the same engine. Concurrent first lookups of one identity
// collapse into a single creation.
//
// The cache is the sole owner of its engines. Callers must not Close an
// engine they got from Get; Close on the cache disposes everything.
type Cache struct {
	opts    Options
	hooks   *hooks.Registry
	boot    *Bootstrapper
	factory Factory

	mu      sync.RWMutex
	engines map[string]Engine

	setupMu  sync.Mutex
	setupRan map[string]bool

	group  singleflight.Group
	closed atomic.Bool
}

// NewCache builds an engine cache. registry may be nil when no postcreate
// hooks are in play (one-shot tools, most tests).
func NewCache(opts Options, registry *hooks.Registry) *Cache {
	// Anti-persistent engines are never tracked, so nothing would ever
	// dispose a bounded pool and its health-check goroutine; that mode
	// always gets the per-operation connection strategy.
	if opts.AntiPersistent {
		opts.Pool.Enabled = false
	}

	return &Cache{
		opts:     opts,
		hooks:    registry,
		boot:     NewBootstrapper(opts),
		factory:  New,
		engines:  make(map[string]Engine),
		setupRan: make(map[string]bool),
	}
}

// Get returns the engine for (database, tenant), creating and bootstrapping
// it on first use. meta optionally carries a schema description whose tables
// are seeded into a newly created database before hooks run.
//
// In anti-persistent mode every call constructs a distinct engine and
// nothing is cached; those engines use the per-operation connection
// strategy and hold no resources between statements, so discarding one
// needs no Close. Postcreate setup still runs only once per identity.
func (c *Cache) Get(ctx context.Context, database, tenant string, meta *introspect.SchemaDescription) (Engine, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}

	identity, err := tenancy.NewIdentity(database, tenant)
	if err != nil {
		return nil, err
	}
	key := identity.Qualified()

	if c.opts.AntiPersistent {
		return c.create(ctx, identity, meta)
	}

	c.mu.RLock()
	eng, ok := c.engines[key]
	c.mu.RUnlock()
	if ok {
		return eng, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A previous winner may have inserted while we queued.
		c.mu.RLock()
		eng, ok := c.engines[key]
		c.mu.RUnlock()
		if ok {
			return eng, nil
		}

		eng, err := c.create(ctx, identity, meta)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.closed.Load() {
			c.mu.Unlock()
			eng.Close()
			return nil, ErrCacheClosed
		}
		c.engines[key] = eng
		c.mu.Unlock()

		return eng, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(Engine), nil
}

// create constructs, bootstraps and sets up an engine without touching the
// cache map.
func (c *Cache) create(ctx context.Context, identity tenancy.Identity, meta *introspect.SchemaDescription) (Engine, error) {
	key := identity.Qualified()

	log.Debug().
		Str("identity", key).
		Bool("pooled", c.opts.Pool.Enabled).
		Msg("Creating database engine")

	eng, err := c.factory(ctx, identity, c.opts)
	if err != nil {
		return nil, err
	}

	if err := c.boot.EnsureReachable(ctx, eng); err != nil {
		eng.Close()
		return nil, err
	}

	if err := c.runSetupOnce(ctx, eng, identity, meta); err != nil {
		eng.Close()
		return nil, err
	}

	recordEngineCreated()

	return eng, nil
}

// runSetupOnce seeds default tables and runs postcreate hooks the first time
// an identity's engine comes up. Anti-persistent mode constructs engines on
// every lookup, so the once-guard lives here rather than on the cache map.
// A failed setup leaves the identity unmarked so the next lookup retries.
func (c *Cache) runSetupOnce(ctx context.Context, eng Engine, identity tenancy.Identity, meta *introspect.SchemaDescription) error {
	key := identity.Qualified()

	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	if c.setupRan[key] {
		return nil
	}

	if meta != nil {
		for _, stmt := range schemagen.DDL(meta) {
			if _, err := eng.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to seed default tables for %q: %w", key, err)
			}
		}
		log.Debug().
			Str("identity", key).
			Int("tables", len(meta.Tables)).
			Msg("Seeded default tables")
	}

	if c.hooks != nil {
		if err := c.hooks.Run(ctx, eng, identity.Database, identity.Tenant); err != nil {
			return err
		}
	}

	c.setupRan[key] = true
	return nil
}

// Len reports how many engines are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.engines)
}

// Snapshot returns per-identity pool statistics, for metrics collection.
func (c *Cache) Snapshot() map[string]Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Stats, len(c.engines))
	for key, eng := range c.engines {
		out[key] = eng.Stats()
	}
	return out
}

// Close disposes every cached engine. The cache must not be used afterwards;
// Get returns ErrCacheClosed. Safe to call more than once.
func (c *Cache) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, eng := range c.engines {
		eng.Close()
		delete(c.engines, key)
	}

	log.Debug().Msg("Engine cache closed")
}
