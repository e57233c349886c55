// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bindings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/tenantkit/internal/artifact"
	"github.com/autobrr/tenantkit/internal/engine"
	"github.com/autobrr/tenantkit/internal/introspect"
	"github.com/autobrr/tenantkit/internal/schemagen"
	"github.com/autobrr/tenantkit/internal/tenancy"
	"github.com/autobrr/tenantkit/pkg/stringutils"
)

// candidateTTL bounds how long computed candidate spellings stay cached.
const candidateTTL = 30 * time.Minute

// LoadMissingError means the artifact vanished between generation and load.
// The operation that hit it fails; other keys keep working.
type LoadMissingError struct {
	Key Key
	Err error
}

func (e *LoadMissingError) Error() string {
	return fmt.Sprintf("binding artifact for %s missing at load time: %v", e.Key, e.Err)
}

func (e *LoadMissingError) Unwrap() error {
	return e.Err
}

// LoadConflictError means the binding namespace for a logical path is still
// registered to a previous generation. The cache recovers by removing the
// registration, regenerating, and reloading the handle in place.
type LoadConflictError struct {
	Key        Key
	Registered string
	Loading    string
}

func (e *LoadConflictError) Error() string {
	return fmt.Sprintf("binding %s already registered by generation %s while loading %s", e.Key, e.Registered, e.Loading)
}

// errArtifactMismatch tags artifacts whose envelope describes a different
// key than the path they were found under.
var errArtifactMismatch = errors.New("artifact does not describe this binding")

// EngineProvider is the slice of the engine cache the binding cache needs.
type EngineProvider interface {
	Get(ctx context.Context, database, tenant string, meta *introspect.SchemaDescription) (engine.Engine, error)
}

// CacheOptions tunes binding cache behavior.
type CacheOptions struct {
	// DefaultSchema substitutes for an empty schema argument. Defaults to
	// "public".
	DefaultSchema string

	// DeferRegeneration skips reflection when an artifact already exists
	// at the deterministic location and no refresh was requested.
	DeferRegeneration bool

	// Inspector overrides the default pgx-backed schema inspector.
	Inspector introspect.Inspector
}

// Cache owns one binding handle per (database, tenant, schema). On miss it
// reflects the schema through the engine cache, writes the artifact, loads
// it, and caches the handle; concurrent misses on one key collapse into a
// single generation. Handles are shared — the cache alone mutates them.
type Cache struct {
	store     *artifact.Store
	generator schemagen.Generator
	engines   EngineProvider
	inspector introspect.Inspector
	opts      CacheOptions

	mu      sync.RWMutex
	handles map[Key]*Handle
	baseReg map[string]string // logical path -> registered generation

	group      singleflight.Group
	candidates *stringutils.Normalizer[string, [4]string]
}

func NewCache(store *artifact.Store, generator schemagen.Generator, engines EngineProvider, opts CacheOptions) *Cache {
	if opts.DefaultSchema == "" {
		opts.DefaultSchema = "public"
	}

	inspector := opts.Inspector
	if inspector == nil {
		inspector = introspect.NewPGInspector()
	}

	return &Cache{
		store:      store,
		generator:  generator,
		engines:    engines,
		inspector:  inspector,
		opts:       opts,
		handles:    make(map[Key]*Handle),
		baseReg:    make(map[string]string),
		candidates: stringutils.NewNormalizer(candidateTTL, candidateNames),
	}
}

func (c *Cache) key(database, tenant, schema string) Key {
	if schema == "" {
		schema = c.opts.DefaultSchema
	}
	return Key{Database: database, Tenant: tenant, Schema: schema}
}

func validateKeyNames(database, tenant string) error {
	if err := tenancy.ValidateName(database); err != nil {
		return fmt.Errorf("database name %q: %w", database, err)
	}
	if tenant != "" {
		if err := tenancy.ValidateName(tenant); err != nil {
			return fmt.Errorf("tenant id %q: %w", tenant, err)
		}
	}
	return nil
}

// Get returns the handle for (database, tenant, schema), generating and
// loading its artifact on first use. rawDB reflects through the shared
// (tenant-less) database identity while still caching under the tenant's
// key. A failed handle keeps returning its failure until Refresh.
func (c *Cache) Get(ctx context.Context, database, tenant, schema string, rawDB bool) (*Handle, error) {
	if err := validateKeyNames(database, tenant); err != nil {
		return nil, err
	}

	key := c.key(database, tenant, schema)

	c.mu.RLock()
	h, ok := c.handles[key]
	c.mu.RUnlock()

	if ok {
		switch h.State() {
		case StateLoaded:
			// Liveness re-check: an artifact pulled out from under a
			// loaded handle forces regeneration.
			if c.store.Exists(key.Database, key.Tenant, key.Schema) {
				return h, nil
			}
			log.Warn().Str("binding", key.String()).Msg("Binding artifact disappeared, regenerating")
			h.markStale()
		case StateFailed:
			return nil, fmt.Errorf("binding %s unavailable: %w", key, h.Err())
		}
	}

	return c.load(ctx, key, rawDB, false)
}

// Refresh regenerates a binding's artifact and replaces its loaded set.
// With reImport false the existing handle is reloaded in place, preserving
// pointer identity for everyone holding it. With reImport true the old
// handle is unhooked (and marked stale for stragglers) and a fresh handle
// takes its place in the cache.
func (c *Cache) Refresh(ctx context.Context, database, tenant, schema string, reImport bool) (*Handle, error) {
	if err := validateKeyNames(database, tenant); err != nil {
		return nil, err
	}

	key := c.key(database, tenant, schema)

	return c.flight(key, func() (*Handle, error) {
		if reImport {
			c.mu.Lock()
			old, ok := c.handles[key]
			if ok {
				delete(c.handles, key)
			}
			c.mu.Unlock()

			if ok {
				old.markStale()
			}
		}
		return c.generateAndLoad(ctx, key, false, true)
	})
}

// Resolve maps a table name to its binding under a key. The four candidate
// spellings are computed once and cached. A resolution miss is an ordinary
// outcome: (nil, false, nil).
func (c *Cache) Resolve(ctx context.Context, database, tenant, schema, table string, rawDB bool) (*TableBinding, bool, error) {
	h, err := c.Get(ctx, database, tenant, schema, rawDB)
	if err != nil {
		return nil, false, err
	}

	set := h.Set()
	if set == nil {
		return nil, false, nil
	}

	b, ok := set.resolveCandidates(c.candidates.Normalize(table))
	if !ok {
		recordResolutionMiss()
		if suggestions := set.Suggest(table); len(suggestions) > 0 {
			log.Debug().
				Str("table", table).
				Str("binding", h.Key().String()).
				Strs("closest", suggestions).
				Msg("No binding resolved for table")
		}
		return nil, false, nil
	}

	return b, true, nil
}

// MarkStale flags a loaded handle so its next lookup reloads from the
// current artifact. It reports whether a handle actually transitioned;
// unknown keys and handles not in the loaded state are ignored.
func (c *Cache) MarkStale(key Key) bool {
	c.mu.RLock()
	h, ok := c.handles[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return h.markStale()
}

// Keys lists the keys with live handles.
func (c *Cache) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]Key, 0, len(c.handles))
	for key := range c.handles {
		keys = append(keys, key)
	}
	return keys
}

// Len reports how many handles the cache holds.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// States counts live handles per state, for metrics.
func (c *Cache) States() map[State]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[State]int, 4)
	for _, h := range c.handles {
		out[h.State()]++
	}
	return out
}

// flight funnels all mutating work for one key through the flight group, so
// concurrent misses share one generation instead of racing on the artifact.
func (c *Cache) flight(key Key, fn func() (*Handle, error)) (*Handle, error) {
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (c *Cache) load(ctx context.Context, key Key, rawDB, refresh bool) (*Handle, error) {
	return c.flight(key, func() (*Handle, error) {
		return c.generateAndLoad(ctx, key, rawDB, refresh)
	})
}

func (c *Cache) generateAndLoad(ctx context.Context, key Key, rawDB, refresh bool) (*Handle, error) {
	h := c.ensureHandle(key)

	// The flight winner may have finished the work while this caller
	// queued.
	if !refresh && h.State() == StateLoaded {
		return h, nil
	}

	h.markGenerating()

	// An artifact already on disk is loaded as-is when regeneration is
	// deferred, and also when no generator is configured — unavailable
	// codegen degrades to "no binding" only where nothing was ever
	// generated.
	reflected := false
	if !refresh && (c.opts.DeferRegeneration || c.generator == nil) &&
		c.store.Exists(key.Database, key.Tenant, key.Schema) {
		log.Debug().Str("binding", key.String()).Msg("Artifact already present, loading without regeneration")
	} else {
		// Replacing our own previous generation is not a conflict; drop
		// its registration before the new one lands.
		c.unregister(key)

		if err := c.regenerate(ctx, key, rawDB); err != nil {
			return nil, c.fail(h, key, err)
		}
		reflected = true
	}

	set, err := c.loadArtifact(key)

	// A pre-existing artifact in an old format or describing the wrong key
	// is regenerated in place rather than surfaced.
	if err != nil && !reflected && regenerableLoadError(err) {
		log.Warn().Err(err).Str("binding", key.String()).Msg("Artifact not loadable as-is, regenerating")

		c.unregister(key)
		if regenErr := c.regenerate(ctx, key, rawDB); regenErr != nil {
			return nil, c.fail(h, key, regenErr)
		}
		set, err = c.loadArtifact(key)
	}

	if err != nil {
		var conflict *LoadConflictError
		if errors.As(err, &conflict) {
			recordConflict()
			log.Warn().
				Str("binding", key.String()).
				Str("registered", conflict.Registered).
				Str("loading", conflict.Loading).
				Msg("Binding namespace bound by a previous generation, recovering")
			return c.recoverConflict(ctx, h, key, rawDB)
		}
		return nil, c.fail(h, key, err)
	}

	c.register(key, set)
	h.swapSet(set)
	recordLoad()

	log.Debug().
		Str("binding", key.String()).
		Str("generation", set.generationID).
		Str("fingerprint", set.fingerprint).
		Int("tables", set.Len()).
		Msg("Binding loaded")

	return h, nil
}

// regenerate reflects the schema and writes a fresh artifact.
func (c *Cache) regenerate(ctx context.Context, key Key, rawDB bool) error {
	if c.generator == nil {
		return schemagen.ErrUnavailable
	}

	tenant := key.Tenant
	if rawDB {
		tenant = ""
	}

	eng, err := c.engines.Get(ctx, key.Database, tenant, nil)
	if err != nil {
		return err
	}

	desc, err := c.inspector.Inspect(ctx, eng, key.Schema)
	if err != nil {
		return err
	}

	data, err := c.generator.Generate(ctx, key.Database, desc, eng, schemagen.Options{Tenant: key.Tenant}, key.Schema)
	if err != nil {
		if errors.Is(err, schemagen.ErrUnavailable) {
			return err
		}
		return fmt.Errorf("failed to generate binding artifact for %s: %w", key, err)
	}

	if _, err := c.store.Write(key.Database, key.Tenant, key.Schema, data); err != nil {
		return fmt.Errorf("failed to write binding artifact for %s: %w", key, err)
	}

	recordGeneration()
	return nil
}

// loadArtifact reads, parses and validates the artifact at the key's
// deterministic location and builds its descriptor set. The registration
// check rejects loading a generation different from the one currently bound
// for the path.
func (c *Cache) loadArtifact(key Key) (*DescriptorSet, error) {
	data, _, err := c.store.Read(key.Database, key.Tenant, key.Schema)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, &LoadMissingError{Key: key, Err: err}
		}
		return nil, err
	}

	env, err := schemagen.ParseEnvelope(data)
	if err != nil {
		return nil, err
	}

	if env.Database != key.Database || env.Schema != key.Schema || env.Tenant != key.Tenant {
		return nil, fmt.Errorf("%w: artifact describes %s/%s/%s, expected %s", errArtifactMismatch,
			env.Tenant, env.Database, env.Schema, key)
	}

	logical := key.LogicalPath()

	c.mu.RLock()
	registered, bound := c.baseReg[logical]
	c.mu.RUnlock()

	if bound && registered != env.GenerationID {
		return nil, &LoadConflictError{Key: key, Registered: registered, Loading: env.GenerationID}
	}

	return NewDescriptorSet(env), nil
}

// recoverConflict implements regeneration-with-reload: drop the stale
// registration, force re-reflection, and swap the new set into the existing
// handle so callers keep their pointer.
func (c *Cache) recoverConflict(ctx context.Context, h *Handle, key Key, rawDB bool) (*Handle, error) {
	c.unregister(key)

	if err := c.regenerate(ctx, key, rawDB); err != nil {
		return nil, c.fail(h, key, err)
	}

	set, err := c.loadArtifact(key)
	if err != nil {
		return nil, c.fail(h, key, err)
	}

	c.register(key, set)
	h.swapSet(set)
	recordReload()

	log.Info().
		Str("binding", key.String()).
		Str("generation", set.generationID).
		Msg("Binding reloaded in place after registration conflict")

	return h, nil
}

// fail records a load failure and decides the handle's fate. Handles that
// were already serving a set go back to serving it — the failure concerned
// the next generation, not the current one. Handles that never loaded are
// pinned in StateFailed for unrecoverable conditions, or forgotten entirely
// so the next lookup retries transient ones.
func (c *Cache) fail(h *Handle, key Key, err error) error {
	if h.Set() != nil {
		h.restoreLoaded()
		return err
	}

	var missing *LoadMissingError
	var conflict *LoadConflictError
	var incompatible *schemagen.IncompatibleArtifactError
	if errors.As(err, &missing) || errors.As(err, &conflict) || errors.As(err, &incompatible) {
		recordFailure()
		h.markFailed(err)
		return err
	}

	c.mu.Lock()
	delete(c.handles, key)
	c.mu.Unlock()

	return err
}

func (c *Cache) ensureHandle(key Key) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.handles[key]; ok {
		return h
	}

	h := newHandle(key)
	c.handles[key] = h
	return h
}

func (c *Cache) register(key Key, set *DescriptorSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseReg[key.LogicalPath()] = set.generationID
}

func (c *Cache) unregister(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.baseReg, key.LogicalPath())
}

// regenerableLoadError reports whether a failed load can be fixed by
// regenerating the artifact: old formats and envelopes describing a
// different key qualify; everything else propagates.
func regenerableLoadError(err error) bool {
	var incompatible *schemagen.IncompatibleArtifactError
	return errors.As(err, &incompatible) || errors.Is(err, errArtifactMismatch)
}
