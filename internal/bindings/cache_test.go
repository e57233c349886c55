// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bindings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autobrr/tenantkit/internal/artifact"
	"github.com/autobrr/tenantkit/internal/introspect"
	"github.com/autobrr/tenantkit/internal/schemagen"
	"github.com/autobrr/tenantkit/internal/tenancy"
)

func TestCacheGeneratesOnFirstUse(t *testing.T) {
	c, provider, inspector := newTestCache(t, CacheOptions{})

	h, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Equal(t, StateLoaded, h.State())
	require.NotEmpty(t, h.GenerationID())
	require.NotEmpty(t, h.Fingerprint())
	require.Equal(t, Key{Database: "billing", Tenant: "acme", Schema: "public"}, h.Key())

	require.Equal(t, 1, inspector.count())
	require.Equal(t, []engineRequest{{database: "billing", tenant: "acme"}}, provider.requests())

	require.True(t, c.store.Exists("billing", "acme", "public"))

	set := h.Set()
	require.NotNil(t, set)
	require.Equal(t, []string{"UserProfile", "t_2fa_codes"}, set.Names())
}

func TestCacheReturnsCachedHandle(t *testing.T) {
	c, _, inspector := newTestCache(t, CacheOptions{})

	h1, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)

	h2, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)

	require.Same(t, h1, h2)
	require.Equal(t, 1, inspector.count())
	require.Equal(t, 1, c.Len())
}

func TestCacheSeparatesSchemasAndTenants(t *testing.T) {
	c, _, _ := newTestCache(t, CacheOptions{})

	h1, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)

	h2, err := c.Get(t.Context(), "billing", "acme", "audit", false)
	require.NoError(t, err)

	h3, err := c.Get(t.Context(), "billing", "umbrella", "", false)
	require.NoError(t, err)

	require.NotSame(t, h1, h2)
	require.NotSame(t, h1, h3)
	require.Equal(t, 3, c.Len())

	// empty schema aliases the default
	h4, err := c.Get(t.Context(), "billing", "acme", "public", false)
	require.NoError(t, err)
	require.Same(t, h1, h4)
}

func TestCacheRejectsInvalidNames(t *testing.T) {
	c, _, _ := newTestCache(t, CacheOptions{})

	_, err := c.Get(t.Context(), "bad__name", "acme", "", false)
	require.ErrorIs(t, err, tenancy.ErrReservedChars)

	_, err = c.Get(t.Context(), "billing", "bad tenant", "", false)
	require.ErrorIs(t, err, tenancy.ErrReservedChars)

	_, err = c.Refresh(t.Context(), "", "acme", "", false)
	require.ErrorIs(t, err, tenancy.ErrEmptyName)

	require.Equal(t, 0, c.Len())
}

func TestCacheDeferRegenerationLoadsExistingArtifact(t *testing.T) {
	root := t.TempDir()

	c1, _, insp1 := newTestCacheAt(t, root, CacheOptions{DeferRegeneration: true})
	h1, err := c1.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Equal(t, 1, insp1.count())

	// a second cache over the same artifacts, as after a restart: the
	// artifact loads as-is, nothing is reflected
	c2, provider2, insp2 := newTestCacheAt(t, root, CacheOptions{DeferRegeneration: true})
	h2, err := c2.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Equal(t, 0, insp2.count())
	require.Empty(t, provider2.requests())
	require.Equal(t, h1.GenerationID(), h2.GenerationID())
}

func TestCacheRegeneratesWithoutDeferRegeneration(t *testing.T) {
	root := t.TempDir()

	c1, _, _ := newTestCacheAt(t, root, CacheOptions{DeferRegeneration: true})
	h1, err := c1.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)

	c2, _, insp2 := newTestCacheAt(t, root, CacheOptions{})
	h2, err := c2.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Equal(t, 1, insp2.count())
	require.NotEqual(t, h1.GenerationID(), h2.GenerationID())
}

func TestCacheRegeneratesWhenArtifactDisappears(t *testing.T) {
	c, _, inspector := newTestCache(t, CacheOptions{})

	h1, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)

	require.NoError(t, c.store.Remove("billing", "acme", "public"))

	h2, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Same(t, h1, h2)
	require.Equal(t, 2, inspector.count())
	require.True(t, c.store.Exists("billing", "acme", "public"))
}

func TestCacheRawDBReflectsSharedIdentity(t *testing.T) {
	c, provider, _ := newTestCache(t, CacheOptions{})

	h, err := c.Get(t.Context(), "billing", "acme", "", true)
	require.NoError(t, err)

	// reflection went through the shared database identity
	require.Equal(t, []engineRequest{{database: "billing", tenant: ""}}, provider.requests())

	// but the handle and its artifact stay tenant-scoped
	require.Equal(t, "acme", h.Key().Tenant)
	require.True(t, c.store.Exists("billing", "acme", "public"))
}

func TestCacheMarkStaleReloadsFromDisk(t *testing.T) {
	c, _, inspector := newTestCache(t, CacheOptions{DeferRegeneration: true})

	h, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	gen := h.GenerationID()

	require.True(t, c.MarkStale(h.Key()))
	require.Equal(t, StateStale, h.State())
	require.False(t, c.MarkStale(Key{Database: "nope", Tenant: "x", Schema: "public"}))

	h2, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Same(t, h, h2)
	require.Equal(t, StateLoaded, h2.State())
	require.Equal(t, gen, h2.GenerationID())
	require.Equal(t, 1, inspector.count())
}

func TestCacheConflictRecoversInPlace(t *testing.T) {
	c, _, inspector := newTestCache(t, CacheOptions{DeferRegeneration: true})

	h, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	gen := h.GenerationID()
	key := h.Key()

	// simulate the logical path still being registered to an older
	// generation, as after a half-torn-down predecessor
	c.mu.Lock()
	c.baseReg[key.LogicalPath()] = "stale-generation"
	c.mu.Unlock()

	require.True(t, c.MarkStale(key))

	before := conflictTotal.Load()

	h2, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Same(t, h, h2)
	require.Equal(t, StateLoaded, h2.State())

	// recovery re-reflected and swapped a fresh generation in place
	require.NotEqual(t, gen, h2.GenerationID())
	require.Equal(t, 2, inspector.count())
	require.Equal(t, before+1, conflictTotal.Load())

	c.mu.RLock()
	registered := c.baseReg[key.LogicalPath()]
	c.mu.RUnlock()
	require.Equal(t, h2.GenerationID(), registered)
}

func TestCacheRefreshInPlace(t *testing.T) {
	c, _, inspector := newTestCache(t, CacheOptions{DeferRegeneration: true})

	h1, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	gen := h1.GenerationID()

	h2, err := c.Refresh(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Same(t, h1, h2)
	require.NotEqual(t, gen, h2.GenerationID())

	// refresh reflects even with defer-regeneration on
	require.Equal(t, 2, inspector.count())
	require.Equal(t, 1, c.Len())
}

func TestCacheRefreshReImport(t *testing.T) {
	c, _, _ := newTestCache(t, CacheOptions{})

	h1, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)

	h2, err := c.Refresh(t.Context(), "billing", "acme", "", true)
	require.NoError(t, err)
	require.NotSame(t, h1, h2)
	require.Equal(t, StateLoaded, h2.State())
	require.Equal(t, 1, c.Len())

	// stragglers holding the old handle see it go stale
	require.Equal(t, StateStale, h1.State())

	h3, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Same(t, h2, h3)
}

func TestCacheRefreshUnknownKeyGenerates(t *testing.T) {
	c, _, inspector := newTestCache(t, CacheOptions{})

	h, err := c.Refresh(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Equal(t, StateLoaded, h.State())
	require.Equal(t, 1, inspector.count())
}

func TestCacheWithoutGeneratorIsUnavailable(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), artifact.CodecNone)
	c := NewCache(store, nil, &fakeProvider{}, CacheOptions{Inspector: &fakeInspector{desc: testDescription()}})

	_, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.ErrorIs(t, err, schemagen.ErrUnavailable)

	// nothing is pinned; a generator configured later can succeed
	require.Equal(t, 0, c.Len())
}

func TestCacheWithoutGeneratorLoadsExistingArtifact(t *testing.T) {
	root := t.TempDir()

	c1, _, _ := newTestCacheAt(t, root, CacheOptions{})
	h1, err := c1.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)

	store := artifact.NewStore(root, artifact.CodecNone)

	// The artifact must load whether or not regeneration is deferred; a
	// missing generator only matters where nothing was ever generated.
	for _, deferRegen := range []bool{true, false} {
		c2 := NewCache(store, nil, &fakeProvider{}, CacheOptions{
			DeferRegeneration: deferRegen,
			Inspector:         &fakeInspector{desc: testDescription()},
		})

		h2, err := c2.Get(t.Context(), "billing", "acme", "", false)
		require.NoError(t, err)
		require.Equal(t, StateLoaded, h2.State())
		require.Equal(t, h1.GenerationID(), h2.GenerationID())
	}
}

func TestCacheReflectionFailureIsRetried(t *testing.T) {
	c, _, inspector := newTestCache(t, CacheOptions{})
	inspector.setErr(&introspect.ReflectionError{Schema: "public", Err: errors.New("permission denied")})

	_, err := c.Get(t.Context(), "billing", "acme", "", false)
	var rerr *introspect.ReflectionError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, 0, c.Len())

	inspector.setErr(nil)

	h, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Equal(t, StateLoaded, h.State())
}

func TestCacheEngineFailurePropagates(t *testing.T) {
	c, provider, _ := newTestCache(t, CacheOptions{})
	provider.err = errors.New("connection refused")

	_, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, 0, c.Len())
}

func TestCacheLoadMissingPinsFailure(t *testing.T) {
	c, _, _ := newTestCache(t, CacheOptions{})

	key := c.key("billing", "acme", "")
	h := c.ensureHandle(key)

	_, err := c.loadArtifact(key)
	var missing *LoadMissingError
	require.ErrorAs(t, err, &missing)
	require.ErrorIs(t, err, artifact.ErrNotFound)

	_ = c.fail(h, key, err)
	require.Equal(t, StateFailed, h.State())

	_, err = c.Get(t.Context(), "billing", "acme", "", false)
	require.ErrorContains(t, err, "unavailable")
	require.ErrorAs(t, err, &missing)

	// refresh clears the pin and reloads in place
	h2, err := c.Refresh(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Same(t, h, h2)
	require.Equal(t, StateLoaded, h2.State())
	require.NoError(t, h2.Err())
}

func TestCacheIncompatibleArtifactRegenerates(t *testing.T) {
	c, _, inspector := newTestCache(t, CacheOptions{DeferRegeneration: true})

	// an artifact from a future format is already on disk
	_, err := c.store.Write("billing", "acme", "public", []byte(`{"formatVersion":"2.0.0","generationId":"g1"}`))
	require.NoError(t, err)

	h, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Equal(t, StateLoaded, h.State())
	require.Equal(t, 1, inspector.count())
}

func TestCacheMismatchedArtifactRegenerates(t *testing.T) {
	c, _, inspector := newTestCache(t, CacheOptions{DeferRegeneration: true})

	// a valid artifact for a different database copied into this slot
	data, err := schemagen.NewJSONGenerator().Generate(t.Context(), "inventory", testDescription(), nil, schemagen.Options{Tenant: "acme"}, "public")
	require.NoError(t, err)
	_, err = c.store.Write("billing", "acme", "public", data)
	require.NoError(t, err)

	h, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)
	require.Equal(t, StateLoaded, h.State())
	require.Equal(t, 1, inspector.count())
}

func TestCacheConcurrentGetsGenerateOnce(t *testing.T) {
	c, _, inspector := newTestCache(t, CacheOptions{})
	inspector.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	handles := make([]*Handle, 10)
	errs := make([]error, 10)

	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i], errs[i] = c.Get(context.Background(), "billing", "acme", "", false)
		}()
	}
	wg.Wait()

	for i := range 10 {
		require.NoError(t, errs[i])
		require.Same(t, handles[0], handles[i])
	}
	require.Equal(t, 1, inspector.count())
}

func TestCacheResolve(t *testing.T) {
	c, _, _ := newTestCache(t, CacheOptions{})

	cases := []struct {
		query string
		table string
	}{
		{"user_profile", "user_profile"},
		{"UserProfile", "user_profile"},
		{"2fa_codes", "2fa_codes"},
		{"t_2fa_codes", "2fa_codes"},
	}
	for _, tc := range cases {
		b, ok, err := c.Resolve(t.Context(), "billing", "acme", "", tc.query, false)
		require.NoError(t, err, tc.query)
		require.True(t, ok, tc.query)
		require.Equal(t, tc.table, b.Table, tc.query)
	}

	b, ok, err := c.Resolve(t.Context(), "billing", "acme", "", "no_such_table", false)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, b)
}

func TestCacheStates(t *testing.T) {
	c, _, _ := newTestCache(t, CacheOptions{})

	_, err := c.Get(t.Context(), "billing", "acme", "", false)
	require.NoError(t, err)

	_, err = c.Get(t.Context(), "billing", "acme", "audit", false)
	require.NoError(t, err)

	require.True(t, c.MarkStale(c.key("billing", "acme", "audit")))

	states := c.States()
	require.Equal(t, 1, states[StateLoaded])
	require.Equal(t, 1, states[StateStale])

	keys := c.Keys()
	require.Len(t, keys, 2)
}
