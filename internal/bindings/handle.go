// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bindings owns the loaded, queryable representation of reflected
// schemas: one handle per (database, tenant, schema), holding a descriptor
// set produced from a generated artifact. The cache coordinates generation,
// loading, conflict recovery and refresh; handles stay valid across all of
// it while their descriptor sets swap underneath.
package bindings

import (
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/autobrr/tenantkit/internal/artifact"
	"github.com/autobrr/tenantkit/internal/introspect"
	"github.com/autobrr/tenantkit/internal/schemagen"
	"github.com/autobrr/tenantkit/pkg/stringutils"
)

// Key identifies one binding handle.
type Key struct {
	Database string
	Tenant   string
	Schema   string
}

// LogicalPath is the deterministic artifact location for this key, relative
// to the artifact root.
func (k Key) LogicalPath() string {
	return artifact.LogicalPath(k.Database, k.Tenant, k.Schema)
}

func (k Key) String() string {
	return k.LogicalPath()
}

// State tags where a handle is in its lifecycle. Absence from the cache is
// the implicit first state.
type State int32

const (
	StateGenerating State = iota
	StateLoaded
	StateStale
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateGenerating:
		return "generating"
	case StateLoaded:
		return "loaded"
	case StateStale:
		return "stale"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TableBinding is the loaded descriptor for one table: the physical name,
// the exposed binding name resolution finds it under, and enough structure
// to build statements against it.
type TableBinding struct {
	Table      string
	Exposed    string
	Schema     string
	Columns    []introspect.Column
	PrimaryKey []string
}

// Qualified returns the quoted schema-qualified relation name.
func (b *TableBinding) Qualified() string {
	if b.Schema == "" {
		return pgx.Identifier{b.Table}.Sanitize()
	}
	return pgx.Identifier{b.Schema, b.Table}.Sanitize()
}

// ColumnNames returns the column names in ordinal order.
func (b *TableBinding) ColumnNames() []string {
	names := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		names[i] = c.Name
	}
	return names
}

// DescriptorSet is one generation's worth of table bindings, immutable once
// built. Lookup structures are precomputed so resolution is O(1) per
// candidate spelling.
type DescriptorSet struct {
	generationID string
	fingerprint  string
	generatedAt  time.Time

	byExposed   map[string]*TableBinding
	names       []string            // exposed names, sorted
	folded      []string            // unique folded spellings, for suggestions
	foldedIndex map[string][]string // folded spelling -> exposed names
}

// NewDescriptorSet builds the in-memory binding set from a parsed artifact
// envelope.
func NewDescriptorSet(env *schemagen.Envelope) *DescriptorSet {
	set := &DescriptorSet{
		generationID: env.GenerationID,
		fingerprint:  env.Fingerprint,
		generatedAt:  env.GeneratedAt,
		byExposed:    make(map[string]*TableBinding, len(env.Description.Tables)),
		foldedIndex:  make(map[string][]string, len(env.Description.Tables)),
	}

	for _, t := range env.Description.Tables {
		exposed, ok := env.Exposed[t.Name]
		if !ok {
			exposed = schemagen.ExposedName(t.Name)
		}

		set.byExposed[exposed] = &TableBinding{
			Table:      t.Name,
			Exposed:    exposed,
			Schema:     env.Schema,
			Columns:    t.Columns,
			PrimaryKey: t.PrimaryKey,
		}
	}

	set.names = make([]string, 0, len(set.byExposed))
	for exposed := range set.byExposed {
		set.names = append(set.names, exposed)
	}
	sort.Strings(set.names)

	for _, exposed := range set.names {
		folded := stringutils.FoldIdentifier(exposed)
		if _, ok := set.foldedIndex[folded]; !ok {
			set.folded = append(set.folded, folded)
		}
		set.foldedIndex[folded] = append(set.foldedIndex[folded], exposed)
	}

	return set
}

func (s *DescriptorSet) GenerationID() string   { return s.generationID }
func (s *DescriptorSet) Fingerprint() string    { return s.fingerprint }
func (s *DescriptorSet) GeneratedAt() time.Time { return s.generatedAt }
func (s *DescriptorSet) Len() int               { return len(s.byExposed) }

// Names returns the exposed binding names in sorted order.
func (s *DescriptorSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Lookup finds a binding by its exact exposed name.
func (s *DescriptorSet) Lookup(exposed string) (*TableBinding, bool) {
	b, ok := s.byExposed[exposed]
	return b, ok
}

// resolveCandidates probes the candidate spellings in strategy order and
// returns the first hit.
func (s *DescriptorSet) resolveCandidates(candidates [4]string) (*TableBinding, bool) {
	for _, candidate := range candidates {
		if b, ok := s.byExposed[candidate]; ok {
			return b, true
		}
	}
	return nil, false
}

// Handle is the caller-visible reference to one key's bindings. The cache is
// the sole owner: handles stay pointer-stable across reload-in-place, and
// only the cache mutates them. Callers treat a handle as a live view, not a
// snapshot — Set may change across refreshes.
type Handle struct {
	key Key

	mu       sync.RWMutex
	state    State
	set      *DescriptorSet
	loadedAt time.Time
	failure  error
}

func newHandle(key Key) *Handle {
	return &Handle{key: key, state: StateGenerating}
}

func (h *Handle) Key() Key {
	return h.key
}

func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Set returns the current descriptor set, or nil when nothing has loaded
// yet.
func (h *Handle) Set() *DescriptorSet {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.set
}

// GenerationID identifies the loaded generation, empty before first load.
func (h *Handle) GenerationID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.set == nil {
		return ""
	}
	return h.set.generationID
}

// Fingerprint is the structural fingerprint of the loaded generation.
func (h *Handle) Fingerprint() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.set == nil {
		return ""
	}
	return h.set.fingerprint
}

func (h *Handle) LoadedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loadedAt
}

// Err returns the failure that put the handle into StateFailed, nil
// otherwise.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != StateFailed {
		return nil
	}
	return h.failure
}

// Resolve maps a table name to its binding by trying, in order, the
// Pascal-cased, t_-prefixed, exact, and underscore-stripped spellings. A
// miss is an ordinary outcome, not an error.
func (h *Handle) Resolve(name string) (*TableBinding, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.set == nil {
		return nil, false
	}
	return h.set.resolveCandidates(candidateNames(name))
}

// Suggest returns up to three exposed names close to the query, for miss
// diagnostics.
func (h *Handle) Suggest(name string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.set == nil {
		return nil
	}
	return h.set.Suggest(name)
}

func (h *Handle) swapSet(set *DescriptorSet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.set = set
	h.state = StateLoaded
	h.loadedAt = time.Now()
	h.failure = nil
}

func (h *Handle) markGenerating() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateGenerating
	h.failure = nil
}

func (h *Handle) markStale() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateLoaded {
		return false
	}
	h.state = StateStale
	return true
}

func (h *Handle) markFailed(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateFailed
	h.failure = err
}

// restoreLoaded puts a handle whose regeneration failed back to serving its
// previous set.
func (h *Handle) restoreLoaded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.set != nil {
		h.state = StateLoaded
	}
}
