// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bindings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tenantkit/internal/artifact"
	"github.com/autobrr/tenantkit/pkg/debounce"
)

// DefaultWatchDelay coalesces artifact event bursts into one staleness
// sweep. A regeneration writes the temp file, renames it, and removes other
// codec variants in quick succession.
const DefaultWatchDelay = 500 * time.Millisecond

// Watcher marks cached bindings stale when their artifacts change on disk,
// so a regeneration by another process is picked up on the next lookup
// instead of requiring a restart.
type Watcher struct {
	cache *Cache
	store *artifact.Store

	fs       *fsnotify.Watcher
	debounce *debounce.Debouncer

	mu    sync.Mutex
	dirty map[string]struct{} // logical paths touched since the last sweep

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewWatcher watches the store's root and its tenant directories for
// artifact changes. delay coalesces event bursts into one staleness sweep.
func NewWatcher(cache *Cache, store *artifact.Store, delay time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact watcher: %w", err)
	}

	// The root only appears once the first artifact is written; watch needs
	// it now.
	if err := os.MkdirAll(store.Root(), 0o755); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to create artifacts root: %w", err)
	}

	if err := fsw.Add(store.Root()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch artifacts root: %w", err)
	}

	// Existing tenant directories need their own watch; new ones are added
	// as their create events arrive.
	if entries, err := os.ReadDir(store.Root()); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := fsw.Add(filepath.Join(store.Root(), entry.Name())); err != nil {
					log.Debug().Err(err).Str("dir", entry.Name()).Msg("Failed to watch tenant directory")
				}
			}
		}
	}

	w := &Watcher{
		cache:    cache,
		store:    store,
		fs:       fsw,
		debounce: debounce.New(delay),
		dirty:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	go w.run()

	log.Debug().Str("root", store.Root()).Msg("Watching binding artifacts")

	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Artifact watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// A freshly created tenant directory must be watched before the
	// artifacts inside it produce events.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fs.Add(ev.Name); err != nil {
				log.Debug().Err(err).Str("dir", ev.Name).Msg("Failed to watch new tenant directory")
			}
			return
		}
	}

	rel, err := filepath.Rel(w.store.Root(), ev.Name)
	if err != nil {
		return
	}

	logical, ok := artifact.StripCodecExtension(filepath.ToSlash(rel))
	if !ok {
		// Temp files and editor noise carry no artifact extension.
		return
	}

	w.mu.Lock()
	w.dirty[logical] = struct{}{}
	w.mu.Unlock()

	w.debounce.Do(w.sweep)
}

// sweep marks every cached handle whose logical path was touched. Matching
// runs against known keys because the artifact file name alone cannot be
// split back into database and schema once either contains underscores.
func (w *Watcher) sweep() {
	w.mu.Lock()
	dirty := w.dirty
	w.dirty = make(map[string]struct{})
	w.mu.Unlock()

	if len(dirty) == 0 {
		return
	}

	marked := 0
	for _, key := range w.cache.Keys() {
		if _, ok := dirty[key.LogicalPath()]; !ok {
			continue
		}
		if w.cache.MarkStale(key) {
			marked++
			log.Debug().Str("binding", key.String()).Msg("Artifact changed on disk, binding marked stale")
		}
	}

	if marked > 0 {
		log.Info().Int("bindings", marked).Msg("Bindings will reload on next use")
	}
}

// Close stops watching. A pending sweep runs before Close returns.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fs.Close()
		<-w.done
		w.debounce.Stop()
	})
	return w.closeErr
}
