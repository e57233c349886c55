// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package artifact owns the on-disk layout of generated binding artifacts:
// one per-tenant directory, one deterministically named file per
// (database, tenant, schema), so artifacts re-resolve idempotently without a
// side index.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/tenantkit/pkg/pathutil"
)

// ErrNotFound marks a missing artifact. Callers distinguish "never
// generated" from read failures through it.
var ErrNotFound = errors.New("artifact not found")

// sharedTenantDir holds artifacts for databases without a tenant.
const sharedTenantDir = "_shared"

// Store reads and writes binding artifacts under a root directory.
type Store struct {
	root  string
	codec Codec
}

func NewStore(root string, codec Codec) *Store {
	return &Store{root: root, codec: codec}
}

// Root returns the artifacts root directory.
func (s *Store) Root() string {
	return s.root
}

// LogicalPath is the deterministic identity of an artifact:
// "<tenant>/async_<database>_<schema>". It never changes with the codec.
func LogicalPath(database, tenant, schema string) string {
	return path.Join(tenantSegment(tenant), baseName(database, schema))
}

func tenantSegment(tenant string) string {
	if tenant == "" {
		return sharedTenantDir
	}
	return tenant
}

func baseName(database, schema string) string {
	return fmt.Sprintf("async_%s_%s", database, schema)
}

// FilePath returns where Write will place the artifact for the configured
// codec. Segments are sanitized and kept inside the root.
func (s *Store) FilePath(database, tenant, schema string) (string, error) {
	return pathutil.JoinInside(s.root, tenantSegment(tenant), baseName(database, schema)+s.codec.Extension())
}

// Find locates an existing artifact, probing every known codec extension
// (configured codec first). Returns ErrNotFound when no variant exists.
func (s *Store) Find(database, tenant, schema string) (string, Codec, error) {
	probes := make([]codecExt, 0, len(codecExtensions))
	probes = append(probes, codecExt{s.codec, s.codec.Extension()})
	for _, ce := range codecExtensions {
		if ce.codec != s.codec {
			probes = append(probes, ce)
		}
	}

	for _, p := range probes {
		fp, err := pathutil.JoinInside(s.root, tenantSegment(tenant), baseName(database, schema)+p.ext)
		if err != nil {
			return "", CodecNone, err
		}
		if _, err := os.Stat(fp); err == nil {
			return fp, p.codec, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", CodecNone, fmt.Errorf("stat artifact: %w", err)
		}
	}

	return "", CodecNone, fmt.Errorf("%w: %s", ErrNotFound, LogicalPath(database, tenant, schema))
}

// Exists reports whether an artifact is present under any codec.
func (s *Store) Exists(database, tenant, schema string) bool {
	_, _, err := s.Find(database, tenant, schema)
	return err == nil
}

// Read loads and decompresses the artifact. Missing artifacts return
// ErrNotFound.
func (s *Store) Read(database, tenant, schema string) ([]byte, string, error) {
	fp, codec, err := s.Find(database, tenant, schema)
	if err != nil {
		return nil, "", err
	}

	raw, err := os.ReadFile(fp)
	if err != nil {
		return nil, "", fmt.Errorf("read artifact %s: %w", fp, err)
	}

	data, err := codec.Decompress(raw)
	if err != nil {
		return nil, "", fmt.Errorf("decode artifact %s: %w", fp, err)
	}

	return data, fp, nil
}

// Write compresses and atomically persists the artifact, replacing any
// variant written under a different codec so Find never resolves a stale
// generation.
func (s *Store) Write(database, tenant, schema string, data []byte) (string, error) {
	fp, err := s.FilePath(database, tenant, schema)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(fp)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create artifact directory %s: %w", dir, err)
	}

	encoded, err := s.codec.Compress(data)
	if err != nil {
		return "", err
	}

	// Write to a temp file in the same directory and rename so readers never
	// observe a partial artifact.
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp artifact: %w", err)
	}

	if err := os.Chmod(tmpName, 0o640); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("chmod temp artifact: %w", err)
	}

	if err := os.Rename(tmpName, fp); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename artifact into place: %w", err)
	}

	s.removeOtherVariants(database, tenant, schema)

	log.Debug().Str("path", fp).Int("bytes", len(encoded)).Msg("Artifact written")

	return fp, nil
}

// Remove deletes every codec variant of the artifact. Missing variants are
// not an error.
func (s *Store) Remove(database, tenant, schema string) error {
	var firstErr error
	for _, ce := range codecExtensions {
		fp, err := pathutil.JoinInside(s.root, tenantSegment(tenant), baseName(database, schema)+ce.ext)
		if err != nil {
			return err
		}
		if err := os.Remove(fp); err != nil && !errors.Is(err, fs.ErrNotExist) && firstErr == nil {
			firstErr = fmt.Errorf("remove artifact %s: %w", fp, err)
		}
	}
	return firstErr
}

func (s *Store) removeOtherVariants(database, tenant, schema string) {
	for _, ce := range codecExtensions {
		if ce.codec == s.codec {
			continue
		}
		fp, err := pathutil.JoinInside(s.root, tenantSegment(tenant), baseName(database, schema)+ce.ext)
		if err != nil {
			continue
		}
		if err := os.Remove(fp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Debug().Err(err).Str("path", fp).Msg("Failed to remove stale artifact variant")
		}
	}
}
