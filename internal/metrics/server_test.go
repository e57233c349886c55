// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/tenantkit/internal/artifact"
	"github.com/autobrr/tenantkit/internal/bindings"
	"github.com/autobrr/tenantkit/internal/engine"
	"github.com/autobrr/tenantkit/internal/hooks"
	"github.com/autobrr/tenantkit/internal/schemagen"
)

func newTestServer(t *testing.T, basicAuthUsers map[string]string) *Server {
	t.Helper()

	engineCache := engine.NewCache(engine.DefaultOptions(), hooks.NewRegistry())
	t.Cleanup(engineCache.Close)

	store := artifact.NewStore(t.TempDir(), artifact.CodecNone)
	bindingCache := bindings.NewCache(store, schemagen.NewJSONGenerator(), nil, bindings.CacheOptions{})

	manager := NewMetricsManager(engineCache, bindingCache)
	return NewMetricsServer(manager, nil, "127.0.0.1:0", basicAuthUsers)
}

func TestServerServesMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "tenantkit_engines_cached")
	assert.Contains(t, body, "tenantkit_bindings_cached")
	assert.Contains(t, body, "tenantkit_sessions_opened_total")
	assert.Contains(t, body, "tenantkit_hook_runs_total")
}

func TestServerBasicAuth(t *testing.T) {
	s := newTestServer(t, map[string]string{"admin": "secret"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "request without credentials should be rejected")

	req = httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "request with bad password should be rejected")

	req = httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerHealthz(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, resp.Engines)
	assert.Contains(t, resp.Bindings, "loaded")
	assert.Zero(t, resp.Bindings["loaded"])
}

func TestServerHealthzWithNilCaches(t *testing.T) {
	manager := NewMetricsManager(nil, nil)
	s := NewMetricsServer(manager, nil, "127.0.0.1:0", nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, resp.Bindings)
}

func TestServerSkipsLogRoutesWithoutConfig(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/log-settings", http.NoBody)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseBasicAuthUsers(t *testing.T) {
	tests := []struct {
		name        string
		credentials string
		want        map[string]string
	}{
		{
			name:        "empty",
			credentials: "",
			want:        map[string]string{},
		},
		{
			name:        "single pair",
			credentials: "admin:secret",
			want:        map[string]string{"admin": "secret"},
		},
		{
			name:        "multiple pairs with whitespace",
			credentials: "admin:secret, ops:hunter2",
			want:        map[string]string{"admin": "secret", "ops": "hunter2"},
		},
		{
			name:        "malformed entries are skipped",
			credentials: "admin:secret,broken,with:too:many",
			want:        map[string]string{"admin": "secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseBasicAuthUsers(tt.credentials))
		})
	}
}
