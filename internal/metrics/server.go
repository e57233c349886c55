// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tenantkit/internal/config"
	"github.com/autobrr/tenantkit/pkg/redact"
)

type Server struct {
	server         *http.Server
	basicAuthUsers map[string]string
	manager        *MetricsManager
}

// NewMetricsServer wires the registry, health endpoint and log endpoints
// onto a standalone HTTP server. appConfig may be nil, in which case the
// log-settings and log-stream routes are not mounted.
func NewMetricsServer(manager *MetricsManager, appConfig *config.AppConfig, addr string, basicAuthUsers map[string]string) *Server {
	s := &Server{
		basicAuthUsers: basicAuthUsers,
		manager:        manager,
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if compress, err := httpcompression.DefaultAdapter(); err == nil {
		router.Use(compress)
	} else {
		log.Warn().Err(err).Msg("Failed to initialize response compression")
	}

	if len(s.basicAuthUsers) > 0 {
		router.Use(BasicAuth("metrics", s.basicAuthUsers))
	}

	handler := promhttp.HandlerFor(
		manager.GetRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)

	router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Msg("Serving Prometheus metrics")
		handler.ServeHTTP(w, r)
	})

	router.Get("/healthz", s.handleHealth)

	if appConfig != nil {
		logsHandler := NewLogsHandler(appConfig)
		logsHandler.Routes(router)
	}

	s.server = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return s
}

// ParseBasicAuthUsers parses a "user:pass,user2:pass2" credential list, the
// form the --metrics-basic-auth-users flag takes. Malformed entries are
// skipped with a warning.
func ParseBasicAuthUsers(credentials string) map[string]string {
	users := make(map[string]string)
	if credentials == "" {
		return users
	}

	for cred := range strings.SplitSeq(credentials, ",") {
		parts := strings.Split(strings.TrimSpace(cred), ":")
		if len(parts) == 2 {
			users[parts[0]] = parts[1]
		} else {
			log.Warn().Msgf("Invalid metrics basic auth credentials: %s", redact.BasicAuthUser(cred))
		}
	}

	return users
}

type healthResponse struct {
	Status   string         `json:"status"`
	Engines  int            `json:"engines"`
	Bindings map[string]int `json:"bindings"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Bindings: make(map[string]int),
	}

	if s.manager.engineCache != nil {
		resp.Engines = s.manager.engineCache.Len()
	}
	if s.manager.bindingCache != nil {
		for state, count := range s.manager.bindingCache.States() {
			resp.Bindings[state.String()] = count
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Debug().Err(err).Msg("Failed to encode health response")
	}
}

func (s *Server) ListenAndServe() error {
	log.Info().
		Str("address", s.server.Addr).
		Msg("Starting Prometheus metrics server")

	return s.server.ListenAndServe()
}

func (s *Server) Stop() error {
	return s.server.Close()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// BasicAuth middleware for metrics endpoint (matches autobrr implementation)
func BasicAuth(realm string, users map[string]string) func(http.Handler) http.Handler {
	return middleware.BasicAuth(realm, users)
}
