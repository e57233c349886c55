// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes the access layer's Prometheus registry and the
// sidecar HTTP server that serves it, together with operational endpoints
// for health and log management.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/tenantkit/internal/bindings"
	"github.com/autobrr/tenantkit/internal/engine"
	"github.com/autobrr/tenantkit/internal/hooks"
	"github.com/autobrr/tenantkit/internal/session"
)

type MetricsManager struct {
	registry     *prometheus.Registry
	engineCache  *engine.Cache
	bindingCache *bindings.Cache
}

// NewMetricsManager builds a registry with the standard Go and process
// collectors plus the access layer collectors. Nil caches are allowed;
// their collectors report nothing until real caches exist.
func NewMetricsManager(engineCache *engine.Cache, bindingCache *bindings.Cache) *MetricsManager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(engine.NewMetricsCollector(engineCache))
	registry.MustRegister(bindings.NewMetricsCollector(bindingCache))
	registry.MustRegister(session.NewMetricsCollector())
	registry.MustRegister(hooks.NewMetricsCollector())

	log.Info().Msg("Metrics manager initialized with collectors")

	return &MetricsManager{
		registry:     registry,
		engineCache:  engineCache,
		bindingCache: bindingCache,
	}
}

func (m *MetricsManager) GetRegistry() *prometheus.Registry {
	return m.registry
}
