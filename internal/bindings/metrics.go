// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bindings

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationTotal     atomic.Uint64
	loadTotal           atomic.Uint64
	reloadTotal         atomic.Uint64
	conflictTotal       atomic.Uint64
	failureTotal        atomic.Uint64
	resolutionMissTotal atomic.Uint64
)

func recordGeneration() {
	generationTotal.Add(1)
}

func recordLoad() {
	loadTotal.Add(1)
}

func recordReload() {
	reloadTotal.Add(1)
}

func recordConflict() {
	conflictTotal.Add(1)
}

func recordFailure() {
	failureTotal.Add(1)
}

func recordResolutionMiss() {
	resolutionMissTotal.Add(1)
}

// MetricsCollector exposes binding cache state and counters as Prometheus
// metrics.
type MetricsCollector struct {
	cache *Cache

	handlesDesc        *prometheus.Desc
	generationsDesc    *prometheus.Desc
	loadsDesc          *prometheus.Desc
	reloadsDesc        *prometheus.Desc
	conflictsDesc      *prometheus.Desc
	failuresDesc       *prometheus.Desc
	resolutionMissDesc *prometheus.Desc
}

func NewMetricsCollector(cache *Cache) *MetricsCollector {
	return &MetricsCollector{
		cache: cache,
		handlesDesc: prometheus.NewDesc(
			"tenantkit_bindings_cached",
			"Number of binding handles held by the cache, by state",
			[]string{"state"},
			nil,
		),
		generationsDesc: prometheus.NewDesc(
			"tenantkit_binding_generations_total",
			"Total number of binding artifact generations",
			nil,
			nil,
		),
		loadsDesc: prometheus.NewDesc(
			"tenantkit_binding_loads_total",
			"Total number of binding artifact loads",
			nil,
			nil,
		),
		reloadsDesc: prometheus.NewDesc(
			"tenantkit_binding_reloads_total",
			"Total number of in-place binding reloads after registration conflicts",
			nil,
			nil,
		),
		conflictsDesc: prometheus.NewDesc(
			"tenantkit_binding_conflicts_total",
			"Total number of binding registration conflicts detected",
			nil,
			nil,
		),
		failuresDesc: prometheus.NewDesc(
			"tenantkit_binding_failures_total",
			"Total number of bindings pinned in a failed state",
			nil,
			nil,
		),
		resolutionMissDesc: prometheus.NewDesc(
			"tenantkit_binding_resolution_misses_total",
			"Total number of table name lookups that resolved to no binding",
			nil,
			nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.handlesDesc
	ch <- c.generationsDesc
	ch <- c.loadsDesc
	ch <- c.reloadsDesc
	ch <- c.conflictsDesc
	ch <- c.failuresDesc
	ch <- c.resolutionMissDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.cache == nil {
		return
	}

	states := c.cache.States()
	for _, state := range []State{StateGenerating, StateLoaded, StateStale, StateFailed} {
		ch <- prometheus.MustNewConstMetric(
			c.handlesDesc,
			prometheus.GaugeValue,
			float64(states[state]),
			state.String(),
		)
	}

	ch <- prometheus.MustNewConstMetric(c.generationsDesc, prometheus.CounterValue, float64(generationTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.loadsDesc, prometheus.CounterValue, float64(loadTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.reloadsDesc, prometheus.CounterValue, float64(reloadTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.conflictsDesc, prometheus.CounterValue, float64(conflictTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue, float64(failureTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.resolutionMissDesc, prometheus.CounterValue, float64(resolutionMissTotal.Load()))
}
