// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	engineCreatedTotal    atomic.Uint64
	bootstrapRetryTotal   atomic.Uint64
	bootstrapFailureTotal atomic.Uint64
)

func recordEngineCreated() {
	engineCreatedTotal.Add(1)
}

func recordBootstrapRetry() {
	bootstrapRetryTotal.Add(1)
}

func recordBootstrapFailure() {
	bootstrapFailureTotal.Add(1)
}

type MetricsCollector struct {
	cache *Cache

	enginesCachedDesc    *prometheus.Desc
	poolTotalDesc        *prometheus.Desc
	poolIdleDesc         *prometheus.Desc
	poolAcquiredDesc     *prometheus.Desc
	poolMaxDesc          *prometheus.Desc
	engineCreatedDesc    *prometheus.Desc
	bootstrapRetryDesc   *prometheus.Desc
	bootstrapFailureDesc *prometheus.Desc
}

func NewMetricsCollector(cache *Cache) *MetricsCollector {
	return &MetricsCollector{
		cache: cache,
		enginesCachedDesc: prometheus.NewDesc(
			"tenantkit_engines_cached",
			"Number of live engines in the cache",
			nil,
			nil,
		),
		poolTotalDesc: prometheus.NewDesc(
			"tenantkit_engine_pool_total_conns",
			"Connections currently held by an engine's pool",
			[]string{"identity"},
			nil,
		),
		poolIdleDesc: prometheus.NewDesc(
			"tenantkit_engine_pool_idle_conns",
			"Idle connections in an engine's pool",
			[]string{"identity"},
			nil,
		),
		poolAcquiredDesc: prometheus.NewDesc(
			"tenantkit_engine_pool_acquired_conns",
			"Connections checked out of an engine's pool",
			[]string{"identity"},
			nil,
		),
		poolMaxDesc: prometheus.NewDesc(
			"tenantkit_engine_pool_max_conns",
			"Configured connection ceiling of an engine's pool",
			[]string{"identity"},
			nil,
		),
		engineCreatedDesc: prometheus.NewDesc(
			"tenantkit_engines_created_total",
			"Engines constructed since process start, including anti-persistent ones",
			nil,
			nil,
		),
		bootstrapRetryDesc: prometheus.NewDesc(
			"tenantkit_bootstrap_retries_total",
			"Bootstrap attempts that failed transiently and were retried",
			nil,
			nil,
		),
		bootstrapFailureDesc: prometheus.NewDesc(
			"tenantkit_bootstrap_failures_total",
			"Bootstrap sequences that gave up with a connect error",
			nil,
			nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.enginesCachedDesc
	ch <- c.poolTotalDesc
	ch <- c.poolIdleDesc
	ch <- c.poolAcquiredDesc
	ch <- c.poolMaxDesc
	ch <- c.engineCreatedDesc
	ch <- c.bootstrapRetryDesc
	ch <- c.bootstrapFailureDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.cache == nil {
		return
	}

	snapshot := c.cache.Snapshot()

	ch <- prometheus.MustNewConstMetric(
		c.enginesCachedDesc,
		prometheus.GaugeValue,
		float64(len(snapshot)),
	)

	for identity, stats := range snapshot {
		ch <- prometheus.MustNewConstMetric(c.poolTotalDesc, prometheus.GaugeValue, float64(stats.TotalConns), identity)
		ch <- prometheus.MustNewConstMetric(c.poolIdleDesc, prometheus.GaugeValue, float64(stats.IdleConns), identity)
		ch <- prometheus.MustNewConstMetric(c.poolAcquiredDesc, prometheus.GaugeValue, float64(stats.AcquiredConns), identity)
		ch <- prometheus.MustNewConstMetric(c.poolMaxDesc, prometheus.GaugeValue, float64(stats.MaxConns), identity)
	}

	ch <- prometheus.MustNewConstMetric(
		c.engineCreatedDesc,
		prometheus.CounterValue,
		float64(engineCreatedTotal.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		c.bootstrapRetryDesc,
		prometheus.CounterValue,
		float64(bootstrapRetryTotal.Load()),
	)
	ch <- prometheus.MustNewConstMetric(
		c.bootstrapFailureDesc,
		prometheus.CounterValue,
		float64(bootstrapFailureTotal.Load()),
	)
}
