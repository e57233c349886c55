// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hooks

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runCompletedTotal atomic.Uint64
	runFailedTotal    atomic.Uint64
)

func recordRunCompleted() {
	runCompletedTotal.Add(1)
}

func recordRunFailed() {
	runFailedTotal.Add(1)
}

// MetricsCollector exposes postcreate hook counters as Prometheus metrics.
type MetricsCollector struct {
	completedDesc *prometheus.Desc
	failedDesc    *prometheus.Desc
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		completedDesc: prometheus.NewDesc(
			"tenantkit_hook_runs_total",
			"Total number of committed postcreate hook runs",
			nil,
			nil,
		),
		failedDesc: prometheus.NewDesc(
			"tenantkit_hook_failures_total",
			"Total number of rolled-back postcreate hook runs",
			nil,
			nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.completedDesc
	ch <- c.failedDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.completedDesc, prometheus.CounterValue, float64(runCompletedTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.failedDesc, prometheus.CounterValue, float64(runFailedTotal.Load()))
}
