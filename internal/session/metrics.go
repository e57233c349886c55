// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package session

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionOpenedTotal  atomic.Uint64
	statementRetryTotal atomic.Uint64
)

func recordSessionOpened() {
	sessionOpenedTotal.Add(1)
}

func recordStatementRetry() {
	statementRetryTotal.Add(1)
}

// MetricsCollector exposes session counters as Prometheus metrics.
type MetricsCollector struct {
	openedDesc  *prometheus.Desc
	retriesDesc *prometheus.Desc
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		openedDesc: prometheus.NewDesc(
			"tenantkit_sessions_opened_total",
			"Total number of sessions opened",
			nil,
			nil,
		),
		retriesDesc: prometheus.NewDesc(
			"tenantkit_statement_retries_total",
			"Total number of retried statement executions",
			nil,
			nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openedDesc
	ch <- c.retriesDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.openedDesc, prometheus.CounterValue, float64(sessionOpenedTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.retriesDesc, prometheus.CounterValue, float64(statementRetryTotal.Load()))
}
