// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Turnstile Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains custom Prometheus metrics for Turnstile.
type Metrics struct {
	AuthOperations *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	PasswordHash   *prometheus.HistogramVec
}

// NewMetrics creates and registers custom Turnstile metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_auth_operations_total",
				Help: "Total number of account and session operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_http_requests_total",
				Help: "Total number of API requests by route and status code",
			},
			[]string{"route", "status"},
		),
		PasswordHash: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_password_hash_seconds",
				Help:    "Wall time of password hash and verify calls",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"op"},
		),
	}

	reg.MustRegister(m.AuthOperations)
	reg.MustRegister(m.HTTPRequests)
	reg.MustRegister(m.PasswordHash)

	return m
}

// RecordOperation counts one auth operation. Its signature matches
// auth.OperationRecorder.
func (m *Metrics) RecordOperation(operation, outcome string) {
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordHTTPRequest counts one API request.
func (m *Metrics) RecordHTTPRequest(route string, status int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// ObserveHash records a hash or verify duration. Its signature matches
// auth.HashObserver.
func (m *Metrics) ObserveHash(op string, elapsed time.Duration) {
	m.PasswordHash.WithLabelValues(op).Observe(elapsed.Seconds())
}
