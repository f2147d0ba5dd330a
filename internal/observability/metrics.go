// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the warden Prometheus collectors. It implements
// auth.Metrics.
type Metrics struct {
	LoginAttempts    *prometheus.CounterVec
	Registrations    *prometheus.CounterVec
	SessionEvents    *prometheus.CounterVec
	PermissionChecks *prometheus.CounterVec
	AuditDropped     prometheus.Counter
	HTTPDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers the warden collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_registrations_total",
				Help: "Registration attempts by outcome",
			},
			[]string{"outcome"},
		),
		SessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_session_events_total",
				Help: "Session lifecycle events by kind",
			},
			[]string{"event"},
		),
		PermissionChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permission_checks_total",
				Help: "Authorization decisions by result",
			},
			[]string{"allowed"},
		),
		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		}),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request latency by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	reg.MustRegister(
		m.LoginAttempts,
		m.Registrations,
		m.SessionEvents,
		m.PermissionChecks,
		m.AuditDropped,
		m.HTTPDuration,
	)
	return m
}

// LoginAttempt implements auth.Metrics.
func (m *Metrics) LoginAttempt(outcome string) {
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

// Registration implements auth.Metrics.
func (m *Metrics) Registration(outcome string) {
	m.Registrations.WithLabelValues(outcome).Inc()
}

// SessionEvent implements auth.Metrics.
func (m *Metrics) SessionEvent(event string, n int) {
	if n <= 0 {
		return
	}
	m.SessionEvents.WithLabelValues(event).Add(float64(n))
}

// PermissionCheck implements auth.Metrics.
func (m *Metrics) PermissionCheck(allowed bool) {
	m.PermissionChecks.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

// AuditEventDropped counts an audit event the publisher discarded.
func (m *Metrics) AuditEventDropped() {
	m.AuditDropped.Inc()
}

// ObserveHTTP records one request. route is the matched pattern, not the
// raw path, to keep cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	if status == 0 {
		status = http.StatusOK
	}
	m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
