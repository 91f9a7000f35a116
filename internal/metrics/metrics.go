// Package metrics exposes Prometheus collectors for guest calls, traps and
// host function dispatch.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reglet-dev/trapbridge/trap"
)

const namespace = "trapbridge"

// Metrics holds the collectors. Each Metrics owns its registry so several
// executors can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	GuestCalls    *prometheus.CounterVec
	GuestDuration *prometheus.HistogramVec
	Traps         *prometheus.CounterVec
	HostCalls     *prometheus.CounterVec
	HostDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		GuestCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guest_calls_total",
				Help:      "Guest calls by engine and outcome",
			},
			[]string{"engine", "outcome"},
		),
		GuestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "guest_call_duration_seconds",
				Help:      "Guest call latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"engine"},
		),
		Traps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "traps_total",
				Help:      "Guest faults by trap code",
			},
			[]string{"code"},
		),
		HostCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "host_calls_total",
				Help:      "Host function invocations by function and status",
			},
			[]string{"function", "status"},
		),
		HostDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "host_call_duration_seconds",
				Help:      "Host function latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"function"},
		),
	}

	m.registry.MustRegister(
		m.GuestCalls,
		m.GuestDuration,
		m.Traps,
		m.HostCalls,
		m.HostDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordGuestCall counts a finished guest call.
func (m *Metrics) RecordGuestCall(engine, outcome string, elapsed time.Duration) {
	m.GuestCalls.WithLabelValues(engine, outcome).Inc()
	m.GuestDuration.WithLabelValues(engine).Observe(elapsed.Seconds())
}

// RecordTrap counts a diagnosed guest fault. It has the shape of a
// faultguard observer.
func (m *Metrics) RecordTrap(f *trap.Fault) {
	if f == nil {
		return
	}
	m.Traps.WithLabelValues(f.Code.Slug()).Inc()
}

// RecordHostCall counts a host function dispatch. It has the shape of a
// hostfuncs observer.
func (m *Metrics) RecordHostCall(function string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.HostCalls.WithLabelValues(function, status).Inc()
	m.HostDuration.WithLabelValues(function).Observe(elapsed.Seconds())
}
