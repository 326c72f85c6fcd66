// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Rotation triggers, used as metric label values
const (
	TriggerTimer      = "timer"
	TriggerBufferFull = "buffer_full"
)

// Metrics tracks controller activity. A nil *Metrics records nothing.
type Metrics struct {
	sessionsStarted prometheus.Counter
	activeSessions  prometheus.Gauge
	rotations       *prometheus.CounterVec
	startFailures   prometheus.Counter
	stopFailures    prometheus.Counter
	tracesDelivered prometheus.Counter
	traceSamples    prometheus.Histogram
	stopLatency     prometheus.Histogram
}

// NewMetrics creates controller metrics and registers them with reg
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiler_sessions_started_total",
			Help:      "Total number of engine sessions started",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profiler_active_sessions",
			Help:      "Number of engine sessions currently running",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiler_rotations_total",
			Help:      "Total number of session rotations by trigger",
		}, []string{"trigger"}),
		startFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiler_session_start_failures_total",
			Help:      "Total number of engine sessions that failed to start",
		}),
		stopFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiler_session_stop_failures_total",
			Help:      "Total number of engine sessions whose stop resolved with an error",
		}),
		tracesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiler_traces_delivered_total",
			Help:      "Total number of traces handed to the consumer",
		}),
		traceSamples: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "profiler_trace_samples",
			Help:      "Number of samples per delivered trace",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		stopLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "profiler_session_stop_duration_seconds",
			Help:      "Time between stop initiation and trace availability",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.sessionsStarted, m.activeSessions, m.rotations, m.startFailures,
		m.stopFailures, m.tracesDelivered, m.traceSamples, m.stopLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register profiler metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.activeSessions.Set(1)
}

func (m *Metrics) sessionStopped() {
	if m == nil {
		return
	}
	m.activeSessions.Set(0)
}

func (m *Metrics) rotated(trigger string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(trigger).Inc()
}

func (m *Metrics) startFailed() {
	if m == nil {
		return
	}
	m.startFailures.Inc()
}

func (m *Metrics) stopFailed() {
	if m == nil {
		return
	}
	m.stopFailures.Inc()
}

func (m *Metrics) delivered(trace *ContinuousTrace, stopLatency time.Duration) {
	if m == nil {
		return
	}
	m.tracesDelivered.Inc()
	m.traceSamples.Observe(float64(trace.SampleCount()))
	m.stopLatency.Observe(stopLatency.Seconds())
}
