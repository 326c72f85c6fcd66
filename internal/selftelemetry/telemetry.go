// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package selftelemetry provides self-monitoring metrics and health endpoints
// for the profiling agent.
package selftelemetry

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's own registry and lifecycle metrics
type Metrics struct {
	registry *prometheus.Registry
	ready    atomic.Bool

	AgentReady prometheus.Gauge
	AgentLive  prometheus.Gauge
	BuildInfo  *prometheus.GaugeVec
}

// NewMetrics creates a registry with runtime collectors and agent lifecycle
// metrics registered under namespace
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "contprof"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)

	factory := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.AgentReady = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "agent_ready",
		Help:      "Whether the agent is profiling (1 = ready)",
	})
	m.AgentLive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "agent_live",
		Help:      "Whether the agent process is running (1 = live)",
	})
	m.BuildInfo = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information, value is always 1",
	}, []string{"version", "commit", "build_date"})

	m.AgentLive.Set(1)
	return m
}

// Registry returns the registry other components register their collectors in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetBuildInfo records the running build
func (m *Metrics) SetBuildInfo(version, commit, buildDate string) {
	m.BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

// SetReady sets the readiness state
func (m *Metrics) SetReady(ready bool) {
	m.ready.Store(ready)
	if ready {
		m.AgentReady.Set(1)
	} else {
		m.AgentReady.Set(0)
	}
}

// IsReady returns the current readiness state
func (m *Metrics) IsReady() bool {
	return m.ready.Load()
}

// InstallHandlers serves /metrics from the agent registry plus /healthz and
// /readyz probes
func (m *Metrics) InstallHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !m.IsReady() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}
