// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package selftelemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// startTestServer serves the agent handlers on a random port
func startTestServer(m *Metrics) *httptest.Server {
	mux := http.NewServeMux()
	m.InstallHandlers(mux)
	return httptest.NewServer(mux)
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthzHandler(t *testing.T) {
	srv := startTestServer(NewMetrics("test"))
	defer srv.Close()

	code, body := get(t, srv.URL+"/healthz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if strings.TrimSpace(body) != "ok" {
		t.Errorf("body = %q, want %q", body, "ok")
	}
}

func TestReadyzHandler(t *testing.T) {
	m := NewMetrics("test")
	srv := startTestServer(m)
	defer srv.Close()

	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("status before ready = %d, want %d", code, http.StatusServiceUnavailable)
	}

	m.SetReady(true)
	code, body := get(t, srv.URL+"/readyz")
	if code != http.StatusOK {
		t.Errorf("status after ready = %d, want %d", code, http.StatusOK)
	}
	if strings.TrimSpace(body) != "ready" {
		t.Errorf("body = %q, want %q", body, "ready")
	}
	if v := testutil.ToFloat64(m.AgentReady); v != 1 {
		t.Errorf("agent_ready = %v, want 1", v)
	}

	m.SetReady(false)
	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("status after unready = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics("test")
	m.SetBuildInfo("v1.2.3", "abc1234", "2026-03-01T00:00:00Z")
	srv := startTestServer(m)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		t.Fatalf("parse metrics: %v", err)
	}

	if v := gaugeValue(families["test_agent_live"]); v != 1 {
		t.Errorf("test_agent_live = %v, want 1", v)
	}
	if _, ok := families["go_goroutines"]; !ok {
		t.Errorf("go runtime collector not registered")
	}

	info := families["test_build_info"]
	if info == nil || len(info.GetMetric()) != 1 {
		t.Fatalf("test_build_info = %v, want one series", info)
	}
	labels := map[string]string{}
	for _, lp := range info.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	want := map[string]string{"version": "v1.2.3", "commit": "abc1234", "build_date": "2026-03-01T00:00:00Z"}
	for k, v := range want {
		if labels[k] != v {
			t.Errorf("build_info label %s = %q, want %q", k, labels[k], v)
		}
	}
}

func gaugeValue(mf *dto.MetricFamily) float64 {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return -1
	}
	return mf.GetMetric()[0].GetGauge().GetValue()
}

func TestNewMetrics_DefaultNamespace(t *testing.T) {
	m := NewMetrics("")
	if n := testutil.CollectAndCount(m.AgentLive, "contprof_agent_live"); n != 1 {
		t.Errorf("contprof_agent_live count = %d, want 1", n)
	}
}
