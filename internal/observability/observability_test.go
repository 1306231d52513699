package observability_test

import (
	"VaultLedger/internal/observability"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

// ============================================================================
// Health
// ============================================================================

func TestHealthChecker_Readiness(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before ready: got %d, want 503", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("after ready: got %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("status: got %v, want ready", body["status"])
	}
}

func TestHealthChecker_FailingProbe(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetReady(true)

	healthy := true
	h.AddProbe("postgres", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("connection refused")
	})

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy probe: got %d, want 200", rec.Code)
	}

	healthy = false
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing probe: got %d, want 503", rec.Code)
	}

	var body struct {
		Status   string            `json:"status"`
		Failures map[string]string `json:"failures"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Failures["postgres"] != "connection refused" {
		t.Errorf("body: %+v", body)
	}

	// Liveness ignores probes.
	rec = httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness: got %d, want 200", rec.Code)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := observability.NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got %d, want 200", rec.Code)
	}
}

// ============================================================================
// Logging
// ============================================================================

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := observability.ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerTo_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "core", zerolog.WarnLevel)

	logger.Info().Msg("dropped")
	logger.Warn().Int64("sequence", 7).Msg("kept")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "core" {
		t.Errorf("component: got %v, want core", line["component"])
	}
	if line["message"] != "kept" {
		t.Errorf("message: got %v, want kept", line["message"])
	}
}

// ============================================================================
// Metrics
// ============================================================================

func TestNewMetricsWith_IsolatedRegistry(t *testing.T) {
	// Two instances on separate registries must not collide.
	m1 := observability.NewMetricsWith(prometheus.NewRegistry())
	m2 := observability.NewMetricsWith(prometheus.NewRegistry())

	m1.PublishDrops.Inc()
	if got := testutil.ToFloat64(m1.PublishDrops); got != 1 {
		t.Errorf("m1 publish drops: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m2.PublishDrops); got != 0 {
		t.Errorf("m2 publish drops: got %v, want 0", got)
	}
}

func TestSetChannelMetrics(t *testing.T) {
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	m.SetChannelMetrics("persist", 256, 1024)

	if got := testutil.ToFloat64(m.ChannelSize.WithLabelValues("persist")); got != 256 {
		t.Errorf("size: got %v, want 256", got)
	}
	if got := testutil.ToFloat64(m.ChannelCapacity.WithLabelValues("persist")); got != 1024 {
		t.Errorf("capacity: got %v, want 1024", got)
	}
	if got := testutil.ToFloat64(m.ChannelUtilization.WithLabelValues("persist")); got != 0.25 {
		t.Errorf("utilization: got %v, want 0.25", got)
	}
}
