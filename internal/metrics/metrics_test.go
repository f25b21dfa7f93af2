package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func TestRecordAsk_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAsk(OutcomeOK)
	c.RecordAsk(OutcomeOK)
	c.RecordAsk(OutcomeRateLimited)

	if got := counterValue(t, reg, "bookchat_asks_total", "outcome", OutcomeOK); got != 2 {
		t.Errorf("ok = %v, want 2", got)
	}
	if got := counterValue(t, reg, "bookchat_asks_total", "outcome", OutcomeRateLimited); got != 1 {
		t.Errorf("rate_limited = %v, want 1", got)
	}
}

func TestRecordJobAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordJob("succeeded")
	c.RecordHTTPStatus(429)

	if got := counterValue(t, reg, "bookchat_jobs_total", "status", "succeeded"); got != 1 {
		t.Errorf("jobs = %v, want 1", got)
	}
	if got := counterValue(t, reg, "bookchat_http_responses_total", "status_code", "429"); got != 1 {
		t.Errorf("http 429 = %v, want 1", got)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordGenerationLatency(120 * time.Millisecond)
	c.RecordRetrievalLatency(10 * time.Millisecond)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "bookchat_generation_latency_seconds") {
		t.Error("response should contain generation latency histogram")
	}
}
