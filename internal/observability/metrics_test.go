package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.RecordRPC("tools/call", "success", 0.2)
	m.RecordRPC("tools/call", "success", 0.3)
	m.RecordRPC("tools/call", "timeout", 60)
	m.RecordToolExecution("query", "error", 0.1)
	m.RecordLLMRequest("anthropic", "claude", "success", 1.5, 100, 40)
	m.RecordLoopRun("completed")
	m.RecordWebhookRequest("health_check", "200")
	m.RecordResearchRequest("keywords", "429")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"rpc success", testutil.ToFloat64(m.RPCCounter.WithLabelValues("tools/call", "success")), 2},
		{"rpc timeout", testutil.ToFloat64(m.RPCCounter.WithLabelValues("tools/call", "timeout")), 1},
		{"tool error", testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("query", "error")), 1},
		{"input tokens", testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude", "input")), 100},
		{"output tokens", testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude", "output")), 40},
		{"loop", testutil.ToFloat64(m.LoopRuns.WithLabelValues("completed")), 1},
		{"webhook", testutil.ToFloat64(m.WebhookRequestCounter.WithLabelValues("health_check", "200")), 1},
		{"research", testutil.ToFloat64(m.ResearchRequestCounter.WithLabelValues("keywords", "429")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestMetricsIsolatedRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics()
	b := NewMetrics()
	a.RecordLoopRun("error")

	if got := testutil.ToFloat64(b.LoopRuns.WithLabelValues("error")); got != 0 {
		t.Errorf("second registry observed %v runs", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordRPC("initialize", "success", 0.1)
	m.RecordToolExecution("query", "success", 0.1)
	m.RecordLLMRequest("anthropic", "claude", "error", 0, 0, 0)
	m.RecordLoopRun("completed")
	m.RecordWebhookRequest("chat", "400")
	m.RecordResearchRequest("competitors", "200")
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordRPC("initialize", "success", 0.01)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `adpilot_mcp_requests_total{method="initialize",status="success"} 1`) {
		t.Errorf("metrics output missing rpc counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected go runtime collector output")
	}
}
