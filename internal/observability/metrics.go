package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects adpilot's Prometheus metrics on a private registry.
//
// It tracks:
//   - JSON-RPC calls to the Google Ads MCP server, by method and outcome
//   - Tool dispatches from the agent loop, by tool and outcome
//   - Reasoning-service requests and token consumption
//   - Agent loop outcomes (completed, max_iterations, error)
//   - Research API and webhook traffic
//
// All record methods are safe to call on a nil *Metrics, so components can
// treat metrics as optional.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordRPC("tools/call", "success", time.Since(start).Seconds())
//	http.Handle("/metrics", metrics.Handler())
type Metrics struct {
	registry *prometheus.Registry

	// RPCCounter counts MCP requests.
	// Labels: method, status (success|timeout|closed|error or the JSON-RPC error kind)
	RPCCounter *prometheus.CounterVec

	// RPCDuration measures MCP request latency in seconds.
	// Labels: method
	RPCDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool dispatches.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// LLMRequestCounter counts reasoning-service requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures reasoning-service latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// LoopRuns counts finished agent loop runs.
	// Labels: outcome (completed|max_iterations|error)
	LoopRuns *prometheus.CounterVec

	// ResearchRequestCounter counts market-research API requests.
	// Labels: endpoint, status_code
	ResearchRequestCounter *prometheus.CounterVec

	// WebhookRequestCounter counts webhook requests.
	// Labels: action, status_code
	WebhookRequestCounter *prometheus.CounterVec
}

// NewMetrics creates all metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RPCCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_mcp_requests_total",
				Help: "Total number of MCP JSON-RPC requests by method and status",
			},
			[]string{"method", "status"},
		),

		RPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adpilot_mcp_request_duration_seconds",
				Help:    "Duration of MCP JSON-RPC requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"method"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adpilot_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adpilot_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LoopRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_agent_runs_total",
				Help: "Total number of agent loop runs by outcome",
			},
			[]string{"outcome"},
		),

		ResearchRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_research_requests_total",
				Help: "Total number of market research API requests",
			},
			[]string{"endpoint", "status_code"},
		),

		WebhookRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adpilot_webhook_requests_total",
				Help: "Total number of webhook requests by action and status code",
			},
			[]string{"action", "status_code"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRPC records one MCP request.
func (m *Metrics) RecordRPC(method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RPCCounter.WithLabelValues(method, status).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for a reasoning-service request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordLoopRun counts a finished agent run.
func (m *Metrics) RecordLoopRun(outcome string) {
	if m == nil {
		return
	}
	m.LoopRuns.WithLabelValues(outcome).Inc()
}

// RecordResearchRequest counts a market-research API request.
func (m *Metrics) RecordResearchRequest(endpoint, statusCode string) {
	if m == nil {
		return
	}
	m.ResearchRequestCounter.WithLabelValues(endpoint, statusCode).Inc()
}

// RecordWebhookRequest counts a webhook request.
func (m *Metrics) RecordWebhookRequest(action, statusCode string) {
	if m == nil {
		return
	}
	m.WebhookRequestCounter.WithLabelValues(action, statusCode).Inc()
}
