package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus instrumentation for the chat core.
//
// It tracks provider call performance, router decisions, tool execution,
// guardrail triggers, and cache effectiveness. All metrics register with
// the default registry and are served by the host's /metrics endpoint.
type Metrics struct {
	// LLMRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// RouterDecisions counts routing outcomes.
	// Labels: model, reason (scored|default|fallback)
	RouterDecisions *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|pending|in_progress)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// GuardrailTriggers counts guardrail policy violations.
	// Labels: rule
	GuardrailTriggers *prometheus.CounterVec

	// CacheOps counts cache lookups.
	// Labels: prefix, outcome (hit|miss|error)
	CacheOps *prometheus.CounterVec

	// DelegationCounter counts sub-agent delegations.
	// Labels: status (ok|cycle|depth|rate_limited|error)
	DelegationCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// Call once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chorus_llm_request_duration_seconds",
				Help:    "Duration of provider API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_llm_requests_total",
				Help: "Total provider API requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		RouterDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_router_decisions_total",
				Help: "Model routing outcomes by selected model and reason",
			},
			[]string{"model", "reason"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chorus_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		GuardrailTriggers: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_guardrail_triggers_total",
				Help: "Guardrail policy violations by rule",
			},
			[]string{"rule"},
		),

		CacheOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_cache_ops_total",
				Help: "Cache lookups by key prefix and outcome",
			},
			[]string{"prefix", "outcome"},
		),

		DelegationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_delegations_total",
				Help: "Sub-agent delegations by status",
			},
			[]string{"status"},
		),
	}
}

// RecordLLMRequest records a provider call with latency and token counts.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordRouterDecision records a routing outcome.
func (m *Metrics) RecordRouterDecision(model, reason string) {
	m.RouterDecisions.WithLabelValues(model, reason).Inc()
}

// RecordToolExecution records a tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordGuardrailTrigger records a guardrail violation.
func (m *Metrics) RecordGuardrailTrigger(rule string) {
	m.GuardrailTriggers.WithLabelValues(rule).Inc()
}

// RecordCacheOp records a cache lookup outcome for a key prefix.
func (m *Metrics) RecordCacheOp(prefix, outcome string) {
	m.CacheOps.WithLabelValues(prefix, outcome).Inc()
}

// RecordDelegation records a delegation attempt outcome.
func (m *Metrics) RecordDelegation(status string) {
	m.DelegationCounter.WithLabelValues(status).Inc()
}
