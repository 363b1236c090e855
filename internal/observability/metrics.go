package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Plan dispatch outcomes (completed, failed, cancelled, awaiting confirmation)
//   - LLM request performance and token consumption
//   - Tool execution patterns and latencies
//   - Perception bus depth and drop rates
//   - Error rates categorized by type and component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordPlanDispatch("completed", 3)
//	metrics.RecordToolExecution("filesystem", "list_directory", "success", 0.012)
type Metrics struct {
	// PlanCounter tracks dispatched plans by intent and final status.
	// Labels: intent, status (completed|failed|cancelled|awaiting_confirmation)
	PlanCounter *prometheus.CounterVec

	// PlanToolCalls measures how many tool calls each executed plan carried.
	// Buckets: 0, 1, 2, 3, 5, 8, 13, 20
	PlanToolCalls prometheus.Histogram

	// PlanDuration measures end-to-end plan execution time in seconds.
	// Labels: status
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	PlanDuration *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_id, capability, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_id, capability
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// BusEventsPublished counts perception events accepted by the bus.
	// Labels: source, event_type
	BusEventsPublished *prometheus.CounterVec

	// BusEventsDropped counts perception events rejected because the
	// bus queue was full.
	// Labels: source
	BusEventsDropped *prometheus.CounterVec

	// BusQueueDepth is a gauge tracking the current bus queue depth.
	BusQueueDepth prometheus.Gauge

	// SuspendedPlans is a gauge tracking plans awaiting user confirmation.
	SuspendedPlans prometheus.Gauge

	// ErrorCounter tracks errors by type and component.
	// Labels: component (dispatcher|registry|provider|tool|bus), error_type
	ErrorCounter *prometheus.CounterVec

	// RegisteredTools is a gauge tracking the number of enabled registered tools.
	RegisteredTools prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. This should be called once at application startup.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics registered against a specific
// registerer. Tests use this with a fresh prometheus.NewRegistry to avoid
// duplicate registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PlanCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_plans_total",
				Help: "Total number of dispatched plans by intent and final status",
			},
			[]string{"intent", "status"},
		),

		PlanToolCalls: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hopper_plan_tool_calls",
				Help:    "Number of tool calls per executed plan",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 20},
			},
		),

		PlanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hopper_plan_duration_seconds",
				Help:    "End-to-end plan execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hopper_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_tool_executions_total",
				Help: "Total number of tool executions by tool, capability, and status",
			},
			[]string{"tool_id", "capability", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hopper_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_id", "capability"},
		),

		BusEventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_bus_events_published_total",
				Help: "Total number of perception events accepted by the bus",
			},
			[]string{"source", "event_type"},
		),

		BusEventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_bus_events_dropped_total",
				Help: "Total number of perception events dropped because the queue was full",
			},
			[]string{"source"},
		),

		BusQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hopper_bus_queue_depth",
				Help: "Current number of events waiting in the perception bus queue",
			},
		),

		SuspendedPlans: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hopper_suspended_plans",
				Help: "Current number of plans awaiting user confirmation",
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		RegisteredTools: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hopper_registered_tools",
				Help: "Current number of enabled registered tools",
			},
		),
	}
}

// RecordPlanDispatch records the final status of a dispatched plan.
//
// Example:
//
//	metrics.RecordPlanDispatch("action_request", "completed", 3, time.Since(start).Seconds())
func (m *Metrics) RecordPlanDispatch(intent, status string, toolCalls int, durationSeconds float64) {
	m.PlanCounter.WithLabelValues(intent, status).Inc()
	m.PlanToolCalls.Observe(float64(toolCalls))
	m.PlanDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", time.Since(start).Seconds(), 100, 500)
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

// RecordToolExecution records metrics for a tool capability invocation.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("filesystem", "list_directory", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolID, capability, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolID, capability, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolID, capability).Observe(durationSeconds)
}

// RecordBusPublish records an accepted perception event.
func (m *Metrics) RecordBusPublish(source, eventType string) {
	m.BusEventsPublished.WithLabelValues(source, eventType).Inc()
}

// RecordBusDrop records a perception event rejected by a full queue.
func (m *Metrics) RecordBusDrop(source string) {
	m.BusEventsDropped.WithLabelValues(source).Inc()
}

// SetBusQueueDepth updates the bus queue depth gauge.
func (m *Metrics) SetBusQueueDepth(depth int) {
	m.BusQueueDepth.Set(float64(depth))
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("dispatcher", "plan_parse_error")
//	metrics.RecordError("tool", "timeout_error")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// SetRegisteredTools updates the registered tools gauge.
func (m *Metrics) SetRegisteredTools(count int) {
	m.RegisteredTools.Set(float64(count))
}
