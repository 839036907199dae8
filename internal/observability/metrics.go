package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects orchestrator metrics: task lifecycle, model calls,
// tool dispatch, cache effectiveness, and the control HTTP surface.
type Metrics struct {
	// TasksStarted counts task starts. Labels: model.
	TasksStarted *prometheus.CounterVec

	// TasksFinished counts terminal transitions. Labels: model, status.
	TasksFinished *prometheus.CounterVec

	// TaskDuration measures wall time from start to terminal state.
	// Labels: status.
	TaskDuration *prometheus.HistogramVec

	// TaskIterations measures iterations per task.
	TaskIterations prometheus.Histogram

	// ModelCalls counts model invocations. Labels: model, status.
	ModelCalls *prometheus.CounterVec

	// ModelCallDuration measures model call latency. Labels: model.
	ModelCallDuration *prometheus.HistogramVec

	// ModelTokens counts tokens. Labels: model, type (prompt|completion).
	ModelTokens *prometheus.CounterVec

	// ModelRotations counts rotations away from a model. Labels: from, reason.
	ModelRotations *prometheus.CounterVec

	// ToolExecutions counts tool invocations. Labels: tool, status, mode
	// (parallel|sequential|speculative).
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time. Labels: tool.
	ToolDuration *prometheus.HistogramVec

	// CacheOps counts tool-cache lookups. Labels: outcome (hit|miss).
	CacheOps *prometheus.CounterVec

	// CompressionRuns counts history compressions. Labels: outcome
	// (noop|compressed|degraded).
	CompressionRuns *prometheus.CounterVec

	// CheckpointWrites counts checkpoint puts. Labels: status.
	CheckpointWrites *prometheus.CounterVec

	// ActiveTasks gauges tasks currently processing.
	ActiveTasks prometheus.Gauge

	// HTTPRequests counts control-surface requests.
	// Labels: method, path, status_code.
	HTTPRequests *prometheus.CounterVec
}

// ToolExecuted records one dispatched tool execution. Speculative results
// are consumed after the fact, so their elapsed time is unknown and only
// the counter moves.
func (m *Metrics) ToolExecuted(tool, status, mode string, elapsed time.Duration) {
	m.ToolExecutions.WithLabelValues(tool, status, mode).Inc()
	if elapsed > 0 {
		m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}

// CacheLookup mirrors a tool-cache lookup outcome into the exposition.
func (m *Metrics) CacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheOps.WithLabelValues(outcome).Inc()
}

// NewMetrics registers all metrics with reg; a nil reg uses the default
// Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TasksStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tasks_started_total",
				Help: "Total number of tasks started by model alias",
			},
			[]string{"model"},
		),
		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tasks_finished_total",
				Help: "Total number of tasks reaching a terminal status",
			},
			[]string{"model", "status"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_task_duration_seconds",
				Help:    "Wall time from task start to terminal state",
				Buckets: []float64{1, 5, 15, 60, 180, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		TaskIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conductor_task_iterations",
				Help:    "Model-call iterations per task",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		ModelCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_model_calls_total",
				Help: "Total model invocations by model and status",
			},
			[]string{"model", "status"},
		),
		ModelCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_model_call_duration_seconds",
				Help:    "Model call latency in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 180},
			},
			[]string{"model"},
		),
		ModelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_model_tokens_total",
				Help: "Token consumption by model and type",
			},
			[]string{"model", "type"},
		),
		ModelRotations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_model_rotations_total",
				Help: "Model rotations by source model and reason",
			},
			[]string{"from", "reason"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_executions_total",
				Help: "Tool invocations by tool, status, and dispatch mode",
			},
			[]string{"tool", "status", "mode"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_tool_duration_seconds",
				Help:    "Tool execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		CacheOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_cache_ops_total",
				Help: "Tool cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		CompressionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_compression_runs_total",
				Help: "Context compression runs by outcome",
			},
			[]string{"outcome"},
		),
		CheckpointWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_checkpoint_writes_total",
				Help: "Checkpoint writes by status",
			},
			[]string{"status"},
		),
		ActiveTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_active_tasks",
				Help: "Tasks currently processing",
			},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_http_requests_total",
				Help: "Control-surface HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}
