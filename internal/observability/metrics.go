package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the gateway's Prometheus metrics.
//
// Tracked dimensions:
//   - Proxy traffic by model, relay mode, and outcome
//   - Upstream LLM latency
//   - Retrieval latency and rerank fallbacks
//   - Tool invocations through the MCP surface
//   - Background task queue health
//   - Store query latency by operation
type Metrics struct {
	// ProxyRequests counts chat completion requests.
	// Labels: model, mode (stream|sync|fake_stream), status (ok|upstream_error|timeout|connect_error|bad_request)
	ProxyRequests *prometheus.CounterVec

	// UpstreamDuration measures upstream LLM call latency in seconds.
	// Labels: backend, model
	UpstreamDuration *prometheus.HistogramVec

	// RetrievalDuration measures hybrid retrieval latency in seconds.
	// Labels: outcome (ok|empty|timeout)
	RetrievalDuration *prometheus.HistogramVec

	// RerankFallbacks counts rerank calls that fell back to heuristic ordering.
	// Labels: reason (error|timeout|skipped)
	RerankFallbacks *prometheus.CounterVec

	// InjectionsTotal counts context injections by rule.
	// Labels: rule (cold_start|plot_recall|recall|emotion|none|skip_meta)
	InjectionsTotal *prometheus.CounterVec

	// ToolCalls counts MCP tool invocations.
	// Labels: tool, status (success|error)
	ToolCalls *prometheus.CounterVec

	// BackgroundTasks counts background executor outcomes.
	// Labels: task, status (ok|error|dropped|panic)
	BackgroundTasks *prometheus.CounterVec

	// BackgroundQueueDepth gauges queued background tasks.
	BackgroundQueueDepth prometheus.Gauge

	// StoreQueryDuration measures store operation latency in seconds.
	// Labels: operation
	StoreQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all gateway metrics with the default
// registry. Call once at startup; the promhttp handler exposes them.
func NewMetrics() *Metrics {
	return &Metrics{
		ProxyRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgate_proxy_requests_total",
				Help: "Total chat completion requests by model, relay mode, and status",
			},
			[]string{"model", "mode", "status"},
		),

		UpstreamDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memgate_upstream_duration_seconds",
				Help:    "Duration of upstream LLM calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"backend", "model"},
		),

		RetrievalDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memgate_retrieval_duration_seconds",
				Help:    "Duration of hybrid memory retrieval in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3},
			},
			[]string{"outcome"},
		),

		RerankFallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgate_rerank_fallbacks_total",
				Help: "Rerank calls that fell back to heuristic ordering",
			},
			[]string{"reason"},
		),

		InjectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgate_injections_total",
				Help: "Context injections by matched rule",
			},
			[]string{"rule"},
		),

		ToolCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgate_tool_calls_total",
				Help: "MCP tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		BackgroundTasks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memgate_background_tasks_total",
				Help: "Background executor task outcomes",
			},
			[]string{"task", "status"},
		),

		BackgroundQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "memgate_background_queue_depth",
				Help: "Background tasks currently queued",
			},
		),

		StoreQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memgate_store_query_duration_seconds",
				Help:    "Duration of store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
	}
}
