package gateway

import (
	"time"

	"github.com/dreamhive/memgate/internal/observability"
)

// The component packages take plain callbacks instead of the metrics
// struct. These adapters bridge the two; a nil Metrics yields nil
// callbacks, which every component treats as "don't observe".

func storeObserver(m *observability.Metrics) func(op string, d time.Duration) {
	if m == nil {
		return nil
	}
	return func(op string, d time.Duration) {
		m.StoreQueryDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

func taskObserver(m *observability.Metrics) func(name, status string) {
	if m == nil {
		return nil
	}
	return func(name, status string) {
		m.BackgroundTasks.WithLabelValues(name, status).Inc()
	}
}

func queueDepthObserver(m *observability.Metrics) func(delta int) {
	if m == nil {
		return nil
	}
	return func(delta int) {
		m.BackgroundQueueDepth.Add(float64(delta))
	}
}

func retrievalObserver(m *observability.Metrics) func(d time.Duration) {
	if m == nil {
		return nil
	}
	return func(d time.Duration) {
		m.RetrievalDuration.WithLabelValues("ok").Observe(d.Seconds())
	}
}

func rerankFallbackObserver(m *observability.Metrics) func() {
	if m == nil {
		return nil
	}
	return func() {
		m.RerankFallbacks.WithLabelValues("error").Inc()
	}
}

func injectionObserver(m *observability.Metrics) func(rule string) {
	if m == nil {
		return nil
	}
	return func(rule string) {
		m.InjectionsTotal.WithLabelValues(rule).Inc()
	}
}

func toolObserver(m *observability.Metrics) func(tool, status string) {
	if m == nil {
		return nil
	}
	return func(tool, status string) {
		m.ToolCalls.WithLabelValues(tool, status).Inc()
	}
}
