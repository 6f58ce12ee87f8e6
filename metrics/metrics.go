// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentdock"

// Registry is the collector registry served on /metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	chatRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_runs_total",
		Help:      "Orchestration runs by outcome (done, error, cancelled).",
	}, []string{"outcome"})

	toolInvocations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_invocations_total",
		Help:      "Tool invocations by binding kind and outcome.",
	}, []string{"kind", "outcome"})

	toolLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_invocation_seconds",
		Help:      "Tool invocation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	ingestedChunks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_chunks_total",
		Help:      "Chunks persisted by the retrieval pipeline.",
	})

	retrievalSearches = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_searches_total",
		Help:      "Retrieval searches by result (hit, empty, error).",
	}, []string{"result"})

	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ChatRun records the outcome of one orchestration run.
func ChatRun(outcome string) {
	chatRuns.WithLabelValues(outcome).Inc()
}

// ToolInvocation records one tool call.
func ToolInvocation(kind string, ok bool, elapsed time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	toolInvocations.WithLabelValues(kind, outcome).Inc()
	toolLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ChunksIngested adds to the ingested chunk count.
func ChunksIngested(n int) {
	ingestedChunks.Add(float64(n))
}

// RetrievalSearch records one search.
func RetrievalSearch(result string) {
	retrievalSearches.WithLabelValues(result).Inc()
}

// HTTPRequest records one served request.
func HTTPRequest(route, method, status string) {
	httpRequests.WithLabelValues(route, method, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
