// Package metrics holds the Prometheus collectors of the memory core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "duckmem"

// =============================================================================
// Worker
// =============================================================================

var (
	// WorkerMessages counts consumed messages by outcome ("extracted", "trivial", "failed").
	WorkerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_messages_total",
			Help:      "Conversation messages consumed by the worker",
		},
		[]string{"outcome"},
	)

	// WorkerSMS counts consumed inbound SMS by outcome.
	WorkerSMS = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_sms_total",
			Help:      "Inbound SMS consumed by the worker",
		},
		[]string{"outcome"},
	)

	// WorkerSessions counts generated session summaries.
	WorkerSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_session_summaries_total",
			Help:      "Session summaries written by the worker",
		},
	)

	// WorkerIterationErrors counts loop iterations that ended in an error.
	WorkerIterationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_iteration_errors_total",
			Help:      "Worker iterations that failed and triggered backoff",
		},
	)

	// FactDecisions counts contradiction-rule outcomes ("accept", "block", "supersede").
	FactDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fact_decisions_total",
			Help:      "Profile fact writes by contradiction-rule decision",
		},
		[]string{"action"},
	)
)

// =============================================================================
// LLM and embeddings
// =============================================================================

var (
	// Extractions counts extractor LLM calls by kind and result.
	Extractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extractor LLM calls",
		},
		[]string{"kind", "result"},
	)

	// EmbeddingRequests counts embedding lookups by result ("cache_hit", "ok", "error").
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding lookups by result",
		},
		[]string{"result"},
	)

	// EmbeddingLatency tracks embedding service round trips in seconds.
	EmbeddingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_latency_seconds",
			Help:      "Embedding service latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)
)

// =============================================================================
// Hygiene
// =============================================================================

var (
	// HygieneRows counts rows changed per hygiene step.
	HygieneRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hygiene_rows_total",
			Help:      "Rows decayed, deleted or consolidated by hygiene",
		},
		[]string{"step"},
	)

	// HygieneStepErrors counts failed hygiene steps.
	HygieneStepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hygiene_step_errors_total",
			Help:      "Hygiene steps that failed",
		},
		[]string{"step"},
	)
)

// =============================================================================
// Inbound
// =============================================================================

// InboundRecords counts Kafka records by envelope type and result ("stored", "invalid", "error").
var InboundRecords = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_records_total",
		Help:      "Inbound Kafka records handled",
	},
	[]string{"type", "result"},
)

// ScheduledRuns counts scheduler job runs by result ("ok", "error", "locked", "overlap").
var ScheduledRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduled_runs_total",
		Help:      "Scheduled job runs",
	},
	[]string{"job", "result"},
)

// Handler serves the default registry for the daemon's /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
