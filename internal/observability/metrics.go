// Package observability exposes Prometheus metrics for the bot pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "ragbot"

// Message outcomes
const (
	OutcomeReply    = "reply"
	OutcomeFallback = "fallback"
	OutcomeCommand  = "command"
	OutcomeRefused  = "refused"
)

// Metrics holds the pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesTotal      *prometheus.CounterVec
	EmbeddingFallbacks prometheus.Counter
	ChatFailures       prometheus.Counter
	ChatDuration       prometheus.Histogram
	KnowledgeInserts   *prometheus.CounterVec
	QueueRejected      prometheus.Counter
	DuplicateUpdates   prometheus.Counter
}

// NewMetrics registers all metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Inbound messages handled, by outcome.",
		}, []string{"outcome"}),
		EmbeddingFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "embedding_fallbacks_total",
			Help:      "Embedding calls that returned the zero-vector fallback.",
		}),
		ChatFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chat_failures_total",
			Help:      "Chat completion calls that failed.",
		}),
		ChatDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "chat_duration_seconds",
			Help:      "Chat completion latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		KnowledgeInserts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "knowledge_inserts_total",
			Help:      "Knowledge insert attempts, by result.",
		}, []string{"result"}),
		QueueRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "queue_rejected_total",
			Help:      "Messages rejected because the worker queue was full.",
		}),
		DuplicateUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "duplicate_updates_total",
			Help:      "Telegram updates dropped as redeliveries.",
		}),
	}
}

func (m *Metrics) ObserveMessage(outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEmbeddingFallback() {
	if m == nil {
		return
	}
	m.EmbeddingFallbacks.Inc()
}

// ObserveChat records one chat completion call
func (m *Metrics) ObserveChat(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ChatDuration.Observe(d.Seconds())
	if err != nil {
		m.ChatFailures.Inc()
	}
}

func (m *Metrics) ObserveInsert(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.KnowledgeInserts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveQueueRejected() {
	if m == nil {
		return
	}
	m.QueueRejected.Inc()
}

func (m *Metrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateUpdates.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
