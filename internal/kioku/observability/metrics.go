package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/kioku/internal/kioku/completion"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Prepares         *prometheus.CounterVec
	PrepareLatency   prometheus.Histogram
	Summarizations   *prometheus.CounterVec
	SummaryAttempts  prometheus.Histogram
	DroppedMessages  prometheus.Counter
	HistoryTokens    prometheus.Histogram
	CompletionTokens *prometheus.CounterVec
	GateDenials      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

var _ memory.Observer = (*Metrics)(nil)

// NewMetrics registers the instruments with reg. A nil reg uses a fresh
// registry, which keeps tests and multiple servers in one process apart.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Prepares: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prepare_total",
			Help:      "Context preparations by outcome (windowed, summarized, truncated).",
		}, []string{"outcome"}),
		PrepareLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prepare_latency_ms",
			Help:      "Latency of a context preparation in milliseconds.",
			Buckets:   []float64{1, 5, 25, 100, 500, 1000, 2500, 5000, 15000},
		}),
		Summarizations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Summaries produced by generation method.",
		}, []string{"method"}),
		SummaryAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summarization_attempts",
			Help:      "Summarizer calls per summarization.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		DroppedMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Messages dropped without being summarized.",
		}),
		HistoryTokens: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_tokens",
			Help:      "Estimated tokens of the prepared history.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		CompletionTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_tokens_total",
			Help:      "Tokens consumed by summarization calls, by model and kind.",
		}, []string{"model", "kind"}),
		GateDenials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarization_denied_total",
			Help:      "Turns that skipped summarization because a limit denied it.",
		}, []string{"reason"}),
		gatherer: reg,
	}
}

// ObservePrepare implements memory.Observer.
func (m *Metrics) ObservePrepare(stats memory.Stats, elapsed time.Duration) {
	outcome := "windowed"
	switch {
	case stats.SummaryCreated || stats.SummaryUpdated:
		outcome = "summarized"
	case stats.Truncated:
		outcome = "truncated"
	}
	m.Prepares.WithLabelValues(outcome).Inc()
	m.PrepareLatency.Observe(float64(elapsed.Milliseconds()))
	m.HistoryTokens.Observe(float64(stats.TotalTokens))

	if stats.SummaryCreated || stats.SummaryUpdated {
		method := string(memory.GenerationLLM)
		if stats.FallbackUsed {
			method = string(memory.GenerationFallback)
		}
		m.Summarizations.WithLabelValues(method).Inc()
		m.SummaryAttempts.Observe(float64(stats.SummarizationAttempts))
	}
	if stats.DroppedMessages > 0 {
		m.DroppedMessages.Add(float64(stats.DroppedMessages))
	}
}

// ObserveUsage matches the completion.NewMetered observer signature.
func (m *Metrics) ObserveUsage(_ context.Context, usage completion.TokenUsage) {
	model := usage.Model
	if model == "" {
		model = "unknown"
	}
	m.CompletionTokens.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	m.CompletionTokens.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
}

// ObserveGateDenial counts a turn whose summarization was disabled by the
// rate limiter ("rate_limit") or the token budget ("token_budget").
func (m *Metrics) ObserveGateDenial(reason string) {
	m.GateDenials.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
