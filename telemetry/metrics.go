// Package telemetry exports assistant metrics to Prometheus and traces to an
// OTLP collector.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"receiptly/model"
)

const namespace = "receiptly"

// Metrics records orchestrator activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	turns        *prometheus.CounterVec
	turnLatency  prometheus.Histogram
	rounds       prometheus.Histogram
	modelCalls   *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec
	attachments  *prometheus.CounterVec
	activeTurns  prometheus.Gauge
}

// MetricsConfig configures NewMetrics.
type MetricsConfig struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// LatencyBuckets in seconds.
	LatencyBuckets []float64

	// RuntimeCollectors adds the Go and process collectors.
	RuntimeCollectors bool
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		LatencyBuckets:    []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		RuntimeCollectors: true,
	}
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultMetricsConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{registry: registry}

	m.turns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "turns_total",
		Help:      "Chat turns by outcome",
	}, []string{"outcome"})

	m.turnLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "turn_duration_seconds",
		Help:      "Wall-clock duration of a chat turn",
		Buckets:   cfg.LatencyBuckets,
	})

	m.rounds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "rounds_per_turn",
		Help:      "Model calls made per turn",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})

	m.modelCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "Provider chat calls by status",
	}, []string{"provider", "status"})

	m.modelLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "latency_seconds",
		Help:      "Provider chat call latency",
		Buckets:   cfg.LatencyBuckets,
	}, []string{"provider"})

	m.tokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "tokens_total",
		Help:      "Tokens reported by providers",
	}, []string{"provider", "token_type"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tools",
		Name:      "calls_total",
		Help:      "Tool executions by tool and status",
	}, []string{"tool", "status"})

	m.toolLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "tools",
		Name:      "latency_seconds",
		Help:      "Tool execution latency",
		Buckets:   cfg.LatencyBuckets,
	}, []string{"tool"})

	m.attachments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "attachments",
		Name:      "processed_total",
		Help:      "Attachments by classified kind",
	}, []string{"kind"})

	m.activeTurns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "agent",
		Name:      "active_turns",
		Help:      "Turns currently running",
	})

	registry.MustRegister(
		m.turns, m.turnLatency, m.rounds,
		m.modelCalls, m.modelLatency, m.tokens,
		m.toolCalls, m.toolLatency,
		m.attachments, m.activeTurns,
	)
	if cfg.RuntimeCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.activeTurns.Inc()
}

// TurnFinished records the end of a turn. outcome is "done" or "error".
func (m *Metrics) TurnFinished(outcome string, rounds int, d time.Duration) {
	if m == nil {
		return
	}
	m.activeTurns.Dec()
	m.turns.WithLabelValues(outcome).Inc()
	m.turnLatency.Observe(d.Seconds())
	m.rounds.Observe(float64(rounds))
}

func (m *Metrics) ModelCall(provider string, d time.Duration, usage model.Usage, err error) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(provider, status(err == nil)).Inc()
	m.modelLatency.WithLabelValues(provider).Observe(d.Seconds())
	if usage.InputTokens > 0 {
		m.tokens.WithLabelValues(provider, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		m.tokens.WithLabelValues(provider, "output").Add(float64(usage.OutputTokens))
	}
}

func (m *Metrics) ToolCall(tool string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status(success)).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) Attachments(kinds []model.AttachmentKind) {
	if m == nil {
		return
	}
	for _, k := range kinds {
		m.attachments.WithLabelValues(string(k)).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
