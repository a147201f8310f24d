// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and
// correlation-id aware logging helpers for the monitor loop.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CyclesTotal       *prometheus.CounterVec // label: outcome
	FetchErrorsTotal  *prometheus.CounterVec // labels: stage, class
	ChatMessagesTotal prometheus.Counter
	ChatPagesTotal    prometheus.Counter
	LogAppendsFailed  prometheus.Counter

	// Histograms (seconds)
	SamplingDuration prometheus.Observer
	CycleDuration    prometheus.Observer

	// Gauges
	ConcurrentViewers    prometheus.Gauge
	EstimatedRealViewers prometheus.Gauge
	EstimatedBotViewers  prometheus.Gauge
	UniqueChatters       prometheus.Gauge
	SuspiciousChatters   prometheus.Gauge
	CircuitOpenGauge     *prometheus.GaugeVec // label: breaker; 1=open,0=closed
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "botwatch_cycles_total", Help: "Monitor cycles by outcome"}, []string{"outcome"})
		FetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "botwatch_fetch_errors_total", Help: "Platform fetch errors by stage and class"}, []string{"stage", "class"})
		ChatMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "botwatch_chat_messages_total", Help: "Chat messages observed while sampling"})
		ChatPagesTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "botwatch_chat_pages_total", Help: "Chat pages fetched while sampling"})
		LogAppendsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "botwatch_log_appends_failed_total", Help: "Result log appends that failed"})
		SamplingDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "botwatch_sampling_duration_seconds", Help: "Chat sampling window duration seconds", Buckets: []float64{5, 10, 20, 30, 45, 60, 120}})
		CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "botwatch_cycle_duration_seconds", Help: "Cycle duration seconds, excluding the interval sleep", Buckets: prometheus.DefBuckets})
		ConcurrentViewers = promauto.NewGauge(prometheus.GaugeOpts{Name: "botwatch_concurrent_viewers", Help: "Concurrent viewers reported by the platform in the last cycle"})
		EstimatedRealViewers = promauto.NewGauge(prometheus.GaugeOpts{Name: "botwatch_estimated_real_viewers", Help: "Estimated real viewers in the last cycle"})
		EstimatedBotViewers = promauto.NewGauge(prometheus.GaugeOpts{Name: "botwatch_estimated_bot_viewers", Help: "Estimated bot viewers in the last cycle"})
		UniqueChatters = promauto.NewGauge(prometheus.GaugeOpts{Name: "botwatch_unique_chatters", Help: "Unique chatters in the last sampling window"})
		SuspiciousChatters = promauto.NewGauge(prometheus.GaugeOpts{Name: "botwatch_suspicious_chatters", Help: "Suspicious chatters in the last sampling window"})
		CircuitOpenGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "botwatch_circuit_open", Help: "Circuit breaker open=1 closed=0"}, []string{"breaker"})
	})
}

// UpdateCircuitGauge sets the breaker's gauge to 1 if open else 0.
func UpdateCircuitGauge(name string, open bool) {
	if CircuitOpenGauge == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	CircuitOpenGauge.WithLabelValues(name).Set(v)
}

// CountCycle increments the cycle counter for outcome.
func CountCycle(outcome string) {
	if CyclesTotal != nil {
		CyclesTotal.WithLabelValues(outcome).Inc()
	}
}

// CountFetchError increments the fetch error counter.
func CountFetchError(stage, class string) {
	if FetchErrorsTotal != nil {
		FetchErrorsTotal.WithLabelValues(stage, class).Inc()
	}
}

// Add increments c by n when c is registered.
func Add(c prometheus.Counter, n int) {
	if c != nil && n > 0 {
		c.Add(float64(n))
	}
}

// Set sets g to v when g is registered.
func Set(g prometheus.Gauge, v int) {
	if g != nil {
		g.Set(float64(v))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
