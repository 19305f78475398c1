// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
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
	SessionsStarted     prometheus.Counter
	SessionsFailed      prometheus.Counter
	SessionsCompleted   prometheus.Counter
	MessagesCollected   prometheus.Counter
	FramesDropped       prometheus.Counter
	TransportErrors     prometheus.Counter
	Reconnects          prometheus.Counter
	DeliveriesSucceeded prometheus.Counter
	DeliveriesFailed    prometheus.Counter
	TriggersRejected    *prometheus.CounterVec

	// Histograms (seconds)
	SessionDuration  prometheus.Observer
	DeliveryDuration prometheus.Observer

	// Gauges
	ActiveSessions prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_sessions_started_total", Help: "Number of chat sessions that obtained a join payload and started"})
		SessionsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_sessions_failed_total", Help: "Number of collections that could not start (join unavailable or handshake failure)"})
		SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_sessions_completed_total", Help: "Number of chat sessions that ran to the end of their window"})
		MessagesCollected = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_collected_total", Help: "Number of chat messages appended across sessions"})
		FramesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_frames_dropped_total", Help: "Number of inbound frames dropped as malformed"})
		TransportErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_transport_errors_total", Help: "Number of socket-level errors observed"})
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_reconnects_total", Help: "Number of successful socket reconnects"})
		DeliveriesSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_deliveries_succeeded_total", Help: "Number of results delivered downstream"})
		DeliveriesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_deliveries_failed_total", Help: "Number of result deliveries that failed"})
		TriggersRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_triggers_rejected_total", Help: "Number of collection triggers rejected by reason"}, []string{"reason"})
		SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_session_duration_seconds", Help: "Wall-clock duration of chat sessions", Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 120}})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_delivery_duration_seconds", Help: "Duration of result delivery requests", Buckets: prometheus.DefBuckets})
		ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_sessions_active", Help: "Current number of in-flight collections"})
	})
}

// RejectTrigger counts a refused collection request.
func RejectTrigger(reason string) {
	if TriggersRejected != nil {
		TriggersRejected.WithLabelValues(reason).Inc()
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

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
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
