// Package telemetry provides Prometheus metrics and correlation-id aware
// logging helpers.
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
	EventsProcessed   *prometheus.CounterVec
	EventsSuppressed  *prometheus.CounterVec
	ItemsRendered     prometheus.Counter
	GiftsAggregated   prometheus.Counter
	CommandsRejected  prometheus.Counter
	RendererReconnect prometheus.Counter

	// Histograms (seconds)
	RenderDuration prometheus.Observer

	// Gauges
	QueueDepthGauge prometheus.Gauge
	GoalProgress    *prometheus.GaugeVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamfx_events_processed_total", Help: "Canonical events emitted by the notification processor"}, []string{"platform", "type"})
		EventsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamfx_events_suppressed_total", Help: "Raw items suppressed before normalization"}, []string{"platform"})
		ItemsRendered = promauto.NewCounter(prometheus.CounterOpts{Name: "streamfx_items_rendered_total", Help: "Display items completed through the full render cycle"})
		GiftsAggregated = promauto.NewCounter(prometheus.CounterOpts{Name: "streamfx_gifts_aggregated_total", Help: "Synthetic aggregated gift events emitted"})
		CommandsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "streamfx_commands_rejected_total", Help: "Command invocations rejected by a cooldown"})
		RendererReconnect = promauto.NewCounter(prometheus.CounterOpts{Name: "streamfx_renderer_reconnects_total", Help: "Renderer reconnect attempts scheduled"})
		RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streamfx_render_duration_seconds", Help: "Full item render cycle duration", Buckets: prometheus.DefBuckets})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamfx_queue_depth", Help: "Pending display items"})
		GoalProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "streamfx_goal_current", Help: "Current donation goal total"}, []string{"platform"})
	})
}

// SetQueueDepth records the pending display item count.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// IncItemsRendered counts one completed render cycle.
func IncItemsRendered() {
	if ItemsRendered != nil {
		ItemsRendered.Inc()
	}
}

// IncRendererReconnect counts one scheduled reconnect attempt.
func IncRendererReconnect() {
	if RendererReconnect != nil {
		RendererReconnect.Inc()
	}
}

// IncGiftsAggregated counts one synthetic aggregate emission.
func IncGiftsAggregated() {
	if GiftsAggregated != nil {
		GiftsAggregated.Inc()
	}
}

// SetGoalProgress records a platform's running goal total.
func SetGoalProgress(platform string, current float64) {
	if GoalProgress != nil {
		GoalProgress.WithLabelValues(platform).Set(current)
	}
}

// ObserveRenderDuration records one full cycle duration.
func ObserveRenderDuration(d time.Duration) {
	if RenderDuration != nil {
		RenderDuration.Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with the corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
