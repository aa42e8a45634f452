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
	OrdersReceived  prometheus.Counter
	OrdersSucceeded prometheus.Counter
	OrdersFailed    prometheus.Counter
	OrdersThrottled prometheus.Counter
	AuthRetries     prometheus.Counter
	AuthRejected    prometheus.Counter

	// Token refreshes by outcome (success, transient, invalid_grant, insufficient_scope)
	TokenRefreshes *prometheus.CounterVec

	// Histograms (seconds)
	OrderDuration prometheus.Observer
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		OrdersReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "cafe_orders_received_total", Help: "Number of order requests received"})
		OrdersSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "cafe_orders_succeeded_total", Help: "Number of orders posted to chat"})
		OrdersFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "cafe_orders_failed_total", Help: "Number of orders that failed"})
		OrdersThrottled = promauto.NewCounter(prometheus.CounterOpts{Name: "cafe_orders_throttled_total", Help: "Number of orders rejected by the per-viewer cooldown"})
		AuthRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "cafe_auth_retries_total", Help: "Number of 401-triggered refresh-and-retry cycles"})
		AuthRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "cafe_auth_rejected_total", Help: "Number of inbound requests rejected by JWT verification"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cafe_token_refresh_total", Help: "Token refresh attempts by outcome"}, []string{"outcome"})
		OrderDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "cafe_order_duration_seconds", Help: "Order handling duration seconds", Buckets: prometheus.DefBuckets})
	})
}

// CountTokenRefresh records a refresh attempt outcome; no-op before Init.
func CountTokenRefresh(outcome string) {
	if TokenRefreshes != nil {
		TokenRefreshes.WithLabelValues(outcome).Inc()
	}
}

// CountAuthRetry records a 401-triggered retry cycle; no-op before Init.
func CountAuthRetry() {
	if AuthRetries != nil {
		AuthRetries.Inc()
	}
}

// CountAuthRejected records an inbound verification failure; no-op before Init.
func CountAuthRejected() {
	if AuthRejected != nil {
		AuthRejected.Inc()
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

// WithCorrelation returns a new context embedding the correlation id.
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
