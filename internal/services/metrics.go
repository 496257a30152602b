package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"snaplens/internal/store"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Screenshot intake metrics
	ScreenshotsReceived *prometheus.CounterVec
	ScreenshotErrors    *prometheus.CounterVec

	// Pipeline metrics
	StageLatency *prometheus.HistogramVec

	// Follow-up action metrics
	ActionsDispatched *prometheus.CounterVec
	ActionsDeduped    prometheus.Counter
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(analysisStore *store.Store) *Metrics {
	metrics := &Metrics{
		// Screenshots by source (mobile push vs desktop watcher)
		ScreenshotsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "snaplens_screenshots_received_total",
			Help: "Total number of screenshots accepted for analysis by source",
		}, []string{"source"}),

		// Processing errors by type
		ScreenshotErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "snaplens_screenshot_errors_total",
			Help: "Total number of screenshot processing errors by type",
		}, []string{"error_type"}), // "validation", "vision", "delivery"

		// Vision stage latency histogram
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snaplens_stage_duration_seconds",
			Help:    "Vision pipeline stage latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for vision responses
		}, []string{"stage"}),

		// Follow-up actions by kind
		ActionsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "snaplens_actions_dispatched_total",
			Help: "Total number of follow-up actions dispatched by kind",
		}, []string{"kind"}),

		// Actions dropped because the same action key was already running
		ActionsDeduped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "snaplens_actions_deduplicated_total",
			Help: "Total number of follow-up actions dropped as already in flight",
		}),
	}

	// Register a collector that reports store occupancy from the store itself
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "snaplens_analyses_stored_current",
			Help: "Current number of analyses held in the in-memory store",
		},
		func() float64 {
			if analysisStore != nil {
				return float64(analysisStore.Len())
			}
			return 0
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordScreenshot records an accepted screenshot
func (m *Metrics) RecordScreenshot(source string) {
	m.ScreenshotsReceived.WithLabelValues(source).Inc()
}

// RecordError records a processing error
func (m *Metrics) RecordError(errorType string) {
	m.ScreenshotErrors.WithLabelValues(errorType).Inc()
}

// RecordStageLatency records a vision stage duration
func (m *Metrics) RecordStageLatency(stage string, seconds float64) {
	m.StageLatency.WithLabelValues(stage).Observe(seconds)
}

// RecordAction records a dispatched follow-up action
func (m *Metrics) RecordAction(kind string) {
	m.ActionsDispatched.WithLabelValues(kind).Inc()
}

// RecordActionDeduped records a follow-up action dropped by the in-flight guard
func (m *Metrics) RecordActionDeduped() {
	m.ActionsDeduped.Inc()
}
