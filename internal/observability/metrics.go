// Package observability provides Prometheus metrics for the detection pipeline.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Capture and windowing
	DeviceErrors   prometheus.Counter
	DeviceRestarts prometheus.Counter
	WindowsTotal   prometheus.Counter
	DroppedWindows prometheus.Counter

	// Inference
	PredictionDuration prometheus.Histogram
	PredictionTotal    prometheus.Counter
	PredictionErrors   prometheus.Counter

	// Detection policy
	DetectionCounter     *prometheus.CounterVec
	CooldownSuppressions *prometheus.CounterVec

	// Persistence
	PersistRetries  prometheus.Counter
	PersistFailures prometheus.Counter

	// Event bus
	EventsPublished prometheus.Counter
	SubscriberDrops prometheus.Counter
}

// NewMetrics creates a new instance of Metrics with all collectors registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}

	m.DeviceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdnet_device_errors_total",
		Help: "Total number of audio capture device errors.",
	})
	m.DeviceRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdnet_device_restarts_total",
		Help: "Total number of audio capture device reconnect attempts.",
	})
	m.WindowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdnet_analysis_windows_total",
		Help: "Total number of analysis windows produced.",
	})
	m.DroppedWindows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdnet_dropped_windows_total",
		Help: "Total number of analysis windows dropped under backpressure.",
	})
	m.PredictionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "birdnet_prediction_duration_seconds",
		Help:    "Time taken to perform a prediction.",
		Buckets: prometheus.DefBuckets,
	})
	m.PredictionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdnet_predictions_total",
		Help: "Total number of predictions performed.",
	})
	m.PredictionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdnet_prediction_errors_total",
		Help: "Total number of failed predictions.",
	})
	m.DetectionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "birdnet_detections_total",
		Help: "Total number of accepted detections partitioned by species name.",
	}, []string{"species"})
	m.CooldownSuppressions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "birdnet_cooldown_suppressions_total",
		Help: "Total number of candidates suppressed by the cooldown policy partitioned by species name.",
	}, []string{"species"})
	m.PersistRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdnet_persist_retries_total",
		Help: "Total number of retried detection store writes.",
	})
	m.PersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdnet_persist_failures_total",
		Help: "Total number of detection store writes that exhausted retries.",
	})
	m.EventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdnet_events_published_total",
		Help: "Total number of detection events published to the event bus.",
	})
	m.SubscriberDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "birdnet_subscriber_dropped_events_total",
		Help: "Total number of events dropped for slow subscribers.",
	})

	collectors := []prometheus.Collector{
		m.DeviceErrors, m.DeviceRestarts, m.WindowsTotal, m.DroppedWindows,
		m.PredictionDuration, m.PredictionTotal, m.PredictionErrors,
		m.DetectionCounter, m.CooldownSuppressions,
		m.PersistRetries, m.PersistFailures,
		m.EventsPublished, m.SubscriberDrops,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics collector: %w", err)
		}
	}

	return m, nil
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
