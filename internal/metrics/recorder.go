package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes workflow and notification metrics to prometheus
type Recorder struct {
	intents       *prometheus.CounterVec
	intentLatency *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	staleTasks    *prometheus.GaugeVec
}

// Config holds configuration for metrics recording
type Config struct {
	Namespace string
	Registry  prometheus.Registerer
}

// NewRecorder creates a new metrics recorder
func NewRecorder(config *Config) *Recorder {
	if config == nil {
		config = &Config{Namespace: "taskportal"}
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(config.Registry)

	return &Recorder{
		intents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "workflow_intents_total",
				Help:      "Workflow intents by outcome",
			},
			[]string{"intent", "outcome"},
		),
		intentLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "workflow_intent_duration_seconds",
				Help:      "Time spent executing a workflow intent",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"intent"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "workflow_notifications_total",
				Help:      "Transition notifications by sink and outcome",
			},
			[]string{"sink", "outcome"},
		),
		staleTasks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "workflow_stale_tasks",
				Help:      "Tasks idle beyond the sweep threshold, by status",
			},
			[]string{"status"},
		),
	}
}

// RecordIntent counts an intent and observes its latency
func (r *Recorder) RecordIntent(intent, outcome string, duration time.Duration) {
	r.intents.WithLabelValues(intent, outcome).Inc()
	r.intentLatency.WithLabelValues(intent).Observe(duration.Seconds())
}

func (r *Recorder) RecordNotification(sink, outcome string) {
	r.notifications.WithLabelValues(sink, outcome).Inc()
}

// SetStaleTasks replaces the stale task gauge with the latest sweep result
func (r *Recorder) SetStaleTasks(byStatus map[string]int) {
	r.staleTasks.Reset()
	for status, n := range byStatus {
		r.staleTasks.WithLabelValues(status).Set(float64(n))
	}
}
