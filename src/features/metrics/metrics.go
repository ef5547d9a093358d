// Package metrics exposes the pipeline and dispatcher prometheus
// collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the pipeline and dispatcher publish to.
type Metrics struct {
	StageDuration     *prometheus.HistogramVec
	QueueDepth        prometheus.Gauge
	AlignmentQuality  prometheus.Histogram
	StageFailureCount *prometheus.CounterVec
}

// New registers every collector against reg and returns the handle
// stages/dispatcher record against.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "karaopipe",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage, by stage name.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "karaopipe",
			Subsystem: "dispatcher",
			Name:      "active_workers",
			Help:      "Number of tracks currently being processed by a worker.",
		}),
		AlignmentQuality: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "karaopipe",
			Subsystem: "alignment",
			Name:      "quality",
			Help:      "Alignment quality score per track (0..1).",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		StageFailureCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "karaopipe",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Count of stage failures, by stage name.",
		}, []string{"stage"}),
	}
	reg.MustRegister(m.StageDuration, m.QueueDepth, m.AlignmentQuality, m.StageFailureCount)
	return m
}
