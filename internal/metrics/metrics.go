// Package metrics exposes prometheus metrics for the classification
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsReceived counts records entering the pipeline.
	RecordsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logclass_records_received_total",
			Help: "Total number of records received for classification",
		},
		[]string{"source_type"},
	)

	// RecordsProcessed counts records that reached a terminal state.
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logclass_records_processed_total",
			Help: "Total number of records processed, by outcome",
		},
		[]string{"source_type", "outcome"},
	)

	// PipelineErrors counts stage-level failures.
	PipelineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logclass_pipeline_errors_total",
			Help: "Total number of pipeline errors, by type",
		},
		[]string{"error_type"},
	)

	// StageLatency tracks per-stage wall-clock time.
	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logclass_stage_seconds",
			Help:    "Time spent per pipeline stage in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	// Decisions counts decisions by chosen class and status.
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logclass_decisions_total",
			Help: "Total number of decisions recorded, by class and status",
		},
		[]string{"class_id", "status"},
	)

	// HighCriticalityEvents counts high-criticality Windows events seen.
	HighCriticalityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logclass_high_criticality_events_total",
			Help: "Total number of high criticality events detected",
		},
		[]string{"event_id"},
	)

	// QueueDepth tracks the length of the inbound log queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logclass_queue_depth",
			Help: "Current number of records in the inbound log queue",
		},
	)

	// Inflight tracks records currently admitted into the pipeline.
	Inflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logclass_inflight_records",
			Help: "Number of records currently being classified",
		},
	)
)

// ObserveStage records the duration of one pipeline stage.
func ObserveStage(stage string, start time.Time) {
	StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
