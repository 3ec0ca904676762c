// Package metrics exposes Prometheus collectors for transcode jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe_transcode_jobs_total",
			Help: "Transcode jobs by terminal state",
		},
		[]string{"state"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "safe_transcode_job_duration_seconds",
			Help:    "Wall time from job start to terminal state",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"state"},
	)

	EncoderSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safe_transcode_encoder_selections_total",
			Help: "Encoder selections by class and concrete encoder",
		},
		[]string{"class", "encoder"},
	)

	Substitutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safe_transcode_original_substitutions_total",
			Help: "Jobs where the original bytes replaced the transcoded output",
		},
	)

	BytesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "safe_transcode_bytes_saved_total",
			Help: "Bytes saved by accepted transcodes",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safe_transcode_queue_depth",
			Help: "Jobs waiting for a worker slot",
		},
	)

	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "safe_transcode_active_jobs",
			Help: "Jobs currently running",
		},
	)
)
