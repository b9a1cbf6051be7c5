// Package monitoring exports Prometheus gauges/counters for the job queue,
// streaming buffers, and overview cache.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the server registers.
type Metrics struct {
	JobsSubmitted *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	JobQueueDepth *prometheus.GaugeVec

	StreamBufferDepth *prometheus.GaugeVec
	StreamBufferDrops *prometheus.CounterVec

	OverviewSegmentsBuilt *prometheus.CounterVec
	OverviewCacheHits     *prometheus.CounterVec
	OverviewCacheMisses   *prometheus.CounterVec

	SessionsActive       prometheus.Gauge
	FederationHandshakes *prometheus.CounterVec
}

// NewMetrics constructs and registers all collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		JobsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddalab_jobs_submitted_total",
				Help: "Total number of DDA jobs submitted, by terminal status",
			},
			[]string{"status"}, // completed, failed, cancelled
		),
		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ddalab_job_duration_seconds",
				Help:    "Wall-clock duration of a DDA job from start to terminal state",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		JobQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ddalab_job_queue_depth",
				Help: "Current number of jobs in each queue state",
			},
			[]string{"state"}, // pending, running
		),
		StreamBufferDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ddalab_stream_buffer_depth",
				Help: "Current occupied slots in a stream source's ring buffer",
			},
			[]string{"source_id"},
		),
		StreamBufferDrops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddalab_stream_buffer_drops_total",
				Help: "Total chunks dropped by a ring buffer's overflow strategy",
			},
			[]string{"source_id", "strategy"},
		),
		OverviewSegmentsBuilt: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddalab_overview_segments_built_total",
				Help: "Total progressive-overview segments computed per channel",
			},
			[]string{"channel"},
		),
		OverviewCacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddalab_overview_cache_hits_total",
				Help: "Total overview cache lookups satisfied without recomputation",
			},
			[]string{"channel"},
		),
		OverviewCacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddalab_overview_cache_misses_total",
				Help: "Total overview cache lookups that required recomputation",
			},
			[]string{"channel"},
		),
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ddalab_sessions_active",
				Help: "Current number of active user sessions",
			},
		),
		FederationHandshakes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ddalab_federation_handshakes_total",
				Help: "Total federation invite/accept operations, by outcome",
			},
			[]string{"outcome"}, // accepted, revoked, expired
		),
	}
}

// RecordJobTerminal records a job's terminal status and duration.
func (m *Metrics) RecordJobTerminal(status string, durationSeconds float64) {
	m.JobsSubmitted.WithLabelValues(status).Inc()
	m.JobDuration.WithLabelValues(status).Observe(durationSeconds)
}

// SetQueueDepth updates the pending/running gauges.
func (m *Metrics) SetQueueDepth(pending, running int) {
	m.JobQueueDepth.WithLabelValues("pending").Set(float64(pending))
	m.JobQueueDepth.WithLabelValues("running").Set(float64(running))
}

// RecordBufferDrop increments the drop counter for a source's overflow strategy.
func (m *Metrics) RecordBufferDrop(sourceID, strategy string) {
	m.StreamBufferDrops.WithLabelValues(sourceID, strategy).Inc()
}
