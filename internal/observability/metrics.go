package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent, grounded on the
// teacher's metrics.go promauto construction pattern — transfer/chunk/
// crypto/FEC metric families replaced with queue/batch/sink/bookmark
// families for the event pipeline.
type Metrics struct {
	QueueDepth       *prometheus.GaugeVec
	BuffersLentTotal prometheus.Gauge

	EventsEnqueuedTotal *prometheus.CounterVec
	EventsDroppedTotal  *prometheus.CounterVec

	BatchSizeMessages prometheus.Histogram
	BatchSizeBytes    prometheus.Histogram

	SinkPostsTotal   *prometheus.CounterVec
	SinkPostDuration *prometheus.HistogramVec

	BookmarkCommitsTotal *prometheus.CounterVec

	WatchdogBeatsTotal  *prometheus.CounterVec
	WatchdogFailedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "syslogagent_queue_depth",
				Help: "Messages currently queued, by queue name",
			},
			[]string{"queue"},
		),

		BuffersLentTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "syslogagent_buffers_lent",
				Help: "Buffer pool slots currently lent out",
			},
		),

		EventsEnqueuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syslogagent_events_enqueued_total",
				Help: "Events successfully enqueued, by channel",
			},
			[]string{"channel"},
		),

		EventsDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syslogagent_events_dropped_total",
				Help: "Events dropped, by reason (queue_full, oversized)",
			},
			[]string{"reason"},
		),

		BatchSizeMessages: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "syslogagent_batch_size_messages",
				Help:    "Messages per posted batch",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
		),

		BatchSizeBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "syslogagent_batch_size_bytes",
				Help:    "Bytes per posted batch",
				Buckets: prometheus.ExponentialBuckets(512, 4, 8),
			},
		),

		SinkPostsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syslogagent_sink_posts_total",
				Help: "Sink post attempts, by sink name and outcome",
			},
			[]string{"sink", "outcome"},
		),

		SinkPostDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syslogagent_sink_post_duration_seconds",
				Help:    "Sink post latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
			[]string{"sink"},
		),

		BookmarkCommitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syslogagent_bookmark_commits_total",
				Help: "Bookmark commits, by channel",
			},
			[]string{"channel"},
		),

		WatchdogBeatsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syslogagent_watchdog_beats_total",
				Help: "Heartbeat ticks recorded, by heart name",
			},
			[]string{"heart"},
		),

		WatchdogFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syslogagent_watchdog_failed_total",
				Help: "Heartbeat staleness failures declared, by heart name",
			},
			[]string{"heart"},
		),
	}
}

// RecordEnqueued updates queue-depth and enqueue counters for channel.
func (m *Metrics) RecordEnqueued(queueName, channel string, depth int) {
	m.QueueDepth.WithLabelValues(queueName).Set(float64(depth))
	m.EventsEnqueuedTotal.WithLabelValues(channel).Inc()
}

// RecordDropped increments the drop counter for reason ("queue_full" or
// "oversized").
func (m *Metrics) RecordDropped(reason string) {
	m.EventsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordBatch records one posted batch's shape.
func (m *Metrics) RecordBatch(messages, bytes int) {
	m.BatchSizeMessages.Observe(float64(messages))
	m.BatchSizeBytes.Observe(float64(bytes))
}

// RecordSinkPost records one sink post's outcome and latency.
func (m *Metrics) RecordSinkPost(sinkName, outcome string, durationSeconds float64) {
	m.SinkPostsTotal.WithLabelValues(sinkName, outcome).Inc()
	m.SinkPostDuration.WithLabelValues(sinkName).Observe(durationSeconds)
}

// RecordBookmarkCommit increments the commit counter for channel.
func (m *Metrics) RecordBookmarkCommit(channel string) {
	m.BookmarkCommitsTotal.WithLabelValues(channel).Inc()
}

// RecordWatchdogBeat increments the beat counter for heart.
func (m *Metrics) RecordWatchdogBeat(heart string) {
	m.WatchdogBeatsTotal.WithLabelValues(heart).Inc()
}

// RecordWatchdogFailure increments the staleness-failure counter for heart.
func (m *Metrics) RecordWatchdogFailure(heart string) {
	m.WatchdogFailedTotal.WithLabelValues(heart).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
