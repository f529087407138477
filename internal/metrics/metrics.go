package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the Admetry services. These are
// operator-facing counters, distinct from the aggregated ad metrics the
// pipeline produces.
type Metrics struct {
	// Gateway metrics
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec
	EventsAccepted   *prometheus.CounterVec
	EventsRejected   *prometheus.CounterVec
	PublishFallbacks *prometheus.CounterVec
	ArchiveFailures  *prometheus.CounterVec

	// Consumer metrics
	EventsConsumed *prometheus.CounterVec
	DecodeFailures *prometheus.CounterVec

	// Flush metrics
	BucketsFlushed prometheus.Counter
	FlushFailures  prometheus.Counter
	FlushDuration  prometheus.Histogram
	LiveBuckets    prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		HTTPLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_latency_seconds",
				Help:      "Latency of HTTP requests",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "endpoint"},
		),
		EventsAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_accepted_total",
				Help:      "Events validated and published by kind",
			},
			[]string{"kind"},
		),
		EventsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Events rejected at the gateway by kind and reason",
			},
			[]string{"kind", "reason"},
		),
		PublishFallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_dlq_fallbacks_total",
				Help:      "Publishes diverted to a dead-letter queue",
			},
			[]string{"queue"},
		),
		ArchiveFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_failures_total",
				Help:      "Raw payload archival failures by kind",
			},
			[]string{"kind"},
		),

		EventsConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_consumed_total",
				Help:      "Queue messages accounted and acknowledged by kind",
			},
			[]string{"kind"},
		),
		DecodeFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_failures_total",
				Help:      "Queue messages rejected due to malformed bodies",
			},
			[]string{"queue"},
		),

		BucketsFlushed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buckets_flushed_total",
				Help:      "Closed buckets persisted to the metrics store",
			},
		),
		FlushFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flush_failures_total",
				Help:      "Rows dropped because the sink write failed",
			},
		),
		FlushDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flush_duration_seconds",
				Help:      "Duration of one drain-and-flush cycle",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		LiveBuckets: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_buckets",
				Help:      "Buckets currently held in the aggregate store",
			},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records one gateway request.
func (m *Metrics) RecordRequest(method, endpoint string, status int, latency time.Duration) {
	m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, endpoint).Observe(latency.Seconds())
}

// RecordAccepted records an event accepted by the gateway.
func (m *Metrics) RecordAccepted(kind string) {
	m.EventsAccepted.WithLabelValues(kind).Inc()
}

// RecordRejected records an event the gateway refused.
func (m *Metrics) RecordRejected(kind, reason string) {
	m.EventsRejected.WithLabelValues(kind, reason).Inc()
}

// RecordDLQFallback records a publish diverted to a dead-letter queue.
func (m *Metrics) RecordDLQFallback(queue string) {
	m.PublishFallbacks.WithLabelValues(queue).Inc()
}

// RecordArchiveFailure records a raw archival failure.
func (m *Metrics) RecordArchiveFailure(kind string) {
	m.ArchiveFailures.WithLabelValues(kind).Inc()
}

// RecordConsumed records a fully accounted queue message.
func (m *Metrics) RecordConsumed(kind string) {
	m.EventsConsumed.WithLabelValues(kind).Inc()
}

// RecordDecodeFailure records a rejected malformed message.
func (m *Metrics) RecordDecodeFailure(queue string) {
	m.DecodeFailures.WithLabelValues(queue).Inc()
}

// RecordFlush records one drain-and-flush cycle.
func (m *Metrics) RecordFlush(flushed, failed int, took time.Duration) {
	m.BucketsFlushed.Add(float64(flushed))
	m.FlushFailures.Add(float64(failed))
	m.FlushDuration.Observe(took.Seconds())
}

// SetLiveBuckets updates the live bucket gauge.
func (m *Metrics) SetLiveBuckets(n int) {
	m.LiveBuckets.Set(float64(n))
}
