package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the notification processor.
type Metrics struct {
	// Consumer/processor metrics
	MessageType            *prometheus.CounterVec // event-kind counter, labeled by eventType
	QueueDelay              prometheus.Histogram  // now - message_time_ms
	ProcessingDuration      prometheus.Histogram  // processing.total
	SubscriptionEventDelay  prometheus.Histogram  // sub.eventDelay

	// Fan-out / publish metrics
	PublishTotal    *prometheus.CounterVec // labeled by topic, status
	PublishDuration *prometheus.HistogramVec

	// Datastore metrics
	DatastoreOpDuration *prometheus.HistogramVec
	DatastoreErrors     *prometheus.CounterVec

	// Self-updating cache metrics
	CacheRefreshTotal    *prometheus.CounterVec // labeled by cache, status
	CacheRefreshDuration *prometheus.HistogramVec
	CacheEntries         *prometheus.GaugeVec

	// Codec metrics
	MessagesDropped *prometheus.CounterVec // labeled by reason

	// Ops HTTP surface metrics
	HTTPRequestDuration *prometheus.HistogramVec // labeled by method, path, status
}

// New builds and registers all collectors under the given namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		MessageType: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_type_total",
				Help:      "Total notifications handled, labeled by event type",
			},
			[]string{"event_type"},
		),
		QueueDelay: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_delay_seconds",
				Help:      "Time between message creation and dequeue",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		ProcessingDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "processing_total_seconds",
				Help:      "End-to-end handler processing duration",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SubscriptionEventDelay: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "subscription_event_delay_seconds",
				Help:      "Time between subscription event creation and handling",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
		),
		PublishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_total",
				Help:      "Total outbound publishes, labeled by topic and status",
			},
			[]string{"topic", "status"},
		),
		PublishDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Outbound publish duration",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"topic"},
		),
		DatastoreOpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "datastore_op_duration_seconds",
				Help:      "Login datastore operation duration",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		DatastoreErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datastore_errors_total",
				Help:      "Datastore operation failures, labeled by operation",
			},
			[]string{"operation"},
		),
		CacheRefreshTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_refresh_total",
				Help:      "Self-updating cache refresh attempts, labeled by cache and status",
			},
			[]string{"cache", "status"},
		),
		CacheRefreshDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_refresh_duration_seconds",
				Help:      "Self-updating cache refresh duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"cache"},
		),
		CacheEntries: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Number of client entries in the latest installed snapshot",
			},
			[]string{"cache"},
		),
		MessagesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dropped_total",
				Help:      "Messages dropped by the codec or dispatch, labeled by reason",
			},
			[]string{"reason"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ops_http_request_duration_seconds",
				Help:      "Admin HTTP surface request duration, labeled by method, path and status",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

// ObservePublish records a single outbound publish attempt.
func (m *Metrics) ObservePublish(topic, status string, d time.Duration) {
	m.PublishTotal.WithLabelValues(topic, status).Inc()
	m.PublishDuration.WithLabelValues(topic).Observe(d.Seconds())
}
