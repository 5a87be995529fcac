// Package metrics exposes Prometheus instrumentation for the notification
// bus and its transports. A nil *Metrics disables collection, so components
// can be wired without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bus collectors. Construct with New and share one
// instance across the emitter, receiver, and transports.
type Metrics struct {
	emitted         *prometheus.CounterVec
	received        *prometheus.CounterVec
	duplicates      prometheus.Counter
	decodeFailures  prometheus.Counter
	reconnects      prometheus.Counter
	publishRetries  prometheus.Counter
	subscriberDrops prometheus.Counter
	publishSeconds  prometheus.Histogram
	subscriptions   prometheus.Gauge
	dedupSize       prometheus.Gauge
}

// New creates and registers the bus collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_notifications_emitted_total",
			Help: "Notifications handed off to a transport.",
		}, []string{"transport"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_notifications_received_total",
			Help: "Notifications received from a transport before deduplication.",
		}, []string{"transport"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_duplicates_dropped_total",
			Help: "Notifications dropped by the deduplication cache.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_decode_failures_total",
			Help: "Stream entries that could not be decoded and were acked.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_stream_reconnects_total",
			Help: "Read-loop recoveries after a stream error.",
		}),
		publishRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_publish_retries_total",
			Help: "Publishes retried after a connection error.",
		}),
		subscriberDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_subscriber_drops_total",
			Help: "Notifications dropped because a subscriber buffer was full.",
		}),
		publishSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_publish_duration_seconds",
			Help:    "Durable transport publish latency.",
			Buckets: prometheus.DefBuckets,
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_subscriptions",
			Help: "Active composite receiver subscriptions.",
		}),
		dedupSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_dedup_cache_entries",
			Help: "Entries currently held by the deduplication cache.",
		}),
	}
	reg.MustRegister(
		m.emitted, m.received, m.duplicates, m.decodeFailures, m.reconnects,
		m.publishRetries, m.subscriberDrops, m.publishSeconds,
		m.subscriptions, m.dedupSize,
	)
	return m
}

func (m *Metrics) IncEmitted(transport string) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncReceived(transport string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncDuplicateDropped() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) IncDecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) IncPublishRetry() {
	if m == nil {
		return
	}
	m.publishRetries.Inc()
}

func (m *Metrics) IncSubscriberDrop() {
	if m == nil {
		return
	}
	m.subscriberDrops.Inc()
}

func (m *Metrics) ObservePublish(d time.Duration) {
	if m == nil {
		return
	}
	m.publishSeconds.Observe(d.Seconds())
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

func (m *Metrics) SetDedupSize(n int) {
	if m == nil {
		return
	}
	m.dedupSize.Set(float64(n))
}
