package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent   *prometheus.CounterVec
	messagesQueued *prometheus.CounterVec
	connsOpened    *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	activeKeys     prometheus.Gauge
	collectorUp    *prometheus.GaugeVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_messages_sent_total",
				Help: "Total frames delivered to subscribers",
			},
			[]string{"key"},
		),
		messagesQueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_messages_queued_total",
				Help: "Total messages accepted into the pending batch",
			},
			[]string{"key"},
		),
		connsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_connections_opened_total",
				Help: "Total subscriber connections opened",
			},
			[]string{"key"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_errors_total",
				Help: "Total errors encountered",
			},
			[]string{"type"},
		),
		activeKeys: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradepulse_active_keys",
				Help: "Number of symbol keys with registered subscribers",
			},
		),
		collectorUp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepulse_collector_up",
				Help: "1 if the live collector for a key is connected",
			},
			[]string{"key"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepulse_last_price",
				Help: "Last observed price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradepulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordMessageSent records one frame delivered to a subscriber.
func (r *Recorder) RecordMessageSent(key string) {
	r.messagesSent.WithLabelValues(key).Inc()
}

// RecordMessageQueued records one message accepted for batching.
func (r *Recorder) RecordMessageQueued(key string) {
	r.messagesQueued.WithLabelValues(key).Inc()
}

// RecordConnectionOpened records a new subscriber connection.
func (r *Recorder) RecordConnectionOpened(key string) {
	r.connsOpened.WithLabelValues(key).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// SetActiveKeys sets the number of keys with live subscribers.
func (r *Recorder) SetActiveKeys(n int) {
	r.activeKeys.Set(float64(n))
}

// SetCollectorUp flags a collector as connected or down.
func (r *Recorder) SetCollectorUp(key string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	r.collectorUp.WithLabelValues(key).Set(v)
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
