// Package metrics exposes push channel and backend request activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the push, realtime and api packages report to.
type Recorder interface {
	RecordPushEvent(tag string)
	RecordPushDropped(reason string)
	RecordSendDropped()
	RecordReconnect()
	RecordAPIRequest(endpoint string, statusCode int, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordPushEvent(string)                      {}
func (Nop) RecordPushDropped(string)                    {}
func (Nop) RecordSendDropped()                          {}
func (Nop) RecordReconnect()                            {}
func (Nop) RecordAPIRequest(string, int, time.Duration) {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

type Collector struct {
	pushEvents  *prometheus.CounterVec
	pushDropped *prometheus.CounterVec
	sendDropped prometheus.Counter
	reconnects  prometheus.Counter
	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spark_push_events_total",
			Help: "Inbound push frames dispatched, by tag.",
		}, []string{"tag"}),
		pushDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spark_push_dropped_total",
			Help: "Inbound push frames dropped, by reason.",
		}, []string{"reason"}),
		sendDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spark_push_send_dropped_total",
			Help: "Outbound messages dropped because the channel was not open.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spark_push_reconnects_total",
			Help: "Push channel redial attempts.",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spark_api_requests_total",
			Help: "Backend requests by endpoint and status code (0 = transport error).",
		}, []string{"endpoint", "status_code"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spark_api_request_seconds",
			Help:    "Backend request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	reg.MustRegister(
		c.pushEvents,
		c.pushDropped,
		c.sendDropped,
		c.reconnects,
		c.apiRequests,
		c.apiLatency,
	)
	return c
}

func (c *Collector) RecordPushEvent(tag string) {
	c.pushEvents.WithLabelValues(tag).Inc()
}

func (c *Collector) RecordPushDropped(reason string) {
	c.pushDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordSendDropped() {
	c.sendDropped.Inc()
}

func (c *Collector) RecordReconnect() {
	c.reconnects.Inc()
}

func (c *Collector) RecordAPIRequest(endpoint string, statusCode int, d time.Duration) {
	c.apiRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.apiLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
