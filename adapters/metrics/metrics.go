// Package metrics provides Prometheus metrics collection for livesync.
package metrics

import (
	"strconv"
	"time"

	"github.com/artpar/livesync/core/store"
	"github.com/artpar/livesync/core/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livesync"

// Collector holds all Prometheus metrics for livesync.
type Collector struct {
	// Transport metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	MessagesReceived  *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	SendFailures      *prometheus.CounterVec

	// Store metrics
	ValidationFailures *prometheus.CounterVec

	// Admin API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return build(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return build(promauto.With(reg))
}

func build(factory promauto.Factory) *Collector {
	return &Collector{
		ConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_active",
				Help:      "Number of open client connections",
			},
		),
		ConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total number of accepted client connections",
			},
		),
		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of envelopes received from clients",
			},
			[]string{"channel", "event"},
		),
		MessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of envelopes sent",
			},
			[]string{"channel", "event"},
		),
		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Total number of per-connection deliveries",
			},
			[]string{"channel"},
		),
		SendFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_failures_total",
				Help:      "Total number of envelopes that could not be delivered",
			},
			[]string{"channel", "event"},
		),

		ValidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of failed property checks by store",
			},
			[]string{"store"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admin_requests_total",
				Help:      "Total number of admin API requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admin_request_duration_seconds",
				Help:      "Admin API request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "route"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ClientConnected implements transport.Observer.
func (c *Collector) ClientConnected() {
	c.ConnectionsActive.Inc()
	c.ConnectionsTotal.Inc()
}

// ClientDisconnected implements transport.Observer.
func (c *Collector) ClientDisconnected() {
	c.ConnectionsActive.Dec()
}

// MessageReceived implements transport.Observer.
func (c *Collector) MessageReceived(channel, event string) {
	c.MessagesReceived.WithLabelValues(channel, event).Inc()
}

// MessageSent implements transport.Observer.
func (c *Collector) MessageSent(channel, event string, peers int) {
	c.MessagesSent.WithLabelValues(channel, event).Inc()
	c.Deliveries.WithLabelValues(channel).Add(float64(peers))
}

// SendFailed implements transport.Observer.
func (c *Collector) SendFailed(channel, event string) {
	c.SendFailures.WithLabelValues(channel, event).Inc()
}

// ValidationFailed implements store.Observer.
func (c *Collector) ValidationFailed(storeName string, failures int) {
	c.ValidationFailures.WithLabelValues(storeName).Add(float64(failures))
}

// ObserveRequest records one admin API request.
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	c.RequestsTotal.WithLabelValues(method, route, StatusClass(status)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ConfigReloaded records a reload attempt.
func (c *Collector) ConfigReloaded(err error, at time.Time) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(at.Unix()))
}

// StatusClass reduces a status code to its class, e.g. 404 -> "4xx".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return strconv.Itoa(status)
	}
	return strconv.Itoa(status/100) + "xx"
}

// Ensure interface compliance.
var (
	_ transport.Observer = (*Collector)(nil)
	_ store.Observer     = (*Collector)(nil)
)
