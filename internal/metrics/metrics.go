// Package metrics exposes Prometheus collectors for the sync channel.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/abhinavp13/Ubiquitous/internal/connection"
)

// Collector groups every metric the primary and companion roles record.
type Collector struct {
	Registry *prometheus.Registry

	// Connection metrics
	ConnectionState       *prometheus.GaugeVec
	ConnectionTransitions *prometheus.CounterVec

	// Publish metrics
	PublishTotal    *prometheus.CounterVec
	PublishDuration prometheus.Histogram

	// Receive metrics
	EventsTotal          *prometheus.CounterVec
	UnresolvedFieldTotal *prometheus.CounterVec
	RenderAppliedTotal   *prometheus.CounterVec

	// Refresh metrics
	RefreshTotal *prometheus.CounterVec
}

// NewCollector registers the collectors on a fresh registry, together with
// the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		Registry: reg,

		ConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "1 for the current state of each connection manager, 0 otherwise",
			},
			[]string{"connection", "state"},
		),

		ConnectionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_transitions_total",
				Help:      "Connection state transitions by target state",
			},
			[]string{"connection", "to"},
		),

		PublishTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_total",
				Help:      "Publish attempts by result",
			},
			[]string{"result"}, // "ok", "not_connected", "invalid_snapshot", "failed"
		),

		PublishDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Duration of transport puts in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Data-layer events seen by each consumer, by outcome",
			},
			[]string{"consumer", "outcome"}, // "applied", "duplicate", "ignored_path", "deleted", "decode_error", "stale", "connect_failed"
		),

		UnresolvedFieldTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unresolved_field_total",
				Help:      "Fields replaced by placeholders, by field",
			},
			[]string{"consumer", "field"},
		),

		RenderAppliedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "render_applied_total",
				Help:      "Render state updates applied on the presentation loop",
			},
			[]string{"consumer"},
		),

		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Upstream weather refreshes by result",
			},
			[]string{"result"},
		),
	}
}

var allStates = []connection.State{
	connection.Disconnected,
	connection.Connecting,
	connection.Connected,
	connection.Suspended,
	connection.Failed,
}

// ObserveTransitions returns a connection.Config.OnTransition hook that keeps
// the state gauge and transition counter for the named manager current.
func (c *Collector) ObserveTransitions(name string) func(connection.Transition) {
	c.setState(name, connection.Disconnected)
	return func(tr connection.Transition) {
		c.ConnectionTransitions.WithLabelValues(name, tr.To.String()).Inc()
		c.setState(name, tr.To)
	}
}

func (c *Collector) setState(name string, current connection.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		c.ConnectionState.WithLabelValues(name, s.String()).Set(v)
	}
}

// RecordPublish counts one publish attempt and, when a put happened, its duration.
func (c *Collector) RecordPublish(result string, took time.Duration) {
	c.PublishTotal.WithLabelValues(result).Inc()
	if took > 0 {
		c.PublishDuration.Observe(took.Seconds())
	}
}

// RecordEvent counts one event outcome for a consumer.
func (c *Collector) RecordEvent(consumer, outcome string) {
	c.EventsTotal.WithLabelValues(consumer, outcome).Inc()
}

// RecordUnresolved counts a field substituted by its placeholder.
func (c *Collector) RecordUnresolved(consumer, field string) {
	c.UnresolvedFieldTotal.WithLabelValues(consumer, field).Inc()
}

// RecordApplied counts a render update.
func (c *Collector) RecordApplied(consumer string) {
	c.RenderAppliedTotal.WithLabelValues(consumer).Inc()
}

// RecordRefresh counts an upstream refresh.
func (c *Collector) RecordRefresh(result string) {
	c.RefreshTotal.WithLabelValues(result).Inc()
}
