// Package metrics exposes Prometheus collectors for connection handles.
//
// A nil *Metrics is valid and records nothing, so handles built without
// metrics need no special casing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wsstream"

// Metrics groups the collectors a handle updates.
type Metrics struct {
	EventsPublished    *prometheus.CounterVec
	MessagesReceived   *prometheus.CounterVec
	MessagesSent       *prometheus.CounterVec
	DecodeErrors       prometheus.Counter
	QueueOverflows     prometheus.Counter
	InvalidTransitions prometheus.Counter
	Connections        *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
// Registration panics on duplicates, like prometheus.MustRegister.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Life-cycle events published, by kind.",
		}, []string{"kind"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages accepted into the stream, by type.",
		}, []string{"type"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound messages accepted by the transport, by type.",
		}, []string{"type"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Inbound frames that could not be decoded.",
		}),
		QueueOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_overflows_total",
			Help:      "Inbound messages rejected by a full queue.",
		}),
		InvalidTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_transitions_total",
			Help:      "Host callbacks that were illegal in the current state.",
		}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Connection handles currently in each state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.EventsPublished,
		m.MessagesReceived,
		m.MessagesSent,
		m.DecodeErrors,
		m.QueueOverflows,
		m.InvalidTransitions,
		m.Connections,
	)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(kind).Inc()
}

func (m *Metrics) Received(typ string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(typ).Inc()
}

func (m *Metrics) Sent(typ string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(typ).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) Overflow() {
	if m == nil {
		return
	}
	m.QueueOverflows.Inc()
}

func (m *Metrics) InvalidTransition() {
	if m == nil {
		return
	}
	m.InvalidTransitions.Inc()
}

// Created counts a new handle in its initial state.
func (m *Metrics) Created(state string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(state).Inc()
}

// Moved moves one handle from one state gauge to another.
func (m *Metrics) Moved(from, to string) {
	if m == nil || from == to {
		return
	}
	m.Connections.WithLabelValues(from).Dec()
	m.Connections.WithLabelValues(to).Inc()
}
