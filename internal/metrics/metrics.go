// Package metrics holds the prometheus collectors of the MPRIS bridge.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mprisd"

// Metrics groups the bridge collectors
type Metrics struct {
	EventsHandled     *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	SignalsEmitted    *prometheus.CounterVec
	EmitFailures      *prometheus.CounterVec
	StartupFailures   prometheus.Counter
	Announcements     *prometheus.CounterVec
	InterfaceAttached prometheus.Gauge
}

// New creates the collectors and registers them with reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_handled_total",
			Help:      "Playback events processed by the bridge, by event kind.",
		}, []string{"event"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Playback events ignored because no MPRIS object was attached.",
		}, []string{"event"}),
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_emitted_total",
			Help:      "D-Bus signals sent, by signal name.",
		}, []string{"signal"}),
		EmitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_failures_total",
			Help:      "D-Bus signals that could not be built or sent, by signal name.",
		}, []string{"signal"}),
		StartupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "startup_failures_total",
			Help:      "Failed attempts to attach the MPRIS object.",
		}),
		Announcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_total",
			Help:      "Presence service registrations, by outcome.",
		}, []string{"outcome"}),
		InterfaceAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interface_attached",
			Help:      "1 while the MPRIS object is attached to the bus.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.EventsHandled,
			m.EventsDropped,
			m.SignalsEmitted,
			m.EmitFailures,
			m.StartupFailures,
			m.Announcements,
			m.InterfaceAttached,
		)
	}
	return m
}

// Announcement outcomes
const (
	AnnounceShown       = "shown"
	AnnounceUnavailable = "unavailable"
	AnnounceFailed      = "failed"
)

func (m *Metrics) EventHandled(event string) {
	if m != nil {
		m.EventsHandled.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) EventDropped(event string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) SignalEmitted(signal string) {
	if m != nil {
		m.SignalsEmitted.WithLabelValues(signal).Inc()
	}
}

func (m *Metrics) SignalFailed(signal string) {
	if m != nil {
		m.EmitFailures.WithLabelValues(signal).Inc()
	}
}

func (m *Metrics) StartupFailed() {
	if m != nil {
		m.StartupFailures.Inc()
	}
}

func (m *Metrics) Announced(outcome string) {
	if m != nil {
		m.Announcements.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetAttached(attached bool) {
	if m == nil {
		return
	}
	if attached {
		m.InterfaceAttached.Set(1)
	} else {
		m.InterfaceAttached.Set(0)
	}
}
