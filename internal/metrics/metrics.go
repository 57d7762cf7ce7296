// Package metrics exposes prometheus collectors for the live session core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lingua",
		Subsystem: "live",
		Name:      "rooms_active",
		Help:      "Rooms currently live.",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lingua",
		Subsystem: "live",
		Name:      "sessions_active",
		Help:      "Peer sessions not yet closed.",
	})

	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lingua",
		Subsystem: "live",
		Name:      "session_transitions_total",
		Help:      "Peer session state transitions by destination state.",
	}, []string{"state"})

	SignalsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lingua",
		Subsystem: "live",
		Name:      "signals_relayed_total",
		Help:      "Signaling messages delivered to a recipient.",
	})

	SignalsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lingua",
		Subsystem: "live",
		Name:      "signals_dropped_total",
		Help:      "Signaling messages dropped as duplicate or out of order.",
	})

	NegotiationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lingua",
		Subsystem: "live",
		Name:      "negotiation_retries_total",
		Help:      "ICE-restart retries after a negotiation failure.",
	})

	CallsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lingua",
		Subsystem: "live",
		Name:      "calls_failed_total",
		Help:      "Sessions closed with a terminal failure.",
	})
)
