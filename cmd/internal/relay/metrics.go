package relay

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the relay's Prometheus collectors.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	AuthResults         *prometheus.CounterVec
	SessionsActive      prometheus.Gauge
	FramesReceived      prometheus.Counter
	FramesDropped       *prometheus.CounterVec
	MessagesRelayed     prometheus.Counter
	Deliveries          *prometheus.CounterVec
	JournalErrors       prometheus.Counter
}

// NewMetrics builds the collectors and registers them on reg.
// A nil reg yields working but unregistered collectors (tests, embedded use).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cipherchat",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted on any transport.",
		}),
		AuthResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cipherchat",
			Name:      "auth_results_total",
			Help:      "First-frame authentication results.",
		}, []string{"result"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cipherchat",
			Name:      "sessions_active",
			Help:      "Authenticated sessions currently registered.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cipherchat",
			Name:      "frames_received_total",
			Help:      "Frames read from authenticated sessions.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cipherchat",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped before relaying.",
		}, []string{"reason"}),
		MessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cipherchat",
			Name:      "messages_relayed_total",
			Help:      "Messages dispatched by the relay.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cipherchat",
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts by result.",
		}, []string{"result"}),
		JournalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cipherchat",
			Name:      "journal_errors_total",
			Help:      "Failed journal appends.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionsAccepted,
			m.AuthResults,
			m.SessionsActive,
			m.FramesReceived,
			m.FramesDropped,
			m.MessagesRelayed,
			m.Deliveries,
			m.JournalErrors,
		)
	}
	return m
}

// deliveryResult maps a delivery error to its metric label.
func deliveryResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	default:
		return "encode_error"
	}
}
