// Package metrics holds the Prometheus collectors for player sessions and
// their IPC channels.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livelyd"

var (
	// MessagesReceived counts decoded player messages by type
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "messages_received_total",
		Help:      "Messages decoded from player stdout.",
	}, []string{"type"})

	// MessagesSent counts messages written to player stdin by type
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "messages_sent_total",
		Help:      "Messages written to player stdin.",
	}, []string{"type"})

	// DecodeErrors counts dropped stdout lines
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "decode_errors_total",
		Help:      "Player stdout lines that failed to decode.",
	})

	// WriteErrors counts failed writes to player stdin
	WriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "write_errors_total",
		Help:      "Failed writes to player stdin.",
	})

	// SessionsActive tracks running player sessions by content kind
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "active",
		Help:      "Player sessions currently running.",
	}, []string{"kind"})

	// ShowDuration observes how long players take to report their window
	ShowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "show_duration_seconds",
		Help:      "Time from launch to window handle report.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind", "result"})

	// ForceKills counts players that had to be killed
	ForceKills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "force_kills_total",
		Help:      "Player processes terminated forcibly.",
	}, []string{"kind"})
)

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
