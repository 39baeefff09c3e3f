package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the chat core's Prometheus collectors.
type Metrics struct {
	Connections     prometheus.Gauge
	Broadcasts      prometheus.Counter
	DroppedFrames   prometheus.Counter
	MessagesCreated prometheus.Counter
}

// NewMetrics registers the chat collectors with reg.
// A nil registerer yields working but unregistered collectors (useful in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "charla_ws_connections",
			Help: "Currently open websocket connections.",
		}),
		Broadcasts: f.NewCounter(prometheus.CounterOpts{
			Name: "charla_ws_broadcasts_total",
			Help: "Broadcast events fanned out by the hub.",
		}),
		DroppedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "charla_ws_dropped_frames_total",
			Help: "Frames dropped because a client send queue was full or closing.",
		}),
		MessagesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "charla_mensajes_creados_total",
			Help: "Messages persisted by the delivery endpoint.",
		}),
	}
}
