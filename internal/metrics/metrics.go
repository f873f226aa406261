package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_messages_sent_total",
		Help: "Messages persisted successfully.",
	})
	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_events_broadcast_total",
		Help: "Realtime events handed to the fan-out hub, by event type.",
	}, []string{"type"})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_events_dropped_total",
		Help: "Events dropped because a client send buffer was full.",
	})
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_live_connections",
		Help: "Currently open websocket connections.",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
