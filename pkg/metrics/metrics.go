package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairpad_active_rooms",
		Help: "Number of rooms currently active.",
	})

	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairpad_open_connections",
		Help: "Number of live websocket connections.",
	})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairpad_events_total",
		Help: "Client intents processed by the relay, by event type.",
	}, []string{"event"})

	RelayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairpad_relay_errors_total",
		Help: "Caller-local error events emitted by the relay, by code.",
	}, []string{"code"})

	BroadcastFanout = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairpad_broadcast_fanout_total",
		Help: "Messages fanned out to room members.",
	})
)

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
