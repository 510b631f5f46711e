package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fanout",
		Name:      "connections",
		Help:      "Open room socket connections.",
	})

	Rooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fanout",
		Name:      "rooms",
		Help:      "Rooms with at least one member.",
	})

	Relays = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Name:      "relay_deliveries_total",
		Help:      "Room relay deliveries by result (delivered, dropped, orphan).",
	}, []string{"result"})

	Publishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Name:      "publishes_total",
		Help:      "Broadcast publishes by event kind and result.",
	}, []string{"kind", "result"})

	Emits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Name:      "emits_total",
		Help:      "Events accepted by the emitter by source and transport.",
	}, []string{"source", "transport"})

	Malformed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fanout",
		Name:      "malformed_total",
		Help:      "Dropped malformed frames and events by source.",
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(Connections, Rooms, Relays, Publishes, Emits, Malformed)
}
