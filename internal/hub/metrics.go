package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	connections *prometheus.GaugeVec
	published   *prometheus.CounterVec
	delivered   prometheus.Counter
	dropped     *prometheus.CounterVec
	evicted     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		connections: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_hub_connections",
			Help: "Open widget connections by role.",
		}, []string{"role"}),
		published: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_hub_events_published_total",
			Help: "Events accepted by the publish API, by topic.",
		}, []string{"topic"}),
		delivered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dispatch_hub_frames_delivered_total",
			Help: "Frames handed to connection senders.",
		}),
		dropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_hub_events_dropped_total",
			Help: "Events dropped before delivery, by reason.",
		}, []string{"reason"}),
		evicted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_hub_connections_evicted_total",
			Help: "Connections force-closed by the hub, by reason.",
		}, []string{"reason"}),
	}
}
