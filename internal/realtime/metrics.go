package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_realtime_events_total",
		Help: "Change feed events by type and outcome.",
	}, []string{"type", "outcome"})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbdash_realtime_reconnects_total",
		Help: "Change feed reconnect attempts.",
	})
)
