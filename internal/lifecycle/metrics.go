package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	progressEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_remediation_progress_events_total",
		Help: "Backend-reported remediation transitions accepted, by target status.",
	}, []string{"to"})

	integrityWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_lifecycle_integrity_warnings_total",
		Help: "Backend reports that break the remediation state machine.",
	}, []string{"reason"})
)
