package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_cache_reads_total",
		Help: "Cache reads by collection and result (hit, stale, miss).",
	}, []string{"collection", "result"})

	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_cache_refreshes_total",
		Help: "Network refreshes started by the cache, by collection and outcome.",
	}, []string{"collection", "outcome"})

	joinedRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_cache_joined_refreshes_total",
		Help: "Reads that attached to a refresh already in flight instead of issuing their own.",
	}, []string{"collection"})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_cache_mutations_total",
		Help: "Mutations run through the cache, by collection and outcome.",
	}, []string{"collection", "outcome"})
)
