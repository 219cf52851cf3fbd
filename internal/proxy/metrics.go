package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_proxy_requests_total",
		Help: "API requests by route template, method and status code.",
	}, []string{"route", "method", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tbdash_proxy_request_duration_seconds",
		Help:    "API request latency by route template.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tbdash_proxy_writes_total",
		Help: "Client writes by operation and result (ok, rejected, timeout, backend, error).",
	}, []string{"op", "result"})

	gateDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tbdash_proxy_gate_denied_total",
		Help: "Requests refused by the token gate.",
	})
)
