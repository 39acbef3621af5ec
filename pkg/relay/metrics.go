package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelrelay",
		Name:      "requests_total",
		Help:      "Proxied requests by provider, adapter, and outcome.",
	}, []string{"provider", "adapter", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelrelay",
		Name:      "request_duration_seconds",
		Help:      "Proxied request duration by provider and adapter.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider", "adapter"})
)
