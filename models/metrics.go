package models

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	endpointLabel = "endpoint"
)

var (
	sessionCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "session_count",
		Help: "The number of streaming sessions.",
	}, []string{endpointLabel})

	frameDispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "frame_dispatch_latency",
		Help:    "The time to run every frame handler of a session frame.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{endpointLabel})
)

func instrumentIncreaseSessionGauge(endpoint string) {
	sessionCount.
		With(prometheus.Labels{endpointLabel: endpoint}).
		Inc()
}

func instrumentDecreaseSessionGauge(endpoint string) {
	sessionCount.
		With(prometheus.Labels{endpointLabel: endpoint}).
		Dec()
}

func instrumentFrameDispatch(endpoint string, start time.Time) {
	frameDispatchLatency.
		With(prometheus.Labels{endpointLabel: endpoint}).
		Observe(time.Since(start).Seconds())
}
