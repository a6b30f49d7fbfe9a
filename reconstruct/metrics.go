package reconstruct

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	stageLabel = "stage"

	appendProxiesStage   = "append_proxies"
	fillOutputQuadsStage = "fill_output_quads"
	createMeshStage      = "create_mesh"
)

var (
	reconstructLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reconstruct_latency",
		Help:    "The time spent in a mesh reconstruction stage.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{stageLabel})

	reconstructCapacityErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconstruct_capacity_errors",
		Help: "The number of proxy windows that did not fit the mesh.",
	})
)

func instrumentStage(stage string, d time.Duration) {
	reconstructLatency.
		With(prometheus.Labels{stageLabel: stage}).
		Observe(d.Seconds())
}

func instrumentCapacityError() {
	reconstructCapacityErrors.Inc()
}
