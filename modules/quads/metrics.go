package quads

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sceneLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quads_scene_loads",
		Help: "The number of static scene loads.",
	}, []string{"error_type"})

	sceneLoadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quads_scene_load_latency",
		Help:    "The time to load a static scene and build its meshes.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func instrumentSceneLoad(start time.Time, err error) {
	var errType string
	if err != nil {
		errType = errors.Type(err)
	} else {
		sceneLoadLatency.Observe(time.Since(start).Seconds())
	}

	sceneLoads.
		With(prometheus.Labels{"error_type": errType}).
		Inc()
}
