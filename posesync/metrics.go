package posesync

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	directionLabel = "direction"
	errTypeLabel   = "error_type"
	resultLabel    = "result"

	sentDirection     = "sent"
	receivedDirection = "received"
)

var (
	poseMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pose_msgs",
		Help: "The number of pose messages sent and received.",
	}, []string{directionLabel})

	poseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pose_errors",
		Help: "The errors that occurred while sending or receiving poses.",
	}, []string{directionLabel, errTypeLabel})

	poseLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pose_lookups",
		Help: "The number of pose lookups by result.",
	}, []string{resultLabel})

	poseStoreSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pose_store_size",
		Help: "The number of poses kept for frame correlation.",
	})

	poseEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pose_evictions",
		Help: "The number of poses evicted because the store was full.",
	})

	poseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pose_latency",
		Help:    "The time elapsed between a pose timestamp and its lookup.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

func instrumentPoseMsg(direction string) {
	poseMsgs.
		With(prometheus.Labels{directionLabel: direction}).
		Inc()
}

func instrumentPoseError(direction string, err error) {
	poseErrors.
		With(prometheus.Labels{
			directionLabel: direction,
			errTypeLabel:   errors.Type(err),
		}).
		Inc()
}

func instrumentLookup(found bool, elapsed time.Duration) {
	result := "miss"
	if found {
		result = "hit"
		poseLatency.Observe(elapsed.Seconds())
	}

	poseLookups.
		With(prometheus.Labels{resultLabel: result}).
		Inc()
}

func instrumentStoreSize(size int, evicted bool) {
	poseStoreSize.Set(float64(size))
	if evicted {
		poseEvictions.Inc()
	}
}
