package proxy

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	kindLabel    = "kind"
	errTypeLabel = "error_type"

	recordsKind      = "records"
	depthOffsetsKind = "depth_offsets"
	containerKind    = "container"
)

var (
	proxyDecompressLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proxy_decompress_latency",
		Help:    "The time to decompress proxy data.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{kindLabel})

	proxyBytesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_bytes_read",
		Help: "The number of compressed proxy bytes read.",
	}, []string{kindLabel})

	proxyLoadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_load_errors",
		Help: "The errors that occurred while loading proxy data.",
	}, []string{kindLabel, errTypeLabel})
)

func instrumentLoad(kind string, bytesRead int, decompress time.Duration) {
	labels := prometheus.Labels{kindLabel: kind}
	proxyDecompressLatency.With(labels).Observe(decompress.Seconds())
	proxyBytesRead.With(labels).Add(float64(bytesRead))
}

func instrumentLoadError(kind string, err error) {
	proxyLoadErrors.
		With(prometheus.Labels{
			kindLabel:    kind,
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}
