package streams

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	streamLabel = "stream"
)

var (
	streamReceivedPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_received_packets",
		Help: "The number of packets received on a stream.",
	}, []string{streamLabel})

	streamReceivedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_received_bytes",
		Help: "The number of payload bytes received on a stream.",
	}, []string{streamLabel})

	streamPacketLosses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_packet_losses",
		Help: "The number of packets that could not be parsed or decoded.",
	}, []string{streamLabel})

	streamDecodeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stream_decode_latency",
		Help:    "The time to decode a stream frame.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{streamLabel})
)

func instrumentReceivedPacket(stream string, size int) {
	labels := prometheus.Labels{streamLabel: stream}
	streamReceivedPackets.With(labels).Inc()
	streamReceivedBytes.With(labels).Add(float64(size))
}

func instrumentPacketLoss(stream string) {
	streamPacketLosses.
		With(prometheus.Labels{streamLabel: stream}).
		Inc()
}

func instrumentDecode(stream string, d time.Duration) {
	streamDecodeLatency.
		With(prometheus.Labels{streamLabel: stream}).
		Observe(d.Seconds())
}
