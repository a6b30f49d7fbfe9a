package models

import (
	"sort"
	"sync"
	"time"
)

const defaultLatencyWindow = 120

// LatencyMetricsData summarizes the end-to-end latencies observed for a
// stream.
type LatencyMetricsData struct {
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
	P95   time.Duration `json:"p95"`
	Last  time.Duration `json:"last"`
	Count int           `json:"count"`
}

// LatencyTracker keeps the last observed end-to-end latencies of a stream.
type LatencyTracker struct {
	// The number of samples kept. Defaults to 120.
	Window int

	mutex   sync.Mutex
	samples []time.Duration
	next    int
	last    time.Duration
}

func (t *LatencyTracker) Add(d time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	window := t.Window
	if window <= 0 {
		window = defaultLatencyWindow
	}

	if len(t.samples) < window {
		t.samples = append(t.samples, d)
	} else {
		t.samples[t.next] = d
	}
	t.next = (t.next + 1) % window
	t.last = d
}

func (t *LatencyTracker) Summary() LatencyMetricsData {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if len(t.samples) == 0 {
		return LatencyMetricsData{}
	}

	latencies := make([]time.Duration, len(t.samples))
	copy(latencies, t.samples)

	var sum time.Duration
	min, max := latencies[0], latencies[0]
	for _, l := range latencies {
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
		sum += l
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var p95 time.Duration
	index := int(float32(len(latencies)) * 0.95)
	if index < len(latencies) && index > 0 {
		p95 = latencies[index-1]
	}

	return LatencyMetricsData{
		Min:   min,
		Max:   max,
		Mean:  sum / time.Duration(len(latencies)),
		P95:   p95,
		Last:  t.last,
		Count: len(latencies),
	}
}
