package engine

import (
	"math"
	"sync"
)

// window is a fixed-size ring buffer holding the most recent samples of a
// single target in insertion order.
type window struct {
	mu    sync.Mutex
	data  []Sample
	pos   int
	count int
}

func newWindow(capacity int) *window {
	return &window{data: make([]Sample, capacity)}
}

// add appends s, evicting the oldest sample once the window is full.
func (w *window) add(s Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count > 0 && s.TimestampMs < w.newest().TimestampMs {
		return invalid("timestamp older than the newest sample of the target")
	}

	w.data[w.pos] = s
	w.pos = (w.pos + 1) % len(w.data)
	if w.count < len(w.data) {
		w.count++
	}

	return nil
}

// newest needs to be called with w.mu held.
func (w *window) newest() Sample {
	return w.data[(w.pos-1+len(w.data))%len(w.data)]
}

// samples returns a copy of the window, oldest first.
func (w *window) samples() []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Sample, w.count)
	if w.count < len(w.data) {
		copy(out, w.data[:w.count])
	} else {
		n := copy(out, w.data[w.pos:])
		copy(out[n:], w.data[:w.pos])
	}

	return out
}

// TargetStats is derived from a target window on demand.
type TargetStats struct {
	Target          string   `json:"target"`
	Samples         int      `json:"samples"`
	LatestLatencyMs *float64 `json:"latest_latency_ms"`
	MeanLatencyMs   float64  `json:"mean_latency_ms"`
	BestLatencyMs   float64  `json:"best_latency_ms"`
	WorstLatencyMs  float64  `json:"worst_latency_ms"`
	JitterMs        float64  `json:"jitter_ms"`
	LossPct         float64  `json:"loss_pct"`
}

func computeStats(target string, samples []Sample) TargetStats {
	st := TargetStats{Target: target, Samples: len(samples)}
	if len(samples) == 0 {
		return st
	}

	if latest := samples[len(samples)-1]; latest.Success {
		v := *latest.LatencyMs
		st.LatestLatencyMs = &v
	}

	data := make([]float64, 0, len(samples))
	var total float64
	for _, s := range samples {
		if !s.Success {
			continue
		}

		rtt := *s.LatencyMs
		if len(data) == 0 || rtt < st.BestLatencyMs {
			st.BestLatencyMs = rtt
		}
		if len(data) == 0 || rtt > st.WorstLatencyMs {
			st.WorstLatencyMs = rtt
		}
		data = append(data, rtt)
		total += rtt
	}

	st.LossPct = float64(len(samples)-len(data)) / float64(len(samples)) * 100
	if len(data) == 0 {
		return st
	}

	size := float64(len(data))
	st.MeanLatencyMs = total / size
	if len(data) < 2 {
		return st
	}

	var sumSquares float64
	for _, rtt := range data {
		d := rtt - st.MeanLatencyMs
		sumSquares += d * d
	}
	st.JitterMs = math.Sqrt(sumSquares / size)

	return st
}
