package main

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/czerwonk/latency_lab/config"
	"github.com/czerwonk/latency_lab/engine"
)

type staticSource struct {
	stats  []engine.TargetStats
	counters engine.Stats
}

func (s *staticSource) SnapshotAll() []engine.TargetStats { return s.stats }
func (s *staticSource) Stats() engine.Stats                { return s.counters }

func latency(v float64) *float64 {
	return &v
}

func gather(t *testing.T, c prometheus.Collector) map[string][]*dto.Metric {
	t.Helper()

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(c)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	result := make(map[string][]*dto.Metric)
	for _, mf := range mfs {
		result[mf.GetName()] = mf.GetMetric()
	}
	return result
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestLatencyCollector(t *testing.T) {
	src := &staticSource{
		stats: []engine.TargetStats{
			{Target: "8.8.8.8", Samples: 4, LatestLatencyMs: latency(12), MeanLatencyMs: 11, BestLatencyMs: 10, WorstLatencyMs: 12, JitterMs: 1, LossPct: 25},
			{Target: "10.0.0.1", Samples: 2, LossPct: 100},
		},
		counters: engine.Stats{Rounds: engine.RoundStats{Completed: 7, Skipped: 2}, SamplesRejected: 3},
	}
	cl := newCustomLabelSet([]config.TargetConfig{{Addr: "8.8.8.8", Labels: map[string]string{"provider": "google"}}})

	metrics := gather(t, newLatencyCollector(src, cl, rttBoth))

	rtt := metrics["ping_rtt_ms"]
	if len(rtt) != 1 {
		t.Fatalf("expected 1 ping_rtt_ms metric, got %d", len(rtt))
	}
	if got := rtt[0].GetGauge().GetValue(); got != 12 {
		t.Errorf("expected rtt 12ms, got %v", got)
	}
	if got := labelValue(rtt[0], "provider"); got != "google" {
		t.Errorf("expected provider label google, got %q", got)
	}
	if got := metrics["ping_rtt_seconds"][0].GetGauge().GetValue(); got != 0.012 {
		t.Errorf("expected rtt 0.012s, got %v", got)
	}

	if got := len(metrics["ping_rtt_std_deviation_ms"]); got != 1 {
		t.Errorf("expected jitter only for targets with successful samples, got %d", got)
	}
	if got := len(metrics["ping_loss_percent"]); got != 2 {
		t.Errorf("expected loss for both targets, got %d", got)
	}
	for _, m := range metrics["ping_up"] {
		want := 1.0
		if labelValue(m, "target") == "10.0.0.1" {
			want = 0
		}
		if got := m.GetGauge().GetValue(); got != want {
			t.Errorf("expected ping_up %v for %s, got %v", want, labelValue(m, "target"), got)
		}
	}

	if got := metrics["ping_rounds_skipped_total"][0].GetCounter().GetValue(); got != 2 {
		t.Errorf("expected 2 skipped rounds, got %v", got)
	}
	if got := metrics["ping_samples_rejected_total"][0].GetCounter().GetValue(); got != 3 {
		t.Errorf("expected 3 rejected samples, got %v", got)
	}
}

func TestLatencyCollectorMillisOnly(t *testing.T) {
	src := &staticSource{stats: []engine.TargetStats{{Target: "a", Samples: 1, LatestLatencyMs: latency(1), MeanLatencyMs: 1, BestLatencyMs: 1, WorstLatencyMs: 1}}}

	metrics := gather(t, newLatencyCollector(src, newCustomLabelSet(nil), rttInMills))
	if _, found := metrics["ping_rtt_seconds"]; found {
		t.Error("did not expect seconds metrics in ms mode")
	}
	if _, found := metrics["ping_rtt_mean_ms"]; !found {
		t.Error("expected ping_rtt_mean_ms")
	}
}

func Test_rttUnitFromString(t *testing.T) {
	tests := []struct {
		in   string
		want rttUnit
	}{
		{"ms", rttInMills},
		{"s", rttInSeconds},
		{"both", rttBoth},
		{"minutes", rttInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := rttUnitFromString(tt.in); got != tt.want {
				t.Errorf("rttUnitFromString(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func Test_overLossThreshold(t *testing.T) {
	stats := []engine.TargetStats{
		{Target: "a", Samples: 10, LossPct: 50},
		{Target: "b", Samples: 30, LossPct: 0},
	}

	tests := []struct {
		name      string
		stats     []engine.TargetStats
		threshold float64
		want      bool
	}{
		{"disabled threshold", nil, 0, true},
		{"no samples", nil, 0.1, false},
		{"below", stats, 0.2, false},
		{"reached", stats, 0.125, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overLossThreshold(tt.stats, tt.threshold); got != tt.want {
				t.Errorf("overLossThreshold() = %v, want %v", got, tt.want)
			}
		})
	}
}
