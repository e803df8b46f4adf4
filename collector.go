package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/czerwonk/latency_lab/engine"
)

const prefix = "ping_"

func newDesc(name, help string, variableLabels []string, constLabels prometheus.Labels) *prometheus.Desc {
	return prometheus.NewDesc(prefix+name, help, variableLabels, constLabels)
}

// statsSource is the part of the engine the collector reads from.
type statsSource interface {
	SnapshotAll() []engine.TargetStats
	Stats() engine.Stats
}

type latencyCollector struct {
	source       statsSource
	customLabels *customLabelSet

	rttLatest scaledMetrics
	rttMean   scaledMetrics
	rttBest   scaledMetrics
	rttWorst  scaledMetrics
	jitter    scaledMetrics
	loss      *prometheus.Desc
	samples   *prometheus.Desc
	up        *prometheus.Desc

	rounds        *prometheus.Desc
	skipped       *prometheus.Desc
	ingested      *prometheus.Desc
	rejected      *prometheus.Desc
	storeFailures *prometheus.Desc
}

func newLatencyCollector(source statsSource, cl *customLabelSet, scale rttUnit) *latencyCollector {
	labelNames := append([]string{"target"}, cl.labelNames()...)

	return &latencyCollector{
		source:       source,
		customLabels: cl,

		rttLatest: newScaledDesc("rtt", "Round trip time of the most recent probe", scale, labelNames),
		rttMean:   newScaledDesc("rtt_mean", "Mean round trip time over the window", scale, labelNames),
		rttBest:   newScaledDesc("rtt_best", "Best round trip time over the window", scale, labelNames),
		rttWorst:  newScaledDesc("rtt_worst", "Worst round trip time over the window", scale, labelNames),
		jitter:    newScaledDesc("rtt_std_deviation", "Standard deviation (jitter) of the round trip time", scale, labelNames),
		loss:      newDesc("loss_percent", "Packet loss in percent over the window", labelNames, nil),
		samples:   newDesc("window_samples", "Number of samples in the window", labelNames, nil),
		up:        newDesc("up", "1 if the most recent probe succeeded", labelNames, nil),

		rounds:        newDesc("rounds_total", "Number of probe rounds by result", []string{"result"}, nil),
		skipped:       newDesc("rounds_skipped_total", "Number of ticks skipped because a round was still running", nil, nil),
		ingested:      newDesc("samples_ingested_total", "Number of samples merged into the windows", nil, nil),
		rejected:      newDesc("samples_rejected_total", "Number of invalid samples rejected", nil, nil),
		storeFailures: newDesc("store_errors_total", "Number of failed series store operations", nil, nil),
	}
}

func (c *latencyCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, s := range []*scaledMetrics{&c.rttLatest, &c.rttMean, &c.rttBest, &c.rttWorst, &c.jitter} {
		s.Describe(ch)
	}
	ch <- c.loss
	ch <- c.samples
	ch <- c.up
	ch <- c.rounds
	ch <- c.skipped
	ch <- c.ingested
	ch <- c.rejected
	ch <- c.storeFailures
}

func (c *latencyCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.source.SnapshotAll() {
		l := append([]string{st.Target}, c.customLabels.labelValues(st.Target)...)

		ch <- prometheus.MustNewConstMetric(c.samples, prometheus.GaugeValue, float64(st.Samples), l...)
		ch <- prometheus.MustNewConstMetric(c.loss, prometheus.GaugeValue, st.LossPct, l...)

		up := 0.0
		if st.LatestLatencyMs != nil {
			up = 1
			c.rttLatest.Collect(ch, *st.LatestLatencyMs, l...)
		}
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up, l...)

		if st.LossPct < 100 {
			c.rttMean.Collect(ch, st.MeanLatencyMs, l...)
			c.rttBest.Collect(ch, st.BestLatencyMs, l...)
			c.rttWorst.Collect(ch, st.WorstLatencyMs, l...)
			c.jitter.Collect(ch, st.JitterMs, l...)
		}
	}

	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.rounds, prometheus.CounterValue, float64(stats.Rounds.Completed), "completed")
	ch <- prometheus.MustNewConstMetric(c.rounds, prometheus.CounterValue, float64(stats.Rounds.Cancelled), "cancelled")
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(stats.Rounds.Skipped))
	ch <- prometheus.MustNewConstMetric(c.ingested, prometheus.CounterValue, float64(stats.SamplesIngested))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(stats.SamplesRejected))
	ch <- prometheus.MustNewConstMetric(c.storeFailures, prometheus.CounterValue, float64(stats.StoreErrors))
}
