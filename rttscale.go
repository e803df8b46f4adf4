// SPDX-License-Identifier: MIT

package main

import "github.com/prometheus/client_golang/prometheus"

type rttUnit int

const (
	rttInvalid rttUnit = iota
	rttInMills
	rttInSeconds
	rttBoth
)

func rttUnitFromString(s string) rttUnit {
	switch s {
	case "s":
		return rttInSeconds
	case "ms":
		return rttInMills
	case "both":
		return rttBoth
	default:
		return rttInvalid
	}
}

func (u rttUnit) String() string {
	switch u {
	case rttInMills:
		return "ms"
	case rttInSeconds:
		return "s"
	case rttBoth:
		return "both"
	default:
		return "invalid"
	}
}

// scaledMetrics exports a millisecond value as _ms and/or _seconds gauge.
type scaledMetrics struct {
	Millis  *prometheus.Desc
	Seconds *prometheus.Desc
	scale   rttUnit
}

func (s *scaledMetrics) Describe(ch chan<- *prometheus.Desc) {
	if s.scale == rttInMills || s.scale == rttBoth {
		ch <- s.Millis
	}
	if s.scale == rttInSeconds || s.scale == rttBoth {
		ch <- s.Seconds
	}
}

func (s *scaledMetrics) Collect(ch chan<- prometheus.Metric, millis float64, labelValues ...string) {
	if s.scale == rttInMills || s.scale == rttBoth {
		ch <- prometheus.MustNewConstMetric(s.Millis, prometheus.GaugeValue, millis, labelValues...)
	}
	if s.scale == rttInSeconds || s.scale == rttBoth {
		ch <- prometheus.MustNewConstMetric(s.Seconds, prometheus.GaugeValue, millis/1000, labelValues...)
	}
}

func newScaledDesc(name, help string, scale rttUnit, variableLabels []string) scaledMetrics {
	return scaledMetrics{
		scale:   scale,
		Millis:  newDesc(name+"_ms", help+" in millis", variableLabels, nil),
		Seconds: newDesc(name+"_seconds", help+" in seconds", variableLabels, nil),
	}
}
