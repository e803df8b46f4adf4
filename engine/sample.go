package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidSample is returned for samples whose shape violates the sample
// contract: latency present iff the probe succeeded.
var ErrInvalidSample = errors.New("invalid sample")

// Sample is the outcome of a single probe attempt against a target.
type Sample struct {
	Target      string   `json:"target"`
	TimestampMs int64    `json:"timestamp_ms"`
	LatencyMs   *float64 `json:"latency_ms"`
	Success     bool     `json:"success"`
}

// RawSample is the loosely validated wire form accepted at the ingestion
// boundary. Success may be omitted, in which case it is derived from the
// presence of a latency value.
type RawSample struct {
	Target      string   `json:"target"`
	TimestampMs int64    `json:"timestamp_ms"`
	LatencyMs   *float64 `json:"latency_ms"`
	Success     *bool    `json:"success,omitempty"`
}

// NewSample builds a validated sample.
func NewSample(target string, timestampMs int64, latencyMs *float64, success bool) (Sample, error) {
	s := Sample{
		Target:      strings.TrimSpace(target),
		TimestampMs: timestampMs,
		Success:     success,
	}
	if latencyMs != nil {
		v := *latencyMs
		s.LatencyMs = &v
	}

	if err := s.Validate(); err != nil {
		return Sample{}, err
	}

	return s, nil
}

// Succeeded returns a successful sample taken at t.
func Succeeded(target string, t time.Time, latencyMs float64) Sample {
	return Sample{
		Target:      target,
		TimestampMs: t.UnixMilli(),
		LatencyMs:   &latencyMs,
		Success:     true,
	}
}

// Failed returns a failed sample taken at t.
func Failed(target string, t time.Time) Sample {
	return Sample{
		Target:      target,
		TimestampMs: t.UnixMilli(),
	}
}

// Validate checks the sample contract.
func (s Sample) Validate() error {
	if s.Target == "" {
		return invalid("empty target")
	}
	if s.TimestampMs <= 0 {
		return invalid("timestamp must be positive")
	}
	if s.Success && s.LatencyMs == nil {
		return invalid("successful sample without latency")
	}
	if !s.Success && s.LatencyMs != nil {
		return invalid("failed sample with latency")
	}
	if s.LatencyMs != nil {
		v := *s.LatencyMs
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return invalid(fmt.Sprintf("latency %v out of range", v))
		}
	}

	return nil
}

// Time returns the sample timestamp.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// Sample converts the wire form into a validated sample.
func (r RawSample) Sample() (Sample, error) {
	success := r.LatencyMs != nil
	if r.Success != nil {
		success = *r.Success
	}

	return NewSample(r.Target, r.TimestampMs, r.LatencyMs, success)
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidSample, reason)
}
