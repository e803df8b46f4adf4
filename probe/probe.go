// Package probe implements the reachability checks used by the engine.
package probe

import (
	"fmt"
	"time"

	"github.com/czerwonk/latency_lab/engine"
)

// Modes understood by New.
const (
	ModeICMP = "icmp"
	ModeTCP  = "tcp"
)

// Prober is an engine.Prober holding sockets that need to be released.
type Prober interface {
	engine.Prober
	Close() error
}

// Config configures a prober.
type Config struct {
	Mode        string
	PayloadSize uint16
	TCPPort     int
	DNSRefresh  time.Duration
	Resolver    Resolver
}

// New creates the prober selected by cfg.Mode.
func New(cfg Config) (Prober, error) {
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver("")
	}

	switch cfg.Mode {
	case "", ModeICMP:
		return NewICMP(cfg)
	case ModeTCP:
		return NewTCP(cfg), nil
	default:
		return nil, fmt.Errorf("unknown probe mode %q", cfg.Mode)
	}
}

// sampleFromRTT folds a measured round trip into a sample. Round trips
// reaching the timeout count as failures.
func sampleFromRTT(target string, start time.Time, rtt time.Duration, err error, timeout time.Duration) engine.Sample {
	if err != nil || rtt < 0 || rtt >= timeout {
		return engine.Failed(target, start)
	}

	return engine.Succeeded(target, start, millis(rtt))
}

// millis converts d to milliseconds with microsecond precision.
func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
