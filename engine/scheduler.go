package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// roundGrace is added to the probe timeout before a round stops waiting for
// probers that ignore their context.
const roundGrace = 25 * time.Millisecond

// tickerFunc returns the tick channel of a ticker firing every d and a func
// stopping it.
type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Prober issues a single reachability check. Implementations must return
// within timeout and fold every failure into a failed Sample.
type Prober interface {
	Probe(ctx context.Context, target string, timeout time.Duration) Sample
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, target string, timeout time.Duration) Sample

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, target string, timeout time.Duration) Sample {
	return f(ctx, target, timeout)
}

// RoundStats counts scheduler activity.
type RoundStats struct {
	Started   uint64
	Completed uint64
	Cancelled uint64
	Skipped   uint64
}

// Scheduler fans probes out over a target set, one round at a time.
type Scheduler struct {
	prober  Prober
	timeout time.Duration
	sink    func(ctx context.Context, samples []Sample)
	logger  log.FieldLogger
	ticker  tickerFunc

	// OnSkip is called once for every tick dropped because a round was
	// still in flight.
	OnSkip func()

	inFlight  atomic.Bool
	started   atomic.Uint64
	completed atomic.Uint64
	cancelled atomic.Uint64
	skipped   atomic.Uint64
}

// NewScheduler creates a scheduler probing with p. Samples of every
// completed round are passed to sink.
func NewScheduler(p Prober, timeout time.Duration, sink func(ctx context.Context, samples []Sample), logger log.FieldLogger) *Scheduler {
	if logger == nil {
		logger = log.StandardLogger()
	}

	return &Scheduler{
		prober:  p,
		timeout: timeout,
		sink:    sink,
		logger:  logger,
		ticker:  newTicker,
	}
}

type indexedSample struct {
	idx    int
	sample Sample
}

// RunRound probes all targets concurrently and returns one sample per
// target in target order. The round takes at most timeout plus a small
// grace period. If ctx is cancelled the partial results are discarded and
// ctx.Err() is returned.
func (s *Scheduler) RunRound(ctx context.Context, targets []string, timeout time.Duration) ([]Sample, error) {
	if len(targets) == 0 {
		return nil, ctx.Err()
	}

	start := time.Now()
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so late probers never block after the round is over
	ch := make(chan indexedSample, len(targets))
	for i, t := range targets {
		go func(idx int, target string) {
			pctx, pcancel := context.WithTimeout(rctx, timeout)
			defer pcancel()
			ch <- indexedSample{idx: idx, sample: s.prober.Probe(pctx, target, timeout)}
		}(i, t)
	}

	results := make([]Sample, len(targets))
	done := make([]bool, len(targets))
	deadline := time.NewTimer(timeout + roundGrace)
	defer deadline.Stop()

	for received := 0; received < len(targets); received++ {
		select {
		case r := <-ch:
			results[r.idx] = r.sample
			done[r.idx] = true
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			for i, ok := range done {
				if !ok {
					s.logger.Debugf("probe of %s did not return in time", targets[i])
					results[i] = Failed(targets[i], start)
				}
			}
			return results, nil
		}
	}

	return results, nil
}

// Start runs a round immediately and then on every tick of interval until
// ctx is cancelled. A tick that fires while a round is in flight is skipped.
// The target set is captured from provider when a round begins.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration, provider func() []string) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticks, stop := s.ticker(interval)
	defer stop()

	s.tryRound(ctx, &wg, provider)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			s.tryRound(ctx, &wg, provider)
		}
	}
}

func (s *Scheduler) tryRound(ctx context.Context, wg *sync.WaitGroup, provider func() []string) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debugln("round still in flight, skipping tick")
		if s.OnSkip != nil {
			s.OnSkip()
		}
		return
	}

	targets := provider()
	s.started.Add(1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.inFlight.Store(false)

		samples, err := s.RunRound(ctx, targets, s.timeout)
		if err != nil {
			s.cancelled.Add(1)
			s.logger.Debugf("round cancelled: %v", err)
			return
		}

		s.completed.Add(1)
		if s.sink != nil && len(samples) > 0 {
			s.sink(ctx, samples)
		}
	}()
}

// Stats returns the scheduler counters.
func (s *Scheduler) Stats() RoundStats {
	return RoundStats{
		Started:   s.started.Load(),
		Completed: s.completed.Load(),
		Cancelled: s.cancelled.Load(),
		Skipped:   s.skipped.Load(),
	}
}
