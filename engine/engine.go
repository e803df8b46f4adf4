package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Defaults for Options fields left empty.
const (
	DefaultProbeTimeout  = 2 * time.Second
	DefaultRoundInterval = 5 * time.Second
)

// Store is the durable series store the engine writes samples to and reads
// windows back from.
type Store interface {
	Append(ctx context.Context, s Sample) error
	// Query returns up to limit samples ordered oldest to newest. An empty
	// target queries all targets.
	Query(ctx context.Context, target string, limit int) ([]Sample, error)
	Targets(ctx context.Context) ([]string, error)
}

// ErrInvalidTarget is returned when registering an empty target.
var ErrInvalidTarget = errors.New("invalid target")

// Options configures an Engine.
type Options struct {
	ProbeTimeout  time.Duration
	RoundInterval time.Duration
	WindowSize    int
	Targets       []string
}

func (o *Options) setDefaults() {
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.RoundInterval <= 0 {
		o.RoundInterval = DefaultRoundInterval
	}
	if o.WindowSize < 1 {
		o.WindowSize = DefaultWindowSize
	}
}

// Stats counts engine activity.
type Stats struct {
	Rounds          RoundStats
	SamplesIngested uint64
	SamplesRejected uint64
	StoreErrors     uint64
}

// Engine ties prober, scheduler, aggregator and store together. It is
// constructed once at startup and holds no package level state, so several
// engines can coexist.
type Engine struct {
	opts      Options
	store     Store
	agg       *Aggregator
	registry  *Registry
	scheduler *Scheduler
	logger    log.FieldLogger

	// locks serializes window update and store append per target
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex

	ingested    atomic.Uint64
	rejected    atomic.Uint64
	storeErrors atomic.Uint64
}

// New creates an engine. st may be nil, in which case queries are served
// from the in-memory windows.
func New(opts Options, p Prober, st Store, logger log.FieldLogger) *Engine {
	opts.setDefaults()
	if logger == nil {
		logger = log.StandardLogger()
	}

	e := &Engine{
		opts:     opts,
		store:    st,
		agg:      NewAggregator(opts.WindowSize),
		registry: NewRegistry(opts.Targets...),
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
	e.scheduler = NewScheduler(p, opts.ProbeTimeout, e.ingestRound, logger)

	return e
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Run probes the registered targets until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Infof("Starting probing (interval=%s, timeout=%s, window=%d)",
		e.opts.RoundInterval, e.opts.ProbeTimeout, e.opts.WindowSize)
	return e.scheduler.Start(ctx, e.opts.RoundInterval, e.registry.List)
}

// RunRound probes the currently registered targets once and ingests the
// results.
func (e *Engine) RunRound(ctx context.Context) ([]Sample, error) {
	samples, err := e.scheduler.RunRound(ctx, e.registry.List(), e.opts.ProbeTimeout)
	if err != nil {
		return nil, err
	}

	e.ingestRound(ctx, samples)
	return samples, nil
}

// OnSkip installs a hook called for every skipped tick.
func (e *Engine) OnSkip(fn func()) {
	e.scheduler.OnSkip = fn
}

func (e *Engine) ingestRound(ctx context.Context, samples []Sample) {
	for _, s := range samples {
		if err := e.ingestProbed(ctx, s); err != nil {
			e.logger.Warnf("dropping probe result for %s: %v", s.Target, err)
		}
	}
}

// ingestProbed ingests a locally probed sample unless its target was
// unregistered while the round was in flight.
func (e *Engine) ingestProbed(ctx context.Context, s Sample) error {
	unlock := e.lockTarget(s.Target)
	defer unlock()

	if !e.registry.Contains(s.Target) {
		e.logger.Debugf("discarding probe result for removed target %s", s.Target)
		return nil
	}

	return e.ingestLocked(ctx, s)
}

// lockTarget locks the ingest path of target and returns the unlock func.
func (e *Engine) lockTarget(target string) func() {
	e.locksMu.Lock()
	mu, found := e.locks[target]
	if !found {
		mu = &sync.Mutex{}
		e.locks[target] = mu
	}
	e.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Ingest merges s into the window of its target and appends it to the
// store. Only validation errors are returned, store failures are logged and
// counted. Samples of one target reach window and store in the same order.
func (e *Engine) Ingest(ctx context.Context, s Sample) error {
	s.Target = strings.TrimSpace(s.Target)
	unlock := e.lockTarget(s.Target)
	defer unlock()

	return e.ingestLocked(ctx, s)
}

func (e *Engine) ingestLocked(ctx context.Context, s Sample) error {
	if err := e.agg.Ingest(s); err != nil {
		e.rejected.Add(1)
		return err
	}
	e.ingested.Add(1)

	if e.store == nil {
		return nil
	}

	if err := e.store.Append(ctx, s); err != nil {
		e.storeErrors.Add(1)
		e.logger.Errorf("could not store sample for %s: %v", s.Target, err)
	}

	return nil
}

// Rejection describes a sample refused at the ingestion boundary.
type Rejection struct {
	Index  int    `json:"index"`
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// BatchResult reports the outcome of IngestBatch.
type BatchResult struct {
	Accepted   int         `json:"accepted"`
	Rejected   int         `json:"rejected"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// IngestBatch validates and ingests externally supplied samples. Invalid
// items are reported, the rest of the batch proceeds.
func (e *Engine) IngestBatch(ctx context.Context, batch []RawSample) BatchResult {
	var res BatchResult
	for i, raw := range batch {
		err := e.ingestRaw(ctx, raw)
		if err == nil {
			res.Accepted++
			continue
		}

		res.Rejected++
		res.Rejections = append(res.Rejections, Rejection{
			Index:  i,
			Target: raw.Target,
			Reason: err.Error(),
		})
	}

	if res.Rejected > 0 {
		e.logger.Infof("ingested batch: %d accepted, %d rejected", res.Accepted, res.Rejected)
	}

	return res
}

func (e *Engine) ingestRaw(ctx context.Context, raw RawSample) error {
	s, err := raw.Sample()
	if err != nil {
		e.rejected.Add(1)
		return err
	}

	return e.Ingest(ctx, s)
}

// Snapshot returns the statistics of target.
func (e *Engine) Snapshot(target string) TargetStats {
	return e.agg.Snapshot(target)
}

// SnapshotAll returns the statistics of all targets seen so far.
func (e *Engine) SnapshotAll() []TargetStats {
	return e.agg.SnapshotAll()
}

// AddTarget registers target for the following rounds.
func (e *Engine) AddTarget(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return ErrInvalidTarget
	}

	if e.registry.Add(target) {
		e.logger.Infof("added target %s", target)
	}
	return nil
}

// RemoveTarget unregisters target and drops its window.
func (e *Engine) RemoveTarget(target string) bool {
	if !e.registry.Remove(target) {
		return false
	}

	e.forget(target)
	e.logger.Infof("removed target %s", target)
	return true
}

// SetTargets replaces the registered target set. Windows of dropped targets
// are discarded.
func (e *Engine) SetTargets(targets []string) {
	dropped := e.registry.Replace(targets)
	for _, t := range dropped {
		e.forget(t)
	}
	e.logger.Infof("target set updated (%d targets, %d dropped)", len(targets), len(dropped))
}

func (e *Engine) forget(target string) {
	unlock := e.lockTarget(target)
	defer unlock()

	e.agg.Forget(target)
}

// Registered returns the active target set.
func (e *Engine) Registered() []string {
	return e.registry.List()
}

// Targets returns the distinct known targets: registered ones, ones with
// samples in memory and ones present in the store.
func (e *Engine) Targets(ctx context.Context) []string {
	set := make(map[string]struct{})
	for _, t := range e.registry.List() {
		set[t] = struct{}{}
	}
	for _, t := range e.agg.Targets() {
		set[t] = struct{}{}
	}

	if e.store != nil {
		stored, err := e.store.Targets(ctx)
		if err != nil {
			e.storeErrors.Add(1)
			e.logger.Errorf("could not list stored targets: %v", err)
		}
		for _, t := range stored {
			set[t] = struct{}{}
		}
	}

	result := make([]string, 0, len(set))
	for t := range set {
		result = append(result, t)
	}
	sort.Strings(result)

	return result
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Rounds:          e.scheduler.Stats(),
		SamplesIngested: e.ingested.Load(),
		SamplesRejected: e.rejected.Load(),
		StoreErrors:     e.storeErrors.Load(),
	}
}
