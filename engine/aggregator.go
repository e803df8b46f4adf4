package engine

import (
	"sort"
	"strings"
	"sync"
)

// DefaultWindowSize is the number of samples kept per target.
const DefaultWindowSize = 50

// Aggregator keeps a bounded sample window per target and derives
// statistics from it. Writes to one window are serialized by the window's
// lock, snapshots work on a copy.
type Aggregator struct {
	size    int
	windows map[string]*window
	mtx     sync.RWMutex
}

// NewAggregator creates an aggregator keeping size samples per target.
func NewAggregator(size int) *Aggregator {
	if size < 1 {
		size = DefaultWindowSize
	}

	return &Aggregator{
		size:    size,
		windows: make(map[string]*window),
	}
}

// Size returns the per-target window capacity.
func (a *Aggregator) Size() int {
	return a.size
}

// Ingest appends s to the window of its target. Malformed samples are
// rejected with ErrInvalidSample and leave the window untouched.
// Surrounding whitespace of the target is ignored.
func (a *Aggregator) Ingest(s Sample) error {
	s.Target = strings.TrimSpace(s.Target)
	if err := s.Validate(); err != nil {
		return err
	}

	return a.windowFor(s.Target).add(s)
}

func (a *Aggregator) windowFor(target string) *window {
	a.mtx.RLock()
	w, found := a.windows[target]
	a.mtx.RUnlock()
	if found {
		return w
	}

	a.mtx.Lock()
	defer a.mtx.Unlock()
	if w, found = a.windows[target]; !found {
		w = newWindow(a.size)
		a.windows[target] = w
	}

	return w
}

func (a *Aggregator) lookup(target string) *window {
	a.mtx.RLock()
	defer a.mtx.RUnlock()
	return a.windows[target]
}

// Snapshot computes the statistics of a single target. Unknown targets
// yield empty statistics.
func (a *Aggregator) Snapshot(target string) TargetStats {
	return computeStats(target, a.Window(target))
}

// SnapshotAll computes the statistics of every known target, ordered by
// target name.
func (a *Aggregator) SnapshotAll() []TargetStats {
	targets := a.Targets()
	result := make([]TargetStats, 0, len(targets))
	for _, t := range targets {
		result = append(result, a.Snapshot(t))
	}

	return result
}

// Window returns a copy of the target window, oldest first.
func (a *Aggregator) Window(target string) []Sample {
	w := a.lookup(target)
	if w == nil {
		return nil
	}

	return w.samples()
}

// Targets lists all targets with a window, sorted.
func (a *Aggregator) Targets() []string {
	a.mtx.RLock()
	targets := make([]string, 0, len(a.windows))
	for t := range a.windows {
		targets = append(targets, t)
	}
	a.mtx.RUnlock()

	sort.Strings(targets)
	return targets
}

// Forget drops the window of target.
func (a *Aggregator) Forget(target string) {
	a.mtx.Lock()
	delete(a.windows, target)
	a.mtx.Unlock()
}
