package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/czerwonk/latency_lab/engine"
)

// DefaultCapacity is the number of samples the memory store keeps per target.
const DefaultCapacity = 1000

var errClosed = errors.New("store closed")

// Memory keeps the most recent samples of every target in process memory.
type Memory struct {
	capacity int
	series   map[string][]engine.Sample
	closed   bool
	mtx      sync.RWMutex
}

// NewMemory creates a memory store keeping capacity samples per target.
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	return &Memory{
		capacity: capacity,
		series:   make(map[string][]engine.Sample),
	}
}

// Append implements engine.Store.
func (m *Memory) Append(_ context.Context, s engine.Sample) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.closed {
		return wrap("append", errClosed)
	}

	// keep the series ordered by timestamp even if appends race
	series := m.series[s.Target]
	i := sort.Search(len(series), func(i int) bool {
		return series[i].TimestampMs > s.TimestampMs
	})
	series = append(series, engine.Sample{})
	copy(series[i+1:], series[i:])
	series[i] = s
	if len(series) > m.capacity {
		// copy to let the dropped head be collected
		series = append([]engine.Sample(nil), series[len(series)-m.capacity:]...)
	}
	m.series[s.Target] = series

	return nil
}

// Query implements engine.Store.
func (m *Memory) Query(_ context.Context, target string, limit int) ([]engine.Sample, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	if m.closed {
		return nil, wrap("query", errClosed)
	}
	if limit <= 0 {
		return []engine.Sample{}, nil
	}

	var result []engine.Sample
	if target != "" {
		result = append(result, m.series[target]...)
	} else {
		for _, series := range m.series {
			result = append(result, series...)
		}
		sort.SliceStable(result, func(i, j int) bool {
			return result[i].TimestampMs < result[j].TimestampMs
		})
	}

	if len(result) > limit {
		result = result[len(result)-limit:]
	}

	return result, nil
}

// Targets implements engine.Store.
func (m *Memory) Targets(context.Context) ([]string, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	if m.closed {
		return nil, wrap("targets", errClosed)
	}

	targets := make([]string, 0, len(m.series))
	for t := range m.series {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	return targets, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mtx.Lock()
	m.closed = true
	m.series = nil
	m.mtx.Unlock()
	return nil
}
