package engine

import (
	"sort"
	"strings"
	"sync"
)

// Registry holds the active target set. Rounds work on the copy returned by
// List, so changes never affect a round in flight.
type Registry struct {
	targets map[string]struct{}
	mtx     sync.RWMutex
}

// NewRegistry creates a registry with the given initial targets.
func NewRegistry(targets ...string) *Registry {
	r := &Registry{targets: make(map[string]struct{})}
	r.Replace(targets)
	return r
}

// Add registers target. It reports whether the target was new.
func (r *Registry) Add(target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, exists := r.targets[target]; exists {
		return false
	}
	r.targets[target] = struct{}{}
	return true
}

// Remove unregisters target. It reports whether the target was known.
func (r *Registry) Remove(target string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, exists := r.targets[target]; !exists {
		return false
	}
	delete(r.targets, target)
	return true
}

// Replace swaps the whole target set and returns the targets no longer
// present.
func (r *Registry) Replace(targets []string) []string {
	m := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if t = strings.TrimSpace(t); t != "" {
			m[t] = struct{}{}
		}
	}

	r.mtx.Lock()
	old := r.targets
	r.targets = m
	r.mtx.Unlock()

	var dropped []string
	for t := range old {
		if _, found := m[t]; !found {
			dropped = append(dropped, t)
		}
	}
	sort.Strings(dropped)

	return dropped
}

// Contains reports whether target is registered.
func (r *Registry) Contains(target string) bool {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	_, found := r.targets[target]
	return found
}

// List returns a sorted copy of the active targets.
func (r *Registry) List() []string {
	r.mtx.RLock()
	result := make([]string, 0, len(r.targets))
	for t := range r.targets {
		result = append(result, t)
	}
	r.mtx.RUnlock()

	sort.Strings(result)
	return result
}
