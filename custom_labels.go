package main

import (
	"sync"

	"github.com/czerwonk/latency_lab/config"
)

// customLabelSet maps targets to the values of user defined labels. The
// label names are fixed once the collector is registered, values follow
// config reloads.
type customLabelSet struct {
	names   []string
	nameMap map[string]interface{}

	mutex  sync.RWMutex
	labels map[string]map[string]string
}

func newCustomLabelSet(targets []config.TargetConfig) *customLabelSet {
	cl := &customLabelSet{
		nameMap: make(map[string]interface{}),
		names:   make([]string, 0),
	}

	for _, t := range targets {
		cl.addLabelsForTarget(&t)
	}
	cl.setTargets(targets)

	return cl
}

func (cl *customLabelSet) addLabelsForTarget(t *config.TargetConfig) {
	if t.Labels == nil {
		return
	}

	for name := range t.Labels {
		cl.addLabel(name)
	}
}

func (cl *customLabelSet) addLabel(name string) {
	_, exists := cl.nameMap[name]
	if exists || name == "target" {
		return
	}

	cl.names = append(cl.names, name)
	cl.nameMap[name] = nil
}

// setTargets replaces the label values. Labels unknown at construction time
// are ignored.
func (cl *customLabelSet) setTargets(targets []config.TargetConfig) {
	labels := make(map[string]map[string]string, len(targets))
	for _, t := range targets {
		if len(t.Labels) > 0 {
			labels[t.Addr] = t.Labels
		}
	}

	cl.mutex.Lock()
	cl.labels = labels
	cl.mutex.Unlock()
}

func (cl *customLabelSet) labelNames() []string {
	return cl.names
}

func (cl *customLabelSet) labelValues(target string) []string {
	values := make([]string, len(cl.names))

	cl.mutex.RLock()
	labels := cl.labels[target]
	cl.mutex.RUnlock()
	if labels == nil {
		return values
	}

	for i, name := range cl.names {
		if value, isSet := labels[name]; isSet {
			values[i] = value
		}
	}

	return values
}
