package engine

import "context"

// TargetSeries is the recent latency history of one target. A nil value
// marks a failed probe.
type TargetSeries struct {
	Target string     `json:"label"`
	Values []*float64 `json:"data"`
}

// SeriesView aligns the recent history of all targets by recency index,
// 0 being the oldest sample of each target's window. Targets with fewer
// samples than others have shorter value lists.
type SeriesView struct {
	Labels []int          `json:"labels"`
	Series []TargetSeries `json:"datasets"`
}

// Series returns up to windowSize latency values per known target.
func (e *Engine) Series(ctx context.Context, windowSize int) SeriesView {
	if windowSize < 1 {
		windowSize = e.opts.WindowSize
	}

	view := SeriesView{
		Labels: []int{},
		Series: []TargetSeries{},
	}
	longest := 0
	for _, t := range e.Targets(ctx) {
		samples := e.window(ctx, t, windowSize)
		if len(samples) == 0 {
			continue
		}

		values := make([]*float64, len(samples))
		for i, s := range samples {
			if s.Success {
				v := *s.LatencyMs
				values[i] = &v
			}
		}
		view.Series = append(view.Series, TargetSeries{Target: t, Values: values})

		if len(values) > longest {
			longest = len(values)
		}
	}

	for i := 0; i < longest; i++ {
		view.Labels = append(view.Labels, i)
	}

	return view
}

// window reads the recent samples of target from the store, falling back to
// the in-memory window when no store is configured or the store fails.
func (e *Engine) window(ctx context.Context, target string, limit int) []Sample {
	if e.store != nil {
		samples, err := e.store.Query(ctx, target, limit)
		if err == nil {
			return samples
		}

		e.storeErrors.Add(1)
		e.logger.Errorf("could not query samples of %s: %v", target, err)
	}

	samples := e.agg.Window(target)
	if len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}

	return samples
}
