package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1700000000000)

func ok(target string, offset int, ms float64) Sample {
	return Succeeded(target, t0.Add(time.Duration(offset)*time.Second), ms)
}

func lost(target string, offset int) Sample {
	return Failed(target, t0.Add(time.Duration(offset)*time.Second))
}

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
		latest  *float64
		jitter  float64
		loss    float64
	}{
		{
			name: "empty",
		},
		{
			name:    "single success",
			samples: []Sample{ok("a", 0, 42)},
			latest:  ptr(42),
		},
		{
			name:    "one success among failures",
			samples: []Sample{lost("a", 0), ok("a", 1, 42), lost("a", 2)},
			loss:    200.0 / 3,
		},
		{
			name:    "all failed",
			samples: []Sample{lost("a", 0), lost("a", 1)},
			loss:    100,
		},
		{
			name:    "population stddev",
			samples: []Sample{ok("a", 0, 100), ok("a", 1, 110), ok("a", 2, 90)},
			latest:  ptr(90),
			jitter:  8.16496580927726,
		},
		{
			name:    "mixed, latest failed",
			samples: []Sample{ok("a", 0, 50), lost("a", 1), ok("a", 2, 60), lost("a", 3)},
			jitter:  5,
			loss:    50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := computeStats("a", tt.samples)
			assert.Equal(t, "a", st.Target)
			assert.Equal(t, len(tt.samples), st.Samples)
			assert.Equal(t, tt.latest, st.LatestLatencyMs)
			assert.InDelta(t, tt.jitter, st.JitterMs, 1e-9)
			assert.InDelta(t, tt.loss, st.LossPct, 1e-9)
		})
	}
}

func TestComputeStatsBestWorstMean(t *testing.T) {
	st := computeStats("a", []Sample{ok("a", 0, 100), lost("a", 1), ok("a", 2, 110), ok("a", 3, 90)})

	assert.EqualValues(t, 90, st.BestLatencyMs)
	assert.EqualValues(t, 110, st.WorstLatencyMs)
	assert.EqualValues(t, 100, st.MeanLatencyMs)
	assert.EqualValues(t, 25, st.LossPct)
}

func TestWindowEvictsOldest(t *testing.T) {
	w := newWindow(3)
	for i := 0; i < 4; i++ {
		require.NoError(t, w.add(ok("a", i, float64(i))))
	}

	got := w.samples()
	require.Len(t, got, 3)
	for i, s := range got {
		assert.EqualValues(t, i+1, *s.LatencyMs)
	}
}

func TestWindowRejectsOutOfOrder(t *testing.T) {
	w := newWindow(3)
	require.NoError(t, w.add(ok("a", 5, 1)))
	require.NoError(t, w.add(ok("a", 5, 2)))

	err := w.add(ok("a", 4, 3))
	assert.ErrorIs(t, err, ErrInvalidSample)
	assert.Len(t, w.samples(), 2)
}

func ptr(v float64) *float64 {
	return &v
}
