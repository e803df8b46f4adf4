package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSample(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		ts      int64
		latency *float64
		success bool
		valid   bool
	}{
		{"success", "8.8.8.8", 1, ptr(12.5), true, true},
		{"failure", "8.8.8.8", 1, nil, false, true},
		{"zero latency", "8.8.8.8", 1, ptr(0), true, true},
		{"success without latency", "8.8.8.8", 1, nil, true, false},
		{"failure with latency", "8.8.8.8", 1, ptr(3), false, false},
		{"empty target", "  ", 1, nil, false, false},
		{"zero timestamp", "8.8.8.8", 0, nil, false, false},
		{"negative latency", "8.8.8.8", 1, ptr(-1), true, false},
		{"nan latency", "8.8.8.8", 1, ptr(math.NaN()), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSample(tt.target, tt.ts, tt.latency, tt.success)
			if !tt.valid {
				assert.ErrorIs(t, err, ErrInvalidSample)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.success, s.Success)
		})
	}
}

func TestNewSampleCopiesLatency(t *testing.T) {
	v := 10.0
	s, err := NewSample("a", 1, &v, true)
	assert.NoError(t, err)

	v = 20
	assert.EqualValues(t, 10, *s.LatencyMs)
}

func TestRawSampleInfersSuccess(t *testing.T) {
	s, err := RawSample{Target: "a", TimestampMs: 1, LatencyMs: ptr(5)}.Sample()
	assert.NoError(t, err)
	assert.True(t, s.Success)

	s, err = RawSample{Target: "a", TimestampMs: 1}.Sample()
	assert.NoError(t, err)
	assert.False(t, s.Success)

	yes := true
	_, err = RawSample{Target: "a", TimestampMs: 1, Success: &yes}.Sample()
	assert.ErrorIs(t, err, ErrInvalidSample)
}
