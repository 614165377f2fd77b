package validation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinStore/internal/domain/models"
)

type stdRecorder struct {
	seen map[string]float64
}

func (r *stdRecorder) RecordHorizonStd(h string, std float64) {
	if r.seen == nil {
		r.seen = map[string]float64{}
	}
	r.seen[h] = std
}

func spread(n int, center, width float64, seed int64) []float64 {
	rnd := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = center + (rnd.Float64()*2-1)*width
	}
	return out
}

func TestGateRejectsDegenerateWeeklyHorizon(t *testing.T) {
	rec := &stdRecorder{}
	g := NewGate(2e-3, rec)

	err := g.Validate(map[string][]float64{
		"1d": spread(300, 0.001, 0.05, 1),
		"1w": spread(300, 0.000012, 2e-5, 2),
	})
	require.Error(t, err)

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Len(t, rej.Horizons, 1)
	assert.Equal(t, "1w", rej.Horizons[0].Horizon)
	assert.Less(t, rej.Horizons[0].Std, 2e-3)
	assert.Contains(t, err.Error(), "1w std=")
	assert.NotContains(t, err.Error(), "1d std=")

	assert.Contains(t, rec.seen, "1d")
	assert.Contains(t, rec.seen, "1w")
}

func TestGateThreshold(t *testing.T) {
	g := NewGate(0, nil)
	assert.Equal(t, DefaultMinStd, g.MinStd())

	tests := []struct {
		name   string
		values []float64
		ok     bool
	}{
		{"constant", []float64{0.5, 0.5, 0.5, 0.5}, false},
		{"just below", []float64{-0.0019, 0.0019}, false},
		{"clearly above", []float64{-0.01, 0.01}, true},
		{"wide", spread(500, 0, 0.2, 7), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := g.Validate(map[string][]float64{"1d": tc.values})
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestGateDiscardsNonFinite(t *testing.T) {
	g := NewGate(2e-3, nil)

	stats := Stats(map[string][]float64{"1d": {math.NaN(), 0.1, math.Inf(1), -0.1, math.Inf(-1)}})
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Valid)
	assert.Equal(t, 3, stats[0].Discarded)
	assert.InDelta(t, 0.1, stats[0].Std, 1e-12)

	assert.NoError(t, g.Validate(map[string][]float64{"1d": {math.NaN(), 0.1, -0.1}}))
}

func TestGateRejectsWhenNoHorizonIsValid(t *testing.T) {
	g := NewGate(2e-3, nil)

	for name, in := range map[string]map[string][]float64{
		"empty":       {},
		"all nan":     {"1d": {math.NaN(), math.NaN()}},
		"single each": {"1d": {0.3}, "1w": {0.1, math.Inf(1)}},
	} {
		t.Run(name, func(t *testing.T) {
			err := g.Validate(in)
			var rej *RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Empty(t, rej.Horizons)
			assert.Contains(t, err.Error(), "no horizon has valid data")
		})
	}
}

func TestGateIgnoresInsufficientHorizonWhenAnotherIsValid(t *testing.T) {
	g := NewGate(2e-3, nil)
	err := g.Validate(map[string][]float64{
		"1d": {-0.05, 0.05, 0.02},
		"1m": {0.4},
	})
	assert.NoError(t, err)
}

func TestByHorizon(t *testing.T) {
	state := models.NewRollingState("predictions")
	state.Merge([]models.PredictionRecord{
		{Symbol: "MSFT", Score: 0.2, Horizons: map[string]float64{"1d": 0.02, "1w": 0.05}},
		{Symbol: "AAPL", Score: 0.1, Horizons: map[string]float64{"1d": 0.01}},
		{Symbol: "TSLA", Score: -0.3},
	})

	got := ByHorizon(state)
	assert.Equal(t, []float64{0.01, 0.02}, got["1d"])
	assert.Equal(t, []float64{0.05}, got["1w"])
	assert.Equal(t, []float64{-0.3}, got[DefaultHorizon])

	assert.Empty(t, ByHorizon(nil))
}
