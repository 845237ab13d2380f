package kalman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Property 6: mean smoothed variance <= mean filtered variance + 1e-6.
func TestSmoothedVarianceNeverExceedsFiltered(t *testing.T) {
	obs := []float64{10, 12, 11, 15, 30, 14, 13, 12, 11, 10}
	res := Smooth(obs, Params{Q: 0.5, R: 4.0})
	assert.LessOrEqual(t, res.Summary.MeanSmoothedVar, res.Summary.MeanFilteredVar+1e-6)
}

func TestSmoothEmptyInput(t *testing.T) {
	res := Smooth(nil, Params{Q: 1, R: 1})
	assert.Empty(t, res.SmoothedMean)
}

func TestSmoothSingleObservation(t *testing.T) {
	res := Smooth([]float64{42}, Params{Q: 1, R: 1})
	require.Len(t, res.SmoothedMean, 1)
	assert.InDelta(t, 42, res.SmoothedMean[0], 1.0)
}

func TestAutoTuneFloorsVariance(t *testing.T) {
	p := AutoTune([]float64{5, 5, 5, 5})
	assert.GreaterOrEqual(t, p.Q, varianceFloor)
	assert.GreaterOrEqual(t, p.R, varianceFloor)
}

func TestLogOddsFromTrendRisingIsPositive(t *testing.T) {
	assert.Greater(t, LogOddsFromTrend(5, 1), 0.0)
	assert.Less(t, LogOddsFromTrend(-5, 1), 0.0)
}
