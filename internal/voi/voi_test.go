package voi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostFactorsWeightedSum(t *testing.T) {
	c := CostFactors{LogTime: 1, Overhead: 1, Intrusiveness: 1, Risk: 1}
	assert.InDelta(t, 1.0, c.Cost(), 1e-9)
}

func TestRecommendPicksMostNegativeVOI(t *testing.T) {
	voiByProbe := map[Probe]float64{
		QuickScan: -0.1,
		DeepScan:  -0.4,
		Strace:    0.2,
	}
	rec := Recommend(voiByProbe)
	assert.True(t, rec.ShouldProbe)
	assert.Equal(t, DeepScan, rec.BestProbe)
}

func TestRecommendActNowWhenAllNonNegative(t *testing.T) {
	voiByProbe := map[Probe]float64{QuickScan: 0.1, DeepScan: 0.3}
	rec := Recommend(voiByProbe)
	assert.False(t, rec.ShouldProbe)
}

func TestEstimatePosteriorAfterProbeMovesTowardCertainty(t *testing.T) {
	got := EstimatePosteriorAfterProbe(0.5, DeepScan, 1.0, 0.1)
	assert.Less(t, got, 1.0)
	assert.GreaterOrEqual(t, got, 0.1)
}
