package robust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredalSetRejectsInvalidBounds(t *testing.T) {
	_, err := NewCredalSet(0.8, 0.2)
	assert.Error(t, err)
	_, err = NewCredalSet(-0.1, 0.5)
	assert.Error(t, err)
}

func TestCredalSetExpandWidensAroundCenter(t *testing.T) {
	c, err := NewCredalSet(0.4, 0.6)
	require.NoError(t, err)
	wide := c.Expand(2.0)
	assert.InDelta(t, c.Center(), wide.Center(), 1e-9)
	assert.Greater(t, wide.Width(), c.Width())
}

func TestCredalSetIntersectAndHull(t *testing.T) {
	a, _ := NewCredalSet(0.2, 0.6)
	b, _ := NewCredalSet(0.4, 0.8)
	inter := a.Intersect(b)
	assert.InDelta(t, 0.4, inter.Lower, 1e-9)
	assert.InDelta(t, 0.6, inter.Upper, 1e-9)

	hull := a.Hull(b)
	assert.InDelta(t, 0.2, hull.Lower, 1e-9)
	assert.InDelta(t, 0.8, hull.Upper, 1e-9)
}

func TestTemperingNeverGoesBelowEtaMin(t *testing.T) {
	tmp := DefaultTempering()
	eta := tmp.Apply([]Trigger{
		{Kind: TriggerPPCFailure},
		{Kind: TriggerDrift, Magnitude: 5},
		{Kind: TriggerLowConfidence},
	})
	assert.GreaterOrEqual(t, eta, tmp.EtaMin)
}

func TestTemperingNoTriggersIsFullConfidence(t *testing.T) {
	tmp := DefaultTempering()
	assert.InDelta(t, 1.0, tmp.Apply(nil), 1e-9)
}

func TestEvaluateRobustWhenWorstCaseMeetsThreshold(t *testing.T) {
	credal := CredalSet{Lower: 0.8, Upper: 0.95}
	res := Evaluate(credal, 0.9, 0.5, 1.0, 10)
	assert.True(t, res.IsRobust)
	assert.InDelta(t, 0.72, res.WorstCase, 1e-9)
}

func TestPrequentialSelectPicksLowestLoss(t *testing.T) {
	candidates := []float64{0.3, 0.6, 1.0}
	predicted := func(eta float64, i int) float64 {
		if eta == 0.6 {
			return 0.9
		}
		return 0.2
	}
	best := PrequentialSelect(candidates, 3, predicted)
	assert.Equal(t, 0.6, best)
}
