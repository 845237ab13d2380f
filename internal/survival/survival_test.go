package survival

import (
	"testing"
	"time"

	"github.com/processtriage/pt/internal/bernoulli"
	"github.com/stretchr/testify/assert"
)

func fixedScheme() BinScheme {
	return BinScheme{Kind: Fixed, Width: time.Minute, MaxBins: 10, Version: 1}
}

// Property 3: the survival curve is monotone non-increasing in bin index.
func TestSurvivalMonotoneNonIncreasing(t *testing.T) {
	c := NewCurve(fixedScheme(), bernoulli.Uniform())
	c.Fit([]Sample{
		{Duration: 30 * time.Second, Event: false},
		{Duration: 90 * time.Second, Event: true},
		{Duration: 5 * time.Minute, Event: false},
		{Duration: 8 * time.Minute, Event: true},
	})
	curve := c.Survival()
	for i := 1; i < len(curve); i++ {
		assert.LessOrEqual(t, curve[i], curve[i-1]+1e-12)
		assert.GreaterOrEqual(t, curve[i], 0.0)
		assert.LessOrEqual(t, curve[i], 1.0)
	}
}

func TestBinIndexRightCensoredBeyondMax(t *testing.T) {
	s := fixedScheme()
	idx, inRange := s.BinIndex(100 * time.Minute)
	assert.False(t, inRange)
	assert.Equal(t, s.MaxBins-1, idx)
}

func TestLogSchemeBinsGrow(t *testing.T) {
	s := BinScheme{Kind: Log, Width: time.Second, Growth: 2.0, MaxBins: 5}
	idx0, in0 := s.BinIndex(500 * time.Millisecond)
	assert.True(t, in0)
	assert.Equal(t, 0, idx0)
	idx1, in1 := s.BinIndex(1500 * time.Millisecond)
	assert.True(t, in1)
	assert.Equal(t, 1, idx1)
}

func TestMoreEventsLowerSurvival(t *testing.T) {
	low := NewCurve(fixedScheme(), bernoulli.Uniform())
	low.Fit([]Sample{{Duration: time.Minute, Event: false}})

	high := NewCurve(fixedScheme(), bernoulli.Uniform())
	high.Fit([]Sample{{Duration: time.Minute, Event: true}})

	// A one-minute lifetime falls in bin 1 ([1m,2m)), where the event lands.
	assert.Less(t, high.SurvivalAt(1), low.SurvivalAt(1))
}
