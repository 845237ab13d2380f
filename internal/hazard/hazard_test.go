package hazard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Property 4: more exposure in the same regime never increases survival.
func TestMoreExposureNeverIncreasesSurvival(t *testing.T) {
	base := time.Now()

	short := NewTracker(nil)
	short.EnterRegime(Orphaned, base)
	short.Finalize(base.Add(10 * time.Second))

	long := NewTracker(nil)
	long.EnterRegime(Orphaned, base)
	long.Finalize(base.Add(10 * time.Minute))

	assert.GreaterOrEqual(t, short.Survival(), long.Survival())
}

// Property 4 (second half): adding a higher-hazard regime never increases
// survival relative to staying in a lower-hazard one for the same duration.
func TestHigherHazardRegimeNeverIncreasesSurvival(t *testing.T) {
	base := time.Now()
	dur := 5 * time.Minute

	normal := NewTracker(nil)
	normal.EnterRegime(Normal, base)
	normal.Finalize(base.Add(dur))

	orphaned := NewTracker(nil)
	orphaned.EnterRegime(Orphaned, base)
	orphaned.Finalize(base.Add(dur))

	assert.GreaterOrEqual(t, normal.Survival(), orphaned.Survival())
}

func TestEnterRegimeClosesPreviousExposure(t *testing.T) {
	base := time.Now()
	tr := NewTracker(nil)
	tr.EnterRegime(Normal, base)
	tr.EnterRegime(TtyLost, base.Add(time.Minute))
	tr.Finalize(base.Add(2 * time.Minute))

	assert.InDelta(t, 60.0, tr.ExposureOf(Normal), 1e-6)
	assert.InDelta(t, 60.0, tr.ExposureOf(TtyLost), 1e-6)
}

func TestCumulativeHazardNonNegative(t *testing.T) {
	base := time.Now()
	tr := NewTracker(nil)
	tr.EnterRegime(CpuRunaway, base)
	tr.RecordEvent()
	tr.Finalize(base.Add(time.Hour))
	assert.GreaterOrEqual(t, tr.CumulativeHazard(), 0.0)
	assert.GreaterOrEqual(t, tr.Survival(), 0.0)
	assert.LessOrEqual(t, tr.Survival(), 1.0)
}
