package decision

import (
	"testing"

	"github.com/processtriage/pt/internal/belief"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allFeasible() map[Action]bool {
	m := make(map[Action]bool)
	for _, a := range AllActions() {
		m[a] = true
	}
	return m
}

// S1: Useful process must be kept.
func TestScenarioS1UsefulIsKept(t *testing.T) {
	b, err := belief.FromLinear([4]float64{0.90, 0.05, 0.03, 0.02})
	require.NoError(t, err)
	m := DefaultLossMatrix()
	action, loss, err := ArgMin(m, b, allFeasible())
	require.NoError(t, err)
	assert.Equal(t, Keep, action)
	assert.Less(t, loss, 0.20)
}

// S2: Abandoned process must be killed.
func TestScenarioS2AbandonedIsKilled(t *testing.T) {
	b, err := belief.FromLinear([4]float64{0.02, 0.03, 0.90, 0.05})
	require.NoError(t, err)
	m := DefaultLossMatrix()
	action, loss, err := ArgMin(m, b, allFeasible())
	require.NoError(t, err)
	assert.Equal(t, Kill, action)
	assert.Less(t, loss, 0.20)
}

// S3: Kill disabled by feasibility.
func TestScenarioS3KillDisabled(t *testing.T) {
	b, err := belief.FromLinear([4]float64{0.02, 0.03, 0.90, 0.05})
	require.NoError(t, err)
	m := DefaultLossMatrix()
	feasible := allFeasible()
	feasible[Kill] = false
	action, _, err := ArgMin(m, b, feasible)
	require.NoError(t, err)
	assert.NotEqual(t, Kill, action)
	assert.Contains(t, []Action{Restart, Throttle}, action)
}

// S4: DRO de-escalation under a drift trigger.
func TestScenarioS4DRODeescalation(t *testing.T) {
	b, err := belief.FromLinear([4]float64{0.10, 0.05, 0.80, 0.05})
	require.NoError(t, err)
	m := DefaultLossMatrix()
	res, err := ApplyDRO(m, b, allFeasible(), 0.5, 5.0, TriggerSet{DriftDetected: true})
	require.NoError(t, err)
	assert.Equal(t, Kill, res.NominalAction)
	assert.True(t, res.ActionChanged)
	assert.Less(t, Rank(res.RobustAction), Rank(Kill))
}

// Property 7: EL_robust(a) >= EL(a) for all a, equality iff epsilon=0 or
// Lipschitz=0.
func TestDROAlwaysAtLeastNominal(t *testing.T) {
	b, err := belief.FromLinear([4]float64{0.3, 0.3, 0.3, 0.1})
	require.NoError(t, err)
	m := DefaultLossMatrix()
	for _, a := range AllActions() {
		nominal := ExpectedLoss(m, b, a)
		robust := RobustExpectedLoss(m, b, a, 0.5)
		assert.GreaterOrEqual(t, robust, nominal-1e-12)
	}
}

func TestDROZeroEpsilonEqualsNominal(t *testing.T) {
	b, err := belief.FromLinear([4]float64{0.3, 0.3, 0.3, 0.1})
	require.NoError(t, err)
	m := DefaultLossMatrix()
	for _, a := range AllActions() {
		nominal := ExpectedLoss(m, b, a)
		robust := RobustExpectedLoss(m, b, a, 0)
		assert.InDelta(t, nominal, robust, 1e-12)
	}
}

// Property 8: if every action is disabled, return NoFeasibleActions.
func TestNoFeasibleActionsWhenAllDisabled(t *testing.T) {
	b := belief.Uniform()
	m := DefaultLossMatrix()
	_, _, err := ArgMin(m, b, map[Action]bool{})
	assert.ErrorIs(t, err, ErrNoFeasibleActions)
}

func TestMyopicPolicyRecordsConstraintOverride(t *testing.T) {
	b, err := belief.FromLinear([4]float64{0.02, 0.03, 0.90, 0.05})
	require.NoError(t, err)
	m := DefaultLossMatrix()

	gates := OrderedGates(
		nil, nil, nil, nil, nil,
		func(a Action) bool { return a != Kill }, // rate-limit gate blocks Kill
	)

	res, err := RunMyopicPolicy(m, b, allFeasible(), gates)
	require.NoError(t, err)
	assert.NotEqual(t, Kill, res.Action)
	require.NotNil(t, res.ConstraintOverride)
	assert.Equal(t, Kill, res.ConstraintOverride.UnconstrainedOptimum)
	assert.Contains(t, res.ConstraintOverride.BlockedBy, GateRateLimit)
}

func TestMyopicPolicyNoOverrideWhenUnblocked(t *testing.T) {
	b, err := belief.FromLinear([4]float64{0.90, 0.05, 0.03, 0.02})
	require.NoError(t, err)
	m := DefaultLossMatrix()
	res, err := RunMyopicPolicy(m, b, allFeasible(), nil)
	require.NoError(t, err)
	assert.Nil(t, res.ConstraintOverride)
	assert.Equal(t, Keep, res.Action)
}

func TestTieBreakOrderPrefersLowerRank(t *testing.T) {
	assert.Less(t, Rank(Keep), Rank(Renice))
	assert.Less(t, Rank(Renice), Rank(Pause))
	assert.Equal(t, Rank(Pause), Rank(Freeze))
	assert.Less(t, Rank(Pause), Rank(Throttle))
	assert.Equal(t, Rank(Throttle), Rank(Quarantine))
	assert.Less(t, Rank(Restart), Rank(Kill))
}
