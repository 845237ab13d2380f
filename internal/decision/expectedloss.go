package decision

import (
	"math"

	"github.com/processtriage/pt/internal/belief"
	"github.com/processtriage/pt/internal/pterrors"
)

var errNegativeLoss = pterrors.Config(13, "loss matrix entries must be non-negative")

// ExpectedLoss computes EL(a) = sum_S L[S][a] * b(S) for a single action.
func ExpectedLoss(m LossMatrix, b belief.State, a Action) float64 {
	el := 0.0
	for s := belief.Useful; s <= belief.Zombie; s++ {
		el += m.Get(s, a) * b.Prob(s)
	}
	return el
}

// AllExpectedLosses computes EL(a) for every action.
func AllExpectedLosses(m LossMatrix, b belief.State) map[Action]float64 {
	out := make(map[Action]float64, numActions)
	for a := Keep; a < numActions; a++ {
		out[a] = ExpectedLoss(m, b, a)
	}
	return out
}

// ErrNoFeasibleActions is returned when every action is disabled by
// feasibility (spec §8 property 8).
var ErrNoFeasibleActions = pterrors.Inference(37, "no feasible actions available")

// ArgMin returns the minimum-expected-loss action among the feasible set,
// breaking ties using the rank order Keep<Renice<Pause/Freeze<
// Throttle/Quarantine<Restart<Kill. feasible, if non-nil, restricts the
// search to the actions it maps to true; a nil feasible set allows every
// action. A non-nil set with no action mapped to true returns
// ErrNoFeasibleActions.
func ArgMin(m LossMatrix, b belief.State, feasible map[Action]bool) (Action, float64, error) {
	best := Action(-1)
	bestLoss := math.Inf(1)
	for a := Keep; a < numActions; a++ {
		if feasible != nil && !feasible[a] {
			continue
		}
		el := ExpectedLoss(m, b, a)
		if el < bestLoss-1e-12 {
			best, bestLoss = a, el
		} else if math.Abs(el-bestLoss) <= 1e-12 && best >= 0 && a.rank() < best.rank() {
			best, bestLoss = a, el
		}
	}
	if best < 0 {
		return 0, 0, ErrNoFeasibleActions
	}
	return best, bestLoss, nil
}
