package decision

import (
	"math"

	"github.com/processtriage/pt/internal/belief"
)

// TriggerSet reports which DRO-activating conditions fired for a candidate,
// per spec §4.4: ppc_failure OR drift_detected OR eta_tempering_reduced OR
// explicit_conservative OR low_model_confidence.
type TriggerSet struct {
	PPCFailure           bool
	DriftDetected        bool
	DriftMagnitude       float64 // used when DriftDetected
	EtaTemperingReduced  bool
	ExplicitConservative bool
	LowModelConfidence   bool
}

// Fired reports whether any DRO trigger is active.
func (t TriggerSet) Fired() bool {
	return t.PPCFailure || t.DriftDetected || t.EtaTemperingReduced || t.ExplicitConservative || t.LowModelConfidence
}

// AdaptiveEpsilon scales a base epsilon by the multipliers spec §4.4 names,
// composing multiplicatively and capping at epsilonMax (Open Question
// decision: multiplicative composition, see SPEC_FULL.md §E.3).
func AdaptiveEpsilon(base float64, t TriggerSet, epsilonMax float64) float64 {
	eps := base
	if t.PPCFailure {
		eps *= 1.5
	}
	if t.DriftDetected {
		if t.DriftMagnitude > 0 {
			eps *= 1 + math.Min(t.DriftMagnitude, 1)
		} else {
			eps *= 1.3
		}
	}
	if t.EtaTemperingReduced {
		eps *= 1.2
	}
	if t.LowModelConfidence {
		eps *= 1.4
	}
	if eps > epsilonMax {
		eps = epsilonMax
	}
	return eps
}

// RobustExpectedLoss computes EL_robust(a) = EL(a) + epsilon * (max_S L[S][a]
// - min_S L[S][a]), the Wasserstein-ball / Lipschitz-bound DRO penalty.
func RobustExpectedLoss(m LossMatrix, b belief.State, a Action, epsilon float64) float64 {
	el := ExpectedLoss(m, b, a)
	lipschitz := lossSpread(m, a)
	return el + epsilon*lipschitz
}

func lossSpread(m LossMatrix, a Action) float64 {
	min, max := math.Inf(1), math.Inf(-1)
	for s := belief.Useful; s <= belief.Zombie; s++ {
		v := m.Get(s, a)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}

// DROResult is the outcome of applying DRO to the nominal optimum.
type DROResult struct {
	NominalAction   Action
	NominalLoss     float64
	RobustAction    Action
	RobustLoss      float64
	Epsilon         float64
	ActionChanged   bool
}

// ApplyDRO computes the nominal argmin, then (if triggers fired) the robust
// argmin under RobustExpectedLoss, flagging ActionChanged when the robust
// outcome's rank strictly decreased from the nominal Kill-leaning choice
// (de-escalated to a gentler action).
func ApplyDRO(m LossMatrix, b belief.State, feasible map[Action]bool, baseEpsilon, epsilonMax float64, triggers TriggerSet) (DROResult, error) {
	nominalAction, nominalLoss, err := ArgMin(m, b, feasible)
	if err != nil {
		return DROResult{}, err
	}
	if !triggers.Fired() {
		return DROResult{
			NominalAction: nominalAction,
			NominalLoss:   nominalLoss,
			RobustAction:  nominalAction,
			RobustLoss:    nominalLoss,
			Epsilon:       0,
		}, nil
	}

	epsilon := AdaptiveEpsilon(baseEpsilon, triggers, epsilonMax)

	robustAction := Action(-1)
	robustLoss := math.Inf(1)
	for a := Keep; a < numActions; a++ {
		if feasible != nil && !feasible[a] {
			continue
		}
		el := RobustExpectedLoss(m, b, a, epsilon)
		if el < robustLoss-1e-12 {
			robustAction, robustLoss = a, el
		} else if math.Abs(el-robustLoss) <= 1e-12 && robustAction >= 0 && a.rank() < robustAction.rank() {
			robustAction, robustLoss = a, el
		}
	}
	if robustAction < 0 {
		return DROResult{}, ErrNoFeasibleActions
	}

	return DROResult{
		NominalAction: nominalAction,
		NominalLoss:   nominalLoss,
		RobustAction:  robustAction,
		RobustLoss:    robustLoss,
		Epsilon:       epsilon,
		ActionChanged: robustAction.rank() < nominalAction.rank(),
	}, nil
}
