package decision

import "github.com/processtriage/pt/internal/belief"

// GateName identifies one of the sequential constraint-stack gates from
// spec §4.6, applied in this fixed order: policy allow/deny, robot-mode
// constraints, FDR gate, alpha-investing wealth check, blast-radius caps,
// rate-limit gate.
type GateName string

const (
	GatePolicy      GateName = "policy_allow_deny"
	GateRobotMode   GateName = "robot_mode"
	GateFDR         GateName = "fdr"
	GateAlphaWealth GateName = "alpha_wealth"
	GateBlastRadius GateName = "blast_radius"
	GateRateLimit   GateName = "rate_limit"
)

// Gate is one constraint-stack step: given the current candidate set of
// feasible actions, it may further restrict them. It must not add actions
// that weren't already feasible.
type Gate struct {
	Name    GateName
	Allowed func(a Action) bool
}

// OrderedGates returns the constraint stack in its fixed evaluation order.
func OrderedGates(
	policyAllow func(Action) bool,
	robotMode func(Action) bool,
	fdr func(Action) bool,
	alphaWealth func(Action) bool,
	blastRadius func(Action) bool,
	rateLimit func(Action) bool,
) []Gate {
	return []Gate{
		{Name: GatePolicy, Allowed: policyAllow},
		{Name: GateRobotMode, Allowed: robotMode},
		{Name: GateFDR, Allowed: fdr},
		{Name: GateAlphaWealth, Allowed: alphaWealth},
		{Name: GateBlastRadius, Allowed: blastRadius},
		{Name: GateRateLimit, Allowed: rateLimit},
	}
}

// ConstraintOverride records that the unconstrained optimum was blocked and
// a next-best-feasible action was substituted, for auditability.
type ConstraintOverride struct {
	UnconstrainedOptimum Action
	ChosenAction         Action
	BlockedBy            []GateName
}

// MyopicResult is the outcome of running the full myopic policy.
type MyopicResult struct {
	Action              Action
	ExpectedLoss        float64
	ConstraintOverride  *ConstraintOverride
}

// applyGates narrows a starting feasible set by running every gate in
// order, recording which gates blocked at least one previously-feasible
// action.
func applyGates(start map[Action]bool, gates []Gate) (map[Action]bool, []GateName) {
	current := make(map[Action]bool, len(start))
	for a, ok := range start {
		current[a] = ok
	}
	var blockedBy []GateName
	for _, gate := range gates {
		if gate.Allowed == nil {
			continue
		}
		blockedAny := false
		for a, ok := range current {
			if !ok {
				continue
			}
			if !gate.Allowed(a) {
				current[a] = false
				blockedAny = true
			}
		}
		if blockedAny {
			blockedBy = append(blockedBy, gate.Name)
		}
	}
	return current, blockedBy
}

// RunMyopicPolicy picks argmin expected loss after applying the full
// constraint stack. If the unconstrained optimum is blocked, the
// next-best-feasible action under the narrowed set is chosen and a
// ConstraintOverride is attached for auditability.
func RunMyopicPolicy(m LossMatrix, b belief.State, initiallyFeasible map[Action]bool, gates []Gate) (MyopicResult, error) {
	unconstrained, _, err := ArgMin(m, b, initiallyFeasible)
	if err != nil {
		return MyopicResult{}, err
	}

	narrowed, blockedBy := applyGates(initiallyFeasible, gates)

	chosen, loss, err := ArgMin(m, b, narrowed)
	if err != nil {
		return MyopicResult{}, err
	}

	result := MyopicResult{Action: chosen, ExpectedLoss: loss}
	if chosen != unconstrained {
		result.ConstraintOverride = &ConstraintOverride{
			UnconstrainedOptimum: unconstrained,
			ChosenAction:         chosen,
			BlockedBy:            blockedBy,
		}
	}
	return result, nil
}
