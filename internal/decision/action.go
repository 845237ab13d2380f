// Package decision implements expected-loss computation, distributionally
// robust optimization, the myopic policy, and the sequential constraint
// stack that together pick a corrective action for a candidate's belief
// state.
package decision

import "github.com/processtriage/pt/internal/belief"

// Action is one of the corrective actions the executor can take.
type Action int

const (
	Keep Action = iota
	Renice
	Pause
	Throttle
	Kill
	Restart
	Freeze
	Quarantine
	numActions
)

func (a Action) String() string {
	switch a {
	case Keep:
		return "Keep"
	case Renice:
		return "Renice"
	case Pause:
		return "Pause"
	case Throttle:
		return "Throttle"
	case Kill:
		return "Kill"
	case Restart:
		return "Restart"
	case Freeze:
		return "Freeze"
	case Quarantine:
		return "Quarantine"
	default:
		return "Unknown"
	}
}

// rank implements the tie-break order from spec §4.4: Keep(0) < Renice(1) <
// Pause/Freeze(2) < Throttle/Quarantine(3) < Restart(4) < Kill(5). Lower
// ranks are preferred on a tie in expected loss.
func (a Action) rank() int {
	switch a {
	case Keep:
		return 0
	case Renice:
		return 1
	case Pause, Freeze:
		return 2
	case Throttle, Quarantine:
		return 3
	case Restart:
		return 4
	case Kill:
		return 5
	default:
		return 99
	}
}

// Rank exposes the tie-break rank publicly for callers comparing two actions
// (e.g. checking a DRO-driven de-escalation strictly lowered the rank).
func Rank(a Action) int { return a.rank() }

// AllActions lists every action in declaration order (not tie-break rank
// order; see Rank).
func AllActions() []Action {
	return []Action{Keep, Renice, Pause, Throttle, Kill, Restart, Freeze, Quarantine}
}

// ParseAction maps a policy.json-style lowercase action name to an Action.
func ParseAction(name string) (Action, bool) {
	switch name {
	case "keep":
		return Keep, true
	case "renice":
		return Renice, true
	case "pause":
		return Pause, true
	case "throttle":
		return Throttle, true
	case "kill":
		return Kill, true
	case "restart":
		return Restart, true
	case "freeze":
		return Freeze, true
	case "quarantine":
		return Quarantine, true
	default:
		return 0, false
	}
}

// LossMatrix is L[S][a], policy-configured and validated non-negative at
// load time.
type LossMatrix struct {
	rows [4][numActions]float64
}

// NewLossMatrix builds a LossMatrix from a nested map, defaulting any
// unspecified (state, action) entry to the Pause/Throttle alias value when
// Freeze/Quarantine are left unspecified, per spec §3.
func NewLossMatrix(values map[belief.Class]map[Action]float64) LossMatrix {
	var m LossMatrix
	for s, row := range values {
		for a, v := range row {
			m.rows[s][a] = v
		}
	}
	// Alias Freeze -> Pause and Quarantine -> Throttle when left at the
	// zero value but the alias target was explicitly set.
	for s := belief.Useful; s <= belief.Zombie; s++ {
		if m.rows[s][Freeze] == 0 {
			m.rows[s][Freeze] = m.rows[s][Pause]
		}
		if m.rows[s][Quarantine] == 0 {
			m.rows[s][Quarantine] = m.rows[s][Throttle]
		}
	}
	return m
}

// Get returns L[s][a].
func (m LossMatrix) Get(s belief.Class, a Action) float64 {
	return m.rows[s][a]
}

// Set assigns L[s][a] = v.
func (m *LossMatrix) Set(s belief.Class, a Action, v float64) {
	m.rows[s][a] = v
}

// DefaultLossMatrix returns a reasonable baseline loss matrix: Keep is
// cheapest when Useful, Kill is cheapest when Abandoned/Zombie, everything
// is expensive when the class doesn't match the action's intent.
func DefaultLossMatrix() LossMatrix {
	values := map[belief.Class]map[Action]float64{
		belief.Useful: {
			Keep: 0.01, Renice: 0.3, Pause: 2.0, Throttle: 1.0,
			Kill: 5.0, Restart: 4.0, Freeze: 2.0, Quarantine: 1.0,
		},
		belief.UsefulBad: {
			Keep: 1.5, Renice: 0.2, Pause: 0.6, Throttle: 0.3,
			Kill: 2.0, Restart: 1.0, Freeze: 0.6, Quarantine: 0.3,
		},
		belief.Abandoned: {
			Keep: 2.0, Renice: 2.0, Pause: 1.2, Throttle: 1.0,
			Kill: 0.02, Restart: 1.5, Freeze: 1.2, Quarantine: 1.0,
		},
		belief.Zombie: {
			Keep: 2.0, Renice: 3.0, Pause: 2.0, Throttle: 2.0,
			Kill: 0.05, Restart: 2.5, Freeze: 2.0, Quarantine: 2.0,
		},
	}
	return NewLossMatrix(values)
}

// Validate checks that every entry is non-negative.
func (m LossMatrix) Validate() error {
	for s := belief.Useful; s <= belief.Zombie; s++ {
		for a := Keep; a < numActions; a++ {
			if m.rows[s][a] < 0 {
				return errNegativeLoss
			}
		}
	}
	return nil
}
