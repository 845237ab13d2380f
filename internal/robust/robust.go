// Package robust implements the Robust Bayes gate: credal sets over
// imprecise priors and Safe-Bayes tempering, combined into a robustness
// decision that keeps destructive actions conservative under model
// misspecification or drift.
package robust

import (
	"math"

	"github.com/processtriage/pt/internal/pterrors"
)

// CredalSet is an interval-valued prior/posterior representing imprecise
// probability: [Lower, Upper] subset of [0,1].
type CredalSet struct {
	Lower float64
	Upper float64
}

// NewCredalSet validates and constructs a CredalSet.
func NewCredalSet(lower, upper float64) (CredalSet, error) {
	if lower < 0 || upper > 1 || lower > upper {
		return CredalSet{}, pterrors.Inference(36, "invalid credal set bounds")
	}
	return CredalSet{Lower: lower, Upper: upper}, nil
}

// Width returns Upper - Lower.
func (c CredalSet) Width() float64 { return c.Upper - c.Lower }

// Center returns the midpoint of the interval.
func (c CredalSet) Center() float64 { return (c.Lower + c.Upper) / 2 }

// Expand grows the interval symmetrically by factor (e.g. 1.1 = 10% wider),
// clamped to [0,1].
func (c CredalSet) Expand(factor float64) CredalSet {
	halfWidth := c.Width() / 2 * factor
	center := c.Center()
	return CredalSet{
		Lower: math.Max(0, center-halfWidth),
		Upper: math.Min(1, center+halfWidth),
	}
}

// Intersect returns the overlap of two credal sets; Lower > Upper signals an
// empty intersection, which callers should check for before use.
func (c CredalSet) Intersect(other CredalSet) CredalSet {
	return CredalSet{Lower: math.Max(c.Lower, other.Lower), Upper: math.Min(c.Upper, other.Upper)}
}

// Hull returns the convex hull (smallest enclosing interval) of two credal
// sets.
func (c CredalSet) Hull(other CredalSet) CredalSet {
	return CredalSet{Lower: math.Min(c.Lower, other.Lower), Upper: math.Max(c.Upper, other.Upper)}
}

// Contains reports whether p falls within the interval.
func (c CredalSet) Contains(p float64) bool {
	return p >= c.Lower && p <= c.Upper
}

// IsEmpty reports an empty interval (e.g. from a failed Intersect).
func (c CredalSet) IsEmpty() bool { return c.Lower > c.Upper }

// TriggerKind identifies which condition reduced eta toward eta_min.
type TriggerKind int

const (
	TriggerPPCFailure TriggerKind = iota
	TriggerDrift
	TriggerLowConfidence
)

// Trigger carries a fired condition and, for drift, its magnitude.
type Trigger struct {
	Kind      TriggerKind
	Magnitude float64 // Wasserstein divergence, for TriggerDrift; ignored otherwise.
}

// Tempering computes the Safe-Bayes eta scalar given a base eta, bounds, and
// a set of fired triggers. Each trigger reduces eta toward EtaMin; multiple
// triggers compound multiplicatively on the remaining headroom above EtaMin.
type Tempering struct {
	EtaMin float64
	// PPCReduction is the fractional reduction (toward EtaMin) applied on a
	// posterior-predictive-check failure.
	PPCReduction float64
	// LowConfidenceReduction is the fractional reduction applied when
	// posterior entropy exceeds the policy threshold.
	LowConfidenceReduction float64
	// DriftReductionScale multiplies divergence magnitude to get a
	// fractional reduction (capped at 1).
	DriftReductionScale float64
}

// DefaultTempering returns reasonable defaults: eta_min=0.3, each discrete
// trigger knocks 20% of headroom off, drift scales linearly with magnitude.
func DefaultTempering() Tempering {
	return Tempering{
		EtaMin:                 0.3,
		PPCReduction:           0.2,
		LowConfidenceReduction: 0.2,
		DriftReductionScale:    0.5,
	}
}

// Apply computes eta starting from 1.0 (full confidence) and applying every
// trigger's reduction, never going below EtaMin.
func (t Tempering) Apply(triggers []Trigger) float64 {
	eta := 1.0
	for _, trig := range triggers {
		var reduction float64
		switch trig.Kind {
		case TriggerPPCFailure:
			reduction = t.PPCReduction
		case TriggerLowConfidence:
			reduction = t.LowConfidenceReduction
		case TriggerDrift:
			reduction = math.Min(1, trig.Magnitude*t.DriftReductionScale)
		}
		headroom := eta - t.EtaMin
		if headroom <= 0 {
			eta = t.EtaMin
			continue
		}
		eta -= headroom * reduction
		if eta < t.EtaMin {
			eta = t.EtaMin
		}
	}
	return eta
}

// PrequentialSelect scans a set of candidate etas and returns the one
// minimizing cumulative cross-entropy log-loss on held-out predictions.
// predictedProb(eta, i) must return the model's predicted probability of
// the observed held-out outcome i under tempering eta.
func PrequentialSelect(candidates []float64, n int, predictedProb func(eta float64, i int) float64) float64 {
	bestEta := 1.0
	bestLoss := math.Inf(1)
	for _, eta := range candidates {
		loss := 0.0
		for i := 0; i < n; i++ {
			p := predictedProb(eta, i)
			if p <= 0 {
				p = 1e-12
			}
			loss -= math.Log(p)
		}
		if loss < bestLoss {
			bestLoss = loss
			bestEta = eta
		}
	}
	return bestEta
}

// GateResult is the robustness decision: worst/best case posterior mass
// under the credal set, whether the decision is robust per policy
// threshold, and the effective sample size after tempering.
type GateResult struct {
	IsRobust      bool
	WorstCase     float64
	BestCase      float64
	EffectiveN    float64
}

// Evaluate computes the robust Bayes gate output: worst_case is
// credal.Lower * posteriorMass (the worst-case weighting of the imprecise
// prior), best_case is credal.Upper * posteriorMass, and the decision is
// robust iff worst_case meets the policy threshold.
func Evaluate(credal CredalSet, posteriorMass, threshold, eta, n float64) GateResult {
	worst := credal.Lower * posteriorMass
	best := credal.Upper * posteriorMass
	return GateResult{
		IsRobust:   worst >= threshold,
		WorstCase:  worst,
		BestCase:   best,
		EffectiveN: eta * n,
	}
}
