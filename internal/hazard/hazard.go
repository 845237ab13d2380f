// Package hazard implements the per-regime Gamma-Poisson hazard model: each
// labeled process condition (Orphaned, TtyLost, ...) accrues its own
// conjugate Gamma(alpha, beta) posterior on hazard rate as exposure time
// passes in that regime.
package hazard

import (
	"math"
	"time"
)

// Regime identifies a labeled process condition with its own hazard prior.
type Regime int

const (
	Normal Regime = iota
	TtyLost
	Orphaned
	IoFlatline
	CpuRunaway
	MemoryPressure
	Backgrounded
	Custom
)

// GammaParams holds the shape/rate parameters of a Gamma(alpha, beta) prior
// on a Poisson hazard rate.
type GammaParams struct {
	Alpha float64
	Beta  float64
}

// Mean returns the posterior mean hazard rate alpha/beta.
func (g GammaParams) Mean() float64 {
	if g.Beta == 0 {
		return 0
	}
	return g.Alpha / g.Beta
}

// DefaultPriors returns the progressively-higher-hazard default priors from
// Normal through Orphaned, matching spec's "each regime has its own
// Gamma(alpha,beta) prior with progressively higher default hazard from
// Normal -> Orphaned" requirement. Rates are per-second.
func DefaultPriors() map[Regime]GammaParams {
	return map[Regime]GammaParams{
		Normal:         {Alpha: 1, Beta: 10000},
		Backgrounded:   {Alpha: 1, Beta: 5000},
		IoFlatline:     {Alpha: 1, Beta: 2000},
		MemoryPressure: {Alpha: 1, Beta: 1500},
		CpuRunaway:     {Alpha: 1, Beta: 1000},
		TtyLost:        {Alpha: 1, Beta: 500},
		Orphaned:       {Alpha: 2, Beta: 200},
		Custom:         {Alpha: 1, Beta: 10000},
	}
}

// regimeState tracks accumulated exposure and event counts for one regime.
type regimeState struct {
	prior    GammaParams
	exposure float64 // seconds
	events   float64
}

// Tracker performs live regime tracking across a process's observed
// lifetime: entering a new regime closes the previous one's exposure window,
// and Finalize closes whatever regime is still open.
type Tracker struct {
	states      map[Regime]*regimeState
	current     Regime
	regimeSince time.Time
	started     bool
}

// NewTracker builds a Tracker seeded with the given per-regime priors
// (falling back to DefaultPriors for any regime not present).
func NewTracker(priors map[Regime]GammaParams) *Tracker {
	t := &Tracker{states: make(map[Regime]*regimeState)}
	defaults := DefaultPriors()
	for r, p := range defaults {
		if custom, ok := priors[r]; ok {
			p = custom
		}
		t.states[r] = &regimeState{prior: p}
	}
	return t
}

// EnterRegime transitions into regime r at time t, crediting the elapsed
// time since the previous regime change to the previous regime's exposure.
func (t *Tracker) EnterRegime(r Regime, at time.Time) {
	if t.started {
		t.closeExposure(at)
	}
	t.current = r
	t.regimeSince = at
	t.started = true
}

// RecordEvent credits one hazard event (e.g. an observed state transition
// consistent with the regime's failure mode) to the currently open regime.
func (t *Tracker) RecordEvent() {
	if !t.started {
		return
	}
	t.states[t.current].events++
}

// Finalize closes whatever regime is currently open as of time t. Call once
// per candidate per inference pass.
func (t *Tracker) Finalize(at time.Time) {
	if !t.started {
		return
	}
	t.closeExposure(at)
	t.started = false
}

func (t *Tracker) closeExposure(at time.Time) {
	elapsed := at.Sub(t.regimeSince).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	st := t.states[t.current]
	st.exposure += elapsed
	st.prior.Alpha += st.events
	st.prior.Beta += elapsed
	st.events = 0
}

// CumulativeHazard returns H = sum_r (alpha_r/beta_r) * exposure_r over all
// tracked regimes (point estimate, ignoring parameter uncertainty).
func (t *Tracker) CumulativeHazard() float64 {
	h := 0.0
	for _, st := range t.states {
		h += st.prior.Mean() * st.exposure
	}
	return h
}

// Survival returns the point-estimate survival S = exp(-H).
func (t *Tracker) Survival() float64 {
	return math.Exp(-t.CumulativeHazard())
}

// MarginalSurvival returns the survival estimate that accounts for
// parameter uncertainty: prod_r (beta_r/(beta_r+E_r))^alpha_r.
func (t *Tracker) MarginalSurvival() float64 {
	s := 1.0
	for _, st := range t.states {
		if st.exposure == 0 {
			continue
		}
		base := st.prior.Beta / (st.prior.Beta + st.exposure)
		s *= math.Pow(base, st.prior.Alpha)
	}
	return s
}

// ExposureOf returns accumulated exposure seconds for a regime, useful for
// tests and evidence-ledger attribution.
func (t *Tracker) ExposureOf(r Regime) float64 {
	if st, ok := t.states[r]; ok {
		return st.exposure
	}
	return 0
}
