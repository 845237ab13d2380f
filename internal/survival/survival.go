// Package survival implements the Beta-Stacy discrete-time survival model
// used for the "how long has this process been alive without useful work"
// evidence term.
package survival

import (
	"math"
	"time"

	"github.com/processtriage/pt/internal/bernoulli"
)

// SchemeKind selects how the time axis is binned.
type SchemeKind int

const (
	// Fixed bins of constant width.
	Fixed SchemeKind = iota
	// Log bins that grow geometrically from an initial width.
	Log
)

// BinScheme describes the time axis and is versioned so persisted survival
// curves can detect a scheme change across runs.
type BinScheme struct {
	Kind        SchemeKind
	Width       time.Duration // Fixed: bin width. Log: initial width.
	Growth      float64       // Log: growth factor per bin (ignored for Fixed).
	MaxBins     int
	Version     int
}

// BinIndex returns the bin index that `d` falls into, and whether d is
// within the scheme's covered range (false => right-censored, at-risk in
// every bin).
func (s BinScheme) BinIndex(d time.Duration) (int, bool) {
	switch s.Kind {
	case Fixed:
		if s.Width <= 0 {
			return 0, false
		}
		idx := int(d / s.Width)
		if idx >= s.MaxBins {
			return s.MaxBins - 1, false
		}
		return idx, true
	case Log:
		if s.Width <= 0 || s.Growth <= 1 {
			return 0, false
		}
		width := float64(s.Width)
		cum := 0.0
		for i := 0; i < s.MaxBins; i++ {
			cum += width
			if float64(d) < cum {
				return i, true
			}
			width *= s.Growth
		}
		return s.MaxBins - 1, false
	default:
		return 0, false
	}
}

// Sample is one observed lifetime: a duration and whether the event
// (abandonment/death) was actually observed within the scheme's window, or
// whether it's right-censored.
type Sample struct {
	Duration time.Duration
	Event    bool
}

// Bin accumulates events and at-risk counts for a single time bin.
type Bin struct {
	Events  float64
	AtRisk  float64
	Prior   bernoulli.Params
}

// Curve is a fitted Beta-Stacy survival curve: one Bin per time bin, plus
// the scheme it was fit under.
type Curve struct {
	Scheme BinScheme
	Bins   []Bin
}

// NewCurve allocates a Curve with the given scheme and a uniform prior in
// every bin.
func NewCurve(scheme BinScheme, prior bernoulli.Params) *Curve {
	bins := make([]Bin, scheme.MaxBins)
	for i := range bins {
		bins[i] = Bin{Prior: prior}
	}
	return &Curve{Scheme: scheme, Bins: bins}
}

// Fit folds a batch of samples into the curve's bins: a sample is at-risk in
// every bin up to and including its own bin index; if it falls within range
// and the event was observed, one event is credited to that bin, otherwise
// (out-of-range, i.e. right-censored) it is at-risk everywhere but credits
// no event.
func (c *Curve) Fit(samples []Sample) {
	for _, s := range samples {
		idx, inRange := c.Scheme.BinIndex(s.Duration)
		if !inRange {
			for j := range c.Bins {
				c.Bins[j].AtRisk++
			}
			continue
		}
		for j := 0; j <= idx; j++ {
			c.Bins[j].AtRisk++
		}
		if s.Event {
			c.Bins[idx].Events++
		}
	}
}

// HazardAt returns E[h_j], the posterior mean hazard for bin j under
// Beta(prior.alpha+events, prior.beta+at_risk-events).
func (c *Curve) HazardAt(j int) float64 {
	b := c.Bins[j]
	post, ok := bernoulli.New(b.Prior.Alpha+b.Events, b.Prior.Beta+math.Max(b.AtRisk-b.Events, 0))
	if !ok {
		return 0
	}
	return post.Mean()
}

// Survival returns S(t_k) = prod_{j<=k}(1-E[h_j]) for every bin up to and
// including k, clamped to [0,1] and guaranteed monotone non-increasing by
// construction (each factor is in [0,1]).
func (c *Curve) Survival() []float64 {
	out := make([]float64, len(c.Bins))
	s := 1.0
	for j := range c.Bins {
		h := clamp01(c.HazardAt(j))
		s *= clamp01(1 - h)
		out[j] = clamp01(s)
	}
	return out
}

// SurvivalAt returns the survival probability at a specific bin index.
func (c *Curve) SurvivalAt(k int) float64 {
	curve := c.Survival()
	if k < 0 {
		return 1
	}
	if k >= len(curve) {
		k = len(curve) - 1
	}
	return curve[k]
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
