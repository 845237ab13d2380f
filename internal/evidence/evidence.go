// Package evidence defines the closed Evidence sum type every inference
// source produces, and the fold that fuses them into a single per-class
// log-likelihood vector.
//
// This deliberately replaces a pluggable runtime registry (the shape
// contrib.AnomalyScorer used in the teacher repo) with a closed,
// compile-time-enumerated set of variants, per the "a closed Evidence sum
// type whose variants produce the same triple; fusion is a fold" design
// note: evidence sources here are fixed by the inference pipeline, not
// dynamically discovered at runtime the way third-party scorers were.
package evidence

import "github.com/processtriage/pt/internal/mathkernel"

// Kind identifies which evidence source produced a Term.
type Kind int

const (
	KindBernoulli Kind = iota
	KindSurvival
	KindHazard
	KindHawkes
	KindKalman
	KindPlugin
)

func (k Kind) String() string {
	switch k {
	case KindBernoulli:
		return "bernoulli"
	case KindSurvival:
		return "survival"
	case KindHazard:
		return "hazard"
	case KindHawkes:
		return "hawkes"
	case KindKalman:
		return "kalman"
	case KindPlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// Term is the common triple every evidence source emits: a per-class
// log-likelihood vector, a human-facing description, and a short glyph for
// compact ledger rendering.
type Term struct {
	FeatureName    string
	Kind           Kind
	LogLikelihoods [4]float64
	Description    string
	Glyph          string
}

// Glyphs used for compact evidence-ledger rendering, indexed by Kind.
var defaultGlyphs = map[Kind]string{
	KindBernoulli: "β",
	KindSurvival:  "⏳",
	KindHazard:    "⚠",
	KindHawkes:    "⚡",
	KindKalman:    "∿",
	KindPlugin:    "🔌",
}

// NewTerm builds a Term, defaulting Glyph from the Kind if not supplied.
func NewTerm(feature string, kind Kind, logLikelihoods [4]float64, description string) Term {
	return Term{
		FeatureName:    feature,
		Kind:           kind,
		LogLikelihoods: logLikelihoods,
		Description:    description,
		Glyph:          defaultGlyphs[kind],
	}
}

// Ledger accumulates every Term contributed for a single candidate during
// one inference pass, preserving insertion order for the session artifact.
type Ledger struct {
	Terms []Term
}

// Add appends a term to the ledger.
func (l *Ledger) Add(t Term) {
	l.Terms = append(l.Terms, t)
}

// Fuse folds every term's log-likelihood vector into a single per-class
// vector via class-wise summation (the independence assumption spec §4.2
// names explicitly): fusion never calls LogSumExp across terms, only across
// classes downstream in belief.Update.
func (l *Ledger) Fuse() [4]float64 {
	var out [4]float64
	for _, t := range l.Terms {
		for c := 0; c < 4; c++ {
			out[c] += t.LogLikelihoods[c]
		}
	}
	return out
}

// TotalLogEvidence is a convenience diagnostic: the log-sum-exp of the fused
// vector, useful for comparing candidates' overall evidentiary weight.
func (l *Ledger) TotalLogEvidence() float64 {
	fused := l.Fuse()
	return mathkernel.LogSumExp(fused[:])
}
