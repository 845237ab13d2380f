// Package bernoulli implements the Beta-Bernoulli conjugate model used for
// binary evidence terms (orphan, tty-lost, io-active, net-active).
//
// Prior: p ~ Beta(alpha, beta). Likelihood: x|p ~ Bernoulli(p). Posterior
// after k successes in n trials: p|data ~ Beta(alpha + eta*k, beta + eta*(n-k))
// where eta in (0,1] is a Safe-Bayes tempering factor.
package bernoulli

import (
	"math"

	"github.com/processtriage/pt/internal/mathkernel"
)

// Params holds the shape parameters of a Beta distribution.
type Params struct {
	Alpha float64
	Beta  float64
}

// New validates alpha/beta and returns a Params, or false if either is
// non-positive or NaN.
func New(alpha, beta float64) (Params, bool) {
	if math.IsNaN(alpha) || math.IsNaN(beta) || alpha <= 0 || beta <= 0 {
		return Params{}, false
	}
	return Params{Alpha: alpha, Beta: beta}, true
}

// Uniform returns the Beta(1,1) uniform prior.
func Uniform() Params { return Params{Alpha: 1, Beta: 1} }

// Jeffreys returns the Jeffreys prior Beta(0.5, 0.5).
func Jeffreys() Params { return Params{Alpha: 0.5, Beta: 0.5} }

// Mean returns E[p] = alpha / (alpha+beta).
func (p Params) Mean() float64 { return p.Alpha / (p.Alpha + p.Beta) }

// Variance returns Var[p] = alpha*beta / ((alpha+beta)^2*(alpha+beta+1)).
func (p Params) Variance() float64 {
	sum := p.Alpha + p.Beta
	return (p.Alpha * p.Beta) / (sum * sum * (sum + 1))
}

// PosteriorParams computes the eta-tempered posterior after observing k
// successes in n trials (k, n may be fractional effective counts). Returns
// false if eta is outside (0,1], k/n are negative, NaN, or k>n, or if the
// resulting posterior itself would be invalid.
func PosteriorParams(prior Params, k, n, eta float64) (Params, bool) {
	if math.IsNaN(k) || math.IsNaN(n) || math.IsNaN(eta) {
		return Params{}, false
	}
	if eta <= 0 || eta > 1 {
		return Params{}, false
	}
	if k < 0 || n < 0 || k > n {
		return Params{}, false
	}
	return New(prior.Alpha+eta*k, prior.Beta+eta*(n-k))
}

// PredictiveProbs returns (p0, p1) for the next observation under a
// posterior, where p0+p1 = 1.
func PredictiveProbs(posterior Params) (p0, p1 float64) {
	sum := posterior.Alpha + posterior.Beta
	return posterior.Beta / sum, posterior.Alpha / sum
}

// LogPredictive returns the log probability of a specific binary outcome x
// (0 or 1) under the posterior. NaN for any other value.
func LogPredictive(posterior Params, x int) float64 {
	sum := posterior.Alpha + posterior.Beta
	switch x {
	case 0:
		return math.Log(posterior.Beta) - math.Log(sum)
	case 1:
		return math.Log(posterior.Alpha) - math.Log(sum)
	default:
		return math.NaN()
	}
}

// LogMarginalLikelihood returns log P(k,n | prior, eta) =
// log B(post.alpha, post.beta) - log B(prior.alpha, prior.beta), the
// evidence-ledger attribution term for Bayes factor computation. NaN for
// invalid inputs.
func LogMarginalLikelihood(prior Params, k, n, eta float64) float64 {
	post, ok := PosteriorParams(prior, k, n, eta)
	if !ok {
		return math.NaN()
	}
	return mathkernel.LogBeta(post.Alpha, post.Beta) - mathkernel.LogBeta(prior.Alpha, prior.Beta)
}

// LogBayesFactor compares two hypotheses' priors over the same data: a
// positive result favors h1, negative favors h0.
func LogBayesFactor(h1, h0 Params, k, n, eta float64) float64 {
	l1 := LogMarginalLikelihood(h1, k, n, eta)
	l0 := LogMarginalLikelihood(h0, k, n, eta)
	if math.IsNaN(l1) || math.IsNaN(l0) {
		return math.NaN()
	}
	return l1 - l0
}

// CredibleInterval returns the (lower, upper) bounds of the `level` credible
// interval (e.g. 0.95) for the probability parameter, via the Beta inverse
// CDF. (NaN, NaN) for an invalid level.
func CredibleInterval(posterior Params, level float64) (lower, upper float64) {
	if math.IsNaN(level) || level <= 0 || level >= 1 {
		return math.NaN(), math.NaN()
	}
	tail := (1 - level) / 2
	lower = mathkernel.BetaInvCDF(tail, posterior.Alpha, posterior.Beta)
	upper = mathkernel.BetaInvCDF(1-tail, posterior.Alpha, posterior.Beta)
	return lower, upper
}

// EffectiveSampleSize returns (post.alpha+post.beta) - (prior.alpha+prior.beta).
func EffectiveSampleSize(posterior, prior Params) float64 {
	return (posterior.Alpha + posterior.Beta) - (prior.Alpha + prior.Beta)
}

// Observation is a single binary trial batch credited to a posterior update.
type Observation struct {
	K float64
	N float64
}

// BatchUpdate folds a sequence of observations into a single posterior by
// applying PosteriorParams iteratively, each step's posterior becoming the
// next step's prior. Stops and returns false on the first invalid
// observation.
func BatchUpdate(prior Params, observations []Observation, eta float64) (Params, bool) {
	cur := prior
	for _, obs := range observations {
		next, ok := PosteriorParams(cur, obs.K, obs.N, eta)
		if !ok {
			return Params{}, false
		}
		cur = next
	}
	return cur, true
}
