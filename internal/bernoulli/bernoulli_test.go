package bernoulli

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosteriorParamsMatchesWorkedExample(t *testing.T) {
	prior := Uniform()
	post, ok := PosteriorParams(prior, 7, 10, 1.0)
	require.True(t, ok)
	assert.InDelta(t, 8.0, post.Alpha, 1e-9)
	assert.InDelta(t, 4.0, post.Beta, 1e-9)
	assert.InDelta(t, 2.0/3.0, post.Mean(), 0.01)
}

func TestPosteriorParamsRejectsInvalidEta(t *testing.T) {
	prior := Uniform()
	_, ok := PosteriorParams(prior, 1, 2, 0)
	assert.False(t, ok)
	_, ok = PosteriorParams(prior, 1, 2, 1.5)
	assert.False(t, ok)
}

func TestPosteriorParamsRejectsKGreaterThanN(t *testing.T) {
	_, ok := PosteriorParams(Uniform(), 5, 3, 1.0)
	assert.False(t, ok)
}

func TestPosteriorParamsRejectsNegativeOrNaN(t *testing.T) {
	_, ok := PosteriorParams(Uniform(), -1, 3, 1.0)
	assert.False(t, ok)
	_, ok = PosteriorParams(Uniform(), math.NaN(), 3, 1.0)
	assert.False(t, ok)
}

// Monotonicity: for fixed n, alpha, beta, eta, increasing k never decreases
// P(x=1|data). This is property 2 from the testable-properties set.
func TestMonotonicityInK(t *testing.T) {
	prior := Params{Alpha: 2, Beta: 3}
	n := 10.0
	eta := 1.0
	prev := -1.0
	for k := 0.0; k <= n; k++ {
		post, ok := PosteriorParams(prior, k, n, eta)
		require.True(t, ok)
		_, p1 := PredictiveProbs(post)
		assert.GreaterOrEqual(t, p1, prev)
		prev = p1
	}
}

func TestLogMarginalLikelihoodWorkedExample(t *testing.T) {
	prior := Uniform()
	got := LogMarginalLikelihood(prior, 5, 10, 1.0)
	assert.InDelta(t, -7.93, got, 0.05)
}

func TestCredibleIntervalBracketsMean(t *testing.T) {
	post := Params{Alpha: 8, Beta: 4}
	lower, upper := CredibleInterval(post, 0.95)
	assert.Less(t, lower, post.Mean())
	assert.Greater(t, upper, post.Mean())
}

func TestEffectiveSampleSizeUniformPrior(t *testing.T) {
	prior := Uniform()
	post := Params{Alpha: 8, Beta: 4}
	assert.InDelta(t, 10.0, EffectiveSampleSize(post, prior), 1e-9)
}

func TestBatchUpdateFoldsObservations(t *testing.T) {
	prior := Uniform()
	obs := []Observation{{K: 3, N: 5}, {K: 2, N: 5}}
	got, ok := BatchUpdate(prior, obs, 1.0)
	require.True(t, ok)
	// folding the two batches gives the same posterior as a single update
	// with k=5, n=10: the conjugate counts simply add.
	assert.InDelta(t, prior.Alpha+3+2, got.Alpha, 1e-9)
	assert.InDelta(t, prior.Beta+2+3, got.Beta, 1e-9)
}

func TestBatchUpdateStopsOnInvalidObservation(t *testing.T) {
	_, ok := BatchUpdate(Uniform(), []Observation{{K: 1, N: 2}, {K: 5, N: 2}}, 1.0)
	assert.False(t, ok)
}
