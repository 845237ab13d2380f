package mathkernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSumExpMatchesNaive(t *testing.T) {
	xs := []float64{0.1, -0.5, 2.0, -3.0}
	got := LogSumExp(xs)
	sum := 0.0
	for _, x := range xs {
		sum += math.Exp(x)
	}
	require.InDelta(t, math.Log(sum), got, 1e-9)
}

func TestLogSumExpAllNegInf(t *testing.T) {
	got := LogSumExp([]float64{math.Inf(-1), math.Inf(-1)})
	assert.True(t, math.IsInf(got, -1))
}

func TestSoftmaxSumsToOne(t *testing.T) {
	p := Softmax([]float64{1, 2, 3, 4})
	sum := 0.0
	for _, pi := range p {
		sum += pi
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestEntropyUniformIsMax(t *testing.T) {
	h := Entropy([]float64{0.25, 0.25, 0.25, 0.25})
	assert.InDelta(t, math.Log(4), h, 1e-9)
}

func TestEntropyDegenerateIsZero(t *testing.T) {
	h := Entropy([]float64{1, 0, 0, 0})
	assert.InDelta(t, 0.0, h, 1e-12)
}

func TestBetaInvCDFRoundTrips(t *testing.T) {
	a, b := 3.0, 5.0
	for _, p := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		x := BetaInvCDF(p, a, b)
		back := RegularizedIncompleteBeta(x, a, b)
		assert.InDelta(t, p, back, 1e-4)
	}
}

func TestLogBetaKnownValue(t *testing.T) {
	// B(1,1) = 1, so log(B(1,1)) = 0.
	got := LogBeta(1, 1)
	assert.InDelta(t, 0.0, got, 1e-9)
}
