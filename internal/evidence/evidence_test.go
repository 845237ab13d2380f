package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuseSumsClasswise(t *testing.T) {
	var l Ledger
	l.Add(NewTerm("orphan", KindBernoulli, [4]float64{0.1, 0.2, 0.3, 0.4}, "orphan status"))
	l.Add(NewTerm("hazard", KindHazard, [4]float64{0.5, 0.0, -0.1, 0.0}, "hazard exposure"))

	got := l.Fuse()
	assert.InDelta(t, 0.6, got[0], 1e-9)
	assert.InDelta(t, 0.2, got[1], 1e-9)
	assert.InDelta(t, 0.2, got[2], 1e-9)
	assert.InDelta(t, 0.4, got[3], 1e-9)
}

func TestFuseEmptyLedgerIsZero(t *testing.T) {
	var l Ledger
	got := l.Fuse()
	assert.Equal(t, [4]float64{0, 0, 0, 0}, got)
}

func TestNewTermDefaultsGlyph(t *testing.T) {
	term := NewTerm("x", KindKalman, [4]float64{}, "trend")
	assert.Equal(t, "∿", term.Glyph)
}

func TestLedgerPreservesInsertionOrder(t *testing.T) {
	var l Ledger
	l.Add(NewTerm("a", KindBernoulli, [4]float64{}, ""))
	l.Add(NewTerm("b", KindHawkes, [4]float64{}, ""))
	assert.Equal(t, "a", l.Terms[0].FeatureName)
	assert.Equal(t, "b", l.Terms[1].FeatureName)
}
