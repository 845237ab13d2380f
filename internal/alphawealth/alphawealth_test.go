package alphawealth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, initial float64) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alpha_state.json")
	l, err := New(path, initial)
	require.NoError(t, err)
	return l
}

func TestSpendReducesWealth(t *testing.T) {
	l := newTestLedger(t, 10)
	require.NoError(t, l.Spend(4))
	assert.Equal(t, 6.0, l.Remaining())
}

func TestSpendBeyondWealthFails(t *testing.T) {
	l := newTestLedger(t, 5)
	err := l.Spend(10)
	assert.ErrorIs(t, err, ErrInsufficientWealth)
	assert.Equal(t, 5.0, l.Remaining())
}

func TestRefundCreditsHalfOfSpendByDefault(t *testing.T) {
	l := newTestLedger(t, 10)
	require.NoError(t, l.Spend(4))
	require.NoError(t, l.Refund(4))
	assert.Equal(t, 8.0, l.Remaining())
}

func TestCanAffordDoesNotMutate(t *testing.T) {
	l := newTestLedger(t, 3)
	assert.True(t, l.CanAfford(3))
	assert.False(t, l.CanAfford(4))
	assert.Equal(t, 3.0, l.Remaining())
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha_state.json")
	l1, err := New(path, 10)
	require.NoError(t, err)
	require.NoError(t, l1.Spend(6))

	l2, err := New(path, 10)
	require.NoError(t, err)
	assert.Equal(t, 4.0, l2.Remaining())
}

func TestTotalsAccumulate(t *testing.T) {
	l := newTestLedger(t, 10)
	require.NoError(t, l.Spend(3))
	require.NoError(t, l.Spend(2))
	require.NoError(t, l.Refund(3))
	assert.Equal(t, 5.0, l.TotalSpent())
	assert.Equal(t, 1.5, l.TotalRefunded())
}
