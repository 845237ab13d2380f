// Package alphawealth tracks the alpha-investing wealth scalar that bounds
// the false-discovery rate of destructive actions: a single non-negative
// budget spent on commit and partially refunded on confirmed success.
//
// The spend/refund/remaining shape follows the teacher's token-bucket
// package, generalized from a periodically-refilling bucket to a
// monotonically-spent-then-partially-refunded ledger.
package alphawealth

import (
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/google/renameio/v2"
)

// ErrInsufficientWealth is returned when a spend would drive the ledger
// below zero.
var ErrInsufficientWealth = errors.New("alphawealth: insufficient wealth")

// RefundFraction is the fraction of a spend returned to the ledger when the
// corresponding action is later confirmed correct (ex post FDR control).
const RefundFraction = 0.5

type persistedState struct {
	Wealth        float64 `json:"wealth"`
	TotalSpent    float64 `json:"total_spent"`
	TotalRefunded float64 `json:"total_refunded"`
}

// Ledger is the mutex-guarded wealth scalar, persisted atomically to
// alpha_state.json.
type Ledger struct {
	mu   sync.Mutex
	path string

	wealth        float64
	totalSpent    float64
	totalRefunded float64
}

// New constructs a Ledger backed by path, seeded with initialWealth if the
// file does not yet exist.
func New(path string, initialWealth float64) (*Ledger, error) {
	l := &Ledger{path: path, wealth: initialWealth}
	loaded, err := l.load()
	if err != nil {
		return nil, err
	}
	if !loaded {
		if err := l.persist(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) load() (bool, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return false, err
	}
	l.wealth = state.Wealth
	l.totalSpent = state.TotalSpent
	l.totalRefunded = state.TotalRefunded
	return true, nil
}

func (l *Ledger) persist() error {
	state := persistedState{Wealth: l.wealth, TotalSpent: l.totalSpent, TotalRefunded: l.totalRefunded}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return renameio.WriteFile(l.path, data, 0o600)
}

// Remaining returns the current wealth without mutating it.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wealth
}

// CanAfford reports whether a spend of amount would keep the ledger
// non-negative, without mutating state. Used by the myopic policy's
// alpha-investing wealth gate (spec §4.6 step 4).
func (l *Ledger) CanAfford(amount float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wealth >= amount
}

// Spend debits amount from the wealth scalar when a destructive action is
// committed. Returns ErrInsufficientWealth without mutating state if the
// ledger cannot cover it.
func (l *Ledger) Spend(amount float64) error {
	if amount < 0 {
		return errors.New("alphawealth: negative spend")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.wealth < amount {
		return ErrInsufficientWealth
	}
	l.wealth -= amount
	l.totalSpent += amount
	return l.persist()
}

// Refund credits RefundFraction*amount back to the ledger when the action
// that spent amount is later confirmed correct by the operator or a
// follow-up scan.
func (l *Ledger) Refund(amount float64) error {
	if amount < 0 {
		return errors.New("alphawealth: negative refund")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	refund := amount * RefundFraction
	l.wealth += refund
	l.totalRefunded += refund
	return l.persist()
}

// TotalSpent and TotalRefunded expose lifetime ledger totals for metrics.
func (l *Ledger) TotalSpent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSpent
}

func (l *Ledger) TotalRefunded() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalRefunded
}
