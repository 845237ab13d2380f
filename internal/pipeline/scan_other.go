//go:build !linux

package pipeline

import (
	"time"

	"github.com/processtriage/pt/internal/identity"
	"github.com/processtriage/pt/internal/protectedfilter"
	"github.com/processtriage/pt/internal/pterrors"
)

// Record is one scanned process: the protectedfilter.Candidate shape plus
// the extra fields downstream evidence extraction and session persistence
// need (spec §4.10's PersistedProcess).
type Record struct {
	protectedfilter.Candidate
	StartID        identity.StartId
	StartTimeUnix  int64
	ElapsedSeconds float64
	State          string
	MemoryMB       float64
	CPUPercent     float64
	TTYAttached    bool
	IOActive       bool
	NetActive      bool
}

// Scan is unimplemented on non-Linux platforms: process enumeration from
// /proc is Linux-specific, the same way executor's mutate.go build splits
// cgroup control off to a linux-only implementation.
func Scan(now time.Time) ([]Record, error) {
	return nil, pterrors.NotSupported("process scanning is not supported on this platform")
}
