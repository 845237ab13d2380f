// Package ratelimit implements the four-window sliding-log rate limiter
// (per-run, per-minute, per-hour, per-day) that gates destructive actions,
// persisted atomically to rate_limit.json.
//
// The mutex-guarded counter/atomic-metrics shape follows the teacher's
// token-bucket package, generalized from a single refilling bucket to four
// nested sliding windows over a shared event deque.
package ratelimit

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
)

// readFileIfExists returns (nil, nil) when path does not exist.
func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Window identifies one of the four nested windows, checked strictest-first
// (Run, Minute, Hour, Day) per spec §4.8.
type Window string

const (
	WindowRun    Window = "Run"
	WindowMinute Window = "Minute"
	WindowHour   Window = "Hour"
	WindowDay    Window = "Day"
)

// windowOrder is the fixed evaluation order: strictest first.
var windowOrder = []Window{WindowRun, WindowMinute, WindowHour, WindowDay}

const (
	minuteSeconds = 60
	hourSeconds   = 3600
	daySeconds    = 86400
	pruneSeconds  = daySeconds
)

// Limits configures the per-window caps. A nil field means the window is
// unbounded; a pointer to 0 blocks every action in that window.
type Limits struct {
	MaxPerRun    *int
	MaxPerMinute *int
	MaxPerHour   *int
	MaxPerDay    *int
}

func (l Limits) limitFor(w Window) (int, bool) {
	switch w {
	case WindowRun:
		if l.MaxPerRun != nil {
			return *l.MaxPerRun, true
		}
	case WindowMinute:
		if l.MaxPerMinute != nil {
			return *l.MaxPerMinute, true
		}
	case WindowHour:
		if l.MaxPerHour != nil {
			return *l.MaxPerHour, true
		}
	case WindowDay:
		if l.MaxPerDay != nil {
			return *l.MaxPerDay, true
		}
	}
	return 0, false
}

func windowSpan(w Window) int64 {
	switch w {
	case WindowMinute:
		return minuteSeconds
	case WindowHour:
		return hourSeconds
	case WindowDay:
		return daySeconds
	default:
		return -1 // Run has no time span; counted for the whole process run.
	}
}

// BlockReason describes which window blocked a check.
type BlockReason struct {
	Window Window
	Count  int
	Limit  int
}

// CheckResult is the outcome of a rate-limit check.
type CheckResult struct {
	Allowed     bool
	Forced      bool
	Warnings    []Window
	BlockReason *BlockReason
}

// persistedState is the on-disk shape of rate_limit.json.
type persistedState struct {
	EventsUnixSeconds []int64 `json:"events_unix_seconds"`
	RunCount          int     `json:"run_count"`
}

// Limiter is the in-process sliding-log rate limiter. The read-modify-write
// of the backing file is serialized by an in-process mutex only; no OS
// advisory lock is taken on the file, so separate processes sharing the
// same path are not serialized against each other.
type Limiter struct {
	mu       sync.Mutex
	events   []int64 // unix seconds, ascending
	runCount int
	limits   Limits
	path     string

	warningsEmitted atomic.Uint64
	blocksEmitted   atomic.Uint64
}

// New constructs a Limiter backed by the given file path (loaded if
// present).
func New(path string, limits Limits) (*Limiter, error) {
	l := &Limiter{path: path, limits: limits}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Limiter) load() error {
	data, err := readFileIfExists(l.path)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.events = state.EventsUnixSeconds
	l.runCount = state.RunCount
	return nil
}

// persist writes the pruned deque atomically via write-to-temp-then-rename
// (github.com/google/renameio/v2), matching spec §4.8/§6's atomic-write
// requirement.
func (l *Limiter) persist() error {
	state := persistedState{EventsUnixSeconds: l.events, RunCount: l.runCount}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return renameio.WriteFile(l.path, data, 0o600)
}

func (l *Limiter) pruneLocked(now int64) {
	cutoff := now - pruneSeconds
	idx := sort.Search(len(l.events), func(i int) bool { return l.events[i] >= cutoff })
	l.events = l.events[idx:]
}

func (l *Limiter) countSince(now, span int64) int {
	if span < 0 {
		return l.runCount
	}
	cutoff := now - span
	idx := sort.Search(len(l.events), func(i int) bool { return l.events[i] >= cutoff })
	return len(l.events) - idx
}

const warningFraction = 0.80

// Check evaluates every window (without recording an event) against the
// common "now" cutoff, strictest window first, and returns whether the
// action would be allowed.
func (l *Limiter) Check(now time.Time) CheckResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(now.Unix())
}

func (l *Limiter) checkLocked(nowUnix int64) CheckResult {
	l.pruneLocked(nowUnix)
	var warnings []Window
	for _, w := range windowOrder {
		limit, has := l.limits.limitFor(w)
		if !has {
			continue
		}
		count := l.countSince(nowUnix, windowSpan(w))
		if count >= limit {
			return CheckResult{Allowed: false, BlockReason: &BlockReason{Window: w, Count: count, Limit: limit}}
		}
		if float64(count) >= warningFraction*float64(limit) {
			warnings = append(warnings, w)
		}
	}
	return CheckResult{Allowed: true, Warnings: warnings}
}

// CheckAndRecord atomically checks every window and, if allowed (or forced),
// records the event and persists the pruned deque. force=true bypasses a
// block, marking Forced=true in the result; warnings are still emitted
// regardless of force.
func (l *Limiter) CheckAndRecord(now time.Time, force bool) (CheckResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowUnix := now.Unix()
	result := l.checkLocked(nowUnix)

	if !result.Allowed && !force {
		l.blocksEmitted.Add(1)
		return result, nil
	}

	forced := !result.Allowed && force
	l.events = append(l.events, nowUnix)
	l.runCount++
	if len(result.Warnings) > 0 {
		l.warningsEmitted.Add(uint64(len(result.Warnings)))
	}
	if err := l.persist(); err != nil {
		return result, err
	}

	return CheckResult{Allowed: true, Forced: forced, Warnings: result.Warnings}, nil
}

// ResetRunCount zeroes the per-run counter; called once per new session.
func (l *Limiter) ResetRunCount() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runCount = 0
}

// WarningsEmitted and BlocksEmitted expose lifetime counters for metrics.
func (l *Limiter) WarningsEmitted() uint64 { return l.warningsEmitted.Load() }
func (l *Limiter) BlocksEmitted() uint64   { return l.blocksEmitted.Load() }
