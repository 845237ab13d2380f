// Package executor carries out a decided plan action against a live
// process: re-verify identity, capture reversal metadata, mutate state,
// verify by re-reading, and record the outcome.
//
// The Start+Wait/signal-escalation discipline for Kill is grounded on the
// sibling pack's BCC tool executor (SIGTERM-then-SIGKILL-after-grace,
// re-checking liveness between signals); cgroup mutation is grounded on
// the cgroupio package, itself grounded on the teacher's cgroup detector.
package executor

import (
	"context"
	"time"

	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/identity"
	"github.com/processtriage/pt/internal/pterrors"
)

// Target identifies the process an action applies to.
type Target struct {
	PID     int
	StartId identity.StartId
}

// PlanAction is one entry from a decided plan: the action to take against
// a target, the expected loss that justified it, and a human rationale.
type PlanAction struct {
	Target       Target
	Action       decision.Action
	ExpectedLoss float64
	Rationale    string
}

// ReversalMetadata captures enough state, immediately before mutation, to
// undo a reversible action later.
type ReversalMetadata struct {
	Throttle   *ThrottleReversal
	Quarantine *QuarantineReversal
	Freeze     *FreezeReversal
	Renice     *ReniceReversal
}

// ThrottleReversal restores the prior cpu.max string.
type ThrottleReversal struct {
	PriorQuota  int64
	PriorPeriod int64
}

// QuarantineReversal records the cgroup's prior CPU count and whether the
// host was on v1 or v2 at capture time. Capture does not read the prior
// cpuset.cpus list, so PriorCPUSet is left empty.
type QuarantineReversal struct {
	PriorCPUSet string
	PriorCount  int
	WasV2       bool
}

// FreezeReversal restores the prior cgroup freezer state.
type FreezeReversal struct {
	WasFrozen bool
}

// ReniceReversal restores the prior nice value.
type ReniceReversal struct {
	PriorNice int
}

// FailureKind is the executor's failure taxonomy (spec §4.9).
type FailureKind string

const (
	FailurePermissionDenied FailureKind = "PermissionDenied"
	FailureIdentityMismatch FailureKind = "IdentityMismatch"
	FailureTimeout          FailureKind = "Timeout"
	FailureNotSupported     FailureKind = "NotSupported"
	FailureGeneric          FailureKind = "Failed"
)

// Outcome is the recorded result of attempting one PlanAction.
type Outcome struct {
	Target           Target
	Action           decision.Action
	Success          bool
	FailureKind      FailureKind
	FailureReason    string
	ReversalMetadata *ReversalMetadata
	Duration         time.Duration
	Err              error
}

// KillGrace is the default wait between SIGTERM and SIGKILL.
const KillGrace = 10 * time.Second

// CgroupPathResolver maps a target to the cgroup path the executor should
// mutate. Supplied by the caller since cgroup path discovery belongs to
// the scanner/session layer, not the executor.
type CgroupPathResolver func(Target) (string, error)

// MinCPUFloor is the minimum CPU count Quarantine must leave a process,
// enforced regardless of policy, to prevent starvation.
const MinCPUFloor = 1

// Executor runs plan actions against live processes.
type Executor struct {
	ResolveCgroupPath CgroupPathResolver
	KillGrace         time.Duration
}

// New constructs an Executor. killGrace<=0 uses KillGrace.
func New(resolver CgroupPathResolver, killGrace time.Duration) *Executor {
	if killGrace <= 0 {
		killGrace = KillGrace
	}
	return &Executor{ResolveCgroupPath: resolver, KillGrace: killGrace}
}

// Execute runs the full lifecycle for one PlanAction: pre-check identity,
// capture reversal metadata, mutate, verify, and return the recorded
// outcome. It never panics; all failures are reflected in Outcome.
func (e *Executor) Execute(ctx context.Context, plan PlanAction) Outcome {
	start := time.Now()
	outcome := Outcome{Target: plan.Target, Action: plan.Action}

	if err := identity.Verify(plan.Target.PID, plan.Target.StartId); err != nil {
		outcome.FailureKind = FailureIdentityMismatch
		outcome.FailureReason = err.Error()
		outcome.Err = err
		outcome.Duration = time.Since(start)
		return outcome
	}

	var cgroupPath string
	var err error
	if needsCgroup(plan.Action) {
		cgroupPath, err = e.ResolveCgroupPath(plan.Target)
		if err != nil {
			return e.fail(outcome, start, err)
		}
	}

	reversal, err := e.capture(plan.Action, plan.Target, cgroupPath)
	if err != nil {
		return e.fail(outcome, start, err)
	}
	outcome.ReversalMetadata = reversal

	if err := e.mutate(ctx, plan.Action, plan.Target, cgroupPath); err != nil {
		return e.fail(outcome, start, err)
	}

	if err := e.verify(plan.Action, plan.Target, cgroupPath); err != nil {
		return e.fail(outcome, start, err)
	}

	outcome.Success = true
	outcome.Duration = time.Since(start)
	return outcome
}

func (e *Executor) fail(outcome Outcome, start time.Time, err error) Outcome {
	outcome.FailureKind = classify(err)
	outcome.FailureReason = err.Error()
	outcome.Err = err
	outcome.Duration = time.Since(start)
	return outcome
}

func classify(err error) FailureKind {
	ptErr, ok := pterrors.As(err)
	if ok {
		switch ptErr.SuggestedAction {
		case pterrors.ActionElevate:
			return FailurePermissionDenied
		case pterrors.ActionRescan:
			return FailureIdentityMismatch
		}
		if ptErr.Category == pterrors.CategoryAction && ptErr.Code == 43 {
			return FailureTimeout
		}
		if !ptErr.Recoverable && ptErr.SuggestedAction == pterrors.ActionSkip {
			return FailureNotSupported
		}
	}
	return FailureGeneric
}

func needsCgroup(a decision.Action) bool {
	switch a {
	case decision.Throttle, decision.Quarantine, decision.Freeze, decision.Pause:
		return true
	default:
		return false
	}
}
