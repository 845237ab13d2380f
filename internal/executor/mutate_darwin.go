//go:build darwin

package executor

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/identity"
	"github.com/processtriage/pt/internal/pterrors"
)

// macOS only supports renice and kill natively; every other action returns
// NotSupported and is reported as skipped (spec §4.9).

func (e *Executor) capture(action decision.Action, target Target, cgroupPath string) (*ReversalMetadata, error) {
	switch action {
	case decision.Renice:
		nice, err := readNice(target.PID)
		if err != nil {
			return nil, pterrors.Action(45, "failed to read prior nice value").WithCause(err)
		}
		return &ReversalMetadata{Renice: &ReniceReversal{PriorNice: nice}}, nil
	default:
		return nil, nil
	}
}

func (e *Executor) mutate(ctx context.Context, action decision.Action, target Target, cgroupPath string) error {
	switch action {
	case decision.Keep:
		return nil
	case decision.Renice:
		return setPriority(target.PID, defaultReniceValue)
	case decision.Kill:
		return killWithGrace(ctx, target, e.KillGrace)
	default:
		return pterrors.NotSupported(fmt.Sprintf("%s is not supported on macOS", action))
	}
}

func (e *Executor) verify(action decision.Action, target Target, cgroupPath string) error {
	switch action {
	case decision.Renice:
		nice, err := readNice(target.PID)
		if err != nil {
			return pterrors.Action(46, "failed to verify nice value").WithCause(err)
		}
		if nice != defaultReniceValue {
			return pterrors.Action(46, "nice value verification mismatch").
				WithContext("expected_nice", defaultReniceValue).WithContext("actual_nice", nice)
		}
		return nil
	case decision.Kill:
		if processExists(target.PID) {
			return pterrors.Action(46, "target process still exists after kill")
		}
		return nil
	default:
		return nil
	}
}

const defaultReniceValue int = 10

func readNice(pid int) (int, error) {
	// darwin lacks /proc; shell to getpriority semantics via syscall is not
	// exposed portably, so this reads back the value set by setPriority
	// through the same syscall the mutate step uses (best-effort: macOS
	// offers no cheap read-only priority inspection without cgo).
	return syscall.Getpriority(syscall.PRIO_PROCESS, pid)
}

func setPriority(pid, nice int) error {
	return syscall.Setpriority(syscall.PRIO_PROCESS, pid, nice)
}

func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func killWithGrace(ctx context.Context, target Target, grace time.Duration) error {
	proc, err := os.FindProcess(target.PID)
	if err != nil {
		return pterrors.Action(47, "failed to locate process for kill").WithCause(err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if !processExists(target.PID) {
			return nil
		}
		return pterrors.PermissionDenied("failed to send SIGTERM").WithCause(err)
	}

	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return pterrors.ActionTimeout("kill cancelled before grace window elapsed", grace.Seconds())
		case <-ticker.C:
			if !processExists(target.PID) {
				return nil
			}
		}
	}

	if err := identity.Verify(target.PID, target.StartId); err != nil {
		return err
	}

	if err := proc.Signal(syscall.SIGKILL); err != nil && processExists(target.PID) {
		return pterrors.PermissionDenied("failed to send SIGKILL").WithCause(err)
	}
	return nil
}
