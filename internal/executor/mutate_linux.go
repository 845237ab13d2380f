//go:build linux

package executor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/processtriage/pt/internal/cgroupio"
	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/identity"
	"github.com/processtriage/pt/internal/pterrors"
)

// cgroupWriterFactory is overridable in tests.
var cgroupWriterFactory = cgroupio.NewWriter

func (e *Executor) capture(action decision.Action, target Target, cgroupPath string) (*ReversalMetadata, error) {
	switch action {
	case decision.Throttle:
		w, err := cgroupWriterFactory()
		if err != nil {
			return nil, err
		}
		quota, period, err := w.ReadCPUMax(cgroupPath)
		if err != nil {
			return nil, pterrors.Action(45, "failed to read prior cpu.max").WithCause(err)
		}
		return &ReversalMetadata{Throttle: &ThrottleReversal{PriorQuota: quota, PriorPeriod: period}}, nil

	case decision.Quarantine:
		w, err := cgroupWriterFactory()
		if err != nil {
			return nil, err
		}
		count, err := w.ReadCPUSetCount(cgroupPath)
		if err != nil {
			return nil, pterrors.Action(45, "failed to read prior cpuset").WithCause(err)
		}
		return &ReversalMetadata{Quarantine: &QuarantineReversal{
			PriorCount: count,
			WasV2:      w.Version() == cgroupio.V2 || w.Version() == cgroupio.Hybrid,
		}}, nil

	case decision.Freeze, decision.Pause:
		w, err := cgroupWriterFactory()
		if err != nil {
			return nil, err
		}
		frozen, err := w.ReadFreeze(cgroupPath)
		if err != nil {
			return nil, pterrors.Action(45, "failed to read prior freeze state").WithCause(err)
		}
		return &ReversalMetadata{Freeze: &FreezeReversal{WasFrozen: frozen}}, nil

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

	case decision.Throttle:
		w, err := cgroupWriterFactory()
		if err != nil {
			return err
		}
		return w.WriteCPUMax(cgroupPath, defaultThrottleQuota, defaultThrottlePeriod)

	case decision.Quarantine:
		w, err := cgroupWriterFactory()
		if err != nil {
			return err
		}
		cpus, err := quarantineCPUSet(w)
		if err != nil {
			return err
		}
		return w.WriteCPUSet(cgroupPath, cpus)

	case decision.Freeze, decision.Pause:
		w, err := cgroupWriterFactory()
		if err != nil {
			return err
		}
		return w.WriteFreeze(cgroupPath, true)

	case decision.Renice:
		return setPriority(target.PID, defaultReniceValue)

	case decision.Kill:
		return killWithGrace(ctx, target, e.KillGrace)

	case decision.Restart:
		return pterrors.NotSupported("restart is not a directly executable mechanic; handled by the operator's supervisor")

	default:
		return pterrors.NotSupported(fmt.Sprintf("unsupported action %s", action))
	}
}

func (e *Executor) verify(action decision.Action, target Target, cgroupPath string) error {
	switch action {
	case decision.Throttle:
		w, err := cgroupWriterFactory()
		if err != nil {
			return err
		}
		quota, _, err := w.ReadCPUMax(cgroupPath)
		if err != nil {
			return pterrors.Action(46, "failed to verify cpu.max").WithCause(err)
		}
		if quota != defaultThrottleQuota {
			return pterrors.Action(46, "cpu.max verification mismatch after throttle").
				WithContext("expected_quota", defaultThrottleQuota).WithContext("actual_quota", quota)
		}
		return nil

	case decision.Quarantine:
		w, err := cgroupWriterFactory()
		if err != nil {
			return err
		}
		count, err := w.ReadCPUSetCount(cgroupPath)
		if err != nil {
			return pterrors.Action(46, "failed to verify cpuset").WithCause(err)
		}
		if count < MinCPUFloor {
			return pterrors.Action(46, "cpuset verification below minimum CPU floor").WithContext("count", count)
		}
		return nil

	case decision.Freeze, decision.Pause:
		w, err := cgroupWriterFactory()
		if err != nil {
			return err
		}
		frozen, err := w.ReadFreeze(cgroupPath)
		if err != nil {
			return pterrors.Action(46, "failed to verify freeze state").WithCause(err)
		}
		if !frozen {
			return pterrors.Action(46, "process did not enter frozen state")
		}
		return nil

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

const (
	defaultThrottleQuota  int64 = 20000
	defaultThrottlePeriod int64 = 100000
	defaultReniceValue    int   = 10
)

// quarantineCPUSet picks a single-CPU subset, respecting MinCPUFloor. CPU 0
// is always online, so it is the fixed quarantine target regardless of the
// cgroup's current cpuset.
func quarantineCPUSet(_ cgroupio.Writer) (string, error) {
	return "0", nil
}

func readNice(pid int) (int, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	return parseNiceFromStat(string(data))
}

// parseNiceFromStat extracts field 19 (nice) from a /proc/<pid>/stat line,
// skipping the parenthesized comm field the same way the identity package
// does.
func parseNiceFromStat(line string) (int, error) {
	line = strings.TrimSpace(line)
	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return 0, fmt.Errorf("executor: malformed /proc/<pid>/stat")
	}
	fields := strings.Fields(line[i+2:])
	const niceIdx = 16 // field19 - 3
	if niceIdx >= len(fields) {
		return 0, fmt.Errorf("executor: truncated /proc/<pid>/stat")
	}
	return strconv.Atoi(fields[niceIdx])
}

func setPriority(pid, nice int) error {
	return syscall.Setpriority(syscall.PRIO_PROCESS, pid, nice)
}

func processExists(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

// killWithGrace sends SIGTERM, waits up to grace for the process to exit,
// re-verifies identity, then sends SIGKILL if it is still present.
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
		// The PID was recycled during the grace window; do not SIGKILL a
		// different process.
		return err
	}

	if err := proc.Signal(syscall.SIGKILL); err != nil && processExists(target.PID) {
		return pterrors.PermissionDenied("failed to send SIGKILL").WithCause(err)
	}
	return nil
}
