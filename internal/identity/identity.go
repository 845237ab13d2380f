// Package identity computes and verifies the composite StartId that lets
// the rest of pt address a process without being fooled by PID reuse:
// (boot_id, start_time, pid) on Linux.
//
// The /proc/<pid>/stat field parsing follows the teacher's proc-reading
// package, generalized from jiffy-counter extraction to start-time
// extraction for identity composition.
package identity

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/processtriage/pt/internal/pterrors"
)

var (
	// ErrNoStat is returned when /proc/<pid>/stat cannot be parsed.
	ErrNoStat = errors.New("identity: malformed /proc/<pid>/stat")
	// ErrShortStat is returned when /proc/<pid>/stat has fewer fields than
	// expected.
	ErrShortStat = errors.New("identity: truncated /proc/<pid>/stat")
)

// StartId is the opaque, PID-reuse-proof identity string:
// "<boot_id>:<start_time_jiffies>:<pid>".
type StartId string

// bootIDPath is overridable in tests.
var bootIDPath = "/proc/sys/kernel/random/boot_id"

// BootID reads the kernel boot ID, which changes on every reboot and is
// therefore safe to use as the outermost identity component.
func BootID() (string, error) {
	data, err := os.ReadFile(bootIDPath)
	if err != nil {
		return "", pterrors.Collection(20, "failed to read boot id").WithContext("path", bootIDPath).WithCause(err)
	}
	return strings.TrimSpace(string(data)), nil
}

// statStartTime parses field 22 (starttime, in clock ticks since boot) from
// /proc/<pid>/stat. The comm field (2nd, parenthesized) may itself contain
// spaces and parentheses, so everything up to the last ") " is skipped
// before splitting on whitespace, same as the teacher's stat reader.
// statPath is overridable in tests.
var statPath = func(pid int) string { return fmt.Sprintf("/proc/%d/stat", pid) }

func statStartTime(pid int) (uint64, error) {
	f, err := os.Open(statPath(pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, ErrNoStat
	}
	line := sc.Text()

	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return 0, ErrNoStat
	}
	fields := strings.Fields(line[i+2:])

	// Fields here are indexed from state (3rd overall field); starttime is
	// the 22nd overall field, i.e. fields[19] (22 - 3 = 19).
	const starttimeIdx = 19
	if starttimeIdx >= len(fields) {
		return 0, ErrShortStat
	}
	return strconv.ParseUint(fields[starttimeIdx], 10, 64)
}

// Compute builds the StartId for a live PID by combining the current boot
// ID with /proc/<pid>/stat's starttime field.
func Compute(pid int) (StartId, error) {
	bootID, err := BootID()
	if err != nil {
		return "", err
	}
	startTime, err := statStartTime(pid)
	if err != nil {
		return "", pterrors.Collection(21, "failed to read process start time").WithContext("pid", pid).WithCause(err)
	}
	return New(bootID, startTime, pid), nil
}

// New composes a StartId from its parts directly, for callers (the scanner,
// tests) that already have boot_id/start_time available.
func New(bootID string, startTime uint64, pid int) StartId {
	return StartId(fmt.Sprintf("%s:%d:%d", bootID, startTime, pid))
}

// PID extracts the numeric PID embedded in a StartId. Returns false if the
// StartId is malformed.
func (s StartId) PID() (int, bool) {
	parts := strings.Split(string(s), ":")
	if len(parts) != 3 {
		return 0, false
	}
	pid, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, false
	}
	return pid, true
}

// Verify re-derives the live StartId for pid and compares it against
// expected. On mismatch it returns a pterrors.IdentityMismatch error per
// spec §4.9 step 1, which the executor treats as a hard stop for that
// action.
func Verify(pid int, expected StartId) error {
	actual, err := Compute(pid)
	if err != nil {
		return err
	}
	if actual != expected {
		return pterrors.IdentityMismatch(int32(pid), string(expected), string(actual))
	}
	return nil
}
