//go:build linux

// Package cgroupio implements the CgroupWriter capability that the action
// executor uses to freeze, throttle, and quarantine a process's cgroup,
// with separate v1 and v2 backends behind one interface.
//
// Version detection via /proc/self/mountinfo is grounded directly on the
// teacher's cgroup-detection package; this package adds the per-controller
// read/write paths the detector itself does not need.
package cgroupio

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/processtriage/pt/internal/pterrors"
)

// Version identifies which cgroup hierarchy is in effect for a process.
type Version int

const (
	Unsupported Version = iota
	V1
	V2
	Hybrid
)

func (v Version) String() string {
	switch v {
	case V1:
		return "cgroup v1"
	case V2:
		return "cgroup v2"
	case Hybrid:
		return "cgroup hybrid"
	default:
		return "unsupported"
	}
}

// mountinfoPath is overridable in tests.
var mountinfoPath = "/proc/self/mountinfo"

// DetectVersion parses /proc/self/mountinfo looking for cgroup
// filesystems, exactly as the teacher's Detect does, and returns the
// combined version plus the v2 unified mount point (needed to build
// per-process cgroup paths) when present.
func DetectVersion() (Version, string, error) {
	f, err := os.Open(mountinfoPath)
	if err != nil {
		return Unsupported, "", pterrors.Collection(22, "open mountinfo").WithCause(err)
	}
	defer f.Close()

	var hasV1, hasV2 bool
	var v2Mount string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		sep := " - "
		i := strings.LastIndex(line, sep)
		if i < 0 {
			continue
		}
		tail := strings.Fields(line[i+len(sep):])
		if len(tail) < 1 {
			continue
		}
		fstype := tail[0]

		pre := strings.Fields(line[:i])
		if len(pre) < 5 {
			continue
		}
		mountPoint := pre[4]

		switch fstype {
		case "cgroup2":
			hasV2 = true
			v2Mount = mountPoint
		case "cgroup":
			hasV1 = true
		}
	}
	if err := sc.Err(); err != nil {
		return Unsupported, "", pterrors.Collection(22, "scan mountinfo").WithCause(err)
	}

	switch {
	case hasV1 && hasV2:
		return Hybrid, v2Mount, nil
	case hasV2:
		return V2, v2Mount, nil
	case hasV1:
		return V1, "", nil
	default:
		return Unsupported, "", nil
	}
}

// Writer is the capability the executor mutates a process's cgroup
// through; v1 and v2 controllers speak different pseudo-file dialects for
// the same three operations (freeze, cpu.max, cpuset).
type Writer interface {
	Version() Version
	ReadFreeze(cgroupPath string) (frozen bool, err error)
	WriteFreeze(cgroupPath string, frozen bool) error
	ReadCPUMax(cgroupPath string) (quota, period int64, err error)
	WriteCPUMax(cgroupPath string, quota, period int64) error
	ReadCPUSetCount(cgroupPath string) (count int, err error)
	WriteCPUSet(cgroupPath string, cpus string) error
}

// NewWriter selects the v1 or v2 implementation based on DetectVersion's
// result, preferring v2 when both are mounted (Hybrid).
func NewWriter() (Writer, error) {
	version, v2Mount, err := DetectVersion()
	if err != nil {
		return nil, err
	}
	switch version {
	case V2, Hybrid:
		return &writerV2{mount: v2Mount}, nil
	case V1:
		return &writerV1{}, nil
	default:
		return nil, pterrors.NotSupported("no cgroup hierarchy detected on this host")
	}
}

func readFileTrim(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func writeFile(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}

// writerV2 implements Writer against the unified cgroup2 hierarchy.
type writerV2 struct {
	mount string
}

func (w *writerV2) Version() Version { return V2 }

func (w *writerV2) ReadFreeze(cgroupPath string) (bool, error) {
	v, err := readFileTrim(filepath.Join(cgroupPath, "cgroup.freeze"))
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func (w *writerV2) WriteFreeze(cgroupPath string, frozen bool) error {
	v := "0"
	if frozen {
		v = "1"
	}
	return writeFile(filepath.Join(cgroupPath, "cgroup.freeze"), v)
}

func (w *writerV2) ReadCPUMax(cgroupPath string) (quota, period int64, err error) {
	v, err := readFileTrim(filepath.Join(cgroupPath, "cpu.max"))
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("cgroupio: malformed cpu.max %q", v)
	}
	if fields[0] == "max" {
		quota = -1
	} else {
		quota, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
	}
	period, err = strconv.ParseInt(fields[1], 10, 64)
	return quota, period, err
}

func (w *writerV2) WriteCPUMax(cgroupPath string, quota, period int64) error {
	quotaStr := "max"
	if quota >= 0 {
		quotaStr = strconv.FormatInt(quota, 10)
	}
	return writeFile(filepath.Join(cgroupPath, "cpu.max"), fmt.Sprintf("%s %d", quotaStr, period))
}

func (w *writerV2) ReadCPUSetCount(cgroupPath string) (int, error) {
	v, err := readFileTrim(filepath.Join(cgroupPath, "cpuset.cpus.effective"))
	if err != nil {
		v, err = readFileTrim(filepath.Join(cgroupPath, "cpuset.cpus"))
		if err != nil {
			return 0, err
		}
	}
	return countCPUSetList(v)
}

func (w *writerV2) WriteCPUSet(cgroupPath string, cpus string) error {
	return writeFile(filepath.Join(cgroupPath, "cpuset.cpus"), cpus)
}

// writerV1 implements Writer against the legacy multi-hierarchy cgroup v1,
// assuming the conventional per-controller mount layout under
// /sys/fs/cgroup/<controller>.
type writerV1 struct{}

func (w *writerV1) Version() Version { return V1 }

// v1 controller roots are vars (not consts) so tests can point them at a
// temporary directory instead of the real /sys/fs/cgroup.
var (
	v1FreezerRoot = "/sys/fs/cgroup/freezer"
	v1CPURoot     = "/sys/fs/cgroup/cpu"
	v1CPUSetRoot  = "/sys/fs/cgroup/cpuset"
)

func (w *writerV1) ReadFreeze(cgroupPath string) (bool, error) {
	v, err := readFileTrim(filepath.Join(v1FreezerRoot, cgroupPath, "freezer.state"))
	if err != nil {
		return false, err
	}
	return v == "FROZEN", nil
}

func (w *writerV1) WriteFreeze(cgroupPath string, frozen bool) error {
	v := "THAWED"
	if frozen {
		v = "FROZEN"
	}
	return writeFile(filepath.Join(v1FreezerRoot, cgroupPath, "freezer.state"), v)
}

func (w *writerV1) ReadCPUMax(cgroupPath string) (quota, period int64, err error) {
	quotaStr, err := readFileTrim(filepath.Join(v1CPURoot, cgroupPath, "cpu.cfs_quota_us"))
	if err != nil {
		return 0, 0, err
	}
	periodStr, err := readFileTrim(filepath.Join(v1CPURoot, cgroupPath, "cpu.cfs_period_us"))
	if err != nil {
		return 0, 0, err
	}
	quota, err = strconv.ParseInt(quotaStr, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(periodStr, 10, 64)
	return quota, period, err
}

func (w *writerV1) WriteCPUMax(cgroupPath string, quota, period int64) error {
	if err := writeFile(filepath.Join(v1CPURoot, cgroupPath, "cpu.cfs_period_us"), strconv.FormatInt(period, 10)); err != nil {
		return err
	}
	return writeFile(filepath.Join(v1CPURoot, cgroupPath, "cpu.cfs_quota_us"), strconv.FormatInt(quota, 10))
}

func (w *writerV1) ReadCPUSetCount(cgroupPath string) (int, error) {
	v, err := readFileTrim(filepath.Join(v1CPUSetRoot, cgroupPath, "cpuset.effective_cpus"))
	if err != nil {
		v, err = readFileTrim(filepath.Join(v1CPUSetRoot, cgroupPath, "cpuset.cpus"))
		if err != nil {
			return 0, err
		}
	}
	return countCPUSetList(v)
}

func (w *writerV1) WriteCPUSet(cgroupPath string, cpus string) error {
	return writeFile(filepath.Join(v1CPUSetRoot, cgroupPath, "cpuset.cpus"), cpus)
}

// countCPUSetList counts the CPUs named by a cpuset list string such as
// "0-2,4,7-8".
func countCPUSetList(list string) (int, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return 0, nil
	}
	count := 0
	for _, part := range strings.Split(list, ",") {
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return 0, err
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return 0, err
			}
			if hi < lo {
				return 0, fmt.Errorf("cgroupio: invalid cpuset range %q", part)
			}
			count += hi - lo + 1
		} else {
			if _, err := strconv.Atoi(part); err != nil {
				return 0, err
			}
			count++
		}
	}
	return count, nil
}
