//go:build linux

package pipeline

import (
	"bufio"
	"os"
	"strconv"
	"strings"
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

// statFields holds the /proc/<pid>/stat fields this scanner reads, indexed
// from the state field (3rd overall) the same way identity's stat reader
// is indexed, since comm may itself contain spaces/parens.
type statFields struct {
	comm      string
	state     string
	ppid      int
	ttyNr     int64
	starttime uint64
	utime     uint64
	stime     uint64
	rssPages  uint64
}

func readStat(pid int) (statFields, error) {
	data, err := os.ReadFile(statPath(pid))
	if err != nil {
		return statFields{}, err
	}
	line := string(data)
	open := strings.IndexByte(line, '(')
	close := strings.LastIndexByte(line, ')')
	if open < 0 || close < 0 || close < open {
		return statFields{}, pterrors.Collection(22, "malformed /proc/pid/stat").WithContext("pid", pid)
	}
	comm := line[open+1 : close]
	fields := strings.Fields(line[close+2:])
	// fields are indexed from state (3rd overall field). utime/stime are
	// the 14th/15th overall fields (fields[11]/fields[12]), starttime is
	// the 22nd (fields[19]), rss is the 24th (fields[21]).
	const (
		ttyIdx       = 4
		utimeIdx     = 11
		stimeIdx     = 12
		starttimeIdx = 19
		rssIdx       = 21
	)
	if len(fields) <= rssIdx {
		return statFields{}, pterrors.Collection(22, "truncated /proc/pid/stat").WithContext("pid", pid)
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return statFields{}, err
	}
	starttime, err := strconv.ParseUint(fields[starttimeIdx], 10, 64)
	if err != nil {
		return statFields{}, err
	}
	ttyNr, _ := strconv.ParseInt(fields[ttyIdx], 10, 64)
	utime, _ := strconv.ParseUint(fields[utimeIdx], 10, 64)
	stime, _ := strconv.ParseUint(fields[stimeIdx], 10, 64)
	rss, _ := strconv.ParseUint(fields[rssIdx], 10, 64)
	return statFields{
		comm: comm, state: fields[0], ppid: ppid, ttyNr: ttyNr,
		starttime: starttime, utime: utime, stime: stime, rssPages: rss,
	}, nil
}

var statPath = func(pid int) string { return "/proc/" + strconv.Itoa(pid) + "/stat" }

// clockTicks returns jiffies-per-second. CLK_TCK overrides for tests; a
// pure-Go build cannot call sysconf(_SC_CLK_TCK) without cgo, so 100 (the
// near-universal Linux default) is the fallback.
func clockTicks() int {
	if v, err := strconv.Atoi(os.Getenv("CLK_TCK")); err == nil && v > 0 {
		return v
	}
	return 100
}

// uptimeSeconds reads /proc/uptime's first field: seconds since boot.
func uptimeSeconds() (float64, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, pterrors.Collection(24, "malformed /proc/uptime")
	}
	return strconv.ParseFloat(fields[0], 64)
}

func readCmdline(pid int) string {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	return strings.Join(parts, " ")
}

func readUID(pid int) string {
	f, err := os.Open("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "Uid:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				return fields[1]
			}
		}
	}
	return ""
}

// readIOActive reports whether a process has any recorded read/write bytes
// in /proc/<pid>/io. Unreadable (permission-denied, kernel without
// CONFIG_TASK_IO_ACCOUNTING) is treated as inactive rather than an error,
// since this is a soft evidence signal, not a required field.
func readIOActive(pid int) bool {
	f, err := os.Open("/proc/" + strconv.Itoa(pid) + "/io")
	if err != nil {
		return false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "read_bytes:") && !strings.HasPrefix(line, "write_bytes:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if n, err := strconv.ParseUint(fields[1], 10, 64); err == nil && n > 0 {
			return true
		}
	}
	return false
}

// readNetActive reports whether any of a process's open file descriptors
// point at a socket.
func readNetActive(pid int) bool {
	dir := "/proc/" + strconv.Itoa(pid) + "/fd"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		target, err := os.Readlink(dir + "/" + e.Name())
		if err != nil {
			continue
		}
		if strings.HasPrefix(target, "socket:") {
			return true
		}
	}
	return false
}

func listPIDs() ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, pterrors.Collection(23, "failed to list /proc").WithCause(err)
	}
	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || !e.IsDir() {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Scan enumerates every process currently visible under /proc, building a
// Record per process. Processes that exit mid-scan (a race inherent to
// reading /proc) are skipped rather than failing the whole scan.
func Scan(now time.Time) ([]Record, error) {
	pids, err := listPIDs()
	if err != nil {
		return nil, err
	}

	bootID, err := identity.BootID()
	if err != nil {
		return nil, err
	}

	uptime, err := uptimeSeconds()
	if err != nil {
		return nil, err
	}
	ticks := float64(clockTicks())

	records := make([]Record, 0, len(pids))
	for _, pid := range pids {
		stat, err := readStat(pid)
		if err != nil {
			continue
		}
		startID, err := identity.Compute(pid)
		if err != nil {
			continue
		}
		_ = bootID // BootID already folded into startID by identity.Compute

		// starttime is in clock ticks since boot; elapsed is how long ago
		// that was relative to the current uptime sample.
		elapsed := uptime - float64(stat.starttime)/ticks
		if elapsed < 0 {
			elapsed = 0
		}
		startUnix := now.Unix() - int64(elapsed)

		// Coarse lifetime-average CPU usage: total scheduled ticks over
		// wall-clock lifetime. A true instantaneous rate needs two samples;
		// this single-sample approximation is good enough for the
		// blast-radius gate's order-of-magnitude check.
		cpuPercent := 0.0
		if elapsed > 0 {
			cpuPercent = (float64(stat.utime+stat.stime) / ticks) / elapsed * 100
		}
		memoryMB := float64(stat.rssPages*uint64(os.Getpagesize())) / (1024 * 1024)

		rec := Record{
			Candidate: protectedfilter.Candidate{
				PID:  pid,
				PPID: stat.ppid,
				User: readUID(pid),
				Comm: stat.comm,
				Cmd:  readCmdline(pid),
			},
			StartID:        startID,
			StartTimeUnix:  startUnix,
			ElapsedSeconds: elapsed,
			State:          stat.state,
			MemoryMB:       memoryMB,
			CPUPercent:     cpuPercent,
			TTYAttached:    stat.ttyNr != 0,
			IOActive:       readIOActive(pid),
			NetActive:      readNetActive(pid),
		}
		records = append(records, rec)
	}
	return records, nil
}
