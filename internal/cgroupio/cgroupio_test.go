//go:build linux

package cgroupio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountCPUSetList(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"0", 1},
		{"0-2", 3},
		{"0-2,4,7-8", 5},
		{"  0,1,2  ", 3},
	}
	for _, c := range cases {
		got, err := countCPUSetList(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestCountCPUSetListInvalidRange(t *testing.T) {
	_, err := countCPUSetList("4-2")
	assert.Error(t, err)
}

func TestWriterV2FreezeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := &writerV2{mount: dir}

	require.NoError(t, w.WriteFreeze(dir, true))
	frozen, err := w.ReadFreeze(dir)
	require.NoError(t, err)
	assert.True(t, frozen)

	require.NoError(t, w.WriteFreeze(dir, false))
	frozen, err = w.ReadFreeze(dir)
	require.NoError(t, err)
	assert.False(t, frozen)
}

func TestWriterV2CPUMaxRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := &writerV2{mount: dir}

	require.NoError(t, w.WriteCPUMax(dir, 50000, 100000))
	quota, period, err := w.ReadCPUMax(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), quota)
	assert.Equal(t, int64(100000), period)

	require.NoError(t, w.WriteCPUMax(dir, -1, 100000))
	quota, _, err = w.ReadCPUMax(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), quota)
}

func TestWriterV2CPUSetCount(t *testing.T) {
	dir := t.TempDir()
	w := &writerV2{mount: dir}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cpuset.cpus.effective"), []byte("0-1"), 0o600))
	count, err := w.ReadCPUSetCount(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestWriterV1FreezeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	oldRoot := v1FreezerRoot
	v1FreezerRoot = dir
	defer func() { v1FreezerRoot = oldRoot }()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "mygroup"), 0o755))
	w := &writerV1{}

	require.NoError(t, w.WriteFreeze("mygroup", true))
	frozen, err := w.ReadFreeze("mygroup")
	require.NoError(t, err)
	assert.True(t, frozen)
}

func TestDetectVersionParsesMountinfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mountinfo")
	content := "25 30 0:22 / /sys/fs/cgroup/unified rw,nosuid shared:4 - cgroup2 cgroup2 rw\n" +
		"26 30 0:23 / /sys/fs/cgroup/cpu rw,nosuid shared:5 - cgroup cgroup rw,cpu\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	oldPath := mountinfoPath
	mountinfoPath = path
	defer func() { mountinfoPath = oldPath }()

	version, v2Mount, err := DetectVersion()
	require.NoError(t, err)
	assert.Equal(t, Hybrid, version)
	assert.Equal(t, "/sys/fs/cgroup/unified", v2Mount)
}
