package identity

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/processtriage/pt/internal/pterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndPIDRoundTrip(t *testing.T) {
	id := New("boot-abc", 12345, 999)
	assert.Equal(t, StartId("boot-abc:12345:999"), id)
	pid, ok := id.PID()
	require.True(t, ok)
	assert.Equal(t, 999, pid)
}

func TestPIDMalformedStartId(t *testing.T) {
	_, ok := StartId("not-a-valid-id").PID()
	assert.False(t, ok)
}

// writeFakeStat writes a synthetic /proc/<pid>/stat line. The comm field
// intentionally contains a space and parens to exercise the ") "-boundary
// scan, same as the teacher's stat parser. Fields after comm start at
// "state" (3rd overall); starttime is the 22nd overall field.
func writeFakeStat(t *testing.T, dir string, starttime uint64) {
	t.Helper()
	fields := make([]string, 0, 20)
	fields = append(fields, "S") // state, fields[0]
	for i := 0; i < 18; i++ {    // pad fields[1..18] up to starttime's index
		fields = append(fields, "0")
	}
	fields = append(fields, strconv.FormatUint(starttime, 10)) // fields[19] = starttime
	fields = append(fields, "0", "0", "0")                      // trailing fields, unused
	full := "1 (my proc) " + strings.Join(fields, " ")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(full), 0o600))
}

func TestComputeAndVerify(t *testing.T) {
	dir := t.TempDir()
	bootFile := filepath.Join(dir, "boot_id")
	require.NoError(t, os.WriteFile(bootFile, []byte("boot-xyz\n"), 0o600))

	oldBoot := bootIDPath
	bootIDPath = bootFile
	defer func() { bootIDPath = oldBoot }()

	statDir := t.TempDir()
	writeFakeStat(t, statDir, 7)

	oldStat := statPath
	statPath = func(pid int) string { return filepath.Join(statDir, "stat") }
	defer func() { statPath = oldStat }()

	id, err := Compute(42)
	require.NoError(t, err)
	assert.Equal(t, StartId("boot-xyz:7:42"), id)

	assert.NoError(t, Verify(42, id))

	err = Verify(42, StartId("boot-xyz:999:42"))
	require.Error(t, err)
	var ptErr *pterrors.Error
	require.ErrorAs(t, err, &ptErr)
	assert.Equal(t, pterrors.ActionRescan, ptErr.SuggestedAction)
}
