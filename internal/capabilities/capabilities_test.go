package capabilities

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, m Manifest) string {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "capabilities.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadParsesManifest(t *testing.T) {
	now := time.Now().UTC()
	path := writeManifest(t, Manifest{
		SchemaVersion: SchemaVersion,
		OS:            OS{Family: "linux", Arch: "amd64", Kernel: "6.1.0"},
		Tools: map[string]Tool{
			"lsof": {Available: true, Path: "/usr/bin/lsof", Functional: true},
		},
		Cgroups:      Cgroups{Version: "v2", Controllers: []string{"cpu", "cpuset", "freezer"}},
		DiscoveredAt: now,
	})

	m, err := Load(path)
	require.NoError(t, err)
	assert.True(t, m.IsCompatible())
	assert.Equal(t, "linux", m.OS.Family)
	assert.True(t, m.ToolAvailable("lsof"))
	assert.False(t, m.ToolAvailable("nonexistent"))
}

func TestIsStaleUsesDefaultTTL(t *testing.T) {
	discovered := time.Now().Add(-2 * time.Hour)
	m := Manifest{DiscoveredAt: discovered}

	assert.True(t, m.IsStale(time.Now(), 0))
	assert.False(t, m.IsStale(discovered.Add(time.Minute), 0))
}

func TestIsStaleRespectsCustomTTL(t *testing.T) {
	discovered := time.Now().Add(-10 * time.Minute)
	m := Manifest{DiscoveredAt: discovered}

	assert.False(t, m.IsStale(time.Now(), time.Hour))
	assert.True(t, m.IsStale(time.Now(), 5*time.Minute))
}

func TestIsCompatibleRejectsMismatch(t *testing.T) {
	m := Manifest{SchemaVersion: "0.9.0"}
	assert.False(t, m.IsCompatible())
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
