package policyconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/processtriage/pt/internal/decision"
)

func writePolicy(t *testing.T, cfg Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDefaultsValidates(t *testing.T) {
	assert.NoError(t, Validate(Defaults()))
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.DenyActions = []string{"kill"}
	path := writePolicy(t, cfg)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"kill"}, loaded.DenyActions)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestValidateAccumulatesMultipleViolations(t *testing.T) {
	cfg := Defaults()
	cfg.SchemaVersion = "0.0.1"
	cfg.AllowActions = []string{"nuke"}
	cfg.FDRThreshold = 1.5
	cfg.BlastRadius.MaxMemoryMB = -1

	err := Validate(cfg)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "schema_version")
	assert.Contains(t, msg, "unknown action")
	assert.Contains(t, msg, "fdr_threshold")
	assert.Contains(t, msg, "blast_radius.max_memory_mb")
}

func TestAllowDenyBlocksDeniedAction(t *testing.T) {
	cfg := Defaults()
	cfg.DenyActions = []string{"kill"}
	gate := cfg.AllowDeny()

	assert.False(t, gate(decision.Kill))
	assert.True(t, gate(decision.Keep))
}

func TestAllowDenyRestrictsToAllowListWhenNonEmpty(t *testing.T) {
	cfg := Defaults()
	cfg.AllowActions = []string{"keep", "renice"}
	gate := cfg.AllowDeny()

	assert.True(t, gate(decision.Keep))
	assert.True(t, gate(decision.Renice))
	assert.False(t, gate(decision.Kill))
}

func TestRobotModeGateAllowsEverythingWhenDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.RobotMode.Enabled = false
	gate := cfg.RobotModeGate()

	assert.True(t, gate(decision.Kill))
}

func TestRobotModeGateBlocksDisallowedActionsWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.RobotMode.Enabled = true
	cfg.RobotMode.DisallowedActions = []string{"kill", "restart"}
	gate := cfg.RobotModeGate()

	assert.False(t, gate(decision.Kill))
	assert.False(t, gate(decision.Restart))
	assert.True(t, gate(decision.Renice))
}
