package priorsconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/processtriage/pt/internal/belief"
)

func writePriors(t *testing.T, cfg Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "priors.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDefaultsValidates(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, Validate(cfg))
	assert.Equal(t, SchemaVersion, cfg.SchemaVersion)

	for _, name := range BernoulliFeatures {
		assert.Contains(t, cfg.Bernoulli, name)
	}
	for _, name := range HazardRegimes {
		assert.Contains(t, cfg.Hazard, name)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := Defaults()
	cfg.Bernoulli["orphan"]["useful_bad"] = BetaPrior{Alpha: 2, Beta: 8}
	cfg.Hazard["io_flatline"] = GammaPrior{Alpha: 3, Beta: 1.5}
	path := writePriors(t, cfg)

	loaded, err := Load(path)
	require.NoError(t, err)

	got := loaded.BernoulliPrior("orphan", belief.UsefulBad)
	assert.Equal(t, 2.0, got.Alpha)
	assert.Equal(t, 8.0, got.Beta)

	hz := loaded.HazardPrior("io_flatline")
	assert.Equal(t, 3.0, hz.Alpha)
	assert.Equal(t, 1.5, hz.Beta)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestValidateAccumulatesMultipleViolations(t *testing.T) {
	cfg := Defaults()
	delete(cfg.Bernoulli, "orphan")
	cfg.Hazard["normal"] = GammaPrior{Alpha: 0, Beta: -1}
	cfg.SchemaVersion = "0.0.1"

	err := Validate(cfg)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "schema_version")
	assert.Contains(t, msg, "bernoulli.orphan")
	assert.Contains(t, msg, "hazard.normal")
}

func TestValidateRejectsNonPositiveBetaParams(t *testing.T) {
	cfg := Defaults()
	cfg.Bernoulli["tty_lost"]["zombie"] = BetaPrior{Alpha: 0, Beta: 1}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bernoulli.tty_lost.zombie")
}

func TestBernoulliPriorOutOfRangeClassReturnsZeroValue(t *testing.T) {
	cfg := Defaults()
	got := cfg.BernoulliPrior("orphan", belief.Class(99))
	assert.Equal(t, 0.0, got.Alpha)
	assert.Equal(t, 0.0, got.Beta)
}
