// Package priorsconfig loads and validates priors.json: the class-specific
// Beta priors for binary evidence features and the per-regime Gamma
// hazard priors, both consumed read-only by the inference packages.
//
// Load/Validate follow the teacher's config package's shape — defaults
// merged with file contents, then a single Validate pass that accumulates
// every violation instead of failing on the first — adapted from YAML to
// JSON per spec.md's filesystem layout.
package priorsconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/processtriage/pt/internal/belief"
	"github.com/processtriage/pt/internal/bernoulli"
	"github.com/processtriage/pt/internal/hazard"
	"github.com/processtriage/pt/internal/pterrors"
)

// SchemaVersion is the priors.json schema version this build understands.
const SchemaVersion = "1.0.0"

// BetaPrior is the JSON form of a bernoulli.Params entry.
type BetaPrior struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

func (p BetaPrior) toParams() bernoulli.Params {
	return bernoulli.Params{Alpha: p.Alpha, Beta: p.Beta}
}

// GammaPrior is the JSON form of a hazard.GammaParams entry.
type GammaPrior struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

func (p GammaPrior) toParams() hazard.GammaParams {
	return hazard.GammaParams{Alpha: p.Alpha, Beta: p.Beta}
}

// BernoulliFeatures names the binary evidence features priors.json must
// supply a per-class prior for.
var BernoulliFeatures = []string{"orphan", "tty_lost", "io_active", "net_active"}

// HazardRegimes names the hazard regimes priors.json must supply a prior
// for.
var HazardRegimes = []string{
	"normal", "tty_lost", "orphaned", "io_flatline",
	"cpu_runaway", "memory_pressure", "backgrounded",
}

// classNames are the priors.json keys for each belief.Class, in class order.
var classNames = [4]string{"useful", "useful_bad", "abandoned", "zombie"}

// Config is the parsed priors.json document.
type Config struct {
	SchemaVersion string                            `json:"schema_version"`
	Bernoulli     map[string]map[string]BetaPrior   `json:"bernoulli"`
	Hazard        map[string]GammaPrior              `json:"hazard"`
}

// Defaults returns a priors.json-shaped config seeded with flat priors for
// every feature and regime: Beta(1,1) for each Bernoulli feature and class,
// Gamma(1,1) for each hazard regime.
func Defaults() Config {
	bernoulliDefaults := make(map[string]map[string]BetaPrior, len(BernoulliFeatures))
	for _, name := range BernoulliFeatures {
		perClass := make(map[string]BetaPrior, len(classNames))
		for _, cn := range classNames {
			perClass[cn] = BetaPrior{Alpha: 1, Beta: 1}
		}
		bernoulliDefaults[name] = perClass
	}
	hazardDefaults := make(map[string]GammaPrior, len(HazardRegimes))
	for _, name := range HazardRegimes {
		hazardDefaults[name] = GammaPrior{Alpha: 1, Beta: 1}
	}
	return Config{SchemaVersion: SchemaVersion, Bernoulli: bernoulliDefaults, Hazard: hazardDefaults}
}

// Load reads, parses, and validates priors.json at path. Missing fields
// fall back to Defaults().
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, pterrors.Config(17, "failed to read priors config").WithCause(err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, pterrors.Config(18, "failed to parse priors config").WithCause(err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate accumulates every violation instead of failing on the first,
// matching the teacher's config validation style.
func Validate(cfg Config) error {
	var errs []string

	if cfg.SchemaVersion != SchemaVersion {
		errs = append(errs, fmt.Sprintf("schema_version must be %q, got %q", SchemaVersion, cfg.SchemaVersion))
	}

	for _, name := range BernoulliFeatures {
		classes, ok := cfg.Bernoulli[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("bernoulli.%s is required", name))
			continue
		}
		for _, cn := range classNames {
			p, ok := classes[cn]
			if !ok {
				errs = append(errs, fmt.Sprintf("bernoulli.%s.%s is required", name, cn))
				continue
			}
			if p.Alpha <= 0 || p.Beta <= 0 {
				errs = append(errs, fmt.Sprintf("bernoulli.%s.%s alpha/beta must be > 0, got (%g, %g)", name, cn, p.Alpha, p.Beta))
			}
		}
	}

	for _, name := range HazardRegimes {
		p, ok := cfg.Hazard[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("hazard.%s is required", name))
			continue
		}
		if p.Alpha <= 0 || p.Beta <= 0 {
			errs = append(errs, fmt.Sprintf("hazard.%s alpha/beta must be > 0, got (%g, %g)", name, p.Alpha, p.Beta))
		}
	}

	if len(errs) > 0 {
		return pterrors.Config(19, "priors config validation failed").WithContext("violations", strings.Join(errs, "; "))
	}
	return nil
}

// BernoulliPrior returns the configured Beta prior for a feature/class
// pair. Callers must only request names in BernoulliFeatures after a
// successful Validate.
func (c Config) BernoulliPrior(feature string, class belief.Class) bernoulli.Params {
	if int(class) < 0 || int(class) >= len(classNames) {
		return bernoulli.Params{}
	}
	return c.Bernoulli[feature][classNames[class]].toParams()
}

// HazardPrior returns the configured Gamma prior for a regime name.
func (c Config) HazardPrior(regime string) hazard.GammaParams {
	return c.Hazard[regime].toParams()
}
