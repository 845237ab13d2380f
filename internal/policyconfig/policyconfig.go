// Package policyconfig loads and validates policy.json: the operator-facing
// knobs for the myopic policy's constraint stack (spec §4.6) — allow/deny
// lists, robot-mode bounds, the FDR gate threshold, blast-radius caps, and
// the rate limiter's window limits.
//
// Load/Validate follow the teacher's config package's accumulate-all-
// violations style, adapted from YAML to JSON per spec.md's filesystem
// layout, the same way internal/priorsconfig does for priors.json.
package policyconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/pterrors"
)

// SchemaVersion is the policy.json schema version this build understands.
const SchemaVersion = "1.0.0"

// RobotMode bounds autonomous (unattended) runs more conservatively than
// interactive ones.
type RobotMode struct {
	Enabled              bool    `json:"enabled"`
	MaxActionsPerRun     int     `json:"max_actions_per_run"`
	MinConfidence        float64 `json:"min_confidence"`
	DisallowedActions    []string `json:"disallowed_actions"`
}

// BlastRadius caps the per-process resource impact an autonomous action may
// have before it is blocked outright.
type BlastRadius struct {
	MaxMemoryMB float64 `json:"max_memory_mb"`
	MaxCPUPct   float64 `json:"max_cpu_pct"`
}

// RateLimits mirrors the four sliding windows internal/ratelimit enforces;
// a zero value for any window means "no limit" for that window.
type RateLimits struct {
	MaxPerRun    int `json:"max_per_run"`
	MaxPerMinute int `json:"max_per_minute"`
	MaxPerHour   int `json:"max_per_hour"`
	MaxPerDay    int `json:"max_per_day"`
}

// Config is the parsed policy.json document.
type Config struct {
	SchemaVersion  string      `json:"schema_version"`
	AllowActions   []string    `json:"allow_actions"`
	DenyActions    []string    `json:"deny_actions"`
	AllowProcesses []string    `json:"allow_processes"`
	DenyProcesses  []string    `json:"deny_processes"`
	RobotMode      RobotMode   `json:"robot_mode"`
	FDRThreshold   float64     `json:"fdr_threshold"`
	BlastRadius    BlastRadius `json:"blast_radius"`
	RateLimits     RateLimits  `json:"rate_limits"`
}

// Defaults returns a policy.json-shaped config with permissive allow lists,
// robot mode disabled, and conservative blast-radius/rate-limit ceilings.
func Defaults() Config {
	return Config{
		SchemaVersion: SchemaVersion,
		AllowActions:  []string{"keep", "renice", "pause", "throttle", "restart", "freeze", "quarantine", "kill"},
		RobotMode: RobotMode{
			Enabled:           false,
			MaxActionsPerRun:  5,
			MinConfidence:     0.90,
			DisallowedActions: []string{"kill"},
		},
		FDRThreshold: 0.05,
		BlastRadius: BlastRadius{
			MaxMemoryMB: 4096,
			MaxCPUPct:   50,
		},
		RateLimits: RateLimits{
			MaxPerRun:  10,
			MaxPerHour: 50,
			MaxPerDay:  200,
		},
	}
}

// Load reads, parses, and validates policy.json at path.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, pterrors.Config(90, "failed to read policy config").WithCause(err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, pterrors.Config(91, "failed to parse policy config").WithCause(err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var actionNames = map[string]bool{
	"keep": true, "renice": true, "pause": true, "throttle": true,
	"restart": true, "freeze": true, "quarantine": true, "kill": true,
}

// Validate accumulates every violation instead of failing on the first,
// matching the teacher's config validation style and internal/priorsconfig.
func Validate(cfg Config) error {
	var errs []string

	if cfg.SchemaVersion != SchemaVersion {
		errs = append(errs, fmt.Sprintf("schema_version must be %q, got %q", SchemaVersion, cfg.SchemaVersion))
	}

	for _, name := range cfg.AllowActions {
		if !actionNames[name] {
			errs = append(errs, fmt.Sprintf("allow_actions: unknown action %q", name))
		}
	}
	for _, name := range cfg.DenyActions {
		if !actionNames[name] {
			errs = append(errs, fmt.Sprintf("deny_actions: unknown action %q", name))
		}
	}
	for _, name := range cfg.RobotMode.DisallowedActions {
		if !actionNames[name] {
			errs = append(errs, fmt.Sprintf("robot_mode.disallowed_actions: unknown action %q", name))
		}
	}

	if cfg.RobotMode.MaxActionsPerRun < 0 {
		errs = append(errs, fmt.Sprintf("robot_mode.max_actions_per_run must be >= 0, got %d", cfg.RobotMode.MaxActionsPerRun))
	}
	if cfg.RobotMode.MinConfidence < 0 || cfg.RobotMode.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("robot_mode.min_confidence must be in [0,1], got %g", cfg.RobotMode.MinConfidence))
	}

	if cfg.FDRThreshold <= 0 || cfg.FDRThreshold >= 1 {
		errs = append(errs, fmt.Sprintf("fdr_threshold must be in (0,1), got %g", cfg.FDRThreshold))
	}

	if cfg.BlastRadius.MaxMemoryMB <= 0 {
		errs = append(errs, fmt.Sprintf("blast_radius.max_memory_mb must be > 0, got %g", cfg.BlastRadius.MaxMemoryMB))
	}
	if cfg.BlastRadius.MaxCPUPct <= 0 || cfg.BlastRadius.MaxCPUPct > 100 {
		errs = append(errs, fmt.Sprintf("blast_radius.max_cpu_pct must be in (0,100], got %g", cfg.BlastRadius.MaxCPUPct))
	}

	for _, n := range []int{cfg.RateLimits.MaxPerRun, cfg.RateLimits.MaxPerMinute, cfg.RateLimits.MaxPerHour, cfg.RateLimits.MaxPerDay} {
		if n < 0 {
			errs = append(errs, "rate_limits: window limits must be >= 0 (0 means unlimited)")
			break
		}
	}

	if len(errs) > 0 {
		return pterrors.Config(92, "policy config validation failed").WithContext("violations", strings.Join(errs, "; "))
	}
	return nil
}

func actionSet(names []string) map[decision.Action]bool {
	set := make(map[decision.Action]bool, len(names))
	for _, name := range names {
		if a, ok := decision.ParseAction(name); ok {
			set[a] = true
		}
	}
	return set
}

// AllowDeny returns a predicate implementing decision.GatePolicy: an action
// is allowed if it is not in the deny list, and either the allow list is
// empty or the action is in it.
func (c Config) AllowDeny() func(decision.Action) bool {
	allow := actionSet(c.AllowActions)
	deny := actionSet(c.DenyActions)
	return func(a decision.Action) bool {
		if deny[a] {
			return false
		}
		if len(allow) == 0 {
			return true
		}
		return allow[a]
	}
}

// RobotModeGate returns a predicate implementing decision.GateRobotMode. It
// is the identity (always-allow) gate when robot mode is disabled.
func (c Config) RobotModeGate() func(decision.Action) bool {
	if !c.RobotMode.Enabled {
		return func(decision.Action) bool { return true }
	}
	disallowed := actionSet(c.RobotMode.DisallowedActions)
	return func(a decision.Action) bool { return !disallowed[a] }
}
