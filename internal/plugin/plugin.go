// Package plugin discovers and invokes PT evidence/action plugins: each
// invocation is a fresh subprocess with a one-shot JSON stdin/stdout
// contract, a wallclock timeout, an output byte cap, and auto-disable
// after consecutive failures.
//
// Discovery and per-plugin failure-counter bookkeeping are grounded on the
// original implementation's plugin manager (manifest scan, consecutive
// failure threshold, output cap); the subprocess
// transport itself follows the teacher's operator server's discipline of
// bounded, timed-out, single-purpose request/response exchanges, adapted
// from a long-lived Unix socket to a one-shot child process per call.
package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/processtriage/pt/internal/pterrors"
)

// Type distinguishes the two plugin wire contracts.
type Type string

const (
	TypeEvidence Type = "evidence"
	TypeAction   Type = "action"
)

// Manifest is the parsed plugin.toml.
type Manifest struct {
	Plugin struct {
		Name    string   `toml:"name"`
		Version string   `toml:"version"`
		Type    Type     `toml:"type"`
		Command string   `toml:"command"`
		Args    []string `toml:"args"`

		Timeouts struct {
			InvokeMs int64 `toml:"invoke_ms"`
		} `toml:"timeouts"`

		Limits struct {
			MaxFailures    int `toml:"max_failures"`
			MaxOutputBytes int `toml:"max_output_bytes"`
		} `toml:"limits"`
	} `toml:"plugin"`
}

const (
	defaultInvokeTimeout  = 5 * time.Second
	defaultMaxFailures    = 3
	defaultMaxOutputBytes = 1 << 20 // 1 MiB
)

func (m *Manifest) invokeTimeout() time.Duration {
	if m.Plugin.Timeouts.InvokeMs <= 0 {
		return defaultInvokeTimeout
	}
	return time.Duration(m.Plugin.Timeouts.InvokeMs) * time.Millisecond
}

func (m *Manifest) maxFailures() int {
	if m.Plugin.Limits.MaxFailures <= 0 {
		return defaultMaxFailures
	}
	return m.Plugin.Limits.MaxFailures
}

func (m *Manifest) maxOutputBytes() int {
	if m.Plugin.Limits.MaxOutputBytes <= 0 {
		return defaultMaxOutputBytes
	}
	return m.Plugin.Limits.MaxOutputBytes
}

// LoadManifest parses a plugin.toml file.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, pterrors.Config(12, "failed to parse plugin manifest").WithCause(err).
			WithContext("path", path)
	}
	if m.Plugin.Name == "" || m.Plugin.Command == "" {
		return nil, pterrors.Config(12, "plugin manifest missing name or command").WithContext("path", path)
	}
	return &m, nil
}

// resolved is a discovered plugin with its manifest and directory.
type resolved struct {
	manifest    *Manifest
	dir         string
	commandPath string
}

// state is the manager's per-plugin runtime bookkeeping.
type state struct {
	plugin              resolved
	consecutiveFailures int
	disabled            bool
	lastDuration        time.Duration
}

// Manager discovers plugins under a directory and invokes them, tracking
// consecutive-failure auto-disable per plugin.
type Manager struct {
	plugins map[string]*state
}

// Discover scans pluginsDir for subdirectories containing a plugin.toml.
// A missing pluginsDir is not an error; it yields an empty Manager.
func Discover(pluginsDir string) (*Manager, error) {
	m := &Manager{plugins: make(map[string]*state)}

	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, pterrors.Config(13, "failed to scan plugins directory").WithCause(err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(pluginsDir, e.Name())
		manifestPath := filepath.Join(dir, "plugin.toml")
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			continue
		}
		m.plugins[manifest.Plugin.Name] = &state{
			plugin: resolved{
				manifest:    manifest,
				dir:         dir,
				commandPath: filepath.Join(dir, manifest.Plugin.Command),
			},
		}
	}
	return m, nil
}

// Names lists every discovered plugin name.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	return names
}

// Disabled reports whether a plugin has been auto-disabled.
func (m *Manager) Disabled(name string) bool {
	s, ok := m.plugins[name]
	return ok && s.disabled
}

// EvidenceInput is the evidence plugin request payload.
type EvidenceInput struct {
	PIDs  []int32 `json:"pids"`
	ScanID string `json:"scan_id"`
}

// EvidenceFeature is one candidate's evidence plugin output.
type EvidenceFeature struct {
	PID             int32              `json:"pid"`
	Features        map[string]float64 `json:"features"`
	LogLikelihoods  map[string]float64 `json:"log_likelihoods"`
}

// EvidenceOutput is the evidence plugin response payload.
type EvidenceOutput struct {
	Plugin   string            `json:"plugin"`
	Version  string            `json:"version"`
	Evidence []EvidenceFeature `json:"evidence"`
}

// ActionInput is the action plugin request payload.
type ActionInput struct {
	Action         string  `json:"action"`
	PID            int32   `json:"pid"`
	ProcessName    string  `json:"process_name"`
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	SessionID      string  `json:"session_id"`
}

// ActionOutput is the action plugin response payload.
type ActionOutput struct {
	Plugin  string `json:"plugin"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// InvokeEvidence invokes an evidence plugin by name. Returns (nil, nil) if
// the plugin is disabled or unknown, matching the original implementation's
// "disabled plugins are silently skipped" contract.
func (m *Manager) InvokeEvidence(ctx context.Context, name string, input EvidenceInput) (*EvidenceOutput, error) {
	s, ok := m.plugins[name]
	if !ok || s.disabled {
		return nil, nil
	}
	if s.plugin.manifest.Plugin.Type != TypeEvidence {
		return nil, pterrors.Config(14, "plugin is not an evidence plugin").WithContext("plugin", name)
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, pterrors.Config(15, "failed to marshal evidence plugin input").WithCause(err)
	}

	stdout, duration, err := m.invoke(ctx, s, inputJSON)
	if err != nil {
		s.recordFailure(name)
		return nil, err
	}

	var out EvidenceOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		s.recordFailure(name)
		return nil, pterrors.Config(16, "failed to parse evidence plugin output").WithCause(err).
			WithContext("plugin", name)
	}
	s.recordSuccess(duration)
	return &out, nil
}

// InvokeAction invokes an action plugin by name. Returns (nil, nil) if the
// plugin is disabled or unknown.
func (m *Manager) InvokeAction(ctx context.Context, name string, input ActionInput) (*ActionOutput, error) {
	s, ok := m.plugins[name]
	if !ok || s.disabled {
		return nil, nil
	}
	if s.plugin.manifest.Plugin.Type != TypeAction {
		return nil, pterrors.Config(14, "plugin is not an action plugin").WithContext("plugin", name)
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, pterrors.Config(15, "failed to marshal action plugin input").WithCause(err)
	}

	stdout, duration, err := m.invoke(ctx, s, inputJSON)
	if err != nil {
		s.recordFailure(name)
		return nil, err
	}

	var out ActionOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		s.recordFailure(name)
		return nil, pterrors.Config(16, "failed to parse action plugin output").WithCause(err).
			WithContext("plugin", name)
	}
	s.recordSuccess(duration)
	return &out, nil
}

func (s *state) recordSuccess(duration time.Duration) {
	s.consecutiveFailures = 0
	s.lastDuration = duration
}

func (s *state) recordFailure(name string) {
	s.consecutiveFailures++
	if s.consecutiveFailures >= s.plugin.manifest.maxFailures() {
		s.disabled = true
	}
}

// invoke spawns the plugin's command, writes input to stdin, waits up to
// the manifest's invoke timeout, and returns the (possibly truncated)
// stdout along with the call's wall-clock duration. Stdout beyond
// max_output_bytes is cut off silently: no warning is logged or returned.
func (m *Manager) invoke(ctx context.Context, s *state, input []byte) ([]byte, time.Duration, error) {
	timeout := s.plugin.manifest.invokeTimeout()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, s.plugin.commandPath, s.plugin.manifest.Plugin.Args...)
	cmd.Dir = s.plugin.dir
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if callCtx.Err() == context.DeadlineExceeded {
		return nil, duration, pterrors.ActionTimeout(
			fmt.Sprintf("plugin %s timed out", s.plugin.manifest.Plugin.Name), timeout.Seconds())
	}
	if err != nil {
		return nil, duration, pterrors.Action(48, "plugin invocation failed").WithCause(err).
			WithContext("plugin", s.plugin.manifest.Plugin.Name).
			WithContext("stderr", truncate(stderr.String(), 500))
	}

	out := stdout.Bytes()
	maxOutput := s.plugin.manifest.maxOutputBytes()
	if len(out) > maxOutput {
		out = out[:maxOutput]
	}
	return out, duration, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
