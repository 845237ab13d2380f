// Package capabilities holds the consumer-only capabilities manifest: PT
// never performs discovery itself (spec.md scopes probing environment
// discovery to a separate tool), it only loads, validates schema version
// against, and checks the staleness of a manifest written to the cache
// directory.
package capabilities

import (
	"encoding/json"
	"os"
	"time"

	"github.com/processtriage/pt/internal/pterrors"
)

// SchemaVersion is the manifest schema version this build understands.
const SchemaVersion = "1.0.0"

// DefaultTTL is how long a manifest remains fresh after discovery.
const DefaultTTL = 3600 * time.Second

// Tool describes one externally discovered executable.
type Tool struct {
	Available  bool   `json:"available"`
	Path       string `json:"path,omitempty"`
	Version    string `json:"version,omitempty"`
	Permissions string `json:"permissions,omitempty"`
	Functional bool   `json:"functional"`
	Notes      string `json:"notes,omitempty"`
}

// OS describes the discovered operating system.
type OS struct {
	Family string `json:"family"`
	Arch   string `json:"arch"`
	Kernel string `json:"kernel"`
}

// Cgroups describes the discovered cgroup configuration.
type Cgroups struct {
	Version     string   `json:"version"`
	Controllers []string `json:"controllers"`
}

// Manifest is the full capabilities document written by the discovery
// tool and consumed by PT at startup.
type Manifest struct {
	SchemaVersion        string          `json:"schema_version"`
	OS                   OS              `json:"os"`
	Tools                map[string]Tool `json:"tools"`
	ProcFS               bool            `json:"proc_fs"`
	Cgroups              Cgroups         `json:"cgroups"`
	Systemd              bool            `json:"systemd"`
	Launchd              bool            `json:"launchd"`
	PSI                  bool            `json:"psi"`
	Containers           bool            `json:"containers"`
	Sudo                 bool            `json:"sudo"`
	User                 string          `json:"user"`
	Paths                map[string]string `json:"paths,omitempty"`
	System               map[string]any  `json:"system,omitempty"`
	Privileges           []string        `json:"privileges,omitempty"`
	DiscoveredAt         time.Time       `json:"discovered_at"`
	DiscoveryDurationMs  int64           `json:"discovery_duration_ms"`
}

// Load reads and parses a capabilities manifest from path. It does not
// validate staleness or schema compatibility; callers should call
// IsCompatible and IsStale explicitly.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pterrors.IO(60, "failed to read capabilities manifest").WithCause(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, pterrors.IO(61, "failed to parse capabilities manifest").WithCause(err)
	}
	return &m, nil
}

// IsCompatible reports whether the manifest's schema version is one this
// build understands.
func (m *Manifest) IsCompatible() bool {
	return m.SchemaVersion == SchemaVersion
}

// IsStale reports whether the manifest is older than ttl as of now. A
// ttl<=0 uses DefaultTTL.
func (m *Manifest) IsStale(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(m.DiscoveredAt) > ttl
}

// ToolAvailable reports whether a named tool was discovered, is
// available, and is functional.
func (m *Manifest) ToolAvailable(name string) bool {
	t, ok := m.Tools[name]
	return ok && t.Available && t.Functional
}
