// Package session manages a PT run's on-disk session directory: versioned
// artifact envelopes with SHA-256 integrity, atomic writes, and the
// exclusive advisory lock that marks a session as active.
//
// The envelope/integrity/redaction shapes are grounded on the original
// implementation's snapshot persistence module; the atomic-write mechanics
// follow the ratelimit and alphawealth packages' renameio-based pattern
// rather than the original's hand-rolled SHA-256 (crypto/sha256 covers that
// here).
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/processtriage/pt/internal/pterrors"
)

// SchemaVersion is the single advertised artifact schema version. Loaded
// envelopes whose schema_version differs are rejected.
const SchemaVersion = "1.0.0"

const (
	inventoryFile   = "scan/inventory.json"
	inferenceFile   = "inference/results.json"
	planFile        = "decision/plan.json"
	runMetadataFile = "run_metadata.json"
	lockFile        = "session.lock"
)

// Redacted is substituted for command strings a redaction policy rejects.
const Redacted = "<REDACTED>"

// RedactionPolicy controls how Handle.WriteInventory treats process cmd
// strings before persisting them.
type RedactionPolicy int

const (
	// RedactionNone keeps every string as-is.
	RedactionNone RedactionPolicy = iota
	// RedactionStandard redacts cmd strings matching a sensitive substring.
	RedactionStandard
	// RedactionFull redacts every cmd string unconditionally.
	RedactionFull
)

// sensitivePatterns are the case-insensitive substrings that trigger
// redaction under RedactionStandard.
var sensitivePatterns = []string{
	"password", "passwd", "secret", "token", "api_key", "api-key",
	"aws_secret", "private_key", "credential", "auth_token", "bearer ",
	"-----begin",
}

// RedactCmd applies policy to a single command string.
func RedactCmd(cmd string, policy RedactionPolicy) string {
	switch policy {
	case RedactionFull:
		return Redacted
	case RedactionStandard:
		lower := strings.ToLower(cmd)
		for _, p := range sensitivePatterns {
			if strings.Contains(lower, p) {
				return Redacted
			}
		}
		return cmd
	default:
		return cmd
	}
}

// ArtifactEnvelope wraps a payload with integrity and schema metadata.
type ArtifactEnvelope[T any] struct {
	SchemaVersion   string    `json:"schema_version"`
	SessionID       string    `json:"session_id"`
	GeneratedAt     time.Time `json:"generated_at"`
	HostID          string    `json:"host_id"`
	IntegritySHA256 string    `json:"integrity_sha256"`
	Payload         T         `json:"payload"`
}

func newEnvelope[T any](sessionID, hostID string, payload T) (ArtifactEnvelope[T], error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return ArtifactEnvelope[T]{}, pterrors.Session(52, "failed to marshal artifact payload").WithCause(err)
	}
	sum := sha256.Sum256(payloadJSON)
	return ArtifactEnvelope[T]{
		SchemaVersion:   SchemaVersion,
		SessionID:       sessionID,
		GeneratedAt:     time.Now().UTC(),
		HostID:          hostID,
		IntegritySHA256: hex.EncodeToString(sum[:]),
		Payload:         payload,
	}, nil
}

// PersistedProcess is one inventory record.
type PersistedProcess struct {
	PID             int32   `json:"pid"`
	PPID            int32   `json:"ppid"`
	UID             uint32  `json:"uid"`
	StartID         string  `json:"start_id"`
	Comm            string  `json:"comm"`
	Cmd             string  `json:"cmd"`
	State           string  `json:"state"`
	StartTimeUnix   int64   `json:"start_time_unix"`
	ElapsedSeconds  float64 `json:"elapsed_secs"`
	IdentityQuality string  `json:"identity_quality"`
}

// InventoryArtifact is the scan/inventory.json payload.
type InventoryArtifact struct {
	TotalSystemProcesses int                `json:"total_system_processes"`
	ProtectedFiltered    int                `json:"protected_filtered"`
	RecordCount          int                `json:"record_count"`
	Records              []PersistedProcess `json:"records"`
}

// PersistedInference is one inference/results.json candidate.
type PersistedInference struct {
	PID                int32   `json:"pid"`
	StartID            string  `json:"start_id"`
	Classification     string  `json:"classification"`
	PosteriorUseful    float64 `json:"posterior_useful"`
	PosteriorUsefulBad float64 `json:"posterior_useful_bad"`
	PosteriorAbandoned float64 `json:"posterior_abandoned"`
	PosteriorZombie    float64 `json:"posterior_zombie"`
	Confidence         float64 `json:"confidence"`
	RecommendedAction  string  `json:"recommended_action"`
	Score              float64 `json:"score"`
}

// InferenceArtifact is the inference/results.json payload.
type InferenceArtifact struct {
	CandidateCount int                   `json:"candidate_count"`
	Candidates     []PersistedInference  `json:"candidates"`
}

// PersistedPlanAction is one decision/plan.json entry.
type PersistedPlanAction struct {
	PID          int32   `json:"pid"`
	StartID      string  `json:"start_id"`
	Action       string  `json:"action"`
	ExpectedLoss float64 `json:"expected_loss"`
	Rationale    string  `json:"rationale"`
}

// PlanArtifact is the decision/plan.json payload.
type PlanArtifact struct {
	ActionCount int                    `json:"action_count"`
	KillCount   int                    `json:"kill_count"`
	ReviewCount int                    `json:"review_count"`
	SpareCount  int                    `json:"spare_count"`
	Actions     []PersistedPlanAction  `json:"actions"`
}

// RunMetadata is the run_metadata.json payload.
type RunMetadata struct {
	PTVersion      string            `json:"pt_version"`
	SchemaVersion  string            `json:"schema_version"`
	HostID         string            `json:"host_id"`
	Hostname       string            `json:"hostname"`
	OSFamily       string            `json:"os_family"`
	OSArch         string            `json:"os_arch"`
	Cores          uint32            `json:"cores"`
	MemoryTotalGB  float64           `json:"memory_total_gb"`
	PriorsHash     string            `json:"priors_hash"`
	PolicyHash     string            `json:"policy_hash"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// NewID generates a session ID of the form pt-YYYYMMDD-HHMMSS-<8-hex>,
// lexicographically sortable and unique under a 1 Hz creation rate.
func NewID(now time.Time) string {
	id := uuid.New()
	suffix := hex.EncodeToString(id[:])[:8]
	return fmt.Sprintf("pt-%s-%s", now.UTC().Format("20060102-150405"), suffix)
}

// Handle is an open session directory with its advisory lock held.
type Handle struct {
	Dir       string
	SessionID string
	HostID    string

	lock *flock.Flock
}

// Open creates (if absent) a session directory under root and takes an
// exclusive advisory lock marking it the active session. The caller must
// call Close to release the lock.
func Open(root, sessionID, hostID string) (*Handle, error) {
	dir := filepath.Join(root, sessionID)
	for _, sub := range []string{"scan", "inference", "decision"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, pterrors.Session(53, "failed to create session subdirectory").WithCause(err)
		}
	}

	fl := flock.New(filepath.Join(dir, lockFile))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, pterrors.Session(54, "failed to acquire session lock").WithCause(err)
	}
	if !locked {
		return nil, pterrors.Session(54, "another session is already active in this directory").
			WithContext("dir", dir)
	}

	return &Handle{Dir: dir, SessionID: sessionID, HostID: hostID, lock: fl}, nil
}

// Close releases the session lock. It does not delete the session directory.
func (h *Handle) Close() error {
	if h.lock == nil {
		return nil
	}
	return h.lock.Unlock()
}

func persistArtifact[T any](h *Handle, relPath string, payload T) (string, error) {
	envelope, err := newEnvelope(h.SessionID, h.HostID, payload)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return "", pterrors.Session(52, "failed to marshal artifact envelope").WithCause(err)
	}
	path := filepath.Join(h.Dir, relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", pterrors.Session(53, "failed to create artifact directory").WithCause(err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", pterrors.Session(55, "failed to atomically persist artifact").WithCause(err)
	}
	return path, nil
}

func loadArtifact[T any](h *Handle, relPath string) (ArtifactEnvelope[T], error) {
	var envelope ArtifactEnvelope[T]
	path := filepath.Join(h.Dir, relPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return envelope, pterrors.Session(56, "failed to read artifact").WithCause(err)
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return envelope, pterrors.Session(57, "failed to parse artifact").WithCause(err)
	}
	if envelope.SchemaVersion != SchemaVersion {
		return envelope, pterrors.Session(58, "incompatible schema version").
			WithContext("found", envelope.SchemaVersion).WithContext("expected", SchemaVersion)
	}
	payloadJSON, err := json.Marshal(envelope.Payload)
	if err != nil {
		return envelope, pterrors.Session(52, "failed to re-marshal payload for integrity check").WithCause(err)
	}
	sum := sha256.Sum256(payloadJSON)
	if hex.EncodeToString(sum[:]) != envelope.IntegritySHA256 {
		return envelope, pterrors.IntegritySessionError(path)
	}
	return envelope, nil
}

// WriteInventory persists the inventory artifact.
func (h *Handle) WriteInventory(a InventoryArtifact) (string, error) {
	return persistArtifact(h, inventoryFile, a)
}

// WriteInference persists the inference artifact.
func (h *Handle) WriteInference(a InferenceArtifact) (string, error) {
	return persistArtifact(h, inferenceFile, a)
}

// WritePlan persists the plan artifact.
func (h *Handle) WritePlan(a PlanArtifact) (string, error) {
	return persistArtifact(h, planFile, a)
}

// WriteRunMetadata persists run metadata.
func (h *Handle) WriteRunMetadata(m RunMetadata) (string, error) {
	return persistArtifact(h, runMetadataFile, m)
}

// LoadInventory loads and validates the inventory artifact.
func (h *Handle) LoadInventory() (ArtifactEnvelope[InventoryArtifact], error) {
	return loadArtifact[InventoryArtifact](h, inventoryFile)
}

// LoadInference loads and validates the inference artifact.
func (h *Handle) LoadInference() (ArtifactEnvelope[InferenceArtifact], error) {
	return loadArtifact[InferenceArtifact](h, inferenceFile)
}

// LoadPlan loads and validates the plan artifact.
func (h *Handle) LoadPlan() (ArtifactEnvelope[PlanArtifact], error) {
	return loadArtifact[PlanArtifact](h, planFile)
}

// LoadRunMetadata loads and validates run metadata.
func (h *Handle) LoadRunMetadata() (ArtifactEnvelope[RunMetadata], error) {
	return loadArtifact[RunMetadata](h, runMetadataFile)
}

// ListArtifacts reports which of the four well-known artifacts exist.
func (h *Handle) ListArtifacts() []string {
	var present []string
	for _, c := range []struct {
		name string
		rel  string
	}{
		{"inventory", inventoryFile},
		{"inference", inferenceFile},
		{"plan", planFile},
		{"run_metadata", runMetadataFile},
	} {
		if _, err := os.Stat(filepath.Join(h.Dir, c.rel)); err == nil {
			present = append(present, c.name)
		}
	}
	return present
}
