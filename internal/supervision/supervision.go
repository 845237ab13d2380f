// Package supervision learns process patterns from operator kill/spare
// decisions: command normalization, candidate generation at three
// specificity levels, and a bbolt-backed pattern library.
//
// Normalization rules and level-selection thresholds are grounded on the
// original implementation's pattern_learning module; the persisted library
// keeps the teacher's bbolt bucket-per-kind, JSON-value layout almost
// directly (internal/storage/bolt.go), since spec.md does not mandate a
// JSON-file format for the pattern library the way it does for sessions.
package supervision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// SpecificityLevel is a pattern candidate's generalization tier.
type SpecificityLevel int

const (
	Exact SpecificityLevel = iota
	Standard
	Broad
)

func (l SpecificityLevel) String() string {
	switch l {
	case Exact:
		return "exact"
	case Standard:
		return "standard"
	case Broad:
		return "broad"
	default:
		return "unknown"
	}
}

// PriorityOffset orders patterns within the library: lower matches first.
func (l SpecificityLevel) PriorityOffset() int {
	switch l {
	case Exact:
		return 0
	case Standard:
		return 10
	default:
		return 20
	}
}

// MinObservations is the default number of decisions required before a
// pattern is promoted into the library.
const MinObservations = 3

// Candidate is one generated pattern at a specificity level.
type Candidate struct {
	Level          SpecificityLevel
	ProcessPattern string
	ArgPatterns    []string
	Description    string
}

// Name returns the library key this candidate would be stored under.
func (c Candidate) Name(baseName string) string {
	return fmt.Sprintf("learned_%s_%s", baseName, c.Level)
}

var (
	pathStripperRe   = regexp.MustCompile(`(^|\s)/(?:[^/\s]+/)+`)
	numberReplacerRe = regexp.MustCompile(`\b\d{4,}\b`)
	portPatternRe    = regexp.MustCompile(`(?:--?(?:port|p)\s*[=:]?\s*)\d+|:\d{2,5}\b`)
	tempPathRe       = regexp.MustCompile(`/(?:tmp|var/tmp|var/folders)/\S+`)
	homePathRe       = regexp.MustCompile(`/(?:home|Users)/[^/\s]+/\S*`)
	uuidRe           = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	hashLikeRe       = regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`)
	versionedInterp  = regexp.MustCompile(`^(python|ruby|perl|node)(\d+(?:\.\d+)*)$`)
	anyPathRe        = regexp.MustCompile(`\S+/\S+`)
	anyNumberRe      = regexp.MustCompile(`\b\d+\b`)
	multiWildcardRe  = regexp.MustCompile(`(\.\*)+`)
)

// NormalizeProcessName strips a path prefix and generalizes versioned
// interpreters (python3.11 -> python.*).
func NormalizeProcessName(name string) string {
	base := name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		base = name[idx+1:]
	}
	if m := versionedInterp.FindStringSubmatch(base); m != nil {
		return m[1] + ".*"
	}
	return base
}

func normalizeArgExact(arg string) string {
	result := uuidRe.ReplaceAllString(arg, "[0-9a-f-]+")
	result = regexp.QuoteMeta(result)
	result = strings.ReplaceAll(result, `\[0-9a-f-\]\+`, "[0-9a-f-]+")
	return result
}

func normalizeArgStandard(arg string) string {
	result := pathStripperRe.ReplaceAllString(arg, "${1}.*")
	result = homePathRe.ReplaceAllString(result, ".*")
	result = tempPathRe.ReplaceAllString(result, ".*")
	result = portPatternRe.ReplaceAllString(result, `--port=\d+`)
	result = numberReplacerRe.ReplaceAllString(result, `\d+`)
	result = uuidRe.ReplaceAllString(result, "[0-9a-f-]+")
	result = hashLikeRe.ReplaceAllString(result, "[0-9a-fA-F]+")
	return result
}

func normalizeArgBroad(arg string) string {
	result := pathStripperRe.ReplaceAllString(arg, "${1}")
	result = anyPathRe.ReplaceAllString(result, ".*")
	result = anyNumberRe.ReplaceAllString(result, `\d+`)
	result = multiWildcardRe.ReplaceAllString(result, ".*")
	return strings.TrimSpace(result)
}

func isSignificantArg(arg string) bool {
	if arg == "" {
		return false
	}
	if strings.HasPrefix(arg, "/") && !strings.Contains(arg, "=") && !strings.HasPrefix(arg, "--") {
		return strings.HasSuffix(arg, ".py") || strings.HasSuffix(arg, ".js") ||
			strings.HasSuffix(arg, ".ts") || strings.HasSuffix(arg, ".rb") ||
			strings.Contains(arg, "bin/")
	}
	return true
}

var importantSubcommands = map[string]bool{
	"test": true, "serve": true, "dev": true, "build": true, "watch": true,
	"run": true, "start": true, "exec": true, "lint": true, "check": true,
	"format": true, "compile": true, "bundle": true,
}

func isKeyArg(arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return true
	}
	return importantSubcommands[strings.ToLower(arg)]
}

var primaryFlags = map[string]bool{
	"--watch": true, "-w": true, "--hot": true, "--dev": true, "--serve": true,
	"--test": true, "--build": true, "--verbose": true, "-v": true,
	"--debug": true, "-m": true,
}

func isPrimaryFlag(arg string) bool {
	lower := strings.ToLower(arg)
	if primaryFlags[lower] {
		return true
	}
	return strings.HasPrefix(arg, "--") && !strings.Contains(arg, "=")
}

// GenerateCandidates builds pattern candidates from a raw process name and
// command line: Standard and Broad always, Exact only when at least one
// significant argument remains.
func GenerateCandidates(processName, cmdline string) []Candidate {
	normalized := NormalizeProcessName(processName)
	args := strings.Fields(cmdline)

	argsToProcess := args
	if len(args) > 0 {
		first := args[0]
		if strings.HasSuffix(first, processName) || strings.HasSuffix(first, "/"+processName) {
			argsToProcess = args[1:]
		}
	}

	var candidates []Candidate

	var exactArgs []string
	for _, a := range argsToProcess {
		if isSignificantArg(a) {
			exactArgs = append(exactArgs, normalizeArgExact(a))
		}
	}
	if len(exactArgs) > 0 {
		candidates = append(candidates, Candidate{
			Level:          Exact,
			ProcessPattern: "^" + regexp.QuoteMeta(normalized) + "$",
			ArgPatterns:    exactArgs,
			Description:    fmt.Sprintf("exact match for %s with specific args", normalized),
		})
	}

	var stdArgs []string
	for _, a := range argsToProcess {
		if isKeyArg(a) {
			stdArgs = append(stdArgs, normalizeArgStandard(a))
		}
	}
	candidates = append(candidates, Candidate{
		Level:          Standard,
		ProcessPattern: normalized,
		ArgPatterns:    stdArgs,
		Description:    fmt.Sprintf("standard match for %s", normalized),
	})

	var broadArgs []string
	for _, a := range argsToProcess {
		if !isPrimaryFlag(a) {
			continue
		}
		norm := normalizeArgBroad(a)
		if norm != "" && norm != ".*" {
			broadArgs = append(broadArgs, norm)
		}
	}
	broadBase := normalized
	if idx := strings.Index(normalized, "."); idx >= 0 {
		broadBase = normalized[:idx]
	}
	candidates = append(candidates, Candidate{
		Level:          Broad,
		ProcessPattern: broadBase + ".*",
		ArgPatterns:    broadArgs,
		Description:    fmt.Sprintf("broad match for %s-like processes", normalized),
	})

	return candidates
}

// DecisionAction is the operator's response to a candidate process.
type DecisionAction int

const (
	Kill DecisionAction = iota
	Spare
)

// observation is one recorded decision for a process name.
type observation struct {
	Cmdline    string
	Action     DecisionAction
	Candidates []Candidate
}

// Learner accumulates per-process observations and promotes them into a
// Library once MinObservations is reached.
type Learner struct {
	library         *Library
	observations    map[string][]observation
	minObservations int
}

// NewLearner constructs a Learner backed by library.
func NewLearner(library *Library) *Learner {
	return &Learner{library: library, observations: make(map[string][]observation), minObservations: MinObservations}
}

// WithMinObservations overrides the default MinObservations threshold.
func (l *Learner) WithMinObservations(n int) *Learner {
	l.minObservations = n
	return l
}

// RecordDecision stores an observation and, once enough have accumulated
// for this process name, promotes the best candidate into the library.
// Returns the promoted pattern name, or "" if none was created this call.
func (l *Learner) RecordDecision(processName, cmdline string, killed bool) (string, error) {
	action := Spare
	if killed {
		action = Kill
	}

	candidates := GenerateCandidates(processName, cmdline)
	l.observations[processName] = append(l.observations[processName], observation{
		Cmdline:    cmdline,
		Action:     action,
		Candidates: candidates,
	})

	for _, c := range candidates {
		name := c.Name(processName)
		if l.library.Get(name) != nil {
			l.library.RecordMatch(name, !killed)
			return name, nil
		}
	}

	obs := l.observations[processName]
	if len(obs) < l.minObservations {
		return "", nil
	}

	best := selectBestCandidate(obs, candidates)
	if best == nil {
		return "", nil
	}

	name, err := l.createLearnedPattern(processName, *best, action, len(obs))
	if err != nil {
		return "", err
	}
	l.library.RecordMatch(name, !killed)
	return name, nil
}

func selectBestCandidate(obs []observation, candidates []Candidate) *Candidate {
	if len(obs) == 0 {
		return nil
	}
	killCount := 0
	for _, o := range obs {
		if o.Action == Kill {
			killCount++
		}
	}
	spareCount := len(obs) - killCount
	maxCount := killCount
	if spareCount > maxCount {
		maxCount = spareCount
	}
	consistency := float64(maxCount) / float64(len(obs))

	var preferred SpecificityLevel
	switch {
	case consistency < 0.8:
		preferred = Broad
	case consistency < 0.95:
		preferred = Standard
	default:
		preferred = Exact
	}

	for i := range candidates {
		if candidates[i].Level == preferred {
			return &candidates[i]
		}
	}
	for i := range candidates {
		if candidates[i].Level == Standard {
			return &candidates[i]
		}
	}
	return nil
}

func (l *Learner) createLearnedPattern(processName string, candidate Candidate, action DecisionAction, obsCount int) (string, error) {
	name := candidate.Name(processName)
	confidence := 0.5 + 0.1*minFloat(float64(obsCount), 5.0)

	actionWord := "Spare"
	if action == Kill {
		actionWord = "Kill"
	}

	sig := Signature{
		Name:             name,
		Category:         inferCategory(processName),
		ProcessPatterns:  []string{candidate.ProcessPattern},
		ArgPatterns:      candidate.ArgPatterns,
		ConfidenceWeight: confidence,
		Notes:            fmt.Sprintf("learned from %d observations. action: %s. %s", obsCount, actionWord, candidate.Description),
		Builtin:          false,
		Priority:         100 + candidate.Level.PriorityOffset(),
	}

	if err := l.library.AddLearned(sig); err != nil {
		return "", err
	}
	return name, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Category buckets a learned signature for reporting purposes.
type Category string

const (
	CategoryCI           Category = "ci"
	CategoryOrchestrator Category = "orchestrator"
	CategoryAgent        Category = "agent"
	CategoryIDE          Category = "ide"
	CategoryOther        Category = "other"
)

func inferCategory(processName string) Category {
	lower := strings.ToLower(processName)
	switch {
	case strings.Contains(lower, "test") || strings.Contains(lower, "jest") ||
		strings.Contains(lower, "pytest") || strings.Contains(lower, "mocha") || strings.Contains(lower, "bats"):
		return CategoryCI
	case strings.Contains(lower, "vite") || strings.Contains(lower, "webpack") ||
		strings.Contains(lower, "next") || strings.Contains(lower, "serve"):
		return CategoryOrchestrator
	case strings.Contains(lower, "claude") || strings.Contains(lower, "codex") || strings.Contains(lower, "copilot"):
		return CategoryAgent
	case strings.Contains(lower, "code") || strings.Contains(lower, "vim") ||
		strings.Contains(lower, "emacs") || strings.Contains(lower, "idea"):
		return CategoryIDE
	default:
		return CategoryOther
	}
}

// ObservationCount reports how many decisions have been recorded for a
// process name since the last Clear.
func (l *Learner) ObservationCount(processName string) int {
	return len(l.observations[processName])
}

// Clear drops accumulated observations for a process name, typically
// called after a pattern has been promoted.
func (l *Learner) Clear(processName string) {
	delete(l.observations, processName)
}

// ---------------------------------------------------------------------------
// Library: bbolt-backed pattern storage
// ---------------------------------------------------------------------------

// SchemaVersion is the pattern library's bbolt schema version.
const SchemaVersion = "1"

const (
	bucketPatterns = "patterns"
	bucketMeta     = "meta"
)

// Signature is a persisted pattern the supervisor can match future
// processes against.
type Signature struct {
	Name             string    `json:"name"`
	Category         Category  `json:"category"`
	ProcessPatterns  []string  `json:"process_patterns"`
	ArgPatterns      []string  `json:"arg_patterns"`
	ConfidenceWeight float64   `json:"confidence_weight"`
	Notes            string    `json:"notes"`
	Builtin          bool      `json:"builtin"`
	Priority         int       `json:"priority"`
	MatchCount       int       `json:"match_count"`
	AcceptCount      int       `json:"accept_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Library is a bbolt-backed collection of learned and built-in signatures,
// keyed by name.
type Library struct {
	db *bolt.DB
}

// OpenLibrary opens (or creates) the pattern library at path.
func OpenLibrary(path string) (*Library, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("supervision: bolt.Open(%q): %w", path, err)
	}
	lib := &Library{db: db}
	if err := lib.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketPatterns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			return meta.Put([]byte("schema_version"), []byte(SchemaVersion))
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("supervision: library init: %w", err)
	}
	return lib, nil
}

// Close closes the underlying bbolt file.
func (lib *Library) Close() error {
	return lib.db.Close()
}

// Get retrieves a signature by name, or nil if absent.
func (lib *Library) Get(name string) *Signature {
	var sig Signature
	found := false
	_ = lib.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketPatterns)).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &sig)
	})
	if !found {
		return nil
	}
	return &sig
}

// AddLearned inserts or overwrites a learned signature.
func (lib *Library) AddLearned(sig Signature) error {
	sig.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("supervision: marshal signature: %w", err)
	}
	return lib.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPatterns)).Put([]byte(sig.Name), data)
	})
}

// RecordMatch updates match/accept counters for name. accepted is true when
// the operator's decision agreed with the pattern's implied supervisor
// classification (spared).
func (lib *Library) RecordMatch(name string, accepted bool) {
	_ = lib.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketPatterns))
		data := b.Get([]byte(name))
		if data == nil {
			return nil
		}
		var sig Signature
		if err := json.Unmarshal(data, &sig); err != nil {
			return err
		}
		sig.MatchCount++
		if accepted {
			sig.AcceptCount++
		}
		sig.UpdatedAt = time.Now().UTC()
		updated, err := json.Marshal(sig)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), updated)
	})
}

// All returns every signature in priority order (lowest first).
func (lib *Library) All() ([]Signature, error) {
	var sigs []Signature
	err := lib.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketPatterns)).ForEach(func(_, v []byte) error {
			var sig Signature
			if err := json.Unmarshal(v, &sig); err != nil {
				return err
			}
			sigs = append(sigs, sig)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(sigs); i++ {
		for j := i; j > 0 && sigs[j].Priority < sigs[j-1].Priority; j-- {
			sigs[j], sigs[j-1] = sigs[j-1], sigs[j]
		}
	}
	return sigs, nil
}
