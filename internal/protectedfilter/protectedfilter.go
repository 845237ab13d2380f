// Package protectedfilter removes processes that must never be actioned,
// before any inference runs. Protected PIDs, PPIDs, usernames, and compiled
// text patterns are checked in a fixed order and the first hit wins.
package protectedfilter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/processtriage/pt/internal/pterrors"
)

// PatternKind selects how Text is interpreted.
type PatternKind int

const (
	KindRegex PatternKind = iota
	KindGlob
	KindLiteral
)

// Pattern is one configured protected-process pattern.
type Pattern struct {
	Text           string
	Kind           PatternKind
	CaseInsensitive bool
	Notes          string
}

// compiledPattern is a Pattern with its regexp ready to match.
type compiledPattern struct {
	source Pattern
	re     *regexp.Regexp
}

// desugarGlob rewrites a glob pattern into an equivalent regex fragment per
// the fixed desugaring rules: `**/` -> `(.*/)?`, `**` -> `.*`, `*` -> `[^/]*`,
// `?` -> `.`, `[...]` passes through with a leading `!` flipped to `^`, and
// every other regex metacharacter is escaped.
func desugarGlob(glob string) string {
	var b strings.Builder
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if i+2 < len(runes) && runes[i+1] == '*' && runes[i+2] == '/' {
				b.WriteString("(.*/)?")
				i += 2
				continue
			}
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString(".")
		case '[':
			end := strings.IndexRune(string(runes[i:]), ']')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta(string(r)))
				continue
			}
			class := string(runes[i : i+end+1])
			inner := class[1 : len(class)-1]
			if strings.HasPrefix(inner, "!") {
				inner = "^" + inner[1:]
			}
			b.WriteString("[" + inner + "]")
			i += end
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// Compile builds the matchable regexp for a single pattern, translating
// glob and literal kinds into an equivalent regex. fieldPath is used only
// to annotate a compilation failure (e.g. "protected_patterns[3]").
func Compile(p Pattern, fieldPath string) (compiledPattern, error) {
	var exprBody string
	switch p.Kind {
	case KindRegex:
		exprBody = p.Text
	case KindGlob:
		// Globs match the whole field, unlike free regex/literal patterns.
		exprBody = "^" + desugarGlob(p.Text) + "$"
	case KindLiteral:
		exprBody = regexp.QuoteMeta(p.Text)
	default:
		return compiledPattern{}, pterrors.Config(11, fmt.Sprintf("%s: unknown pattern kind", fieldPath))
	}

	expr := exprBody
	if p.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return compiledPattern{}, pterrors.Config(10, fmt.Sprintf("%s: invalid pattern %q: %v", fieldPath, p.Text, err)).WithContext("pattern", p.Text)
	}
	return compiledPattern{source: p, re: re}, nil
}

// CompileAll compiles a full pattern set, reporting the first failure's
// field path as `protected_patterns[N]`.
func CompileAll(patterns []Pattern) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(patterns))
	for i, p := range patterns {
		cp, err := Compile(p, fmt.Sprintf("protected_patterns[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// MatchedField names which field of a candidate matched a protection rule.
type MatchedField string

const (
	FieldPid  MatchedField = "Pid"
	FieldPpid MatchedField = "Ppid"
	FieldUser MatchedField = "User"
	FieldComm MatchedField = "Comm"
	FieldCmd  MatchedField = "Cmd"
)

// ProtectedMatch describes why a candidate was filtered.
type ProtectedMatch struct {
	MatchedField MatchedField
	Pattern      string
	Notes        string
}

// Candidate is the minimal process shape the filter inspects.
type Candidate struct {
	PID  int
	PPID int
	User string
	Comm string
	Cmd  string
}

// Filter holds the compiled protection configuration.
type Filter struct {
	protectedPIDs  map[int]struct{}
	protectedPPIDs map[int]struct{}
	protectedUsers map[string]struct{} // lowercased
	patterns       []compiledPattern
}

// New compiles a Filter from raw configuration. Returns a pterrors.Config
// error (with a `protected_patterns[N]` field path) on the first invalid
// pattern.
func New(pids, ppids []int, usernames []string, patterns []Pattern) (*Filter, error) {
	compiled, err := CompileAll(patterns)
	if err != nil {
		return nil, err
	}

	pidSet := make(map[int]struct{}, len(pids))
	for _, p := range pids {
		pidSet[p] = struct{}{}
	}
	ppidSet := make(map[int]struct{}, len(ppids))
	for _, p := range ppids {
		ppidSet[p] = struct{}{}
	}
	userSet := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		userSet[strings.ToLower(u)] = struct{}{}
	}

	return &Filter{
		protectedPIDs:  pidSet,
		protectedPPIDs: ppidSet,
		protectedUsers: userSet,
		patterns:       compiled,
	}, nil
}

// matchOne checks a single candidate against every rule in fixed order:
// PID set, PPID set, username set, patterns against comm, patterns against
// cmd. The first hit wins.
func (f *Filter) matchOne(c Candidate) (ProtectedMatch, bool) {
	if _, ok := f.protectedPIDs[c.PID]; ok {
		return ProtectedMatch{MatchedField: FieldPid, Pattern: fmt.Sprintf("%d", c.PID)}, true
	}
	if _, ok := f.protectedPPIDs[c.PPID]; ok {
		return ProtectedMatch{MatchedField: FieldPpid, Pattern: fmt.Sprintf("%d", c.PPID)}, true
	}
	if _, ok := f.protectedUsers[strings.ToLower(c.User)]; ok {
		return ProtectedMatch{MatchedField: FieldUser, Pattern: c.User}, true
	}
	for _, p := range f.patterns {
		if p.re.MatchString(c.Comm) {
			return ProtectedMatch{MatchedField: FieldComm, Pattern: p.source.Text, Notes: p.source.Notes}, true
		}
	}
	for _, p := range f.patterns {
		if p.re.MatchString(c.Cmd) {
			return ProtectedMatch{MatchedField: FieldCmd, Pattern: p.source.Text, Notes: p.source.Notes}, true
		}
	}
	return ProtectedMatch{}, false
}

// FilteredCandidate pairs a filtered-out candidate with why it was removed.
type FilteredCandidate struct {
	Candidate Candidate
	Match     ProtectedMatch
}

// Result is the outcome of running Apply over an inventory.
type Result struct {
	Passed      []Candidate
	Filtered    []FilteredCandidate
	TotalBefore int
	TotalAfter  int
}

// Apply filters candidates, preserving the relative order of Passed.
func (f *Filter) Apply(candidates []Candidate) Result {
	result := Result{TotalBefore: len(candidates)}
	for _, c := range candidates {
		if match, hit := f.matchOne(c); hit {
			result.Filtered = append(result.Filtered, FilteredCandidate{Candidate: c, Match: match})
			continue
		}
		result.Passed = append(result.Passed, c)
	}
	result.TotalAfter = len(result.Passed)
	return result
}
