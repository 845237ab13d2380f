package protectedfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S6: inventory [pid=1 comm=systemd ... user=root, pid=100 comm=bash
// user=testuser, pid=101 comm=systemd-logind user=root], policy pattern
// regex:"\bsystemd\b" case_insensitive:true -> passed=[pid=100],
// filtered=[pid=1 field=Comm, pid=101 field=Comm].
func TestScenarioS6ProtectedFilter(t *testing.T) {
	f, err := New(nil, nil, nil, []Pattern{
		{Text: `\bsystemd\b`, Kind: KindRegex, CaseInsensitive: true},
	})
	require.NoError(t, err)

	inventory := []Candidate{
		{PID: 1, Comm: "systemd", Cmd: "/usr/lib/systemd/systemd", User: "root"},
		{PID: 100, Comm: "bash", Cmd: "/bin/bash", User: "testuser"},
		{PID: 101, Comm: "systemd-logind", Cmd: "/usr/lib/systemd/systemd-logind", User: "root"},
	}

	result := f.Apply(inventory)

	require.Len(t, result.Passed, 1)
	assert.Equal(t, 100, result.Passed[0].PID)

	require.Len(t, result.Filtered, 2)
	assert.Equal(t, 1, result.Filtered[0].Candidate.PID)
	assert.Equal(t, FieldComm, result.Filtered[0].Match.MatchedField)
	assert.Equal(t, 101, result.Filtered[1].Candidate.PID)
	assert.Equal(t, FieldComm, result.Filtered[1].Match.MatchedField)

	assert.Equal(t, 3, result.TotalBefore)
	assert.Equal(t, 1, result.TotalAfter)
}

func TestPIDSetTakesPriorityOverPattern(t *testing.T) {
	f, err := New([]int{100}, nil, nil, nil)
	require.NoError(t, err)
	result := f.Apply([]Candidate{{PID: 100, Comm: "bash"}})
	require.Len(t, result.Filtered, 1)
	assert.Equal(t, FieldPid, result.Filtered[0].Match.MatchedField)
}

func TestPPIDSetProtectsChildren(t *testing.T) {
	f, err := New(nil, []int{1}, nil, nil)
	require.NoError(t, err)
	result := f.Apply([]Candidate{{PID: 50, PPID: 1, Comm: "child"}})
	require.Len(t, result.Filtered, 1)
	assert.Equal(t, FieldPpid, result.Filtered[0].Match.MatchedField)
}

func TestUsernameMatchIsCaseInsensitive(t *testing.T) {
	f, err := New(nil, nil, []string{"Root"}, nil)
	require.NoError(t, err)
	result := f.Apply([]Candidate{{PID: 1, User: "root"}})
	require.Len(t, result.Filtered, 1)
	assert.Equal(t, FieldUser, result.Filtered[0].Match.MatchedField)
}

func TestCmdMatchedOnlyWhenCommDoesNotMatch(t *testing.T) {
	f, err := New(nil, nil, nil, []Pattern{{Text: "secret-daemon", Kind: KindLiteral}})
	require.NoError(t, err)
	result := f.Apply([]Candidate{{PID: 5, Comm: "bash", Cmd: "/usr/bin/secret-daemon --flag"}})
	require.Len(t, result.Filtered, 1)
	assert.Equal(t, FieldCmd, result.Filtered[0].Match.MatchedField)
}

func TestGlobDesugaring(t *testing.T) {
	cases := []struct {
		glob    string
		matches string
		noMatch string
	}{
		{glob: "/usr/bin/*", matches: "/usr/bin/python3", noMatch: "/usr/bin/sub/python3"},
		{glob: "/var/**/log", matches: "/var/a/b/log", noMatch: "/etc/other-log"},
		{glob: "**/secrets/*", matches: "a/b/secrets/file", noMatch: "secretsfile"},
	}
	for _, c := range cases {
		f, err := New(nil, nil, nil, []Pattern{{Text: c.glob, Kind: KindGlob}})
		require.NoError(t, err)
		res := f.Apply([]Candidate{{PID: 1, Comm: c.matches}})
		assert.Len(t, res.Filtered, 1, "expected glob %q to match %q", c.glob, c.matches)

		res2 := f.Apply([]Candidate{{PID: 2, Comm: c.noMatch}})
		assert.Len(t, res2.Filtered, 0, "expected glob %q not to match %q", c.glob, c.noMatch)
	}
}

func TestInvalidRegexFailsWithFieldPath(t *testing.T) {
	_, err := New(nil, nil, nil, []Pattern{
		{Text: "ok", Kind: KindRegex},
		{Text: "ok2", Kind: KindRegex},
		{Text: "ok3", Kind: KindRegex},
		{Text: "[unterminated", Kind: KindRegex},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected_patterns[3]")
	assert.Contains(t, err.Error(), "invalid pattern")
}

func TestPassedOrderPreserved(t *testing.T) {
	f, err := New(nil, nil, nil, nil)
	require.NoError(t, err)
	result := f.Apply([]Candidate{{PID: 3}, {PID: 1}, {PID: 2}})
	require.Len(t, result.Passed, 3)
	assert.Equal(t, []int{3, 1, 2}, []int{result.Passed[0].PID, result.Passed[1].PID, result.Passed[2].PID})
}
