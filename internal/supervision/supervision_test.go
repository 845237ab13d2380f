package supervision

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeProcessName(t *testing.T) {
	assert.Equal(t, "node", NormalizeProcessName("node"))
	assert.Equal(t, "node", NormalizeProcessName("/usr/bin/node"))
	assert.Equal(t, "python.*", NormalizeProcessName("python3"))
	assert.Equal(t, "python.*", NormalizeProcessName("python3.11"))
}

func TestGenerateCandidatesNodeJest(t *testing.T) {
	candidates := GenerateCandidates("node",
		"/usr/bin/node /home/user/project/node_modules/.bin/jest --watch tests/")

	require.NotEmpty(t, candidates)
	var levels []SpecificityLevel
	for _, c := range candidates {
		levels = append(levels, c.Level)
	}
	assert.Contains(t, levels, Standard)
	assert.Contains(t, levels, Broad)
}

func TestGenerateCandidatesPythonPytestStandardKeepsFlags(t *testing.T) {
	candidates := GenerateCandidates("python3", "python3 -m pytest /home/user/app/tests/test_api.py -v")

	var std *Candidate
	for i := range candidates {
		if candidates[i].Level == Standard {
			std = &candidates[i]
		}
	}
	require.NotNil(t, std)

	found := false
	for _, p := range std.ArgPatterns {
		if p == "-m" || p == "-v" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSpecificityPriorityOrdering(t *testing.T) {
	assert.Less(t, Exact.PriorityOffset(), Standard.PriorityOffset())
	assert.Less(t, Standard.PriorityOffset(), Broad.PriorityOffset())
}

func TestRecordDecisionRequiresMinObservations(t *testing.T) {
	lib, err := OpenLibrary(filepath.Join(t.TempDir(), "patterns.db"))
	require.NoError(t, err)
	defer lib.Close()

	learner := NewLearner(lib)
	cmd := "python3 -m pytest tests/test_api.py -v"

	name, err := learner.RecordDecision("python3", cmd, false)
	require.NoError(t, err)
	assert.Empty(t, name)

	name, err = learner.RecordDecision("python3", cmd, false)
	require.NoError(t, err)
	assert.Empty(t, name)

	name, err = learner.RecordDecision("python3", cmd, false)
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	sig := lib.Get(name)
	require.NotNil(t, sig)
	assert.InDelta(t, 0.5+0.1*3, sig.ConfidenceWeight, 1e-9)
}

func TestRecordDecisionReusesExistingPattern(t *testing.T) {
	lib, err := OpenLibrary(filepath.Join(t.TempDir(), "patterns.db"))
	require.NoError(t, err)
	defer lib.Close()

	learner := NewLearner(lib).WithMinObservations(1)
	cmd := "node server.js --serve"

	name1, err := learner.RecordDecision("node", cmd, false)
	require.NoError(t, err)
	require.NotEmpty(t, name1)

	sigBefore := lib.Get(name1)
	require.NotNil(t, sigBefore)

	name2, err := learner.RecordDecision("node", cmd, false)
	require.NoError(t, err)
	assert.Equal(t, name1, name2)

	sigAfter := lib.Get(name2)
	require.NotNil(t, sigAfter)
	assert.Greater(t, sigAfter.MatchCount, sigBefore.MatchCount)
}

func TestInconsistentDecisionsPreferBroadLevel(t *testing.T) {
	lib, err := OpenLibrary(filepath.Join(t.TempDir(), "patterns.db"))
	require.NoError(t, err)
	defer lib.Close()

	learner := NewLearner(lib).WithMinObservations(3)
	cmd := "worker --watch"

	_, err = learner.RecordDecision("worker", cmd, true)
	require.NoError(t, err)
	_, err = learner.RecordDecision("worker", cmd, false)
	require.NoError(t, err)
	name, err := learner.RecordDecision("worker", cmd, true)
	require.NoError(t, err)
	require.NotEmpty(t, name)

	assert.Contains(t, name, "_broad")
}

func TestLibraryAllReturnsPriorityOrder(t *testing.T) {
	lib, err := OpenLibrary(filepath.Join(t.TempDir(), "patterns.db"))
	require.NoError(t, err)
	defer lib.Close()

	require.NoError(t, lib.AddLearned(Signature{Name: "b", Priority: 120}))
	require.NoError(t, lib.AddLearned(Signature{Name: "a", Priority: 100}))

	all, err := lib.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "b", all[1].Name)
}
