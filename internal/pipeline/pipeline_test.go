package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/processtriage/pt/internal/belief"
	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/identity"
	"github.com/processtriage/pt/internal/policyconfig"
	"github.com/processtriage/pt/internal/priorsconfig"
	"github.com/processtriage/pt/internal/protectedfilter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(pid, ppid int, comm string) Record {
	return Record{
		Candidate: protectedfilter.Candidate{
			PID: pid, PPID: ppid, User: "1000", Comm: comm, Cmd: comm,
		},
		StartID:     identity.New("boot-a", 100, pid),
		TTYAttached: true,
	}
}

func noopFilter(t *testing.T) *protectedfilter.Filter {
	t.Helper()
	f, err := protectedfilter.New(nil, nil, nil, nil)
	require.NoError(t, err)
	return f
}

// allKeepLossMatrix makes Keep strictly cheapest in every state, so the
// myopic policy always chooses Keep regardless of the belief state.
func allKeepLossMatrix() decision.LossMatrix {
	values := make(map[belief.Class]map[decision.Action]float64, 4)
	for c := belief.Useful; c <= belief.Zombie; c++ {
		row := make(map[decision.Action]float64, len(decision.AllActions()))
		for _, a := range decision.AllActions() {
			row[a] = 100
		}
		row[decision.Keep] = 0.01
		values[c] = row
	}
	return decision.NewLossMatrix(values)
}

func TestExtractEvidenceOrphanObservedRaisesAbandonedLikelihood(t *testing.T) {
	priors := priorsconfig.Defaults()
	// Skew the orphan feature: abandoned processes are usually orphaned,
	// useful ones rarely are.
	priors.Bernoulli["orphan"]["useful"] = priorsconfig.BetaPrior{Alpha: 1, Beta: 9}
	priors.Bernoulli["orphan"]["abandoned"] = priorsconfig.BetaPrior{Alpha: 9, Beta: 1}

	orphan := rec(100, 1, "zombie-proc")
	ledger := extractEvidence(orphan, priors)
	fused := ledger.Fuse()

	assert.Greater(t, fused[belief.Abandoned], fused[belief.Useful])
}

func TestBenjaminiHochbergAllSignificantWhenEveryPValueTiny(t *testing.T) {
	pv := []float64{0.001, 0.002, 0.003}
	got := benjaminiHochberg(pv, 0.05)
	for _, sig := range got {
		assert.True(t, sig)
	}
}

func TestBenjaminiHochbergNoneSignificantWhenEveryPValueLarge(t *testing.T) {
	pv := []float64{0.9, 0.95, 0.99}
	got := benjaminiHochberg(pv, 0.05)
	for _, sig := range got {
		assert.False(t, sig)
	}
}

func TestBenjaminiHochbergEmptyInput(t *testing.T) {
	assert.Empty(t, benjaminiHochberg(nil, 0.05))
}

func TestBlastRadiusGateBlocksOversizedCandidate(t *testing.T) {
	caps := policyconfig.BlastRadius{MaxMemoryMB: 100, MaxCPUPct: 50}
	big := rec(1, 2, "hog")
	big.MemoryMB = 500
	gate := blastRadiusGate(big, caps)

	assert.True(t, gate(decision.Keep))
	assert.False(t, gate(decision.Kill))
}

func TestBlastRadiusGateAllowsWithinCaps(t *testing.T) {
	caps := policyconfig.BlastRadius{MaxMemoryMB: 4096, MaxCPUPct: 50}
	small := rec(1, 2, "light")
	small.MemoryMB = 50
	small.CPUPercent = 5
	gate := blastRadiusGate(small, caps)
	assert.True(t, gate(decision.Kill))
}

func TestFDRGateNeverBlocksConservativeActions(t *testing.T) {
	gate := fdrGate(false)
	assert.True(t, gate(decision.Keep))
	assert.True(t, gate(decision.Renice))
	assert.True(t, gate(decision.Pause))
	assert.True(t, gate(decision.Throttle))
	assert.False(t, gate(decision.Kill))
}

func TestAlphaWealthGateAllowsEverythingWhenLedgerNil(t *testing.T) {
	gate := alphaWealthGate(nil)
	assert.True(t, gate(decision.Kill))
}

func TestRunKeepsEveryCandidateWhenLossMatrixFavorsKeep(t *testing.T) {
	filter := noopFilter(t)
	records := []Record{
		rec(100, 1, "orphaned-worker"),
		rec(200, 1, "abandoned-daemon"),
	}

	opts := Options{
		Priors:     priorsconfig.Defaults(),
		Policy:     policyconfig.Defaults(),
		LossMatrix: allKeepLossMatrix(),
		Now:        time.Unix(1_700_000_000, 0).UTC(),
	}

	result, err := Run(context.Background(), filter, records, opts)
	require.NoError(t, err)

	require.Len(t, result.Plans, 2)
	for _, p := range result.Plans {
		assert.Equal(t, decision.Keep, p.Decision.Action)
	}
	// Keep never invokes the executor, so a nil Executor must not panic.
	assert.Empty(t, result.Executions)
}

func TestRunAppliesProtectedFilterBeforeInference(t *testing.T) {
	filter, err := protectedfilter.New([]int{999}, nil, nil, nil)
	require.NoError(t, err)

	records := []Record{
		rec(999, 1, "init-child"),
		rec(100, 1, "regular-worker"),
	}

	opts := Options{
		Priors:     priorsconfig.Defaults(),
		Policy:     policyconfig.Defaults(),
		LossMatrix: allKeepLossMatrix(),
		Now:        time.Now(),
	}

	result, err := Run(context.Background(), filter, records, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilterResult.TotalAfter)
	require.Len(t, result.Inferences, 1)
	assert.Equal(t, 100, result.Inferences[0].Record.PID)
}

func TestToInventoryArtifactCountsMatchFilterResult(t *testing.T) {
	filter, err := protectedfilter.New([]int{999}, nil, nil, nil)
	require.NoError(t, err)
	records := []Record{rec(999, 1, "protected"), rec(100, 1, "kept")}
	filterResult := filter.Apply([]protectedfilter.Candidate{records[0].Candidate, records[1].Candidate})

	artifact := ToInventoryArtifact(records, filterResult)
	assert.Equal(t, 2, artifact.TotalSystemProcesses)
	assert.Equal(t, 1, artifact.ProtectedFiltered)
	assert.Equal(t, 1, artifact.RecordCount)
	require.Len(t, artifact.Records, 1)
	assert.Equal(t, int32(100), artifact.Records[0].PID)
}

func TestToPlanArtifactTalliesActionBuckets(t *testing.T) {
	plans := []PlannedAction{
		{Inference: Inference{Record: rec(1, 1, "a")}, Decision: decision.MyopicResult{Action: decision.Keep}},
		{Inference: Inference{Record: rec(2, 1, "b")}, Decision: decision.MyopicResult{Action: decision.Kill}},
		{Inference: Inference{Record: rec(3, 1, "c")}, Decision: decision.MyopicResult{Action: decision.Renice}},
	}
	artifact := ToPlanArtifact(plans)
	assert.Equal(t, 3, artifact.ActionCount)
	assert.Equal(t, 1, artifact.KillCount)
	assert.Equal(t, 1, artifact.SpareCount)
	assert.Equal(t, 1, artifact.ReviewCount)
}
