// Package pipeline wires the staged filter -> infer -> decide -> execute
// flow spec §5 describes: protectedfilter strips processes that must never
// be touched, each surviving candidate is scored independently and in
// parallel by the evidence/belief machinery, decision.RunMyopicPolicy picks
// an action under the full constraint stack, and executor.Execute carries
// it out. Every stage's output is shaped for direct persistence into a
// session.Handle.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/processtriage/pt/internal/alphawealth"
	"github.com/processtriage/pt/internal/belief"
	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/evidence"
	"github.com/processtriage/pt/internal/executor"
	"github.com/processtriage/pt/internal/policyconfig"
	"github.com/processtriage/pt/internal/priorsconfig"
	"github.com/processtriage/pt/internal/protectedfilter"
	"github.com/processtriage/pt/internal/ratelimit"
	"github.com/processtriage/pt/internal/session"
	"github.com/processtriage/pt/internal/supervision"
)

// Options bundles every dependency a Run needs. RateLimiter, AlphaWealth,
// and Learner are optional (nil skips that gate/recording step); a nil
// Executor makes the run a dry-run that plans but executes nothing.
type Options struct {
	Priors      priorsconfig.Config
	Policy      policyconfig.Config
	LossMatrix  decision.LossMatrix
	Executor    *executor.Executor
	RateLimiter *ratelimit.Limiter
	AlphaWealth *alphawealth.Ledger
	Learner     *supervision.Learner
	Now         time.Time
}

// Inference is one candidate's fused evidence and resulting belief update.
type Inference struct {
	Record Record
	Ledger evidence.Ledger
	Update belief.UpdateResult
}

// PlannedAction is one candidate's chosen action from the constraint stack,
// paired back with its inference for reporting.
type PlannedAction struct {
	Inference Inference
	Decision  decision.MyopicResult
}

// Executed pairs a planned action with the executor's outcome.
type Executed struct {
	Plan    PlannedAction
	Outcome executor.Outcome
}

// Result is the full output of one pipeline run, already shaped for
// session.Handle.Write{Inventory,Inference,Plan}.
type Result struct {
	FilterResult protectedfilter.Result
	Inferences   []Inference
	Plans        []PlannedAction
	Executions   []Executed
}

// Run filters records, infers a belief state for each survivor in
// parallel, decides an action for each under the constraint stack, and
// executes the plan in candidate order (gates that share mutable state -
// rate limit, alpha wealth, robot-mode's per-run action cap - must
// serialize, so only inference is fanned out).
func Run(ctx context.Context, filter *protectedfilter.Filter, records []Record, opts Options) (*Result, error) {
	candidates := make([]protectedfilter.Candidate, len(records))
	for i, r := range records {
		candidates[i] = r.Candidate
	}
	filterResult := filter.Apply(candidates)

	passed := make([]Record, 0, len(filterResult.Passed))
	byPID := make(map[int]Record, len(records))
	for _, r := range records {
		byPID[r.PID] = r
	}
	for _, c := range filterResult.Passed {
		passed = append(passed, byPID[c.PID])
	}

	inferences, err := inferAll(ctx, passed, opts.Priors)
	if err != nil {
		return nil, err
	}

	plans := decideAll(inferences, opts)

	executions := make([]Executed, 0, len(plans))
	actionsThisRun := 0
	for _, p := range plans {
		if p.Decision.Action == decision.Keep {
			continue
		}
		// A nil Executor means dry-run: the plan is computed but nothing is
		// carried out.
		if opts.Executor == nil {
			continue
		}
		if opts.Policy.RobotMode.Enabled && actionsThisRun >= opts.Policy.RobotMode.MaxActionsPerRun {
			continue
		}
		outcome := opts.Executor.Execute(ctx, executor.PlanAction{
			Target: executor.Target{
				PID:     p.Inference.Record.PID,
				StartId: p.Inference.Record.StartID,
			},
			Action:       p.Decision.Action,
			ExpectedLoss: p.Decision.ExpectedLoss,
			Rationale:    rationale(p),
		})
		actionsThisRun++
		executions = append(executions, Executed{Plan: p, Outcome: outcome})

		if opts.Learner != nil {
			if _, err := opts.Learner.RecordDecision(p.Inference.Record.Comm, p.Inference.Record.Cmd, p.Decision.Action == decision.Kill); err != nil {
				// Learning is best-effort; a failed pattern write must never
				// block the run that already executed the action.
				continue
			}
		}
	}

	return &Result{
		FilterResult: filterResult,
		Inferences:   inferences,
		Plans:        plans,
		Executions:   executions,
	}, nil
}

func rationale(p PlannedAction) string {
	class, conf := p.Inference.Update.Posterior.MAP()
	base := fmt.Sprintf("MAP class %s at %.2f confidence, expected loss %.3f", class, conf, p.Decision.ExpectedLoss)
	if p.Decision.ConstraintOverride != nil {
		return fmt.Sprintf("%s; %s blocked by %v", base, p.Decision.ConstraintOverride.UnconstrainedOptimum, p.Decision.ConstraintOverride.BlockedBy)
	}
	return base
}

// inferAll fans inference out across candidates with bounded parallelism;
// one candidate's extraction failure does not fail the batch, since
// pterrors.Inference is documented as always locally recoverable.
func inferAll(ctx context.Context, records []Record, priors priorsconfig.Config) ([]Inference, error) {
	results := make([]Inference, len(records))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			ledger := extractEvidence(rec, priors)
			fused := ledger.Fuse()
			update := belief.Update(belief.Uniform(), fused, belief.DefaultOptions())
			results[i] = Inference{Record: rec, Ledger: ledger, Update: update}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// extractEvidence builds one evidence.Term per configured Bernoulli
// feature, scoring the binary observation against each class's Beta
// prior mean as that class's implied Bernoulli rate.
func extractEvidence(rec Record, priors priorsconfig.Config) evidence.Ledger {
	observed := map[string]bool{
		"orphan":     rec.PPID == 1,
		"tty_lost":   !rec.TTYAttached,
		"io_active":  rec.IOActive,
		"net_active": rec.NetActive,
	}

	var ledger evidence.Ledger
	for _, feature := range priorsconfig.BernoulliFeatures {
		var logLikelihoods [4]float64
		for c := belief.Useful; c <= belief.Zombie; c++ {
			rate := priors.BernoulliPrior(feature, c).Mean()
			p := rate
			if !observed[feature] {
				p = 1 - rate
			}
			p = math.Max(p, 1e-9)
			logLikelihoods[c] = math.Log(p)
		}
		ledger.Add(evidence.NewTerm(feature, evidence.KindBernoulli, logLikelihoods,
			fmt.Sprintf("%s observed=%v", feature, observed[feature])))
	}
	return ledger
}

// decideAll runs the myopic policy for every inference in order, since the
// FDR gate needs the whole batch's p-values up front (a Benjamini-Hochberg
// correction is not meaningful per-candidate) while the rate-limit/alpha-
// wealth/robot-mode gates share mutable state across candidates and must
// be evaluated sequentially.
func decideAll(inferences []Inference, opts Options) []PlannedAction {
	significant := benjaminiHochberg(pValues(inferences), opts.Policy.FDRThreshold)

	plans := make([]PlannedAction, 0, len(inferences))
	for i, inf := range inferences {
		gates := decision.OrderedGates(
			opts.Policy.AllowDeny(),
			opts.Policy.RobotModeGate(),
			fdrGate(significant[i]),
			alphaWealthGate(opts.AlphaWealth),
			blastRadiusGate(inf.Record, opts.Policy.BlastRadius),
			rateLimitGate(opts.RateLimiter, opts.Now),
		)
		result, err := decision.RunMyopicPolicy(opts.LossMatrix, inf.Update.Posterior, allFeasible(), gates)
		if err != nil {
			result = decision.MyopicResult{Action: decision.Keep}
		}
		plans = append(plans, PlannedAction{Inference: inf, Decision: result})
	}
	return plans
}

func allFeasible() map[decision.Action]bool {
	feasible := make(map[decision.Action]bool)
	for _, a := range decision.AllActions() {
		feasible[a] = true
	}
	return feasible
}

// pValues converts each candidate's posterior into a false-discovery
// p-value: the posterior mass still on Useful, i.e. how likely this
// candidate is a false positive if actioned as non-useful.
func pValues(inferences []Inference) []float64 {
	out := make([]float64, len(inferences))
	for i, inf := range inferences {
		out[i] = inf.Update.Posterior.Prob(belief.Useful)
	}
	return out
}

// benjaminiHochberg returns, per input index, whether that p-value passes
// the BH step-up procedure at false discovery rate q.
func benjaminiHochberg(pv []float64, q float64) []bool {
	m := len(pv)
	significant := make([]bool, m)
	if m == 0 {
		return significant
	}

	type ranked struct {
		idx int
		p   float64
	}
	sorted := make([]ranked, m)
	for i, p := range pv {
		sorted[i] = ranked{idx: i, p: p}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].p < sorted[j].p })

	cutoff := -1
	for i := m - 1; i >= 0; i-- {
		critical := (float64(i+1) / float64(m)) * q
		if sorted[i].p <= critical {
			cutoff = i
			break
		}
	}
	for i := 0; i <= cutoff; i++ {
		significant[sorted[i].idx] = true
	}
	return significant
}

// fdrGate allows the conservative actions unconditionally, since they
// never need the FDR correction's protection, and gates everything else on
// this candidate's BH significance.
func fdrGate(significant bool) func(decision.Action) bool {
	return func(a decision.Action) bool {
		switch a {
		case decision.Keep, decision.Renice, decision.Pause, decision.Throttle:
			return true
		default:
			return significant
		}
	}
}

// alphaWealthGate allows a non-Keep action only while the ledger can afford
// one unit of alpha-investing wealth; it checks the balance but does not
// spend it, and Run never spends wealth either. A nil ledger means the gate
// is not configured and never blocks.
func alphaWealthGate(ledger *alphawealth.Ledger) func(decision.Action) bool {
	const cost = 1.0
	return func(a decision.Action) bool {
		if ledger == nil || a == decision.Keep {
			return true
		}
		return ledger.CanAfford(cost)
	}
}

// blastRadiusGate blocks any mutating action on a candidate whose observed
// resource footprint already exceeds the configured caps.
func blastRadiusGate(rec Record, caps policyconfig.BlastRadius) func(decision.Action) bool {
	return func(a decision.Action) bool {
		if a == decision.Keep {
			return true
		}
		if caps.MaxMemoryMB > 0 && rec.MemoryMB > caps.MaxMemoryMB {
			return false
		}
		if caps.MaxCPUPct > 0 && rec.CPUPercent > caps.MaxCPUPct {
			return false
		}
		return true
	}
}

// rateLimitGate checks (without recording) the shared limiter once per
// decision; a nil limiter never blocks.
func rateLimitGate(limiter *ratelimit.Limiter, now time.Time) func(decision.Action) bool {
	return func(a decision.Action) bool {
		if limiter == nil || a == decision.Keep {
			return true
		}
		return limiter.Check(now).Allowed
	}
}

// parseUID parses the /proc-sourced UID string, defaulting to 0 (root) for
// processes where it could not be read.
func parseUID(s string) uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// ToInventoryArtifact shapes a filter result and its source records into
// the scan/inventory.json payload.
func ToInventoryArtifact(records []Record, filterResult protectedfilter.Result) session.InventoryArtifact {
	persisted := make([]session.PersistedProcess, 0, len(filterResult.Passed))
	byPID := make(map[int]Record, len(records))
	for _, r := range records {
		byPID[r.PID] = r
	}
	for _, c := range filterResult.Passed {
		r := byPID[c.PID]
		persisted = append(persisted, session.PersistedProcess{
			PID:             int32(r.PID),
			PPID:            int32(r.PPID),
			UID:             parseUID(r.User),
			StartID:         string(r.StartID),
			Comm:            r.Comm,
			Cmd:             r.Cmd,
			State:           r.State,
			StartTimeUnix:   r.StartTimeUnix,
			ElapsedSeconds:  r.ElapsedSeconds,
			IdentityQuality: "verified",
		})
	}
	return session.InventoryArtifact{
		TotalSystemProcesses: filterResult.TotalBefore,
		ProtectedFiltered:    len(filterResult.Filtered),
		RecordCount:          len(persisted),
		Records:              persisted,
	}
}

// ToInferenceArtifact shapes per-candidate inference results into the
// inference/results.json payload. RecommendedAction is the unconstrained
// argmin, reported for operator visibility even when the constraint stack
// later overrides it in the plan artifact.
func ToInferenceArtifact(inferences []Inference, m decision.LossMatrix) session.InferenceArtifact {
	out := make([]session.PersistedInference, 0, len(inferences))
	for _, inf := range inferences {
		vec := inf.Update.Posterior.Vector()
		class, conf := inf.Update.Posterior.MAP()
		recommended, _, err := decision.ArgMin(m, inf.Update.Posterior, allFeasible())
		if err != nil {
			recommended = decision.Keep
		}
		out = append(out, session.PersistedInference{
			PID:                int32(inf.Record.PID),
			StartID:            string(inf.Record.StartID),
			Classification:     class.String(),
			PosteriorUseful:    vec[belief.Useful],
			PosteriorUsefulBad: vec[belief.UsefulBad],
			PosteriorAbandoned: vec[belief.Abandoned],
			PosteriorZombie:    vec[belief.Zombie],
			Confidence:         conf,
			RecommendedAction:  recommended.String(),
			Score:              inf.Update.LogEvidence,
		})
	}
	return session.InferenceArtifact{CandidateCount: len(out), Candidates: out}
}

// ToPlanArtifact shapes the decided plan into the decision/plan.json
// payload, tallying how many candidates land in each action bucket.
func ToPlanArtifact(plans []PlannedAction) session.PlanArtifact {
	out := make([]session.PersistedPlanAction, 0, len(plans))
	var killCount, reviewCount, spareCount int
	for _, p := range plans {
		out = append(out, session.PersistedPlanAction{
			PID:          int32(p.Inference.Record.PID),
			StartID:      string(p.Inference.Record.StartID),
			Action:       p.Decision.Action.String(),
			ExpectedLoss: p.Decision.ExpectedLoss,
			Rationale:    rationale(p),
		})
		switch p.Decision.Action {
		case decision.Kill:
			killCount++
		case decision.Keep:
			spareCount++
		default:
			reviewCount++
		}
	}
	return session.PlanArtifact{
		ActionCount: len(out),
		KillCount:   killCount,
		ReviewCount: reviewCount,
		SpareCount:  spareCount,
		Actions:     out,
	}
}
