// Package goaloptimizer selects a subset of candidates whose combined
// resource contribution meets operator-stated goals (e.g. "free 2 GB
// memory") at minimum total expected loss.
package goaloptimizer

import (
	"math"
	"sort"
)

// Goal is one resource target the optimizer must meet, e.g. memory_mb=300.
type Goal struct {
	Name     string
	Weight   float64
	Target   float64
}

// Candidate is one actionable process: its expected loss if acted upon, and
// its contribution toward each goal by name.
type Candidate struct {
	ID            string
	ExpectedLoss  float64
	Contributions map[string]float64
}

// GoalAchievement reports how well the final selection met a single goal.
type GoalAchievement struct {
	Goal      string
	Target    float64
	Achieved  float64
	Shortfall float64
	Met       bool
}

// Alternative is a labeled variant selection the optimizer also reports.
type Alternative struct {
	Label      string
	Selected   []string
	TotalLoss  float64
}

// Result is the full optimizer output.
type Result struct {
	Selected     []string
	TotalLoss    float64
	Achievements []GoalAchievement
	Conservative Alternative
	Aggressive   Alternative
}

const nearZeroLossSentinel = 1e-6

// score ranks a candidate by sum_g weight_g * contribution_g / expected_loss,
// using a near-zero-loss sentinel so "free lunch" candidates (near-zero
// expected loss) are preferred over high-contribution-but-costly ones.
func score(c Candidate, goals []Goal) float64 {
	loss := c.ExpectedLoss
	if loss < nearZeroLossSentinel {
		loss = nearZeroLossSentinel
	}
	total := 0.0
	for _, g := range goals {
		total += g.Weight * c.Contributions[g.Name]
	}
	return total / loss
}

// Greedy selects candidates in descending score order until every goal's
// target is met or candidates are exhausted.
func Greedy(candidates []Candidate, goals []Goal) Result {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool {
		return score(ordered[i], goals) > score(ordered[j], goals)
	})

	achieved := make(map[string]float64, len(goals))
	var selected []string
	totalLoss := 0.0

	for _, c := range ordered {
		if allMet(achieved, goals) {
			break
		}
		selected = append(selected, c.ID)
		totalLoss += c.ExpectedLoss
		for _, g := range goals {
			achieved[g.Name] += c.Contributions[g.Name]
		}
	}

	return Result{
		Selected:     selected,
		TotalLoss:    totalLoss,
		Achievements: achievements(achieved, goals),
	}
}

func allMet(achieved map[string]float64, goals []Goal) bool {
	for _, g := range goals {
		if achieved[g.Name] < g.Target {
			return false
		}
	}
	return true
}

func achievements(achieved map[string]float64, goals []Goal) []GoalAchievement {
	out := make([]GoalAchievement, 0, len(goals))
	for _, g := range goals {
		a := achieved[g.Name]
		shortfall := g.Target - a
		if shortfall < 0 {
			shortfall = 0
		}
		out = append(out, GoalAchievement{
			Goal:      g.Name,
			Target:    g.Target,
			Achieved:  a,
			Shortfall: shortfall,
			Met:       a >= g.Target,
		})
	}
	return out
}

// maxDPCandidates bounds the exact DP path per spec §4.7: DPExact only
// runs the DP for N<=30 candidates and a single goal.
const maxDPCandidates = 30

// knapsackBuckets discretizes the single-goal axis for the 0-1 knapsack DP.
const knapsackBuckets = 1000

// DPExact solves the single-goal case exactly via 0-1 knapsack DP over a
// discretized goal axis, when len(candidates)<=30 and len(goals)==1;
// otherwise it falls back to Greedy.
func DPExact(candidates []Candidate, goals []Goal) Result {
	if len(candidates) > maxDPCandidates || len(goals) != 1 {
		return Greedy(candidates, goals)
	}
	goal := goals[0]
	if goal.Target <= 0 {
		return Greedy(candidates, goals)
	}

	maxContribution := 0.0
	for _, c := range candidates {
		maxContribution += c.Contributions[goal.Name]
	}
	if maxContribution <= 0 {
		return Greedy(candidates, goals)
	}

	capacity := knapsackBuckets
	scale := float64(capacity) / maxContribution

	weights := make([]int, len(candidates))
	for i, c := range candidates {
		w := int(math.Round(c.Contributions[goal.Name] * scale))
		if w < 0 {
			w = 0
		}
		weights[i] = w
	}

	// dp[w] = minimum total loss to achieve exactly w discretized
	// contribution units (dp[capacity]: at least capacity units), using
	// candidates processed so far.
	const inf = math.MaxFloat64 / 2
	dp := make([]float64, capacity+1)
	choice := make([][]bool, len(candidates))
	for i := range dp {
		dp[i] = inf
	}
	dp[0] = 0

	for i, c := range candidates {
		choice[i] = make([]bool, capacity+1)
		next := make([]float64, capacity+1)
		copy(next, dp)
		for w := capacity; w >= 0; w-- {
			if dp[w] == inf {
				continue
			}
			nw := w + weights[i]
			if nw > capacity {
				nw = capacity
			}
			cand := dp[w] + c.ExpectedLoss
			if cand < next[nw] {
				next[nw] = cand
			}
		}
		for w := 0; w <= capacity; w++ {
			if next[w] < dp[w] {
				choice[i][w] = true
			}
		}
		dp = next
	}

	// Only buckets at or above the discretized target meet the goal.
	targetW := int(math.Ceil(goal.Target * scale))
	if targetW > capacity {
		targetW = capacity
	}
	bestW := capacity
	bestLoss := dp[capacity]
	for w := targetW; w < capacity; w++ {
		if dp[w] < bestLoss {
			bestW, bestLoss = w, dp[w]
		}
	}
	if bestLoss == inf {
		return Greedy(candidates, goals)
	}

	// Reconstruct selection via the choice table (approximate due to
	// discretization collisions is an accepted tradeoff of the DP path).
	selected := make([]string, 0)
	achieved := make(map[string]float64)
	w := bestW
	for i := len(candidates) - 1; i >= 0; i-- {
		if choice[i][w] {
			selected = append(selected, candidates[i].ID)
			achieved[goal.Name] += candidates[i].Contributions[goal.Name]
			w -= weights[i]
			if w < 0 {
				w = 0
			}
		}
	}

	totalLoss := 0.0
	for _, id := range selected {
		for _, c := range candidates {
			if c.ID == id {
				totalLoss += c.ExpectedLoss
				break
			}
		}
	}

	return Result{
		Selected:     selected,
		TotalLoss:    totalLoss,
		Achievements: achievements(achieved, goals),
	}
}

// LocalSearchRefine performs pairwise swaps between selected and unselected
// candidates, accepting a swap only if it strictly reduces total loss while
// keeping every already-met goal met.
func LocalSearchRefine(result Result, candidates []Candidate, goals []Goal) Result {
	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	selectedSet := make(map[string]bool, len(result.Selected))
	for _, id := range result.Selected {
		selectedSet[id] = true
	}

	achieved := make(map[string]float64, len(goals))
	for _, id := range result.Selected {
		for _, g := range goals {
			achieved[g.Name] += byID[id].Contributions[g.Name]
		}
	}

	improved := true
	for improved {
		improved = false
		for _, sel := range result.Selected {
			if !selectedSet[sel] {
				continue
			}
			for _, cand := range candidates {
				if selectedSet[cand.ID] {
					continue
				}
				// Try swapping sel -> cand.
				newLoss := result.TotalLoss - byID[sel].ExpectedLoss + cand.ExpectedLoss
				if newLoss >= result.TotalLoss {
					continue
				}
				newAchieved := make(map[string]float64, len(goals))
				for k, v := range achieved {
					newAchieved[k] = v
				}
				for _, g := range goals {
					newAchieved[g.Name] = newAchieved[g.Name] - byID[sel].Contributions[g.Name] + cand.Contributions[g.Name]
				}
				breaksMetGoal := false
				for _, g := range goals {
					if achieved[g.Name] >= g.Target && newAchieved[g.Name] < g.Target {
						breaksMetGoal = true
						break
					}
				}
				if breaksMetGoal {
					continue
				}
				// Accept swap; sel is no longer selected, so stop trying to
				// swap it out.
				selectedSet[sel] = false
				selectedSet[cand.ID] = true
				achieved = newAchieved
				result.TotalLoss = newLoss
				improved = true
				break
			}
		}
		if improved {
			var reselected []string
			for id, ok := range selectedSet {
				if ok {
					reselected = append(reselected, id)
				}
			}
			sort.Strings(reselected)
			result.Selected = reselected
		}
	}

	result.Achievements = achievements(achieved, goals)
	return result
}

// WithAlternatives attaches a conservative alternative (drop the
// worst-efficiency selected candidate) and an aggressive alternative (add
// one more candidate) to the result.
func WithAlternatives(result Result, candidates []Candidate, goals []Goal) Result {
	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}
	selectedSet := make(map[string]bool, len(result.Selected))
	for _, id := range result.Selected {
		selectedSet[id] = true
	}

	if len(result.Selected) > 0 {
		worstID := result.Selected[0]
		worstScore := math.Inf(1)
		for _, id := range result.Selected {
			s := score(byID[id], goals)
			if s < worstScore {
				worstScore, worstID = s, id
			}
		}
		var cons []string
		consLoss := 0.0
		for _, id := range result.Selected {
			if id == worstID {
				continue
			}
			cons = append(cons, id)
			consLoss += byID[id].ExpectedLoss
		}
		result.Conservative = Alternative{Label: "conservative", Selected: cons, TotalLoss: consLoss}
	}

	var bestExtra Candidate
	bestScore := math.Inf(-1)
	found := false
	for _, c := range candidates {
		if selectedSet[c.ID] {
			continue
		}
		s := score(c, goals)
		if s > bestScore {
			bestScore, bestExtra, found = s, c, true
		}
	}
	if found {
		agg := append(append([]string{}, result.Selected...), bestExtra.ID)
		result.Aggressive = Alternative{Label: "aggressive", Selected: agg, TotalLoss: result.TotalLoss + bestExtra.ExpectedLoss}
	}

	return result
}
