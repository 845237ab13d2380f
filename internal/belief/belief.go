// Package belief implements the four-class BeliefState and its POMDP-style
// predict/update step. The mutex-protected state wrapper follows the
// teacher's escalation state-machine pattern, generalized from a scalar
// severity to a four-vector log-domain distribution.
package belief

import (
	"encoding/json"
	"math"
	"sync"

	"github.com/processtriage/pt/internal/mathkernel"
	"github.com/processtriage/pt/internal/pterrors"
)

// Class is one of the four process lifecycle classes.
type Class int

const (
	Useful Class = iota
	UsefulBad
	Abandoned
	Zombie
	numClasses = 4
)

func (c Class) String() string {
	switch c {
	case Useful:
		return "Useful"
	case UsefulBad:
		return "UsefulBad"
	case Abandoned:
		return "Abandoned"
	case Zombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// State is an immutable four-class discrete probability distribution,
// stored in both linear and log domain. Every public constructor
// normalizes, guaranteeing the invariants spec §3 requires: linear
// probabilities sum to 1 within 1e-6, every log-prob is finite or -Inf (and
// -Inf corresponds exactly to a linear 0), and entropy is in [0, ln4].
type State struct {
	linear [numClasses]float64
	log    [numClasses]float64
}

// jsonState is the wire representation used for round-trip serialization.
type jsonState struct {
	Useful    float64 `json:"useful"`
	UsefulBad float64 `json:"useful_bad"`
	Abandoned float64 `json:"abandoned"`
	Zombie    float64 `json:"zombie"`
}

// Uniform returns the maximum-entropy belief state (0.25 each class).
func Uniform() State {
	s, _ := FromLinear([4]float64{0.25, 0.25, 0.25, 0.25})
	return s
}

// FromLinear builds and normalizes a State from linear-domain probabilities.
// Negative inputs are rejected.
func FromLinear(p [4]float64) (State, error) {
	sum := 0.0
	for _, v := range p {
		if v < 0 || math.IsNaN(v) {
			return State{}, pterrors.Inference(30, "belief probabilities must be non-negative")
		}
		sum += v
	}
	if sum <= 0 {
		return State{}, pterrors.Inference(31, "belief probabilities must sum to a positive value")
	}
	var s State
	for i, v := range p {
		lin := v / sum
		s.linear[i] = lin
		if lin <= 0 {
			s.log[i] = math.Inf(-1)
		} else {
			s.log[i] = math.Log(lin)
		}
	}
	return s, nil
}

// FromLog builds a State from unnormalized log-domain scores, normalizing
// via log-sum-exp.
func FromLog(logScores [4]float64) State {
	lse := mathkernel.LogSumExp(logScores[:])
	var s State
	for i, l := range logScores {
		if math.IsInf(lse, -1) {
			s.log[i] = math.Inf(-1)
			s.linear[i] = 0
			continue
		}
		s.log[i] = l - lse
		s.linear[i] = math.Exp(s.log[i])
	}
	return s
}

// Prob returns the linear-domain probability of class c.
func (s State) Prob(c Class) float64 { return s.linear[c] }

// LogProb returns the log-domain probability of class c (finite or -Inf).
func (s State) LogProb(c Class) float64 { return s.log[c] }

// Vector returns a copy of the linear-domain probability vector.
func (s State) Vector() [4]float64 { return s.linear }

// Entropy returns the Shannon entropy of the distribution in nats, always
// in [0, ln4].
func (s State) Entropy() float64 {
	return mathkernel.Entropy(s.linear[:])
}

// MAP returns the most probable class and its probability.
func (s State) MAP() (Class, float64) {
	best := Useful
	bestP := s.linear[Useful]
	for c := UsefulBad; c <= Zombie; c++ {
		if s.linear[c] > bestP {
			best = c
			bestP = s.linear[c]
		}
	}
	return best, bestP
}

// Validate re-checks the invariants a State should always satisfy; useful
// after deserialization from an untrusted source.
func (s State) Validate() error {
	sum := 0.0
	for i := 0; i < numClasses; i++ {
		if s.linear[i] < 0 || s.linear[i] > 1 {
			return pterrors.Inference(32, "belief probability out of [0,1]")
		}
		if s.linear[i] == 0 && !math.IsInf(s.log[i], -1) {
			return pterrors.Inference(33, "zero linear probability must have -Inf log probability")
		}
		sum += s.linear[i]
	}
	if math.Abs(sum-1) > 1e-6 {
		return pterrors.Inference(34, "belief probabilities must sum to 1 within 1e-6")
	}
	h := s.Entropy()
	if h < -1e-9 || h > math.Log(4)+1e-9 {
		return pterrors.Inference(35, "belief entropy out of [0, ln4]")
	}
	return nil
}

// MarshalJSON implements the round-trip wire format.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonState{
		Useful:    s.linear[Useful],
		UsefulBad: s.linear[UsefulBad],
		Abandoned: s.linear[Abandoned],
		Zombie:    s.linear[Zombie],
	})
}

// UnmarshalJSON implements the round-trip wire format, renormalizing to
// guard against any drift introduced by JSON's float round-tripping.
func (s *State) UnmarshalJSON(data []byte) error {
	var js jsonState
	if err := json.Unmarshal(data, &js); err != nil {
		return err
	}
	norm, err := FromLinear([4]float64{js.Useful, js.UsefulBad, js.Abandoned, js.Zombie})
	if err != nil {
		return err
	}
	*s = norm
	return nil
}

// TransitionMatrix is a 4x4 row-stochastic matrix T[i][j] = P(state j at
// t+1 | state i at t). The identity matrix (no transition) is the default.
type TransitionMatrix [numClasses][numClasses]float64

// Identity returns the identity transition matrix (no state drift assumed).
func Identity() TransitionMatrix {
	var t TransitionMatrix
	for i := 0; i < numClasses; i++ {
		t[i][i] = 1
	}
	return t
}

// UpdateResult carries the outcome of a single POMDP belief step.
type UpdateResult struct {
	Posterior      State
	LogEvidence    float64
	EntropyChange  float64
	MAPState       Class
	MAPConfidence  float64
}

// UpdateOptions configures the optional Dirichlet smoothing pass.
type UpdateOptions struct {
	Transition      TransitionMatrix
	DirichletAlpha  float64 // 0 disables smoothing
	MinProb         float64 // floor applied after smoothing, then renormalized
}

// DefaultOptions returns identity transition, no smoothing.
func DefaultOptions() UpdateOptions {
	return UpdateOptions{Transition: Identity()}
}

// Update performs the predict/update POMDP step: predict via the transition
// matrix, then update by adding class-wise log-likelihoods and normalizing
// via log-sum-exp, with optional Dirichlet smoothing and a probability
// floor.
func Update(prior State, logLikelihoods [4]float64, opts UpdateOptions) UpdateResult {
	// Predict: bhat(j) = sum_i T[i][j] * b(i), in linear domain since T may
	// mix probability mass across classes that have -Inf log prior.
	var predicted [4]float64
	for j := 0; j < numClasses; j++ {
		sum := 0.0
		for i := 0; i < numClasses; i++ {
			sum += opts.Transition[i][j] * prior.linear[i]
		}
		predicted[j] = sum
	}

	var combinedLog [4]float64
	for j := 0; j < numClasses; j++ {
		predLog := math.Inf(-1)
		if predicted[j] > 0 {
			predLog = math.Log(predicted[j])
		}
		combinedLog[j] = predLog + logLikelihoods[j]
	}

	logEvidence := mathkernel.LogSumExp(combinedLog[:])
	posterior := FromLog(combinedLog)

	if opts.DirichletAlpha > 0 {
		posterior = smoothDirichlet(posterior, opts.DirichletAlpha)
	}
	if opts.MinProb > 0 {
		posterior = floorAndRenormalize(posterior, opts.MinProb)
	}

	mapState, mapConf := posterior.MAP()
	return UpdateResult{
		Posterior:     posterior,
		LogEvidence:   logEvidence,
		EntropyChange: posterior.Entropy() - prior.Entropy(),
		MAPState:      mapState,
		MAPConfidence: mapConf,
	}
}

func smoothDirichlet(s State, alpha float64) State {
	var p [4]float64
	for i := 0; i < numClasses; i++ {
		p[i] = (s.linear[i]*float64(numClasses) + alpha) / (float64(numClasses) + alpha*float64(numClasses))
	}
	out, err := FromLinear(p)
	if err != nil {
		return s
	}
	return out
}

func floorAndRenormalize(s State, minProb float64) State {
	var p [4]float64
	for i := 0; i < numClasses; i++ {
		p[i] = math.Max(s.linear[i], minProb)
	}
	out, err := FromLinear(p)
	if err != nil {
		return s
	}
	return out
}

// Tracker holds a mutex-protected belief state for a single candidate across
// a pipeline run, mirroring the teacher's mutex-guarded escalation state.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// NewTracker seeds a Tracker with the given initial belief.
func NewTracker(initial State) *Tracker {
	return &Tracker{state: initial}
}

// Current returns a snapshot of the current belief state.
func (t *Tracker) Current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Apply performs an Update against the tracker's current state and stores
// the posterior, returning the full UpdateResult.
func (t *Tracker) Apply(logLikelihoods [4]float64, opts UpdateOptions) UpdateResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := Update(t.state, logLikelihoods, opts)
	t.state = res.Posterior
	return res
}
