// Package bandit implements the contextual linear Thompson Sampling
// bandit: per-context-dimension state, select/update, and atomic
// snapshotting. See SPEC_FULL.md §4.2.
package bandit

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// armState holds one arm's precision accumulator A (D x D) and reward
// accumulator b (D), per spec.md §4.2.
type armState struct {
	A [][]float64
	b []float64
}

func newArmState(d int, lambda float64) *armState {
	return &armState{A: newIdentity(d, lambda), b: make([]float64, d)}
}

// State is the bandit instance for a single context dimension D. Access is
// serialized by mu: select and update are both guarded so that a
// concurrent select never observes a torn A/b pair mid-update (see
// SPEC_FULL.md §5's per-D mutex requirement).
type State struct {
	D     int
	Lambda float64
	Nu     float64

	mu   sync.Mutex
	arms map[types.Arm]*armState
	// order preserves deterministic arm iteration (tie-break by arm
	// index) independent of Go's randomized map iteration.
	order []types.Arm
	rng   *rand.Rand

	updatesSinceSnapshot int
}

// NewState constructs a fresh bandit state for dimension d, seeding the
// default arm set.
func NewState(d int, lambda, nu float64, seed int64) *State {
	s := &State{
		D:      d,
		Lambda: lambda,
		Nu:     nu,
		arms:   make(map[types.Arm]*armState),
		rng:    rand.New(rand.NewSource(seed)),
	}
	for _, arm := range types.DefaultArms {
		s.ensureArmLocked(arm)
	}
	return s
}

// EnsureArm adds arm to the state (initialized to lambda*I, 0) if it is
// not already present, without touching any existing arm's accumulators.
// Per spec.md §4.2: "the bandit must cope with addition of a new arm...
// without touching existing arms."
func (s *State) EnsureArm(arm types.Arm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureArmLocked(arm)
}

func (s *State) ensureArmLocked(arm types.Arm) {
	if _, ok := s.arms[arm]; ok {
		return
	}
	s.arms[arm] = newArmState(s.D, s.Lambda)
	s.order = append(s.order, arm)
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
}

// Select draws theta_k ~ Normal(mu_k, Sigma_k) for every arm, scores
// x . theta_k, and returns the arm with the highest score, breaking ties
// by the deterministic arm index (alphabetical, via s.order). It reports
// whether any arm's Cholesky factorization needed epsilon regularization,
// for telemetry.
func (s *State) Select(x []float64) (types.Arm, bool, error) {
	if len(x) != s.D {
		return "", false, fmt.Errorf("bandit: context length %d does not match dimension %d", len(x), s.D)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		bestArm   types.Arm
		bestScore = math.Inf(-1)
		anyRegularized bool
		found     bool
	)

	for _, arm := range s.order {
		st := s.arms[arm]
		l, regularized, err := cholesky(st.A)
		if err != nil {
			return "", false, fmt.Errorf("bandit: cholesky failed for arm %s: %w", arm, err)
		}
		if regularized {
			anyRegularized = true
		}

		mu := solveSPD(l, st.b)
		z := make([]float64, s.D)
		for i := range z {
			z[i] = s.rng.NormFloat64()
		}
		y := solveUpperTranspose(l, z)

		theta := make([]float64, s.D)
		for i := range theta {
			theta[i] = mu[i] + s.Nu*y[i]
		}

		score := dot(theta, x)
		if !found || score > bestScore {
			bestScore = score
			bestArm = arm
			found = true
		}
	}

	if !found {
		return "", false, fmt.Errorf("bandit: no arms registered for dimension %d", s.D)
	}
	return bestArm, anyRegularized, nil
}

// Update applies a single (x, arm, reward) observation: A_arm += x x^T,
// b_arm += r * x. Reward is defensively re-clipped to [-1,1] even though
// the API boundary already rejects out-of-range rewards with 422 (see
// DESIGN.md's Open Question 2 resolution), so an in-process caller that
// bypasses the HTTP boundary cannot corrupt the accumulators.
func (s *State) Update(arm types.Arm, x []float64, reward float64) error {
	if len(x) != s.D {
		return fmt.Errorf("bandit: context length %d does not match dimension %d", len(x), s.D)
	}
	reward = clampReward(reward)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureArmLocked(arm)
	st := s.arms[arm]

	addOuterProduct(st.A, x)
	symmetrize(st.A)
	addScaled(st.b, x, reward)

	s.updatesSinceSnapshot++
	return nil
}

func clampReward(r float64) float64 {
	if r < -1 {
		return -1
	}
	if r > 1 {
		return 1
	}
	return r
}

// PendingUpdates reports how many updates have been applied since the
// last snapshot coalescing checkpoint, without resetting the counter.
func (s *State) PendingUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatesSinceSnapshot
}

// ResetPendingUpdates zeroes the snapshot-coalescing counter; called once
// a snapshot write for this state has actually been performed.
func (s *State) ResetPendingUpdates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatesSinceSnapshot = 0
}

// snapshotCopy returns a deep copy of the arm accumulators for a
// point-in-time snapshot write performed outside the state's lock, per
// SPEC_FULL.md §5 ("Snapshot writes happen outside the lock on a copied
// buffer").
func (s *State) snapshotCopy() map[types.Arm]*armState {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(map[types.Arm]*armState, len(s.arms))
	for arm, st := range s.arms {
		cp[arm] = &armState{A: cloneMatrix(st.A), b: append([]float64(nil), st.b...)}
	}
	return cp
}

// ArmStats summarizes one arm's posterior mean for bandit.stats.
type ArmStats struct {
	Arm  types.Arm `json:"arm_name"`
	Mean []float64 `json:"posterior_mean"`
}

// Stats returns the posterior mean for every arm, in deterministic order.
func (s *State) Stats() []ArmStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ArmStats, 0, len(s.order))
	for _, arm := range s.order {
		st := s.arms[arm]
		l, _, err := cholesky(st.A)
		if err != nil {
			out = append(out, ArmStats{Arm: arm})
			continue
		}
		out = append(out, ArmStats{Arm: arm, Mean: solveSPD(l, st.b)})
	}
	return out
}
