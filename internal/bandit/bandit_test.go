package bandit_test

import (
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/bandit"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"go.uber.org/zap"
)

func TestSelectDeterministicTieBreak(t *testing.T) {
	s := bandit.NewState(3, 1.0, 0.0, 42) // Nu=0 removes the stochastic draw
	arm, regularized, err := s.Select([]float64{0, 0, 0})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if regularized {
		t.Fatalf("expected no regularization on a fresh identity-initialized state")
	}
	if arm != types.ArmEarningsPre {
		t.Fatalf("expected deterministic tie-break to pick the first arm alphabetically, got %s", arm)
	}
}

func TestUpdateBiasesSelection(t *testing.T) {
	s := bandit.NewState(2, 1.0, 0.0, 7)
	x := []float64{1, 0}

	for i := 0; i < 50; i++ {
		if err := s.Update(types.ArmReactive, x, 1.0); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	arm, _, err := s.Select(x)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if arm != types.ArmReactive {
		t.Fatalf("expected biased arm REACTIVE to win after repeated positive reward, got %s", arm)
	}
}

func TestUpdateClampsOutOfRangeReward(t *testing.T) {
	s := bandit.NewState(2, 1.0, 1.0, 1)
	if err := s.Update(types.ArmSkip, []float64{1, 1}, 5.0); err != nil {
		t.Fatalf("update: %v", err)
	}
	stats := s.Stats()
	for _, st := range stats {
		if st.Arm != types.ArmSkip {
			continue
		}
		for _, m := range st.Mean {
			if m > 1.5 {
				t.Fatalf("expected reward to be clamped to 1.0 before accumulation, posterior mean looks unclamped: %v", st.Mean)
			}
		}
	}
}

func TestContextDimensionMismatchErrors(t *testing.T) {
	s := bandit.NewState(3, 1.0, 1.0, 1)
	if _, _, err := s.Select([]float64{1, 2}); err == nil {
		t.Fatal("expected an error for mismatched context length")
	}
	if err := s.Update(types.ArmSkip, []float64{1, 2}, 0.1); err == nil {
		t.Fatal("expected an error for mismatched context length on update")
	}
}

func TestRegistrySnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := types.BanditConfig{ContextDim: 2, Lambda: 1.0, ExplorationNu: 1.0, SnapshotDir: dir, RandomSeed: 3}
	r1 := bandit.NewRegistry(zap.NewNop(), cfg)

	s1, err := r1.Get(2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s1.Update(types.ArmNewsSpike, []float64{0.5, 0.2}, 0.7); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	if err := r1.Snapshot(2); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	before := s1.Stats()

	r2 := bandit.NewRegistry(zap.NewNop(), cfg)
	s2, err := r2.Get(2)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	after := s2.Stats()

	if len(before) != len(after) {
		t.Fatalf("arm count mismatch after reload: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Arm != after[i].Arm {
			t.Fatalf("arm order mismatch: %s vs %s", before[i].Arm, after[i].Arm)
		}
		for j := range before[i].Mean {
			if before[i].Mean[j] != after[i].Mean[j] {
				t.Fatalf("posterior mean mismatch for %s[%d]: %v vs %v", before[i].Arm, j, before[i].Mean[j], after[i].Mean[j])
			}
		}
	}
}

func TestDimensionMismatchStartsFresh(t *testing.T) {
	dir := t.TempDir()
	cfg2 := types.BanditConfig{ContextDim: 2, Lambda: 1.0, ExplorationNu: 1.0, SnapshotDir: dir, RandomSeed: 1}
	r := bandit.NewRegistry(zap.NewNop(), cfg2)
	s, _ := r.Get(2)
	_ = s.Update(types.ArmSkip, []float64{1, 1}, 1.0)
	_ = r.Snapshot(2)

	cfg3 := cfg2
	cfg3.ContextDim = 3
	r3 := bandit.NewRegistry(zap.NewNop(), cfg3)
	s3, err := r3.Get(3)
	if err != nil {
		t.Fatalf("get dim 3: %v", err)
	}
	if s3.D != 3 {
		t.Fatalf("expected a fresh dimension-3 state, got D=%d", s3.D)
	}
}
