package bandit

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// snapshotVersion is stamped into every snapshot file so a future format
// change can be detected and handled explicitly rather than silently
// misread.
const snapshotVersion = "bandit-snapshot-v1"

// snapshotFile is the on-disk JSON layout for one dimension's bandit
// state, per spec.md §6 ("BanditState snapshot: ... JSON file per D
// containing A and b for each arm plus dim, arms[], version").
type snapshotFile struct {
	Dim     int                         `json:"dim"`
	Version string                      `json:"version"`
	Arms    map[string]armSnapshotEntry `json:"arms"`
}

type armSnapshotEntry struct {
	A [][]float64 `json:"a"`
	B []float64   `json:"b"`
}

func snapshotPath(dir string, d int) string {
	return filepath.Join(dir, fmt.Sprintf("bandit_d%d.json", d))
}

// save writes s's current state to dir atomically: it serializes to a
// temp file in the same directory, then renames over the target path, so
// a reader (or a crash) never observes a partially written snapshot. This
// mirrors the teacher's internal/data/store.go cache-then-disk idiom,
// with the atomic-rename step spec.md requires that store.go itself did
// not have (see DESIGN.md).
func (s *State) save(dir string) error {
	arms := s.snapshotCopy()

	entries := make(map[string]armSnapshotEntry, len(arms))
	for arm, st := range arms {
		entries[string(arm)] = armSnapshotEntry{A: st.A, B: st.b}
	}

	sf := snapshotFile{Dim: s.D, Version: snapshotVersion, Arms: entries}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("bandit: marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bandit: create snapshot dir: %w", err)
	}

	target := snapshotPath(dir, s.D)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("bandit: write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("bandit: rename snapshot into place: %w", err)
	}
	return nil
}

// loadState reads dir's snapshot for dimension d. If the file is absent it
// returns (nil, false, nil); if its recorded dimension mismatches d it
// returns (nil, false, err), which Registry.Get logs before starting fresh
// for that D, per spec.md §4.2 ("If snapshot dimension mismatches D, log
// and start fresh for that D").
func loadState(dir string, d int, lambda, nu float64, seed int64) (*State, bool, error) {
	path := snapshotPath(dir, d)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("bandit: read snapshot: %w", err)
	}

	var sf snapshotFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, false, fmt.Errorf("bandit: unmarshal snapshot: %w", err)
	}
	if sf.Dim != d {
		return nil, false, fmt.Errorf("bandit: snapshot dimension %d does not match %d", sf.Dim, d)
	}

	s := &State{D: d, Lambda: lambda, Nu: nu, arms: make(map[types.Arm]*armState), rng: rand.New(rand.NewSource(seed))}
	for name, entry := range sf.Arms {
		arm := types.Arm(name)
		s.arms[arm] = &armState{A: entry.A, b: entry.B}
		s.order = append(s.order, arm)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	for _, arm := range types.DefaultArms {
		s.ensureArmLocked(arm)
	}
	return s, true, nil
}
