package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/llmadvisor"
)

func TestRecordOutcomeIncrementsCounter(t *testing.T) {
	m := New()
	m.RecordOutcome(OutcomeParseOK)
	m.RecordOutcome(OutcomeFallbackUsed)

	got := testutil.ToFloat64(m.proposeOutcomes.WithLabelValues(string(OutcomeFallbackUsed)))
	if got != 1 {
		t.Fatalf("expected fallback_used counter 1, got %v", got)
	}
}

func TestFallbackRateReflectsRecentAttempts(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.RecordOutcome(OutcomeParseOK)
	}
	for i := 0; i < 5; i++ {
		m.RecordOutcome(OutcomeFallbackUsed)
	}

	rate := m.FallbackRate()
	if rate < 0.33 || rate > 0.34 {
		t.Fatalf("expected rate ~1/3, got %v", rate)
	}
}

func TestCalibrationPerfectPredictionsYieldLowECE(t *testing.T) {
	m := New()
	for i := 0; i < 100; i++ {
		m.RecordDecision(0.9, true)
	}
	for i := 0; i < 100; i++ {
		m.RecordDecision(0.1, false)
	}

	snap := m.CalibrationSnapshot()
	if snap.Samples != 200 {
		t.Fatalf("expected 200 samples, got %d", snap.Samples)
	}
	if snap.ECE > 0.15 {
		t.Fatalf("expected low ECE for well-calibrated confidences, got %v", snap.ECE)
	}
}

func TestCalibrationOverconfidentPredictionsYieldHighECE(t *testing.T) {
	m := New()
	for i := 0; i < 100; i++ {
		m.RecordDecision(0.95, false)
	}

	snap := m.CalibrationSnapshot()
	if snap.ECE < 0.5 {
		t.Fatalf("expected high ECE for consistently wrong high-confidence calls, got %v", snap.ECE)
	}
	if snap.Brier < 0.5 {
		t.Fatalf("expected high Brier score, got %v", snap.Brier)
	}
}

func TestDegradedTrueWhenFallbackRateExceedsSLO(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.RecordOutcome(OutcomeFallbackUsed)
	}
	if !m.Degraded() {
		t.Fatal("expected Degraded() true when fallback_rate is 100%")
	}
}

func TestDegradedFalseWhenNoSamples(t *testing.T) {
	m := New()
	if m.Degraded() {
		t.Fatal("expected Degraded() false with no recorded attempts")
	}
}

func TestRegistryGatherIncludesNamespacedMetrics(t *testing.T) {
	m := New()
	m.RecordBanditUpdate()

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "trading_decision_bandit_updates_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected trading_decision_bandit_updates_total in gathered families")
	}
}

func TestArtifactStoreWritesFileAndCanBeRead(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(zap.NewNop(), dir)
	defer store.Close()

	store.WriteArtifact(context.Background(), "dec-1", llmadvisor.Artifact{
		DecisionID:   "dec-1",
		Attempt:      1,
		SystemPrompt: "sys",
		UserPrompt:   "usr",
		RawResponse:  "{}",
		Fallback:     false,
		Timestamp:    time.Now(),
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected an artifact file to appear in dir within 2s")
}

func TestArtifactStoreCloseStopsPool(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(zap.NewNop(), dir)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestArtifactFileNameIncludesDecisionID(t *testing.T) {
	dir := t.TempDir()
	store := &ArtifactStore{dir: dir, logger: zap.NewNop()}
	if err := store.write("dec-xyz", llmadvisor.Artifact{DecisionID: "dec-xyz", Timestamp: time.Now()}); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one artifact file, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".json" {
		t.Fatalf("expected a .json artifact file, got %s", entries[0].Name())
	}
}
