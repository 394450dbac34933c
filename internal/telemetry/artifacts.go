package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/llmadvisor"
	"github.com/atlas-desktop/trading-backend/internal/workers"
)

// ArtifactStore implements llmadvisor.ArtifactWriter by writing one JSON
// file per propose attempt under dir, dispatched onto a small bounded
// worker pool (internal/workers.Pool) rather than an unbounded
// go func(){ ... }() per request, so a burst of LLM failures can't spawn
// unbounded goroutines doing disk I/O — see SPEC_FULL.md's supplemented
// "worker-pool-bounded artifact writes" feature.
type ArtifactStore struct {
	dir    string
	logger *zap.Logger
	pool   *workers.Pool
}

// NewArtifactStore creates an ArtifactStore writing under dir and starts
// its backing worker pool. Call Close to stop it.
func NewArtifactStore(logger *zap.Logger, dir string) *ArtifactStore {
	cfg := workers.DefaultPoolConfig("artifact-writer")
	cfg.NumWorkers = 2
	cfg.QueueSize = 1000

	pool := workers.NewPool(logger, cfg)
	pool.Start()

	return &ArtifactStore{dir: dir, logger: logger, pool: pool}
}

// Close stops the backing worker pool. Queued artifacts that no worker has
// picked up yet are dropped, and a write already running is not waited for.
func (s *ArtifactStore) Close() error { return s.pool.Stop() }

// WriteArtifact implements llmadvisor.ArtifactWriter.
func (s *ArtifactStore) WriteArtifact(ctx context.Context, decisionID string, artifact llmadvisor.Artifact) {
	err := s.pool.SubmitFunc(func() error {
		return s.write(decisionID, artifact)
	})
	if err != nil {
		s.logger.Warn("dropping LLM artifact, worker pool saturated",
			zap.String("decision_id", decisionID),
			zap.Error(err),
		)
	}
}

func (s *ArtifactStore) write(decisionID string, artifact llmadvisor.Artifact) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	name := fmt.Sprintf("%s-%d-%d.json", decisionID, artifact.Attempt, artifact.Timestamp.UnixNano())
	path := filepath.Join(s.dir, name)

	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write artifact temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename artifact file: %w", err)
	}
	return nil
}
