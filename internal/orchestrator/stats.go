package orchestrator

import (
	"context"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/storage"
)

// BanditStatsResponse is spec.md §7's `/bandit/stats` contract.
type BanditStatsResponse struct {
	Total int64                  `json:"total"`
	Arms  []storage.ArmAggregate `json:"arm_stats"`
}

// BanditStats implements spec.md §4.5's `bandit.stats`.
func (o *Orchestrator) BanditStats(ctx context.Context) (BanditStatsResponse, error) {
	if o.rewards == nil {
		return BanditStatsResponse{}, errs.New(errs.Internal, "no storage backend configured")
	}

	total, arms, err := o.rewards.BanditStats(ctx)
	if err != nil {
		return BanditStatsResponse{}, errs.Wrap(errs.Internal, "bandit stats query failed", err)
	}
	return BanditStatsResponse{Total: total, Arms: arms}, nil
}

// BanditLogs implements spec.md §4.5's `bandit.logs(limit)`.
func (o *Orchestrator) BanditLogs(ctx context.Context, limit int) ([]storage.BanditLogRow, error) {
	if o.rewards == nil {
		return nil, errs.New(errs.Internal, "no storage backend configured")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := o.rewards.BanditLogs(ctx, limit)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "bandit logs query failed", err)
	}
	return rows, nil
}
