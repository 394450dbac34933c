package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// RewardPayload is spec.md §7's `RewardPayload` contract.
type RewardPayload struct {
	ArmName    types.Arm      `json:"arm_name"`
	Context    []float64      `json:"context"`
	Reward     float64        `json:"reward"`
	DecisionID string         `json:"decision_id"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// RewardResult is spec.md §4.6's `{status}` response: "ok" or
// "duplicate_ignored".
type RewardResult struct {
	Status string `json:"status"`
}

// Reward implements spec.md §4.6's idempotent reward path: conditional
// insert into RewardLog keyed by decision_id first; on conflict return
// duplicate_ignored without touching the bandit; on success apply
// bandit.update then append a BanditLog row. The insert happens before
// the bandit update so a crash between steps leaves RewardLog
// authoritative.
func (o *Orchestrator) Reward(ctx context.Context, payload RewardPayload) (RewardResult, error) {
	if o.rewards == nil {
		return RewardResult{}, errs.New(errs.Internal, "no storage backend configured")
	}
	if payload.DecisionID == "" {
		return RewardResult{}, errs.New(errs.Validation, "decision_id is required")
	}
	if payload.Reward < -1 || payload.Reward > 1 {
		return RewardResult{}, errs.New(errs.Validation, "reward must be within [-1, 1]")
	}
	if len(payload.Context) != o.contextDim {
		return RewardResult{}, errs.New(errs.Validation, "context length does not match bandit dimension")
	}

	log := types.RewardLog{
		DecisionID: payload.DecisionID,
		ArmName:    payload.ArmName,
		Context:    payload.Context,
		Reward:     payload.Reward,
		Timestamp:  time.Now(),
		Meta:       payload.Meta,
	}

	inserted, err := o.rewards.InsertIfAbsent(ctx, log)
	if err != nil {
		return RewardResult{}, errs.Wrap(errs.Internal, "reward insert failed", err)
	}
	if !inserted {
		o.metrics.RecordRewardDuplicate()
		return RewardResult{Status: "duplicate_ignored"}, nil
	}

	state, err := o.bandit.Get(o.contextDim)
	if err != nil {
		return RewardResult{}, errs.Wrap(errs.Internal, "bandit state unavailable", err)
	}
	if err := state.Update(payload.ArmName, payload.Context, payload.Reward); err != nil {
		o.logger.Error("bandit update failed after reward log insert; reconciliation will replay it",
			zap.String("decision_id", payload.DecisionID), zap.Error(err))
		return RewardResult{}, errs.Wrap(errs.Internal, "bandit update failed", err)
	}
	o.metrics.RecordBanditUpdate()
	if confidence, ok := confidenceFromMeta(payload.Meta); ok {
		o.metrics.RecordDecision(confidence, payload.Reward > 0)
	}
	o.bandit.MaybeSnapshot(o.contextDim)

	if err := o.rewards.AppendBanditLog(ctx, payload.DecisionID, o.contextDim, payload.ArmName, payload.Reward); err != nil {
		o.logger.Error("bandit_log append failed; reconciliation will retry",
			zap.String("decision_id", payload.DecisionID), zap.Error(err))
	}

	return RewardResult{Status: "ok"}, nil
}

// confidenceFromMeta extracts the originating plan's confidence from the
// reward's caller-supplied meta, when present, so calibration (spec.md
// §4.8) can compare LLM-reported confidence against realized reward
// polarity. RewardPayload itself carries no confidence field per spec.md
// §7's exact shape, so this is the only place that information can flow
// from propose through to the reward path without a schema change.
func confidenceFromMeta(meta map[string]any) (float64, bool) {
	if meta == nil {
		return 0, false
	}
	v, ok := meta["confidence"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// ReconcileUnappliedRewards replays RewardLog rows that have no matching
// BanditLog row (a crash between the reward insert and the bandit
// update/log append), per spec.md §4.6's reconciliation job.
func (o *Orchestrator) ReconcileUnappliedRewards(ctx context.Context, limit int) (int, error) {
	if o.rewards == nil {
		return 0, errs.New(errs.Internal, "no storage backend configured")
	}
	unapplied, err := o.rewards.UnappliedRewards(ctx, limit)
	if err != nil {
		return 0, err
	}

	var applied int
	for _, log := range unapplied {
		state, err := o.bandit.Get(o.contextDim)
		if err != nil {
			o.logger.Error("reconciliation: bandit state unavailable", zap.Error(err))
			continue
		}
		if err := state.Update(log.ArmName, log.Context, log.Reward); err != nil {
			o.logger.Error("reconciliation: bandit update failed", zap.String("decision_id", log.DecisionID), zap.Error(err))
			continue
		}
		if err := o.rewards.AppendBanditLog(ctx, log.DecisionID, o.contextDim, log.ArmName, log.Reward); err != nil {
			o.logger.Error("reconciliation: bandit_log append failed", zap.String("decision_id", log.DecisionID), zap.Error(err))
			continue
		}
		applied++
	}
	o.bandit.MaybeSnapshot(o.contextDim)
	return applied, nil
}
