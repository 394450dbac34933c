package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// RewardRepository persists RewardLog and BanditLog rows. Grounded on
// koshedutech-binance-trading-app/internal/database/repository_user_llm_config.go's
// SaveUserLLMConfig ON CONFLICT idiom, adapted to a conditional insert
// (DO NOTHING) rather than an upsert, since a reward log row is
// immutable once written — spec.md §4.6's "conditional insert ... on
// conflict return duplicate_ignored without touching the bandit".
type RewardRepository struct {
	db *DB
}

// NewRewardRepository constructs a RewardRepository.
func NewRewardRepository(db *DB) *RewardRepository {
	return &RewardRepository{db: db}
}

// InsertIfAbsent attempts the conditional insert keyed by decision_id.
// inserted is false when the row already existed (a duplicate reward
// submission), in which case the caller must not touch the bandit.
func (r *RewardRepository) InsertIfAbsent(ctx context.Context, log types.RewardLog) (inserted bool, err error) {
	const query = `
		INSERT INTO reward_log (decision_id, arm_name, context, reward, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (decision_id) DO NOTHING
	`
	tag, err := r.db.Pool.Exec(ctx, query, log.DecisionID, string(log.ArmName), log.Context, log.Reward, log.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert reward_log: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendBanditLog records that a reward was applied to the bandit,
// forming the join key a reconciliation job uses against reward_log.
func (r *RewardRepository) AppendBanditLog(ctx context.Context, decisionID string, contextDim int, arm types.Arm, reward float64) error {
	const query = `
		INSERT INTO bandit_log (decision_id, context_dim, arm_name, reward, applied_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Pool.Exec(ctx, query, decisionID, contextDim, string(arm), reward, time.Now())
	if err != nil {
		return fmt.Errorf("insert bandit_log: %w", err)
	}
	return nil
}

// UnappliedRewards returns decision_ids present in reward_log but absent
// from bandit_log, feeding the reconciliation job that replays rewards a
// crash left applied-to-storage but not-yet-applied-to-bandit.
func (r *RewardRepository) UnappliedRewards(ctx context.Context, limit int) ([]types.RewardLog, error) {
	const query = `
		SELECT rl.decision_id, rl.arm_name, rl.context, rl.reward, rl.created_at
		FROM reward_log rl
		LEFT JOIN bandit_log bl ON bl.decision_id = rl.decision_id
		WHERE bl.decision_id IS NULL
		ORDER BY rl.created_at
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unapplied rewards: %w", err)
	}
	defer rows.Close()

	var out []types.RewardLog
	for rows.Next() {
		var rl types.RewardLog
		var arm string
		if err := rows.Scan(&rl.DecisionID, &arm, &rl.Context, &rl.Reward, &rl.Timestamp); err != nil {
			return nil, fmt.Errorf("scan unapplied reward: %w", err)
		}
		rl.ArmName = types.Arm(arm)
		out = append(out, rl)
	}
	return out, rows.Err()
}
