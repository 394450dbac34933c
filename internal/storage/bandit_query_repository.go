package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// ArmAggregate is one arm's reward summary, per spec.md §4.5's
// `/bandit/stats` contract: `{arm_name, count, avg_reward, min_reward,
// max_reward}`.
type ArmAggregate struct {
	ArmName   types.Arm `json:"arm_name"`
	Count     int64     `json:"count"`
	AvgReward float64   `json:"avg_reward"`
	MinReward float64   `json:"min_reward"`
	MaxReward float64   `json:"max_reward"`
}

// BanditLogRow is one applied-reward row, per spec.md §4.5's
// `/bandit/logs` contract: `{ts, arm_name, context, reward, decision_id}`.
type BanditLogRow struct {
	Timestamp  time.Time `json:"ts"`
	ArmName    types.Arm `json:"arm_name"`
	Context    []float64 `json:"context"`
	Reward     float64   `json:"reward"`
	DecisionID string    `json:"decision_id"`
}

// BanditStats aggregates bandit_log by arm_name for the bandit.stats
// endpoint (count and mean/min/max reward per arm); it reads bandit_log
// only.
func (r *RewardRepository) BanditStats(ctx context.Context) (total int64, arms []ArmAggregate, err error) {
	const query = `
		SELECT arm_name, COUNT(*), AVG(reward), MIN(reward), MAX(reward)
		FROM bandit_log
		GROUP BY arm_name
		ORDER BY arm_name
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return 0, nil, fmt.Errorf("query bandit stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var agg ArmAggregate
		var arm string
		if err := rows.Scan(&arm, &agg.Count, &agg.AvgReward, &agg.MinReward, &agg.MaxReward); err != nil {
			return 0, nil, fmt.Errorf("scan bandit stats row: %w", err)
		}
		agg.ArmName = types.Arm(arm)
		arms = append(arms, agg)
		total += agg.Count
	}
	return total, arms, rows.Err()
}

// BanditLogs returns the most recent bandit_log rows (joined with
// reward_log for context), newest first, bounded by limit.
func (r *RewardRepository) BanditLogs(ctx context.Context, limit int) ([]BanditLogRow, error) {
	const query = `
		SELECT bl.applied_at, bl.arm_name, rl.context, bl.reward, bl.decision_id
		FROM bandit_log bl
		JOIN reward_log rl ON rl.decision_id = bl.decision_id
		ORDER BY bl.applied_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query bandit logs: %w", err)
	}
	defer rows.Close()

	var out []BanditLogRow
	for rows.Next() {
		var row BanditLogRow
		var arm string
		if err := rows.Scan(&row.Timestamp, &arm, &row.Context, &row.Reward, &row.DecisionID); err != nil {
			return nil, fmt.Errorf("scan bandit log row: %w", err)
		}
		row.ArmName = types.Arm(arm)
		out = append(out, row)
	}
	return out, rows.Err()
}
