package orchestrator

import (
	"context"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// ValidatePayload is spec.md §7's `ValidatePayload` contract.
type ValidatePayload struct {
	Plan       types.TradePlan        `json:"plan"`
	Market     types.ValidateMarket   `json:"market"`
	Context    types.PortfolioContext `json:"context"`
	DecisionID string                 `json:"decision_id"`
}

// Validate implements spec.md §4.5's `validate`: a pure function of its
// inputs (idempotent — same verdict and adjusted_size under repetition).
func (o *Orchestrator) Validate(ctx context.Context, payload ValidatePayload) (types.PolicyVerdict, error) {
	if payload.DecisionID == "" {
		return types.PolicyVerdict{}, errs.New(errs.Validation, "decision_id is required")
	}

	verdict := o.validator.Validate(payload.Plan, payload.Market, payload.Context, payload.DecisionID)
	o.metrics.RecordVerdict(verdictReason(verdict))
	return verdict, nil
}

func verdictReason(v types.PolicyVerdict) string {
	if v.Verdict == types.VerdictApproved {
		return "approved"
	}
	return v.Reason
}
