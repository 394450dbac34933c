// Package policy implements the hard-rule validator and position sizer
// that decide APPROVED/REJECTED/REVIEW for a proposed TradePlan. See
// SPEC_FULL.md §4.4.
//
// The teacher's internal/sizing/position_sizer.go accumulated Kelly,
// regime, correlation, and confidence adjustments on top of each other;
// this package keeps that sizing shape (worst-case entry, floor-based
// caps, limiting-factor reporting) but drops regime/correlation/Kelly
// entirely, since the validator's sizing here is a hard-cap floor
// computation, not a discretionary allocator — spec.md names exactly
// three caps (ticket, per-trade-loss, pct-ADV) and nothing else. The
// deleted internal/execution/risk_manager.go accumulated every rule
// violation before returning a verdict; this validator stops at the
// first failing rule instead, per spec.md §4.4's explicit ordered chain
// (see DESIGN.md's "hard-rule ordering" note).
package policy

import (
	"math"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Validator enforces the ordered hard-rule chain and computes sizing.
type Validator struct {
	logger *zap.Logger
	params types.PolicyParams
}

// New constructs a Validator bound to a single PolicyParams record — the
// same record internal/facts reads for gating_facts, so the two can never
// disagree about what passes.
func New(logger *zap.Logger, params types.PolicyParams) *Validator {
	return &Validator{logger: logger, params: params}
}

// Validate runs the ordered hard-rule chain (first failure wins) and, on
// pass, computes adjusted_size. Rule order: kill-switch, position cap,
// liquidity, spread, plan sanity.
func (v *Validator) Validate(plan types.TradePlan, market types.ValidateMarket, portfolio types.PortfolioContext, decisionID string) types.PolicyVerdict {
	reject := func(reason string) types.PolicyVerdict {
		return types.PolicyVerdict{Verdict: types.VerdictRejected, Reason: reason, AdjustedSize: 0, DecisionID: decisionID}
	}

	if portfolio.RealizedPnLToday <= v.params.DailyKillSwitch.InexactFloat64() {
		return reject("daily kill-switch triggered: realized P&L at or below limit")
	}

	if portfolio.OpenPositions >= v.params.MaxPositions {
		return reject("position cap reached: open_positions >= max_positions")
	}

	if market.AvgDollarVol < v.params.MinDollarADV {
		return reject("liquidity below minimum dollar ADV")
	}

	if market.Spread > v.params.SpreadCentsMax {
		return reject("spread exceeds max spread in cents")
	}
	spreadBps := 0.0
	if market.Price > 0 {
		spreadBps = market.Spread / market.Price * 1e4
	}
	if spreadBps > v.params.SpreadBpsMax {
		return reject("spread exceeds max spread in bps")
	}

	if !planSane(plan) {
		return reject("plan sanity check failed: entry/stop/target inconsistent")
	}

	size, limitingFactor, err := v.size(plan, market)
	if err != nil {
		return reject(err.Error())
	}
	if size <= 0 {
		return types.PolicyVerdict{Verdict: types.VerdictReview, Reason: "adjusted_size rounded to zero (" + limitingFactor + ")", AdjustedSize: 0, DecisionID: decisionID}
	}

	return types.PolicyVerdict{
		Verdict:      types.VerdictApproved,
		Reason:       "approved: limited by " + limitingFactor,
		AdjustedSize: size,
		DecisionID:   decisionID,
	}
}

// planSane implements spec.md §4.4 rule 5: entry/stop/target must be
// finite and positive, and (entry-stop) must have the correct sign for
// the plan's side.
func planSane(plan types.TradePlan) bool {
	entry := plan.EntryPrice.InexactFloat64()
	stop := plan.StopPrice.InexactFloat64()
	target := plan.TargetPrice.InexactFloat64()

	if !isFinitePositive(entry) || !isFinitePositive(stop) || !isFinitePositive(target) {
		return false
	}
	if entry == stop {
		return false
	}

	if plan.Side() == types.OrderSideBuy {
		return stop < entry && target > entry
	}
	return stop > entry && target < entry
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// size implements spec.md §4.4's sizing formula: worst-case entry, three
// caps via floor (ticket / per-trade-loss / pct-ADV), adjusted_size is
// the min of the three.
func (v *Validator) size(plan types.TradePlan, market types.ValidateMarket) (int64, string, error) {
	entry := plan.EntryPrice.InexactFloat64()
	stop := plan.StopPrice.InexactFloat64()

	slippage := v.params.SlippageBps * entry / 1e4
	halfSpread := market.Spread / 2

	var worstEntry float64
	if plan.Side() == types.OrderSideBuy {
		worstEntry = entry + halfSpread + slippage
	} else {
		worstEntry = entry - halfSpread - slippage
	}
	if worstEntry <= 0 {
		return 0, "", errPlanSanity("worst-case entry is non-positive")
	}

	riskPerShare := math.Abs(worstEntry - stop)
	if riskPerShare <= 0 {
		return 0, "", errPlanSanity("risk per share is non-positive")
	}

	byTicket := int64(math.Floor(v.params.MaxTicket.InexactFloat64() / worstEntry))
	byLoss := int64(math.Floor(v.params.MaxPerTradeLoss.InexactFloat64() / riskPerShare))
	byADV := int64(math.Floor(v.params.PctADVCap * market.AvgDollarVol / worstEntry))

	size, factor := byTicket, "max_ticket"
	if byLoss < size {
		size, factor = byLoss, "max_per_trade_loss"
	}
	if byADV < size {
		size, factor = byADV, "pct_adv_cap"
	}
	if size < 0 {
		size = 0
	}
	return size, factor, nil
}

type sanityError string

func (e sanityError) Error() string { return string(e) }

func errPlanSanity(msg string) error { return sanityError(msg) }
