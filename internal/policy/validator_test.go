package policy_test

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/policy"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func sampleParams() types.PolicyParams {
	return types.PolicyParams{
		MaxTicket:       decimal.NewFromInt(500),
		MaxPositions:    10,
		MaxPerTradeLoss: decimal.NewFromInt(25),
		DailyKillSwitch: decimal.NewFromInt(-75),
		SpreadCentsMax:  0.05,
		SpreadBpsMax:    50,
		SlippageBps:     10,
		PctADVCap:       0.05,
		MinDollarADV:    1_000_000,
	}
}

func longPlan() types.TradePlan {
	return types.TradePlan{
		Ticker:      "AAPL",
		EntryType:   types.EntryTypeLimit,
		EntryPrice:  decimal.NewFromFloat(192.00),
		StopPrice:   decimal.NewFromFloat(188.00),
		TargetPrice: decimal.NewFromFloat(198.00),
		TimeoutDays: 5,
		Confidence:  0.7,
	}
}

func TestValidateApprovedAndSized(t *testing.T) {
	v := policy.New(zap.NewNop(), sampleParams())
	market := types.ValidateMarket{Price: 192.30, Spread: 0.01, AvgDollarVol: 5e9}
	portfolio := types.PortfolioContext{OpenPositions: 1, RealizedPnLToday: -10.0}

	verdict := v.Validate(longPlan(), market, portfolio, "d1")

	if verdict.Verdict != types.VerdictApproved {
		t.Fatalf("expected APPROVED, got %s (%s)", verdict.Verdict, verdict.Reason)
	}
	if verdict.AdjustedSize <= 0 {
		t.Fatalf("expected a positive adjusted_size, got %d", verdict.AdjustedSize)
	}
	if verdict.DecisionID != "d1" {
		t.Fatalf("expected decision_id to be echoed, got %s", verdict.DecisionID)
	}
}

func TestValidateKillSwitchRejection(t *testing.T) {
	v := policy.New(zap.NewNop(), sampleParams())
	market := types.ValidateMarket{Price: 192.30, Spread: 0.01, AvgDollarVol: 5e9}
	portfolio := types.PortfolioContext{OpenPositions: 1, RealizedPnLToday: -100.0}

	verdict := v.Validate(longPlan(), market, portfolio, "d1")

	if verdict.Verdict != types.VerdictRejected {
		t.Fatalf("expected REJECTED, got %s", verdict.Verdict)
	}
	if verdict.AdjustedSize != 0 {
		t.Fatalf("expected adjusted_size=0 on rejection, got %d", verdict.AdjustedSize)
	}
}

func TestValidateWideSpreadRejection(t *testing.T) {
	v := policy.New(zap.NewNop(), sampleParams())
	market := types.ValidateMarket{Price: 192.30, Spread: 0.10, AvgDollarVol: 5e9}
	portfolio := types.PortfolioContext{OpenPositions: 1, RealizedPnLToday: 0}

	verdict := v.Validate(longPlan(), market, portfolio, "d1")

	if verdict.Verdict != types.VerdictRejected {
		t.Fatalf("expected REJECTED for wide spread, got %s", verdict.Verdict)
	}
}

func TestValidateLiquidityZeroRejectsWithLiquidityReason(t *testing.T) {
	v := policy.New(zap.NewNop(), sampleParams())
	market := types.ValidateMarket{Price: 192.30, Spread: 0.01, AvgDollarVol: 0}
	portfolio := types.PortfolioContext{OpenPositions: 1}

	verdict := v.Validate(longPlan(), market, portfolio, "d1")

	if verdict.Verdict != types.VerdictRejected {
		t.Fatalf("expected REJECTED, got %s", verdict.Verdict)
	}
	if !strings.Contains(verdict.Reason, "liquidity") {
		t.Fatalf("expected a liquidity reason, got %q", verdict.Reason)
	}
}

func TestValidatePositionCapRejection(t *testing.T) {
	v := policy.New(zap.NewNop(), sampleParams())
	market := types.ValidateMarket{Price: 192.30, Spread: 0.01, AvgDollarVol: 5e9}
	portfolio := types.PortfolioContext{OpenPositions: 10}

	verdict := v.Validate(longPlan(), market, portfolio, "d1")

	if verdict.Verdict != types.VerdictRejected {
		t.Fatalf("expected REJECTED for position cap, got %s", verdict.Verdict)
	}
}

func TestValidatePlanSanityStopEqualsEntryRejected(t *testing.T) {
	v := policy.New(zap.NewNop(), sampleParams())
	plan := longPlan()
	plan.StopPrice = plan.EntryPrice

	market := types.ValidateMarket{Price: 192.30, Spread: 0.01, AvgDollarVol: 5e9}
	portfolio := types.PortfolioContext{OpenPositions: 1}

	verdict := v.Validate(plan, market, portfolio, "d1")

	if verdict.Verdict != types.VerdictRejected {
		t.Fatalf("expected REJECTED for stop==entry, got %s", verdict.Verdict)
	}
}

func TestValidateSpreadExactlyAtThresholdApproves(t *testing.T) {
	v := policy.New(zap.NewNop(), sampleParams())
	market := types.ValidateMarket{Price: 192.30, Spread: 0.05, AvgDollarVol: 5e9}
	portfolio := types.PortfolioContext{OpenPositions: 1}

	verdict := v.Validate(longPlan(), market, portfolio, "d1")

	if verdict.Verdict != types.VerdictApproved {
		t.Fatalf("expected APPROVED at exact spread threshold, got %s (%s)", verdict.Verdict, verdict.Reason)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	v := policy.New(zap.NewNop(), sampleParams())
	market := types.ValidateMarket{Price: 192.30, Spread: 0.01, AvgDollarVol: 5e9}
	portfolio := types.PortfolioContext{OpenPositions: 1, RealizedPnLToday: -10.0}

	first := v.Validate(longPlan(), market, portfolio, "d1")
	second := v.Validate(longPlan(), market, portfolio, "d1")

	if first.Verdict != second.Verdict || first.AdjustedSize != second.AdjustedSize {
		t.Fatal("expected Validate to be idempotent under repetition")
	}
}

func TestValidateSizingMatchesWorkedExample(t *testing.T) {
	v := policy.New(zap.NewNop(), sampleParams())
	market := types.ValidateMarket{Price: 192.30, Spread: 0.01, AvgDollarVol: 5e9}
	portfolio := types.PortfolioContext{OpenPositions: 1, RealizedPnLToday: -10.0}

	verdict := v.Validate(longPlan(), market, portfolio, "d1")

	entry := 192.00
	slippage := sampleParams().SlippageBps * entry / 1e4
	worstEntry := entry + market.Spread/2 + slippage
	riskPerShare := math.Abs(worstEntry - 188.00)

	byTicket := int64(math.Floor(500.0 / worstEntry))
	byLoss := int64(math.Floor(25.0 / riskPerShare))
	byADV := int64(math.Floor(0.05 * 5e9 / worstEntry))

	want := byTicket
	if byLoss < want {
		want = byLoss
	}
	if byADV < want {
		want = byADV
	}

	if verdict.AdjustedSize != want {
		t.Fatalf("expected adjusted_size=%d, got %d", want, verdict.AdjustedSize)
	}
}

func TestValidateZeroAdjustedSizeIsReview(t *testing.T) {
	params := sampleParams()
	params.MaxTicket = decimal.NewFromFloat(0.01) // forces floor to 0
	v := policy.New(zap.NewNop(), params)

	market := types.ValidateMarket{Price: 192.30, Spread: 0.01, AvgDollarVol: 5e9}
	portfolio := types.PortfolioContext{OpenPositions: 1}

	verdict := v.Validate(longPlan(), market, portfolio, "d1")

	if verdict.Verdict != types.VerdictReview {
		t.Fatalf("expected REVIEW when adjusted_size floors to 0, got %s", verdict.Verdict)
	}
	if verdict.AdjustedSize != 0 {
		t.Fatalf("expected adjusted_size=0, got %d", verdict.AdjustedSize)
	}
}
