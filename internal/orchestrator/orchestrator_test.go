package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/bandit"
	"github.com/atlas-desktop/trading-backend/internal/facts"
	"github.com/atlas-desktop/trading-backend/internal/llmadvisor"
	"github.com/atlas-desktop/trading-backend/internal/policy"
	"github.com/atlas-desktop/trading-backend/internal/telemetry"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

type fakeMarketData struct {
	price, spread float64
	ok            bool
	bars          []types.OHLCV
}

func (f fakeMarketData) LastQuote(ticker string) (float64, float64, bool) { return f.price, f.spread, f.ok }
func (f fakeMarketData) DailyOHLC(ticker string, bars int) ([]types.OHLCV, error) {
	return f.bars, nil
}
func (f fakeMarketData) SpreadProxy(ticker string, price float64) float64 { return price * 1000 }

type fakeNews struct{ items []types.NewsItem }

func (f fakeNews) Recent(ticker string, since time.Time, max int) ([]types.NewsItem, error) {
	if len(f.items) > max {
		return f.items[:max], nil
	}
	return f.items, nil
}

type scriptedClient struct {
	content string
	err     error
}

func (c scriptedClient) Complete(ctx context.Context, req llmadvisor.CompletionRequest) (llmadvisor.CompletionResponse, error) {
	if c.err != nil {
		return llmadvisor.CompletionResponse{}, c.err
	}
	return llmadvisor.CompletionResponse{Content: c.content}, nil
}

func samplePolicy() types.PolicyParams {
	return types.PolicyParams{
		MaxTicket:       decimal.NewFromFloat(500),
		MaxPositions:    10,
		MaxPerTradeLoss: decimal.NewFromFloat(25),
		DailyKillSwitch: decimal.NewFromFloat(-75),
		SpreadCentsMax:  0.05,
		SpreadBpsMax:    50,
		SlippageBps:     10,
		PctADVCap:       0.05,
		MinDollarADV:    1_000_000,
	}
}

func testLLMConfig() types.LLMConfig {
	return types.LLMConfig{
		Model:             "test-model",
		PromptVersion:     "v1",
		SchemaVersion:     "ProposeResponseV1",
		ValidatorVersion:  "v1",
		MaxRetries:        1,
		CallTimeout:       2 * time.Second,
		ProposeBudget:     5 * time.Second,
		SuccessSampleRate: 1.0,
	}
}

func newTestOrchestrator(t *testing.T, client llmadvisor.Client) *Orchestrator {
	t.Helper()
	logger := zap.NewNop()
	policyParams := samplePolicy()

	reg := bandit.NewRegistry(logger, types.BanditConfig{
		ContextDim:    3,
		Lambda:        1.0,
		ExplorationNu: 1.0,
		SnapshotDir:   t.TempDir(),
		RandomSeed:    7,
	})
	synth := facts.New(logger, types.NewsConfig{MaxItems: 5}, policyParams)
	advisor := llmadvisor.New(logger, client, testLLMConfig(), policyParams, nil)
	validator := policy.New(logger, policyParams)
	metrics := telemetry.New()

	md := fakeMarketData{price: 192.50, spread: 0.01, ok: true}
	news := fakeNews{}

	return New(logger, reg, synth, advisor, validator, nil, nil, metrics, md, news, 3, 5*time.Second)
}

func validLLMContent() string {
	payload := map[string]any{
		"entry_type":   "limit",
		"entry_price":  192.00,
		"stop_price":   189.00,
		"target_price": 198.00,
		"timeout_days": 5,
		"confidence":   0.7,
		"reason":       "earnings catalyst with favorable momentum",
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func sampleRequest() types.DecisionRequest {
	return types.DecisionRequest{
		Ticker:       "AAPL",
		Price:        192.50,
		EventType:    "EARNINGS",
		DaysToEvent:  7,
		ExpectedMove: 0.04,
		RankComponents: map[string]float64{
			"momentum": 0.6,
		},
		BacktestKPIs: types.BacktestKPIs{HitRate: 0.6, AvgWin: 0.05, AvgLoss: -0.03, Samples: 40},
		Liquidity:    5_000_000_000,
		Spread:       0.01,
		Context:      []float64{0.6, 0.6, 1.0},
		DecisionID:   "d1",
	}
}

func TestProposeReturnsPlanAnalysisAndArm(t *testing.T) {
	o := newTestOrchestrator(t, scriptedClient{content: validLLMContent()})

	resp, err := o.Propose(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if resp.DecisionID != "d1" {
		t.Fatalf("expected decision_id d1, got %s", resp.DecisionID)
	}
	if resp.SchemaVersion != "ProposeResponseV1" {
		t.Fatalf("unexpected schema_version %s", resp.SchemaVersion)
	}
	if resp.Analysis.Market.Price != 192.50 {
		t.Fatalf("expected analysis.market.price 192.50, got %v", resp.Analysis.Market.Price)
	}
	if resp.SelectedArm == "" {
		t.Fatal("expected a non-empty selected_arm")
	}
	if resp.Plan.Confidence < 0.5 || resp.Plan.Confidence > 1.0 {
		t.Fatalf("expected confidence in [0.5, 1.0], got %v", resp.Plan.Confidence)
	}
}

func TestProposeRejectsMismatchedContextLength(t *testing.T) {
	o := newTestOrchestrator(t, scriptedClient{content: validLLMContent()})

	req := sampleRequest()
	req.Context = []float64{0.1, 0.2}

	_, err := o.Propose(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error for mismatched context length")
	}
}

func TestProposeRejectsMissingDecisionID(t *testing.T) {
	o := newTestOrchestrator(t, scriptedClient{content: validLLMContent()})

	req := sampleRequest()
	req.DecisionID = ""

	_, err := o.Propose(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error for missing decision_id")
	}
}

func TestProposeFallsBackWhenLLMUnavailable(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	resp, err := o.Propose(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if resp.Plan.Confidence != 0.5 {
		t.Fatalf("expected fallback confidence 0.5, got %v", resp.Plan.Confidence)
	}
	if resp.Analysis.LLMConfidence != 0.5 {
		t.Fatalf("expected analysis.llm_confidence 0.5 on fallback, got %v", resp.Analysis.LLMConfidence)
	}
}

func TestValidateRequiresDecisionID(t *testing.T) {
	o := newTestOrchestrator(t, scriptedClient{content: validLLMContent()})

	_, err := o.Validate(context.Background(), ValidatePayload{
		Plan:   types.TradePlan{EntryPrice: decimal.NewFromInt(100), StopPrice: decimal.NewFromInt(98)},
		Market: types.ValidateMarket{Price: 100, Spread: 0.01, AvgDollarVol: 5_000_000_000},
	})
	if err == nil {
		t.Fatal("expected an error for missing decision_id")
	}
}

func TestValidateApprovesSanePlan(t *testing.T) {
	o := newTestOrchestrator(t, scriptedClient{content: validLLMContent()})

	plan := types.TradePlan{
		Ticker:     "AAPL",
		EntryType:  types.EntryTypeLimit,
		EntryPrice: decimal.NewFromFloat(192.0),
		StopPrice:  decimal.NewFromFloat(189.0),
		TargetPrice: decimal.NewFromFloat(198.0),
		TimeoutDays: 5,
		Confidence:  0.7,
		Reason:      "test",
	}

	verdict, err := o.Validate(context.Background(), ValidatePayload{
		Plan:       plan,
		Market:     types.ValidateMarket{Price: 192.30, Spread: 0.01, AvgDollarVol: 5_000_000_000},
		Context:    types.PortfolioContext{OpenPositions: 1, RealizedPnLToday: -10.0},
		DecisionID: "d1",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if verdict.Verdict != types.VerdictApproved {
		t.Fatalf("expected APPROVED, got %s (%s)", verdict.Verdict, verdict.Reason)
	}
	if verdict.AdjustedSize <= 0 {
		t.Fatalf("expected a positive adjusted_size, got %d", verdict.AdjustedSize)
	}
}

func TestQuickReturnsTextualSummaryWithoutLLMOrBandit(t *testing.T) {
	o := newTestOrchestrator(t, nil)

	resp, err := o.Quick(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("quick: %v", err)
	}
	if resp.Price != 192.50 {
		t.Fatalf("expected price 192.50, got %v", resp.Price)
	}
	if resp.AnalysisText == "" {
		t.Fatal("expected a non-empty analysis_text")
	}
}

func TestAnalyzeSynthesizesRequestFromMarketData(t *testing.T) {
	o := newTestOrchestrator(t, scriptedClient{content: validLLMContent()})

	resp, err := o.Analyze(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if resp.DecisionID == "" {
		t.Fatal("expected analyze to auto-generate a decision_id")
	}
	if resp.Analysis.Market.Price != 192.50 {
		t.Fatalf("expected market price 192.50, got %v", resp.Analysis.Market.Price)
	}
}
