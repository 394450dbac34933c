package facts_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/facts"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

type fakeMarketData struct {
	bars  []types.OHLCV
	err   error
	proxy float64
}

func (f *fakeMarketData) LastQuote(ticker string) (float64, float64, bool) { return 0, 0, false }
func (f *fakeMarketData) DailyOHLC(ticker string, bars int) ([]types.OHLCV, error) {
	return f.bars, f.err
}
func (f *fakeMarketData) SpreadProxy(ticker string, price float64) float64 { return f.proxy }

type fakeNews struct {
	items []types.NewsItem
	err   error
}

func (f *fakeNews) Recent(ticker string, since time.Time, max int) ([]types.NewsItem, error) {
	return f.items, f.err
}

func samplePolicy() types.PolicyParams {
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

func genBars(n int, start float64) []types.OHLCV {
	bars := make([]types.OHLCV, 0, n)
	price := start
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price += 0.1
		bars = append(bars, types.OHLCV{
			Timestamp: day.AddDate(0, 0, i),
			Open:      decimal.NewFromFloat(price),
			High:      decimal.NewFromFloat(price + 0.5),
			Low:       decimal.NewFromFloat(price - 0.5),
			Close:     decimal.NewFromFloat(price + 0.2),
			Volume:    decimal.NewFromFloat(1_000_000),
		})
	}
	return bars
}

func TestSynthesizeDataThinWhenHistoryShort(t *testing.T) {
	s := facts.New(zap.NewNop(), types.NewsConfig{MaxItems: 5}, samplePolicy())
	md := &fakeMarketData{bars: genBars(5, 100)}
	news := &fakeNews{}

	req := types.DecisionRequest{Ticker: "ABC", Price: 101, EventType: "earnings", DaysToEvent: 2, ExpectedMove: 0.05}
	result := s.Synthesize(req, md, news)

	if !result.Analysis.Market.DataThin {
		t.Fatal("expected DataThin=true with only 5 bars of history")
	}
	if result.Analysis.Market.RSI14 != nil || result.Analysis.Market.ATR14 != nil {
		t.Fatal("expected nil indicators when history is insufficient")
	}
}

func TestSynthesizeComputesIndicatorsWithEnoughHistory(t *testing.T) {
	s := facts.New(zap.NewNop(), types.NewsConfig{MaxItems: 5}, samplePolicy())
	md := &fakeMarketData{bars: genBars(30, 100)}
	news := &fakeNews{}

	req := types.DecisionRequest{Ticker: "ABC", Price: 103, EventType: "earnings", DaysToEvent: 2, ExpectedMove: 0.05}
	result := s.Synthesize(req, md, news)

	if result.Analysis.Market.DataThin {
		t.Fatal("expected DataThin=false with 30 bars of history")
	}
	if result.Analysis.Market.RSI14 == nil || result.Analysis.Market.ATR14 == nil {
		t.Fatal("expected non-nil RSI14/ATR14 with sufficient history")
	}
	if result.Analysis.Market.DollarADV <= 0 {
		t.Fatal("expected a positive dollar ADV")
	}
}

func TestSynthesizeNeverFabricatesOnMarketDataError(t *testing.T) {
	s := facts.New(zap.NewNop(), types.NewsConfig{MaxItems: 5}, samplePolicy())
	md := &fakeMarketData{err: errors.New("provider down")}
	news := &fakeNews{}

	req := types.DecisionRequest{Ticker: "ABC", Price: 50, EventType: "earnings", DaysToEvent: 1}
	result := s.Synthesize(req, md, news)

	if !result.Analysis.Market.DataThin {
		t.Fatal("expected DataThin=true on a market data error")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning recorded for the market data error")
	}
}

func TestSynthesizeNilMarketDataDoesNotPanic(t *testing.T) {
	s := facts.New(zap.NewNop(), types.NewsConfig{MaxItems: 5}, samplePolicy())
	req := types.DecisionRequest{Ticker: "ABC", Price: 50, EventType: "earnings", DaysToEvent: 1}

	result := s.Synthesize(req, nil, nil)

	if !result.Analysis.Market.DataThin {
		t.Fatal("expected DataThin=true with nil collaborators")
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("expected warnings for both missing collaborators, got %v", result.Warnings)
	}
}

func TestSynthesizeCapsNewsAtMaxItems(t *testing.T) {
	items := make([]types.NewsItem, 10)
	for i := range items {
		items[i] = types.NewsItem{Headline: "h", Timestamp: time.Now()}
	}
	s := facts.New(zap.NewNop(), types.NewsConfig{MaxItems: 3}, samplePolicy())
	md := &fakeMarketData{bars: genBars(30, 100)}
	news := &fakeNews{items: items}

	req := types.DecisionRequest{Ticker: "ABC", Price: 50, EventType: "earnings", DaysToEvent: 1}
	result := s.Synthesize(req, md, news)

	if len(result.Analysis.News) != 3 {
		t.Fatalf("expected news capped at 3, got %d", len(result.Analysis.News))
	}
}

func TestSynthesizePerfStatsLimitedBelowSampleThreshold(t *testing.T) {
	s := facts.New(zap.NewNop(), types.NewsConfig{MaxItems: 5}, samplePolicy())
	md := &fakeMarketData{bars: genBars(30, 100)}

	req := types.DecisionRequest{
		Ticker: "ABC", Price: 50, EventType: "earnings", DaysToEvent: 1,
		BacktestKPIs: types.BacktestKPIs{Samples: 5, HitRate: 0.6, AvgWin: 1.2, AvgLoss: 0.8},
	}
	result := s.Synthesize(req, md, &fakeNews{})

	if !result.Analysis.History.Limited {
		t.Fatal("expected History.Limited=true with only 5 samples")
	}
	if result.Analysis.History.MedianR != nil || result.Analysis.History.P90R != nil {
		t.Fatal("expected nil percentile fields below the sample threshold")
	}
}

func TestSynthesizePerfStatsPopulatedAboveSampleThreshold(t *testing.T) {
	s := facts.New(zap.NewNop(), types.NewsConfig{MaxItems: 5}, samplePolicy())
	md := &fakeMarketData{bars: genBars(30, 100)}

	req := types.DecisionRequest{
		Ticker: "ABC", Price: 50, EventType: "earnings", DaysToEvent: 1,
		BacktestKPIs: types.BacktestKPIs{Samples: 40, HitRate: 0.6, AvgWin: 1.2, AvgLoss: 0.8},
	}
	result := s.Synthesize(req, md, &fakeNews{})

	if result.Analysis.History.Limited {
		t.Fatal("expected History.Limited=false with 40 samples")
	}
	if result.Analysis.History.MedianR == nil || result.Analysis.History.P90R == nil {
		t.Fatal("expected percentile fields populated with enough samples")
	}
}

func TestGatingFactsNeverClaimsPassPolicyWouldReject(t *testing.T) {
	policy := samplePolicy()
	policy.MinDollarADV = 10_000_000_000 // unreachable with the generated bars

	s := facts.New(zap.NewNop(), types.NewsConfig{MaxItems: 5}, policy)
	md := &fakeMarketData{bars: genBars(30, 100)}

	req := types.DecisionRequest{Ticker: "ABC", Price: 50, EventType: "earnings", DaysToEvent: 1, Spread: 0.01}
	result := s.Synthesize(req, md, &fakeNews{})

	for _, fact := range result.Analysis.Strategy.GatingFacts {
		if fact == "Liquidity >= $10000000000 ADV" {
			t.Fatal("gating_facts claimed a liquidity pass the policy threshold would reject")
		}
	}
}

func TestFillRationaleSetsArmAndDeterministicReason(t *testing.T) {
	s := facts.New(zap.NewNop(), types.NewsConfig{MaxItems: 5}, samplePolicy())
	md := &fakeMarketData{bars: genBars(30, 100)}
	req := types.DecisionRequest{Ticker: "ABC", Price: 50, EventType: "earnings", DaysToEvent: 1}

	result := s.Synthesize(req, md, &fakeNews{})
	s.FillRationale(&result.Analysis, types.ArmEarningsPre)

	if result.Analysis.Strategy.SelectedArm != types.ArmEarningsPre {
		t.Fatalf("expected SelectedArm to be set, got %s", result.Analysis.Strategy.SelectedArm)
	}
	if result.Analysis.Strategy.Reason == "" {
		t.Fatal("expected a non-empty deterministic reason")
	}

	result2 := s.Synthesize(req, md, &fakeNews{})
	s.FillRationale(&result2.Analysis, types.ArmEarningsPre)
	if result.Analysis.Strategy.Reason != result2.Analysis.Strategy.Reason {
		t.Fatal("expected the same arm to always produce the same deterministic reason")
	}
}
