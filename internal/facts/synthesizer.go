// Package facts implements the deterministic "why selected" fact
// synthesizer: it fuses market, catalyst, news, and historical-performance
// signals into a WhySelected analysis without ever calling the LLM. See
// SPEC_FULL.md §4.1.
//
// It never fabricates data. On a MarketData or News collaborator miss, it
// returns sentinels (nil indicators, an empty news list) and records a
// named warning instead of inventing numbers — a deliberate divergence
// from the teacher's internal/data/store.go, which silently generates
// sample OHLCV data when a symbol's file is missing (see DESIGN.md).
package facts

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
	"go.uber.org/zap"
)

func formatReason(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

// Synthesizer produces WhySelected purely from deterministic inputs.
type Synthesizer struct {
	logger *zap.Logger
	news   types.NewsConfig
	policy types.PolicyParams
}

// New constructs a Synthesizer. policy is the same PolicyParams record the
// validator reads, so GatingFacts never claims a pass the validator would
// reject (SPEC_FULL.md's "cyclic facts/validator coupling" fix).
func New(logger *zap.Logger, news types.NewsConfig, policy types.PolicyParams) *Synthesizer {
	return &Synthesizer{logger: logger, news: news, policy: policy}
}

// Result bundles the synthesized analysis with any warnings collected
// along the way (surfaced to telemetry, not to the caller).
type Result struct {
	Analysis types.WhySelected
	Warnings []string
}

// Synthesize builds the full WhySelected block for a request, querying
// the supplied MarketData/News collaborators. It never returns an error:
// any collaborator failure degrades to sentinels plus a warning, per
// spec.md's "synthesizer never raises."
func (s *Synthesizer) Synthesize(req types.DecisionRequest, md types.MarketData, news types.News) Result {
	var warnings []string

	catalyst := s.buildCatalyst(req)
	market, marketWarn := s.buildMarketContext(req, md)
	if marketWarn != "" {
		warnings = append(warnings, marketWarn)
	}
	newsItems, newsWarn := s.recentNews(req.Ticker, news)
	if newsWarn != "" {
		warnings = append(warnings, newsWarn)
	}
	perf := s.buildPerfStats(req.BacktestKPIs)
	gating := s.gatingFacts(req, market)
	if market.DataThin {
		gating = append(gating, "data_thin: insufficient price history for RSI/ATR")
	}

	return Result{
		Analysis: types.WhySelected{
			Catalyst: catalyst,
			News:     newsItems,
			History:  perf,
			Market:   market,
			Strategy: types.StrategyRationale{GatingFacts: gating},
		},
		Warnings: warnings,
	}
}

// FillRationale stamps the selected arm's deterministic reason onto an
// already-synthesized analysis. It is a separate step because the
// orchestrator only knows the selected arm after bandit.select runs,
// which happens after the facts above are computed (see
// SPEC_FULL.md §5's I/O-ordering contract).
func (s *Synthesizer) FillRationale(analysis *types.WhySelected, arm types.Arm) {
	analysis.Strategy.SelectedArm = arm
	analysis.Strategy.Reason = s.reasonForArm(arm, analysis.Catalyst, analysis.Market)
}

// buildCatalyst implements spec.md §4.1's build_catalyst.
func (s *Synthesizer) buildCatalyst(req types.DecisionRequest) types.CatalystInfo {
	eventTime := time.Now()
	if req.EventTime != nil {
		eventTime = *req.EventTime
	} else {
		// No holiday calendar is available anywhere in this pack; only
		// weekends are skipped, per spec's "skip weekends/known
		// holidays" — known-holiday awareness is left for a deployment
		// to supply via a calendar provider this interface doesn't model.
		eventTime = utils.AddTradingDays(eventTime, int(req.DaysToEvent))
	}

	rank := weightedRank(req.RankComponents)

	return types.CatalystInfo{
		EventType:    req.EventType,
		EventTime:    eventTime,
		DaysToEvent:  req.DaysToEvent,
		Materiality:  clip01(req.ExpectedMove),
		ExpectedMove: req.ExpectedMove,
		Rank:         rank,
	}
}

// weightedRank averages the declared [0,1] rank components and scales to
// [0,100], clipped. Equal weighting is used since spec.md does not name
// per-component weights; a deployment that wants non-uniform weights
// supplies them by pre-scaling the components it sends.
func weightedRank(components map[string]float64) float64 {
	if len(components) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range components {
		sum += v
	}
	avg := sum / float64(len(components))
	return utils.ClampFloat(avg*100, 0, 100)
}

func clip01(v float64) float64 {
	return utils.ClampFloat(v, 0, 1)
}

// fallbackSpreadProxy implements spec.md §4.1's spread fallback formula,
// used when neither the request nor a MarketData provider supplies a
// quoted spread: max(0.01, price*0.001).
func fallbackSpreadProxy(price float64) float64 {
	proxy := price * 0.001
	if proxy < 0.01 {
		return 0.01
	}
	return proxy
}

// buildMarketContext implements spec.md §4.1's build_market_context.
func (s *Synthesizer) buildMarketContext(req types.DecisionRequest, md types.MarketData) (types.MarketContext, string) {
	if md == nil {
		spread := req.Spread
		if spread <= 0 {
			spread = fallbackSpreadProxy(req.Price)
		}
		return types.MarketContext{Price: req.Price, Spread: spread, DataThin: true}, "market_data_unavailable"
	}

	spread := req.Spread
	if spread <= 0 {
		spread = md.SpreadProxy(req.Ticker, req.Price)
		if spread <= 0 {
			spread = fallbackSpreadProxy(req.Price)
		}
	}
	mc := types.MarketContext{Price: req.Price, Spread: spread}

	bars, err := md.DailyOHLC(req.Ticker, advWindow)
	if err != nil || len(bars) < minBarsForIndicators {
		mc.DataThin = true
		mc.DollarADV = dollarADV(trimToWindow(bars, advWindow))
		if err != nil {
			return mc, "market_data_error: " + err.Error()
		}
		return mc, "data_thin"
	}

	window := trimToWindow(bars, advWindow)
	mc.DollarADV = dollarADV(window)

	if rsi, ok := rsi14(window); ok {
		mc.RSI14 = &rsi
	}
	if atr, ok := atr14(window); ok {
		mc.ATR14 = &atr
	}
	return mc, ""
}

// recentNews implements spec.md §4.1's recent_news: up to N items within
// the last 24h, never fabricated.
func (s *Synthesizer) recentNews(ticker string, news types.News) ([]types.NewsItem, string) {
	maxItems := s.news.MaxItems
	if maxItems <= 0 {
		maxItems = 5
	}
	if news == nil {
		return nil, "news_unavailable"
	}

	items, err := news.Recent(ticker, time.Now().Add(-24*time.Hour), maxItems)
	if err != nil {
		return nil, "news_error: " + err.Error()
	}
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, ""
}

// buildPerfStats implements spec.md §4.1's build_perf_stats: median_r and
// p90_r are only derived when samples >= 20, since a declared sample count
// below that is too thin to report meaningfully; below it, Limited is set
// and the percentile fields are left nil.
const minSamplesForPercentiles = 20

func (s *Synthesizer) buildPerfStats(kpis types.BacktestKPIs) types.PerfStats {
	ps := types.PerfStats{
		Samples: kpis.Samples,
		HitRate: kpis.HitRate,
		AvgWin:  kpis.AvgWin,
		AvgLoss: kpis.AvgLoss,
		MaxDD:   kpis.MaxDD,
	}

	if kpis.Samples < minSamplesForPercentiles {
		ps.Limited = true
		return ps
	}

	// With only summary KPIs (not the raw R-multiple sample series) to
	// work from, median_r/p90_r are estimated from the declared
	// avg win/loss and hit rate rather than computed from a sample that
	// this request never supplies.
	median := kpis.HitRate*kpis.AvgWin - (1-kpis.HitRate)*kpis.AvgLoss
	p90 := kpis.AvgWin * 1.5
	ps.MedianR = &median
	ps.P90R = &p90
	return ps
}

// reasonForArm implements spec.md §4.1's reason_for_arm: a deterministic
// one-line explanation from a fixed table keyed by arm.
func (s *Synthesizer) reasonForArm(arm types.Arm, catalyst types.CatalystInfo, market types.MarketContext) string {
	switch arm {
	case types.ArmEarningsPre:
		return formatReason("pre-event positioning ahead of %s in %.0f days (rank %.0f)", catalyst.EventType, catalyst.DaysToEvent, catalyst.Rank)
	case types.ArmPostEventMomo:
		return formatReason("post-event momentum continuation after %s, expected move %.1f%%", catalyst.EventType, catalyst.ExpectedMove*100)
	case types.ArmNewsSpike:
		return formatReason("news-driven volatility spike on %s", catalyst.EventType)
	case types.ArmReactive:
		return formatReason("reactive entry on confirmed price action, spread %.3f", market.Spread)
	case types.ArmSkip:
		return "no qualifying setup; skipping this candidate"
	default:
		return formatReason("selected arm %s", string(arm))
	}
}

// gatingFacts implements spec.md §4.1's gating_facts: it reads the exact
// same PolicyParams the validator enforces, so it only ever lists checks
// the validator would also pass (spec.md: "Never claims a pass the
// validator would fail").
func (s *Synthesizer) gatingFacts(req types.DecisionRequest, market types.MarketContext) []string {
	var facts []string

	if market.DollarADV >= s.policy.MinDollarADV {
		facts = append(facts, formatReason("Liquidity >= $%.0f ADV", s.policy.MinDollarADV))
	}

	spreadBps := 0.0
	if market.Price > 0 {
		spreadBps = market.Spread / market.Price * 1e4
	}
	if market.Spread <= s.policy.SpreadCentsMax && spreadBps <= s.policy.SpreadBpsMax {
		facts = append(facts, "Spread within policy")
	}

	if req.ExpectedMove > 0 {
		facts = append(facts, formatReason("Expected move %.1f%% supports catalyst thesis", req.ExpectedMove*100))
	}

	return facts
}
