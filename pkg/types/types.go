// Package types provides shared type definitions for the decision service.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell, used to orient sizing math for a plan.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// EntryType is how a TradePlan proposes to enter the position.
type EntryType string

const (
	EntryTypeLimit   EntryType = "limit"
	EntryTypeMarket  EntryType = "market"
	EntryTypeTrigger EntryType = "trigger"
)

// Arm is a discrete trading strategy label selected by the bandit.
type Arm string

const (
	ArmEarningsPre    Arm = "EARNINGS_PRE"
	ArmPostEventMomo  Arm = "POST_EVENT_MOMO"
	ArmNewsSpike      Arm = "NEWS_SPIKE"
	ArmReactive       Arm = "REACTIVE"
	ArmSkip           Arm = "SKIP"
)

// DefaultArms is the fixed enumerated arm set new deployments start with.
// The bandit registry tolerates adding further arms later without
// disturbing the state already accumulated for these.
var DefaultArms = []Arm{ArmEarningsPre, ArmPostEventMomo, ArmNewsSpike, ArmReactive, ArmSkip}

// Verdict is the outcome of policy validation.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictRejected Verdict = "REJECTED"
	VerdictReview   Verdict = "REVIEW"
)

// OHLCV is a single daily candle, the unit the fact synthesizer computes
// RSI/ATR/ADV from.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// BacktestKPIs is the caller-supplied summary of a strategy's historical
// performance, copied (and extended when samples allow) into PerfStats.
type BacktestKPIs struct {
	HitRate float64 `json:"hit_rate"`
	AvgWin  float64 `json:"avg_win"`
	AvgLoss float64 `json:"avg_loss"`
	MaxDD   float64 `json:"max_dd"`
	Samples int     `json:"samples"`
}

// DecisionRequest is the canonical input to Propose.
type DecisionRequest struct {
	Ticker         string             `json:"ticker"`
	Price          float64            `json:"price"`
	EventType      string             `json:"event_type"`
	EventTime      *time.Time         `json:"event_time,omitempty"`
	DaysToEvent    float64            `json:"days_to_event"`
	ExpectedMove   float64            `json:"expected_move"`
	RankComponents map[string]float64 `json:"rank_components"`
	BacktestKPIs   BacktestKPIs       `json:"backtest_kpis"`
	Liquidity      float64            `json:"liquidity"`
	Spread         float64            `json:"spread"`
	NewsSummary    string             `json:"news_summary,omitempty"`
	Context        []float64          `json:"context"`
	DecisionID     string             `json:"decision_id"`
}

// TradePlan is the LLM-advised (or fallback) trade plan. TargetPrice is a
// single value: the source's evolutions varied between a single target and
// an ordered partial-target list, and the spec permits either; this
// deployment pins a single value since multi-leg target accounting is out
// of scope (see DESIGN.md).
type TradePlan struct {
	Ticker        string          `json:"ticker"`
	EntryType     EntryType       `json:"entry_type"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	TimeoutDays   int             `json:"timeout_days"`
	Confidence    float64         `json:"confidence"`
	Reason        string          `json:"reason"`
	SchemaVersion string          `json:"schema_version"`
}

// Side infers the trade's directional side from entry vs. stop, since the
// plan itself does not carry an explicit side field.
func (p TradePlan) Side() OrderSide {
	if p.StopPrice.LessThan(p.EntryPrice) {
		return OrderSideBuy
	}
	return OrderSideSell
}

// CatalystInfo is the deterministic catalyst summary in WhySelected.
type CatalystInfo struct {
	EventType    string    `json:"event_type"`
	EventTime    time.Time `json:"event_time"`
	DaysToEvent  float64   `json:"days_to_event"`
	Materiality  float64   `json:"materiality"`
	ExpectedMove float64   `json:"expected_move"`
	Rank         float64   `json:"rank"`
}

// StrategyRationale is the deterministic arm-selection explanation.
type StrategyRationale struct {
	SelectedArm Arm      `json:"selected_arm"`
	Reason      string   `json:"reason"`
	GatingFacts []string `json:"gating_facts"`
}

// NewsItem is a single deterministic headline entry; never fabricated.
type NewsItem struct {
	Headline  string    `json:"headline"`
	URL       string     `json:"url"`
	Timestamp time.Time `json:"timestamp"`
	Sentiment float64   `json:"sentiment"`
}

// PerfStats is the historical-performance block in WhySelected.
// MedianR/P90R are only populated (non-nil) when Samples >= 20.
type PerfStats struct {
	HorizonDays int      `json:"horizon_days"`
	Samples     int      `json:"samples"`
	HitRate     float64  `json:"hit_rate"`
	AvgWin      float64  `json:"avg_win"`
	AvgLoss     float64  `json:"avg_loss"`
	MedianR     *float64 `json:"median_r"`
	P90R        *float64 `json:"p90_r"`
	MaxDD       float64  `json:"max_dd"`
	Limited     bool     `json:"limited"`
}

// MarketContext is the deterministic market-snapshot block in WhySelected.
// RSI14/ATR14 are nil ("insufficient") when fewer than 20 bars of history
// are available.
type MarketContext struct {
	Price      float64  `json:"price"`
	Spread     float64  `json:"spread"`
	DollarADV  float64  `json:"dollar_adv"`
	RSI14      *float64 `json:"rsi14"`
	ATR14      *float64 `json:"atr14"`
	DataThin   bool     `json:"data_thin"`
}

// WhySelected is the deterministic rationale produced by the fact
// synthesizer; it is always present in a ProposeResponse, LLM success or
// failure.
type WhySelected struct {
	Catalyst       CatalystInfo      `json:"catalyst"`
	Strategy       StrategyRationale `json:"strategy"`
	News           []NewsItem        `json:"news"`
	History        PerfStats         `json:"history"`
	Market         MarketContext     `json:"market"`
	LLMConfidence  float64           `json:"llm_confidence"`
}

// PolicyVerdict is the result of Validate.
type PolicyVerdict struct {
	Verdict      Verdict `json:"verdict"`
	Reason       string  `json:"reason"`
	AdjustedSize int64   `json:"adjusted_size"`
	DecisionID   string  `json:"decision_id"`
}

// RewardLog is the immutable, idempotent record closing the learning loop.
type RewardLog struct {
	DecisionID string         `json:"decision_id"`
	ArmName    Arm            `json:"arm_name"`
	Context    []float64      `json:"context"`
	Reward     float64        `json:"reward"`
	Timestamp  time.Time      `json:"timestamp"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// PolicyParams is the single source of truth for every hard-rule threshold
// the validator enforces; the fact synthesizer's gating_facts reads the
// exact same record so it never claims a pass the validator would reject.
type PolicyParams struct {
	MaxTicket        decimal.Decimal `json:"max_ticket"`
	MaxPositions     int             `json:"max_positions"`
	MaxPerTradeLoss  decimal.Decimal `json:"max_per_trade_loss"`
	DailyKillSwitch  decimal.Decimal `json:"daily_kill_switch"`
	SpreadCentsMax   float64         `json:"spread_cents_max"`
	SpreadBpsMax     float64         `json:"spread_bps_max"`
	SlippageBps      float64         `json:"slippage_bps"`
	PctADVCap        float64         `json:"pct_adv_cap"`
	MinDollarADV     float64         `json:"min_dollar_adv"`
}

// ValidateMarket is the market snapshot supplied to Validate.
type ValidateMarket struct {
	Price        float64 `json:"price"`
	Spread       float64 `json:"spread"`
	AvgDollarVol float64 `json:"avg_dollar_vol"`
}

// PortfolioContext is the caller-supplied portfolio state supplied to
// Validate.
type PortfolioContext struct {
	OpenPositions    int     `json:"open_positions"`
	RealizedPnLToday float64 `json:"realized_pnl_today"`
}

// EventCacheEntry is a cached next-catalyst-event record for a ticker.
type EventCacheEntry struct {
	Ticker    string    `json:"ticker"`
	EventType string    `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"stale,omitempty"`
	Estimated bool      `json:"estimated,omitempty"`
}

// MarketData is the capability set this service needs from a market-data
// provider. Concrete provider SDKs are out of scope; only this contract
// matters (see DESIGN.md and SPEC_FULL.md "duck-typed adapters" fix).
type MarketData interface {
	LastQuote(ticker string) (price, spread float64, ok bool)
	DailyOHLC(ticker string, bars int) ([]OHLCV, error)
	SpreadProxy(ticker string, price float64) float64
}

// News is the capability set this service needs from a news provider.
type News interface {
	Recent(ticker string, since time.Time, max int) ([]NewsItem, error)
}
