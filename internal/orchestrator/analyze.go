package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Analyze implements spec.md §4.5's `analyze(ticker)` convenience
// endpoint: fetch a candidate snapshot via MarketData/News/EventCache,
// synthesize a DecisionRequest, auto-generate decision_id, then run the
// same path as Propose.
func (o *Orchestrator) Analyze(ctx context.Context, ticker string) (ProposeResponse, error) {
	if o.marketData == nil {
		return ProposeResponse{}, errs.New(errs.Internal, "no market data collaborator configured")
	}

	price, spread, ok := o.marketData.LastQuote(ticker)
	if !ok {
		return ProposeResponse{}, errs.New(errs.NotFound, fmt.Sprintf("no quote available for %s", ticker))
	}

	eventType := "EARNINGS"
	daysToEvent := 7.0
	var eventTime *time.Time
	if o.events != nil {
		entry, err := o.events.NextEvent(ctx, ticker)
		if err != nil {
			return ProposeResponse{}, errs.Wrap(errs.Internal, "event cache lookup failed", err)
		}
		eventType = entry.EventType
		t := entry.EventTime
		eventTime = &t
		daysToEvent = time.Until(entry.EventTime).Hours() / 24
		if daysToEvent < 0 {
			daysToEvent = 0
		}
	}

	var newsSummary string
	if o.news != nil {
		items, err := o.news.Recent(ticker, time.Now().Add(-7*24*time.Hour), 1)
		if err == nil && len(items) > 0 {
			newsSummary = items[0].Headline
		}
	}

	dollarADV := o.marketData.SpreadProxy(ticker, price)

	req := types.DecisionRequest{
		Ticker:       ticker,
		Price:        price,
		EventType:    eventType,
		EventTime:    eventTime,
		DaysToEvent:  daysToEvent,
		ExpectedMove: 0.04,
		RankComponents: map[string]float64{
			"materiality": 0.5,
		},
		BacktestKPIs: types.BacktestKPIs{HitRate: 0.5, Samples: 0},
		Liquidity:    dollarADV,
		Spread:       spread,
		NewsSummary:  newsSummary,
		Context:      syntheticContext(o.contextDim, price, spread, daysToEvent),
		DecisionID:   generateDecisionID(ticker),
	}

	return o.Propose(ctx, req)
}

// syntheticContext builds a deterministic placeholder context vector for
// analyze(), since the caller supplies no context vector of its own. Real
// deployments wiring a feature store would replace this; this repo's
// concern is the decision pipeline, not feature engineering.
func syntheticContext(d int, price, spread, daysToEvent float64) []float64 {
	x := make([]float64, d)
	if d > 0 {
		x[0] = clip01(price / 1000)
	}
	if d > 1 {
		x[1] = clip01(spread)
	}
	if d > 2 {
		x[2] = clip01(daysToEvent / 30)
	}
	return x
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// generateDecisionID mints a decision_id for convenience endpoints that
// don't accept a caller-supplied one, hashed from ticker + wall-clock so
// repeated calls don't collide.
func generateDecisionID(ticker string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s-%d", ticker, time.Now().UnixNano())))
	return "auto-" + hex.EncodeToString(h[:8])
}
