package orchestrator

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// QuickResponse is spec.md §4.5's `quick(ticker)` fast-path contract:
// deterministic textual summary only, no LLM call, no bandit.select.
type QuickResponse struct {
	Ticker       string  `json:"ticker"`
	Price        float64 `json:"price"`
	AnalysisText string  `json:"analysis_text"`
}

// Quick implements spec.md §4.5's `quick`: a cheap, LLM-free, bandit-free
// summary suitable for high-frequency polling (separate cache policy
// from propose/analyze).
func (o *Orchestrator) Quick(ctx context.Context, ticker string) (QuickResponse, error) {
	if o.marketData == nil {
		return QuickResponse{}, errs.New(errs.Internal, "no market data collaborator configured")
	}

	price, spread, ok := o.marketData.LastQuote(ticker)
	if !ok {
		return QuickResponse{}, errs.New(errs.NotFound, fmt.Sprintf("no quote available for %s", ticker))
	}

	req := types.DecisionRequest{
		Ticker:       ticker,
		Price:        price,
		Spread:       spread,
		BacktestKPIs: types.BacktestKPIs{},
	}

	result := o.facts.Synthesize(req, o.marketData, o.news)
	text := fmt.Sprintf(
		"%s at %.2f, spread %.4f, dollar ADV %.0f. %d gating facts. %s",
		ticker, price, spread, result.Analysis.Market.DollarADV,
		len(result.Analysis.Strategy.GatingFacts), quickHeadline(result.Analysis),
	)

	return QuickResponse{Ticker: ticker, Price: price, AnalysisText: text}, nil
}

func quickHeadline(analysis types.WhySelected) string {
	if len(analysis.News) == 0 {
		return "no recent news."
	}
	return "latest: " + analysis.News[0].Headline
}
