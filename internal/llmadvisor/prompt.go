package llmadvisor

import (
	"fmt"
	"strings"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// promptVersion is stamped on every response for audit, per spec.md §4.3.
// Bump it whenever the system prompt's instructions change in a way that
// could shift model behavior.
const promptVersion = "v1"

// buildSystemPrompt returns the versioned system instruction. It never
// varies per-request: the model's task is fixed, only the facts change,
// grounded on the teacher-adjacent ai-brain.go's buildSystemPrompt, which
// is templated on a single parameter (strategy) rather than assembled ad
// hoc per call — here there is no per-request templating at all, since
// strict JSON-only output needs a single invariant instruction set (see
// SPEC_FULL.md §9's "dynamic prompt templating" fix).
func buildSystemPrompt() string {
	return `You are a disciplined quantitative trading assistant. Given deterministic market and catalyst facts for one ticker, propose a single short-horizon trade plan.

Respond with ONLY a JSON object, no prose, no markdown code fences. The object must have exactly these fields and no others:
  entry_type: one of "limit", "market", "trigger"
  entry_price: positive number
  stop_price: positive number
  target_price: positive number
  timeout_days: positive integer
  confidence: number between 0.5 and 1.0
  reason: short string (one sentence)

Rules:
- For a long setup: stop_price < entry_price < target_price.
- For a short setup: target_price < entry_price < stop_price.
- entry_price must stay within a few percent of the supplied current price.
- Never exceed the supplied risk constraints.
- Do not include any field beyond the seven listed above.`
}

// buildUserPrompt carries only the numeric facts computed by the fact
// synthesizer, the selected arm, and the constraint envelope — never
// chain-of-thought or free-form narrative, per spec.md §4.3's
// "facts-only payload (no chain-of-thought leakage)".
func buildUserPrompt(req types.DecisionRequest, arm types.Arm, analysis types.WhySelected, policy types.PolicyParams) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Ticker: %s\nCurrent price: %.4f\nSelected strategy arm: %s\n\n", req.Ticker, req.Price, arm)

	fmt.Fprintf(&b, "Catalyst: %s in %.1f days, expected move %.2f%%, rank %.0f/100\n",
		analysis.Catalyst.EventType, analysis.Catalyst.DaysToEvent, analysis.Catalyst.ExpectedMove*100, analysis.Catalyst.Rank)

	fmt.Fprintf(&b, "Market: price=%.4f spread=%.4f dollar_adv=%.0f", analysis.Market.Price, analysis.Market.Spread, analysis.Market.DollarADV)
	if analysis.Market.RSI14 != nil {
		fmt.Fprintf(&b, " rsi14=%.1f", *analysis.Market.RSI14)
	} else {
		b.WriteString(" rsi14=insufficient")
	}
	if analysis.Market.ATR14 != nil {
		fmt.Fprintf(&b, " atr14=%.4f", *analysis.Market.ATR14)
	} else {
		b.WriteString(" atr14=insufficient")
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "History: samples=%d hit_rate=%.2f avg_win=%.2f avg_loss=%.2f\n\n",
		analysis.History.Samples, analysis.History.HitRate, analysis.History.AvgWin, analysis.History.AvgLoss)

	fmt.Fprintf(&b, "Constraints: max_ticket=%s max_per_trade_loss=%s spread_cents_max=%.4f slippage_bps=%.1f\n\n",
		policy.MaxTicket.String(), policy.MaxPerTradeLoss.String(), policy.SpreadCentsMax, policy.SlippageBps)

	b.WriteString("Propose a trade plan as JSON per the system instructions.")
	return b.String()
}
