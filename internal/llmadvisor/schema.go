package llmadvisor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// schemaVersion is stamped on every response; bump alongside any change
// to rawPlan's required fields.
const schemaVersion = "ProposeResponseV1"

// rawPlan mirrors the exact seven fields the system prompt demands. Strict
// decoding (DisallowUnknownFields) enforces "extra fields forbidden" per
// spec.md §4.3.
type rawPlan struct {
	EntryType   string  `json:"entry_type"`
	EntryPrice  float64 `json:"entry_price"`
	StopPrice   float64 `json:"stop_price"`
	TargetPrice float64 `json:"target_price"`
	TimeoutDays int     `json:"timeout_days"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

// repair applies the only two light repairs spec.md §4.3 allows: strip
// code fences and trim trailing commas before the closing brace/bracket.
// Anything else that's malformed is left to fail strict parsing and
// classify as errs.Format.
func repair(content string) string {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	s = trimTrailingCommas(s)
	return s
}

func trimTrailingCommas(s string) string {
	var out bytes.Buffer
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		out.WriteByte(c)
	}
	return out.String()
}

// parsePlan decodes content (after light repair) into a TradePlan,
// enforcing strict schema and the declared value ranges. Any violation
// returns an *errs.E classified as errs.Schema or errs.Format so the
// caller never needs exceptions-for-control-flow to distinguish failure
// modes (spec.md §9's anti-pattern fix).
func parsePlan(ticker string, content string) (types.TradePlan, error) {
	repaired := repair(content)

	dec := json.NewDecoder(strings.NewReader(repaired))
	dec.DisallowUnknownFields()

	var raw rawPlan
	if err := dec.Decode(&raw); err != nil {
		return types.TradePlan{}, errs.Wrap(errs.Format, "malformed LLM JSON response", err)
	}

	if err := validateRaw(raw); err != nil {
		return types.TradePlan{}, err
	}

	entryType := types.EntryType(raw.EntryType)

	return types.TradePlan{
		Ticker:        ticker,
		EntryType:     entryType,
		EntryPrice:    decimal.NewFromFloat(raw.EntryPrice),
		StopPrice:     decimal.NewFromFloat(raw.StopPrice),
		TargetPrice:   decimal.NewFromFloat(raw.TargetPrice),
		TimeoutDays:   raw.TimeoutDays,
		Confidence:    raw.Confidence,
		Reason:        raw.Reason,
		SchemaVersion: schemaVersion,
	}, nil
}

func validateRaw(raw rawPlan) error {
	switch types.EntryType(raw.EntryType) {
	case types.EntryTypeLimit, types.EntryTypeMarket, types.EntryTypeTrigger:
	default:
		return errs.New(errs.Schema, fmt.Sprintf("invalid entry_type %q", raw.EntryType))
	}
	if raw.EntryPrice <= 0 || raw.StopPrice <= 0 || raw.TargetPrice <= 0 {
		return errs.New(errs.Schema, "entry_price/stop_price/target_price must be positive")
	}
	if raw.TimeoutDays < 1 {
		return errs.New(errs.Schema, "timeout_days must be a positive integer")
	}
	if raw.Confidence < 0.5 || raw.Confidence > 1.0 {
		return errs.New(errs.Schema, "confidence must be within [0.5, 1.0]")
	}
	if strings.TrimSpace(raw.Reason) == "" {
		return errs.New(errs.Schema, "reason must not be empty")
	}
	if raw.EntryPrice == raw.StopPrice {
		return errs.New(errs.Schema, "entry_price and stop_price must differ")
	}
	return nil
}
