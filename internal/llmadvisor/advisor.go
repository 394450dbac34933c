package llmadvisor

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// ArtifactWriter persists a propose attempt's prompt/response for audit.
// Capture is gated by cfg.Debug and a success sample rate, per spec.md
// §4.3's "artifact capture gated by LLM_DEBUG=1 (100% of failures, 5-10%
// sample of successes, redacted)". The Artifact carries the prompts and
// the raw response as they are; nothing in this package redacts them.
// A concrete implementation (filesystem
// or object storage) lives in internal/telemetry; llmadvisor only depends
// on this narrow capability.
type ArtifactWriter interface {
	WriteArtifact(ctx context.Context, decisionID string, artifact Artifact)
}

// Artifact is a single propose attempt's audit record.
type Artifact struct {
	DecisionID   string
	Attempt      int
	SystemPrompt string
	UserPrompt   string
	RawResponse  string
	ErrorKind    string
	Fallback     bool
	Timestamp    time.Time
}

// Result carries the audit stamps spec.md §4.3 requires alongside a
// TradePlan: prompt_version, schema_version, validator_version, and
// whether the fallback path was used.
type Result struct {
	Plan             types.TradePlan
	PromptVersion    string
	SchemaVersion    string
	ValidatorVersion string
	ModelID          string
	Fallback         bool
	Attempts         int
	ErrorKind        errs.Kind
}

// Advisor generates LLM-advised trade plans with bounded retry, strict
// schema validation, and a deterministic fallback.
type Advisor struct {
	logger   *zap.Logger
	client   Client
	cfg      types.LLMConfig
	policy   types.PolicyParams
	artifact ArtifactWriter
}

// New constructs an Advisor. artifact may be nil, in which case no
// artifacts are ever captured regardless of cfg.Debug.
func New(logger *zap.Logger, client Client, cfg types.LLMConfig, policy types.PolicyParams, artifact ArtifactWriter) *Advisor {
	return &Advisor{logger: logger, client: client, cfg: cfg, policy: policy, artifact: artifact}
}

// Propose generates a trade plan for the given request/arm/analysis,
// making up to cfg.MaxRetries attempts in total (at least one), with
// exponential backoff (0.5·2^attempt seconds) between them, before falling
// back to the deterministic plan.
func (a *Advisor) Propose(ctx context.Context, req types.DecisionRequest, arm types.Arm, analysis types.WhySelected) Result {
	if a.client == nil {
		return a.fallback(req, "", errs.Transport)
	}

	systemPrompt := buildSystemPrompt()
	userPrompt := buildUserPrompt(req, arm, analysis, a.policy)

	maxAttempts := a.cfg.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastKind errs.Kind = errs.Transport
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		plan, raw, err := a.attempt(ctx, systemPrompt, userPrompt, req.Ticker)
		a.captureArtifact(ctx, req.DecisionID, attempt, systemPrompt, userPrompt, raw, err, false)

		if err == nil {
			return Result{
				Plan:             plan,
				PromptVersion:    promptVersion,
				SchemaVersion:    schemaVersion,
				ValidatorVersion: a.cfg.ValidatorVersion,
				ModelID:          a.cfg.Model,
				Attempts:         attempt,
			}
		}

		kind, _ := errs.As(err)
		lastKind = kind

		// POLICY_OVERRIDE and SCHEMA failures are the model's output
		// being wrong, not a transient condition — retrying the exact
		// same prompt rarely helps, but spec.md §4.3 bounds retries
		// uniformly at R attempts regardless of error kind, so this
		// loop does not special-case them beyond logging.
		a.logger.Warn("llm propose attempt failed",
			zap.String("decision_id", req.DecisionID), zap.Int("attempt", attempt), zap.String("kind", string(kind)), zap.Error(err))

		if attempt == maxAttempts {
			break
		}
		if !sleepBackoff(ctx, attempt) {
			break
		}
	}

	result := a.fallback(req, req.DecisionID, lastKind)
	result.Attempts = maxAttempts
	a.captureArtifact(ctx, req.DecisionID, maxAttempts, systemPrompt, userPrompt, "", errs.New(lastKind, "exhausted retries"), true)
	return result
}

// DegradedFallback returns the deterministic fallback plan directly,
// bypassing the LLM client and its retry/backoff loop entirely. Callers
// use this once spec.md §4.8's auto-degrade circuit breaker has tripped,
// so a model already shown unhealthy doesn't keep burning latency budget
// attempt after attempt.
func (a *Advisor) DegradedFallback(ctx context.Context, req types.DecisionRequest, decisionID string) Result {
	result := a.fallback(req, decisionID, errs.Transport)
	a.captureArtifact(ctx, decisionID, 0, "", "", "", errs.New(errs.Transport, "auto-degrade active"), true)
	return result
}

func (a *Advisor) attempt(ctx context.Context, systemPrompt, userPrompt, ticker string) (types.TradePlan, string, error) {
	timeout := a.cfg.CallTimeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := a.client.Complete(callCtx, CompletionRequest{
		Model:      a.cfg.Model,
		SystemText: systemPrompt,
		UserText:   userPrompt,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return types.TradePlan{}, "", errs.Wrap(errs.Timeout, "llm call exceeded deadline", err)
		}
		return types.TradePlan{}, "", errs.Wrap(errs.Transport, "llm call failed", err)
	}

	plan, err := parsePlan(ticker, resp.Content)
	if err != nil {
		return types.TradePlan{}, resp.Content, err
	}
	return plan, resp.Content, nil
}

// fallback implements spec.md §4.3's deterministic fallback plan: entry =
// 0.995·price, stop = 0.98·price, target = 1.03·price, timeout_days = 5,
// confidence = 0.5.
func (a *Advisor) fallback(req types.DecisionRequest, decisionID string, kind errs.Kind) Result {
	price := decimal.NewFromFloat(req.Price)
	plan := types.TradePlan{
		Ticker:        req.Ticker,
		EntryType:     types.EntryTypeLimit,
		EntryPrice:    price.Mul(decimal.NewFromFloat(0.995)),
		StopPrice:     price.Mul(decimal.NewFromFloat(0.98)),
		TargetPrice:   price.Mul(decimal.NewFromFloat(1.03)),
		TimeoutDays:   5,
		Confidence:    0.5,
		Reason:        "LLM unavailable — fallback plan",
		SchemaVersion: schemaVersion,
	}
	return Result{
		Plan:             plan,
		PromptVersion:    promptVersion,
		SchemaVersion:    schemaVersion,
		ValidatorVersion: a.cfg.ValidatorVersion,
		ModelID:          a.cfg.Model,
		Fallback:         true,
		ErrorKind:        kind,
	}
}

func (a *Advisor) captureArtifact(ctx context.Context, decisionID string, attempt int, systemPrompt, userPrompt, raw string, err error, fallback bool) {
	if a.artifact == nil || !a.cfg.Debug {
		return
	}
	if err == nil && !shouldSampleSuccess(a.cfg.SuccessSampleRate, decisionID) {
		return
	}
	kind := ""
	if err != nil {
		k, _ := errs.As(err)
		kind = string(k)
	}
	a.artifact.WriteArtifact(ctx, decisionID, Artifact{
		DecisionID:   decisionID,
		Attempt:      attempt,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		RawResponse:  raw,
		ErrorKind:    kind,
		Fallback:     fallback,
		Timestamp:    time.Now(),
	})
}

// shouldSampleSuccess deterministically samples successful attempts by
// hashing decisionID, avoiding a dependency on math/rand for something
// that should be reproducible given the same decision_id.
func shouldSampleSuccess(rate float64, decisionID string) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	h := fnv32(decisionID)
	return float64(h%10000)/10000.0 < rate
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// sleepBackoff sleeps 0.5*2^attempt seconds, returning false if ctx is
// done before the sleep completes. Grounded on the teacher's
// internal/data/market_data.go reconnect-backoff idiom (plain
// time.Sleep loop with an exponential multiplier), not a rate-limiting
// library (see DESIGN.md).
func sleepBackoff(ctx context.Context, attempt int) bool {
	delay := time.Duration(0.5*math.Pow(2, float64(attempt))) * time.Second
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
