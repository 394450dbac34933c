// Package orchestrator sequences propose/analyze/quick/validate/reward
// per SPEC_FULL.md §4.5, wiring the bandit, fact synthesizer, LLM
// advisor, policy validator, storage, and telemetry packages behind a
// single coherent API. Struct shape (logger, config, component fields,
// metrics) is grounded on the teacher's internal/orchestrator/
// orchestrator.go; the PhD-pipeline-specific component wiring there is
// replaced wholesale with this service's own collaborators.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/bandit"
	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/eventcache"
	"github.com/atlas-desktop/trading-backend/internal/facts"
	"github.com/atlas-desktop/trading-backend/internal/llmadvisor"
	"github.com/atlas-desktop/trading-backend/internal/policy"
	"github.com/atlas-desktop/trading-backend/internal/storage"
	"github.com/atlas-desktop/trading-backend/internal/telemetry"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Orchestrator is the decision service's single entry point, holding one
// instance of every collaborator named in SPEC_FULL.md §2.
type Orchestrator struct {
	logger *zap.Logger

	bandit    *bandit.Registry
	facts     *facts.Synthesizer
	advisor   *llmadvisor.Advisor
	validator *policy.Validator
	rewards   *storage.RewardRepository
	events    *eventcache.Resolver
	metrics   *telemetry.Metrics

	marketData types.MarketData
	news       types.News

	contextDim    int
	proposeBudget time.Duration
}

// New constructs an Orchestrator from its already-initialized
// collaborators. marketData/news may be nil test doubles in deployments
// that only exercise the propose(DecisionRequest) path directly (analyze
// and quick require real ones). events may be nil, in which case
// Analyze falls back to a hardcoded default event window instead of
// resolving one.
func New(
	logger *zap.Logger,
	banditRegistry *bandit.Registry,
	synthesizer *facts.Synthesizer,
	advisor *llmadvisor.Advisor,
	validator *policy.Validator,
	rewards *storage.RewardRepository,
	events *eventcache.Resolver,
	metrics *telemetry.Metrics,
	marketData types.MarketData,
	news types.News,
	contextDim int,
	proposeBudget time.Duration,
) *Orchestrator {
	if proposeBudget <= 0 {
		proposeBudget = 15 * time.Second
	}
	return &Orchestrator{
		logger:        logger,
		bandit:        banditRegistry,
		facts:         synthesizer,
		advisor:       advisor,
		validator:     validator,
		rewards:       rewards,
		events:        events,
		metrics:       metrics,
		marketData:    marketData,
		news:          news,
		contextDim:    contextDim,
		proposeBudget: proposeBudget,
	}
}

// ProposeResponse is the propose/analyze contract, per spec.md §7.
type ProposeResponse struct {
	SelectedArm   types.Arm         `json:"selected_arm"`
	Plan          types.TradePlan   `json:"plan"`
	DecisionID    string            `json:"decision_id"`
	Analysis      types.WhySelected `json:"analysis"`
	SchemaVersion string            `json:"schema_version"`
}

// Propose implements spec.md §4.5's `propose`: facts → bandit.select →
// LLM → compose response.
func (o *Orchestrator) Propose(ctx context.Context, req types.DecisionRequest) (ProposeResponse, error) {
	start := time.Now()
	defer func() { o.metrics.ObserveProposeLatency(time.Since(start)) }()

	if req.DecisionID == "" {
		return ProposeResponse{}, errs.New(errs.Validation, "decision_id is required")
	}
	if len(req.Context) != o.contextDim {
		return ProposeResponse{}, errs.New(errs.Validation, fmt.Sprintf("context length %d does not match dimension %d", len(req.Context), o.contextDim))
	}
	for _, v := range req.Context {
		if !isFinite(v) {
			return ProposeResponse{}, errs.New(errs.Validation, "context contains a non-finite value")
		}
	}

	budgetCtx, cancel := context.WithTimeout(ctx, o.proposeBudget)
	defer cancel()

	result := o.facts.Synthesize(req, o.marketData, o.news)
	for _, w := range result.Warnings {
		o.logger.Warn("fact synthesis warning", zap.String("decision_id", req.DecisionID), zap.String("warning", w))
	}

	state, err := o.bandit.Get(o.contextDim)
	if err != nil {
		return ProposeResponse{}, errs.Wrap(errs.Internal, "bandit state unavailable", err)
	}

	arm, _, err := state.Select(req.Context)
	if err != nil {
		return ProposeResponse{}, errs.Wrap(errs.Internal, "bandit select failed", err)
	}

	o.facts.FillRationale(&result.Analysis, arm)

	var adviceResult llmadvisor.Result
	if o.metrics.Degraded() {
		// spec.md §4.8's auto-degrade circuit breaker: once the rolling
		// fallback rate or calibration error breaches its SLO, stop
		// spending retries/latency on a model already shown unhealthy
		// and go straight to the deterministic fallback plan.
		o.logger.Warn("auto-degrade active; skipping LLM call", zap.String("decision_id", req.DecisionID))
		adviceResult = o.advisor.DegradedFallback(budgetCtx, req, req.DecisionID)
	} else {
		adviceResult = o.advisor.Propose(budgetCtx, req, arm, result.Analysis)
	}
	o.recordAdviceOutcome(adviceResult)

	result.Analysis.LLMConfidence = adviceResult.Plan.Confidence

	return ProposeResponse{
		SelectedArm:   arm,
		Plan:          adviceResult.Plan,
		DecisionID:    req.DecisionID,
		Analysis:      result.Analysis,
		SchemaVersion: "ProposeResponseV1",
	}, nil
}

func (o *Orchestrator) recordAdviceOutcome(r llmadvisor.Result) {
	if r.Fallback {
		o.metrics.RecordOutcome(telemetry.OutcomeFallbackUsed)
		if r.ErrorKind != "" {
			o.metrics.RecordErrorKind(r.ErrorKind)
		}
		return
	}
	o.metrics.RecordOutcome(telemetry.OutcomeParseOK)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
