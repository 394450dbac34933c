// Package telemetry implements spec.md §4.8's counters, latency
// histograms, and calibration tracking, plus a concrete ArtifactWriter
// for internal/llmadvisor's debug capture. Counter/histogram naming is
// the "unchanged counters" list the spec names verbatim: parse_ok,
// parse_fail, schema_fail, transport_fail, timeout, fallback_used.
//
// The teacher's go.mod already declares prometheus/client_golang but
// never imports it anywhere in the repo; this package is where that
// dependency finally gets wired in, per SPEC_FULL.md's dependency table.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/atlas-desktop/trading-backend/internal/errs"
)

// Outcome classifies a single propose attempt for the counter vector,
// mirroring internal/errs.Kind plus the two outcomes errs has no Kind
// for (a clean parse, and the fallback path being used).
type Outcome string

const (
	OutcomeParseOK      Outcome = "parse_ok"
	OutcomeParseFail    Outcome = "parse_fail"
	OutcomeSchemaFail   Outcome = "schema_fail"
	OutcomeTransportFail Outcome = "transport_fail"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeFallbackUsed Outcome = "fallback_used"
)

// Metrics owns every Prometheus collector this service exposes on
// /metrics, registered against a private registry so tests can spin up
// independent instances without colliding on the global default
// registerer.
type Metrics struct {
	registry *prometheus.Registry

	proposeOutcomes *prometheus.CounterVec
	proposeLatency  prometheus.Histogram
	banditUpdates   prometheus.Counter
	rewardDuplicate prometheus.Counter
	validatorVerdicts *prometheus.CounterVec

	calibration *Calibration
	fallback    *rollingRate
}

// New constructs a Metrics instance with its own registry, and a
// rolling fallback-rate window sized per spec.md §4.8's SLO window.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		proposeOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_decision",
			Name:      "propose_outcomes_total",
			Help:      "Count of propose attempts by outcome (parse_ok, parse_fail, schema_fail, transport_fail, timeout, fallback_used).",
		}, []string{"outcome"}),
		proposeLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading_decision",
			Name:      "propose_latency_seconds",
			Help:      "End-to-end propose() latency, used for the p50/p95 SLO.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 2.5, 3, 5, 10},
		}),
		banditUpdates: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "trading_decision",
			Name:      "bandit_updates_total",
			Help:      "Number of bandit.update calls applied.",
		}),
		rewardDuplicate: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "trading_decision",
			Name:      "reward_duplicate_total",
			Help:      "Number of reward submissions rejected as duplicates by the idempotency key.",
		}),
		validatorVerdicts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading_decision",
			Name:      "policy_verdicts_total",
			Help:      "Count of policy.Validate outcomes by verdict reason.",
		}, []string{"reason"}),
		calibration: newCalibration(1000),
		fallback:    newRollingRate(1000),
	}

	return m
}

// Registry exposes the underlying *prometheus.Registry for wiring into
// promhttp.HandlerFor in internal/api.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordOutcome increments the named outcome counter and, for
// fallback_used, updates the rolling fallback_rate window.
func (m *Metrics) RecordOutcome(o Outcome) {
	m.proposeOutcomes.WithLabelValues(string(o)).Inc()
	if o == OutcomeFallbackUsed {
		m.fallback.record(true)
	} else if o == OutcomeParseOK {
		m.fallback.record(false)
	}
}

// RecordErrorKind maps an errs.Kind to the matching outcome counter,
// for callers that only have an errs.Kind (e.g. the orchestrator
// catching a classified llmadvisor failure) rather than an Outcome.
func (m *Metrics) RecordErrorKind(k errs.Kind) {
	switch k {
	case errs.Schema:
		m.RecordOutcome(OutcomeSchemaFail)
	case errs.Transport, errs.Internal:
		m.RecordOutcome(OutcomeTransportFail)
	case errs.Timeout:
		m.RecordOutcome(OutcomeTimeout)
	case errs.Format:
		m.RecordOutcome(OutcomeParseFail)
	}
}

// ObserveProposeLatency records one propose() call's wall-clock time.
func (m *Metrics) ObserveProposeLatency(d time.Duration) {
	m.proposeLatency.Observe(d.Seconds())
}

// RecordBanditUpdate increments the bandit-update counter.
func (m *Metrics) RecordBanditUpdate() { m.banditUpdates.Inc() }

// RecordRewardDuplicate increments the duplicate-reward counter.
func (m *Metrics) RecordRewardDuplicate() { m.rewardDuplicate.Inc() }

// RecordVerdict increments the policy verdict counter for reason,
// "approved" for a passing verdict.
func (m *Metrics) RecordVerdict(reason string) {
	m.validatorVerdicts.WithLabelValues(reason).Inc()
}

// RecordDecision feeds a realized (confidence, won) pair into the
// calibration tracker, called from the reward path once a RewardLog row
// has been accepted.
func (m *Metrics) RecordDecision(confidence float64, won bool) {
	m.calibration.record(confidence, won)
}

// FallbackRate returns the rolling fraction of propose() calls over the
// last N attempts that used the fallback plan, per spec.md §4.8's
// fallback_rate ≤ 0.05 SLO.
func (m *Metrics) FallbackRate() float64 { return m.fallback.rate() }

// CalibrationSnapshot returns the current ECE/Brier estimate, per
// spec.md §4.8's ECE ≤ 0.10 SLO.
func (m *Metrics) CalibrationSnapshot() CalibrationSnapshot { return m.calibration.snapshot() }

// Degraded reports whether any SLO in spec.md §4.8 is currently
// breached, for the API's auto-degrade flag.
func (m *Metrics) Degraded() bool {
	snap := m.CalibrationSnapshot()
	if m.FallbackRate() > 0.05 {
		return true
	}
	if snap.Samples >= 20 && snap.ECE > 0.10 {
		return true
	}
	return false
}
