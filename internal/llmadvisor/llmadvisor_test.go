package llmadvisor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/llmadvisor"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

type scriptedClient struct {
	responses []llmadvisor.CompletionResponse
	errs      []error
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, req llmadvisor.CompletionRequest) (llmadvisor.CompletionResponse, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return llmadvisor.CompletionResponse{}, c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return llmadvisor.CompletionResponse{}, errors.New("no more scripted responses")
}

type recordingArtifactWriter struct {
	artifacts []llmadvisor.Artifact
}

func (r *recordingArtifactWriter) WriteArtifact(ctx context.Context, decisionID string, artifact llmadvisor.Artifact) {
	r.artifacts = append(r.artifacts, artifact)
}

func testConfig() types.LLMConfig {
	return types.LLMConfig{
		Model:            "gpt-4o",
		PromptVersion:    "v1",
		SchemaVersion:    "ProposeResponseV1",
		ValidatorVersion: "v1",
		MaxRetries:       2,
		CallTimeout:      2 * time.Second,
	}
}

func samplePolicy() types.PolicyParams {
	return types.PolicyParams{
		MaxTicket:       decimal.NewFromInt(500),
		MaxPerTradeLoss: decimal.NewFromInt(25),
		SpreadCentsMax:  0.05,
		SlippageBps:     10,
	}
}

func sampleRequest() types.DecisionRequest {
	return types.DecisionRequest{Ticker: "AAPL", Price: 192.50, EventType: "EARNINGS", DecisionID: "d1"}
}

func TestProposeParsesValidResponse(t *testing.T) {
	client := &scriptedClient{responses: []llmadvisor.CompletionResponse{
		{Content: `{"entry_type":"limit","entry_price":192.0,"stop_price":188.0,"target_price":198.0,"timeout_days":5,"confidence":0.8,"reason":"earnings momentum"}`},
	}}
	a := llmadvisor.New(zap.NewNop(), client, testConfig(), samplePolicy(), nil)

	result := a.Propose(context.Background(), sampleRequest(), types.ArmEarningsPre, types.WhySelected{})

	if result.Fallback {
		t.Fatal("expected a successful parse, not a fallback")
	}
	if result.Plan.Confidence != 0.8 {
		t.Fatalf("expected confidence 0.8, got %v", result.Plan.Confidence)
	}
	if result.Plan.SchemaVersion != "ProposeResponseV1" {
		t.Fatalf("expected schema_version stamped, got %s", result.Plan.SchemaVersion)
	}
}

func TestProposeStripsCodeFencesAndTrailingCommas(t *testing.T) {
	client := &scriptedClient{responses: []llmadvisor.CompletionResponse{
		{Content: "```json\n{\"entry_type\":\"limit\",\"entry_price\":192.0,\"stop_price\":188.0,\"target_price\":198.0,\"timeout_days\":5,\"confidence\":0.8,\"reason\":\"ok\",}\n```"},
	}}
	a := llmadvisor.New(zap.NewNop(), client, testConfig(), samplePolicy(), nil)

	result := a.Propose(context.Background(), sampleRequest(), types.ArmEarningsPre, types.WhySelected{})

	if result.Fallback {
		t.Fatal("expected light repairs to recover a valid plan, not fall back")
	}
}

func TestProposeRejectsExtraFields(t *testing.T) {
	client := &scriptedClient{responses: []llmadvisor.CompletionResponse{
		{Content: `{"entry_type":"limit","entry_price":192.0,"stop_price":188.0,"target_price":198.0,"timeout_days":5,"confidence":0.8,"reason":"ok","extra_field":"nope"}`},
		{Content: `{"entry_type":"limit","entry_price":192.0,"stop_price":188.0,"target_price":198.0,"timeout_days":5,"confidence":0.8,"reason":"ok","extra_field":"nope"}`},
	}}
	cfg := testConfig()
	cfg.MaxRetries = 2
	a := llmadvisor.New(zap.NewNop(), client, cfg, samplePolicy(), nil)

	start := time.Now()
	result := a.Propose(context.Background(), sampleRequest(), types.ArmEarningsPre, types.WhySelected{})
	elapsed := time.Since(start)

	if !result.Fallback {
		t.Fatal("expected extra-field responses to exhaust retries and fall back")
	}
	if elapsed < 500*time.Millisecond {
		t.Fatalf("expected at least one backoff sleep before falling back, elapsed=%v", elapsed)
	}
}

func TestProposeFallsBackOnTransportFailure(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("connection refused"), errors.New("connection refused")}}
	a := llmadvisor.New(zap.NewNop(), client, testConfig(), samplePolicy(), nil)

	result := a.Propose(context.Background(), sampleRequest(), types.ArmEarningsPre, types.WhySelected{})

	if !result.Fallback {
		t.Fatal("expected fallback on repeated transport failure")
	}
	if result.Plan.Confidence != 0.5 {
		t.Fatalf("expected fallback confidence 0.5, got %v", result.Plan.Confidence)
	}
	if result.Plan.Reason == "" {
		t.Fatal("expected a non-empty fallback reason")
	}
	wantEntry := decimal.NewFromFloat(192.50).Mul(decimal.NewFromFloat(0.995))
	if !result.Plan.EntryPrice.Equal(wantEntry) {
		t.Fatalf("expected fallback entry_price=%s, got %s", wantEntry, result.Plan.EntryPrice)
	}
}

func TestProposeFallsBackOnNilClient(t *testing.T) {
	a := llmadvisor.New(zap.NewNop(), nil, testConfig(), samplePolicy(), nil)

	result := a.Propose(context.Background(), sampleRequest(), types.ArmEarningsPre, types.WhySelected{})

	if !result.Fallback {
		t.Fatal("expected fallback with a nil client")
	}
}

func TestProposeClassifiesTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 1 * time.Millisecond
	cfg.MaxRetries = 1

	client := &slowClient{delay: 50 * time.Millisecond}
	a := llmadvisor.New(zap.NewNop(), client, cfg, samplePolicy(), nil)

	result := a.Propose(context.Background(), sampleRequest(), types.ArmEarningsPre, types.WhySelected{})

	if !result.Fallback {
		t.Fatal("expected fallback on timeout")
	}
	if result.ErrorKind != errs.Timeout {
		t.Fatalf("expected ErrorKind=TIMEOUT, got %s", result.ErrorKind)
	}
}

type slowClient struct{ delay time.Duration }

func (c *slowClient) Complete(ctx context.Context, req llmadvisor.CompletionRequest) (llmadvisor.CompletionResponse, error) {
	select {
	case <-time.After(c.delay):
		return llmadvisor.CompletionResponse{Content: "{}"}, nil
	case <-ctx.Done():
		return llmadvisor.CompletionResponse{}, ctx.Err()
	}
}

func TestProposeCapturesArtifactsWhenDebugEnabled(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("down")}}
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.Debug = true
	writer := &recordingArtifactWriter{}

	a := llmadvisor.New(zap.NewNop(), client, cfg, samplePolicy(), writer)
	a.Propose(context.Background(), sampleRequest(), types.ArmEarningsPre, types.WhySelected{})

	if len(writer.artifacts) == 0 {
		t.Fatal("expected at least one captured artifact on failure with debug enabled")
	}
}
