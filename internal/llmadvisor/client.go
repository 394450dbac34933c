// Package llmadvisor generates LLM-advised TradePlans from the
// deterministic facts computed by internal/facts. See SPEC_FULL.md §4.3.
//
// A concrete model SDK is out of scope (provider-specific clients are a
// Non-goal); Client is the capability this package needs, grounded on
// other_examples/...NeuraTrade__...ai-brain.go.go's llm.Client
// abstraction (its AITradingBrain depends on an llm.Client interface,
// never a concrete provider package).
package llmadvisor

import "context"

// CompletionRequest is the minimal request shape this package needs from
// a chat-completion-style LLM API.
type CompletionRequest struct {
	Model       string
	SystemText  string
	UserText    string
	Temperature float64
}

// CompletionResponse is the minimal response shape: the raw text content
// the model returned, to be schema-validated by this package.
type CompletionResponse struct {
	Content string
}

// Client is the capability set this package needs from an LLM provider.
// Swapping providers means implementing this interface; no duck-typed
// adapter registry is needed since Go's interfaces already provide
// structural typing (see SPEC_FULL.md §9's "duck-typed adapters" fix).
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
