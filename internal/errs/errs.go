// Package errs provides the typed error taxonomy boundary endpoints
// translate to status codes. Errors carry a Kind instead of being
// distinguished by type-switch or string-matching, so downstream code
// branches on a single enum rather than on exception identity.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy every component-boundary failure classifies
// into.
type Kind string

const (
	Validation     Kind = "VALIDATION"
	NotFound       Kind = "NOT_FOUND"
	RateLimit      Kind = "RATE_LIMIT"
	Transport      Kind = "TRANSPORT"
	Timeout        Kind = "TIMEOUT"
	Format         Kind = "FORMAT"
	Schema         Kind = "SCHEMA"
	PolicyOverride Kind = "POLICY_OVERRIDE"
	Conflict       Kind = "CONFLICT"
	Internal       Kind = "INTERNAL"
)

// E is a classified error. DecisionID is attached when one has been
// minted, so every boundary error response can echo it per spec.
type E struct {
	Kind       Kind
	Message    string
	DecisionID string
	Err        error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

// New creates a classified error with no wrapped cause.
func New(kind Kind, message string) *E {
	return &E{Kind: kind, Message: message}
}

// Wrap creates a classified error around an underlying cause.
func Wrap(kind Kind, message string, err error) *E {
	return &E{Kind: kind, Message: message, Err: err}
}

// WithDecisionID returns a copy of e carrying the given decision_id.
func (e *E) WithDecisionID(id string) *E {
	cp := *e
	cp.DecisionID = id
	return &cp
}

// As extracts the Kind of err if it is (or wraps) an *E; ok is false for
// any other error, in which case callers should treat it as Internal.
func As(err error) (kind Kind, ok bool) {
	var e *E
	if ok = errors.As(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

// HTTPStatus maps a Kind to the boundary status code per spec §7.
func HTTPStatus(k Kind) int {
	switch k {
	case Validation:
		return 422
	case NotFound:
		return 404
	case RateLimit:
		return 429
	case Timeout:
		return 504
	case Conflict:
		return 200 // duplicate_ignored is a successful idempotent response
	case Transport, Internal, Format, Schema, PolicyOverride:
		return 500
	default:
		return 500
	}
}
