package cascade

import (
	"fmt"

	"github.com/jordanhubbard/cascade/guardrails"
	"github.com/jordanhubbard/cascade/provider"
)

// ErrorKind is the closed set of failure classes surfaced to callers.
type ErrorKind string

const (
	KindConfig             ErrorKind = "config"
	KindUnsupportedFeature ErrorKind = "unsupported_feature"
	KindRateLimited        ErrorKind = "rate_limited"
	KindGuardrail          ErrorKind = "guardrail"
	KindProvider           ErrorKind = "provider"
	KindTimeout            ErrorKind = "timeout"
	KindCancelled          ErrorKind = "cancelled"
	KindBudgetExceeded     ErrorKind = "budget_exceeded"
)

// Error is the caller-visible failure type. Partial carries the result
// populated up to the failure point, so cost attribution for a paid drafter
// call survives a verifier failure.
type Error struct {
	Kind    ErrorKind
	Message string

	// RetryAfterSeconds is set for KindRateLimited.
	RetryAfterSeconds int

	// Findings is set for KindGuardrail.
	Findings []guardrails.Finding

	// Provider is set for KindProvider.
	Provider *provider.Error

	// Partial is the result populated up to the failure point; may be nil.
	Partial *Result

	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func configError(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}
