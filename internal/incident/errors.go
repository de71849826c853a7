package incident

import "errors"

// Kind categorizes pipeline failures for callers without an exception
// hierarchy: one tagged error type, one switch at the HTTP boundary.
type Kind string

const (
	// KindAuth means the webhook signature was bad or missing. No side effects.
	KindAuth Kind = "authentication"

	// KindUpstream means an external dependency (decision service, VCS) was
	// unreachable or failed after retries.
	KindUpstream Kind = "upstream_unavailable"

	// KindPolicyBlocked means the decision service did not confirm approval.
	KindPolicyBlocked Kind = "policy_blocked"

	// KindStateMissing means the referenced incident has no stored state.
	KindStateMissing Kind = "state_missing"

	// KindInternal covers store and encoding failures local to mend.
	KindInternal Kind = "internal"
)

// Error is a categorized pipeline error with optional context details.
type Error struct {
	Kind    Kind
	Msg     string
	Details map[string]any
	Err     error
}

// E builds an Error of the given kind.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Msg
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// With attaches a context detail and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf extracts the Kind from err, or KindInternal for uncategorized errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
