// Package apperr defines the closed error taxonomy shared by all services.
// Handlers map a Kind to an HTTP status; services attach kinds at the point
// where the policy decision is made and wrap upstream causes with %w.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and the HTTP layer.
type Kind int

const (
	// Internal is the zero value: unexpected state, maps to 500.
	Internal Kind = iota
	// Unauthorized means the actor is missing or invalid.
	Unauthorized
	// Forbidden means the actor lacks the required level on the target.
	Forbidden
	// NotFound means the target id is absent.
	NotFound
	// Conflict covers duplicate active public permissions, mirror races, etc.
	Conflict
	// InvalidInput covers bad enums, out-of-set levels, impossible combinations.
	InvalidInput
	// LastOwner means a revoke would leave the resource without an owner.
	LastOwner
	// NotPending means a notification cannot transition from its current status.
	NotPending
	// Timeout means an external call exceeded its budget.
	Timeout
	// UpstreamFailure covers engine, converter, transcript, LLM and embedding errors.
	UpstreamFailure
)

func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case InvalidInput:
		return "invalid_input"
	case LastOwner:
		return "last_owner"
	case NotPending:
		return "not_pending"
	case Timeout:
		return "timeout"
	case UpstreamFailure:
		return "upstream_failure"
	default:
		return "internal"
	}
}

// Error is a kinded error. Use New/Wrap to construct; KindOf to classify.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a kinded error with a formatted message.
func New(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
// A nil cause returns nil.
func Wrap(k Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, walking the wrap chain.
// Unclassified errors report Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries kind k anywhere in its chain.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
