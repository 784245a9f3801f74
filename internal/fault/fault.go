// Package fault defines the error taxonomy shared by the indexing pipeline,
// the embedding gateway, the retriever, and the answer composer.
//
// Every failure is classified into one of four kinds. The kind decides what
// the caller (HTTP handler, queue consumer, retry policy) does next:
//
//	Invalid     — malformed input; never retried, surfaced immediately
//	Transient   — remote-dependency failure; retried with backoff
//	RateLimited — provider throttling; retried honoring any retry hint
//	Exhausted   — retry budget spent; terminal, dead-lettered or surfaced
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for retry and surfacing decisions.
type Kind int

const (
	// KindInvalid marks malformed input. Retrying cannot succeed.
	KindInvalid Kind = iota
	// KindTransient marks a remote-dependency failure worth retrying.
	KindTransient
	// KindRateLimited marks provider throttling. Retry after a delay.
	KindRateLimited
	// KindExhausted marks a terminal failure after the retry budget was spent.
	KindExhausted
)

// String returns the lowercase label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Error is a classified error carrying the operation that failed and the
// underlying cause. It supports errors.Is/errors.As unwrapping.
type Error struct {
	// Op names the failed operation (e.g. "index.upsert", "embed.batch").
	Op string
	// Kind classifies the failure.
	Kind Kind
	// RetryAfter is an optional delay hint from a rate-limited provider.
	// Zero means no hint was given.
	RetryAfter time.Duration
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Invalid constructs a KindInvalid error from a format string.
func Invalid(op, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindInvalid, Err: fmt.Errorf(format, args...)}
}

// Transient constructs a KindTransient error wrapping cause.
func Transient(op string, cause error) *Error {
	return &Error{Op: op, Kind: KindTransient, Err: cause}
}

// RateLimited constructs a KindRateLimited error with an optional retry hint.
func RateLimited(op string, retryAfter time.Duration, cause error) *Error {
	return &Error{Op: op, Kind: KindRateLimited, RetryAfter: retryAfter, Err: cause}
}

// Exhausted constructs a KindExhausted error wrapping the last attempt's cause.
func Exhausted(op string, cause error) *Error {
	return &Error{Op: op, Kind: KindExhausted, Err: cause}
}

// KindOf extracts the Kind from err. Unclassified errors default to
// KindTransient so that unknown remote failures are retried rather than
// silently dropped.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// Retryable reports whether the retry layer may re-attempt after err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}

// RetryHint returns the provider-supplied retry delay for err, or zero.
func RetryHint(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}
