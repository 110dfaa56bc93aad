// Package errs defines the error kinds used across the chat core and the
// helpers for classifying and wrapping them.
//
// Every error that crosses a component seam carries one of the kinds below.
// The orchestrator uses the kind to decide whether to degrade (router,
// augmentation, monitoring) or to terminate the pipeline and surface the
// error to the caller.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for propagation policy decisions.
type Kind string

const (
	// KindValidation marks malformed input: bad schema, ill-formed
	// namespace, empty messages. Never retried.
	KindValidation Kind = "validation"

	// KindForbidden marks an authorization failure on an owned resource.
	KindForbidden Kind = "forbidden"

	// KindPremiumRequired marks an attempt to use a pro-only capability
	// from a free plan.
	KindPremiumRequired Kind = "premium_required"

	// KindQuotaExceeded marks an exhausted usage quota.
	KindQuotaExceeded Kind = "quota_exceeded"

	// KindNotFound marks a missing target entity.
	KindNotFound Kind = "not_found"

	// KindUpstreamTransient marks a provider 5xx, timeout, or network
	// error. Retryable when the caller asked for retries.
	KindUpstreamTransient Kind = "upstream_transient"

	// KindUpstreamPermanent marks a provider 4xx. Surfaced, never retried.
	KindUpstreamPermanent Kind = "upstream_permanent"

	// KindInternal marks an invariant violation. Logged with a synthetic
	// id; the caller sees a generic message.
	KindInternal Kind = "internal"
)

// Sentinel errors for the common kinds. Use errors.Is against these.
var (
	ErrValidation      = errors.New("validation failed")
	ErrForbidden       = errors.New("forbidden")
	ErrPremiumRequired = errors.New("premium plan required")
	ErrQuotaExceeded   = errors.New("usage quota exceeded")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
)

// kindedError attaches a Kind to a wrapped error.
type kindedError struct {
	kind Kind
	err  error
}

func (e *kindedError) Error() string { return e.err.Error() }
func (e *kindedError) Unwrap() error { return e.err }

// WithKind wraps err with an explicit kind. Returns nil if err is nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, err: err}
}

// New creates a kinded error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &kindedError{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf classifies err. Explicit kinds win; otherwise the sentinel chain
// is inspected. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *kindedError
	if errors.As(err, &ke) {
		return ke.kind
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrPremiumRequired):
		return KindPremiumRequired
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindValidation
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the error kind suggests a retry may succeed.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUpstreamTransient
}

// Transient wraps err as an upstream-transient failure.
func Transient(err error) error {
	return WithKind(KindUpstreamTransient, err)
}

// Permanent wraps err as an upstream-permanent failure.
func Permanent(err error) error {
	return WithKind(KindUpstreamPermanent, err)
}
