package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/chorushq/chorus/internal/errs"
)

// isRetryableUpstreamError classifies upstream failures worth retrying:
// rate limits, 5xx, timeouts, and connection errors. Authentication and
// validation failures are permanent.
func isRetryableUpstreamError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") {
		return true
	}
	if strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "gateway timeout") {
		return true
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}

// classifyUpstreamError tags an upstream error with the transient or
// permanent kind.
func classifyUpstreamError(err error) error {
	if err == nil {
		return nil
	}
	if isRetryableUpstreamError(err) {
		return errs.Transient(err)
	}
	return errs.Permanent(err)
}
