// Package api provides the resilient HTTP client for the odavl backend:
// auth-header injection, automatic retry with exponential backoff, failure
// classification, and offline queueing of requests that never reached the
// server.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, api.ErrAuthentication) to check.
var (
	// ErrAuthentication: missing, invalid, or expired credentials.
	// The caller must re-login; retrying cannot help.
	ErrAuthentication = errors.New("api: authentication failed")
	// ErrQuotaExceeded: the account is over its usage limit. Not retryable.
	ErrQuotaExceeded = errors.New("api: quota exceeded")
	// ErrRateLimited: the server asked us to slow down. Retryable after the
	// RetryAfter hint on the wrapping APIError.
	ErrRateLimited = errors.New("api: rate limited")
	// ErrValidation: the caller supplied bad input. Not retryable.
	ErrValidation = errors.New("api: validation failed")
	// ErrNetwork: no response reached the server. Retryable; triggers
	// offline queueing once retries are exhausted.
	ErrNetwork = errors.New("api: network error")
	// ErrNotFound: the resource does not exist.
	ErrNotFound = errors.New("api: not found")
	// ErrServer: the server failed (5xx).
	ErrServer = errors.New("api: server error")
)

// APIError wraps a sentinel error with the HTTP status code, request ID,
// response body, and rate-limit hint for debugging and caller decisions.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	// RetryAfter is the server's rate-limit hint. Zero unless the sentinel
	// is ErrRateLimited and the server sent a Retry-After header.
	RetryAfter time.Duration
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// QuotaError carries the account's usage position and an upgrade hint.
// Wraps ErrQuotaExceeded.
type QuotaError struct {
	Current    int64
	Limit      int64
	UpgradeURL string
}

func (e *QuotaError) Error() string {
	if e.UpgradeURL != "" {
		return fmt.Sprintf("api: quota exceeded (%d/%d), upgrade at %s", e.Current, e.Limit, e.UpgradeURL)
	}

	return fmt.Sprintf("api: quota exceeded (%d/%d)", e.Current, e.Limit)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// QueuedError reports that a request could not reach the server and was
// placed in the offline queue instead. It is distinguishable from an
// outright failure: callers should report "queued for retry", not "failed".
// Wraps ErrNetwork.
type QueuedError struct {
	// ID is the offline queue entry ID.
	ID string
	// Cause is the transport error that prevented delivery.
	Cause error
}

func (e *QueuedError) Error() string {
	return fmt.Sprintf("api: request queued for retry (queue id %s): %v", e.ID, e.Cause)
}

func (e *QueuedError) Unwrap() error {
	return ErrNetwork
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthentication
	case http.StatusPaymentRequired:
		return ErrQuotaExceeded
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if code >= http.StatusInternalServerError {
			return ErrServer
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
// 4xx codes other than 408 and 429 are caller errors and never retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
