// Package resilience provides the error taxonomy for the sourcing pipeline
// plus retry and circuit breaker patterns for calls to the people source.
//
// Three failure classes surface as typed errors: RateLimitError (admission
// denied before a deadline, retryable after waiting), SourceError (non-success
// response from the source, aborts the current partition), and MalformedError
// (unparseable payload, handled like SourceError). Absence of enrichment data
// is not an error anywhere in the pipeline; it is a nil result.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// RateLimitError reports an admission denied within its timeout. The caller
// may retry after Wait.
type RateLimitError struct {
	Wait time.Duration
	Err  error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit: admission denied (retry after %s): %v", e.Wait, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsRateLimited returns true if the error chain contains a RateLimitError.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// SourceError reports a non-success transport or HTTP outcome from the
// people source. It carries enough context to identify the failed request:
// the operation, a human-readable query description, and the 1-based page
// number (0 for unpaged operations).
type SourceError struct {
	Op         string // "search", "match", "health"
	Query      string
	Page       int
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("source %s failed (query %q, page %d, status %d): %v",
			e.Op, e.Query, e.Page, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("source %s failed (query %q, status %d): %v", e.Op, e.Query, e.StatusCode, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// MalformedError reports a payload the client could not parse. Treated the
// same as SourceError by the campaign loop.
type MalformedError struct {
	Op    string
	Query string
	Err   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("source %s returned malformed payload (query %q): %v", e.Op, e.Query, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsSourceFailure returns true for SourceError or MalformedError in the
// chain; both abort the current partition.
func IsSourceFailure(err error) bool {
	var se *SourceError
	var me *MalformedError
	return errors.As(err, &se) || errors.As(err, &me)
}

// TransientError wraps an error that is safe to retry (429, 5xx, network
// timeout) with an optional HTTP status code.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error chain contains a TransientError or a
// RateLimitError, a network timeout, or a connection-level failure that a
// later attempt may not hit.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if IsRateLimited(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Heuristics for errors already flattened to strings by HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the status code indicates a
// server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
