package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// Kind classifies an error orthogonally to the phase it occurred in.
type Kind string

const (
	// KindInput covers validation and canonicalization failures. Never
	// retried; terminal.
	KindInput Kind = "input"
	// KindTransient covers network, 5xx, timeout, and rate-limit errors.
	// Retried under policy.
	KindTransient Kind = "transient"
	// KindData covers schema violations and unresolved references. One
	// repair attempt, then terminal.
	KindData Kind = "data"
	// KindBusiness covers slug conflicts, below-floor completeness, and
	// unresolved ambiguity. Terminal with a distinct status.
	KindBusiness Kind = "business"
	// KindDependency covers soft-skip failures (graph sync, link cleanse)
	// that are recorded but do not block success.
	KindDependency Kind = "dependency"
)

// Adapter error codes shared across the vendor clients.
const (
	CodeRateLimited   = "RATE_LIMITED"
	CodeUpstream5xx   = "UPSTREAM_5XX"
	CodeCircuitOpen   = "CIRCUIT_OPEN"
	CodeEmpty         = "EMPTY"
	CodeFetchFail     = "FETCH_FAIL"
	CodePaywall       = "PAYWALL"
	CodeNotFound      = "NOT_FOUND"
	CodeSchemaInvalid = "SCHEMA_INVALID"
	CodeTimedOut      = "TIMED_OUT"
	CodeContentPolicy = "CONTENT_POLICY"
	CodeSlugConflict  = "SLUG_CONFLICT"
	CodeConstraint    = "CONSTRAINT"
	CodeBelowFloor    = "BELOW_FLOOR"
	CodeAmbiguous     = "AMBIGUOUS"
)

// AppError carries the taxonomy kind and adapter code for an error, plus an
// optional retry-after hint from vendor rate limiting.
type AppError struct {
	Kind       Kind
	Code       string
	Err        error
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError builds a classified error.
func NewAppError(kind Kind, code string, err error) *AppError {
	return &AppError{Kind: kind, Code: code, Err: err}
}

// RateLimited builds a transient rate-limit error with a retry-after hint.
func RateLimited(err error, retryAfter time.Duration) *AppError {
	return &AppError{Kind: KindTransient, Code: CodeRateLimited, Err: err, RetryAfter: retryAfter}
}

// KindOf returns the taxonomy kind of an error chain, defaulting to
// transient for untyped network-looking errors and data otherwise.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindData
}

// CodeOf returns the adapter code of an error chain, or "".
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// RetryAfterOf returns the rate-limit hint of an error chain, or 0.
func RetryAfterOf(err error) time.Duration {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx,
// network timeout) without assigning it an adapter code.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is
// retriable: a transient AppError, a TransientError, or a common network
// failure pattern.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind == KindTransient
	}

	var te *TransientError
	if errors.As(err, &te) {
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

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
