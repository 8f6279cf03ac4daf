package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure that is worth retrying: timeouts, throttling
// and server-side errors.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable. statusCode is 0 for network errors.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// QuotaError is a provider-reported quota exhaustion or credential rejection.
// It is never retried: every following call would fail the same way.
type QuotaError struct {
	Err        error
	StatusCode int
}

func (e *QuotaError) Error() string { return e.Err.Error() }
func (e *QuotaError) Unwrap() error { return e.Err }

// NewQuotaError wraps err as a quota/auth failure.
func NewQuotaError(err error, statusCode int) *QuotaError {
	return &QuotaError{Err: err, StatusCode: statusCode}
}

// IsQuotaOrAuth reports whether err carries a QuotaError anywhere in its chain.
func IsQuotaOrAuth(err error) bool {
	var qe *QuotaError
	return err != nil && errors.As(err, &qe)
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err is safe to retry. Quota errors never are,
// even when they also look like a timeout.
func IsTransient(err error) bool {
	if err == nil || IsQuotaOrAuth(err) {
		return false
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

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus returns true for status codes that signal a
// temporary condition on the provider side.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsQuotaHTTPStatus returns true for status codes that mean the credentials
// or the account quota are the problem.
func IsQuotaHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 401, 402, 403:
		return true
	}
	return false
}

// FromHTTPStatus wraps err according to the class of statusCode. Codes that
// are neither transient nor quota-related return err unchanged.
func FromHTTPStatus(err error, statusCode int) error {
	switch {
	case IsQuotaHTTPStatus(statusCode):
		return NewQuotaError(err, statusCode)
	case IsTransientHTTPStatus(statusCode):
		return NewTransientError(err, statusCode)
	}
	return err
}

// Class names the error class of err for progress records and logs:
// "quota", "transient" or "permanent".
func Class(err error) string {
	switch {
	case IsQuotaOrAuth(err):
		return "quota"
	case IsTransient(err):
		return "transient"
	}
	return "permanent"
}
