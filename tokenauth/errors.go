package tokenauth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies verification failures
type ErrorKind string

const (
	KindTokenFormat               ErrorKind = "token_format"
	KindKeyServiceUnavailable     ErrorKind = "key_service_unavailable"
	KindKeyNotFound               ErrorKind = "key_not_found"
	KindSignatureValidationFailed ErrorKind = "signature_validation_failed"
	KindTokenExpired              ErrorKind = "token_expired"
	KindClaimsExtractionFailed    ErrorKind = "claims_extraction_failed"
)

// AuthError is the single error type returned by Verify.
// Callers switch on Kind (or use errors.Is with the package sentinels).
type AuthError struct {
	Kind    ErrorKind
	Message string

	// KeyID is the kid that was searched, when known
	KeyID string

	// Strategies lists every strategy attempted and why it failed
	Strategies []StrategyFailure

	Err error
}

// StrategyFailure records why one validation strategy rejected a token
type StrategyFailure struct {
	Strategy string
	Reason   string
}

// Error implements the error interface
func (e *AuthError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.KeyID != "" {
		fmt.Fprintf(&b, " (kid=%s)", e.KeyID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap implements errors.Unwrap
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any *AuthError with the same Kind
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newAuthError(kind ErrorKind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}

var (
	// ErrTokenFormat is returned when the token header cannot be parsed
	ErrTokenFormat = &AuthError{Kind: KindTokenFormat, Message: "invalid token format"}

	// ErrKeyServiceUnavailable is returned when no key endpoint produced a key set
	ErrKeyServiceUnavailable = &AuthError{Kind: KindKeyServiceUnavailable, Message: "signing key service unavailable"}

	// ErrKeyNotFound is returned when no usable key matches the token kid
	ErrKeyNotFound = &AuthError{Kind: KindKeyNotFound, Message: "signing key not found"}

	// ErrSignatureValidationFailed is returned when every strategy rejected the token
	ErrSignatureValidationFailed = &AuthError{Kind: KindSignatureValidationFailed, Message: "token validation failed"}

	// ErrTokenExpired is returned when the token exp is in the past
	ErrTokenExpired = &AuthError{Kind: KindTokenExpired, Message: "token has expired"}

	// ErrClaimsExtractionFailed is returned when the payload cannot be mapped to an identity
	ErrClaimsExtractionFailed = &AuthError{Kind: KindClaimsExtractionFailed, Message: "failed to extract claims"}
)

// KindOf returns the ErrorKind of err, or "" when err is not an AuthError
func KindOf(err error) ErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

// FetchAttempt describes one failed request against a key endpoint
type FetchAttempt struct {
	Endpoint string
	Attempt  int
	Err      error
	Elapsed  time.Duration
}

// FetchError is returned by HTTPKeySource once all endpoints and retries are exhausted
type FetchError struct {
	Attempts []FetchAttempt
}

func (e *FetchError) Error() string {
	if len(e.Attempts) == 0 {
		return "no key endpoints configured"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("all %d key fetch attempts failed, last %s: %v", len(e.Attempts), last.Endpoint, last.Err)
}

// Unwrap returns the last underlying error
func (e *FetchError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}
