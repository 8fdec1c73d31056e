// Package stterror classifies STT pipeline failures and drives the
// retry and threshold-alert policy.
package stterror

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorType is the failure taxonomy for adapter and engine errors.
type ErrorType string

const (
	TypeInitialization ErrorType = "initialization"
	TypeConnection     ErrorType = "connection"
	TypeAuthentication ErrorType = "authentication"
	TypeRateLimit      ErrorType = "rate_limit"
	TypeQuotaExceeded  ErrorType = "quota_exceeded"
	TypeInvalidRequest ErrorType = "invalid_request"
	TypeProvider       ErrorType = "provider"
	TypeNetwork        ErrorType = "network"
	TypeTimeout        ErrorType = "timeout"
	TypeUnknown        ErrorType = "unknown"
)

// Severity ranks how serious an error is. Critical errors are never
// retried and always surface immediately.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityFor maps each error type to its assigned severity.
func severityFor(t ErrorType) Severity {
	switch t {
	case TypeInitialization, TypeAuthentication:
		return SeverityCritical
	case TypeQuotaExceeded, TypeInvalidRequest, TypeProvider:
		return SeverityHigh
	case TypeConnection, TypeNetwork, TypeRateLimit, TypeUnknown:
		return SeverityMedium
	case TypeTimeout:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// retryableTypes are the only types eligible for retry; critical
// severity overrides and disables retry regardless of type.
var retryableTypes = map[ErrorType]bool{
	TypeConnection: true,
	TypeNetwork:    true,
	TypeTimeout:    true,
	TypeRateLimit:  true,
}

// STTError is a classified pipeline error. RetryCount is the only field
// mutated after creation, besides resolution bookkeeping.
type STTError struct {
	ID         string    `json:"id"`
	Type       ErrorType `json:"type"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Retryable  bool      `json:"retryable"`
	RetryCount int       `json:"retryCount"`
	MaxRetries int       `json:"maxRetries"`
	Resolved   bool      `json:"resolved"`
	ResolvedAt time.Time `json:"resolvedAt,omitempty"`

	cause error
}

// New creates a classified error.
func New(t ErrorType, provider, operation, message string) *STTError {
	sev := severityFor(t)
	return &STTError{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  sev,
		Message:   message,
		Provider:  provider,
		Operation: operation,
		Timestamp: time.Now(),
		Retryable: retryableTypes[t] && sev != SeverityCritical,
	}
}

// Wrap creates a classified error preserving the underlying cause.
func Wrap(t ErrorType, provider, operation string, err error) *STTError {
	e := New(t, provider, operation, err.Error())
	e.cause = err
	return e
}

func (e *STTError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s error during %s: %s", e.Provider, e.Type, e.Operation, e.Message)
	}
	return fmt.Sprintf("%s error during %s: %s", e.Type, e.Operation, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *STTError) Unwrap() error { return e.cause }

// IsCritical reports whether the error must surface immediately.
func (e *STTError) IsCritical() bool { return e.Severity == SeverityCritical }

// Classify converts an arbitrary error into an STTError. Already
// classified errors pass through unchanged; otherwise the message is
// matched against known transport failure patterns.
func Classify(err error, provider, operation string) *STTError {
	var se *STTError
	if errors.As(err, &se) {
		return se
	}

	msg := strings.ToLower(err.Error())
	t := TypeUnknown
	switch {
	case strings.Contains(msg, "credential") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "unauthenticated") || strings.Contains(msg, "permission denied"):
		t = TypeAuthentication
	case strings.Contains(msg, "quota"):
		t = TypeQuotaExceeded
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		t = TypeRateLimit
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out"):
		t = TypeTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe"):
		t = TypeConnection
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "unavailable"):
		t = TypeNetwork
	case strings.Contains(msg, "invalid"):
		t = TypeInvalidRequest
	}
	return Wrap(t, provider, operation, err)
}
