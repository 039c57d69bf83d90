// Package errors provides the standardized error taxonomy shared by the
// gateway adapter, the reconciler and the activation state machine.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeNetwork            ErrorCode = "NETWORK_ERROR"
	ErrCodeUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	ErrCodeValidationRejected ErrorCode = "VALIDATION_REJECTED"
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeServerRejected     ErrorCode = "SERVER_REJECTED"

	// ErrCodeInternal is assigned to errors that did not originate from the taxonomy.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"statusCode,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches another StandardError by code, so errors.Is(err, &StandardError{Code: X}) works.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata attaches a key/value and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewNetworkError creates a retryable transport error for the named operation.
func NewNetworkError(operation string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeNetwork,
		Message:   fmt.Sprintf("Network error during %s", operation),
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewUnauthenticatedError creates a non-retryable error that ends the flow.
func NewUnauthenticatedError(details string) *StandardError {
	return &StandardError{
		Code:       ErrCodeUnauthenticated,
		Message:    "Authentication required",
		Details:    details,
		Retryable:  false,
		StatusCode: http.StatusUnauthorized,
		Timestamp:  time.Now().UTC(),
	}
}

// NewValidationRejectedError creates a non-retryable input error.
func NewValidationRejectedError(message, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationRejected,
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayUnavailableError creates an error for a missing or misconfigured payment provider.
func NewGatewayUnavailableError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayUnavailable,
		Message:   "Payment gateway unavailable",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewServerRejectedError creates an error for a 4xx/5xx backend answer.
// 5xx answers are retryable.
func NewServerRejectedError(statusCode int, message string) *StandardError {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &StandardError{
		Code:       ErrCodeServerRejected,
		Message:    message,
		Details:    fmt.Sprintf("status: %d", statusCode),
		Retryable:  statusCode >= http.StatusInternalServerError,
		StatusCode: statusCode,
		Timestamp:  time.Now().UTC(),
	}
}

// NewInconsistentSnapshotError reports a snapshot that stayed ACTIVE without a
// billing key across every forced re-fetch.
func NewInconsistentSnapshotError(attempts int) *StandardError {
	return &StandardError{
		Code:      ErrCodeServerRejected,
		Message:   "Subscription state is inconsistent",
		Details:   fmt.Sprintf("status ACTIVE without billing key after %d fetches", attempts),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap normalizes any error into a StandardError, keeping existing ones intact.
func Wrap(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// CodeOf returns the taxonomy code of err, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a StandardError marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Retryable
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// GetRetryCount returns how many times a caller may usefully retry the code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeNetwork:
		return 3
	case ErrCodeServerRejected:
		return 1
	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// RecoveryPolicy describes how the orchestrator reacts to an error code.
type RecoveryPolicy string

const (
	RecoverInPlace  RecoveryPolicy = "IN_PLACE" // keep step, let user correct input
	RecoverRetry    RecoveryPolicy = "RETRY"    // keep state, allow retry
	RecoverLogin    RecoveryPolicy = "LOGIN"    // discard onboarding state, redirect to login
	RecoverBlocked  RecoveryPolicy = "BLOCKED"  // step blocked until fixed externally
	RecoverResync   RecoveryPolicy = "RESYNC"   // reconcile and trust the derived step
	RecoverInternal RecoveryPolicy = "INTERNAL"
)

// GetRecoveryPolicy maps a code to its recovery policy.
func GetRecoveryPolicy(code ErrorCode) RecoveryPolicy {
	switch code {
	case ErrCodeValidationRejected:
		return RecoverInPlace
	case ErrCodeNetwork:
		return RecoverRetry
	case ErrCodeUnauthenticated:
		return RecoverLogin
	case ErrCodeGatewayUnavailable:
		return RecoverBlocked
	case ErrCodeServerRejected:
		return RecoverResync
	default:
		return RecoverInternal
	}
}
