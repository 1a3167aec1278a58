package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Orchestration error codes
const (
	ErrDepthLimitReached ErrorCode = "DEPTH_LIMIT_REACHED"
	ErrBudgetExceeded    ErrorCode = "BUDGET_EXCEEDED"
	ErrBudgetPaused      ErrorCode = "BUDGET_PAUSED"
	ErrCycleDetected     ErrorCode = "CYCLE_DETECTED"
	ErrInvalidSpawn      ErrorCode = "INVALID_SPAWN"
	ErrLedgerInvariant   ErrorCode = "LEDGER_INVARIANT"
)

// Capability error codes
const (
	ErrCapability  ErrorCode = "CAPABILITY_ERROR"
	ErrCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	ErrTimeout     ErrorCode = "TIMEOUT"
	ErrCancelled   ErrorCode = "CANCELLED"
	ErrToolFailed  ErrorCode = "TOOL_FAILED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code so errors.Is(err, NewError(code, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// reasons maps every failure mode to the text shown in the event stream.
var reasons = map[ErrorCode]string{
	ErrDepthLimitReached: "stopped: depth limit reached",
	ErrBudgetExceeded:    "stopped: budget reservation exceeded",
	ErrBudgetPaused:      "paused: request budget exhausted",
	ErrCycleDetected:     "rejected: repeated sub-task detected",
	ErrInvalidSpawn:      "rejected: invalid spawn request",
	ErrLedgerInvariant:   "aborted: budget ledger invariant violated",
	ErrCapability:        "failed: capability error",
	ErrCircuitOpen:       "failed: dependency circuit open",
	ErrTimeout:           "failed: timeout",
	ErrCancelled:         "cancelled",
	ErrToolFailed:        "failed: tool error",
}

// Reason returns a human-readable reason for err.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if r, ok := reasons[GetErrorCode(err)]; ok {
		return r
	}
	return "failed: " + err.Error()
}
