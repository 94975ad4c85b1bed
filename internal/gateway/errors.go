package gateway

import "time"

// ErrorCode classifies every failure crossing the HTTP boundary.
type ErrorCode string

const (
	CodePermissionDenied ErrorCode = "permission_denied"
	CodeConsentRequired  ErrorCode = "consent_required"
	CodeCircuitOpen      ErrorCode = "circuit_open"
	CodeTimeout          ErrorCode = "timeout"
	CodeToolValidation   ErrorCode = "tool_validation"
	CodeTransientTool    ErrorCode = "transient_tool_error"
	CodeInternal         ErrorCode = "internal"
)

// Error is the structured form every gateway failure is normalized to.
// UserMessage is safe to return to clients; raw upstream errors and stack
// traces never leave the process.
type Error struct {
	Code        ErrorCode     `json:"code"`
	UserMessage string        `json:"error"`
	IsRetryable bool          `json:"retryable"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.UserMessage
}

// Retryable implements the reliability package's retry classification.
func (e *Error) Retryable() bool {
	return e.IsRetryable
}

func permissionDenied(reason string) *Error {
	return &Error{Code: CodePermissionDenied, UserMessage: reason, IsRetryable: false}
}

func consentRequired() *Error {
	return &Error{
		Code:        CodeConsentRequired,
		UserMessage: "user consent required before this call can proceed",
		IsRetryable: false,
	}
}

func circuitOpen(retryAfter time.Duration) *Error {
	return &Error{
		Code:        CodeCircuitOpen,
		UserMessage: "target is temporarily unavailable (circuit open)",
		IsRetryable: true,
		RetryAfter:  retryAfter,
	}
}

func timeoutError() *Error {
	return &Error{
		Code:        CodeTimeout,
		UserMessage: "tool call timed out",
		IsRetryable: true,
	}
}

func validationError(msg string) *Error {
	return &Error{Code: CodeToolValidation, UserMessage: msg, IsRetryable: false}
}

func transientError(msg string) *Error {
	return &Error{Code: CodeTransientTool, UserMessage: msg, IsRetryable: true}
}

func internalError() *Error {
	return &Error{Code: CodeInternal, UserMessage: "internal error", IsRetryable: false}
}
