package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrorRateLimited    ErrorCode = "RATE_LIMITED"
	ErrorUpstream       ErrorCode = "UPSTREAM_FAILURE"
	ErrorNotFound       ErrorCode = "NOT_FOUND"
	ErrorInternal       ErrorCode = "INTERNAL_ERROR"
)

// Error reasons the handler distinguishes when rendering a response.
const (
	ReasonMissingCredential = "missing_credential"
	ReasonInvalidAPIKey     = "invalid_api_key"
)

// Error is the classified failure returned by every service operation.
// Details is safe to show to the caller; Err is for logs only.
type Error struct {
	Code    ErrorCode
	Reason  string
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason, details string, err error) *Error {
	return &Error{Code: code, Reason: reason, Details: details, Err: err}
}
