package ir

import (
	"errors"
	"fmt"
	"strings"
)

// Error is a structured failure raised at a component boundary.
//
// Errors of every code are caught by their owning component and never
// propagate into the dispatcher's delivery loop:
//   - Parse errors: inbound message dropped and logged
//   - Validation errors: commit rejected, prior state retained
//   - Fetch errors: recompute aborted for this cycle
//   - Resolver unavailable: treated as "not affected"
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key identifies the affected document, if any.
	Key DocumentKey

	// Reasons lists every violated invariant (validation errors only).
	Reasons []string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeParse indicates an inbound message could not be interpreted.
	ErrCodeParse ErrorCode = "PARSE_ERROR"

	// ErrCodeValidation indicates a candidate state violates an invariant.
	ErrCodeValidation ErrorCode = "VALIDATION_FAILED"

	// ErrCodeFetch indicates a storage collaborator call failed.
	ErrCodeFetch ErrorCode = "FETCH_FAILED"

	// ErrCodeResolverUnavailable indicates the membership index is not ready.
	ErrCodeResolverUnavailable ErrorCode = "RESOLVER_UNAVAILABLE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Reasons) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Reasons, "; "))
		b.WriteString("]")
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " (key=%s)", e.Key)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsParseError returns true if err is (or wraps) a parse error.
func IsParseError(err error) bool {
	return hasCode(err, ErrCodeParse)
}

// IsValidationError returns true if err is (or wraps) a validation error.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsFetchError returns true if err is (or wraps) a fetch error.
func IsFetchError(err error) bool {
	return hasCode(err, ErrCodeFetch)
}

// IsResolverUnavailable returns true if err is (or wraps) a resolver-unavailable error.
func IsResolverUnavailable(err error) bool {
	return hasCode(err, ErrCodeResolverUnavailable)
}

// ValidationReasons extracts the reason list from a validation error.
func ValidationReasons(err error) []string {
	var e *Error
	if errors.As(err, &e) && e.Code == ErrCodeValidation {
		return e.Reasons
	}
	return nil
}

// NewParseError creates an Error for an uninterpretable inbound message.
func NewParseError(message string, cause error) *Error {
	return &Error{Code: ErrCodeParse, Message: message, Err: cause}
}

// NewValidationError creates an Error listing every violated invariant.
func NewValidationError(key DocumentKey, reasons []string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: fmt.Sprintf("candidate state rejected (%d violations)", len(reasons)),
		Key:     key,
		Reasons: reasons,
	}
}

// NewFetchError creates an Error for a failed collaborator call.
func NewFetchError(key DocumentKey, op string, cause error) *Error {
	return &Error{
		Code:    ErrCodeFetch,
		Message: op + " failed",
		Key:     key,
		Err:     cause,
	}
}

// NewResolverUnavailable creates an Error for a missing membership index.
func NewResolverUnavailable(key DocumentKey) *Error {
	return &Error{
		Code:    ErrCodeResolverUnavailable,
		Message: "block membership index not available",
		Key:     key,
	}
}
