// Package alerterr defines the error taxonomy of the alert engine.
//
// Every non-transient failure that crosses a component boundary carries one
// of the codes below; transient I/O is retried inside the DataSource client
// and never surfaces.
package alerterr

import (
	"errors"
	"fmt"
)

// Code identifies an error class.
type Code string

const (
	// CodeThrottled means the per-feed request queue is full.
	CodeThrottled Code = "THROTTLED"
	// CodeFeedUnavailable means a feed's circuit is open or retries were exhausted.
	CodeFeedUnavailable Code = "FEED_UNAVAILABLE"
	// CodeMalformedCondition means an alert's conditions payload did not parse.
	CodeMalformedCondition Code = "MALFORMED_CONDITION"
	// CodeQuotaExceeded means a tier ceiling was hit.
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"
	// CodeDispatchFailed means the messaging collaborator did not ack a send.
	CodeDispatchFailed Code = "DISPATCH_FAILED"
	// CodeTransient marks retryable I/O failures (internal use only).
	CodeTransient Code = "TRANSIENT"
	// CodeNotFound means a referenced entity does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeConflict means a concurrent writer won an atomic update.
	CodeConflict Code = "CONFLICT"
)

// Error is a coded error with optional structured details and a cause.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Throttled creates an error for a feed whose request queue is full.
func Throttled(feed string) *Error {
	return &Error{
		Code:    CodeThrottled,
		Message: fmt.Sprintf("request queue full for feed %q", feed),
		Details: map[string]interface{}{"feed": feed},
	}
}

// FeedUnavailable creates an error for a feed that is failing fast or whose
// retries were exhausted.
func FeedUnavailable(feed string, cause error) *Error {
	return &Error{
		Code:    CodeFeedUnavailable,
		Message: fmt.Sprintf("feed %q unavailable", feed),
		Details: map[string]interface{}{"feed": feed},
		Cause:   cause,
	}
}

// MalformedCondition creates an error for an alert whose conditions payload
// could not be parsed into the kind's shape.
func MalformedCondition(alertID string, cause error) *Error {
	return &Error{
		Code:    CodeMalformedCondition,
		Message: fmt.Sprintf("malformed conditions for alert %s", alertID),
		Details: map[string]interface{}{"alertId": alertID},
		Cause:   cause,
	}
}

// QuotaExceeded creates an error for a user hitting a tier ceiling.
func QuotaExceeded(userID int64, resource string, limit int) *Error {
	return &Error{
		Code:    CodeQuotaExceeded,
		Message: fmt.Sprintf("quota exceeded for %s (limit: %d)", resource, limit),
		Details: map[string]interface{}{
			"userId":   userID,
			"resource": resource,
			"limit":    limit,
		},
	}
}

// DispatchFailed creates an error for a notification send that was not acked.
func DispatchFailed(alertID string, cause error) *Error {
	return &Error{
		Code:    CodeDispatchFailed,
		Message: fmt.Sprintf("dispatch failed for alert %s", alertID),
		Details: map[string]interface{}{"alertId": alertID},
		Cause:   cause,
	}
}

// Transient creates a retryable I/O error. It must not escape the DataSource
// client.
func Transient(op string, cause error) *Error {
	return &Error{
		Code:    CodeTransient,
		Message: fmt.Sprintf("transient failure during %s", op),
		Details: map[string]interface{}{"operation": op},
		Cause:   cause,
	}
}

// NotFound creates an error for a missing entity.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{"resource": resource, "id": id},
	}
}

// Conflict creates an error for a lost atomic update race.
func Conflict(message string) *Error {
	return &Error{
		Code:    CodeConflict,
		Message: message,
	}
}

// CodeOf returns the code of err, or "" if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsThrottled reports whether err is a Throttled error.
func IsThrottled(err error) bool { return Is(err, CodeThrottled) }

// IsFeedUnavailable reports whether err is a FeedUnavailable error.
func IsFeedUnavailable(err error) bool { return Is(err, CodeFeedUnavailable) }

// IsMalformedCondition reports whether err is a MalformedCondition error.
func IsMalformedCondition(err error) bool { return Is(err, CodeMalformedCondition) }

// IsQuotaExceeded reports whether err is a QuotaExceeded error.
func IsQuotaExceeded(err error) bool { return Is(err, CodeQuotaExceeded) }

// IsDispatchFailed reports whether err is a DispatchFailed error.
func IsDispatchFailed(err error) bool { return Is(err, CodeDispatchFailed) }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return Is(err, CodeConflict) }

// IsRetryable reports whether err should be retried by the DataSource client.
// Only transient I/O is retryable; coded terminal errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	code := CodeOf(err)
	return code == CodeTransient || code == ""
}
