// Package deckerr implements the error taxonomy of the orchestration
// runtime: a single structured error type carrying a closed-set Kind, an
// HTTP-style status, a machine-readable code, and an optional wrapped
// cause, plus the cancellation sentinel every suspension point must
// observe cooperatively.
package deckerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind enumerates the semantic error categories of the runtime's error
// handling design. Kind drives how an error is surfaced: as a tool
// envelope (Validation on action dispatch, Permission, NotFound) or
// escaping to the caller (Guardrail, Cancellation, Protocol, root-level
// Validation).
type Kind string

const (
	// Validation marks a schema mismatch on input, output, or tool args.
	Validation Kind = "validation"
	// Permission marks a capability check failure.
	Permission Kind = "permission"
	// NotFound marks an unknown action name or a missing file.
	NotFound Kind = "not_found"
	// HostUnsupported marks a missing host capability (sandbox, exec).
	HostUnsupported Kind = "host_unsupported"
	// Policy marks a trust-boundary violation.
	Policy Kind = "policy"
	// Guardrail marks a timeout, depth, or pass-count violation.
	Guardrail Kind = "guardrail"
	// Cancellation marks a run that observed an abort signal.
	Cancellation Kind = "cancellation"
	// Protocol marks a fatal model-contract violation.
	Protocol Kind = "protocol"
	// HandlerFallback marks an on_error handler that itself failed.
	HandlerFallback Kind = "handler_fallback"
)

// Error is the structured error type used throughout the runtime. Status
// mirrors the HTTP-style status used in the built-in tool envelope; Code is
// the short machine-readable string (e.g. "permission_denied",
// "invalid_input"); Cause is the wrapped underlying error, if any.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Cause   error
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, status int, code, message string) *Error {
	return &Error{Kind: kind, Status: status, Code: code, Message: message}
}

// Wrap constructs an Error wrapping cause.
func Wrap(kind Kind, status int, code, message string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Code: code, Message: message, Cause: cause}
}

// Errorf constructs an Error with a formatted message.
func Errorf(kind Kind, status int, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements error. It includes the wrapped cause, if any, so
// fmt.Println(err) and logging call sites see the full chain without
// needing to unwrap manually.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// errRunCanceled is the runtime's own cancellation sentinel, distinct from
// a deadline-exceeded timeout error.
var errRunCanceled = &Error{Kind: Cancellation, Status: 499, Code: "run_canceled", Message: "RunCanceled"}

// RunCanceled returns the runtime's cancellation error.
func RunCanceled() *Error { return errRunCanceled }

// IsRunCanceled reports whether err is the runtime's cancellation error or a
// host-native abort (context.Canceled). This mirrors the spec's requirement
// that is_run_canceled match both the runtime's own error and any
// host-native AbortError, so callers can test one predicate regardless of
// which layer observed the cancellation first.
func IsRunCanceled(err error) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) && de.Kind == Cancellation {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
