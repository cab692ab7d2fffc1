// Package errs provides the orchestrator's error taxonomy: sentinel
// errors for errors.Is comparison, plus a structured wrapping error that
// carries the operation, kind, and optional entity id.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from the error handling design.
type Kind string

const (
	KindConfigError         Kind = "ConfigError"
	KindUnregisteredRole    Kind = "UnregisteredRole"
	KindNoImplementation    Kind = "NoImplementation"
	KindLauncherRefusal     Kind = "LauncherRefusal"
	KindTimeout             Kind = "Timeout"
	KindAdapterParseFailure Kind = "AdapterParseFailure"
	KindSecurityViolation   Kind = "SecurityViolation"
	KindGateRejection       Kind = "GateRejection"
	KindHITLAbort           Kind = "HITLAbort"
	KindForbiddenTopology   Kind = "ForbiddenTopology"
)

// Sentinel errors for kinds that carry no per-instance data.
var (
	ErrHITLAbort         = errors.New("run aborted by operator")
	ErrForbiddenTopology = errors.New("hybrid/parallel execution forbidden for this tenant")
	ErrUnregisteredRole  = errors.New("role not registered")
	ErrNoImplementation  = errors.New("no implementation found for role")
)

// OrchestrationError wraps an underlying error with operation and kind
// context, following the Op/Kind/ID/Message/Err shape used throughout
// the orchestrator for anything that needs more than a sentinel.
type OrchestrationError struct {
	Op      string
	Kind    Kind
	ID      string
	Message string
	Err     error
}

func (e *OrchestrationError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// New creates an OrchestrationError for op/kind wrapping err.
func New(op string, kind Kind, err error) *OrchestrationError {
	return &OrchestrationError{Op: op, Kind: kind, Err: err}
}

// Newf creates an OrchestrationError with a formatted message and no
// underlying error, for validation-style failures that originate here.
func Newf(op string, kind Kind, format string, args ...interface{}) *OrchestrationError {
	return &OrchestrationError{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *OrchestrationError; the second return is false otherwise.
func KindOf(err error) (Kind, bool) {
	var oe *OrchestrationError
	if errors.As(err, &oe) {
		return oe.Kind, true
	}
	return "", false
}

// IsRetryable reports whether err represents a condition the runner is
// allowed to retry once (timeout or gate rejection only).
func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	return kind == KindTimeout || kind == KindGateRejection
}

// IsFatalInStrict reports whether err should abort a strict-security run
// immediately, with no retry.
func IsFatalInStrict(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return errors.Is(err, ErrForbiddenTopology)
	}
	return kind == KindSecurityViolation || kind == KindForbiddenTopology
}
