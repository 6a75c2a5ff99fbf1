// Package pmlerrors defines the mediator's typed error taxonomy. Every
// user-visible failure across the mediator terminates in one of these
// kinds, carried end-to-end so the Gateway Facade can render a single error
// frame with {kind, message, retryable}.
package pmlerrors

import (
	"errors"
	"fmt"
)

// Kind identifies one taxonomy entry.
type Kind string

// Error kinds, grouped by the failure category they belong to.
const (
	// Malformed client input — surfaced immediately, never retried.
	KindInvalidIntent   Kind = "InvalidIntent"
	KindInvalidDagSpec  Kind = "InvalidDagSpec"
	KindCyclicDag       Kind = "CyclicDag"
	KindReplanConflict  Kind = "ReplanConflict"
	KindResolutionError Kind = "ResolutionError"

	// Transient — retried with backoff, then surfaced if the limit is reached.
	KindEmbeddingUnavailable   Kind = "EmbeddingUnavailable"
	KindToolEndpointUnavailable Kind = "ToolEndpointUnavailable"
	KindBackpressureBusy       Kind = "BackpressureBusy"

	// Endpoint-originated task failure.
	KindToolInvocationFailed Kind = "ToolInvocationFailed"

	// Sandbox failures.
	KindSandboxLimitExceeded Kind = "SandboxLimitExceeded"
	KindSandboxCrashed       Kind = "SandboxCrashed"

	// Checkpoint / internal.
	KindCheckpointCorrupted       Kind = "CheckpointCorrupted"
	KindInternalInvariantViolation Kind = "InternalInvariantViolation"

	// Downstream-of-failure propagation.
	KindMissingDependency Kind = "MissingDependency"
)

// retryableKinds lists kinds that are safe to retry with backoff before
// surfacing to the caller.
var retryableKinds = map[Kind]bool{
	KindEmbeddingUnavailable:    true,
	KindToolEndpointUnavailable: true,
	KindBackpressureBusy:        true,
}

// Error is the mediator's single error type. It carries a Kind, a
// human-readable message, and whatever caused it.
type Error struct {
	Kind    Kind
	Message string
	// ToolID and Which are populated for kinds that reference a specific
	// tool (ToolInvocationFailed{tool_id, kind}) or sandbox limit
	// (SandboxLimitExceeded{which}).
	ToolID string
	Which  string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether this error's kind is in the transient set.
func (e *Error) Retryable() bool {
	return retryableKinds[e.Kind]
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ToolInvocationFailed builds the {tool_id, kind} variant.
func ToolInvocationFailed(toolID string, err error) *Error {
	return &Error{Kind: KindToolInvocationFailed, ToolID: toolID, Err: err,
		Message: fmt.Sprintf("tool %s invocation failed", toolID)}
}

// SandboxLimitExceeded builds the {which} variant.
func SandboxLimitExceeded(which string) *Error {
	return &Error{Kind: KindSandboxLimitExceeded, Which: which,
		Message: fmt.Sprintf("sandbox limit exceeded: %s", which)}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, or the
// empty Kind otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a *Error whose kind is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
