package types

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers classify failures with errors.Is rather than
// string matching.
var (
	// ErrValidation indicates a malformed request or definition.
	ErrValidation = errors.New("validation error")

	// ErrSafetyBlocked indicates the safety filter refused a proposed action.
	// Recoverable: surfaced as an observation, not a run failure.
	ErrSafetyBlocked = errors.New("action blocked by safety filter")

	// ErrSubprocess indicates a subprocess spawn failure or nonzero exit.
	ErrSubprocess = errors.New("subprocess error")

	// ErrTimeout indicates an external call exceeded its configured timeout.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled indicates the operation was cancelled by the caller.
	ErrCancelled = errors.New("cancelled")

	// ErrUpstreamProvider indicates an LLM or tool backend failure.
	ErrUpstreamProvider = errors.New("upstream provider error")

	// ErrTargetUnresolved indicates a webhook could not map a target server.
	// Recoverable: the created task stays pending.
	ErrTargetUnresolved = errors.New("target server unresolved")
)

// NewValidationError wraps a message in ErrValidation.
func NewValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// NewSubprocessError wraps a subprocess failure with its exit code.
func NewSubprocessError(exitCode int, detail string) error {
	return fmt.Errorf("%w: exit code %d: %s", ErrSubprocess, exitCode, detail)
}

// NewUpstreamError wraps an LLM/tool backend failure.
func NewUpstreamError(err error) error {
	return fmt.Errorf("%w: %v", ErrUpstreamProvider, err)
}
