package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// BuildError represents an error detected while compiling a pipeline.
//
// Build errors are deterministic: the same registrations always produce the
// same error, before any invocation happens.
type BuildError struct {
	// Code identifies the error category.
	Code BuildErrorCode

	// Message is a human-readable description.
	Message string

	// Identity names the registration the error is about. For cycles this is
	// the node that was reached twice on the current path.
	Identity Identity

	// Path is the cycle path for CYCLE_DETECTED, first and last entries equal.
	Path []Identity
}

// BuildErrorCode categorizes build errors.
type BuildErrorCode string

const (
	// ErrCodeCycleDetected indicates the before/after constraints form a cycle.
	ErrCodeCycleDetected BuildErrorCode = "CYCLE_DETECTED"

	// ErrCodeDuplicateIdentity indicates one identity was registered twice.
	ErrCodeDuplicateIdentity BuildErrorCode = "DUPLICATE_IDENTITY"

	// ErrCodeEmptyIdentity indicates a registration without an identity.
	ErrCodeEmptyIdentity BuildErrorCode = "EMPTY_IDENTITY"
)

// Error implements the error interface.
func (e *BuildError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, joinPath(e.Path))
	}
	if e.Identity != "" {
		return fmt.Sprintf("%s: %s (middleware=%s)", e.Code, e.Message, e.Identity)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsBuildError returns true if err is or wraps a *BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// IsCycleError returns true if the error is a cycle detection error.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == ErrCodeCycleDetected
	}
	return false
}

// NewCycleError creates a BuildError for a constraint cycle.
func NewCycleError(id Identity, path []Identity) *BuildError {
	return &BuildError{
		Code:     ErrCodeCycleDetected,
		Message:  fmt.Sprintf("cycle detected in middleware ordering involving %q", id),
		Identity: id,
		Path:     path,
	}
}

func joinPath(path []Identity) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = string(id)
	}
	return strings.Join(parts, " → ")
}

var (
	// ErrNoResolver is returned by a step when the invocation context has no
	// resolver bound. Run chains through an Executor, or call BindResolver.
	ErrNoResolver = errors.New("pipeline: no resolver bound to context")

	// ErrContractMismatch is returned when a resolved instance does not
	// implement the contract selected by its registration Kind.
	ErrContractMismatch = errors.New("pipeline: middleware contract mismatch")
)

// PanicError carries a panic recovered from a goroutine started by Go, or
// handed to OnMiddlewareException while a step panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
