// Package errors provides the error taxonomy of the shadow migration engine.
// This is a leaf package with no internal dependencies so that every shadow
// component (logs, state machine, engine, control surface) can share it.
//
// Import graph: errors <- spacemap, pending, linktable <- engine <- shadow
package errors

import (
	goerrors "errors"
	"fmt"
)

// ErrorCode identifies the kind of failure. Codes are stable: they are carried
// verbatim in control-surface responses.
type ErrorCode int

const (
	// ErrLocalIO indicates a failure reading or writing the local filesystem.
	ErrLocalIO ErrorCode = iota + 1

	// ErrRemoteIO indicates a failure reading from the remote filesystem.
	ErrRemoteIO

	// ErrRemoteUnavailable indicates the remote filesystem cannot be reached
	// or the remote object no longer exists.
	ErrRemoteUnavailable

	// ErrStructuralConflict indicates a local name already exists with a
	// mismatched type. Recovered by remove-and-retry once.
	ErrStructuralConflict

	// ErrInterrupted indicates an interruptible wait was cancelled.
	// Surfaced to the caller, never retried automatically.
	ErrInterrupted

	// ErrReadOnly indicates the local filesystem refuses writes.
	// Permanent until an administrator intervenes.
	ErrReadOnly

	// ErrOutOfMemory indicates an allocation failure.
	ErrOutOfMemory

	// ErrCorruption indicates a persisted log failed its header or record check.
	ErrCorruption

	// ErrWouldBlock is returned on the non-blocking path instead of waiting.
	ErrWouldBlock

	// ErrNotFound indicates the object named by a handle or path does not exist.
	ErrNotFound

	// ErrInvalidArgument indicates a malformed control request.
	ErrInvalidArgument

	// ErrNotShadow indicates the object is not managed by a shadow mount.
	ErrNotShadow
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrLocalIO:
		return "LocalIOError"
	case ErrRemoteIO:
		return "RemoteIOError"
	case ErrRemoteUnavailable:
		return "RemoteUnavailable"
	case ErrStructuralConflict:
		return "StructuralConflict"
	case ErrInterrupted:
		return "Interrupted"
	case ErrReadOnly:
		return "ReadOnlyTarget"
	case ErrOutOfMemory:
		return "OutOfMemory"
	case ErrCorruption:
		return "Corruption"
	case ErrWouldBlock:
		return "WouldBlock"
	case ErrNotFound:
		return "NotFound"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrNotShadow:
		return "NotShadow"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ShadowError is an error carrying an ErrorCode, the operation that failed,
// and optionally the path involved and an underlying cause.
type ShadowError struct {
	Code ErrorCode
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ShadowError) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " (path: " + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ShadowError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Factory Functions
// ============================================================================

// New creates a ShadowError.
func New(code ErrorCode, op, path string, err error) *ShadowError {
	return &ShadowError{Code: code, Op: op, Path: path, Err: err}
}

// Wrap annotates err with code unless err already carries a code, in which
// case the original classification is kept and only the operation is added.
func Wrap(code ErrorCode, op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *ShadowError
	if goerrors.As(err, &se) {
		if se.Op == "" {
			se.Op = op
		}
		return err
	}
	return &ShadowError{Code: code, Op: op, Path: path, Err: err}
}

// NewLocalIOError wraps a local filesystem failure.
func NewLocalIOError(op, path string, err error) *ShadowError {
	return New(ErrLocalIO, op, path, err)
}

// NewRemoteIOError wraps a remote filesystem failure.
func NewRemoteIOError(op, path string, err error) *ShadowError {
	return New(ErrRemoteIO, op, path, err)
}

// NewCorruptionError reports a persisted log that failed validation.
func NewCorruptionError(op, path string, err error) *ShadowError {
	return New(ErrCorruption, op, path, err)
}

// NewInterruptedError reports a cancelled wait.
func NewInterruptedError(op string, cause error) *ShadowError {
	return New(ErrInterrupted, op, "", cause)
}

// NewWouldBlockError reports that a non-blocking call would have waited.
func NewWouldBlockError(op, path string) *ShadowError {
	return New(ErrWouldBlock, op, path, nil)
}

// NewNotFoundError reports a missing object.
func NewNotFoundError(op, path string) *ShadowError {
	return New(ErrNotFound, op, path, nil)
}

// NewInvalidArgumentError reports a malformed request.
func NewInvalidArgumentError(op, message string) *ShadowError {
	return New(ErrInvalidArgument, op, "", goerrors.New(message))
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// CodeOf returns the ErrorCode carried by err, or 0 if err is nil or carries
// no code.
func CodeOf(err error) ErrorCode {
	var se *ShadowError
	if goerrors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsWouldBlock reports whether err is a WouldBlock error.
func IsWouldBlock(err error) bool { return Is(err, ErrWouldBlock) }

// IsInterrupted reports whether err is an Interrupted error.
func IsInterrupted(err error) bool { return Is(err, ErrInterrupted) }

// IsCorruption reports whether err is a Corruption error.
func IsCorruption(err error) bool { return Is(err, ErrCorruption) }

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return Is(err, ErrNotFound) }
