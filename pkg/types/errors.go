package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a WorkError.
type ErrorKind string

const (
	// ErrKindUnreachable indicates the message broker could not be reached.
	ErrKindUnreachable ErrorKind = "BROKER_UNREACHABLE"
	// ErrKindProtocol indicates a malformed message or a serialization failure.
	ErrKindProtocol ErrorKind = "PROTOCOL_ERROR"
	// ErrKindProcessing indicates the worker failed to process a request.
	ErrKindProcessing ErrorKind = "PROCESSING_ERROR"
	// ErrKindInit indicates a task could not start because an input failed.
	ErrKindInit ErrorKind = "INIT_FAILED"
	// ErrKindConfig indicates invalid configuration.
	ErrKindConfig ErrorKind = "CONFIG_ERROR"
	// ErrKindEngine indicates a workflow engine failure.
	ErrKindEngine ErrorKind = "ENGINE_ERROR"
)

// WorkError is the error type produced by the job engine.
type WorkError struct {
	Kind    ErrorKind
	Message string
	TaskID  string
	Cause   error
}

// Error implements the error interface.
func (e *WorkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *WorkError) Unwrap() error {
	return e.Cause
}

// NewWorkError creates a new WorkError.
func NewWorkError(kind ErrorKind, message string, cause error) *WorkError {
	return &WorkError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// NewUnreachableError creates an error for a broker that cannot be reached.
func NewUnreachableError(address string, cause error) *WorkError {
	return &WorkError{
		Kind:    ErrKindUnreachable,
		Message: fmt.Sprintf("broker unreachable: %s", address),
		Cause:   cause,
	}
}

// NewProtocolError creates an error for malformed messages.
func NewProtocolError(message string, cause error) *WorkError {
	return &WorkError{
		Kind:    ErrKindProtocol,
		Message: message,
		Cause:   cause,
	}
}

// NewProcessingError creates an error for a failed worker invocation.
func NewProcessingError(message string, cause error) *WorkError {
	return &WorkError{
		Kind:    ErrKindProcessing,
		Message: message,
		Cause:   cause,
	}
}

// NewInitError creates an error for a task whose input failed.
func NewInitError(taskID, message string, cause error) *WorkError {
	return &WorkError{
		Kind:    ErrKindInit,
		Message: message,
		TaskID:  taskID,
		Cause:   cause,
	}
}

// NewConfigError creates an error for configuration issues.
func NewConfigError(message string, cause error) *WorkError {
	return &WorkError{
		Kind:    ErrKindConfig,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the kind of the first WorkError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var we *WorkError
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// IsUnreachable checks if the error is a broker-unreachable error.
func IsUnreachable(err error) bool {
	return KindOf(err) == ErrKindUnreachable
}

// IsProtocolError checks if the error is a protocol error.
func IsProtocolError(err error) bool {
	return KindOf(err) == ErrKindProtocol
}

// IsProcessingError checks if the error is a processing error.
func IsProcessingError(err error) bool {
	return KindOf(err) == ErrKindProcessing
}

// IsInitError checks if the error is an initialization failure.
func IsInitError(err error) bool {
	return KindOf(err) == ErrKindInit
}

// WireError is the serialized form of an error crossing a process boundary.
type WireError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ToWireError converts err for transmission. Errors without a kind are
// reported as processing errors.
func ToWireError(err error) *WireError {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == "" {
		kind = ErrKindProcessing
	}
	msg := strings.TrimPrefix(err.Error(), "["+string(kind)+"] ")
	return &WireError{Kind: kind, Message: msg}
}

// Err converts the wire form back into a WorkError.
func (w *WireError) Err() error {
	if w == nil {
		return nil
	}
	return &WorkError{Kind: w.Kind, Message: w.Message}
}
