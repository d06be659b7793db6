package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType defines distinct categories for errors originating from stitch components.
type ErrorType string

const (
	// IOFailure represents folder or file access problems (unwritable folder,
	// missing source clip, failed delete). The operation is aborted for that
	// call only.
	IOFailure ErrorType = "io_failure"
	// UnknownCompilation represents a trigger naming a compilation that was
	// never configured.
	UnknownCompilation ErrorType = "unknown_compilation"
	// EmptyCompilation represents a build requested against a folder with
	// zero clips. Reported as a no-op, not an error.
	EmptyCompilation ErrorType = "empty_compilation"
	// BuildInProgress represents a concurrency guard rejection: a build or
	// clear arrived while a build was already running for that compilation.
	BuildInProgress ErrorType = "build_in_progress"
	// ToolUnavailable represents a transcoder binary that could not be found
	// or started.
	ToolUnavailable ErrorType = "tool_unavailable"
	// ToolError represents a transcoder process that exited non-zero.
	ToolError ErrorType = "tool_error"
	// OutputMissing represents a transcoder that exited zero but left no
	// usable output file behind.
	OutputMissing ErrorType = "output_missing"
	// Timeout represents a transcoder process that exceeded the configured
	// deadline and was killed.
	Timeout ErrorType = "timeout"
	// ValidationError represents invalid configuration or parameters.
	ValidationError ErrorType = "validation_error"
)

// StructuredError represents a detailed error originating from stitch operations.
// It includes a type, message, optional details, timestamp, and a specific error code.
// It implements the standard Go `error` interface.
type StructuredError struct {
	// Type categorizes the error (e.g., IOFailure, ToolError).
	Type ErrorType `json:"type"`
	// Message provides a concise, human-readable description of the error.
	Message string `json:"message"`
	// Details offers additional context or the underlying error message, if available.
	Details string `json:"details,omitempty"`
	// Timestamp marks when the error occurred in RFC3339 format.
	Timestamp string `json:"timestamp"`
	// Code provides a specific integer code unique to the error source within its type.
	Code int `json:"code"`
}

// Error implements the standard `error` interface for StructuredError.
func (e *StructuredError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("[%s] %s", e.Type, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Message, e.Details)
}

// JSON returns the StructuredError serialized as a JSON string.
func (e *StructuredError) JSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// New creates a new StructuredError instance.
// It automatically sets the Timestamp to the current time.
func New(errorType ErrorType, message, details string, code int) *StructuredError {
	return &StructuredError{
		Type:      errorType,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().Format(time.RFC3339),
		Code:      code,
	}
}

// Wrap creates a new StructuredError, using the message from an existing
// standard Go error as the Details field. If `err` is nil, Details is empty.
func Wrap(err error, errorType ErrorType, message string, code int) *StructuredError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return New(errorType, message, details, code)
}

// TypeOf returns the ErrorType of err if it is (or wraps) a StructuredError,
// or an empty ErrorType otherwise.
func TypeOf(err error) ErrorType {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Type
	}
	return ""
}

// IsType reports whether err is (or wraps) a StructuredError of the given type.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}
