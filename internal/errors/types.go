// Package errors defines the structured error types shared by zat
// components and the suggestion helpers the CLI prints when startup fails.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
)

// ZatError is a structured error type with context.
type ZatError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	FilePath    string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *ZatError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *ZatError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so callers can compare against sentinel values.
func (e *ZatError) Is(target error) bool {
	var t *ZatError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *ZatError) WithContext(key string, value interface{}) *ZatError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *ZatError) WithLocation(filePath string, line, column int) *ZatError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithPath attaches a file path without a line/column.
func (e *ZatError) WithPath(filePath string) *ZatError {
	e.FilePath = filePath

	return e
}

// NewConfigError creates a configuration error. Bad manifests, malformed
// settings files and missing required parameters all land here.
func NewConfigError(code, message string, cause error) *ZatError {
	return &ZatError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewNetworkError creates a transport error. The watch loop keeps going
// after these, so they are recoverable.
func NewNetworkError(code, message string, cause error) *ZatError {
	return &ZatError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *ZatError {
	return &ZatError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewNotFoundError creates an asset lookup error.
func NewNotFoundError(code, message string) *ZatError {
	return &ZatError{
		Type:        ErrorTypeNotFound,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *ZatError {
	return &ZatError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *ZatError {
	return &ZatError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var ze *ZatError
	if errors.As(err, &ze) {
		return ze.Recoverable
	}

	return false
}

// IsType reports whether err is a ZatError of the given type.
func IsType(err error, t ErrorType) bool {
	var ze *ZatError
	if errors.As(err, &ze) {
		return ze.Type == t
	}

	return false
}

// IsConfigError checks if an error is configuration-related.
func IsConfigError(err error) bool {
	return IsType(err, ErrorTypeConfig)
}

// IsNotFound checks if an error is an asset lookup failure.
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}
