package crosscheck

import (
	"errors"
	"fmt"
)

// RuntimeError represents an operational error that should lead to exit
// code 2. Examples include configuration errors, unreadable corpus files,
// and adapters that cannot be started.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError.
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// ConformanceError represents verdict mismatches or adapter errors observed
// during an otherwise successful run (exit code 1).
type ConformanceError struct {
	Message string
}

func (e *ConformanceError) Error() string {
	return fmt.Sprintf("conformance failure: %s", e.Message)
}

func NewConformanceError(message string) *ConformanceError {
	return &ConformanceError{Message: message}
}

// IsConformanceError checks if the error is or wraps a ConformanceError.
func IsConformanceError(err error) bool {
	var confErr *ConformanceError
	return err != nil && errors.As(err, &confErr)
}
