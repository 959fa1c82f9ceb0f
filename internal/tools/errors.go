package tools

import (
	"fmt"
	"strings"
)

// DuplicateNameError is returned when registering a tool whose name is already taken.
type DuplicateNameError struct {
	Name string
}

// NotFoundError is returned when invoking a tool that is not registered.
type NotFoundError struct {
	Name string
}

// ValidationError is returned when invocation arguments do not satisfy the tool's input schema.
type ValidationError struct {
	Name     string
	Problems []string
}

// ExecutionError wraps a failure raised by a tool handler, including a recovered panic.
type ExecutionError struct {
	Name  string
	Err   error
	Panic bool
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("tool '%s' is already registered", e.Name)
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool '%s' not found", e.Name)
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool '%s': %s", e.Name, strings.Join(e.Problems, "; "))
}

func (e *ExecutionError) Error() string {
	if e.Panic {
		return fmt.Sprintf("tool '%s' panicked: %s", e.Name, e.Err)
	}
	return fmt.Sprintf("tool '%s' failed: %s", e.Name, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
