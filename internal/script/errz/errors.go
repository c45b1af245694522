// Package errz provides the error taxonomy shared by the script runtime and its bindings.
package errz

import (
	"errors"
	"fmt"
	"strings"
)

// Top-level error categories
var (
	// ErrScriptLoad means a script source could not be read or evaluated.
	ErrScriptLoad = errors.New("script load error")

	// ErrScriptRuntime means a handler or binding raised a script-level failure.
	ErrScriptRuntime = errors.New("script runtime error")

	// ErrMarshal means a conversion between wire, host and script values failed.
	ErrMarshal = errors.New("marshal error")

	// ErrDatabase covers lock, prepare, execute and row-shape failures of the database binding.
	ErrDatabase = errors.New("database error")

	// ErrMemoryLimitExceeded means a single call grew the heap past the configured ceiling.
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

	// ErrCapabilityUnavailable is reported to scripts as an ordinary undefined global.
	// The host only uses it in diagnostics.
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)

// Engine and lifecycle errors
var (
	ErrEngineClosed     = errors.New("script engine closed")
	ErrHandlerNotLoaded = errors.New("handler not loaded")
	ErrNotAFunction     = errors.New("script did not evaluate to a function")
	ErrNotATable        = errors.New("script did not return a table")
)

// Raise formats a message for a binding failure. The message carries the kind prefix
// so the host can classify the failure when it escapes the script.
func Raise(kind error, format string, args ...any) string {
	return fmt.Sprintf("%s: %s", kind.Error(), fmt.Sprintf(format, args...))
}

// RuntimeError is a failure raised inside the interpreter.
type RuntimeError struct {
	// Message is the script-level error message.
	Message string
	// Traceback is the Lua stack trace, when available.
	Traceback string

	kind error
}

// NewRuntimeError builds a RuntimeError, detecting a binding error kind from the message.
func NewRuntimeError(message, traceback string) *RuntimeError {
	re := &RuntimeError{Message: message, Traceback: traceback}
	for _, kind := range []error{ErrMarshal, ErrDatabase, ErrMemoryLimitExceeded} {
		if strings.Contains(message, kind.Error()+":") {
			re.kind = kind
			break
		}
	}
	return re
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrScriptRuntime, e.Message)
}

// Kind returns the binding error kind carried by the message, or nil.
func (e *RuntimeError) Kind() error {
	return e.kind
}

// Unwrap exposes both the runtime category and the detected binding kind.
func (e *RuntimeError) Unwrap() []error {
	if e.kind == nil {
		return []error{ErrScriptRuntime}
	}
	return []error{ErrScriptRuntime, e.kind}
}
