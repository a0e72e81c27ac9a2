package stresstest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the current lifecycle state
	ErrInvalidState = errors.New("invalid state")

	// ErrAlreadyRunning is returned by Start on an active executor or scope
	ErrAlreadyRunning = fmt.Errorf("%w: already running", ErrInvalidState)
)

// ComponentError identifies the component that failed to build
type ComponentError struct {
	Component string
	Err       error
	// Fatal errors prevent the test from starting; non-fatal ones are reported only
	Fatal bool
}

func (e *ComponentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ComponentError) Unwrap() error { return e.Err }

// BuildError collects every component that failed during a scope restart
type BuildError struct {
	Errors []*ComponentError
}

func (e *BuildError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ce := range e.Errors {
		msgs[i] = ce.Error()
	}
	return fmt.Sprintf("%d component(s) failed to build: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the component errors to errors.Is and errors.As
func (e *BuildError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, ce := range e.Errors {
		errs[i] = ce
	}
	return errs
}

// Fatal reports whether any failed component blocks the test from starting
func (e *BuildError) Fatal() bool {
	if e == nil {
		return false
	}
	for _, ce := range e.Errors {
		if ce.Fatal {
			return true
		}
	}
	return false
}

func (e *BuildError) add(component string, err error, fatal bool) {
	e.Errors = append(e.Errors, &ComponentError{Component: component, Err: err, Fatal: fatal})
}

func (e *BuildError) orNil() *BuildError {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}
