package actor

import (
	"errors"
	"fmt"
)

var (
	// ErrNameTaken is returned by spawn when a sibling already carries
	// the requested name.
	ErrNameTaken = errors.New("actor: name already taken")
	// ErrPathNotFound is returned when a path resolves to no live cell.
	ErrPathNotFound = errors.New("actor: path not found")
	// ErrActorStopped resolves ask exchanges whose target stopped
	// before answering.
	ErrActorStopped = errors.New("actor: stopped")
	// ErrSystemStopped is returned by operations on a system that is
	// shutting down.
	ErrSystemStopped = errors.New("actor: system stopped")
	// ErrSupervisionExhausted wraps a failure that escalated past the
	// root. It is fatal to the hierarchy.
	ErrSupervisionExhausted = errors.New("actor: supervision exhausted")
)

// PanicError carries the value recovered from a panicking receive or
// init, so deciders can treat panics like ordinary failures.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("actor: panic: %v", e.Value)
}
