// Package errs collects the sentinel error kinds shared across preforge's
// core packages.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a bounded wait elapsed with no progress.
	ErrTimeout = errors.New("preforge: timeout")

	// ErrUnknownSignal is raised by the child driver on an unrecognized frame.
	ErrUnknownSignal = errors.New("preforge: unknown signal")

	// ErrUnknownResponse is raised by the parent supervisor on an unrecognized frame.
	ErrUnknownResponse = errors.New("preforge: unknown response")

	// ErrAlreadyStarted is returned by daemon.Start when an alive PID is already recorded.
	ErrAlreadyStarted = errors.New("preforge: already started")

	// ErrArgument marks invalid construction (unknown mode, bad bounds, empty capability set).
	ErrArgument = errors.New("preforge: invalid argument")

	// ErrNotImplemented marks a missing required capability (run, execute).
	ErrNotImplemented = errors.New("preforge: not implemented")

	// ErrUnsupportedPlatform is returned by fork-dependent constructors on platforms without fork.
	ErrUnsupportedPlatform = errors.New("preforge: platform does not support process forking")

	// ErrClosed names the closed-Piper condition. Piper's Send and Receive do
	// not return it: they report a closed descriptor through their sentinel
	// results (0 bytes written, ReceiveTimeout).
	ErrClosed = errors.New("preforge: piper closed")
)

// ChildRaised wraps an error the child process sent back over its Piper as
// an ERROR frame. The parent reconstructs it and records it on the Worker.
type ChildRaised struct {
	Kind    string
	Message string
}

func (e *ChildRaised) Error() string {
	return fmt.Sprintf("preforge: child raised %s: %s", e.Kind, e.Message)
}

// Timeout decorates ErrTimeout with the operation and duration that elapsed,
// so callers can log or assert on the configured bound.
type Timeout struct {
	Op      string
	Seconds float64
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("preforge: %s timed out after %.2fs", e.Op, e.Seconds)
}

func (e *Timeout) Unwrap() error { return ErrTimeout }
