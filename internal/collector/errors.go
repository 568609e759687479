package collector

import (
	"errors"
	"fmt"
)

// ErrTerminationTimeout indicates a collector process group was still alive
// after the graceful stop window and had to be killed.
var ErrTerminationTimeout = errors.New("collector: termination timeout")

// SpawnError reports that a collector's command could not be launched.
type SpawnError struct {
	// Slot is the bar position the collector was meant to feed.
	Slot int
	// Name is the configured command name.
	Name string
	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message
func (e *SpawnError) Error() string {
	return fmt.Sprintf("collector %d (%s): spawn: %v", e.Slot, e.Name, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ReadError reports that a collector's output channel broke while the
// process was still expected to write to it. It is handled exactly like a
// process exit.
type ReadError struct {
	Slot int
	Err  error
}

// Error returns a formatted error message
func (e *ReadError) Error() string {
	return fmt.Sprintf("collector %d: read output: %v", e.Slot, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ReadError) Unwrap() error {
	return e.Err
}
