package supervisor

import "errors"

// ErrStopped is returned by requests made after the supervisor has shut down.
var ErrStopped = errors.New("supervisor: stopped")

// ConfigError reports that a reload could not load a usable configuration.
// The previous configuration and every running collector are retained.
type ConfigError struct {
	Err error
}

// Error returns a formatted error message
func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConfigError) Unwrap() error {
	return e.Err
}
