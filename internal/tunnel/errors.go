package tunnel

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunchFailed is wrapped by every error returned from a launch that
	// produced no tunnel.
	ErrLaunchFailed = errors.New("tunnel launch failed")

	// ErrBinaryUnavailable means the tunnel binary could not be located or prepared.
	ErrBinaryUnavailable = errors.New("tunnel binary unavailable")

	// ErrMissingCredentials is returned when username or access key is empty.
	ErrMissingCredentials = errors.New("missing tunnel credentials")

	// ErrAlreadyRegistered is returned when a tunnel is added under a second owner key.
	ErrAlreadyRegistered = errors.New("tunnel already registered")

	// ErrTerminationFailed wraps an OS-level failure to kill a tunnel process.
	ErrTerminationFailed = errors.New("tunnel termination failed")
)

// LaunchError describes a launch that failed before a tunnel process existed.
type LaunchError struct {
	Op     string // "validate", "resolve", "options" or "spawn"
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Binary == "" {
		return fmt.Sprintf("%s: %s: %v", ErrLaunchFailed, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrLaunchFailed, e.Op, e.Binary, e.Err)
}

// Unwrap exposes both ErrLaunchFailed and the underlying cause to errors.Is.
func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunchFailed, e.Err}
}
