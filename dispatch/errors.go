package dispatch

import (
	"errors"
	"fmt"
)

// Registration errors. They are fatal configuration errors: the host must
// abort startup when Register returns one of them.
var (
	// ErrDuplicateCommand is returned when a name is registered twice.
	ErrDuplicateCommand = errors.New("duplicate command")

	// ErrRegistryClosed is returned by Register after Seal.
	ErrRegistryClosed = errors.New("registry closed")

	// ErrInvalidCommand is returned for an empty name or a nil handler.
	ErrInvalidCommand = errors.New("invalid command")
)

// ConfigError wraps a registration error with the offending command name.
type ConfigError struct {
	Command string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("register %q: %v", e.Command, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *ConfigError) Unwrap() error {
	return e.Err
}
