package genl

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Transport errors.
var (
	// ErrFamilyNotFound is returned when the nl802154 family is not
	// registered, usually because mac802154 is not loaded.
	ErrFamilyNotFound = errors.New("genl: nl802154 family not registered")

	// ErrClosed is returned for operations on a closed client.
	ErrClosed = errors.New("genl: client closed")
)

// CommandError is a kernel refusal (Nack) of one command.
type CommandError struct {
	Command uint8

	// Code is the errno the kernel answered with, zero if unknown.
	Code unix.Errno

	Err error
}

// Error implements error.
func (e *CommandError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("genl: command %d refused: %s", e.Command, e.Code.Error())
	}
	return fmt.Sprintf("genl: command %d failed: %v", e.Command, e.Err)
}

// Unwrap returns the underlying netlink error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// newCommandError extracts the errno from a netlink failure.
func newCommandError(cmd uint8, err error) *CommandError {
	ce := &CommandError{Command: cmd, Err: err}
	var errno unix.Errno
	if errors.As(err, &errno) {
		ce.Code = errno
	}
	return ce
}
