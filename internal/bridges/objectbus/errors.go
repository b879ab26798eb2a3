package objectbus

import "errors"

// Domain errors for the object bus bridge.
var (
	// ErrMissingDependency is returned by NewBridge when a required option
	// is nil.
	ErrMissingDependency = errors.New("objectbus: missing dependency")

	// ErrUnknownPath is returned when a request names a path that has not
	// been published.
	ErrUnknownPath = errors.New("objectbus: unknown object path")

	// ErrInvalidRequest is returned when a set or get payload cannot be
	// parsed.
	ErrInvalidRequest = errors.New("objectbus: invalid request")
)
