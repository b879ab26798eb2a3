package wpan

import "errors"

// Domain errors for the wpan package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, wpan.ErrNotFound) {
//	    // reply "no such object" to the caller
//	}
var (
	// ErrNotFound is returned when an operation names a PHY or interface
	// the registry does not hold.
	ErrNotFound = errors.New("wpan: entity not found")

	// ErrRejected is returned when a channel change cannot be applied:
	// the PHY's page is still unknown or the kernel refused the command.
	ErrRejected = errors.New("wpan: command rejected")

	// ErrReadOnly is returned when a set request targets a read-only property.
	ErrReadOnly = errors.New("wpan: property is read-only")

	// ErrUnknownProperty is returned when a request names a property the
	// entity does not publish.
	ErrUnknownProperty = errors.New("wpan: unknown property")

	// ErrInvalidValue is returned when a set request carries a value of the
	// wrong type or outside the property's range.
	ErrInvalidValue = errors.New("wpan: invalid property value")

	// ErrEngineStopped is returned by request methods once the dispatch loop
	// has exited.
	ErrEngineStopped = errors.New("wpan: engine stopped")
)
