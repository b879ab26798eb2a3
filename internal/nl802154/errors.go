package nl802154

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrDecode is returned when an attribute buffer is malformed: a header is
	// truncated, a declared length is out of range, or a value does not have
	// the width its tag requires.
	ErrDecode = errors.New("nl802154: malformed attribute buffer")

	// ErrEncode is returned when a command cannot be serialised.
	ErrEncode = errors.New("nl802154: cannot encode attributes")

	// ErrAttributeWidth is returned by the typed accessors when an attribute
	// value is not exactly the width of the requested scalar. It matches
	// ErrDecode with errors.Is.
	ErrAttributeWidth = fmt.Errorf("%w: attribute width mismatch", ErrDecode)
)
