package journal

import "errors"

// Domain errors for the journal package.
var (
	// ErrClosed is returned by queries on a closed recorder.
	ErrClosed = errors.New("journal: recorder closed")

	// ErrInvalidRetention is returned by Prune for a non-positive duration.
	ErrInvalidRetention = errors.New("journal: retention must be positive")
)
