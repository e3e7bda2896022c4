package instinct

import "errors"

// Sentinel errors for instinct store operations.
var (
	// ErrInstinctNotFound is returned when no record has the requested id.
	ErrInstinctNotFound = errors.New("instinct not found")

	// ErrMalformedGroup marks a pattern group whose members disagree on type
	// or fail payload validation. The group is skipped.
	ErrMalformedGroup = errors.New("malformed observation group")
)
