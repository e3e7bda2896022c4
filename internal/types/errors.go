package types

import "errors"

// Sentinel errors shared by every pipeline component. Callers match with
// errors.Is; the CLI maps each sentinel to a structured {error, message} kind.
var (
	// ErrInvalidObservation is returned when an observation has an unknown type
	// or a payload that does not match its type. Rejected before any write.
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrTypeDisabled is returned when an observation type is not listed in the
	// identity's enabled categories.
	ErrTypeDisabled = errors.New("observation type disabled")

	// ErrStoreLocked is returned when a store lock cannot be acquired within the
	// configured timeout. Transient; callers may retry with backoff.
	ErrStoreLocked = errors.New("store locked")

	// ErrCorruptRecord marks an unparseable stored line. It is logged and the
	// record skipped; it never fails a whole read.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrCheckpointNotFound is returned when a checkpoint id does not exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrEvolutionSynthesis is returned when rendering an artifact for a single
	// instinct fails. The instinct is skipped; the run continues.
	ErrEvolutionSynthesis = errors.New("evolution synthesis failed")

	// ErrInvalidInstinct is returned when an instinct record fails validation.
	ErrInvalidInstinct = errors.New("invalid instinct")
)

// Error kinds reported at the process edge.
const (
	KindInvalidObservation = "InvalidObservation"
	KindTypeDisabled       = "TypeDisabled"
	KindStoreLocked        = "StoreLocked"
	KindCheckpointNotFound = "CheckpointNotFound"
	KindInvalidInstinct    = "InvalidInstinct"
	KindInternal           = "Internal"
)

// Kind names the sentinel err wraps, or KindInternal.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrTypeDisabled):
		return KindTypeDisabled
	case errors.Is(err, ErrInvalidObservation):
		return KindInvalidObservation
	case errors.Is(err, ErrStoreLocked):
		return KindStoreLocked
	case errors.Is(err, ErrCheckpointNotFound):
		return KindCheckpointNotFound
	case errors.Is(err, ErrInvalidInstinct):
		return KindInvalidInstinct
	}
	return KindInternal
}
