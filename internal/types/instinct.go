package types

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// Instinct categories assigned by the processor. Inherited instincts may carry
// any category, including an artifact category name directly.
const (
	CategoryWorkflow      = "workflow"
	CategoryDomainModel   = "domain-model"
	CategoryTesting       = "testing"
	CategorySecurity      = "security"
	CategoryPattern       = "pattern"
	CategoryTooling       = "tooling"
	CategoryFramework     = "framework"
	CategoryErrorHandling = "error-handling"
)

// Instinct sources.
const (
	SourcePersonal  = "personal"
	SourceInherited = "inherited"
)

// Evidence summarises the observations behind an instinct.
type Evidence struct {
	// ObservationCount is the number of matching observations.
	ObservationCount int `json:"observation_count"`

	// SuccessRate is successful occurrences / ObservationCount.
	SuccessRate float64 `json:"success_rate"`

	// LastObserved is the newest matching observation timestamp.
	LastObserved time.Time `json:"last_observed"`

	// FirstObserved is the oldest matching observation timestamp.
	FirstObserved time.Time `json:"first_observed"`

	// ContextCount is the number of distinct (session, cwd) contexts.
	ContextCount int `json:"context_count"`
}

// Instinct is a confidence-scored behavioural pattern.
type Instinct struct {
	// ID is derived from Pattern, so repeated processing upserts.
	ID string `json:"id"`

	// Pattern is the machine key (e.g. "fix_timeout_error__retry_backoff").
	Pattern string `json:"pattern"`

	// Description is a human-readable statement of the pattern.
	Description string `json:"description"`

	// Category selects evolution thresholds and templates.
	Category string `json:"category"`

	// Confidence is in [0,1], recomputed on every processing run.
	Confidence float64 `json:"confidence"`

	// Evidence holds the aggregate counts.
	Evidence Evidence `json:"evidence"`

	// Source is personal (processed locally) or inherited (imported).
	Source string `json:"source"`

	// SourceType is the observation type the pattern was derived from.
	SourceType ObservationType `json:"source_type,omitempty"`
}

var validInstinctID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidID reports whether id is safe for use as a file name.
func ValidID(id string) bool {
	return id != "" && len(id) <= 128 && validInstinctID.MatchString(id)
}

// Validate checks an instinct record before it is written or imported.
func (i Instinct) Validate() error {
	if !ValidID(i.ID) {
		return fmt.Errorf("%w: id %q", ErrInvalidInstinct, i.ID)
	}
	if i.Pattern == "" {
		return fmt.Errorf("%w: %s: pattern is required", ErrInvalidInstinct, i.ID)
	}
	if i.Category == "" {
		return fmt.Errorf("%w: %s: category is required", ErrInvalidInstinct, i.ID)
	}
	if math.IsNaN(i.Confidence) || i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("%w: %s: confidence %v outside [0,1]", ErrInvalidInstinct, i.ID, i.Confidence)
	}
	if i.Evidence.ObservationCount < 0 {
		return fmt.Errorf("%w: %s: negative observation count", ErrInvalidInstinct, i.ID)
	}
	return nil
}
