// Package types defines the data structures of the continuous-learning pipeline:
// observations captured from sessions, the instincts extracted from them, and
// the knowledge artifacts evolved from high-confidence instincts.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ObservationType is the fixed enumeration of captured event kinds.
type ObservationType string

const (
	ObservationToolUse            ObservationType = "tool_use"
	ObservationWorkflowPattern    ObservationType = "workflow_pattern"
	ObservationErrorOccurrence    ObservationType = "error_occurrence"
	ObservationErrorFix           ObservationType = "error_fix"
	ObservationFrameworkSelection ObservationType = "framework_selection"
	ObservationNodeUsage          ObservationType = "node_usage"
	ObservationConnectionPattern  ObservationType = "connection_pattern"
	ObservationTestPattern        ObservationType = "test_pattern"
	ObservationDomainModel        ObservationType = "domain_model"
	ObservationSessionSummary     ObservationType = "session_summary"
)

// ObservationTypes lists every known type in declaration order.
var ObservationTypes = []ObservationType{
	ObservationToolUse,
	ObservationWorkflowPattern,
	ObservationErrorOccurrence,
	ObservationErrorFix,
	ObservationFrameworkSelection,
	ObservationNodeUsage,
	ObservationConnectionPattern,
	ObservationTestPattern,
	ObservationDomainModel,
	ObservationSessionSummary,
}

// Known reports whether t is a member of the fixed enumeration.
func (t ObservationType) Known() bool {
	for _, known := range ObservationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Context records where an observation was captured.
type Context struct {
	// SessionID identifies the agent session.
	SessionID string `json:"session_id,omitempty"`

	// Cwd is the working-directory hint.
	Cwd string `json:"cwd,omitempty"`

	// Framework is the detected-framework hint.
	Framework string `json:"framework,omitempty"`
}

// Key identifies a distinct context for consistency scoring.
func (c Context) Key() string {
	return c.SessionID + "|" + c.Cwd
}

// Observation is one immutable captured event.
type Observation struct {
	// ID is a time-ordered unique identifier (UUIDv7).
	ID string `json:"id"`

	// Timestamp is the UTC creation time.
	Timestamp time.Time `json:"timestamp"`

	// Type selects the payload variant.
	Type ObservationType `json:"type"`

	// Data is the type-specific payload.
	Data Payload `json:"data"`

	// Context describes the capturing session.
	Context Context `json:"context"`
}

// Validate checks that the type is known and the payload matches it.
func (o Observation) Validate() error {
	if !o.Type.Known() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidObservation, o.Type)
	}
	if o.Data == nil {
		return fmt.Errorf("%w: %s: missing data", ErrInvalidObservation, o.Type)
	}
	if o.Data.Type() != o.Type {
		return fmt.Errorf("%w: data shape %s does not match type %s", ErrInvalidObservation, o.Data.Type(), o.Type)
	}
	if err := o.Data.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidObservation, o.Type, err)
	}
	return nil
}

type observationWire struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      ObservationType `json:"type"`
	Data      json.RawMessage `json:"data"`
	Context   Context         `json:"context"`
}

// MarshalJSON writes the observation in the one-record-per-line wire format.
func (o Observation) MarshalJSON() ([]byte, error) {
	var data json.RawMessage
	if o.Data != nil {
		raw, err := json.Marshal(o.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", o.Type, err)
		}
		data = raw
	} else {
		data = json.RawMessage("{}")
	}
	return json.Marshal(observationWire{
		ID:        o.ID,
		Timestamp: o.Timestamp,
		Type:      o.Type,
		Data:      data,
		Context:   o.Context,
	})
}

// UnmarshalJSON dispatches the data payload on the type field. Types this
// build does not know decode to UnknownPayload instead of failing.
func (o *Observation) UnmarshalJSON(b []byte) error {
	var wire observationWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	if wire.Type == "" {
		return fmt.Errorf("missing type")
	}
	payload, err := DecodePayload(wire.Type, wire.Data)
	if err != nil {
		return err
	}
	*o = Observation{
		ID:        wire.ID,
		Timestamp: wire.Timestamp,
		Type:      wire.Type,
		Data:      payload,
		Context:   wire.Context,
	}
	return nil
}
