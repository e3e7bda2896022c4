package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Payload is the type-specific data of an observation. Each ObservationType
// has exactly one implementing struct; UnknownPayload carries types this
// build does not recognise.
type Payload interface {
	// Type returns the observation type this payload belongs to.
	Type() ObservationType

	// Validate checks that required fields are present.
	Validate() error
}

// Outcome is implemented by payloads that carry a success predicate.
// ok is false when the occurrence recorded no explicit outcome.
type Outcome interface {
	Succeeded() (success bool, ok bool)
}

func boolOutcome(v *bool) (bool, bool) {
	if v == nil {
		return false, false
	}
	return *v, true
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// ToolUse records a single tool invocation.
type ToolUse struct {
	Tool         string `json:"tool"`
	Success      *bool  `json:"success,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
	InputSummary string `json:"input_summary,omitempty"`
}

func (ToolUse) Type() ObservationType { return ObservationToolUse }
func (p ToolUse) Validate() error { return required("tool", p.Tool) }
func (p ToolUse) Succeeded() (bool, bool) { return boolOutcome(p.Success) }

// WorkflowPattern records an ordered sequence of workflow nodes.
type WorkflowPattern struct {
	Nodes   []string `json:"nodes"`
	Name    string   `json:"name,omitempty"`
	Success *bool    `json:"success,omitempty"`
}

func (WorkflowPattern) Type() ObservationType { return ObservationWorkflowPattern }
func (p WorkflowPattern) Succeeded() (bool, bool) { return boolOutcome(p.Success) }

func (p WorkflowPattern) Validate() error {
	if len(p.Nodes) == 0 {
		return errors.New("nodes must contain at least one node")
	}
	for i, n := range p.Nodes {
		if strings.TrimSpace(n) == "" {
			return fmt.Errorf("nodes[%d] is empty", i)
		}
	}
	return nil
}

// ErrorOccurrence records an error surfaced during a session.
type ErrorOccurrence struct {
	ErrorClass string `json:"error_class"`
	Message    string `json:"message,omitempty"`
	Tool       string `json:"tool,omitempty"`
}

func (ErrorOccurrence) Type() ObservationType { return ObservationErrorOccurrence }
func (p ErrorOccurrence) Validate() error { return required("error_class", p.ErrorClass) }

// ErrorFix records how an error class was resolved.
type ErrorFix struct {
	ErrorClass      string `json:"error_class"`
	ResolutionClass string `json:"resolution_class"`
	Success         *bool  `json:"success,omitempty"`
	Attempts        int    `json:"attempts,omitempty"`
}

func (ErrorFix) Type() ObservationType { return ObservationErrorFix }
func (p ErrorFix) Succeeded() (bool, bool) { return boolOutcome(p.Success) }

func (p ErrorFix) Validate() error {
	if err := required("error_class", p.ErrorClass); err != nil {
		return err
	}
	return required("resolution_class", p.ResolutionClass)
}

// FrameworkSelection records which framework was chosen for a task.
type FrameworkSelection struct {
	Framework    string   `json:"framework"`
	Reason       string   `json:"reason,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

func (FrameworkSelection) Type() ObservationType { return ObservationFrameworkSelection }
func (p FrameworkSelection) Validate() error { return required("framework", p.Framework) }

// NodeUsage records use of a single workflow node.
type NodeUsage struct {
	Node       string         `json:"node"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Success    *bool          `json:"success,omitempty"`
}

func (NodeUsage) Type() ObservationType { return ObservationNodeUsage }
func (p NodeUsage) Validate() error { return required("node", p.Node) }
func (p NodeUsage) Succeeded() (bool, bool) { return boolOutcome(p.Success) }

// ConnectionPattern records a connection between two nodes.
type ConnectionPattern struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Success *bool  `json:"success,omitempty"`
}

func (ConnectionPattern) Type() ObservationType { return ObservationConnectionPattern }
func (p ConnectionPattern) Succeeded() (bool, bool) { return boolOutcome(p.Success) }

func (p ConnectionPattern) Validate() error {
	if err := required("from", p.From); err != nil {
		return err
	}
	return required("to", p.To)
}

// TestPattern records a test style and its result.
type TestPattern struct {
	TestType  string `json:"test_type"`
	Framework string `json:"framework,omitempty"`
	Passed    *bool  `json:"passed,omitempty"`
}

func (TestPattern) Type() ObservationType { return ObservationTestPattern }
func (p TestPattern) Validate() error { return required("test_type", p.TestType) }
func (p TestPattern) Succeeded() (bool, bool) { return boolOutcome(p.Passed) }

// DomainModel records a domain model that was defined or used.
type DomainModel struct {
	Model   string   `json:"model"`
	Fields  []string `json:"fields,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

func (DomainModel) Type() ObservationType { return ObservationDomainModel }
func (p DomainModel) Validate() error { return required("model", p.Model) }

// SessionSummary records end-of-session totals. It never forms a pattern.
type SessionSummary struct {
	ToolCount  int   `json:"tool_count,omitempty"`
	ErrorCount int   `json:"error_count,omitempty"`
	DurationS  int64 `json:"duration_s,omitempty"`
	Success    *bool `json:"success,omitempty"`
}

func (SessionSummary) Type() ObservationType { return ObservationSessionSummary }
func (SessionSummary) Validate() error { return nil }

// UnknownPayload keeps the raw data of a type added after this build.
type UnknownPayload struct {
	Kind ObservationType `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (p UnknownPayload) Type() ObservationType { return p.Kind }

func (p UnknownPayload) Validate() error {
	return fmt.Errorf("unknown observation type %q", p.Kind)
}

// MarshalJSON writes the raw payload back unchanged.
func (p UnknownPayload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("{}"), nil
	}
	return p.Raw, nil
}

// NewPayload returns an empty payload struct for t, or nil for unknown types.
func NewPayload(t ObservationType) Payload {
	switch t {
	case ObservationToolUse:
		return &ToolUse{}
	case ObservationWorkflowPattern:
		return &WorkflowPattern{}
	case ObservationErrorOccurrence:
		return &ErrorOccurrence{}
	case ObservationErrorFix:
		return &ErrorFix{}
	case ObservationFrameworkSelection:
		return &FrameworkSelection{}
	case ObservationNodeUsage:
		return &NodeUsage{}
	case ObservationConnectionPattern:
		return &ConnectionPattern{}
	case ObservationTestPattern:
		return &TestPattern{}
	case ObservationDomainModel:
		return &DomainModel{}
	case ObservationSessionSummary:
		return &SessionSummary{}
	}
	return nil
}

// DecodePayload parses raw JSON data into the variant selected by t.
// Unknown types yield an UnknownPayload holding the raw bytes.
func DecodePayload(t ObservationType, raw json.RawMessage) (Payload, error) {
	target := NewPayload(t)
	if target == nil {
		return UnknownPayload{Kind: t, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", t, err)
	}
	return deref(target), nil
}

// deref returns the value form of a pointer payload so that stored
// observations are plain immutable values.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ToolUse:
		return *v
	case *WorkflowPattern:
		return *v
	case *ErrorOccurrence:
		return *v
	case *ErrorFix:
		return *v
	case *FrameworkSelection:
		return *v
	case *NodeUsage:
		return *v
	case *ConnectionPattern:
		return *v
	case *TestPattern:
		return *v
	case *DomainModel:
		return *v
	case *SessionSummary:
		return *v
	}
	return p
}
