package instinct

import (
	"strings"
	"testing"

	"github.com/Integrum-Global/kailash-learn/internal/types"
)

func boolPtr(b bool) *bool { return &b }

// Each built-in strategy's key contract. Keys are stable across releases:
// changing one orphans every stored instinct derived from it.
func TestStrategyKeyContracts(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name     string
		obs      types.Observation
		wantKey  string
		category string
	}{
		{
			name:     "tool use slugs the tool",
			obs:      obs(types.ToolUse{Tool: "Bash"}),
			wantKey:  "tool_bash",
			category: types.CategoryTooling,
		},
		{
			name:     "workflow joins node slugs",
			obs:      obs(types.WorkflowPattern{Nodes: []string{"CSVReaderNode", "DataTransformer", "SQLWriter"}}),
			wantKey:  "workflow_csvreadernode__datatransformer__sqlwriter",
			category: types.CategoryWorkflow,
		},
		{
			name:     "workflow collapses consecutive duplicates",
			obs:      obs(types.WorkflowPattern{Nodes: []string{"read", "Read", "write", "read"}}),
			wantKey:  "workflow_read__write__read",
			category: types.CategoryWorkflow,
		},
		{
			name:     "error occurrence uses the class",
			obs:      obs(types.ErrorOccurrence{ErrorClass: "ConnectionTimeout", Message: "ignored"}),
			wantKey:  "error_connectiontimeout",
			category: types.CategoryErrorHandling,
		},
		{
			name:     "error fix pairs class and resolution",
			obs:      obs(types.ErrorFix{ErrorClass: "timeout error", ResolutionClass: "retry backoff", Success: boolPtr(true)}),
			wantKey:  "fix_timeout_error__retry_backoff",
			category: types.CategoryErrorHandling,
		},
		{
			name:     "framework selection",
			obs:      obs(types.FrameworkSelection{Framework: "DataFlow", Reason: "db heavy"}),
			wantKey:  "framework_dataflow",
			category: types.CategoryFramework,
		},
		{
			name:     "node usage ignores parameters",
			obs:      obs(types.NodeUsage{Node: "BatchNode", Parameters: map[string]any{"size": 100}}),
			wantKey:  "node_batchnode",
			category: types.CategoryPattern,
		},
		{
			name:     "connection pairs endpoints",
			obs:      obs(types.ConnectionPattern{From: "reader.out", To: "writer.in"}),
			wantKey:  "connection_reader_out__writer_in",
			category: types.CategoryPattern,
		},
		{
			name:     "test pattern without framework",
			obs:      obs(types.TestPattern{TestType: "integration"}),
			wantKey:  "test_integration",
			category: types.CategoryTesting,
		},
		{
			name:     "test pattern with framework",
			obs:      obs(types.TestPattern{TestType: "unit", Framework: "pytest"}),
			wantKey:  "test_unit__pytest",
			category: types.CategoryTesting,
		},
		{
			name:     "domain model",
			obs:      obs(types.DomainModel{Model: "Customer Order", Fields: []string{"id"}}),
			wantKey:  "domain_customer_order",
			category: types.CategoryDomainModel,
		},
		{
			name:     "blank required field groups as unspecified",
			obs:      obs(types.ToolUse{Tool: "  "}),
			wantKey:  "tool_unspecified",
			category: types.CategoryTooling,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, s, ok := reg.Key(tt.obs)
			if !ok {
				t.Fatalf("Key() declined %s", tt.obs.Type)
			}
			if key != tt.wantKey {
				t.Errorf("Key() = %q, want %q", key, tt.wantKey)
			}
			if s.Category() != tt.category {
				t.Errorf("Category() = %q, want %q", s.Category(), tt.category)
			}
			if !types.ValidID(InstinctID(key)) {
				t.Errorf("InstinctID(%q) is not a valid id", key)
			}
			if s.Describe(tt.obs) == "" {
				t.Error("Describe() returned empty text")
			}
		})
	}
}

func TestStrategyDeclines(t *testing.T) {
	reg := DefaultRegistry()

	declined := []types.Observation{
		obs(types.SessionSummary{ToolCount: 3}),
		{Type: "future_kind", Data: types.UnknownPayload{Kind: "future_kind"}},
		// payload shape disagrees with the type
		{Type: types.ObservationToolUse, Data: types.ErrorFix{ErrorClass: "x", ResolutionClass: "y"}},
	}
	for _, o := range declined {
		if key, _, ok := reg.Key(o); ok {
			t.Errorf("Key(%s) = %q, want decline", o.Type, key)
		}
	}
}

func TestWorkflowLongSignatureIsClamped(t *testing.T) {
	nodes := make([]string, 40)
	for i := range nodes {
		nodes[i] = "TransformStep" + strings.Repeat("x", i%3) + string(rune('a'+i%26))
	}
	reg := DefaultRegistry()

	key, _, ok := reg.Key(obs(types.WorkflowPattern{Nodes: nodes}))
	if !ok {
		t.Fatal("Key() declined")
	}
	if len(key) > MaxPatternLength {
		t.Errorf("len(key) = %d, want <= %d", len(key), MaxPatternLength)
	}
	if !strings.HasPrefix(key, "workflow_transformstep") {
		t.Errorf("key lost its prefix: %q", key)
	}

	// a different tail must not collide
	other := append([]string(nil), nodes...)
	other[len(other)-1] = "Different"
	key2, _, _ := reg.Key(obs(types.WorkflowPattern{Nodes: other}))
	if key == key2 {
		t.Errorf("distinct long signatures collided: %q", key)
	}
}

// Values the ASCII slug cannot carry keep their own keys.
func TestStrategyKeysKeepLossyValuesDistinct(t *testing.T) {
	reg := DefaultRegistry()
	long := strings.Repeat("segment ", 10)

	pairs := []struct {
		name string
		a, b types.Observation
	}{
		{"non-ASCII tools", obs(types.ToolUse{Tool: "読む"}), obs(types.ToolUse{Tool: "書く"})},
		{"accent against its ASCII stem", obs(types.DomainModel{Model: "Café"}), obs(types.DomainModel{Model: "Caf"})},
		{"non-ASCII test framework", obs(types.TestPattern{TestType: "unit", Framework: "テスト"}), obs(types.TestPattern{TestType: "unit"})},
		{"long values past the slug limit", obs(types.NodeUsage{Node: long + "alpha"}), obs(types.NodeUsage{Node: long + "beta"})},
	}
	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			ka, _, okA := reg.Key(tt.a)
			kb, _, okB := reg.Key(tt.b)
			if !okA || !okB {
				t.Fatal("Key() declined")
			}
			if ka == kb {
				t.Errorf("distinct values share key %q", ka)
			}
			for _, k := range []string{ka, kb} {
				if !types.ValidID(InstinctID(k)) {
					t.Errorf("InstinctID(%q) is not a valid id", k)
				}
				if strings.Contains(k, unspecified) {
					t.Errorf("key %q fell back to %s", k, unspecified)
				}
			}
		})
	}

	// case folding still groups, for non-ASCII text too
	k1, _, _ := reg.Key(obs(types.DomainModel{Model: "Café"}))
	k2, _, _ := reg.Key(obs(types.DomainModel{Model: "CAFÉ "}))
	if k1 != k2 {
		t.Errorf("case variants split: %q vs %q", k1, k2)
	}
	if !strings.HasPrefix(k1, "domain_caf_") {
		t.Errorf("key %q lost its readable stem", k1)
	}
}

func TestSuccessPredicate(t *testing.T) {
	tests := []struct {
		name string
		obs  types.Observation
		want bool
	}{
		{"explicit success", obs(types.ToolUse{Tool: "x", Success: boolPtr(true)}), true},
		{"explicit failure", obs(types.ToolUse{Tool: "x", Success: boolPtr(false)}), false},
		{"no outcome recorded", obs(types.ToolUse{Tool: "x"}), true},
		{"failed test", obs(types.TestPattern{TestType: "unit", Passed: boolPtr(false)}), false},
		{"type without predicate", obs(types.DomainModel{Model: "m"}), true},
	}
	for _, tt := range tests {
		if got := Success(tt.obs); got != tt.want {
			t.Errorf("%s: Success() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func obs(p types.Payload) types.Observation {
	return types.Observation{Type: p.Type(), Data: p}
}
