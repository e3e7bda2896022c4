package instinct

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

const (
	// MaxPatternLength bounds pattern keys; longer signatures are cut and
	// suffixed with a digest of the full key.
	MaxPatternLength = 96

	// partSep joins the parts of a compound key.
	partSep = "__"

	// unspecified stands in for a blank required field so the observation
	// still groups, and the group then fails validation.
	unspecified = "unspecified"
)

// Strategy derives the grouping key of one observation type.
type Strategy interface {
	// Key returns the pattern key of obs, or false when obs never forms a pattern.
	Key(obs types.Observation) (string, bool)

	// Describe renders a human-readable statement of the pattern obs belongs to.
	Describe(obs types.Observation) string

	// Category is the instinct category assigned to every pattern of this type.
	Category() string
}

// Success applies the occurrence success predicate: an explicit outcome
// decides, and occurrences without one (or types without a predicate) count
// as successful.
func Success(obs types.Observation) bool {
	if o, ok := obs.Data.(types.Outcome); ok {
		if success, known := o.Succeeded(); known {
			return success
		}
	}
	return true
}

// Registry maps observation types to their strategies.
type Registry map[types.ObservationType]Strategy

// For returns the strategy for t, if any.
func (r Registry) For(t types.ObservationType) (Strategy, bool) {
	s, ok := r[t]
	return s, ok
}

// Key derives the pattern key of obs through its type's strategy.
func (r Registry) Key(obs types.Observation) (string, Strategy, bool) {
	s, ok := r.For(obs.Type)
	if !ok {
		return "", nil, false
	}
	key, ok := s.Key(obs)
	if !ok {
		return "", nil, false
	}
	return key, s, true
}

// DefaultRegistry returns the built-in strategy for every patterned type.
// session_summary is intentionally absent: it never forms a pattern.
func DefaultRegistry() Registry {
	return Registry{
		types.ObservationToolUse: strategy[types.ToolUse]{
			category: types.CategoryTooling,
			key:      func(p types.ToolUse) []string { return []string{"tool", part(p.Tool)} },
			describe: func(p types.ToolUse) string { return fmt.Sprintf("Use the %s tool", p.Tool) },
		},
		types.ObservationWorkflowPattern: strategy[types.WorkflowPattern]{
			category: types.CategoryWorkflow,
			key:      workflowKey,
			describe: func(p types.WorkflowPattern) string {
				return "Run workflow " + strings.Join(collapse(p.Nodes), " then ")
			},
		},
		types.ObservationErrorOccurrence: strategy[types.ErrorOccurrence]{
			category: types.CategoryErrorHandling,
			key:      func(p types.ErrorOccurrence) []string { return []string{"error", part(p.ErrorClass)} },
			describe: func(p types.ErrorOccurrence) string { return fmt.Sprintf("Expect %s errors", p.ErrorClass) },
		},
		types.ObservationErrorFix: strategy[types.ErrorFix]{
			category: types.CategoryErrorHandling,
			key: func(p types.ErrorFix) []string {
				return []string{"fix", part(p.ErrorClass) + partSep + part(p.ResolutionClass)}
			},
			describe: func(p types.ErrorFix) string {
				return fmt.Sprintf("Resolve %s errors with %s", p.ErrorClass, p.ResolutionClass)
			},
		},
		types.ObservationFrameworkSelection: strategy[types.FrameworkSelection]{
			category: types.CategoryFramework,
			key:      func(p types.FrameworkSelection) []string { return []string{"framework", part(p.Framework)} },
			describe: func(p types.FrameworkSelection) string { return fmt.Sprintf("Prefer the %s framework", p.Framework) },
		},
		types.ObservationNodeUsage: strategy[types.NodeUsage]{
			category: types.CategoryPattern,
			key:      func(p types.NodeUsage) []string { return []string{"node", part(p.Node)} },
			describe: func(p types.NodeUsage) string { return fmt.Sprintf("Use the %s node", p.Node) },
		},
		types.ObservationConnectionPattern: strategy[types.ConnectionPattern]{
			category: types.CategoryPattern,
			key: func(p types.ConnectionPattern) []string {
				return []string{"connection", part(p.From) + partSep + part(p.To)}
			},
			describe: func(p types.ConnectionPattern) string {
				return fmt.Sprintf("Connect %s to %s", p.From, p.To)
			},
		},
		types.ObservationTestPattern: strategy[types.TestPattern]{
			category: types.CategoryTesting,
			key: func(p types.TestPattern) []string {
				k := part(p.TestType)
				if strings.TrimSpace(p.Framework) != "" {
					k += partSep + part(p.Framework)
				}
				return []string{"test", k}
			},
			describe: func(p types.TestPattern) string {
				if p.Framework != "" {
					return fmt.Sprintf("Write %s tests with %s", p.TestType, p.Framework)
				}
				return fmt.Sprintf("Write %s tests", p.TestType)
			},
		},
		types.ObservationDomainModel: strategy[types.DomainModel]{
			category: types.CategoryDomainModel,
			key:      func(p types.DomainModel) []string { return []string{"domain", part(p.Model)} },
			describe: func(p types.DomainModel) string { return fmt.Sprintf("Model the %s domain entity", p.Model) },
		},
	}
}

// strategy adapts typed key/describe functions to Strategy.
type strategy[P types.Payload] struct {
	category string
	key      func(P) []string
	describe func(P) string
}

func (s strategy[P]) Key(obs types.Observation) (string, bool) {
	p, ok := obs.Data.(P)
	if !ok {
		return "", false
	}
	parts := s.key(p)
	if len(parts) < 2 {
		return "", false
	}
	return clampKey(parts[0] + "_" + parts[1]), true
}

func (s strategy[P]) Describe(obs types.Observation) string {
	p, ok := obs.Data.(P)
	if !ok {
		return ""
	}
	return s.describe(p)
}

func (s strategy[P]) Category() string { return s.category }

func workflowKey(p types.WorkflowPattern) []string {
	nodes := collapse(p.Nodes)
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, part(n))
	}
	if len(parts) == 0 {
		parts = append(parts, unspecified)
	}
	return []string{"workflow", strings.Join(parts, partSep)}
}

// collapse drops consecutive duplicate nodes (compared by key part).
func collapse(nodes []string) []string {
	out := make([]string, 0, len(nodes))
	last := ""
	for i, n := range nodes {
		s := part(n)
		if i > 0 && s == last {
			continue
		}
		out = append(out, strings.TrimSpace(n))
		last = s
	}
	return out
}

// part is the slug of one key component. When the slug drops letters or
// digits (non-ASCII text, truncation) a digest of the value is appended so
// distinct values never share a key.
func part(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return unspecified
	}
	s := storage.Slug(v, "_")
	if s != "" && keepsAll(v, s) {
		return s
	}
	sum := sha256.Sum256([]byte(v))
	digest := hex.EncodeToString(sum[:])[:8]
	if s == "" {
		return digest
	}
	return s + "_" + digest
}

// keepsAll reports whether slug carries every letter and digit of v.
func keepsAll(v, slug string) bool {
	n := 0
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		if r > unicode.MaxASCII {
			return false
		}
		n++
	}
	return n == len(strings.ReplaceAll(slug, "_", ""))
}
