// Package provenance tracks the lineage of evolved artifacts.
// It enables tracing from any artifact back to the instinct it was evolved
// from and the evidence that instinct carried at the time.
package provenance

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// Actions recorded against an artifact.
const (
	ActionCreated   = "created"
	ActionRefreshed = "refreshed"
	ActionStale     = "stale"
)

// Record represents a single provenance entry.
// It links one artifact write to its source instinct.
type Record struct {
	// ID is the unique record identifier.
	ID string `json:"id"`

	// ArtifactID is the id of the artifact that was written.
	ArtifactID string `json:"artifact_id"`

	// ArtifactPath is the artifact file, relative to the storage root.
	ArtifactPath string `json:"artifact_path"`

	// Category is the artifact category.
	Category types.ArtifactCategory `json:"category"`

	// Action is created, refreshed, or stale.
	Action string `json:"action"`

	// SourceInstinctID is the instinct the artifact was evolved from.
	SourceInstinctID string `json:"source_instinct_id"`

	// Confidence is the instinct confidence at write time.
	Confidence float64 `json:"confidence"`

	// ObservationCount is the instinct evidence count at write time.
	ObservationCount int `json:"observation_count"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord fills in the id of a record about to be appended.
func NewRecord(r Record) (Record, error) {
	if r.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Record{}, fmt.Errorf("generate provenance id: %w", err)
		}
		r.ID = "prov-" + id.String()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// Append durably writes records to the provenance log at path.
func Append(path string, records ...Record) error {
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal provenance record: %w", err)
		}
		if err := storage.AppendLine(path, line); err != nil {
			return fmt.Errorf("append provenance record: %w", err)
		}
	}
	return nil
}

// Graph manages provenance records and enables querying.
type Graph struct {
	// Path is the location of the provenance JSONL file.
	Path string

	// Records are loaded records for querying, oldest first.
	Records []Record
}

// NewGraph creates a graph from a provenance file.
func NewGraph(path string) (*Graph, error) {
	g := &Graph{Path: path}
	if err := g.load(); err != nil {
		return nil, err
	}
	return g, nil
}

// load reads all records from the provenance file.
func (g *Graph) load() error {
	f, err := os.Open(g.Path)
	if os.IsNotExist(err) {
		g.Records = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("open provenance file: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only, errors non-critical
	}()

	g.Records = nil
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue // Skip malformed lines
		}
		g.Records = append(g.Records, record)
	}

	return scanner.Err()
}

// TraceResult contains the provenance chain for an artifact.
type TraceResult struct {
	// Artifact is the id being traced.
	Artifact string `json:"artifact"`

	// Chain is every write of the artifact, oldest first.
	Chain []Record `json:"chain"`

	// Instincts are the distinct source instincts, in first-seen order.
	Instincts []string `json:"instincts"`
}

// Trace finds the provenance chain for an artifact id. An artifact file path
// relative to the storage root is accepted too.
func (g *Graph) Trace(artifact string) *TraceResult {
	result := &TraceResult{
		Artifact:  artifact,
		Chain:     make([]Record, 0),
		Instincts: make([]string, 0),
	}

	seen := map[string]bool{}
	for _, record := range g.Records {
		if record.ArtifactID != artifact && record.ArtifactPath != artifact {
			continue
		}
		result.Chain = append(result.Chain, record)
		if !seen[record.SourceInstinctID] {
			seen[record.SourceInstinctID] = true
			result.Instincts = append(result.Instincts, record.SourceInstinctID)
		}
	}
	return result
}

// FindByInstinct finds all records written from an instinct.
func (g *Graph) FindByInstinct(instinctID string) []Record {
	var results []Record
	for _, record := range g.Records {
		if record.SourceInstinctID == instinctID {
			results = append(results, record)
		}
	}
	return results
}

// Stats returns statistics about the provenance graph.
type Stats struct {
	TotalRecords    int            `json:"total_records"`
	Actions         map[string]int `json:"actions"`
	Categories      map[string]int `json:"categories"`
	UniqueArtifacts int            `json:"unique_artifacts"`
}

// GetStats returns statistics about the graph.
func (g *Graph) GetStats() *Stats {
	stats := &Stats{
		TotalRecords: len(g.Records),
		Actions:      make(map[string]int),
		Categories:   make(map[string]int),
	}

	artifacts := make(map[string]bool)
	for _, record := range g.Records {
		stats.Actions[record.Action]++
		stats.Categories[string(record.Category)]++
		artifacts[record.ArtifactID] = true
	}

	stats.UniqueArtifacts = len(artifacts)
	return stats
}
