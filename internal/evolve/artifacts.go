package evolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Integrum-Global/kailash-learn/internal/filelock"
	"github.com/Integrum-Global/kailash-learn/internal/provenance"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

const artifactExt = ".md"

// Artifacts returns every evolved artifact, ordered by category then id.
// Unreadable files are logged and skipped.
func (e *Engine) Artifacts(ctx context.Context) ([]types.EvolvedArtifact, error) {
	lock, err := e.lock(ctx, filelock.Shared)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // unlock best-effort
	}()

	var out []types.EvolvedArtifact
	for _, c := range types.ArtifactCategories {
		dir := e.layout.ArtifactDir(c.Dir())
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}

		var batch []types.EvolvedArtifact
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, artifactExt) {
				continue
			}
			a, err := readDocument(filepath.Join(dir, name))
			if err != nil {
				e.logger.Warn("skipping unreadable artifact",
					zap.String("file", filepath.Join(dir, name)),
					zap.Error(err))
				continue
			}
			batch = append(batch, a)
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
		out = append(out, batch...)
	}
	return out, nil
}

// Trace returns the provenance chain of an artifact id.
func (e *Engine) Trace(ctx context.Context, artifactID string) (*provenance.TraceResult, error) {
	lock, err := e.lock(ctx, filelock.Shared)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // unlock best-effort
	}()

	graph, err := provenance.NewGraph(e.layout.ProvenanceLog())
	if err != nil {
		return nil, fmt.Errorf("load provenance: %w", err)
	}
	return graph.Trace(artifactID), nil
}
