package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Integrum-Global/kailash-learn/internal/instinct"
	"github.com/Integrum-Global/kailash-learn/internal/search"
)

// Search finds instincts and evolved artifacts matching the query terms.
// The index is built from the stores on every call.
func (p *Pipeline) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	idx := search.NewIndex()

	insts, err := p.instincts.List(ctx, instinct.ListOptions{})
	if err != nil {
		return nil, err
	}
	for _, inst := range insts {
		idx.Add(search.Document{
			ID:   inst.ID,
			Kind: search.KindInstinct,
			Text: strings.Join([]string{inst.Pattern, inst.Description, inst.Category}, "\n"),
		})
	}

	artifacts, err := p.engine.Artifacts(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		idx.Add(search.Document{
			ID:   a.ID,
			Kind: search.KindArtifact,
			Text: string(a.Category) + "\n" + a.Body,
		})
	}

	results := idx.Search(query, limit)
	p.logger.Debug("searched stores",
		zap.String("query", query),
		zap.Int("documents", idx.Len()),
		zap.Int("hits", len(results)))
	if results == nil {
		results = []search.Result{}
	}
	return results, nil
}
