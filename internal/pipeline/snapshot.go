package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/Integrum-Global/kailash-learn/internal/instinct"
	"github.com/Integrum-Global/kailash-learn/internal/metrics"
)

// Snapshot measures every store and publishes the sizes to the store gauges.
func (p *Pipeline) Snapshot(ctx context.Context) (metrics.StoreSnapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := metrics.StoreSnapshot{
		Instincts:      map[string]int{},
		Artifacts:      map[string]int{},
		StaleArtifacts: map[string]int{},
	}

	st, err := p.observe.Stats(ctx)
	if err != nil {
		return snap, err
	}
	snap.LiveObservations = st.LiveCount
	snap.ArchivedObservations = st.ArchiveCount
	snap.ArchiveFiles = st.ArchiveFiles

	insts, err := p.instincts.List(ctx, instinct.ListOptions{})
	if err != nil {
		return snap, err
	}
	for _, inst := range insts {
		snap.Instincts[inst.Source]++
	}

	artifacts, err := p.engine.Artifacts(ctx)
	if err != nil {
		return snap, err
	}
	for _, a := range artifacts {
		if a.Stale {
			snap.StaleArtifacts[string(a.Category)]++
		} else {
			snap.Artifacts[string(a.Category)]++
		}
	}

	p.metrics.SetStores(snap)
	p.logger.Debug("measured stores",
		zap.Int("live", snap.LiveObservations),
		zap.Int("archived", snap.ArchivedObservations),
		zap.Int("instincts", len(insts)),
		zap.Int("artifacts", len(artifacts)))
	return snap, nil
}
