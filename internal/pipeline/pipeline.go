// Package pipeline is the composition root of one storage root: it opens the
// identity and wires every store and engine against it. The CLI and the MCP
// server both go through a Pipeline.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Integrum-Global/kailash-learn/internal/checkpoint"
	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/evolve"
	"github.com/Integrum-Global/kailash-learn/internal/filelock"
	"github.com/Integrum-Global/kailash-learn/internal/instinct"
	"github.com/Integrum-Global/kailash-learn/internal/metrics"
	"github.com/Integrum-Global/kailash-learn/internal/observe"
	"github.com/Integrum-Global/kailash-learn/internal/provenance"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// Options configures Open.
type Options struct {
	Logger      *zap.Logger
	Metrics     *metrics.Recorder
	LockTimeout time.Duration

	// Clock overrides time.Now for every component.
	Clock func() time.Time
}

// Pipeline holds the wired components of one storage root. Methods are safe
// for concurrent use; a restore waits for in-flight calls and blocks new ones.
type Pipeline struct {
	identity    *config.Identity
	observe     *observe.Store
	instincts   *instinct.Store
	processor   *instinct.Processor
	engine      *evolve.Engine
	checkpoints *checkpoint.Manager
	metrics     *metrics.Recorder
	logger      *zap.Logger

	mu sync.RWMutex
}

// Open loads (or initialises) the storage root and wires its components.
// An interrupted restore is completed before Open returns.
func Open(ctx context.Context, root string, opts Options) (*Pipeline, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = filelock.DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	id, err := config.LoadOrInit(root, opts.Clock())
	if err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}

	p := &Pipeline{identity: id, metrics: opts.Metrics, logger: opts.Logger}
	p.observe = observe.New(id,
		observe.WithLogger(opts.Logger.Named("observe")),
		observe.WithMetrics(opts.Metrics),
		observe.WithLockTimeout(opts.LockTimeout),
		observe.WithClock(opts.Clock))
	p.instincts = instinct.NewStore(id,
		instinct.WithStoreLogger(opts.Logger.Named("instincts")),
		instinct.WithStoreMetrics(opts.Metrics),
		instinct.WithStoreLockTimeout(opts.LockTimeout))
	p.processor = instinct.NewProcessor(id, p.observe, p.instincts,
		instinct.WithLogger(opts.Logger.Named("process")),
		instinct.WithMetrics(opts.Metrics))

	p.engine, err = evolve.New(id, p.instincts,
		evolve.WithLogger(opts.Logger.Named("evolve")),
		evolve.WithMetrics(opts.Metrics),
		evolve.WithLockTimeout(opts.LockTimeout),
		evolve.WithClock(opts.Clock))
	if err != nil {
		return nil, err
	}

	p.checkpoints, err = checkpoint.New(ctx, id,
		checkpoint.WithLogger(opts.Logger.Named("checkpoint")),
		checkpoint.WithMetrics(opts.Metrics),
		checkpoint.WithLockTimeout(opts.LockTimeout),
		checkpoint.WithClock(opts.Clock))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Root returns the absolute storage root.
func (p *Pipeline) Root() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identity.StorageRoot
}

// Identity returns a copy of the current identity.
func (p *Pipeline) Identity() config.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.identity
}

// Metrics returns the recorder, which may be nil.
func (p *Pipeline) Metrics() *metrics.Recorder { return p.metrics }

// RecordRequest is an observation as submitted by a hook: the type name and
// its raw JSON payload.
type RecordRequest struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Context types.Context   `json:"context"`
}

// Record decodes req and appends it to the observation store.
func (p *Pipeline) Record(ctx context.Context, req RecordRequest) (types.Observation, error) {
	t := types.ObservationType(req.Type)
	if !t.Known() {
		return types.Observation{}, fmt.Errorf("%w: unknown type %q", types.ErrInvalidObservation, req.Type)
	}
	data, err := types.DecodePayload(t, req.Data)
	if err != nil {
		return types.Observation{}, fmt.Errorf("%w: %v", types.ErrInvalidObservation, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.observe.Append(ctx, types.Observation{Type: t, Data: data, Context: req.Context})
}

// Stats returns the observation store statistics.
func (p *Pipeline) Stats(ctx context.Context) (observe.Stats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.observe.Stats(ctx)
}

// Process runs the instinct processor.
func (p *Pipeline) Process(ctx context.Context, opts instinct.ProcessOptions) (instinct.ProcessResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.processor.Process(ctx, opts)
}

// Evolve runs the evolution engine.
func (p *Pipeline) Evolve(ctx context.Context, opts evolve.EvolveOptions) (evolve.EvolveResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine.Evolve(ctx, opts)
}

// Instincts lists stored instincts.
func (p *Pipeline) Instincts(ctx context.Context, opts instinct.ListOptions) ([]types.Instinct, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.instincts.List(ctx, opts)
}

// Import copies instinct records from src into the inherited store.
func (p *Pipeline) Import(ctx context.Context, src string) (instinct.ImportResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.instincts.Import(ctx, src)
}

// Artifacts lists evolved artifacts.
func (p *Pipeline) Artifacts(ctx context.Context) ([]types.EvolvedArtifact, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine.Artifacts(ctx)
}

// Trace returns the provenance chain of an artifact.
func (p *Pipeline) Trace(ctx context.Context, artifactID string) (*provenance.TraceResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine.Trace(ctx, artifactID)
}

// CreateCheckpoint snapshots every store.
func (p *Pipeline) CreateCheckpoint(ctx context.Context) (checkpoint.Checkpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkpoints.Create(ctx)
}

// Checkpoints lists sealed checkpoints.
func (p *Pipeline) Checkpoints(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkpoints.List(ctx)
}

// RestoreCheckpoint replaces every store with checkpoint id and reloads the
// restored identity into every component.
func (p *Pipeline) RestoreCheckpoint(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkpoints.Restore(ctx, id); err != nil {
		return err
	}
	return p.reloadLocked()
}

// UpdateIdentity applies fn to the identity and saves it. Nothing is saved
// when fn fails.
func (p *Pipeline) UpdateIdentity(fn func(*config.Identity) error) (config.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := *p.identity
	next.EnabledCategories = append([]types.ObservationType(nil), p.identity.EnabledCategories...)
	next.Thresholds = maps.Clone(p.identity.Thresholds)
	next.EvolutionTargets = maps.Clone(p.identity.EvolutionTargets)
	if err := fn(&next); err != nil {
		return *p.identity, err
	}
	if err := next.Save(); err != nil {
		return *p.identity, fmt.Errorf("save identity: %w", err)
	}
	*p.identity = next
	return next, nil
}

// reloadLocked re-reads identity.json in place; every component shares the
// pointer. The caller holds p.mu.
func (p *Pipeline) reloadLocked() error {
	fresh, err := config.LoadIdentity(p.identity.Layout())
	if err != nil {
		return fmt.Errorf("reload identity: %w", err)
	}
	*p.identity = *fresh
	return nil
}
