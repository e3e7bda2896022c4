package instinct

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/metrics"
	"github.com/Integrum-Global/kailash-learn/internal/observe"
	"github.com/Integrum-Global/kailash-learn/internal/types"
	"github.com/Integrum-Global/kailash-learn/internal/worker"
)

// ProcessOptions configures one processing run.
type ProcessOptions struct {
	// MinConfidence discards new patterns scoring below it. Existing records
	// are always refreshed.
	MinConfidence float64
}

// ProcessResult summarises one processing run.
type ProcessResult struct {
	InstinctsCreated   int  `json:"instincts_created" yaml:"instincts_created"`
	InstinctsUpdated   int  `json:"instincts_updated" yaml:"instincts_updated"`
	InstinctsUnchanged int  `json:"instincts_unchanged" yaml:"instincts_unchanged"`
	Discarded          int  `json:"discarded" yaml:"discarded"`
	Skipped            int  `json:"skipped" yaml:"skipped"`
	Groups             int  `json:"groups" yaml:"groups"`
	Observations       int  `json:"observations" yaml:"observations"`
	Partial            bool `json:"partial,omitempty" yaml:"partial,omitempty"`
}

// Processor turns the observation log into instinct records.
type Processor struct {
	identity    *config.Identity
	observe     *observe.Store
	store       *Store
	registry    Registry
	logger      *zap.Logger
	metrics     *metrics.Recorder
	concurrency int
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the logger used for skipped groups.
func WithLogger(l *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records per-outcome counts.
func WithMetrics(r *metrics.Recorder) ProcessorOption {
	return func(p *Processor) { p.metrics = r }
}

// WithRegistry replaces the pattern strategies.
func WithRegistry(r Registry) ProcessorOption {
	return func(p *Processor) { p.registry = r }
}

// WithConcurrency sets the number of scoring workers (default NumCPU).
func WithConcurrency(n int) ProcessorOption {
	return func(p *Processor) { p.concurrency = n }
}

// NewProcessor wires a processor over an observation store and instinct store
// sharing the identity's root.
func NewProcessor(id *config.Identity, obs *observe.Store, store *Store, opts ...ProcessorOption) *Processor {
	p := &Processor{
		identity: id,
		observe:  obs,
		store:    store,
		registry: DefaultRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// group is every observation sharing one pattern key.
type group struct {
	key      string
	strategy Strategy
	members  []types.Observation
}

// Process reads every observation, scores each pattern group and commits the
// resulting records as one batch. When ctx is cancelled mid-run the groups
// already scored are committed and ctx.Err() is returned with the partial
// result; re-running completes the rest.
func (p *Processor) Process(ctx context.Context, opts ProcessOptions) (ProcessResult, error) {
	start := time.Now()
	defer p.metrics.Observe("process", start)

	var result ProcessResult
	groups, asOf, n, err := p.collect(ctx)
	if err != nil {
		return result, err
	}
	result.Observations = n
	result.Groups = len(groups)

	existing, err := p.store.personal(ctx)
	if err != nil {
		return result, err
	}

	params := ParamsFrom(p.identity)
	pool := worker.NewPool[*group, types.Instinct](p.concurrency)
	scored := pool.Process(ctx, groups, func(_ context.Context, g *group) (types.Instinct, error) {
		return score(g, asOf, params)
	})

	var updates []types.Instinct
	for i, r := range scored {
		if !r.Ran {
			result.Partial = true
			continue
		}
		g := groups[i]
		if r.Err != nil {
			result.Skipped++
			p.logger.Warn("skipping pattern group",
				zap.String("pattern", g.key),
				zap.Int("observations", len(g.members)),
				zap.Error(r.Err))
			continue
		}

		inst := r.Value
		prev, exists := existing[inst.ID]
		switch {
		case exists && sameBytes(inst, prev.raw):
			result.InstinctsUnchanged++
		case exists:
			result.InstinctsUpdated++
			updates = append(updates, inst)
		case inst.Confidence >= opts.MinConfidence:
			result.InstinctsCreated++
			updates = append(updates, inst)
		default:
			result.Discarded++
		}
	}

	commitCtx := ctx
	if result.Partial {
		commitCtx = context.WithoutCancel(ctx)
	}
	if err := p.store.commit(commitCtx, updates); err != nil {
		return result, fmt.Errorf("commit instincts: %w", err)
	}

	p.metrics.InstinctOutcome("created", result.InstinctsCreated)
	p.metrics.InstinctOutcome("updated", result.InstinctsUpdated)
	p.metrics.InstinctOutcome("unchanged", result.InstinctsUnchanged)
	p.metrics.InstinctOutcome("discarded", result.Discarded)
	p.metrics.InstinctOutcome("skipped", result.Skipped)

	p.logger.Info("processed observations",
		zap.Int("observations", result.Observations),
		zap.Int("groups", result.Groups),
		zap.Int("created", result.InstinctsCreated),
		zap.Int("updated", result.InstinctsUpdated),
		zap.Int("skipped", result.Skipped),
		zap.Bool("partial", result.Partial))

	if result.Partial {
		return result, ctx.Err()
	}
	return result, nil
}

// collect groups every patterned observation by key, sorted by key, and
// returns the newest observation time in the store.
func (p *Processor) collect(ctx context.Context) ([]*group, time.Time, int, error) {
	byKey := map[string]*group{}
	var asOf time.Time
	n := 0

	for obs, err := range p.observe.All(ctx) {
		if err != nil {
			return nil, time.Time{}, n, err
		}
		n++
		if obs.Timestamp.After(asOf) {
			asOf = obs.Timestamp
		}
		key, s, ok := p.registry.Key(obs)
		if !ok {
			continue
		}
		g := byKey[key]
		if g == nil {
			g = &group{key: key, strategy: s}
			byKey[key] = g
		}
		g.members = append(g.members, obs)
	}

	groups := make([]*group, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].key < groups[j].key })
	return groups, asOf, n, nil
}

// score aggregates one group into an instinct record.
func score(g *group, asOf time.Time, params ScoreParams) (types.Instinct, error) {
	if len(g.members) == 0 {
		return types.Instinct{}, fmt.Errorf("%w: empty", ErrMalformedGroup)
	}

	// oldest first, id breaks ties, so the description sample is stable
	members := append([]types.Observation(nil), g.members...)
	sort.Slice(members, func(i, j int) bool {
		if !members[i].Timestamp.Equal(members[j].Timestamp) {
			return members[i].Timestamp.Before(members[j].Timestamp)
		}
		return members[i].ID < members[j].ID
	})

	sourceType := members[0].Type
	successes := 0
	contexts := map[string]struct{}{}
	for _, obs := range members {
		if obs.Type != sourceType {
			return types.Instinct{}, fmt.Errorf("%w: mixes %s and %s", ErrMalformedGroup, sourceType, obs.Type)
		}
		if err := obs.Validate(); err != nil {
			return types.Instinct{}, fmt.Errorf("%w: observation %s: %w", ErrMalformedGroup, obs.ID, err)
		}
		if Success(obs) {
			successes++
		}
		contexts[obs.Context.Key()] = struct{}{}
	}

	ev := types.Evidence{
		ObservationCount: len(members),
		SuccessRate:      Round(float64(successes) / float64(len(members))),
		FirstObserved:    members[0].Timestamp.UTC(),
		LastObserved:     members[len(members)-1].Timestamp.UTC(),
		ContextCount:     len(contexts),
	}

	inst := types.Instinct{
		ID:          InstinctID(g.key),
		Pattern:     g.key,
		Description: g.strategy.Describe(members[0]),
		Category:    g.strategy.Category(),
		Confidence:  Score(ev, asOf, params).Confidence,
		Evidence:    ev,
		Source:      types.SourcePersonal,
		SourceType:  sourceType,
	}
	if err := inst.Validate(); err != nil {
		return types.Instinct{}, errors.Join(ErrMalformedGroup, err)
	}
	return inst, nil
}
