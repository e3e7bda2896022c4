// Package evolve promotes high-confidence instincts into knowledge artifacts
// (skills, commands, agents) and flags artifacts whose instinct has decayed.
package evolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/filelock"
	"github.com/Integrum-Global/kailash-learn/internal/formatter"
	"github.com/Integrum-Global/kailash-learn/internal/instinct"
	"github.com/Integrum-Global/kailash-learn/internal/metrics"
	"github.com/Integrum-Global/kailash-learn/internal/provenance"
	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// LockName is the lock file guarding the evolved store.
const LockName = "evolved"

// EvolveOptions configures one evolution run.
type EvolveOptions struct {
	// DryRun computes the result without writing anything.
	DryRun bool

	// Category restricts the run to one artifact category. Instincts that
	// target another category are ignored.
	Category types.ArtifactCategory
}

// Failure names an instinct whose artifact could not be synthesized.
type Failure struct {
	InstinctID string `json:"instinct_id" yaml:"instinct_id"`
	Reason     string `json:"reason" yaml:"reason"`
}

// EvolveResult summarises one evolution run. Ids are instinct ids, which are
// also the artifact ids.
type EvolveResult struct {
	Evolved []string  `json:"evolved" yaml:"evolved"`
	Skipped []string  `json:"skipped" yaml:"skipped"`
	Stale   []string  `json:"stale" yaml:"stale"`
	Failed  []Failure `json:"failed" yaml:"failed"`
	DryRun  bool      `json:"dry_run" yaml:"dry_run"`
}

// Engine evolves the instincts of one storage root.
type Engine struct {
	identity  *config.Identity
	layout    storage.Layout
	instincts *instinct.Store
	renderer  *formatter.Renderer
	logger    *zap.Logger
	metrics   *metrics.Recorder
	timeout   time.Duration
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for skipped and failed instincts.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records per-outcome counts.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithLockTimeout bounds the wait for the evolved lock.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock overrides the time source used for artifact timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRenderer replaces the embedded artifact templates.
func WithRenderer(r *formatter.Renderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// New returns an engine over the identity's instinct and evolved stores.
func New(id *config.Identity, instincts *instinct.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		identity:  id,
		layout:    id.Layout(),
		instincts: instincts,
		logger:    zap.NewNop(),
		timeout:   filelock.DefaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.renderer == nil {
		r, err := formatter.NewRenderer()
		if err != nil {
			return nil, err
		}
		e.renderer = r
	}
	return e, nil
}

// Target returns the artifact category inst evolves into.
func (e *Engine) Target(inst types.Instinct) types.ArtifactCategory {
	return e.identity.TargetFor(inst.Category)
}

// Passes reports whether inst clears the gate of its target category.
func (e *Engine) Passes(inst types.Instinct) bool {
	th := e.identity.Threshold(e.Target(inst))
	return inst.Confidence >= th.Confidence && inst.Evidence.ObservationCount >= th.MinObservations
}

// Evolve renders an artifact for every instinct that clears its gate and
// flags existing artifacts of instincts that no longer do. A synthesis
// failure is isolated to its instinct. When ctx is cancelled between
// instincts the partial result is returned with ctx.Err().
func (e *Engine) Evolve(ctx context.Context, opts EvolveOptions) (EvolveResult, error) {
	start := time.Now()
	defer e.metrics.Observe("evolve", start)

	result := EvolveResult{
		Evolved: []string{},
		Skipped: []string{},
		Stale:   []string{},
		Failed:  []Failure{},
		DryRun:  opts.DryRun,
	}

	all, err := e.instincts.List(ctx, instinct.ListOptions{})
	if err != nil {
		return result, err
	}

	mode := filelock.Exclusive
	if opts.DryRun {
		mode = filelock.Shared
	}
	lock, err := e.lock(ctx, mode)
	if err != nil {
		return result, err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // unlock best-effort
	}()

	now := e.now().UTC()
	var records []provenance.Record
	defer func() {
		e.metrics.EvolveOutcome("evolved", len(result.Evolved))
		e.metrics.EvolveOutcome("skipped", len(result.Skipped))
		e.metrics.EvolveOutcome("stale", len(result.Stale))
		e.metrics.EvolveOutcome("failed", len(result.Failed))
	}()

	for _, inst := range all {
		if err := ctx.Err(); err != nil {
			return result, errors.Join(err, e.appendProvenance(records))
		}
		target := e.Target(inst)
		if opts.Category != "" && target != opts.Category {
			continue
		}

		// ids become file names under evolved/
		if !types.ValidID(inst.ID) {
			result.Skipped = append(result.Skipped, inst.ID)
			result.Failed = append(result.Failed, Failure{InstinctID: inst.ID, Reason: types.ErrInvalidInstinct.Error()})
			continue
		}

		orphaned, recs, err := e.flagOrphans(inst, target, opts, now)
		records = append(records, recs...)
		if err != nil {
			return result, errors.Join(err, e.appendProvenance(records))
		}
		if orphaned {
			result.Stale = append(result.Stale, inst.ID)
		}

		path := e.artifactPath(target, inst.ID)
		existing, exists := e.readExisting(path)

		if !e.Passes(inst) {
			result.Skipped = append(result.Skipped, inst.ID)
			if !exists {
				continue
			}
			if !orphaned {
				result.Stale = append(result.Stale, inst.ID)
			}
			if existing.Stale || opts.DryRun {
				continue
			}
			rec, err := e.flagStale(path, existing, inst, now)
			if err != nil {
				return result, errors.Join(err, e.appendProvenance(records))
			}
			records = append(records, rec)
			continue
		}

		body, err := e.renderer.Render(inst, target)
		if err != nil {
			e.logger.Warn("skipping instinct",
				zap.String("instinct", inst.ID),
				zap.String("category", string(target)),
				zap.Error(err))
			result.Skipped = append(result.Skipped, inst.ID)
			result.Failed = append(result.Failed, Failure{InstinctID: inst.ID, Reason: err.Error()})
			continue
		}
		result.Evolved = append(result.Evolved, inst.ID)
		if opts.DryRun {
			continue
		}

		rec, written, err := e.write(path, existing, exists, inst, target, body, now)
		if err != nil {
			return result, errors.Join(err, e.appendProvenance(records))
		}
		if written {
			records = append(records, rec)
		}
	}

	if err := e.appendProvenance(records); err != nil {
		return result, err
	}

	e.logger.Info("evolved instincts",
		zap.Int("evolved", len(result.Evolved)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("stale", len(result.Stale)),
		zap.Int("failed", len(result.Failed)),
		zap.Bool("dry_run", opts.DryRun))
	return result, nil
}

// write creates or refreshes one artifact. An artifact whose content would not
// change is left as is.
func (e *Engine) write(path string, existing types.EvolvedArtifact, exists bool, inst types.Instinct,
	target types.ArtifactCategory, body string, now time.Time) (provenance.Record, bool, error) {
	a := types.EvolvedArtifact{
		ID:               inst.ID,
		SourceInstinctID: inst.ID,
		Category:         target,
		Confidence:       inst.Confidence,
		CreatedAt:        now,
		UpdatedAt:        now,
		Body:             body,
	}
	action := provenance.ActionCreated
	if exists {
		if !existing.Stale && existing.Body == body && existing.Confidence == inst.Confidence {
			return provenance.Record{}, false, nil
		}
		a.CreatedAt = existing.CreatedAt
		action = provenance.ActionRefreshed
	}

	if err := writeDocument(path, a); err != nil {
		return provenance.Record{}, false, fmt.Errorf("write artifact %s: %w", inst.ID, err)
	}
	rec, err := e.record(path, a, inst, action, now)
	return rec, true, err
}

// flagOrphans flags the artifacts of inst left in categories other than
// target, which happens when its instinct category is routed elsewhere. It
// reports whether any such artifact exists.
func (e *Engine) flagOrphans(inst types.Instinct, target types.ArtifactCategory, opts EvolveOptions, now time.Time) (bool, []provenance.Record, error) {
	found := false
	var records []provenance.Record
	for _, c := range types.ArtifactCategories {
		if c == target || (opts.Category != "" && c != opts.Category) {
			continue
		}
		path := e.artifactPath(c, inst.ID)
		existing, ok := e.readExisting(path)
		if !ok {
			continue
		}
		found = true
		if existing.Stale || opts.DryRun {
			continue
		}
		rec, err := e.flagStale(path, existing, inst, now)
		if err != nil {
			return found, records, err
		}
		records = append(records, rec)
	}
	return found, records, nil
}

// flagStale rewrites the frontmatter of existing with stale set. The body is
// kept byte-for-byte.
func (e *Engine) flagStale(path string, existing types.EvolvedArtifact, inst types.Instinct, now time.Time) (provenance.Record, error) {
	existing.Stale = true
	existing.StaleSince = &now
	if err := writeDocument(path, existing); err != nil {
		return provenance.Record{}, fmt.Errorf("flag stale %s: %w", existing.ID, err)
	}
	e.logger.Info("flagged stale artifact",
		zap.String("artifact", existing.ID),
		zap.Float64("confidence", inst.Confidence))
	return e.record(path, existing, inst, provenance.ActionStale, now)
}

func (e *Engine) record(path string, a types.EvolvedArtifact, inst types.Instinct, action string, now time.Time) (provenance.Record, error) {
	rel, err := filepath.Rel(e.layout.Root, path)
	if err != nil {
		rel = path
	}
	return provenance.NewRecord(provenance.Record{
		ArtifactID:       a.ID,
		ArtifactPath:     filepath.ToSlash(rel),
		Category:         a.Category,
		Action:           action,
		SourceInstinctID: inst.ID,
		Confidence:       inst.Confidence,
		ObservationCount: inst.Evidence.ObservationCount,
		CreatedAt:        now,
	})
}

func (e *Engine) appendProvenance(records []provenance.Record) error {
	if len(records) == 0 {
		return nil
	}
	return provenance.Append(e.layout.ProvenanceLog(), records...)
}

// readExisting loads the artifact at path. A missing or unreadable file is
// treated as absent; unreadable ones are logged.
func (e *Engine) readExisting(path string) (types.EvolvedArtifact, bool) {
	a, err := readDocument(path)
	if errors.Is(err, os.ErrNotExist) {
		return types.EvolvedArtifact{}, false
	}
	if err != nil {
		e.logger.Warn("ignoring unreadable artifact",
			zap.String("file", path),
			zap.Error(fmt.Errorf("%w: %v", types.ErrCorruptRecord, err)))
		return types.EvolvedArtifact{}, false
	}
	return a, true
}

func (e *Engine) artifactPath(c types.ArtifactCategory, id string) string {
	return filepath.Join(e.layout.ArtifactDir(c.Dir()), id+artifactExt)
}

func (e *Engine) lock(ctx context.Context, mode filelock.Mode) (*filelock.Lock, error) {
	l, err := filelock.Acquire(ctx, e.layout.LockFile(LockName), mode, e.timeout)
	if errors.Is(err, types.ErrStoreLocked) {
		e.metrics.LockTimeout(LockName)
	}
	return l, err
}

func writeDocument(path string, a types.EvolvedArtifact) error {
	data, err := formatter.EncodeDocument(a)
	if err != nil {
		return err
	}
	return storage.AtomicWrite(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func readDocument(path string) (types.EvolvedArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.EvolvedArtifact{}, err
	}
	return formatter.DecodeDocument(data)
}
