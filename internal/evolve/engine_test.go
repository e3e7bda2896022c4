package evolve

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/filelock"
	"github.com/Integrum-Global/kailash-learn/internal/formatter"
	"github.com/Integrum-Global/kailash-learn/internal/instinct"
	"github.com/Integrum-Global/kailash-learn/internal/provenance"
	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

var baseTime = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	id    *config.Identity
	store *instinct.Store

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	id, err := config.LoadOrInit(t.TempDir(), baseTime)
	require.NoError(t, err)
	return &fixture{id: id, store: instinct.NewStore(id), now: baseTime}
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(f.id, f.store, append([]Option{WithClock(f.clock)}, opts...)...)
	require.NoError(t, err)
	return e
}

// seed imports instincts into the inherited store, replacing same-id records.
func (f *fixture) seed(t *testing.T, insts ...types.Instinct) {
	t.Helper()
	dir := t.TempDir()
	for _, inst := range insts {
		require.NoError(t, storage.WriteJSON(filepath.Join(dir, inst.ID+".json"), inst))
	}
	res, err := f.store.Import(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, res.Imported, len(insts))
}

func (f *fixture) artifact(t *testing.T, c types.ArtifactCategory, id string) (types.EvolvedArtifact, []byte) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.id.Layout().ArtifactDir(c.Dir()), id+".md"))
	require.NoError(t, err)
	a, err := formatter.DecodeDocument(data)
	require.NoError(t, err)
	return a, data
}

func makeInstinct(pattern, category string, confidence float64, count int) types.Instinct {
	return types.Instinct{
		ID:          instinct.InstinctID(pattern),
		Pattern:     pattern,
		Description: "Follow " + pattern,
		Category:    category,
		Confidence:  confidence,
		Evidence: types.Evidence{
			ObservationCount: count,
			SuccessRate:      1,
			FirstObserved:    baseTime.Add(-time.Hour),
			LastObserved:     baseTime,
			ContextCount:     2,
		},
		Source: types.SourcePersonal,
	}
}

func TestEvolveGating(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		makeInstinct("tool_low_confidence", types.CategoryTooling, 0.84, 25),
		makeInstinct("tool_few_observations", types.CategoryTooling, 0.86, 15),
		makeInstinct("tool_clears", types.CategoryTooling, 0.86, 25),
	)

	res, err := f.engine(t).Evolve(context.Background(), EvolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-tool_clears"}, res.Evolved)
	assert.ElementsMatch(t, []string{"inst-tool_low_confidence", "inst-tool_few_observations"}, res.Skipped)
	assert.Empty(t, res.Stale)
	assert.Empty(t, res.Failed)

	skills := f.id.Layout().ArtifactDir(types.ArtifactSkill.Dir())
	assert.FileExists(t, filepath.Join(skills, "inst-tool_clears.md"))
	assert.NoFileExists(t, filepath.Join(skills, "inst-tool_low_confidence.md"))
	assert.NoFileExists(t, filepath.Join(skills, "inst-tool_few_observations.md"))
}

func TestEvolveTargets(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		makeInstinct("workflow_a__b", types.CategoryWorkflow, 0.95, 40),
		makeInstinct("domain_order", types.CategoryDomainModel, 0.96, 60),
		makeInstinct("direct_agent", "agent", 0.96, 60),
		makeInstinct("misc_thing", "unmapped", 0.9, 25),
	)

	e := f.engine(t)
	assert.Equal(t, types.ArtifactCommand, e.Target(makeInstinct("workflow_a__b", types.CategoryWorkflow, 0, 0)))

	res, err := e.Evolve(context.Background(), EvolveOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"inst-workflow_a__b", "inst-domain_order", "inst-direct_agent", "inst-misc_thing"}, res.Evolved)

	layout := f.id.Layout()
	assert.FileExists(t, filepath.Join(layout.ArtifactDir("commands"), "inst-workflow_a__b.md"))
	assert.FileExists(t, filepath.Join(layout.ArtifactDir("agents"), "inst-domain_order.md"))
	assert.FileExists(t, filepath.Join(layout.ArtifactDir("agents"), "inst-direct_agent.md"))
	assert.FileExists(t, filepath.Join(layout.ArtifactDir("skills"), "inst-misc_thing.md"))
}

func TestEvolveDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, makeInstinct("domain_customer", types.CategoryDomainModel, 0.95, 60))
	agents := f.id.Layout().ArtifactDir(types.ArtifactAgent.Dir())

	res, err := f.engine(t).Evolve(context.Background(), EvolveOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, []string{"inst-domain_customer"}, res.Evolved)

	entries, err := os.ReadDir(agents)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoFileExists(t, f.id.Layout().ProvenanceLog())
}

func TestEvolveRefreshKeepsCreatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, makeInstinct("fix_timeout__retry", types.CategoryErrorHandling, 0.9, 30))
	e := f.engine(t)

	_, err := e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	first, firstBytes := f.artifact(t, types.ArtifactSkill, "inst-fix_timeout__retry")
	assert.True(t, first.CreatedAt.Equal(baseTime))
	assert.True(t, first.UpdatedAt.Equal(baseTime))
	assert.Equal(t, 0.9, first.Confidence)

	// nothing changed: file left alone
	f.advance(time.Hour)
	res, err := e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-fix_timeout__retry"}, res.Evolved)
	_, again := f.artifact(t, types.ArtifactSkill, "inst-fix_timeout__retry")
	assert.Equal(t, firstBytes, again)

	// confidence moved: refreshed in place
	f.advance(time.Hour)
	f.seed(t, makeInstinct("fix_timeout__retry", types.CategoryErrorHandling, 0.93, 35))
	_, err = e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	refreshed, _ := f.artifact(t, types.ArtifactSkill, "inst-fix_timeout__retry")
	assert.True(t, refreshed.CreatedAt.Equal(baseTime))
	assert.True(t, refreshed.UpdatedAt.Equal(baseTime.Add(2*time.Hour)))
	assert.Equal(t, 0.93, refreshed.Confidence)
	assert.Contains(t, refreshed.Body, "35 observations")
}

func TestEvolveStaleFlagPreservesBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, makeInstinct("node_batch", types.CategoryPattern, 0.9, 30))
	e := f.engine(t)

	_, err := e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	before, _ := f.artifact(t, types.ArtifactSkill, "inst-node_batch")

	f.advance(24 * time.Hour)
	f.seed(t, makeInstinct("node_batch", types.CategoryPattern, 0.6, 30))
	res, err := e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-node_batch"}, res.Stale)
	assert.Equal(t, []string{"inst-node_batch"}, res.Skipped)
	assert.Empty(t, res.Evolved)

	stale, _ := f.artifact(t, types.ArtifactSkill, "inst-node_batch")
	assert.True(t, stale.Stale)
	require.NotNil(t, stale.StaleSince)
	assert.True(t, stale.StaleSince.Equal(baseTime.Add(24*time.Hour)))
	assert.Equal(t, before.Body, stale.Body)
	assert.Equal(t, before.Confidence, stale.Confidence)
	assert.True(t, stale.CreatedAt.Equal(before.CreatedAt))

	// still stale on the next run, but not rewritten
	_, staleBytes := f.artifact(t, types.ArtifactSkill, "inst-node_batch")
	f.advance(time.Hour)
	res, err = e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-node_batch"}, res.Stale)
	_, again := f.artifact(t, types.ArtifactSkill, "inst-node_batch")
	assert.Equal(t, staleBytes, again)

	// recovered instinct clears the flag
	f.seed(t, makeInstinct("node_batch", types.CategoryPattern, 0.91, 31))
	res, err = e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-node_batch"}, res.Evolved)
	recovered, _ := f.artifact(t, types.ArtifactSkill, "inst-node_batch")
	assert.False(t, recovered.Stale)
	assert.Nil(t, recovered.StaleSince)

	trace, err := e.Trace(ctx, "inst-node_batch")
	require.NoError(t, err)
	var actions []string
	for _, r := range trace.Chain {
		actions = append(actions, r.Action)
	}
	assert.Equal(t, []string{provenance.ActionCreated, provenance.ActionStale, provenance.ActionRefreshed}, actions)
	assert.Equal(t, []string{"inst-node_batch"}, trace.Instincts)
}

func TestEvolveDryRunReportsStaleWithoutFlagging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, makeInstinct("tool_make", types.CategoryTooling, 0.9, 30))
	e := f.engine(t)
	_, err := e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	_, before := f.artifact(t, types.ArtifactSkill, "inst-tool_make")

	f.seed(t, makeInstinct("tool_make", types.CategoryTooling, 0.5, 30))
	res, err := e.Evolve(ctx, EvolveOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-tool_make"}, res.Stale)

	_, after := f.artifact(t, types.ArtifactSkill, "inst-tool_make")
	assert.Equal(t, before, after)
}

func TestEvolveSynthesisFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	broken := makeInstinct("tool_blank", types.CategoryTooling, 0.95, 40)
	broken.Description = ""
	f.seed(t, broken, makeInstinct("tool_fine", types.CategoryTooling, 0.95, 40))

	core, logs := observer.New(zapcore.WarnLevel)
	res, err := f.engine(t, WithLogger(zap.New(core))).Evolve(context.Background(), EvolveOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"inst-tool_fine"}, res.Evolved)
	assert.Equal(t, []string{"inst-tool_blank"}, res.Skipped)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "inst-tool_blank", res.Failed[0].InstinctID)
	assert.Contains(t, res.Failed[0].Reason, "description is empty")

	warnings := logs.FilterMessage("skipping instinct").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "inst-tool_blank", warnings[0].ContextMap()["instinct"])
	assert.NoFileExists(t, filepath.Join(f.id.Layout().ArtifactDir("skills"), "inst-tool_blank.md"))
}

func TestEvolveCustomTemplates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, makeInstinct("tool_x", types.CategoryTooling, 0.95, 40))

	r, err := formatter.NewRendererFS(fstest.MapFS{
		"tpl/skill.md.tmpl": {Data: []byte("skill {{ .Instinct.ID }}\n")},
	}, "tpl/*.md.tmpl")
	require.NoError(t, err)

	_, err = f.engine(t, WithRenderer(r)).Evolve(context.Background(), EvolveOptions{})
	require.NoError(t, err)
	a, _ := f.artifact(t, types.ArtifactSkill, "inst-tool_x")
	assert.Equal(t, "skill inst-tool_x\n", a.Body)
}

func TestEvolveCategoryFilter(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		makeInstinct("tool_x", types.CategoryTooling, 0.95, 40),
		makeInstinct("domain_y", types.CategoryDomainModel, 0.97, 70),
		makeInstinct("domain_weak", types.CategoryDomainModel, 0.5, 70),
	)

	res, err := f.engine(t).Evolve(context.Background(), EvolveOptions{Category: types.ArtifactAgent})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-domain_y"}, res.Evolved)
	assert.Equal(t, []string{"inst-domain_weak"}, res.Skipped)
	assert.NoFileExists(t, filepath.Join(f.id.Layout().ArtifactDir("skills"), "inst-tool_x.md"))
}

func TestEvolveArtifactsListing(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		makeInstinct("tool_x", types.CategoryTooling, 0.95, 40),
		makeInstinct("workflow_y", types.CategoryWorkflow, 0.95, 40),
	)
	e := f.engine(t)
	_, err := e.Evolve(context.Background(), EvolveOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.id.Layout().ArtifactDir("skills"), "junk.md"), []byte("not a document"), 0600))

	got, err := e.Artifacts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.ArtifactSkill, got[0].Category)
	assert.Equal(t, types.ArtifactCommand, got[1].Category)
}

func TestEvolveLockTimeout(t *testing.T) {
	f := newFixture(t)
	f.seed(t, makeInstinct("tool_x", types.CategoryTooling, 0.95, 40))

	held, err := filelock.Acquire(context.Background(), f.id.Layout().LockFile(LockName), filelock.Exclusive, time.Second)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	_, err = f.engine(t, WithLockTimeout(30*time.Millisecond)).Evolve(context.Background(), EvolveOptions{})
	assert.ErrorIs(t, err, types.ErrStoreLocked)
}

func TestEvolveNeverWritesOutsideEvolved(t *testing.T) {
	f := newFixture(t)
	escaping := makeInstinct("tool_escape", types.CategoryTooling, 0.99, 100)
	escaping.ID = "../../../escaped"
	require.NoError(t, storage.WriteJSON(filepath.Join(f.id.Layout().InheritedDir(), "x.json"), escaping))
	f.seed(t, makeInstinct("tool_fine", types.CategoryTooling, 0.95, 40))

	res, err := f.engine(t).Evolve(context.Background(), EvolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-tool_fine"}, res.Evolved)
	assert.Empty(t, res.Failed)

	root := f.id.Layout().Root
	for dir := root; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		assert.NoFileExists(t, filepath.Join(dir, "escaped.md"))
	}
}

func TestEvolveReroutedCategoryFlagsOldArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, makeInstinct("tool_make", types.CategoryTooling, 0.96, 60))
	e := f.engine(t)

	_, err := e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	before, _ := f.artifact(t, types.ArtifactSkill, "inst-tool_make")

	require.NoError(t, f.id.SetTarget(types.CategoryTooling, types.ArtifactAgent))
	f.advance(time.Hour)
	res, err := e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-tool_make"}, res.Evolved)
	assert.Equal(t, []string{"inst-tool_make"}, res.Stale)

	moved, _ := f.artifact(t, types.ArtifactAgent, "inst-tool_make")
	assert.False(t, moved.Stale)
	old, _ := f.artifact(t, types.ArtifactSkill, "inst-tool_make")
	assert.True(t, old.Stale)
	assert.Equal(t, before.Body, old.Body)

	// already flagged: reported, not rewritten
	_, oldBytes := f.artifact(t, types.ArtifactSkill, "inst-tool_make")
	res, err = e.Evolve(ctx, EvolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"inst-tool_make"}, res.Stale)
	_, again := f.artifact(t, types.ArtifactSkill, "inst-tool_make")
	assert.Equal(t, oldBytes, again)
}
