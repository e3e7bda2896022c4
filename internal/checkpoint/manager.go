// Package checkpoint snapshots and restores the whole pipeline state of a
// storage root: observations, instincts, evolved artifacts and identity.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/evolve"
	"github.com/Integrum-Global/kailash-learn/internal/filelock"
	"github.com/Integrum-Global/kailash-learn/internal/instinct"
	"github.com/Integrum-Global/kailash-learn/internal/metrics"
	"github.com/Integrum-Global/kailash-learn/internal/observe"
	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

const (
	idPrefix     = "ckpt-"
	idTimeFormat = "20060102T150405.000000000Z"
	manifestFile = "manifest.json"
	tmpPrefix    = ".tmp-"

	// copyWorkers bounds concurrent file copies.
	copyWorkers = 8
)

var validID = regexp.MustCompile(`^ckpt-\d{8}T\d{6}\.\d{9}Z$`)

// storePatterns select the files that make up pipeline state.
var storePatterns = []string{
	storage.LiveLogFile,
	storage.ArchiveDir + "/*" + storage.ArchiveExt,
	storage.InstinctsDir + "/**",
	storage.EvolvedDir + "/**",
	storage.IdentityFile,
}

// mutable reports whether a store file is modified in place and so must be
// copied, never linked. Every other store file is only replaced by rename.
func mutable(p string) bool {
	switch p {
	case storage.LiveLogFile, storage.IdentityFile, storage.EvolvedDir + "/" + storage.ProvenanceFile:
		return true
	}
	return false
}

// File is one manifest entry. Path is slash-separated, relative to the root.
type File struct {
	Path   string `json:"path" yaml:"path"`
	Size   int64  `json:"size" yaml:"size"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// Checkpoint is the manifest of one snapshot.
type Checkpoint struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Files     []File    `json:"files" yaml:"files"`
}

// Size is the total byte size of the snapshot.
func (c Checkpoint) Size() int64 {
	var n int64
	for _, f := range c.Files {
		n += f.Size
	}
	return n
}

// Manager creates, lists and restores checkpoints of one storage root.
type Manager struct {
	layout  storage.Layout
	logger  *zap.Logger
	metrics *metrics.Recorder
	timeout time.Duration
	now     func() time.Time

	// mu serialises id allocation within one process.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records checkpoint operations.
func WithMetrics(r *metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithLockTimeout bounds the wait for each store lock.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithClock overrides the time source used for checkpoint ids.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns a manager for the identity's root, completing any restore that
// was interrupted.
func New(ctx context.Context, id *config.Identity, opts ...Option) (*Manager, error) {
	m := &Manager{
		layout:  id.Layout(),
		logger:  zap.NewNop(),
		timeout: filelock.DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recover checkpoint state: %w", err)
	}
	return m, nil
}

// ValidID reports whether id has the checkpoint id format.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Create snapshots every store under all three store locks.
func (m *Manager) Create(ctx context.Context) (Checkpoint, error) {
	start := time.Now()
	defer m.metrics.Observe("checkpoint_create", start)

	locks, err := m.lockAll(ctx)
	if err != nil {
		return Checkpoint{}, err
	}
	defer func() {
		_ = locks.Release() //nolint:errcheck // unlock best-effort
	}()

	id, createdAt := m.allocateID()
	tmp := filepath.Join(m.layout.CheckpointsDir(), tmpPrefix+id)
	if err := os.MkdirAll(tmp, 0700); err != nil {
		return Checkpoint{}, fmt.Errorf("create checkpoint dir: %w", err)
	}
	done := false
	defer func() {
		if !done {
			_ = os.RemoveAll(tmp) //nolint:errcheck // cleanup in error path
		}
	}()

	paths, err := storeFiles(m.layout.Root)
	if err != nil {
		return Checkpoint{}, err
	}
	files, err := snapshot(ctx, m.layout.Root, tmp, paths)
	if err != nil {
		return Checkpoint{}, err
	}

	ckpt := Checkpoint{ID: id, CreatedAt: createdAt, Files: files}
	if err := storage.WriteJSON(filepath.Join(tmp, manifestFile), ckpt); err != nil {
		return Checkpoint{}, fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(m.layout.CheckpointsDir(), id)); err != nil {
		return Checkpoint{}, fmt.Errorf("seal checkpoint: %w", err)
	}
	done = true

	m.metrics.Checkpoint("create")
	m.logger.Info("created checkpoint",
		zap.String("checkpoint", id),
		zap.Int("files", len(files)),
		zap.Int64("bytes", ckpt.Size()))
	return ckpt, nil
}

// List returns every sealed checkpoint ordered by id, which is creation order.
func (m *Manager) List(ctx context.Context) ([]Checkpoint, error) {
	entries, err := os.ReadDir(m.layout.CheckpointsDir())
	if os.IsNotExist(err) {
		return []Checkpoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	out := []Checkpoint{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || !ValidID(e.Name()) {
			continue
		}
		ckpt, err := m.manifest(e.Name())
		if err != nil {
			m.logger.Warn("skipping unreadable checkpoint",
				zap.String("checkpoint", e.Name()),
				zap.Error(err))
			continue
		}
		out = append(out, ckpt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// manifest reads the manifest of a sealed checkpoint.
func (m *Manager) manifest(id string) (Checkpoint, error) {
	var ckpt Checkpoint
	if err := storage.ReadJSON(filepath.Join(m.layout.CheckpointsDir(), id, manifestFile), &ckpt); err != nil {
		return Checkpoint{}, err
	}
	return ckpt, nil
}

// allocateID returns an unused id for the current time, bumped by a
// nanosecond on collision.
func (m *Manager) allocateID() (string, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.now().UTC()
	for {
		id := idPrefix + t.Format(idTimeFormat)
		if !storage.Exists(filepath.Join(m.layout.CheckpointsDir(), id)) {
			return id, t
		}
		t = t.Add(time.Nanosecond)
	}
}

// lockAll takes the three store locks exclusively in a fixed order.
func (m *Manager) lockAll(ctx context.Context) (filelock.Set, error) {
	names := []string{observe.LockName, instinct.LockName, evolve.LockName}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = m.layout.LockFile(n)
	}
	set, err := filelock.AcquireAll(ctx, paths, filelock.Exclusive, m.timeout)
	if errors.Is(err, types.ErrStoreLocked) {
		m.metrics.LockTimeout("checkpoint")
	}
	return set, err
}

// storeFiles enumerates the regular files that make up pipeline state,
// relative to root and sorted. Dot-prefixed entries (staging, temp files)
// are never part of a snapshot.
func storeFiles(root string) ([]string, error) {
	fsys := os.DirFS(root)
	var out []string
	for _, pattern := range storePatterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", pattern, err)
		}
		for _, p := range matches {
			if !hidden(p) {
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func hidden(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// snapshot places every file of paths from src into dst in parallel and
// returns their manifest entries in path order.
func snapshot(ctx context.Context, src, dst string, paths []string) ([]File, error) {
	files := make([]File, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(copyWorkers)

	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			from := filepath.Join(src, filepath.FromSlash(p))
			to := filepath.Join(dst, filepath.FromSlash(p))

			var err error
			if mutable(p) {
				err = storage.CopyFile(from, to)
			} else {
				err = storage.LinkOrCopy(from, to)
			}
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", p, err)
			}

			size, sum, err := hashFile(to)
			if err != nil {
				return err
			}
			files[i] = File{Path: path.Clean(p), Size: size, SHA256: sum}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func hashFile(p string) (int64, string, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, "", err
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("hash %s: %w", p, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
