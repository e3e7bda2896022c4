// Package instinct holds the instinct store and the processor that extracts
// confidence-scored instincts from the observation log.
package instinct

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/filelock"
	"github.com/Integrum-Global/kailash-learn/internal/metrics"
	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// LockName is the lock file guarding the instinct store.
const LockName = "instincts"

const (
	stagingDir = ".personal.staging"
	oldDir     = ".personal.old"
	recordExt  = ".json"
)

// Store reads and writes instinct records. Personal records are written only
// by the processor in whole batches; inherited records only by Import.
type Store struct {
	layout  storage.Layout
	logger  *zap.Logger
	metrics *metrics.Recorder
	timeout time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for skipped records.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStoreLockTimeout bounds the wait for the store lock.
func WithStoreLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.timeout = d }
}

// WithStoreMetrics records lock timeouts.
func WithStoreMetrics(r *metrics.Recorder) StoreOption {
	return func(s *Store) { s.metrics = r }
}

// NewStore returns the instinct store of the identity's storage root.
func NewStore(id *config.Identity, opts ...StoreOption) *Store {
	s := &Store{
		layout:  id.Layout(),
		logger:  zap.NewNop(),
		timeout: filelock.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListOptions filters List.
type ListOptions struct {
	// Category keeps only instincts of this category.
	Category string

	// Source keeps only personal or inherited instincts.
	Source string

	// MinConfidence keeps only instincts at or above it.
	MinConfidence float64
}

// List returns every instinct sorted by id. A personal record hides an
// inherited record with the same id.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]types.Instinct, error) {
	lock, err := s.lock(ctx, filelock.Shared)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // unlock best-effort
	}()

	byID := map[string]types.Instinct{}
	for _, src := range []struct {
		dir    string
		source string
	}{
		{s.layout.InheritedDir(), types.SourceInherited},
		{s.layout.PersonalDir(), types.SourcePersonal},
	} {
		records, err := s.scanDirectory(src.dir)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			r.inst.Source = src.source
			byID[r.inst.ID] = r.inst
		}
	}

	out := make([]types.Instinct, 0, len(byID))
	for _, inst := range byID {
		if opts.Category != "" && inst.Category != opts.Category {
			continue
		}
		if opts.Source != "" && inst.Source != opts.Source {
			continue
		}
		if inst.Confidence < opts.MinConfidence {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns one instinct by id, personal first.
func (s *Store) Get(ctx context.Context, id string) (types.Instinct, error) {
	if !types.ValidID(id) {
		return types.Instinct{}, fmt.Errorf("%w: id %q", types.ErrInvalidInstinct, id)
	}
	lock, err := s.lock(ctx, filelock.Shared)
	if err != nil {
		return types.Instinct{}, err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // unlock best-effort
	}()

	for _, dir := range []string{s.layout.PersonalDir(), s.layout.InheritedDir()} {
		r, err := readRecord(filepath.Join(dir, id+recordExt))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return types.Instinct{}, err
		}
		return r.inst, nil
	}
	return types.Instinct{}, fmt.Errorf("%w: %s", ErrInstinctNotFound, id)
}

// ImportResult summarises an Import.
type ImportResult struct {
	Imported []string     `json:"imported" yaml:"imported"`
	Skipped  []ImportSkip `json:"skipped" yaml:"skipped"`
}

// ImportSkip names a source file that was not imported.
type ImportSkip struct {
	File   string `json:"file" yaml:"file"`
	Reason string `json:"reason" yaml:"reason"`
}

// Import copies validated instinct records from src (a .json file, or a
// directory of them) into the inherited store, replacing same-id records.
func (s *Store) Import(ctx context.Context, src string) (ImportResult, error) {
	files, err := importFiles(src)
	if err != nil {
		return ImportResult{}, err
	}

	lock, err := s.lock(ctx, filelock.Exclusive)
	if err != nil {
		return ImportResult{}, err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // unlock best-effort
	}()

	result := ImportResult{Imported: []string{}, Skipped: []ImportSkip{}}
	for _, f := range files {
		r, err := decodeRecord(f)
		if err == nil {
			if r.inst.ID == "" {
				r.inst.ID = strings.TrimSuffix(filepath.Base(f), recordExt)
			}
			err = r.inst.Validate()
		}
		if err != nil {
			s.logger.Warn("skipping instinct import", zap.String("file", f), zap.Error(err))
			result.Skipped = append(result.Skipped, ImportSkip{File: f, Reason: err.Error()})
			continue
		}
		r.inst.Source = types.SourceInherited
		if err := storage.WriteJSON(filepath.Join(s.layout.InheritedDir(), r.inst.ID+recordExt), r.inst); err != nil {
			return result, fmt.Errorf("write inherited %s: %w", r.inst.ID, err)
		}
		result.Imported = append(result.Imported, r.inst.ID)
	}
	return result, nil
}

func importFiles(src string) ([]string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("import source: %w", err)
	}
	if !info.IsDir() {
		return []string{src}, nil
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), recordExt) {
			files = append(files, filepath.Join(src, e.Name()))
		}
	}
	return files, nil
}

// record is a stored instinct with its exact on-disk bytes.
type record struct {
	inst types.Instinct
	raw  []byte
}

// personal returns the current personal records keyed by id.
func (s *Store) personal(ctx context.Context) (map[string]record, error) {
	lock, err := s.lock(ctx, filelock.Shared)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // unlock best-effort
	}()

	records, err := s.scanDirectory(s.layout.PersonalDir())
	if err != nil {
		return nil, err
	}
	out := make(map[string]record, len(records))
	for _, r := range records {
		out[r.inst.ID] = r
	}
	return out, nil
}

// scanDirectory reads all records from dir, skipping malformed files.
func (s *Store) scanDirectory(dir string) ([]record, error) {
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	var records []record
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), recordExt) {
			continue
		}
		path := filepath.Join(dir, file.Name())
		r, err := readRecord(path)
		if errors.Is(err, types.ErrInvalidInstinct) {
			s.logger.Warn("skipping invalid instinct", zap.String("file", path), zap.Error(err))
			continue
		}
		if err != nil {
			s.logger.Warn("skipping corrupt instinct",
				zap.String("file", path),
				zap.Error(fmt.Errorf("%w: %v", types.ErrCorruptRecord, err)))
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// readRecord loads a stored record. Its file name is its id, and a record
// that claims another id or fails validation is rejected.
func readRecord(path string) (record, error) {
	r, err := decodeRecord(path)
	if err != nil {
		return record{}, err
	}
	stem := strings.TrimSuffix(filepath.Base(path), recordExt)
	if r.inst.ID == "" {
		r.inst.ID = stem
	}
	if r.inst.ID != stem {
		return record{}, fmt.Errorf("%w: id %q stored as %s", types.ErrInvalidInstinct, r.inst.ID, filepath.Base(path))
	}
	if err := r.inst.Validate(); err != nil {
		return record{}, err
	}
	return r, nil
}

func decodeRecord(path string) (record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record{}, err
	}
	var inst types.Instinct
	if err := json.Unmarshal(data, &inst); err != nil {
		return record{}, err
	}
	return record{inst: inst, raw: data}, nil
}

// commit writes updates as one batch: the personal directory is staged
// (unchanged files hard-linked, updates written), then swapped in with two
// renames under the exclusive lock. Readers see the old batch or the new one.
func (s *Store) commit(ctx context.Context, updates []types.Instinct) error {
	if len(updates) == 0 {
		return nil
	}
	lock, err := s.lock(ctx, filelock.Exclusive)
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // unlock best-effort
	}()

	if err := s.recover(); err != nil {
		return err
	}

	staging := filepath.Join(s.layout.InstinctsDir(), stagingDir)
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	if err := os.MkdirAll(staging, 0700); err != nil {
		return fmt.Errorf("create staging: %w", err)
	}

	current := s.layout.PersonalDir()
	entries, err := os.ReadDir(current)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := storage.LinkOrCopy(filepath.Join(current, e.Name()), filepath.Join(staging, e.Name())); err != nil {
			return fmt.Errorf("stage %s: %w", e.Name(), err)
		}
	}

	for _, inst := range updates {
		if err := storage.WriteJSON(filepath.Join(staging, inst.ID+recordExt), inst); err != nil {
			return fmt.Errorf("stage %s: %w", inst.ID, err)
		}
	}

	old := filepath.Join(s.layout.InstinctsDir(), oldDir)
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	if storage.Exists(current) {
		if err := os.Rename(current, old); err != nil {
			return fmt.Errorf("retire personal batch: %w", err)
		}
	}
	if err := os.Rename(staging, current); err != nil {
		return fmt.Errorf("swap personal batch: %w", err)
	}
	return os.RemoveAll(old)
}

// recover completes a swap interrupted between its two renames. A staging
// directory is only renamed once fully written, so it rolls forward when the
// personal directory is missing and is discarded otherwise.
func (s *Store) recover() error {
	current := s.layout.PersonalDir()
	staging := filepath.Join(s.layout.InstinctsDir(), stagingDir)
	old := filepath.Join(s.layout.InstinctsDir(), oldDir)

	if !storage.Exists(current) {
		switch {
		case storage.Exists(staging):
			s.logger.Warn("completing interrupted instinct batch")
			if err := os.Rename(staging, current); err != nil {
				return err
			}
		case storage.Exists(old):
			if err := os.Rename(old, current); err != nil {
				return err
			}
		}
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.RemoveAll(staging)
}

func (s *Store) lock(ctx context.Context, mode filelock.Mode) (*filelock.Lock, error) {
	l, err := filelock.Acquire(ctx, s.layout.LockFile(LockName), mode, s.timeout)
	if errors.Is(err, types.ErrStoreLocked) {
		s.metrics.LockTimeout(LockName)
	}
	return l, err
}

// sameBytes reports whether inst renders exactly as raw.
func sameBytes(inst types.Instinct, raw []byte) bool {
	data, err := storage.MarshalRecord(inst)
	return err == nil && bytes.Equal(data, raw)
}
