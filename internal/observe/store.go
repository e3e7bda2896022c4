// Package observe implements the observation store: a durable, append-only
// JSONL log that seals itself into timestamped archive batches.
package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/filelock"
	"github.com/Integrum-Global/kailash-learn/internal/metrics"
	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// LockName is the lock file guarding the live log and archive directory.
const LockName = "observations"

// DefaultArchiveThreshold is the live record count that triggers sealing.
const DefaultArchiveThreshold = 1000

// archiveTimeFormat sorts lexicographically in chronological order.
const archiveTimeFormat = "20060102T150405.000000000Z"

// Store is the observation store of one storage root.
type Store struct {
	identity  *config.Identity
	layout    storage.Layout
	logger    *zap.Logger
	metrics   *metrics.Recorder
	timeout   time.Duration
	threshold int
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for skipped records.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records appends, rejections and corrupt lines.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Store) { s.metrics = r }
}

// WithLockTimeout bounds the wait for the store lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithArchiveThreshold overrides the sealing threshold.
func WithArchiveThreshold(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns the observation store for the identity's storage root.
func New(id *config.Identity, opts ...Option) *Store {
	s := &Store{
		identity:  id,
		layout:    id.Layout(),
		logger:    zap.NewNop(),
		timeout:   filelock.DefaultTimeout,
		threshold: DefaultArchiveThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// countLines is replaced in tests.
var countLines = storage.CountLines

// Append validates obs, assigns its id and timestamp when unset, and durably
// appends it to the live log. The returned observation is what was stored.
func (s *Store) Append(ctx context.Context, obs types.Observation) (types.Observation, error) {
	if err := obs.Validate(); err != nil {
		s.metrics.ObservationRejected("InvalidObservation")
		return types.Observation{}, err
	}
	if !s.identity.Enabled(obs.Type) {
		s.metrics.ObservationRejected("TypeDisabled")
		return types.Observation{}, fmt.Errorf("%w: %s", types.ErrTypeDisabled, obs.Type)
	}

	lock, err := s.lock(ctx, filelock.Exclusive)
	if err != nil {
		return types.Observation{}, err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // unlock best-effort
	}()

	// assigned under the lock so file order agrees with id and time order
	if obs.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return types.Observation{}, fmt.Errorf("generate observation id: %w", err)
		}
		obs.ID = id.String()
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = s.now()
	}
	obs.Timestamp = obs.Timestamp.UTC()

	line, err := json.Marshal(obs)
	if err != nil {
		return types.Observation{}, fmt.Errorf("marshal observation: %w", err)
	}

	if err := storage.AppendLine(s.layout.LiveLog(), line); err != nil {
		return types.Observation{}, fmt.Errorf("append observation: %w", err)
	}
	s.metrics.ObservationAppended(string(obs.Type))

	count, err := countLines(s.layout.LiveLog())
	if err != nil {
		// the record is durable; the count is retried on the next append
		s.logger.Warn("count live records", zap.Error(err))
		return obs, nil
	}
	if count >= s.threshold {
		if _, err := s.seal(); err != nil {
			// the record is durable; sealing retries on the next append
			s.logger.Warn("seal live log", zap.Int("records", count), zap.Error(err))
		}
	}
	return obs, nil
}

// seal renames the live log into the archive and starts a new empty live
// file. The caller holds the exclusive lock.
func (s *Store) seal() (string, error) {
	if err := os.MkdirAll(s.layout.ArchiveDir(), 0700); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	ts := s.now().UTC()
	var dst string
	for {
		dst = filepath.Join(s.layout.ArchiveDir(), storage.ArchivePrefix+ts.Format(archiveTimeFormat)+storage.ArchiveExt)
		if !storage.Exists(dst) {
			break
		}
		ts = ts.Add(time.Nanosecond)
	}

	if err := os.Rename(s.layout.LiveLog(), dst); err != nil {
		return "", fmt.Errorf("seal live log: %w", err)
	}

	f, err := os.OpenFile(s.layout.LiveLog(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return dst, fmt.Errorf("create live log: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close() //nolint:errcheck // cleanup in error path
		return dst, err
	}
	if err := f.Close(); err != nil {
		return dst, err
	}

	s.metrics.ArchiveSealed()
	s.logger.Info("sealed live log", zap.String("archive", filepath.Base(dst)))
	return dst, nil
}

func (s *Store) lock(ctx context.Context, mode filelock.Mode) (*filelock.Lock, error) {
	l, err := filelock.Acquire(ctx, s.layout.LockFile(LockName), mode, s.timeout)
	if errors.Is(err, types.ErrStoreLocked) {
		s.metrics.LockTimeout(LockName)
	}
	return l, err
}
