package observe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Integrum-Global/kailash-learn/internal/filelock"
	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// Stats summarises the store contents.
type Stats struct {
	TotalCount   int                           `json:"total_count" yaml:"total_count"`
	LiveCount    int                           `json:"live_count" yaml:"live_count"`
	ArchiveCount int                           `json:"archive_count" yaml:"archive_count"`
	ArchiveFiles int                           `json:"archive_files" yaml:"archive_files"`
	CorruptCount int                           `json:"corrupt_count" yaml:"corrupt_count"`
	CountByType  map[types.ObservationType]int `json:"count_by_type" yaml:"count_by_type"`
}

// source is one opened log file, bounded to its size when opened.
type source struct {
	name string
	live bool
	file *os.File
	r    io.Reader
}

// All returns every stored observation: the live log first, then archives
// oldest first. Each call re-reads the store. Unparseable lines are logged and
// skipped; a non-nil error is yielded only when the store cannot be read or
// ctx is done, and it ends the sequence.
func (s *Store) All(ctx context.Context) iter.Seq2[types.Observation, error] {
	return func(yield func(types.Observation, error) bool) {
		_ = s.scan(ctx, func(_ *source, obs types.Observation) bool {
			return yield(obs, nil)
		}, func(err error) {
			yield(types.Observation{}, err)
		})
	}
}

// Stats counts stored records by location and type.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{CountByType: map[types.ObservationType]int{}}

	var openErr error
	corrupt := s.scan(ctx, func(src *source, obs types.Observation) bool {
		st.TotalCount++
		st.CountByType[obs.Type]++
		if src.live {
			st.LiveCount++
		} else {
			st.ArchiveCount++
		}
		return true
	}, func(err error) {
		openErr = err
	})
	if openErr != nil {
		return Stats{}, openErr
	}

	files, err := s.archiveFiles()
	if err != nil {
		return Stats{}, err
	}
	st.ArchiveFiles = len(files)
	st.CorruptCount = corrupt
	return st, nil
}

// scan opens all sources under a brief shared lock and decodes them in order.
// It returns the number of corrupt lines seen.
func (s *Store) scan(ctx context.Context, fn func(*source, types.Observation) bool, fail func(error)) int {
	sources, err := s.open(ctx)
	if err != nil {
		fail(err)
		return 0
	}
	defer func() {
		for _, src := range sources {
			_ = src.file.Close() //nolint:errcheck // read-only
		}
	}()

	corrupt := 0
	for _, src := range sources {
		n, cont, err := s.decode(ctx, src, fn)
		corrupt += n
		if err != nil {
			fail(err)
			return corrupt
		}
		if !cont {
			return corrupt
		}
	}
	return corrupt
}

func (s *Store) open(ctx context.Context) ([]*source, error) {
	lock, err := s.lock(ctx, filelock.Shared)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = lock.Release() //nolint:errcheck // unlock best-effort
	}()

	var sources []*source
	fail := func(err error) ([]*source, error) {
		for _, src := range sources {
			_ = src.file.Close() //nolint:errcheck // cleanup in error path
		}
		return nil, err
	}

	live, err := openBounded(s.layout.LiveLog(), storage.LiveLogFile, true)
	if err != nil {
		return fail(err)
	}
	if live != nil {
		sources = append(sources, live)
	}

	names, err := s.archiveFiles()
	if err != nil {
		return fail(err)
	}
	for _, name := range names {
		src, err := openBounded(filepath.Join(s.layout.ArchiveDir(), name), name, false)
		if err != nil {
			return fail(err)
		}
		if src != nil {
			sources = append(sources, src)
		}
	}
	return sources, nil
}

// archiveFiles lists sealed batches, oldest first.
func (s *Store) archiveFiles() ([]string, error) {
	entries, err := os.ReadDir(s.layout.ArchiveDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, storage.ArchivePrefix) && strings.HasSuffix(name, storage.ArchiveExt) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func openBounded(path, name string, live bool) (*source, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close() //nolint:errcheck // cleanup in error path
		return nil, err
	}
	return &source{name: name, live: live, file: f, r: io.LimitReader(f, info.Size())}, nil
}

// decode yields each parseable line of src. It reports the corrupt-line
// count, whether to continue with the next source, and read errors.
func (s *Store) decode(ctx context.Context, src *source, fn func(*source, types.Observation) bool) (int, bool, error) {
	r := bufio.NewReaderSize(src.r, 64*1024)
	corrupt := 0
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return corrupt, false, err
		}

		line, readErr := r.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return corrupt, false, fmt.Errorf("read %s: %w", src.name, readErr)
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var obs types.Observation
			if err := json.Unmarshal(line, &obs); err != nil {
				corrupt++
				s.metrics.CorruptRecord()
				s.logger.Warn("skipping corrupt observation",
					zap.String("file", src.name),
					zap.Int("line", lineNo),
					zap.Error(fmt.Errorf("%w: %v", types.ErrCorruptRecord, err)))
			} else if !fn(src, obs) {
				return corrupt, false, nil
			}
		}

		if errors.Is(readErr, io.EOF) {
			return corrupt, true, nil
		}
	}
}
