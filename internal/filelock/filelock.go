// Package filelock provides advisory flock(2) locks over lock files with a
// bounded wait. Each Lock opens its own file description, so two goroutines
// in one process contend exactly like two processes do.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// DefaultTimeout bounds the wait for a contended lock.
const DefaultTimeout = 5 * time.Second

// pollInterval is how often a contended lock is retried.
const pollInterval = 10 * time.Millisecond

// Mode selects shared or exclusive locking.
type Mode int

const (
	// Shared allows concurrent readers.
	Shared Mode = iota

	// Exclusive admits a single holder.
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

func (m Mode) flag() int {
	if m == Exclusive {
		return syscall.LOCK_EX
	}
	return syscall.LOCK_SH
}

// Lock is a held lock. Release it exactly once.
type Lock struct {
	path string
	mode Mode
	file *os.File
}

// Acquire takes a lock on path in mode, retrying until timeout elapses or ctx
// is done. Timeout yields an error wrapping types.ErrStoreLocked.
func Acquire(ctx context.Context, path string, mode Mode, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	file, err := openLockFile(path)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		err := syscall.Flock(int(file.Fd()), mode.flag()|syscall.LOCK_NB)
		if err == nil {
			return &Lock{path: path, mode: mode, file: file}, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			_ = file.Close() //nolint:errcheck // cleanup in error path
			return nil, fmt.Errorf("acquire %s lock %s: %w", mode, path, err)
		}
		if !time.Now().Before(deadline) {
			_ = file.Close() //nolint:errcheck // cleanup in error path
			return nil, fmt.Errorf("%w: %s held by another writer (waited %s)", types.ErrStoreLocked, filepath.Base(path), timeout)
		}

		select {
		case <-ctx.Done():
			_ = file.Close() //nolint:errcheck // cleanup in error path
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close lock file: %w", closeErr)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Set is a group of locks released together.
type Set []*Lock

// AcquireAll takes every path in order, releasing what it already holds on
// the first failure. Callers pass paths in one fixed global order.
func AcquireAll(ctx context.Context, paths []string, mode Mode, timeout time.Duration) (Set, error) {
	set := make(Set, 0, len(paths))
	for _, p := range paths {
		l, err := Acquire(ctx, p, mode, timeout)
		if err != nil {
			_ = set.Release() //nolint:errcheck // cleanup in error path
			return nil, err
		}
		set = append(set, l)
	}
	return set, nil
}

// Release releases the set in reverse order of acquisition.
func (s Set) Release() error {
	var errs []error
	for i := len(s) - 1; i >= 0; i-- {
		if err := s[i].Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openLockFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return file, nil
}
