package filelock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Integrum-Global/kailash-learn/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExclusiveTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".locks", "observations.lock")
	ctx := context.Background()

	held, err := Acquire(ctx, path, Exclusive, time.Second)
	require.NoError(t, err)
	defer func() { require.NoError(t, held.Release()) }()

	start := time.Now()
	_, err = Acquire(ctx, path, Exclusive, 50*time.Millisecond)
	assert.True(t, errors.Is(err, types.ErrStoreLocked), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSharedLocksCoexist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instincts.lock")
	ctx := context.Background()

	a, err := Acquire(ctx, path, Shared, time.Second)
	require.NoError(t, err)
	b, err := Acquire(ctx, path, Shared, time.Second)
	require.NoError(t, err)

	_, err = Acquire(ctx, path, Exclusive, 30*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrStoreLocked)

	require.NoError(t, a.Release())
	require.NoError(t, b.Release())

	c, err := Acquire(ctx, path, Exclusive, time.Second)
	require.NoError(t, err)
	require.NoError(t, c.Release())
}

func TestAcquireWaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evolved.lock")
	ctx := context.Background()

	held, err := Acquire(ctx, path, Exclusive, time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		l, err := Acquire(ctx, path, Exclusive, 2*time.Second)
		if err == nil {
			err = l.Release()
		}
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, held.Release())
	assert.NoError(t, <-done)
}

func TestAcquireHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.lock")
	held, err := Acquire(context.Background(), path, Exclusive, time.Second)
	require.NoError(t, err)
	defer held.Release() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Acquire(ctx, path, Exclusive, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireAllReleasesOnFailure(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "a.lock"),
		filepath.Join(dir, "b.lock"),
	}
	ctx := context.Background()

	blocker, err := Acquire(ctx, paths[1], Exclusive, time.Second)
	require.NoError(t, err)

	_, err = AcquireAll(ctx, paths, Exclusive, 30*time.Millisecond)
	require.ErrorIs(t, err, types.ErrStoreLocked)

	// a.lock must have been released again
	a, err := Acquire(ctx, paths[0], Exclusive, 30*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, a.Release())
	require.NoError(t, blocker.Release())

	set, err := AcquireAll(ctx, paths, Exclusive, time.Second)
	require.NoError(t, err)
	assert.Len(t, set, 2)
	require.NoError(t, set.Release())
}

func TestReleaseIsIdempotent(t *testing.T) {
	l, err := Acquire(context.Background(), filepath.Join(t.TempDir(), "y.lock"), Shared, 0)
	require.NoError(t, err)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
}
