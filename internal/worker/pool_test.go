package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewPoolDefaultConcurrency(t *testing.T) {
	p := NewPool[string, string](0)
	if p.concurrency != runtime.NumCPU() {
		t.Errorf("expected concurrency %d, got %d", runtime.NumCPU(), p.concurrency)
	}

	p2 := NewPool[string, string](-1)
	if p2.concurrency != runtime.NumCPU() {
		t.Errorf("expected concurrency %d for -1, got %d", runtime.NumCPU(), p2.concurrency)
	}
}

func TestProcessEmpty(t *testing.T) {
	p := NewPool[int, int](2)
	results := p.Process(context.Background(), nil, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	if results != nil {
		t.Errorf("expected nil results for empty input, got %v", results)
	}
}

func TestProcessPreservesOrder(t *testing.T) {
	type group struct {
		key   string
		count int
	}
	p := NewPool[group, string](4)
	items := []group{{"a", 1}, {"b", 2}, {"c", 3}, {"d", 4}, {"e", 5}, {"f", 6}, {"g", 7}, {"h", 8}}

	results := p.Process(context.Background(), items, func(_ context.Context, g group) (string, error) {
		return fmt.Sprintf("%s=%d", g.key, g.count), nil
	})

	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}

	for i, r := range results {
		if r.Err != nil {
			t.Errorf("result[%d] unexpected error: %v", i, r.Err)
		}
		expected := fmt.Sprintf("%s=%d", items[i].key, items[i].count)
		if r.Value != expected {
			t.Errorf("result[%d] = %q, expected %q", i, r.Value, expected)
		}
		if r.Index != i || !r.Ran {
			t.Errorf("result[%d] Index=%d Ran=%v", i, r.Index, r.Ran)
		}
	}
}

func TestProcessCapturesErrors(t *testing.T) {
	p := NewPool[string, int](2)
	items := []string{"ok", "fail", "ok", "fail"}

	results := p.Process(context.Background(), items, func(_ context.Context, s string) (int, error) {
		if s == "fail" {
			return 0, fmt.Errorf("failed on %s", s)
		}
		return 1, nil
	})

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Value != 1 {
		t.Errorf("result[0] should succeed, got err=%v val=%d", results[0].Err, results[0].Value)
	}
	if results[1].Err == nil || !results[1].Ran {
		t.Error("result[1] should have run and failed")
	}
	if results[3].Err == nil {
		t.Error("result[3] should have error")
	}
}

func TestProcessConcurrency(t *testing.T) {
	// Verify multiple workers are actually running concurrently
	p := NewPool[int, int](4)

	var maxConcurrent int64
	var current int64
	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}

	results := p.Process(context.Background(), items, func(_ context.Context, _ int) (int, error) {
		c := atomic.AddInt64(&current, 1)
		// Track peak concurrency
		for {
			old := atomic.LoadInt64(&maxConcurrent)
			if c <= old || atomic.CompareAndSwapInt64(&maxConcurrent, old, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return 1, nil
	})

	if len(results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(results))
	}

	peak := atomic.LoadInt64(&maxConcurrent)
	if peak < 2 {
		t.Errorf("expected concurrent execution (peak=%d), got sequential", peak)
	}
}

func TestProcessStopsOnCancel(t *testing.T) {
	p := NewPool[int, int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	items := []int{0, 1, 2, 3, 4, 5}
	results := p.Process(ctx, items, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			cancel()
		}
		return n * 10, nil
	})

	for i := 0; i <= 2; i++ {
		if !results[i].Ran || results[i].Value != i*10 {
			t.Errorf("result[%d] should have run: %+v", i, results[i])
		}
	}
	for i := 3; i < len(items); i++ {
		if results[i].Ran {
			t.Errorf("result[%d] ran after cancel", i)
		}
		if !errors.Is(results[i].Err, context.Canceled) {
			t.Errorf("result[%d].Err = %v, want context.Canceled", i, results[i].Err)
		}
	}
}

func TestProcessMoreWorkersThanItems(t *testing.T) {
	p := NewPool[string, string](100)
	items := []string{"a", "b"}

	results := p.Process(context.Background(), items, func(_ context.Context, s string) (string, error) {
		return s + "!", nil
	})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Value != "a!" || results[1].Value != "b!" {
		t.Errorf("unexpected values: %v, %v", results[0].Value, results[1].Value)
	}
}

// --- Benchmarks ---

func BenchmarkPoolProcess(b *testing.B) {
	items := make([]string, 100)
	for i := range items {
		items[i] = fmt.Sprintf("item-%d", i)
	}
	b.ResetTimer()
	for range b.N {
		p := NewPool[string, string](4)
		_ = p.Process(context.Background(), items, func(_ context.Context, s string) (string, error) {
			return s + "-done", nil
		})
	}
}
