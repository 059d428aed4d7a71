package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolRunsEveryItem(t *testing.T) {
	var sum atomic.Int64
	pool := NewWorkerPool(3, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})

	items := make([]int, 50)
	for i := range items {
		items[i] = i + 1
	}
	errs := pool.Run(context.Background(), items)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("item %d: %v", i, err)
		}
	}
	if sum.Load() != 1275 {
		t.Fatalf("sum = %d, want 1275", sum.Load())
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	pool := NewWorkerPool(4, func(_ context.Context, _ int) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	pool.Run(context.Background(), make([]int, 40))
	if peak.Load() > 4 {
		t.Fatalf("peak concurrency = %d, want <= 4", peak.Load())
	}
}

func TestWorkerPoolIsolatesErrorsAndPanics(t *testing.T) {
	boom := errors.New("boom")
	pool := NewWorkerPool(2, func(_ context.Context, n int) error {
		switch n {
		case 1:
			return boom
		case 2:
			panic("unexpected nil")
		}
		return nil
	})

	errs := pool.Run(context.Background(), []int{0, 1, 2, 3})
	if errs[0] != nil || errs[3] != nil {
		t.Fatalf("healthy items failed: %v", errs)
	}
	if !errors.Is(errs[1], boom) {
		t.Fatalf("errs[1] = %v, want boom", errs[1])
	}
	if !errors.Is(errs[2], ErrWorkerPanic) {
		t.Fatalf("errs[2] = %v, want ErrWorkerPanic", errs[2])
	}
}

func TestWorkerPoolStopsDispatchOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var ran []int
	pool := NewWorkerPool(1, func(_ context.Context, n int) error {
		mu.Lock()
		ran = append(ran, n)
		mu.Unlock()
		if n == 0 {
			cancel()
		}
		return nil
	})

	errs := pool.Run(ctx, []int{0, 1, 2})
	if len(ran) != 1 || ran[0] != 0 {
		t.Fatalf("ran = %v, want [0]", ran)
	}
	if errs[0] != nil {
		t.Fatalf("dispatched item should succeed, got %v", errs[0])
	}
	for _, err := range errs[1:] {
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("undispatched item error = %v, want context.Canceled", err)
		}
	}
}

func TestWorkerPoolEmpty(t *testing.T) {
	pool := NewWorkerPool(0, func(context.Context, string) error {
		t.Fatal("fn must not run")
		return nil
	})
	if errs := pool.Run(context.Background(), nil); len(errs) != 0 {
		t.Fatalf("expected no results, got %v", errs)
	}
}
