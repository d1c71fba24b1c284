package prepull

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunBoundedProcessesAllItems(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	var processed int64
	errs := runBounded(context.Background(), items, 3, func(ctx context.Context, i int) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})
	if int(processed) != len(items) {
		t.Fatalf("processed = %d, want %d", processed, len(items))
	}
	for i, e := range errs {
		if e != nil {
			t.Errorf("item %d: unexpected error %v", i, e)
		}
	}
}

func TestRunBoundedRespectsConcurrencyCap(t *testing.T) {
	items := make([]int, 20)
	var concurrent, maxConcurrent int64
	release := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	runBounded(context.Background(), items, 4, func(ctx context.Context, i int) error {
		n := atomic.AddInt64(&concurrent, 1)
		for {
			old := atomic.LoadInt64(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt64(&maxConcurrent, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt64(&concurrent, -1)
		return nil
	})
	if maxConcurrent > 4 {
		t.Fatalf("maxConcurrent = %d, want <= 4", maxConcurrent)
	}
}

func TestRunBoundedPropagatesErrors(t *testing.T) {
	items := []int{1, 2, 3}
	errs := runBounded(context.Background(), items, 2, func(ctx context.Context, i int) error {
		if i == 2 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if errs[1] == nil {
		t.Fatal("expected error for item index 1")
	}
}
