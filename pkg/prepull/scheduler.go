package prepull

import (
	"context"
	"sync"

	"k8s.io/client-go/util/workqueue"
)

// runBounded drains items through a fixed-size worker pool built on
// workqueue, the same bounded-concurrency primitive the rest of this
// module's cluster-facing reconcilers use. It blocks until every item has
// been processed or ctx is done.
func runBounded[T any](ctx context.Context, items []T, concurrency int, fn func(context.Context, T) error) []error {
	if concurrency < 1 {
		concurrency = 1
	}
	q := workqueue.NewTypedRateLimitingQueue(workqueue.DefaultTypedControllerRateLimiter[int]())
	for i := range items {
		q.Add(i)
	}

	errs := make([]error, len(items))
	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i, shutdown := q.Get()
				if shutdown {
					return
				}
				func() {
					defer q.Done(i)
					if ctx.Err() != nil {
						errs[i] = ctx.Err()
						return
					}
					errs[i] = fn(ctx, items[i])
				}()
			}
		}()
	}

	go func() {
		<-ctx.Done()
		q.ShutDown()
	}()

	// Blocks until every added item has been Get+Done, then prevents
	// further Adds and lets workers observe shutdown.
	q.ShutDownWithDrain()
	wg.Wait()
	return errs
}
