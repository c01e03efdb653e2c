// Package parallel provides a bounded fail-fast worker pool.
package parallel

import (
	"context"
	"sync"
)

// ForEach runs fn for every item across workerCount goroutines. The index is
// passed through so callers can write results into preallocated slots without
// coordination. The first error cancels the pool and is returned.
func ForEach[T any](
	ctx context.Context,
	workerCount int,
	items []T,
	fn func(context.Context, int, T) error,
) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type task struct {
		index int
		item  T
	}

	tasks := make(chan task, workerCount)
	errs := make(chan error, workerCount)
	wg := sync.WaitGroup{}
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-tasks:
					if !ok {
						return
					}
					if err := fn(ctx, t.index, t.item); err != nil {
						select {
						case errs <- err:
						default:
						}
						cancel()
						return
					}
				}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for i, item := range items {
			select {
			case <-ctx.Done():
				return
			case tasks <- task{index: i, item: item}:
			}
		}
	}()

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}

	return ctx.Err()
}
