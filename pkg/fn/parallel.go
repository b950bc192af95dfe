package fn

import (
	"context"
	"sync"
	"time"
)

// ParMapCtx applies f to each item with bounded concurrency, preserving
// order. Each call of f gets its own
// deadline of timeout (none when timeout <= 0) derived from ctx, so one slow
// item never shortens the budget of its siblings. Items not yet dispatched
// when ctx ends resolve to Err(ctx.Err()).
func ParMapCtx[T, U any](ctx context.Context, items []T, workers int, timeout time.Duration, f func(context.Context, T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

dispatch:
	for i, v := range items {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if err := ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				out[j] = Err[U](err)
			}
			break dispatch
		}

		wg.Add(1)
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			itemCtx, cancel := ctx, context.CancelFunc(func() {})
			if timeout > 0 {
				itemCtx, cancel = context.WithTimeout(ctx, timeout)
			}
			defer cancel()
			out[i] = f(itemCtx, v)
		}(i, v)
	}
	wg.Wait()
	return out
}
