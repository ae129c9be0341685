package retry

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Failure pairs a batch item with the error it finally failed with.
type Failure[I any] struct {
	Item I
	Err  error
}

// BatchResult partitions a batch. Both slices keep input order.
type BatchResult[I any] struct {
	Successful []I
	Failed     []Failure[I]
}

// Batch runs op for every item under Do, concurrently. One item's failure
// never cancels the others.
func Batch[I any](ctx context.Context, items []I, opts Options, op func(ctx context.Context, item I) error) BatchResult[I] {
	results := make([]Result[struct{}], len(items))

	var g errgroup.Group
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, item := range items {
		g.Go(func() error {
			results[i] = Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, op(ctx, item)
			})
			return nil
		})
	}
	_ = g.Wait()

	var out BatchResult[I]
	for i, r := range results {
		if r.Success {
			out.Successful = append(out.Successful, items[i])
		} else {
			out.Failed = append(out.Failed, Failure[I]{Item: items[i], Err: r.Err})
		}
	}
	return out
}
