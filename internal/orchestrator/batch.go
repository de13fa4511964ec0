package orchestrator

import (
	"context"
	"fmt"
)

// ItemResult is the outcome of one item of a batch. Exactly one of Result
// and Err is meaningful.
type ItemResult[T any] struct {
	Item   string
	Result T
	Err    error
}

// Callbacks observe HandleBatchGeneration. All fields are optional.
type Callbacks[T any] struct {
	// OnSuccess runs once after the last item with every result, failed items included.
	OnSuccess func(results []ItemResult[T])
	// OnError runs for each failed item.
	OnError func(item string, err error)
	// OnProgress runs after each item with the number of items done so far.
	OnProgress func(done, total int)
}

// HandleBatchGeneration runs gen for each item in order and collects the
// per-item outcomes. A failed item does not stop the batch. Cancelling ctx
// marks the remaining items as failed without calling gen.
func HandleBatchGeneration[T any](ctx context.Context, items []string, gen func(ctx context.Context, item string) (T, error), cb Callbacks[T]) []ItemResult[T] {
	results := make([]ItemResult[T], 0, len(items))

	for i, item := range items {
		res := ItemResult[T]{Item: item}
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("failed to generate %s: %w", item, err)
		} else {
			res.Result, res.Err = gen(ctx, item)
		}

		if res.Err != nil && cb.OnError != nil {
			cb.OnError(item, res.Err)
		}
		results = append(results, res)

		if cb.OnProgress != nil {
			cb.OnProgress(i+1, len(items))
		}
	}

	if cb.OnSuccess != nil {
		cb.OnSuccess(results)
	}
	return results
}

// Failed returns the items whose generation failed.
func Failed[T any](results []ItemResult[T]) []ItemResult[T] {
	var out []ItemResult[T]
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
