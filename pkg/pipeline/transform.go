package pipeline

import (
	"context"

	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/metrics"
)

// TransformFunc maps one batch to another.
type TransformFunc[In, Out any] func(ctx context.Context, batch []In) ([]Out, error)

type transformBlock[In, Out any] struct {
	blockBase
	in  <-chan []In
	out chan []Out
	fn  TransformFunc[In, Out]
}

// Transform adds a block applying fn to every batch. Empty results are not
// forwarded.
func Transform[In, Out any](in *Stage[In], fn TransformFunc[In, Out], opts ...BlockOption) *Stage[Out] {
	b := in.builder
	o := resolveBlockOptions(b.opts.defaults, opts)
	t := &transformBlock[In, Out]{
		blockBase: newBlockBase(b, KindTransform, o),
		in:        in.take(),
		out:       make(chan []Out, o.ChannelBoundedCapacity),
		fn:        fn,
	}
	return addStage(b, t, t.out)
}

func (t *transformBlock[In, Out]) PrepareTask() Task {
	return func(ctx context.Context) error {
		defer close(t.out)

		consume(ctx, &t.blockBase, t.in, func(ctx context.Context, w *worker, batch []In) bool {
			index := t.nextBatch()
			out, err := t.fn(ctx, batch)
			if err != nil {
				return !w.fail(ctx, errors.Wrap(err, errors.ErrorTypeTransform, "transform failed"), index)
			}
			t.countRows(metrics.OpTransformed, len(out))
			if len(out) == 0 {
				return true
			}
			return send(ctx, t.out, out)
		})
		return nil
	}
}

// TransformRows maps every row with fn. A failing row fails its batch.
func TransformRows[In, Out any](in *Stage[In], fn func(In) (Out, error), opts ...BlockOption) *Stage[Out] {
	return Transform(in, func(_ context.Context, batch []In) ([]Out, error) {
		out := make([]Out, 0, len(batch))
		for _, row := range batch {
			mapped, err := fn(row)
			if err != nil {
				return nil, err
			}
			out = append(out, mapped)
		}
		return out, nil
	}, opts...)
}

// Filter keeps the rows for which keep returns true.
func Filter[T any](in *Stage[T], keep func(T) bool, opts ...BlockOption) *Stage[T] {
	return Transform(in, func(_ context.Context, batch []T) ([]T, error) {
		out := make([]T, 0, len(batch))
		for _, row := range batch {
			if keep(row) {
				out = append(out, row)
			}
		}
		return out, nil
	}, opts...)
}

// Result is the outcome of an asynchronous transform.
type Result[T any] struct {
	Rows []T
	Err  error
}

// Future delivers one Result.
type Future[T any] <-chan Result[T]

// Async runs fn in a goroutine and returns its future.
func Async[T any](ctx context.Context, fn func(ctx context.Context) ([]T, error)) Future[T] {
	ch := make(chan Result[T], 1)
	go func() {
		rows, err := fn(ctx)
		ch <- Result[T]{Rows: rows, Err: err}
	}()
	return ch
}

// TransformAsync adds a block whose function returns a future. The worker
// waits for the future, or for cancellation.
func TransformAsync[In, Out any](in *Stage[In], fn func(ctx context.Context, batch []In) Future[Out], opts ...BlockOption) *Stage[Out] {
	return Transform(in, func(ctx context.Context, batch []In) ([]Out, error) {
		future := fn(ctx, batch)
		if future == nil {
			return nil, errors.New(errors.ErrorTypeTransform, "transform returned a nil future")
		}
		select {
		case res, ok := <-future:
			if !ok {
				return nil, errors.New(errors.ErrorTypeTransform, "future closed without a result")
			}
			return res.Rows, res.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, opts...)
}

// HashRows computes KeyHash and ChangeHash on every row. The row type must
// declare natural key fields.
func HashRows[T entity.Keyed](in *Stage[T], opts ...BlockOption) *Stage[T] {
	hasher, err := entity.NewHasher[T]()
	if err != nil {
		in.builder.fail(errors.Wrap(err, errors.ErrorTypeConfig, "hash transform"))
	}
	return Transform(in, func(_ context.Context, batch []T) ([]T, error) {
		if hasher == nil {
			return nil, errors.New(errors.ErrorTypeConfig, "row type has no natural key")
		}
		return hasher.Apply(batch), nil
	}, opts...)
}
