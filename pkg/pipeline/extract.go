package pipeline

import (
	"context"
	"sync"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/metrics"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pagination"
)

// extractor runs paged queries and pushes their rows downstream in batches.
type extractor[T any] struct {
	blockBase
	out chan []T
}

// extractPages runs one query, paging when a strategy is configured. It
// reports whether the worker must stop, and returns an error only for fatal
// pager misconfiguration.
func (e *extractor[T]) extractPages(ctx context.Context, w *worker, reader connector.Reader[T], base []connector.Parameter) (bool, error) {
	pager, err := pagination.New[T](e.opts.Pagination, e.opts.BatchSize)
	if err != nil {
		return true, err
	}

	for {
		if ctx.Err() != nil {
			return true, nil
		}

		params := base
		if pager != nil {
			next, ok, err := pager.Next()
			if err != nil {
				return true, err
			}
			if !ok {
				return false, nil
			}
			params = mergeParameters(base, next)
		}

		batch := e.nextBatch()
		rows, err := reader.Query(ctx, params)
		if err != nil {
			// the pager cannot advance past a failed page; move on to the next query
			return w.fail(ctx, errors.Wrap(err, errors.ErrorTypeExtraction, "query failed"), batch), nil
		}
		e.countRows(metrics.OpExtracted, len(rows))

		for _, b := range chunk(rows, e.opts.BatchSize) {
			if !send(ctx, e.out, b) {
				return true, nil
			}
		}

		if pager == nil {
			return false, nil
		}
		pager.Observe(rows)
		if len(rows) < pager.PageSize() {
			return false, nil
		}
	}
}

// mergeParameters returns base with override applied by name.
func mergeParameters(base, override []connector.Parameter) []connector.Parameter {
	merged := make([]connector.Parameter, 0, len(base)+len(override))
	for _, p := range base {
		if _, replaced := connector.Lookup(override, p.Name); !replaced {
			merged = append(merged, p)
		}
	}
	return append(merged, override...)
}

type primaryExtract[T any] struct {
	extractor[T]
	reader connector.Reader[T]
}

// Extract starts a pipeline with a block that queries reader once per
// declared parameter set (or once, with none declared). With pagination the
// block keeps querying until a page is shorter than the batch size or the
// pager reports the end.
func Extract[T any](b *Builder, reader connector.Reader[T], opts ...BlockOption) *Stage[T] {
	o := resolveBlockOptions(b.opts.defaults, opts)
	e := &primaryExtract[T]{
		extractor: extractor[T]{blockBase: newBlockBase(b, KindExtract, o), out: make(chan []T, o.ChannelBoundedCapacity)},
		reader:    reader,
	}
	b.addSource(entity.TypeNameOf[T]())
	return addStage(b, e, e.out)
}

func (e *primaryExtract[T]) PrepareTask() Task {
	return func(ctx context.Context) error {
		defer close(e.out)

		sets := e.opts.Parameters
		if len(sets) == 0 {
			sets = [][]connector.Parameter{nil}
		}

		jobs := make(chan []connector.Parameter)
		go func() {
			defer close(jobs)
			for _, set := range sets {
				select {
				case jobs <- set:
				case <-ctx.Done():
					return
				}
			}
		}()

		var (
			wg        sync.WaitGroup
			fatalOnce sync.Once
			fatal     error
		)
		for i := 0; i < e.opts.WorkerCount; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				w := e.newWorker(id)
				for params := range jobs {
					stop, err := e.extractPages(ctx, w, e.reader, params)
					if err != nil {
						fatalOnce.Do(func() { fatal = err })
						cancelPipeline(ctx, err.Error())
						return
					}
					if stop {
						return
					}
				}
			}(i)
		}
		wg.Wait()
		for range jobs {
		}
		return fatal
	}
}

type eagerExtract[U, T any] struct {
	extractor[T]
	in     <-chan []U
	reader connector.Reader[T]
	params func(U) []connector.Parameter
}

// ExtractEach queries reader once for every upstream row, with parameters
// derived from that row.
func ExtractEach[U, T any](in *Stage[U], reader connector.Reader[T], params func(U) []connector.Parameter, opts ...BlockOption) *Stage[T] {
	b := in.builder
	o := resolveBlockOptions(b.opts.defaults, opts)
	e := &eagerExtract[U, T]{
		extractor: extractor[T]{blockBase: newBlockBase(b, KindExtract, o), out: make(chan []T, o.ChannelBoundedCapacity)},
		in:        in.take(),
		reader:    reader,
		params:    params,
	}
	b.addSource(entity.TypeNameOf[T]())
	return addStage(b, e, e.out)
}

func (e *eagerExtract[U, T]) PrepareTask() Task {
	return perRowExtract(&e.extractor, e.in, func(ctx context.Context, row U) (connector.Reader[T], []connector.Parameter, error) {
		return e.reader, e.params(row), nil
	})
}

type deferredExtract[U, T any] struct {
	extractor[T]
	in    <-chan []U
	build func(ctx context.Context, row U) (connector.Reader[T], error)
}

// ExtractDeferred builds a reader lazily for every upstream row, for sources
// whose location depends on the row itself.
func ExtractDeferred[U, T any](in *Stage[U], build func(ctx context.Context, row U) (connector.Reader[T], error), opts ...BlockOption) *Stage[T] {
	b := in.builder
	o := resolveBlockOptions(b.opts.defaults, opts)
	e := &deferredExtract[U, T]{
		extractor: extractor[T]{blockBase: newBlockBase(b, KindExtract, o), out: make(chan []T, o.ChannelBoundedCapacity)},
		in:        in.take(),
		build:     build,
	}
	b.addSource(entity.TypeNameOf[T]())
	return addStage(b, e, e.out)
}

func (e *deferredExtract[U, T]) PrepareTask() Task {
	return perRowExtract(&e.extractor, e.in, func(ctx context.Context, row U) (connector.Reader[T], []connector.Parameter, error) {
		reader, err := e.build(ctx, row)
		return reader, nil, err
	})
}

func perRowExtract[U, T any](e *extractor[T], in <-chan []U, resolve func(context.Context, U) (connector.Reader[T], []connector.Parameter, error)) Task {
	return func(ctx context.Context) error {
		defer close(e.out)

		var (
			fatalOnce sync.Once
			fatal     error
		)
		consume(ctx, &e.blockBase, in, func(ctx context.Context, w *worker, batch []U) bool {
			for _, row := range batch {
				reader, params, err := resolve(ctx, row)
				if err != nil {
					if w.fail(ctx, errors.Wrap(err, errors.ErrorTypeExtraction, "resolve reader"), e.counters.batches.Load()) {
						return false
					}
					continue
				}
				stop, err := e.extractPages(ctx, w, reader, params)
				if err != nil {
					fatalOnce.Do(func() { fatal = err })
					cancelPipeline(ctx, err.Error())
					return false
				}
				if stop {
					return false
				}
			}
			return true
		})
		return fatal
	}
}
