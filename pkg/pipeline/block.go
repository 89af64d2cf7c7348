package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/metrics"
)

// Task runs a block to completion. A non-nil error is fatal to the pipeline;
// per-batch failures are recorded in the block summary instead.
type Task func(ctx context.Context) error

// Block is one stage of a pipeline.
type Block interface {
	Name() string
	Kind() BlockKind
	// PrepareTask returns the task running the block's workers.
	PrepareTask() Task
	// Summary returns a snapshot of the block's counters.
	Summary() BlockSummary
}

type blockBase struct {
	name     string
	kind     BlockKind
	pipeline string
	opts     BlockOptions
	counters *counters
	logger   *zap.Logger
}

func newBlockBase(b *Builder, kind BlockKind, opts BlockOptions) blockBase {
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("%s-%d", kind, len(b.blocks))
	}
	return blockBase{
		name:     name,
		kind:     kind,
		pipeline: b.name,
		opts:     opts,
		counters: newCounters(name, kind),
		logger:   b.opts.logger.With(zap.String("block", name), zap.String("kind", string(kind))),
	}
}

func (b *blockBase) Name() string          { return b.name }
func (b *blockBase) Kind() BlockKind       { return b.kind }
func (b *blockBase) Summary() BlockSummary { return b.counters.snapshot() }

func (b *blockBase) countRows(operation string, n int) {
	if n == 0 {
		return
	}
	switch operation {
	case metrics.OpExtracted:
		b.counters.extracted.Add(int64(n))
	case metrics.OpTransformed:
		b.counters.transformed.Add(int64(n))
	case metrics.OpInserted:
		b.counters.inserted.Add(int64(n))
	case metrics.OpUpdated:
		b.counters.updated.Add(int64(n))
	}
	metrics.BlockRows.WithLabelValues(b.pipeline, b.name, operation).Add(float64(n))
}

func (b *blockBase) nextBatch() int64 {
	metrics.BlockBatches.WithLabelValues(b.pipeline, b.name).Inc()
	return b.counters.nextBatch()
}

// worker tracks the failures of one worker goroutine.
type worker struct {
	id       int
	block    *blockBase
	failures int
}

func (b *blockBase) newWorker(id int) *worker {
	return &worker{id: id, block: b}
}

// fail records err against batch and reports whether the worker has crossed
// its threshold and must stop.
func (w *worker) fail(ctx context.Context, err error, batch int64) bool {
	b := w.block
	b.counters.recordException(err, batch)
	metrics.BlockExceptions.WithLabelValues(b.pipeline, b.name).Inc()
	w.failures++

	b.logger.Warn("batch failed",
		zap.Error(err),
		zap.Int64("batch", batch),
		zap.Int("worker", w.id),
		zap.Int("failures", w.failures))

	if w.failures <= b.opts.maxExceptions() {
		return false
	}

	b.logger.Error("worker stopped after too many exceptions",
		zap.Int("worker", w.id),
		zap.Int("max_exceptions", b.opts.maxExceptions()))
	if b.opts.CancelPipelineOnFailure {
		cancelPipeline(ctx, fmt.Sprintf("block %s cancelled the pipeline after %d exceptions", b.name, w.failures))
	}
	return true
}

// consume runs WorkerCount workers over in. handle returns false to stop its
// worker. Once every worker has returned, consume drains in so producers are
// never left blocked on a full queue.
func consume[In any](ctx context.Context, b *blockBase, in <-chan []In, handle func(ctx context.Context, w *worker, batch []In) bool) {
	var wg sync.WaitGroup
	for i := 0; i < b.opts.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w := b.newWorker(id)
			for {
				select {
				case <-ctx.Done():
					return
				case batch, ok := <-in:
					if !ok {
						return
					}
					if !handle(ctx, w, batch) {
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()

	drained := 0
	for range in {
		drained++
	}
	if drained > 0 {
		b.logger.Warn("discarded batches after workers stopped", zap.Int("batches", drained))
	}
}

// send blocks until out accepts batch or ctx is done.
func send[T any](ctx context.Context, out chan<- []T, batch []T) bool {
	select {
	case out <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}

func chunk[T any](rows []T, size int) [][]T {
	if size <= 0 || len(rows) <= size {
		if len(rows) == 0 {
			return nil
		}
		return [][]T{rows}
	}
	batches := make([][]T, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}
	return batches
}

type cancelKey struct{}

type canceler struct {
	once   sync.Once
	cancel context.CancelFunc
	reason string
	mu     sync.Mutex
}

func withCanceler(ctx context.Context) (context.Context, *canceler) {
	ctx, cancel := context.WithCancel(ctx)
	c := &canceler{cancel: cancel}
	return context.WithValue(ctx, cancelKey{}, c), c
}

func (c *canceler) cancelWith(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		c.cancel()
	})
}

func (c *canceler) cancelReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// cancelPipeline cancels the pipeline run carried by ctx.
func cancelPipeline(ctx context.Context, reason string) {
	if c, ok := ctx.Value(cancelKey{}).(*canceler); ok {
		c.cancelWith(reason)
	}
}
