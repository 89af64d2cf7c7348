// Package pipeline composes extract, transform and load blocks into a
// runnable pipeline.
//
// # Overview
//
// A pipeline is a chain of blocks connected by bounded channels of batches.
// Every block runs a pool of workers sharing its input channel; a full output
// channel blocks the workers feeding it, which is the only backpressure in the
// system. A producing block closes its output once all of its workers have
// returned, and the consumer treats the closed channel as the end of input.
//
// # Building
//
//	b := pipeline.New("customers",
//	    pipeline.WithCluster("crm"),
//	    pipeline.WithDefaults(cfg.Pipeline),
//	    pipeline.WithLogger(log))
//
//	rows := pipeline.Extract[*Customer](b, reader,
//	    pipeline.WithCursorPagination("id", 0))
//	hashed := pipeline.HashRows(rows)
//	pipeline.Load(hashed, dimLoader)
//
//	p, err := b.Build()
//
// Extract records the row type it reads and Load records the type it writes.
// The pair forms the pipeline's DependencyResolution, which the runner uses
// to order pipelines.
//
// # Failures
//
// A failing batch is recorded in the block summary under its error message,
// together with the batch index. A worker stops once it has failed more than
// MaxExceptions times; a transform created with CancelPipelineOnFailure then
// cancels every other block as well. Invoke still returns a summary in these
// cases. It returns an error only when a pager is misconfigured or cannot
// advance, since the rows extracted so far are then meaningless.
//
// # Tasks
//
// Pre-tasks run before any block and post-tasks after all of them, each in
// ascending priority. A failing pre-task skips the blocks. Loads register a
// schema creation pre-task when their writer supports it, and a soft delete
// post-task when created with WithSoftDeleteMissing.
package pipeline
