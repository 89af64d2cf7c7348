package pipeline

import (
	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/config"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pagination"
)

// DefaultCluster is the cluster of pipelines that do not name one.
const DefaultCluster = "default"

// BlockOptions configure one block. Zero values fall back to the pipeline
// defaults.
type BlockOptions struct {
	Name                   string
	BatchSize              int
	WorkerCount            int
	ChannelBoundedCapacity int
	// MaxExceptions is the number of failures a worker tolerates; the next
	// one stops it.
	MaxExceptions *int

	// Extract only.
	Parameters [][]connector.Parameter
	Pagination pagination.Strategy

	// Transform only.
	CancelPipelineOnFailure bool

	// Load only.
	SoftDeleteMissing bool
}

// BlockOption configures a block.
type BlockOption func(*BlockOptions)

// WithName names the block in summaries, logs and metrics.
func WithName(name string) BlockOption {
	return func(o *BlockOptions) { o.Name = name }
}

// WithBatchSize sets the number of rows per extracted batch.
func WithBatchSize(n int) BlockOption {
	return func(o *BlockOptions) { o.BatchSize = n }
}

// WithWorkerCount sets the number of concurrent workers.
func WithWorkerCount(n int) BlockOption {
	return func(o *BlockOptions) { o.WorkerCount = n }
}

// WithChannelBoundedCapacity sets the capacity of the block's output queue.
func WithChannelBoundedCapacity(n int) BlockOption {
	return func(o *BlockOptions) { o.ChannelBoundedCapacity = n }
}

// WithMaxExceptions sets the per-worker failure threshold.
func WithMaxExceptions(n int) BlockOption {
	return func(o *BlockOptions) { o.MaxExceptions = &n }
}

// WithParameters adds a parameter set. An extract runs its query once per set,
// paging within each.
func WithParameters(params ...connector.Parameter) BlockOption {
	return func(o *BlockOptions) { o.Parameters = append(o.Parameters, params) }
}

// WithPagination pages the extract's query.
func WithPagination(s pagination.Strategy) BlockOption {
	return func(o *BlockOptions) { o.Pagination = s }
}

// WithOffsetPagination pages the extract's query by offset.
func WithOffsetPagination() BlockOption {
	return WithPagination(pagination.Offset())
}

// WithCursorPagination pages the extract's query by an ascending cursor on
// column.
func WithCursorPagination(column string, initial any) BlockOption {
	return WithPagination(pagination.Cursor(column, initial, pagination.Ascending))
}

// CancelPipelineOnFailure makes a transform cancel the whole pipeline when
// one of its workers stops on too many failures.
func CancelPipelineOnFailure() BlockOption {
	return func(o *BlockOptions) { o.CancelPipelineOnFailure = true }
}

// WithSoftDeleteMissing makes a load mark destination rows as deleted when
// they were not loaded during the run.
func WithSoftDeleteMissing() BlockOption {
	return func(o *BlockOptions) { o.SoftDeleteMissing = true }
}

func (o BlockOptions) maxExceptions() int {
	if o.MaxExceptions == nil {
		return 0
	}
	return *o.MaxExceptions
}

func resolveBlockOptions(defaults config.PipelineConfig, opts []BlockOption) BlockOptions {
	var o BlockOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaults.BatchSize
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = defaults.WorkerCount
	}
	if o.ChannelBoundedCapacity <= 0 {
		o.ChannelBoundedCapacity = defaults.ChannelBoundedCapacity
	}
	if o.MaxExceptions == nil {
		n := defaults.MaxExceptions
		o.MaxExceptions = &n
	}
	return o
}

// options are the pipeline-level settings.
type options struct {
	cluster   string
	tags      []string
	dependsOn []string
	defaults  config.PipelineConfig
	logger    *zap.Logger
	pre       []Hook
	post      []Hook
}

// Option configures a pipeline.
type Option func(*options)

// WithCluster assigns the pipeline to a scheduling cluster.
func WithCluster(cluster string) Option {
	return func(o *options) { o.cluster = cluster }
}

// WithTags tags the pipeline for filtered runs.
func WithTags(tags ...string) Option {
	return func(o *options) { o.tags = append(o.tags, tags...) }
}

// DependsOn adds entity type names the pipeline reads beyond its extracts,
// so the scheduler orders it after the pipelines loading them.
func DependsOn(entityTypes ...string) Option {
	return func(o *options) { o.dependsOn = append(o.dependsOn, entityTypes...) }
}

// WithDefaults sets the block defaults, usually from config.Config.Pipeline.
func WithDefaults(cfg config.PipelineConfig) Option {
	return func(o *options) { o.defaults = cfg }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPreTask registers a task that runs before the blocks. Lower priorities
// run first.
func WithPreTask(name string, priority int, fn HookFunc) Option {
	return func(o *options) { o.pre = append(o.pre, Hook{Name: name, Priority: priority, Fn: fn}) }
}

// WithPostTask registers a task that runs after every block has finished.
// Lower priorities run first.
func WithPostTask(name string, priority int, fn HookFunc) Option {
	return func(o *options) { o.post = append(o.post, Hook{Name: name, Priority: priority, Fn: fn}) }
}
