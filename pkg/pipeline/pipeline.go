package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krisbrooking/Rowbot-sub000/pkg/config"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
)

// DependencyResolution names the entity types a pipeline reads and the one
// it writes. The scheduler orders pipelines by it.
type DependencyResolution struct {
	SourceEntityTypes []string `json:"source_entity_types"`
	TargetEntityType  string   `json:"target_entity_type"`
}

// HookFunc is a pre- or post-task. Post-tasks see the summary of the blocks.
type HookFunc func(ctx context.Context, summary *PipelineSummary) error

// Hook is a named, prioritised HookFunc.
type Hook struct {
	Name     string
	Priority int
	Fn       HookFunc
}

// Builder assembles the blocks of one pipeline. Stages returned by the block
// constructors must each be consumed exactly once.
type Builder struct {
	name    string
	opts    options
	blocks  []Block
	stages  []consumable
	sources []string
	target  string
	err     error
}

type consumable interface {
	owner() string
	isConsumed() bool
}

// New starts a pipeline named name.
func New(name string, opts ...Option) *Builder {
	o := options{
		cluster:  DefaultCluster,
		defaults: config.NewDefaultConfig().Pipeline,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.With(zap.String("pipeline", name))
	return &Builder{name: name, opts: o}
}

// Stage is the output of a block, waiting to be consumed by the next one.
type Stage[T any] struct {
	builder  *Builder
	block    string
	ch       chan []T
	consumed bool
}

func (s *Stage[T]) owner() string    { return s.block }
func (s *Stage[T]) isConsumed() bool { return s.consumed }

func (s *Stage[T]) take() <-chan []T {
	if s.consumed {
		s.builder.fail(errors.Newf(errors.ErrorTypeConfig, "output of block %s is consumed twice", s.block))
	}
	s.consumed = true
	return s.ch
}

func addStage[T any](b *Builder, block Block, ch chan []T) *Stage[T] {
	b.addBlock(block)
	s := &Stage[T]{builder: b, block: block.Name(), ch: ch}
	b.stages = append(b.stages, s)
	return s
}

func (b *Builder) addBlock(block Block) {
	for _, existing := range b.blocks {
		if existing.Name() == block.Name() {
			b.fail(errors.Newf(errors.ErrorTypeConfig, "block name %s is used twice", block.Name()))
		}
	}
	b.blocks = append(b.blocks, block)
}

func (b *Builder) addSource(entityType string) {
	if slices.Contains(b.sources, entityType) {
		return
	}
	b.sources = append(b.sources, entityType)
}

func (b *Builder) setTarget(entityType string) {
	if b.target != "" && b.target != entityType {
		b.fail(errors.Newf(errors.ErrorTypeConfig, "pipeline loads both %s and %s", b.target, entityType))
		return
	}
	b.target = entityType
}

// fail keeps the first construction error; Build returns it.
func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates the chain and returns the runnable pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, errors.Wrap(b.err, errors.ErrorTypeConfig, "invalid pipeline").WithDetail("pipeline", b.name)
	}
	for _, s := range b.stages {
		if !s.isConsumed() {
			return nil, errors.Newf(errors.ErrorTypeConfig, "pipeline %s: output of block %s is never consumed", b.name, s.owner())
		}
	}
	if b.target == "" {
		return nil, errors.Newf(errors.ErrorTypeConfig, "pipeline %s has no load block", b.name)
	}

	pre := append([]Hook(nil), b.opts.pre...)
	post := append([]Hook(nil), b.opts.post...)
	sort.SliceStable(pre, func(i, j int) bool { return pre[i].Priority < pre[j].Priority })
	sort.SliceStable(post, func(i, j int) bool { return post[i].Priority < post[j].Priority })

	sources := append([]string(nil), b.sources...)
	for _, name := range b.opts.dependsOn {
		if !slices.Contains(sources, name) {
			sources = append(sources, name)
		}
	}

	return &Pipeline{
		name:    b.name,
		cluster: b.opts.cluster,
		tags:    append([]string(nil), b.opts.tags...),
		deps:    DependencyResolution{SourceEntityTypes: sources, TargetEntityType: b.target},
		blocks:  b.blocks,
		pre:     pre,
		post:    post,
		logger:  b.opts.logger,
	}, nil
}

// Pipeline is a built chain of blocks. It runs once.
type Pipeline struct {
	name    string
	cluster string
	tags    []string
	deps    DependencyResolution
	blocks  []Block
	pre     []Hook
	post    []Hook
	logger  *zap.Logger
	invoked atomic.Bool
}

func (p *Pipeline) Name() string    { return p.name }
func (p *Pipeline) Cluster() string { return p.cluster }
func (p *Pipeline) Tags() []string  { return p.tags }

// Dependencies returns the entity types the pipeline reads and writes.
func (p *Pipeline) Dependencies() DependencyResolution { return p.deps }

// Blocks returns the pipeline's blocks in declaration order.
func (p *Pipeline) Blocks() []Block { return p.blocks }

// Invoke runs the pre-tasks, then every block concurrently, then the
// post-tasks. Batch failures are reported in the summary; the returned error
// is reserved for failures that leave no meaningful summary, such as a pager
// that cannot advance.
func (p *Pipeline) Invoke(ctx context.Context) (PipelineSummary, error) {
	if p.invoked.Swap(true) {
		return PipelineSummary{}, errors.Newf(errors.ErrorTypeInternal, "pipeline %s was already invoked", p.name)
	}

	summary := PipelineSummary{
		RunID:     uuid.NewString(),
		Name:      p.name,
		Cluster:   p.cluster,
		Tags:      p.tags,
		StartedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, logger.RunIDKey, summary.RunID)
	ctx = context.WithValue(ctx, logger.PipelineKey, p.name)
	log := p.logger.With(zap.String("run_id", summary.RunID))
	log.Info("pipeline started", zap.Int("blocks", len(p.blocks)))

	if err := p.runHooks(ctx, p.pre, &summary, log); err != nil {
		summary.Skipped = true
		summary.Errors = append(summary.Errors, err.Error())
		log.Error("pre-task failed, skipping blocks", zap.Error(err))
		return p.finish(summary, log), nil
	}

	runCtx, c := withCanceler(ctx)
	var g errgroup.Group
	for _, block := range p.blocks {
		task := block.PrepareTask()
		g.Go(func() error { return task(runCtx) })
	}
	fatal := g.Wait()
	c.cancel()

	if fatal != nil {
		log.Error("pipeline aborted", zap.Error(fatal))
		return PipelineSummary{}, errors.Wrap(fatal, errors.ErrorTypeInternal, "pipeline aborted").WithDetail("pipeline", p.name)
	}

	if reason := c.cancelReason(); reason != "" {
		summary.Errors = append(summary.Errors, reason)
	} else if err := ctx.Err(); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("run cancelled: %v", err))
	}
	summary.Blocks = p.blockSummaries()

	if err := p.runHooks(ctx, p.post, &summary, log); err != nil {
		summary.Errors = append(summary.Errors, err.Error())
		log.Error("post-task failed", zap.Error(err))
	}
	// post-tasks may add rows
	summary.Blocks = p.blockSummaries()
	return p.finish(summary, log), nil
}

func (p *Pipeline) runHooks(ctx context.Context, hooks []Hook, summary *PipelineSummary, log *zap.Logger) error {
	for _, h := range hooks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("task %s: %w", h.Name, err)
		}
		log.Debug("running task", zap.String("task", h.Name), zap.Int("priority", h.Priority))
		if err := h.Fn(ctx, summary); err != nil {
			return fmt.Errorf("task %s: %w", h.Name, err)
		}
	}
	return nil
}

func (p *Pipeline) blockSummaries() []BlockSummary {
	out := make([]BlockSummary, 0, len(p.blocks))
	for _, block := range p.blocks {
		out = append(out, block.Summary())
	}
	return out
}

func (p *Pipeline) finish(summary PipelineSummary, log *zap.Logger) PipelineSummary {
	if summary.Blocks == nil {
		summary.Blocks = p.blockSummaries()
	}
	summary.FinishedAt = time.Now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	log.Info("pipeline finished",
		zap.Duration("duration", summary.Duration),
		zap.Int64("inserted", summary.Inserted()),
		zap.Int64("updated", summary.Updated()),
		zap.Bool("exceptions", summary.HasExceptions()),
		zap.Bool("skipped", summary.Skipped))
	return summary
}
