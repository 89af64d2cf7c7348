// Package runner schedules the pipelines of the registered containers.
//
// Pipelines are grouped by cluster. Clusters run concurrently; within a
// cluster the dependency resolver splits pipelines into waves, which run one
// after the other, and the pipelines of a wave run concurrently:
//
//	r := runner.New(registry.Default(), runner.WithConfig(cfg), runner.WithLogger(log))
//	summaries, err := r.Run(ctx, runner.Filter{Clusters: []string{"crm"}})
package runner

import (
	"context"
	stderrors "errors"
	"slices"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krisbrooking/Rowbot-sub000/internal/dependency"
	"github.com/krisbrooking/Rowbot-sub000/pkg/config"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
	"github.com/krisbrooking/Rowbot-sub000/pkg/metrics"
	"github.com/krisbrooking/Rowbot-sub000/pkg/observability"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pipeline"
	"github.com/krisbrooking/Rowbot-sub000/pkg/registry"
)

// Filter selects the pipelines of a run. Empty fields select everything; a
// pipeline must match every non-empty field, and any one tag is enough.
type Filter struct {
	Containers []string
	Clusters   []string
	Tags       []string
}

func (f Filter) matches(e registry.Entry) bool {
	if len(f.Clusters) > 0 && !slices.Contains(f.Clusters, e.Pipeline.Cluster()) {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	for _, tag := range e.Pipeline.Tags() {
		if slices.Contains(f.Tags, tag) {
			return true
		}
	}
	return false
}

// Runner runs pipelines from a registry.
type Runner struct {
	registry       *registry.Registry
	env            registry.Env
	maxParallelism int
	logger         *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfig passes cfg to the containers and applies its runner section.
func WithConfig(cfg *config.Config) Option {
	return func(r *Runner) {
		r.env.Config = cfg
		r.maxParallelism = cfg.Runner.MaxParallelism
	}
}

// WithMaxParallelism limits the pipelines running at once within a wave.
// Zero means no limit.
func WithMaxParallelism(n int) Option {
	return func(r *Runner) { r.maxParallelism = n }
}

// WithLogger sets the logger, which is also handed to the containers.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a runner over reg.
func New(reg *registry.Registry, opts ...Option) *Runner {
	r := &Runner{registry: reg}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get()
	}
	if r.env.Config == nil {
		r.env.Config = config.NewDefaultConfig()
	}
	r.env.Logger = r.logger
	r.logger = r.logger.With(zap.String("component", "runner"))
	return r
}

// RunAll runs every pipeline of every container.
func (r *Runner) RunAll(ctx context.Context) ([]pipeline.PipelineSummary, error) {
	return r.Run(ctx, Filter{})
}

// RunContainer runs the pipelines of one container.
func (r *Runner) RunContainer(ctx context.Context, name string) ([]pipeline.PipelineSummary, error) {
	return r.Run(ctx, Filter{Containers: []string{name}})
}

// Run runs the pipelines selected by f and returns the summary of every
// pipeline that ran. A cluster with a dependency cycle runs nothing; a
// pipeline that aborts has no summary. Both are reported in the returned
// error while the rest of the run completes.
func (r *Runner) Run(ctx context.Context, f Filter) ([]pipeline.PipelineSummary, error) {
	entries, err := r.registry.Build(ctx, r.env, f.Containers...)
	if err != nil {
		return nil, err
	}

	clusters := make(map[string][]job)
	selected := 0
	for _, e := range entries {
		if f.matches(e) {
			clusters[e.Pipeline.Cluster()] = append(clusters[e.Pipeline.Cluster()], job{e})
			selected++
		}
	}
	names := make([]string, 0, len(clusters))
	for name := range clusters {
		names = append(names, name)
	}
	sort.Strings(names)

	r.logger.Info("run started", zap.Strings("clusters", names), zap.Int("pipelines", selected))

	results := make([]clusterResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.runCluster(ctx, name, clusters[name])
		}()
	}
	wg.Wait()

	var (
		summaries []pipeline.PipelineSummary
		errs      []error
	)
	for _, res := range results {
		summaries = append(summaries, res.summaries...)
		errs = append(errs, res.errs...)
	}
	r.logger.Info("run finished", zap.Int("summaries", len(summaries)), zap.Int("errors", len(errs)))
	return summaries, stderrors.Join(errs...)
}

// job adapts a registry entry to the resolver.
type job struct {
	registry.Entry
}

func (j job) Name() string { return j.Pipeline.Name() }

func (j job) Dependencies() pipeline.DependencyResolution { return j.Pipeline.Dependencies() }

type clusterResult struct {
	summaries []pipeline.PipelineSummary
	errs      []error
}

func (r *Runner) runCluster(ctx context.Context, cluster string, jobs []job) clusterResult {
	ctx = context.WithValue(ctx, logger.ClusterKey, cluster)
	ctx, span := observability.StartSpan(ctx, "cluster", observability.AttrCluster.String(cluster))
	defer span.End()
	log := r.logger.With(zap.String("cluster", cluster))

	waves, err := dependency.Resolve(jobs)
	if err != nil {
		err = errors.Wrap(err, errors.ErrorTypeDependency, "resolve cluster").WithDetail("cluster", cluster)
		log.Error("cluster not run", zap.Error(err))
		span.RecordError(err)
		return clusterResult{errs: []error{err}}
	}

	var res clusterResult
	for group, wave := range waves {
		log.Info("wave started", zap.Int("group", group), zap.Int("pipelines", len(wave)))
		metrics.WavePipelines.WithLabelValues(cluster).Set(float64(len(wave)))

		summaries := make([]*pipeline.PipelineSummary, len(wave))
		errs := make([]error, len(wave))

		var g errgroup.Group
		if r.maxParallelism > 0 {
			g.SetLimit(r.maxParallelism)
		}
		for i, j := range wave {
			g.Go(func() error {
				summary, err := r.invoke(ctx, cluster, group, j)
				if err != nil {
					errs[i] = err
					return nil
				}
				summaries[i] = &summary
				return nil
			})
		}
		_ = g.Wait()

		for i := range wave {
			if summaries[i] != nil {
				res.summaries = append(res.summaries, *summaries[i])
			}
			if errs[i] != nil {
				res.errs = append(res.errs, errs[i])
			}
		}
	}
	metrics.WavePipelines.WithLabelValues(cluster).Set(0)
	return res
}

func (r *Runner) invoke(ctx context.Context, cluster string, group int, j job) (pipeline.PipelineSummary, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline",
		observability.AttrPipeline.String(j.Name()),
		observability.AttrContainer.String(j.Container),
		observability.AttrCluster.String(cluster),
		observability.AttrGroup.Int(group))
	defer span.End()

	timer := metrics.NewTimer()
	summary, err := j.Pipeline.Invoke(ctx)
	metrics.PipelineDuration.WithLabelValues(j.Name(), cluster, metrics.Status(err)).Observe(timer.Stop().Seconds())
	if err != nil {
		span.RecordError(err)
		r.logger.Error("pipeline aborted",
			zap.String("pipeline", j.Name()),
			zap.String("container", j.Container),
			zap.Error(err))
		return summary, errors.Wrap(err, errors.ErrorTypeInternal, "pipeline "+j.Name())
	}

	summary.Container = j.Container
	summary.Group = group
	span.SetAttribute(string(observability.AttrRunID), summary.RunID)
	if summary.HasExceptions() {
		span.AddEvent("exceptions", attribute.Int64("rows_inserted", summary.Inserted()))
	}
	return summary, nil
}
