package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/krisbrooking/Rowbot-sub000/internal/dependency"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector/memory"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/loader"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pipeline"
	"github.com/krisbrooking/Rowbot-sub000/pkg/registry"
	"github.com/krisbrooking/Rowbot-sub000/pkg/runner"
)

type customerRow struct {
	entity.Fact
	Code string `etl:"code,natural"`
}

type productRow struct {
	entity.Fact
	SKU string `etl:"sku,natural"`
}

type saleRow struct {
	entity.Fact
	Ref string `etl:"ref,natural"`
}

type reportRow struct {
	entity.Fact
	Day string `etl:"day,natural"`
}

// recorder tracks the order pipelines start in and how many overlap.
type recorder struct {
	mu      sync.Mutex
	started []string
	active  int
	peak    int
	hold    time.Duration
}

func (r *recorder) hook(name string) pipeline.HookFunc {
	return func(context.Context, *pipeline.PipelineSummary) error {
		r.mu.Lock()
		r.started = append(r.started, name)
		r.active++
		if r.active > r.peak {
			r.peak = r.active
		}
		r.mu.Unlock()

		time.Sleep(r.hold)

		r.mu.Lock()
		r.active--
		r.mu.Unlock()
		return nil
	}
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func build[T entity.FactRow](t *testing.T, name string, rec *recorder, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	b := pipeline.New(name, append(opts, pipeline.WithPreTask("record", 0, rec.hook(name)))...)
	rows := pipeline.Extract(b, connector.ReaderFunc[T](func(context.Context, []connector.Parameter) ([]T, error) {
		return nil, nil
	}))
	pipeline.Load(rows, loader.NewAppend[T](memory.MustTable[T]()))
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func newRunner(t *testing.T, containers map[string]registry.BuildFunc, opts ...runner.Option) *runner.Runner {
	t.Helper()
	reg := registry.New()
	for name, fn := range containers {
		require.NoError(t, reg.Register(registry.NewContainer(name, fn)))
	}
	return runner.New(reg, append(opts, runner.WithLogger(zaptest.NewLogger(t)))...)
}

func TestRunOrdersDependentPipelines(t *testing.T) {
	rec := &recorder{}
	r := newRunner(t, map[string]registry.BuildFunc{
		"warehouse": func(context.Context, registry.Env) ([]*pipeline.Pipeline, error) {
			return []*pipeline.Pipeline{
				build[*reportRow](t, "report", rec, pipeline.DependsOn(entity.TypeNameOf[*saleRow]())),
				build[*saleRow](t, "sales", rec,
					pipeline.DependsOn(entity.TypeNameOf[*customerRow](), entity.TypeNameOf[*productRow]())),
				build[*customerRow](t, "customers", rec),
				build[*productRow](t, "products", rec),
			}, nil
		},
	})

	summaries, err := r.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 4)

	groups := make(map[string]int)
	for _, s := range summaries {
		groups[s.Name] = s.Group
		assert.Equal(t, "warehouse", s.Container)
		assert.Equal(t, pipeline.DefaultCluster, s.Cluster)
	}
	assert.Equal(t, map[string]int{"customers": 0, "products": 0, "sales": 1, "report": 2}, groups)

	started := rec.order()
	require.Len(t, started, 4)
	assert.ElementsMatch(t, []string{"customers", "products"}, started[:2])
	assert.Equal(t, []string{"sales", "report"}, started[2:])
}

func TestRunRejectsCyclicClusterOnly(t *testing.T) {
	rec := &recorder{}
	r := newRunner(t, map[string]registry.BuildFunc{
		"loop": func(context.Context, registry.Env) ([]*pipeline.Pipeline, error) {
			return []*pipeline.Pipeline{
				build[*saleRow](t, "sales", rec, pipeline.WithCluster("loop"), pipeline.DependsOn(entity.TypeNameOf[*reportRow]())),
				build[*reportRow](t, "report", rec, pipeline.WithCluster("loop"), pipeline.DependsOn(entity.TypeNameOf[*saleRow]())),
			}, nil
		},
		"fine": func(context.Context, registry.Env) ([]*pipeline.Pipeline, error) {
			return []*pipeline.Pipeline{build[*customerRow](t, "customers", rec, pipeline.WithCluster("fine"))}, nil
		},
	})

	summaries, err := r.RunAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, dependency.ErrDependencyCycle))
	assert.Contains(t, err.Error(), "report, sales")

	require.Len(t, summaries, 1)
	assert.Equal(t, "customers", summaries[0].Name)
	assert.Equal(t, []string{"customers"}, rec.order(), "no pipeline of the cyclic cluster ran")
}

func TestRunFilters(t *testing.T) {
	containers := func(t *testing.T, rec *recorder) map[string]registry.BuildFunc {
		return map[string]registry.BuildFunc{
			"crm": func(context.Context, registry.Env) ([]*pipeline.Pipeline, error) {
				return []*pipeline.Pipeline{
					build[*customerRow](t, "customers", rec, pipeline.WithCluster("crm"), pipeline.WithTags("daily")),
				}, nil
			},
			"erp": func(context.Context, registry.Env) ([]*pipeline.Pipeline, error) {
				return []*pipeline.Pipeline{
					build[*productRow](t, "products", rec, pipeline.WithCluster("erp"), pipeline.WithTags("hourly")),
					build[*saleRow](t, "sales", rec, pipeline.WithCluster("erp"), pipeline.WithTags("daily", "finance")),
				}, nil
			},
		}
	}

	tests := []struct {
		name   string
		filter runner.Filter
		want   []string
	}{
		{name: "everything", filter: runner.Filter{}, want: []string{"customers", "products", "sales"}},
		{name: "by cluster", filter: runner.Filter{Clusters: []string{"erp"}}, want: []string{"products", "sales"}},
		{name: "by tag", filter: runner.Filter{Tags: []string{"daily"}}, want: []string{"customers", "sales"}},
		{name: "by cluster and tag", filter: runner.Filter{Clusters: []string{"erp"}, Tags: []string{"daily"}}, want: []string{"sales"}},
		{name: "by container", filter: runner.Filter{Containers: []string{"crm"}}, want: []string{"customers"}},
		{name: "nothing matches", filter: runner.Filter{Tags: []string{"weekly"}}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			summaries, err := newRunner(t, containers(t, rec)).Run(context.Background(), tt.filter)
			require.NoError(t, err)

			var ran []string
			for _, s := range summaries {
				ran = append(ran, s.Name)
			}
			assert.ElementsMatch(t, tt.want, ran)
		})
	}
}

func TestRunContainerUnknown(t *testing.T) {
	_, err := newRunner(t, nil).RunContainer(context.Background(), "missing")
	require.Error(t, err)
}

func TestMaxParallelism(t *testing.T) {
	rec := &recorder{hold: 20 * time.Millisecond}
	r := newRunner(t, map[string]registry.BuildFunc{
		"all": func(context.Context, registry.Env) ([]*pipeline.Pipeline, error) {
			return []*pipeline.Pipeline{
				build[*customerRow](t, "customers", rec),
				build[*productRow](t, "products", rec),
				build[*saleRow](t, "sales", rec),
			}, nil
		},
	}, runner.WithMaxParallelism(1))

	summaries, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, summaries, 3)
	assert.Equal(t, 1, rec.peak)
}
