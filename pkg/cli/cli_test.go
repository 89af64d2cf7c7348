package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector/memory"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/loader"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pipeline"
	"github.com/krisbrooking/Rowbot-sub000/pkg/registry"
)

type product struct {
	entity.Fact
	SKU   string  `etl:"sku,natural"`
	Price float64 `etl:"price"`
}

func shop(t *testing.T) (*registry.Registry, *memory.Table[*product]) {
	t.Helper()
	dest := memory.MustTable[*product]()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.NewContainer("shop", func(_ context.Context, env registry.Env) ([]*pipeline.Pipeline, error) {
		b := pipeline.New("products",
			pipeline.WithTags("nightly"),
			pipeline.WithDefaults(env.Config.Pipeline),
			pipeline.WithLogger(env.Logger))
		rows := pipeline.Extract(b, connector.ReaderFunc[*product](func(context.Context, []connector.Parameter) ([]*product, error) {
			return []*product{{SKU: "A", Price: 1}, {SKU: "B", Price: 2}}, nil
		}))
		l, err := loader.NewSnapshotFact[*product](dest)
		if err != nil {
			return nil, err
		}
		pipeline.Load(pipeline.HashRows(rows), l)
		p, err := b.Build()
		if err != nil {
			return nil, err
		}
		return []*pipeline.Pipeline{p}, nil
	})))
	return reg, dest
}

func execute(t *testing.T, reg *registry.Registry, args ...string) (string, error) {
	t.Helper()
	cmd := New("rowbot", "1.0.0", reg).Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunPrintsSummaries(t *testing.T) {
	reg, dest := shop(t)

	out, err := execute(t, reg, "run", "-o", "json")
	require.NoError(t, err)

	var summaries []pipeline.PipelineSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "products", summaries[0].Name)
	assert.Equal(t, "shop", summaries[0].Container)
	assert.Equal(t, pipeline.DefaultCluster, summaries[0].Cluster)
	assert.Equal(t, int64(2), summaries[0].Inserted())
	assert.Equal(t, 2, dest.Len())

	// a second run finds nothing new
	out, err = execute(t, reg, "run")
	require.NoError(t, err)
	assert.Contains(t, out, "PIPELINE")
	assert.Regexp(t, `products\s+default\s+0\s+0\s+0\s+0\s+\S+\s+ok`, out)
	assert.Equal(t, 2, dest.Len())
}

func TestRunSelection(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "rowbot.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("runner:\n  clusters: [\"finance\"]\n"), 0o600))

	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{name: "everything", args: []string{"run", "-o", "json"}, want: 1},
		{name: "tag", args: []string{"run", "-o", "json", "--tag", "nightly"}, want: 1},
		{name: "other tag", args: []string{"run", "-o", "json", "--tag", "hourly"}, want: 0},
		{name: "other container", args: []string{"run", "-o", "json", "--container", "crm"}, wantErr: true},
		{name: "clusters from config", args: []string{"run", "-o", "json", "--config", cfgPath}, want: 0},
		{name: "flag overrides config", args: []string{"run", "-o", "json", "--config", cfgPath, "--cluster", "default"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := shop(t)
			out, err := execute(t, reg, tt.args...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			var summaries []pipeline.PipelineSummary
			require.NoError(t, json.Unmarshal([]byte(out), &summaries))
			assert.Len(t, summaries, tt.want)
		})
	}
}

func TestList(t *testing.T) {
	reg, _ := shop(t)

	out, err := execute(t, reg, "list", "-o", "json")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "shop", rows[0]["container"])
	assert.Equal(t, "products", rows[0]["pipeline"])
	assert.Equal(t, entity.TypeNameOf[*product](), rows[0]["target"])

	out, err = execute(t, reg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "CONTAINER")
	assert.Contains(t, out, "nightly")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, registry.New(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "rowbot v1.0.0")
}

func TestRejectsUnknownOutput(t *testing.T) {
	reg, dest := shop(t)
	_, err := execute(t, reg, "run", "-o", "xml")
	assert.Error(t, err)
	assert.Zero(t, dest.Len())
}

func TestScheduleRequiresExpression(t *testing.T) {
	reg, _ := shop(t)
	_, err := execute(t, reg, "schedule")
	assert.Error(t, err)

	_, err = execute(t, reg, "schedule", "--cron", "every minute")
	assert.Error(t, err)
}

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "", wantErr: true},
		{expr: "not a schedule", wantErr: true},
		{expr: "*/5 * * * *"},
		{expr: "@hourly"},
		{expr: "@every 90s"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := newScheduler(tt.expr, func() {})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, c.Entries(), 1)
		})
	}
}
