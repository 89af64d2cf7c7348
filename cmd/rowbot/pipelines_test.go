package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/krisbrooking/Rowbot-sub000/pkg/config"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pipeline"
	"github.com/krisbrooking/Rowbot-sub000/pkg/registry"
	"github.com/krisbrooking/Rowbot-sub000/pkg/runner"
)

func byName(summaries []pipeline.PipelineSummary) map[string]pipeline.PipelineSummary {
	out := make(map[string]pipeline.PipelineSummary, len(summaries))
	for _, s := range summaries {
		out[s.Name] = s
	}
	return out
}

func TestDemoWarehouse(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewDefaultConfig()
	cfg.Connections["warehouse"] = config.ConnectionConfig{
		Driver: config.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "demo.db"),
	}

	w := &warehouse{}
	t.Cleanup(w.close)
	reg := registry.New()
	require.NoError(t, reg.Register(registry.NewContainer("staging", w.staging)))
	require.NoError(t, reg.Register(registry.NewContainer("retail", w.retail)))
	r := runner.New(reg, runner.WithConfig(cfg), runner.WithLogger(zaptest.NewLogger(t)))

	summaries, err := r.RunAll(ctx)
	require.NoError(t, err)
	got := byName(summaries)
	require.Len(t, got, 4)

	assert.Equal(t, 0, got["stage_customers"].Group)
	assert.Equal(t, 0, got["stage_orders"].Group)
	assert.Equal(t, 1, got["customers"].Group)
	assert.Equal(t, 2, got["orders"].Group)

	assert.Equal(t, int64(3), got["stage_customers"].Inserted())
	assert.Equal(t, int64(4), got["stage_orders"].Inserted())
	assert.Equal(t, int64(3), got["customers"].Inserted())
	assert.Equal(t, int64(4), got["orders"].Inserted())
	for _, s := range summaries {
		assert.False(t, s.HasExceptions(), s.Name)
	}

	// the same day's data changes nothing
	summaries, err = r.RunAll(ctx)
	require.NoError(t, err)
	for _, s := range summaries {
		assert.Zero(t, s.Inserted(), s.Name)
		assert.Zero(t, s.Updated(), s.Name)
	}

	current, err := source[*customer](w, "SELECT * FROM dim_customer WHERE is_active = :active ORDER BY code")
	require.NoError(t, err)
	rows, err := current.Query(ctx, []connector.Parameter{connector.NewParameter("active", true)})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "C001", rows[0].Code)
	assert.Nil(t, rows[0].ToDate)
}

func TestSampleReaderPages(t *testing.T) {
	r := sample(sampleOrders)
	page := func(offset, limit int) []*stagedOrder {
		rows, err := r.Query(context.Background(), []connector.Parameter{
			connector.NewParameter(connector.ParamOffset, offset),
			connector.NewParameter(connector.ParamLimit, limit),
		})
		require.NoError(t, err)
		return rows
	}

	assert.Len(t, page(0, 3), 3)
	assert.Len(t, page(3, 3), 1)
	assert.Empty(t, page(9, 3))
	assert.Len(t, page(0, 0), 4)
}
