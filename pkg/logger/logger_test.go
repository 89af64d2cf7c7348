package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		enabled zapcore.Level
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}, enabled: zapcore.InfoLevel},
		{name: "debug console", cfg: Config{Level: "debug", Encoding: "console"}, enabled: zapcore.DebugLevel},
		{name: "development", cfg: Config{Level: "warn", Development: true}, enabled: zapcore.WarnLevel},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := newLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.enabled))
			assert.False(t, l.Core().Enabled(tt.enabled-1))
		})
	}
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	ctx := context.WithValue(context.Background(), RunIDKey, "run-1")
	ctx = context.WithValue(ctx, PipelineKey, "customers")
	FromContext(ctx, zap.New(core)).Info("loaded")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "customers", fields["pipeline"])
	assert.NotContains(t, fields, "cluster")
}

func TestInitReplacesGlobalLogger(t *testing.T) {
	require.NoError(t, Init(Config{Level: "error", OutputPaths: []string{"stderr"}}))
	assert.False(t, Get().Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, Init(Config{Level: "debug", OutputPaths: []string{"stderr"}}))
	assert.True(t, Get().Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, Init(Config{Level: "loud"}))
	assert.True(t, Get().Core().Enabled(zapcore.DebugLevel), "a failed Init keeps the previous logger")
}

func TestWithContextUsesGlobalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := Get()
	mu.Lock()
	globalLogger = zap.New(core)
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		globalLogger = prev
		mu.Unlock()
	})

	WithContext(context.WithValue(context.Background(), ClusterKey, "finance")).Info("wave started")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "finance", logs.All()[0].ContextMap()["cluster"])
}
