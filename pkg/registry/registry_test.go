package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisbrooking/Rowbot-sub000/pkg/pipeline"
)

func empty(name string) Container {
	return NewContainer(name, func(context.Context, Env) ([]*pipeline.Pipeline, error) {
		return nil, nil
	})
}

func TestRegister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(empty("sales")))
	require.NoError(t, r.Register(empty("crm")))

	err := r.Register(empty("sales"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	require.Error(t, r.Register(empty("")))
	assert.Equal(t, []string{"crm", "sales"}, r.Names())

	c, ok := r.Get("crm")
	require.True(t, ok)
	assert.Equal(t, "crm", c.Name())

	r.Clear()
	assert.Empty(t, r.Names())
}

func TestBuild(t *testing.T) {
	var calls []string
	r := New()
	for _, name := range []string{"b", "a"} {
		require.NoError(t, r.Register(NewContainer(name, func(context.Context, Env) ([]*pipeline.Pipeline, error) {
			calls = append(calls, name)
			return nil, nil
		})))
	}

	_, err := r.Build(context.Background(), Env{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, calls, "containers are built in registration order")

	calls = nil
	_, err = r.Build(context.Background(), Env{}, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, calls)

	_, err = r.Build(context.Background(), Env{}, "missing")
	require.Error(t, err)
}

func TestBuildWrapsContainerErrors(t *testing.T) {
	r := New()
	boom := errors.New("no connection")
	require.NoError(t, r.Register(NewContainer("broken", func(context.Context, Env) ([]*pipeline.Pipeline, error) {
		return nil, boom
	})))

	_, err := r.Build(context.Background(), Env{})
	assert.ErrorIs(t, err, boom)
}
