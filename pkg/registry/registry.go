// Package registry holds the pipeline containers a host knows about. A
// container builds fresh pipelines for every run; the runner asks the
// registry for them instead of resolving dependencies through a DI framework.
package registry

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/config"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pipeline"
)

// Env is what a container gets to build its pipelines with.
type Env struct {
	Config *config.Config
	Logger *zap.Logger
}

// Container groups related pipelines under a name.
type Container interface {
	Name() string
	// Pipelines builds the container's pipelines. It is called once per run.
	Pipelines(ctx context.Context, env Env) ([]*pipeline.Pipeline, error)
}

// BuildFunc builds the pipelines of a container.
type BuildFunc func(ctx context.Context, env Env) ([]*pipeline.Pipeline, error)

type funcContainer struct {
	name  string
	build BuildFunc
}

// NewContainer returns a container backed by build.
func NewContainer(name string, build BuildFunc) Container {
	return &funcContainer{name: name, build: build}
}

func (c *funcContainer) Name() string { return c.name }

func (c *funcContainer) Pipelines(ctx context.Context, env Env) ([]*pipeline.Pipeline, error) {
	return c.build(ctx, env)
}

// Entry is a pipeline together with the container that built it.
type Entry struct {
	Container string
	Pipeline  *pipeline.Pipeline
}

// Registry manages container registration
type Registry struct {
	containers map[string]Container
	order      []string
	mu         sync.RWMutex
	logger     *zap.Logger
}

// Global registry instance
var globalRegistry = New()

// New creates an empty registry
func New() *Registry {
	return &Registry{
		containers: make(map[string]Container),
		logger:     logger.Get().With(zap.String("component", "registry")),
	}
}

// Default returns the process-wide registry used by Register.
func Default() *Registry {
	return globalRegistry
}

// Register adds a container to the global registry.
func Register(c Container) error {
	return globalRegistry.Register(c)
}

// MustRegister is Register for package init functions.
func MustRegister(c Container) {
	if err := Register(c); err != nil {
		panic(err)
	}
}

// Register adds a container. Names must be unique.
func (r *Registry) Register(c Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Name() == "" {
		return errors.New(errors.ErrorTypeConfig, "container name is empty")
	}
	if _, exists := r.containers[c.Name()]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "container %s already registered", c.Name())
	}

	r.containers[c.Name()] = c
	r.order = append(r.order, c.Name())
	r.logger.Debug("container registered", zap.String("name", c.Name()))
	return nil
}

// Get returns the named container.
func (r *Registry) Get(name string) (Container, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[name]
	return c, ok
}

// Names returns the registered container names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Build asks the named containers, or every container in registration order
// when none are named, for fresh pipelines.
func (r *Registry) Build(ctx context.Context, env Env, names ...string) ([]Entry, error) {
	r.mu.RLock()
	if len(names) == 0 {
		names = append([]string(nil), r.order...)
	}
	containers := make([]Container, 0, len(names))
	for _, name := range names {
		c, ok := r.containers[name]
		if !ok {
			r.mu.RUnlock()
			return nil, errors.Newf(errors.ErrorTypeConfig, "container %s not found", name)
		}
		containers = append(containers, c)
	}
	r.mu.RUnlock()

	var entries []Entry
	for _, c := range containers {
		pipelines, err := c.Pipelines(ctx, env)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "build container").WithDetail("container", c.Name())
		}
		for _, p := range pipelines {
			entries = append(entries, Entry{Container: c.Name(), Pipeline: p})
		}
	}
	return entries, nil
}

// Clear removes all registered containers (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers = make(map[string]Container)
	r.order = nil
}
