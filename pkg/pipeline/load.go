package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/loader"
	"github.com/krisbrooking/Rowbot-sub000/pkg/metrics"
)

// Priorities of the tasks a load registers on its own.
const (
	CreateSchemaPriority      = -1000
	SoftDeleteMissingPriority = 1000
)

type loadBlock[T any] struct {
	blockBase
	in     <-chan []T
	loader loader.Loader[T]
	seen   *seenKeys
}

// Load ends a chain with a block handing every batch to l. The loaded row
// type becomes the pipeline's target entity type. A writer that can create
// its own schema gets a pre-task doing so.
func Load[T any](in *Stage[T], l loader.Loader[T], opts ...BlockOption) {
	b := in.builder
	o := resolveBlockOptions(b.opts.defaults, opts)
	lb := &loadBlock[T]{
		blockBase: newBlockBase(b, KindLoad, o),
		in:        in.take(),
		loader:    l,
	}
	b.addBlock(lb)
	b.setTarget(entity.TypeNameOf[T]())

	if sc, ok := l.Writer().(connector.SchemaCreator); ok {
		b.opts.pre = append(b.opts.pre, Hook{
			Name:     "create-schema-" + lb.name,
			Priority: CreateSchemaPriority,
			Fn: func(ctx context.Context, _ *PipelineSummary) error {
				created, err := sc.CreateSchema(ctx)
				if err != nil {
					return errors.Wrap(err, errors.ErrorTypeConnection, "create schema").WithDetail("block", lb.name)
				}
				if created {
					lb.logger.Info("created destination schema")
				}
				return nil
			},
		})
	}

	if o.SoftDeleteMissing {
		if _, ok := any(*new(T)).(entity.Keyed); !ok {
			b.fail(errors.Newf(errors.ErrorTypeConfig, "block %s: soft delete needs a keyed row type", lb.name))
			return
		}
		lb.seen = &seenKeys{keys: make(map[string]struct{})}
		b.opts.post = append(b.opts.post, Hook{
			Name:     "soft-delete-missing-" + lb.name,
			Priority: SoftDeleteMissingPriority,
			Fn:       lb.softDeleteMissing,
		})
	}
}

func (l *loadBlock[T]) PrepareTask() Task {
	return func(ctx context.Context) error {
		consume(ctx, &l.blockBase, l.in, func(ctx context.Context, w *worker, batch []T) bool {
			index := l.nextBatch()
			if l.seen != nil {
				for _, row := range batch {
					l.seen.add(any(row).(entity.Keyed).Header().KeyHash)
				}
			}

			res, err := l.loader.Load(ctx, batch)
			l.countRows(metrics.OpInserted, res.Inserted)
			l.countRows(metrics.OpUpdated, res.Updated)
			if err != nil {
				return !w.fail(ctx, err, index)
			}
			return true
		})
		return nil
	}
}

// softDeleteMissing feeds every live destination row the run did not load
// back through the loader flagged as deleted.
func (l *loadBlock[T]) softDeleteMissing(ctx context.Context, summary *PipelineSummary) error {
	if summary.HasExceptions() {
		l.logger.Warn("skipping soft delete of missing rows after exceptions")
		return nil
	}

	desc, err := entity.Describe[T]()
	if err != nil {
		return err
	}
	query := connector.FindQuery[T]{}
	if f := desc.Control(entity.ControlIsDeleted); f != nil {
		query.Where = append(query.Where, connector.Condition{Field: f, Value: false})
	}
	if f := desc.Control(entity.ControlIsActive); f != nil {
		query.Where = append(query.Where, connector.Condition{Field: f, Value: true})
	}

	live, err := l.loader.Writer().Find(ctx, query)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeLoad, "find live rows").WithDetail("block", l.name)
	}

	var missing []T
	for _, row := range live {
		header := any(row).(entity.Keyed).Header()
		if l.seen.has(header.KeyHash) {
			continue
		}
		deleted := entity.Clone(row)
		any(deleted).(entity.Keyed).Header().IsDeleted = true
		missing = append(missing, deleted)
	}
	if len(missing) == 0 {
		return nil
	}

	for _, batch := range chunk(missing, l.opts.BatchSize) {
		res, err := l.loader.Load(ctx, batch)
		l.countRows(metrics.OpInserted, res.Inserted)
		l.countRows(metrics.OpUpdated, res.Updated)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeLoad, "soft delete missing rows").WithDetail("block", l.name)
		}
	}
	l.logger.Info("soft deleted missing rows", zap.Int("rows", len(missing)))
	return nil
}

// seenKeys records the KeyHashes a load block handled.
type seenKeys struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (s *seenKeys) add(keyHash []byte) {
	s.mu.Lock()
	s.keys[entity.HashString(keyHash)] = struct{}{}
	s.mu.Unlock()
}

func (s *seenKeys) has(keyHash []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[entity.HashString(keyHash)]
	return ok
}
