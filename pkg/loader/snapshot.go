package loader

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
)

// SnapshotFact merges fact rows by KeyHash: new keys are inserted, changed
// rows are updated in place and deletions toggle IsDeleted.
type SnapshotFact[T entity.FactRow] struct {
	writer  connector.Writer[T]
	opts    options
	desc    *entity.Descriptor
	keyHash *entity.Field
	deleted *entity.Field
	// changeable are the fields compared when ChangeHash differs
	changeable []*entity.Field
}

// NewSnapshotFact returns a snapshot fact loader writing to w.
func NewSnapshotFact[T entity.FactRow](w connector.Writer[T], opts ...Option) (*SnapshotFact[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "describe fact")
	}

	var changeable []*entity.Field
	for _, f := range desc.Fields {
		if f.IsKey || f.Control == entity.ControlCreatedAt {
			continue
		}
		changeable = append(changeable, f)
	}

	return &SnapshotFact[T]{
		writer:     w,
		opts:       resolve("snapshot_fact_loader", opts),
		desc:       desc,
		keyHash:    desc.Control(entity.ControlKeyHash),
		deleted:    desc.Control(entity.ControlIsDeleted),
		changeable: changeable,
	}, nil
}

// Load implements Loader.
func (s *SnapshotFact[T]) Load(ctx context.Context, rows []T) (Result, error) {
	log := logger.FromContext(ctx, s.opts.logger)
	rows = dedupe(rows, log)
	if len(rows) == 0 {
		return Result{}, nil
	}

	found, err := s.writer.Find(ctx, connector.FindQuery[T]{
		Candidates: rows,
		Compare:    []*entity.Field{s.keyHash},
	})
	if err != nil {
		return Result{}, errors.Wrap(err, errors.ErrorTypeLoad, "find existing facts")
	}
	existing := index(found, log)

	now := s.opts.now()
	var (
		inserts []T
		updates []entity.ChangedFieldSet[T]
	)
	for _, row := range rows {
		incoming := row.Header()
		current, ok := existing[entity.HashString(incoming.KeyHash)]
		if !ok {
			row.FactHeader().CreatedAt = now
			inserts = append(inserts, row)
			continue
		}
		stored := current.Header()

		// a deletion or a restore only toggles IsDeleted
		if incoming.IsDeleted != stored.IsDeleted {
			s.copyKey(row, current)
			updates = append(updates, entity.ChangedFieldSet[T]{Row: row, Fields: []*entity.Field{s.deleted}})
		} else if !bytes.Equal(incoming.ChangeHash, stored.ChangeHash) {
			s.copyKey(row, current)
			changed := entity.Diff(s.changeable, row, current)
			updates = append(updates, entity.ChangedFieldSet[T]{Row: row, Fields: changed})
		}
	}

	res, err := apply(ctx, s.writer, inserts, updates)
	if err != nil {
		return res, errors.Wrap(err, errors.ErrorTypeLoad, "apply fact changes")
	}
	log.Debug("merged fact batch",
		zap.Int("rows", len(rows)),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated))
	return res, nil
}

func (s *SnapshotFact[T]) copyKey(dst, src T) {
	if s.desc.Key != nil {
		s.desc.Key.Copy(dst, src)
	}
}

// Writer implements Loader.
func (s *SnapshotFact[T]) Writer() connector.Writer[T] { return s.writer }
