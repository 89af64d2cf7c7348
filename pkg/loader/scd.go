package loader

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
)

// SlowlyChangingDimension merges dimension rows against their current
// versions. Changes to type-2 fields close the current version and insert a
// new one; other changes update the current version in place.
type SlowlyChangingDimension[T entity.DimensionRow] struct {
	writer connector.Writer[T]
	opts   options
	desc   *entity.Descriptor

	keyHash    *entity.Field
	changeHash *entity.Field
	deleted    *entity.Field
	active     *entity.Field
	toDate     *entity.Field
	data       []*entity.Field
	deleteCopy []*entity.Field
}

// NewSlowlyChangingDimension returns a dimension loader writing to w.
func NewSlowlyChangingDimension[T entity.DimensionRow](w connector.Writer[T], opts ...Option) (*SlowlyChangingDimension[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "describe dimension")
	}

	d := &SlowlyChangingDimension[T]{
		writer:     w,
		opts:       resolve("scd_loader", opts),
		desc:       desc,
		keyHash:    desc.Control(entity.ControlKeyHash),
		changeHash: desc.Control(entity.ControlChangeHash),
		deleted:    desc.Control(entity.ControlIsDeleted),
		active:     desc.Control(entity.ControlIsActive),
		toDate:     desc.Control(entity.ControlToDate),
		data:       desc.DataFields(),
	}
	for _, name := range d.opts.deleteCopy {
		f := desc.Field(name)
		if f == nil {
			return nil, errors.Newf(errors.ErrorTypeConfig, "delete copy field %q is not a field of %s", name, desc.Name)
		}
		d.deleteCopy = append(d.deleteCopy, f)
	}
	return d, nil
}

// Load implements Loader. Type-2 close and insert pairs are applied inside the
// destination's transaction when it has one; a pair left half-applied leaves
// the key without a current version, which the next load inserts again.
func (d *SlowlyChangingDimension[T]) Load(ctx context.Context, rows []T) (Result, error) {
	log := logger.FromContext(ctx, d.opts.logger)
	rows = dedupe(rows, log)
	if len(rows) == 0 {
		return Result{}, nil
	}

	found, err := d.writer.Find(ctx, connector.FindQuery[T]{
		Candidates: rows,
		Compare:    []*entity.Field{d.keyHash},
		Where:      []connector.Condition{{Field: d.active, Value: true}},
	})
	if err != nil {
		return Result{}, errors.Wrap(err, errors.ErrorTypeLoad, "find current dimension rows")
	}
	existing := index(found, log)

	now := d.opts.now()
	var (
		inserts  []T
		updates  []entity.ChangedFieldSet[T]
		closes   []entity.ChangedFieldSet[T]
		versions []T
	)
	for _, row := range rows {
		incoming := row.DimensionHeader()
		current, ok := existing[entity.HashString(incoming.KeyHash)]
		if !ok {
			openVersion(incoming, now)
			inserts = append(inserts, row)
			continue
		}
		stored := current.DimensionHeader()

		if incoming.IsDeleted && stored.ToDate == nil {
			updates = append(updates, d.closeDeleted(row, current, now))
		} else if !incoming.IsDeleted && stored.IsDeleted {
			reopened := entity.Clone(current)
			reopened.DimensionHeader().IsDeleted = false
			reopened.DimensionHeader().ToDate = nil
			updates = append(updates, entity.ChangedFieldSet[T]{Row: reopened, Fields: []*entity.Field{d.deleted, d.toDate}})
		} else if !bytes.Equal(incoming.ChangeHash, stored.ChangeHash) {
			changed := entity.Diff(d.data, row, current)
			if historized(changed) {
				closed := entity.Clone(current)
				closed.DimensionHeader().IsActive = false
				closed.DimensionHeader().ToDate = timePtr(now)
				closes = append(closes, entity.ChangedFieldSet[T]{Row: closed, Fields: []*entity.Field{d.active, d.toDate}})

				openVersion(incoming, now)
				versions = append(versions, row)
				continue
			}
			if d.desc.Key != nil {
				d.desc.Key.Copy(row, current)
			}
			updates = append(updates, entity.ChangedFieldSet[T]{Row: row, Fields: append(changed, d.changeHash)})
		}
	}

	var res Result
	if len(closes) > 0 {
		err := connector.InTransaction(ctx, d.writer, func(ctx context.Context) error {
			pair, err := apply(ctx, d.writer, nil, closes)
			res = res.Add(pair)
			if err != nil {
				return err
			}
			pair, err = apply(ctx, d.writer, versions, nil)
			res = res.Add(pair)
			return err
		})
		if err != nil {
			return res, errors.Wrap(err, errors.ErrorTypeLoad, "apply type-2 versions").
				WithDetail("versions", len(versions))
		}
	}

	plain, err := apply(ctx, d.writer, inserts, updates)
	res = res.Add(plain)
	if err != nil {
		return res, errors.Wrap(err, errors.ErrorTypeLoad, "apply dimension changes")
	}

	log.Debug("merged dimension batch",
		zap.Int("rows", len(rows)),
		zap.Int("versions", len(versions)),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated))
	return res, nil
}

// closeDeleted ends the current version of a row deleted at the source.
func (d *SlowlyChangingDimension[T]) closeDeleted(row, current T, now time.Time) entity.ChangedFieldSet[T] {
	closed := entity.Clone(current)
	header := closed.DimensionHeader()

	var fields []*entity.Field
	if d.opts.deleteOverride {
		header.IsActive = false
		fields = append(fields, d.active)
	} else {
		header.IsDeleted = true
		fields = append(fields, d.deleted)
	}
	header.ToDate = timePtr(now)
	fields = append(fields, d.toDate)

	for _, f := range d.deleteCopy {
		f.Copy(closed, row)
		fields = append(fields, f)
	}
	return entity.ChangedFieldSet[T]{Row: closed, Fields: fields}
}

// Writer implements Loader.
func (d *SlowlyChangingDimension[T]) Writer() connector.Writer[T] { return d.writer }

func openVersion(h *entity.Dimension, now time.Time) {
	h.IsActive = true
	h.FromDate = now
	h.ToDate = nil
}

func historized(changed []*entity.Field) bool {
	for _, f := range changed {
		if f.IsType2 {
			return true
		}
	}
	return false
}

func timePtr(t time.Time) *time.Time {
	return &t
}
