// Package loader implements the merge algorithms that apply a batch of rows
// to a destination: plain appends, snapshot facts and slowly changing
// dimensions.
//
// Loaders only talk to the destination through connector.Writer, so the same
// algorithm serves every destination:
//
//	dim, err := loader.NewSlowlyChangingDimension[*Customer](writer,
//	    loader.WithDeleteOverride(),
//	    loader.WithLogger(logger))
//	res, err := dim.Load(ctx, batch)
package loader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
)

// Result counts the rows a Load wrote.
type Result struct {
	Inserted int
	Updated  int
}

// Add sums two results.
func (r Result) Add(o Result) Result {
	return Result{Inserted: r.Inserted + o.Inserted, Updated: r.Updated + o.Updated}
}

// Loader applies batches of rows to a destination.
type Loader[T any] interface {
	Load(ctx context.Context, rows []T) (Result, error)
	// Writer returns the destination the loader writes to.
	Writer() connector.Writer[T]
}

type options struct {
	logger         *zap.Logger
	now            func() time.Time
	deleteOverride bool
	deleteCopy     []string
}

// Option configures a loader.
type Option func(*options)

// WithLogger sets the loader logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces time.Now for the timestamps a loader writes.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithDeleteOverride makes the dimension loader close deleted rows by
// clearing IsActive instead of setting IsDeleted.
func WithDeleteOverride() Option {
	return func(o *options) { o.deleteOverride = true }
}

// WithDeleteCopyFields copies the named fields from the incoming deleted row
// onto the closed dimension row.
func WithDeleteCopyFields(fields ...string) Option {
	return func(o *options) { o.deleteCopy = append(o.deleteCopy, fields...) }
}

func resolve(component string, opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get()
	}
	o.logger = o.logger.With(zap.String("component", component))
	return o
}

// dedupe keeps the first row of every KeyHash.
func dedupe[T entity.Keyed](rows []T, log *zap.Logger) []T {
	seen := make(map[string]struct{}, len(rows))
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		key := entity.HashString(row.Header().KeyHash)
		if _, dup := seen[key]; dup {
			log.Debug("skipping duplicate key in batch", zap.Binary("key_hash", row.Header().KeyHash))
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	if skipped := len(rows) - len(out); skipped > 0 {
		log.Warn("duplicate keys in batch", zap.Int("skipped", skipped))
	}
	return out
}

// index groups destination rows by KeyHash. The first row of a key wins.
func index[T entity.Keyed](rows []T, log *zap.Logger) map[string]T {
	byKey := make(map[string]T, len(rows))
	for _, row := range rows {
		key := entity.HashString(row.Header().KeyHash)
		if _, dup := byKey[key]; dup {
			log.Warn("destination holds more than one current row for a key", zap.Binary("key_hash", row.Header().KeyHash))
			continue
		}
		byKey[key] = row
	}
	return byKey
}

func apply[T any](ctx context.Context, w connector.Writer[T], inserts []T, updates []entity.ChangedFieldSet[T]) (Result, error) {
	var res Result
	if len(inserts) > 0 {
		n, err := w.Insert(ctx, inserts)
		res.Inserted += n
		if err != nil {
			return res, err
		}
	}
	if len(updates) > 0 {
		n, err := w.Update(ctx, updates)
		res.Updated += n
		if err != nil {
			return res, err
		}
	}
	return res, nil
}
