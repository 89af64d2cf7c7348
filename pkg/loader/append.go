package loader

import (
	"context"

	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
)

// Append inserts every row it is given. Rows reach SQL destinations with
// their control hashes, which those tables declare NOT NULL, so entity rows
// pass through pipeline.HashRows before an Append.
type Append[T any] struct {
	writer connector.Writer[T]
	logger *zap.Logger
}

// NewAppend returns an insert-only loader.
func NewAppend[T any](w connector.Writer[T], opts ...Option) *Append[T] {
	o := resolve("append_loader", opts)
	return &Append[T]{writer: w, logger: o.logger}
}

// Load implements Loader.
func (a *Append[T]) Load(ctx context.Context, rows []T) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}
	n, err := a.writer.Insert(ctx, rows)
	if err != nil {
		return Result{Inserted: n}, errors.Wrap(err, errors.ErrorTypeLoad, "insert batch")
	}
	logger.FromContext(ctx, a.logger).Debug("appended batch", zap.Int("rows", n))
	return Result{Inserted: n}, nil
}

// Writer implements Loader.
func (a *Append[T]) Writer() connector.Writer[T] { return a.writer }
