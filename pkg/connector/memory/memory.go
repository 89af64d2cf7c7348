// Package memory provides an in-process table that is both a source and a
// destination. It backs tests and dry runs.
package memory

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pagination"
)

// Table holds rows of T. Rows are copied on the way in and on the way out.
type Table[T any] struct {
	desc *entity.Descriptor

	mu      sync.RWMutex
	rows    []T
	nextKey int64
	created bool

	// writes serialises writers with transactions
	writes sync.Mutex

	cursor      *entity.Field
	cursorOrder pagination.Order
}

// Option configures a Table.
type Option func(*tableOptions)

type tableOptions struct {
	cursor string
	order  pagination.Order
}

// WithCursor makes Query treat a parameter named column as a cursor: rows
// after it in order are returned, sorted by the column.
func WithCursor(column string, order pagination.Order) Option {
	return func(o *tableOptions) {
		o.cursor = column
		o.order = order
	}
}

// NewTable returns an empty table for T.
func NewTable[T any](opts ...Option) (*Table[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	var o tableOptions
	for _, opt := range opts {
		opt(&o)
	}

	t := &Table[T]{desc: desc, cursorOrder: o.order}
	if o.cursor != "" {
		t.cursor = desc.Field(o.cursor)
		if t.cursor == nil {
			return nil, errors.Newf(errors.ErrorTypeConfig, "cursor column %q is not a field of %s", o.cursor, desc.Name)
		}
	}
	return t, nil
}

// MustTable is NewTable for tests and fixtures.
func MustTable[T any](opts ...Option) *Table[T] {
	t, err := NewTable[T](opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Seed appends rows without generating keys.
func (t *Table[T]) Seed(rows ...T) *Table[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		t.rows = append(t.rows, entity.Clone(row))
	}
	return t
}

// Rows returns a copy of every stored row in insertion order.
func (t *Table[T]) Rows() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, entity.Clone(row))
	}
	return out
}

// Len returns the number of stored rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Query implements connector.Reader. The offset and limit parameters page
// the result, the cursor parameter (see WithCursor) filters and sorts it and
// every other parameter naming a column is an equality filter.
func (t *Table[T]) Query(ctx context.Context, params []connector.Parameter) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		filters []connector.Condition
		after   any
		cursor  bool
	)
	for _, p := range params {
		if p.Name == connector.ParamLimit || p.Name == connector.ParamOffset {
			continue
		}
		f := t.desc.Field(p.Name)
		if f == nil {
			return nil, errors.Newf(errors.ErrorTypeQuery, "unknown parameter %q", p.Name)
		}
		if f == t.cursor {
			after, cursor = p.Value, true
			continue
		}
		filters = append(filters, connector.Condition{Field: f, Value: p.Value})
	}

	t.mu.RLock()
	var out []T
	for _, row := range t.rows {
		if !(connector.FindQuery[T]{Where: filters}).Matches(row) {
			continue
		}
		if cursor {
			c, err := entity.Compare(t.cursor.Get(row), after)
			if err != nil {
				t.mu.RUnlock()
				return nil, errors.Wrap(err, errors.ErrorTypeQuery, "compare cursor")
			}
			if (t.cursorOrder == pagination.Ascending && c <= 0) || (t.cursorOrder == pagination.Descending && c >= 0) {
				continue
			}
		}
		out = append(out, entity.Clone(row))
	}
	t.mu.RUnlock()

	if t.cursor != nil {
		var sortErr error
		sort.SliceStable(out, func(i, j int) bool {
			c, err := entity.Compare(t.cursor.Get(out[i]), t.cursor.Get(out[j]))
			if err != nil {
				sortErr = err
			}
			if t.cursorOrder == pagination.Descending {
				return c > 0
			}
			return c < 0
		})
		if sortErr != nil {
			return nil, errors.Wrap(sortErr, errors.ErrorTypeQuery, "sort by cursor")
		}
	}

	return page(out, params), nil
}

func page[T any](rows []T, params []connector.Parameter) []T {
	if v, ok := connector.Lookup(params, connector.ParamOffset); ok {
		offset := toInt(v)
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if v, ok := connector.Lookup(params, connector.ParamLimit); ok {
		if limit := toInt(v); limit < len(rows) {
			rows = rows[:limit]
		}
	}
	return rows
}

func toInt(v any) int {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return int(rv.Int())
	case rv.CanUint():
		return int(rv.Uint())
	}
	return 0
}

// Find implements connector.Writer.
func (t *Table[T]) Find(ctx context.Context, query connector.FindQuery[T]) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []T
	for _, row := range t.rows {
		if !query.Matches(row) {
			continue
		}
		if query.Result == nil {
			out = append(out, entity.Clone(row))
			continue
		}
		partial := entity.New[T]()
		for _, f := range query.Result {
			f.Copy(partial, row)
		}
		out = append(out, partial)
	}
	return out, nil
}

// Insert implements connector.Writer. Generated keys are written back to
// the inserted rows: integer keys count up, string keys get a UUID.
func (t *Table[T]) Insert(ctx context.Context, rows []T) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	unlock := t.lockWrites(ctx)
	defer unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		if err := t.generateKey(row); err != nil {
			return 0, err
		}
		t.rows = append(t.rows, entity.Clone(row))
	}
	return len(rows), nil
}

func (t *Table[T]) generateKey(row T) error {
	key := t.desc.Key
	if key == nil || !key.IsGenerated {
		return nil
	}
	switch kind := key.Type.Kind(); {
	case kind == reflect.String:
		return key.Set(row, uuid.NewString())
	case kind >= reflect.Int && kind <= reflect.Uint64:
		t.nextKey++
		return key.Set(row, t.nextKey)
	default:
		return errors.Newf(errors.ErrorTypeValidation, "cannot generate a %s key", key.Type)
	}
}

// Update implements connector.Writer. Rows are matched by surrogate key, or
// by KeyHash (restricted to the active version for dimensions) when the
// type has none.
func (t *Table[T]) Update(ctx context.Context, changes []entity.ChangedFieldSet[T]) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	unlock := t.lockWrites(ctx)
	defer unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	updated := 0
	for _, change := range changes {
		i := t.locate(change.Row)
		if i < 0 {
			continue
		}
		for _, f := range change.Fields {
			f.Copy(t.rows[i], change.Row)
		}
		updated++
	}
	return updated, nil
}

func (t *Table[T]) locate(row T) int {
	var match []*entity.Field
	if t.desc.Key != nil {
		match = []*entity.Field{t.desc.Key}
	} else if f := t.desc.Control(entity.ControlKeyHash); f != nil {
		match = []*entity.Field{f}
	}
	active := t.desc.Control(entity.ControlIsActive)

	for i, stored := range t.rows {
		matched := len(match) > 0
		for _, f := range match {
			if !f.Equal(stored, row) {
				matched = false
				break
			}
		}
		if matched && t.desc.Key == nil && active != nil && active.Get(stored) != true {
			matched = false
		}
		if matched {
			return i
		}
	}
	return -1
}

// CreateSchema implements connector.SchemaCreator. It reports true the
// first time only.
func (t *Table[T]) CreateSchema(context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.created {
		return false, nil
	}
	t.created = true
	return true, nil
}

type txKey struct{}

// InTransaction implements connector.Transactor. Writes are serialised while
// fn runs and the table is restored if fn fails.
func (t *Table[T]) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(txKey{}).(*Table[T]); owner == t {
		return fn(ctx)
	}

	t.writes.Lock()
	defer t.writes.Unlock()

	t.mu.RLock()
	saved := make([]T, len(t.rows))
	for i, row := range t.rows {
		saved[i] = entity.Clone(row)
	}
	savedKey := t.nextKey
	t.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		t.mu.Lock()
		t.rows = saved
		t.nextKey = savedKey
		t.mu.Unlock()
		return err
	}
	return nil
}

// lockWrites takes the write lock unless ctx belongs to a transaction on t,
// which already holds it.
func (t *Table[T]) lockWrites(ctx context.Context) func() {
	if owner, _ := ctx.Value(txKey{}).(*Table[T]); owner == t {
		return func() {}
	}
	t.writes.Lock()
	return t.writes.Unlock
}
