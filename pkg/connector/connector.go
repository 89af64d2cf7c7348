package connector

import (
	"context"
	"fmt"

	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
)

// Well-known parameter names emitted by pagers.
const (
	ParamLimit  = "limit"
	ParamOffset = "offset"
)

// Parameter is one named, typed query argument.
type Parameter struct {
	Name  string
	Type  string
	Value any
}

// NewParameter builds a parameter, recording the Go type of value.
func NewParameter(name string, value any) Parameter {
	return Parameter{Name: name, Type: fmt.Sprintf("%T", value), Value: value}
}

// Lookup returns the value of the named parameter.
func Lookup(params []Parameter, name string) (any, bool) {
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// Reader extracts rows from a source.
type Reader[T any] interface {
	Query(ctx context.Context, params []Parameter) ([]T, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc[T any] func(ctx context.Context, params []Parameter) ([]T, error)

// Query calls f.
func (f ReaderFunc[T]) Query(ctx context.Context, params []Parameter) ([]T, error) {
	return f(ctx, params)
}

// Condition restricts a Find to rows whose field equals Value.
type Condition struct {
	Field *entity.Field
	Value any
}

// FindQuery selects destination rows matching any candidate on the Compare
// fields and all Where conditions. With no candidates and no Compare fields
// every row matching Where is returned.
type FindQuery[T any] struct {
	Candidates []T
	Compare    []*entity.Field
	// Result lists the fields to populate; nil populates all fields
	Result []*entity.Field
	Where  []Condition
}

// All reports whether the query ignores candidates.
func (q FindQuery[T]) All() bool {
	return len(q.Candidates) == 0 && len(q.Compare) == 0
}

// Matches evaluates the query against row in memory.
func (q FindQuery[T]) Matches(row T) bool {
	for _, c := range q.Where {
		if !entity.ValuesEqual(c.Field.Get(row), c.Value) {
			return false
		}
	}
	if q.All() {
		return true
	}
	for _, candidate := range q.Candidates {
		matched := true
		for _, f := range q.Compare {
			if !f.Equal(candidate, row) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// Writer merges rows into a destination.
type Writer[T any] interface {
	Find(ctx context.Context, query FindQuery[T]) ([]T, error)
	Insert(ctx context.Context, rows []T) (int, error)
	Update(ctx context.Context, changes []entity.ChangedFieldSet[T]) (int, error)
}

// SchemaCreator is implemented by destinations that can create their own
// table or collection. CreateSchema reports whether anything was created.
type SchemaCreator interface {
	CreateSchema(ctx context.Context) (bool, error)
}

// Transactor is implemented by destinations that can group writes. Writes
// issued with the context passed to fn join the transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// InTransaction runs fn inside w's transaction when w supports one, and
// directly otherwise.
func InTransaction(ctx context.Context, w any, fn func(ctx context.Context) error) error {
	if tx, ok := w.(Transactor); ok {
		return tx.InTransaction(ctx, fn)
	}
	return fn(ctx)
}
