// Package pagination provides the pagers a primary extract uses to split a
// source query into pages.
//
// A pager hands out the parameters of the next page and observes each page
// once it has been read:
//
//	pager := pagination.NewOffset[*Order](500)
//	for {
//	    params, ok, err := pager.Next()
//	    if err != nil || !ok {
//	        break
//	    }
//	    rows, _ := reader.Query(ctx, params)
//	    pager.Observe(rows)
//	}
package pagination

import (
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
)

// ErrPagerNotAdvancing is returned when a pager would issue the same
// parameters twice in a row. Continuing would read the same page forever.
var ErrPagerNotAdvancing = errors.New(errors.ErrorTypePagination, "pager is not advancing")

// Pager produces page parameters for a reader.
type Pager[T any] interface {
	// Next returns the parameters of the next page, or false when the query
	// is exhausted.
	Next() ([]connector.Parameter, bool, error)
	// Observe records the rows read with the last parameters.
	Observe(rows []T)
	// PageSize is the limit emitted with every page.
	PageSize() int
}

// Kind selects a pagination strategy.
type Kind int

const (
	KindNone Kind = iota
	KindOffset
	KindCursor
)

// Order is the direction a cursor moves in.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Strategy describes how an extract pages through a query. It is independent
// of the row type; New binds it to one.
type Strategy struct {
	Kind    Kind
	Column  string // cursor column, also the cursor parameter name
	Initial any
	Order   Order
}

// Offset pages by row offset.
func Offset() Strategy {
	return Strategy{Kind: KindOffset}
}

// Cursor pages by the value of column, starting from initial.
func Cursor(column string, initial any, order Order) Strategy {
	return Strategy{Kind: KindCursor, Column: column, Initial: initial, Order: order}
}

// New builds a fresh pager for one query. It returns nil for KindNone.
func New[T any](s Strategy, pageSize int) (Pager[T], error) {
	if pageSize <= 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "page size must be positive, got %d", pageSize)
	}
	switch s.Kind {
	case KindNone:
		return nil, nil
	case KindOffset:
		return NewOffset[T](pageSize), nil
	case KindCursor:
		return NewCursor[T](s.Column, s.Initial, s.Order, pageSize)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown pagination kind %d", s.Kind)
	}
}

func sameParameters(a, b []connector.Parameter) bool {
	if a == nil || b == nil || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || !entity.ValuesEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}
