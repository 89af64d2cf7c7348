package pagination

import (
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
)

// CursorPager pages by the value of a cursor column. The first page starts
// at the initial value; each later page starts at the highest (ascending) or
// lowest (descending) cursor value of the page before it. The query ends after
// an empty page.
type CursorPager[T any] struct {
	field   *entity.Field
	name    string
	order   Order
	size    int
	value   any
	started bool
	count   int
	last    []connector.Parameter
	err     error
}

// NewCursor returns a cursor pager over column, which must be a mapped field
// of T. The cursor parameter is named after the column.
func NewCursor[T any](column string, initial any, order Order, pageSize int) (*CursorPager[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "describe cursor entity")
	}
	field := desc.Field(column)
	if field == nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "cursor column %q is not a field of %s", column, desc.Name)
	}
	return &CursorPager[T]{
		field: field,
		name:  field.Column,
		order: order,
		size:  pageSize,
		value: initial,
	}, nil
}

// Next implements Pager. Issuing the same cursor twice is reported as
// ErrPagerNotAdvancing.
func (p *CursorPager[T]) Next() ([]connector.Parameter, bool, error) {
	if p.err != nil {
		return nil, false, p.err
	}
	if p.started && p.count == 0 {
		return nil, false, nil
	}

	params := []connector.Parameter{
		connector.NewParameter(p.name, p.value),
		connector.NewParameter(connector.ParamLimit, p.size),
	}
	if sameParameters(params, p.last) {
		return nil, false, errors.Wrap(ErrPagerNotAdvancing, errors.ErrorTypePagination, "cursor repeated").
			WithDetail("column", p.name).
			WithDetail("value", p.value)
	}

	p.started = true
	p.count = 0
	p.last = params
	return params, true, nil
}

// Observe implements Pager.
func (p *CursorPager[T]) Observe(rows []T) {
	p.count = len(rows)
	var extreme any
	for i, row := range rows {
		v := p.field.Get(row)
		if i == 0 {
			extreme = v
			continue
		}
		c, err := entity.Compare(v, extreme)
		if err != nil {
			p.err = errors.Wrap(err, errors.ErrorTypePagination, "compare cursor values").
				WithDetail("column", p.name)
			return
		}
		if (p.order == Ascending && c > 0) || (p.order == Descending && c < 0) {
			extreme = v
		}
	}
	if len(rows) > 0 {
		p.value = extreme
	}
}

// PageSize implements Pager.
func (p *CursorPager[T]) PageSize() int { return p.size }
