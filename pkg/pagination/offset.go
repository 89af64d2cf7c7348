package pagination

import "github.com/krisbrooking/Rowbot-sub000/pkg/connector"

// OffsetPager pages by advancing an offset by the number of rows read. The
// query ends after an empty page.
type OffsetPager[T any] struct {
	size     int
	offset   int
	started  bool
	observed bool
	last     int
}

// NewOffset returns an offset pager emitting offset and limit parameters.
func NewOffset[T any](pageSize int) *OffsetPager[T] {
	return &OffsetPager[T]{size: pageSize}
}

// Next implements Pager.
func (p *OffsetPager[T]) Next() ([]connector.Parameter, bool, error) {
	if p.started {
		if !p.observed || p.last == 0 {
			return nil, false, nil
		}
		p.offset += p.last
	}
	p.started = true
	p.observed = false
	return []connector.Parameter{
		connector.NewParameter(connector.ParamOffset, p.offset),
		connector.NewParameter(connector.ParamLimit, p.size),
	}, true, nil
}

// Observe implements Pager.
func (p *OffsetPager[T]) Observe(rows []T) {
	p.observed = true
	p.last = len(rows)
}

// PageSize implements Pager.
func (p *OffsetPager[T]) PageSize() int { return p.size }
