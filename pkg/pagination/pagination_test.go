package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
)

type order struct {
	entity.Fact
	ID  int64  `etl:"id,natural"`
	Ref string `etl:"ref"`
}

func orders(ids ...int64) []*order {
	rows := make([]*order, len(ids))
	for i, id := range ids {
		rows[i] = &order{ID: id}
	}
	return rows
}

func param(t *testing.T, params []connector.Parameter, name string) any {
	t.Helper()
	v, ok := connector.Lookup(params, name)
	require.True(t, ok, "missing parameter %s", name)
	return v
}

func TestOffsetPager(t *testing.T) {
	pager := NewOffset[*order](10)

	params, ok, err := pager.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, param(t, params, connector.ParamOffset))
	assert.Equal(t, 10, param(t, params, connector.ParamLimit))
	pager.Observe(orders(1, 2, 3, 4, 5, 6, 7, 8, 9, 10))

	params, ok, err = pager.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, param(t, params, connector.ParamOffset))
	pager.Observe(orders(11, 12))

	params, ok, err = pager.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12, param(t, params, connector.ParamOffset))
	pager.Observe(nil)

	_, ok, err = pager.Next()
	require.NoError(t, err)
	assert.False(t, ok, "an empty page ends the query")
}

func TestCursorPagerAscending(t *testing.T) {
	pager, err := NewCursor[*order]("id", int64(0), Ascending, 3)
	require.NoError(t, err)

	params, ok, err := pager.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), param(t, params, "id"))
	assert.Equal(t, 3, param(t, params, connector.ParamLimit))

	pager.Observe(orders(2, 7, 4))
	params, ok, err = pager.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), param(t, params, "id"))

	pager.Observe(nil)
	_, ok, err = pager.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCursorPagerDescending(t *testing.T) {
	pager, err := NewCursor[*order]("ID", int64(100), Descending, 3)
	require.NoError(t, err)

	_, _, err = pager.Next()
	require.NoError(t, err)
	pager.Observe(orders(99, 90, 95))

	params, ok, err := pager.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(90), param(t, params, "id"))
}

func TestCursorPagerNotAdvancing(t *testing.T) {
	pager, err := NewCursor[*order]("id", int64(0), Ascending, 2)
	require.NoError(t, err)

	_, _, err = pager.Next()
	require.NoError(t, err)
	pager.Observe(orders(1, 5))
	_, _, err = pager.Next()
	require.NoError(t, err)

	// the source ignored the cursor and returned the same page
	pager.Observe(orders(1, 5))
	_, ok, err := pager.Next()
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPagerNotAdvancing))
	assert.True(t, errors.IsType(err, errors.ErrorTypePagination))
}

func TestCursorPagerRejectsUnknownColumn(t *testing.T) {
	_, err := NewCursor[*order]("created", nil, Ascending, 10)
	assert.ErrorContains(t, err, `cursor column "created"`)
}

func TestCursorPagerComparisonFailure(t *testing.T) {
	type mixed struct {
		entity.Row
		Value any `etl:"value"`
	}
	pager, err := NewCursor[*mixed]("value", nil, Ascending, 2)
	require.NoError(t, err)

	_, _, err = pager.Next()
	require.NoError(t, err)
	pager.Observe([]*mixed{{Value: "a"}, {Value: 1}})

	_, ok, err := pager.Next()
	assert.False(t, ok)
	assert.True(t, errors.IsType(err, errors.ErrorTypePagination))
}

func TestNew(t *testing.T) {
	p, err := New[*order](Strategy{}, 10)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = New[*order](Offset(), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, p.PageSize())

	p, err = New[*order](Cursor("id", int64(0), Ascending), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, p.PageSize())

	_, err = New[*order](Offset(), 0)
	assert.Error(t, err)
}
