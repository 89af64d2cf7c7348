package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
)

type customer struct {
	entity.Dimension
	ID      int64  `etl:"id,key"`
	Code    string `etl:"code,natural"`
	Name    string `etl:"name"`
	Segment string `etl:"segment,type2"`
	Email   *string
	secret  string
}

func (customer) TableName() string { return "dim_customer" }

type sale struct {
	entity.Fact
	ID       string  `etl:"id,key"`
	OrderRef string  `etl:"order_ref,natural"`
	Line     int     `etl:"line,natural"`
	Amount   float64 `etl:"amount"`
	Ignored  string  `etl:"-"`
}

func TestDescribe(t *testing.T) {
	desc, err := entity.Describe[*customer]()
	require.NoError(t, err)

	assert.Equal(t, "dim_customer", desc.Table)
	assert.Equal(t, []string{
		"key_hash", "change_hash", "is_deleted", "is_active", "from_date", "to_date",
		"id", "code", "name", "segment", "email",
	}, desc.Columns())

	require.NotNil(t, desc.Key)
	assert.Equal(t, "ID", desc.Key.Name)
	assert.True(t, desc.Key.IsGenerated)

	assert.True(t, desc.Field("code").IsNatural)
	assert.True(t, desc.Field("Segment").IsType2)
	assert.True(t, desc.Field("email").Nullable)
	assert.True(t, desc.Field("to_date").Nullable)
	assert.Nil(t, desc.Field("secret"))

	assert.Equal(t, entity.ControlIsActive, desc.Control(entity.ControlIsActive).Control)
	assert.Nil(t, desc.Control(entity.ControlCreatedAt))

	var data []string
	for _, f := range desc.DataFields() {
		data = append(data, f.Column)
	}
	assert.Equal(t, []string{"code", "name", "segment", "email"}, data)
}

func TestDescribeIsMemoized(t *testing.T) {
	first := entity.MustDescribe[*sale]()
	second := entity.MustDescribe[sale]()
	assert.Same(t, first, second)
	assert.Equal(t, "sale", first.Table)
	assert.Nil(t, first.Field("Ignored"))
}

func TestDescribeRejectsMalformedTags(t *testing.T) {
	type badOption struct {
		entity.Row
		Code string `etl:"code,primary"`
	}
	type badControl struct {
		entity.Row
		Code string `etl:"code,control"`
	}
	type twoKeys struct {
		entity.Row
		A int `etl:"a,key"`
		B int `etl:"b,key"`
	}

	_, err := entity.Describe[*badOption]()
	assert.ErrorContains(t, err, "unknown tag option")
	_, err = entity.Describe[*badControl]()
	assert.ErrorContains(t, err, "not a control column")
	_, err = entity.Describe[*twoKeys]()
	assert.ErrorContains(t, err, "more than one key")
	_, err = entity.Describe[int]()
	assert.Error(t, err)
}

func TestFieldGetSet(t *testing.T) {
	desc := entity.MustDescribe[*customer]()
	c := &customer{Code: "C1"}

	require.NoError(t, desc.Field("name").Set(c, "Ada"))
	assert.Equal(t, "Ada", c.Name)
	assert.Equal(t, "C1", desc.Field("code").Get(c))

	// int32 from a driver converts into the int64 key
	require.NoError(t, desc.Field("id").Set(c, int32(7)))
	assert.Equal(t, int64(7), c.ID)

	// element values are wrapped for pointer fields
	require.NoError(t, desc.Field("email").Set(c, "ada@example.com"))
	require.NotNil(t, c.Email)
	assert.Equal(t, "ada@example.com", *c.Email)

	now := time.Now()
	require.NoError(t, desc.Field("to_date").Set(c, now))
	require.NotNil(t, c.ToDate)
	assert.True(t, now.Equal(*c.ToDate))

	require.NoError(t, desc.Field("to_date").Set(c, nil))
	assert.Nil(t, c.ToDate)

	assert.Error(t, desc.Field("name").Set(c, 42))
	assert.Error(t, desc.Field("name").Set(*c, "by value"))
}

func TestValuesEqual(t *testing.T) {
	now := time.Now()
	utc := now.UTC()
	later := now.Add(time.Second)

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"bytes equal", []byte{1, 2}, []byte{1, 2}, true},
		{"bytes differ", []byte{1, 2}, []byte{1, 3}, false},
		{"time across locations", now, utc, true},
		{"time differs", now, later, false},
		{"nil time pointers", (*time.Time)(nil), (*time.Time)(nil), true},
		{"nil and set time pointer", (*time.Time)(nil), &now, false},
		{"time pointers by instant", &now, &utc, true},
		{"strings", "a", "a", true},
		{"ints", 1, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, entity.ValuesEqual(tt.a, tt.b))
		})
	}
}

func TestClone(t *testing.T) {
	original := &customer{Code: "C1", Name: "Ada"}
	original.IsActive = true

	clone := entity.Clone(original)
	require.NotSame(t, original, clone)
	assert.Equal(t, original, clone)

	clone.Name = "Grace"
	assert.Equal(t, "Ada", original.Name)

	var nilRow *customer
	assert.Nil(t, entity.Clone(nilRow))
}

func TestNew(t *testing.T) {
	c := entity.New[*customer]()
	require.NotNil(t, c)
	assert.Empty(t, c.Code)
	assert.Equal(t, 0, entity.New[int]())
}

func TestHasher(t *testing.T) {
	hasher, err := entity.NewHasher[*customer]()
	require.NoError(t, err)

	a := &customer{Code: "C1", Name: "Ada", Segment: "retail"}
	b := &customer{Code: "C1", Name: "Ada", Segment: "retail", ID: 99}
	c := &customer{Code: "C1", Name: "Ada Lovelace", Segment: "retail"}
	d := &customer{Code: "C2", Name: "Ada", Segment: "retail"}
	hasher.Apply([]*customer{a, b, c, d})

	assert.Len(t, a.KeyHash, 32)
	assert.Equal(t, a.KeyHash, b.KeyHash)
	assert.Equal(t, a.ChangeHash, b.ChangeHash, "surrogate key is not part of the change hash")

	assert.Equal(t, a.KeyHash, c.KeyHash)
	assert.NotEqual(t, a.ChangeHash, c.ChangeHash)

	assert.NotEqual(t, a.KeyHash, d.KeyHash)
}

func TestHasherDistinguishesNullFromEmpty(t *testing.T) {
	hasher, err := entity.NewHasher[*customer]()
	require.NoError(t, err)

	empty := ""
	withNil := &customer{Code: "C1"}
	withEmpty := &customer{Code: "C1", Email: &empty}
	hasher.Apply([]*customer{withNil, withEmpty})

	assert.NotEqual(t, withNil.ChangeHash, withEmpty.ChangeHash)
}

func TestHasherRequiresNaturalKey(t *testing.T) {
	type noNatural struct {
		entity.Row
		Name string `etl:"name"`
	}
	_, err := entity.NewHasher[*noNatural]()
	assert.ErrorContains(t, err, "no natural key")
}

func TestDiff(t *testing.T) {
	desc := entity.MustDescribe[*customer]()
	before := &customer{Code: "C1", Name: "Ada", Segment: "retail"}
	after := &customer{Code: "C1", Name: "Ada L", Segment: "retail"}

	changed := entity.Diff(desc.DataFields(), before, after)
	require.Len(t, changed, 1)
	assert.Equal(t, "name", changed[0].Column)

	set := entity.ChangedFieldSet[*customer]{Row: after, Fields: changed}
	assert.Equal(t, []string{"name"}, set.Columns())
}

func TestCompare(t *testing.T) {
	one, two := int64(1), int64(2)
	now := time.Now()

	tests := []struct {
		name    string
		a, b    any
		want    int
		wantErr bool
	}{
		{"ints", 1, 2, -1, false},
		{"mixed int widths", int32(5), int64(5), 0, false},
		{"uints", uint8(9), uint64(3), 1, false},
		{"int and float", 2, 1.5, 1, false},
		{"strings", "b", "a", 1, false},
		{"bytes", []byte("a"), []byte("b"), -1, false},
		{"times", now, now.Add(time.Minute), -1, false},
		{"pointers", &two, &one, 1, false},
		{"nil sorts first", (*int64)(nil), &one, -1, false},
		{"bools", false, true, -1, false},
		{"mismatch", "a", 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := entity.Compare(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSnakeCase(t *testing.T) {
	for in, want := range map[string]string{
		"Name":       "name",
		"CustomerID": "customer_id",
		"ID":         "id",
		"HTTPStatus": "http_status",
		"Line2Total": "line2_total",
		"KeyHash":    "key_hash",
	} {
		assert.Equal(t, want, entity.SnakeCase(in), in)
	}
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "github.com/krisbrooking/Rowbot-sub000/pkg/entity_test.customer", entity.TypeNameOf[*customer]())
	assert.Equal(t, entity.TypeNameOf[customer](), entity.TypeNameOf[*customer]())
}
