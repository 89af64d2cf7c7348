package sqldb_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector/sqldb"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/loader"
)

type customer struct {
	entity.Dimension
	ID      int64  `etl:"id,key"`
	Code    string `etl:"code,natural"`
	Name    string `etl:"name"`
	Segment string `etl:"segment,type2"`
}

type note struct {
	entity.Fact
	ID   string `etl:"id,key"`
	Body string `etl:"body,natural"`
}

func openSQLite(t *testing.T) *sqldb.DB {
	t.Helper()
	db, err := sqldb.Open(context.Background(), sqldb.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "dw.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func hashed(t *testing.T, rows ...*customer) []*customer {
	t.Helper()
	h, err := entity.NewHasher[*customer]()
	require.NoError(t, err)
	return h.Apply(rows)
}

func TestOpenValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := sqldb.Open(ctx, sqldb.Config{Driver: "oracle"})
	assert.Error(t, err)

	_, err = sqldb.Open(ctx, sqldb.Config{Driver: "mysql", DSN: "user@tcp(localhost:3306)missing-slash"})
	assert.Error(t, err)
}

func TestCreateSchemaOnce(t *testing.T) {
	db := openSQLite(t)
	table, err := sqldb.NewTable[*customer](db)
	require.NoError(t, err)

	created, err := table.CreateSchema(context.Background())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = table.CreateSchema(context.Background())
	require.NoError(t, err)
	assert.False(t, created)
}

func TestSlowlyChangingDimensionOnSQLite(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	table, err := sqldb.NewTable[*customer](db)
	require.NoError(t, err)
	_, err = table.CreateSchema(ctx)
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l, err := loader.NewSlowlyChangingDimension[*customer](table, loader.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	res, err := l.Load(ctx, hashed(t,
		&customer{Code: "c1", Name: "Ada", Segment: "retail"},
		&customer{Code: "c2", Name: "Bob", Segment: "retail"},
	))
	require.NoError(t, err)
	assert.Equal(t, loader.Result{Inserted: 2}, res)

	now = now.Add(24 * time.Hour)
	res, err = l.Load(ctx, hashed(t,
		&customer{Code: "c1", Name: "Ada", Segment: "wholesale"},
		&customer{Code: "c2", Name: "Bobby", Segment: "retail"},
	))
	require.NoError(t, err)
	assert.Equal(t, loader.Result{Inserted: 1, Updated: 2}, res)

	reader, err := sqldb.NewReader[*customer](db, "SELECT * FROM customer WHERE code = :code ORDER BY id")
	require.NoError(t, err)

	versions, err := reader.Query(ctx, []connector.Parameter{connector.NewParameter("code", "c1")})
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "retail", versions[0].Segment)
	assert.False(t, versions[0].IsActive)
	require.NotNil(t, versions[0].ToDate)
	assert.True(t, now.Equal(*versions[0].ToDate))
	assert.Equal(t, "wholesale", versions[1].Segment)
	assert.True(t, versions[1].IsCurrent())
	assert.True(t, now.Equal(versions[1].FromDate))
	assert.Equal(t, int64(3), versions[1].ID)

	bob, err := reader.Query(ctx, []connector.Parameter{connector.NewParameter("code", "c2")})
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, "Bobby", bob[0].Name)
	assert.True(t, bob[0].IsCurrent())
}

func notes(t *testing.T, bodies ...string) []*note {
	t.Helper()
	h, err := entity.NewHasher[*note]()
	require.NoError(t, err)
	rows := make([]*note, 0, len(bodies))
	for _, body := range bodies {
		rows = append(rows, &note{Body: body})
	}
	return h.Apply(rows)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	table, err := sqldb.NewTable[*note](db, sqldb.WithTableName("notes"))
	require.NoError(t, err)
	_, err = table.CreateSchema(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = table.InTransaction(ctx, func(ctx context.Context) error {
		rows := notes(t, "draft")
		n, err := table.Insert(ctx, rows)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.NotEmpty(t, rows[0].ID, "string keys are generated")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	all, err := table.Find(ctx, connector.FindQuery[*note]{})
	require.NoError(t, err)
	assert.Empty(t, all)

	rows := notes(t, "kept")
	_, err = table.Insert(ctx, rows)
	require.NoError(t, err)
	all, err = table.Find(ctx, connector.FindQuery[*note]{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rows[0].ID, all[0].ID)
}

func TestInsertRejectsUnhashedRows(t *testing.T) {
	ctx := context.Background()
	table, err := sqldb.NewTable[*note](openSQLite(t), sqldb.WithTableName("notes"))
	require.NoError(t, err)
	_, err = table.CreateSchema(ctx)
	require.NoError(t, err)

	_, err = table.Insert(ctx, []*note{{Body: "unhashed"}})
	require.Error(t, err)

	n, err := table.Insert(ctx, notes(t, "hashed"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
