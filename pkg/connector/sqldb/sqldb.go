// Package sqldb connects pipelines to databases reached through
// database/sql: MySQL via go-sql-driver and SQLite via modernc.org/sqlite.
//
//	db, err := sqldb.Open(ctx, sqldb.Config{Driver: "sqlite", DSN: "file:dw.db"})
//	customers, err := sqldb.NewTable[*Customer](db)
//	pipeline.Load(rows, loader.NewSlowlyChangingDimension(customers))
package sqldb

import (
	"context"
	"database/sql"
	"reflect"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector/sqlgen"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
)

// Config describes a database connection.
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DB is an open database together with its dialect.
type DB struct {
	*sql.DB
	dialect sqlgen.Dialect
	logger  *zap.Logger
}

// Open connects and pings the database. MySQL DSNs are validated and get
// parseTime so that DATETIME columns scan into time.Time. SQLite is limited
// to one connection unless configured otherwise, as it allows a single
// writer.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dialect, ok := sqlgen.DialectFor(cfg.Driver)
	if !ok || dialect == sqlgen.Postgres {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported driver %q", cfg.Driver)
	}

	driver, dsn := "sqlite", cfg.DSN
	if dialect == sqlgen.MySQL {
		parsed, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql dsn")
		}
		parsed.ParseTime = true
		// updates count matched rows, not changed ones
		parsed.ClientFoundRows = true
		driver, dsn = "mysql", parsed.FormatDSN()
	} else if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 1
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "open database")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "ping database")
	}

	log := logger.Get().With(zap.String("component", "sqldb"), zap.String("driver", driver))
	log.Info("connected to database", zap.Int("max_open_conns", cfg.MaxOpenConns))
	return &DB{DB: db, dialect: dialect, logger: log}, nil
}

// Dialect returns the database's SQL dialect.
func (db *DB) Dialect() sqlgen.Dialect { return db.dialect }

type txKey struct{}

// execer is what *sql.DB and *sql.Tx have in common.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// conn returns the transaction carried by ctx, or the pool.
func (db *DB) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db.DB
}

// InTransaction implements connector.Transactor. Nested calls join the
// outer transaction.
func (db *DB) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "begin transaction")
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.FromContext(ctx, db.logger).Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeLoad, "commit transaction")
	}
	return nil
}

// Reader runs a fixed SQL query whose :name parameters are bound from the
// pager's parameters. Result columns are matched to fields by column name.
type Reader[T any] struct {
	db    *DB
	desc  *entity.Descriptor
	query string
}

// NewReader returns a reader of T running query.
func NewReader[T any](db *DB, query string) (*Reader[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "empty source query")
	}
	return &Reader[T]{db: db, desc: desc, query: query}, nil
}

// Query implements connector.Reader.
func (r *Reader[T]) Query(ctx context.Context, params []connector.Parameter) ([]T, error) {
	query, args, err := sqlgen.Bind(r.db.dialect, r.query, params)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "run source query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "read columns")
	}
	return sqlgen.Scan[T](rows, sqlgen.Columns(r.desc, columns))
}

// Table is a destination table of T.
type Table[T any] struct {
	db  *DB
	gen *sqlgen.Generator
}

// TableOption configures a Table.
type TableOption func(*tableOptions)

type tableOptions struct {
	name string
}

// WithTableName overrides the entity's table name.
func WithTableName(name string) TableOption {
	return func(o *tableOptions) { o.name = name }
}

// NewTable returns the destination table of T.
func NewTable[T any](db *DB, opts ...TableOption) (*Table[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	var o tableOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Table[T]{db: db, gen: sqlgen.New(db.dialect, desc, o.name)}, nil
}

// InTransaction implements connector.Transactor.
func (t *Table[T]) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.InTransaction(ctx, fn)
}

// CreateSchema implements connector.SchemaCreator.
func (t *Table[T]) CreateSchema(ctx context.Context) (bool, error) {
	exists, err := t.exists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	err = t.db.InTransaction(ctx, func(ctx context.Context) error {
		for _, stmt := range t.gen.CreateTable() {
			if _, err := t.db.conn(ctx).ExecContext(ctx, stmt); err != nil {
				return errors.Wrap(err, errors.ErrorTypeLoad, "create table").WithDetail("table", t.gen.Table())
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	t.db.logger.Info("table created", zap.String("table", t.gen.Table()))
	return true, nil
}

func (t *Table[T]) exists(ctx context.Context) (bool, error) {
	query := "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
	if t.db.dialect == sqlgen.SQLite {
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}
	rows, err := t.db.conn(ctx).QueryContext(ctx, query, t.gen.Table())
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeQuery, "look up table")
	}
	defer rows.Close()

	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeQuery, "look up table")
		}
	}
	return n > 0, rows.Err()
}

// Find implements connector.Writer.
func (t *Table[T]) Find(ctx context.Context, q connector.FindQuery[T]) ([]T, error) {
	stmt := sqlgen.Find(t.gen, q)
	rows, err := t.db.conn(ctx).QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "find rows").WithDetail("table", t.gen.Table())
	}
	defer rows.Close()
	return sqlgen.Scan[T](rows, stmt.Fields)
}

// Insert implements connector.Writer. Integer keys come from the database
// and string keys are generated as UUIDs; both are written back to rows.
func (t *Table[T]) Insert(ctx context.Context, rows []T) (int, error) {
	key := t.gen.Key()
	stringKey := key != nil && key.Type.Kind() == reflect.String

	inserted := 0
	for _, row := range rows {
		if stringKey {
			if err := key.Set(row, uuid.NewString()); err != nil {
				return inserted, err
			}
		}
		stmt := t.gen.Insert(row, stringKey)
		res, err := t.db.conn(ctx).ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return inserted, errors.Wrap(err, errors.ErrorTypeLoad, "insert row").WithDetail("table", t.gen.Table())
		}
		if key != nil && !stringKey {
			id, err := res.LastInsertId()
			if err != nil {
				return inserted, errors.Wrap(err, errors.ErrorTypeLoad, "read generated key")
			}
			if err := key.Set(row, id); err != nil {
				return inserted, err
			}
		}
		inserted++
	}
	return inserted, nil
}

// Update implements connector.Writer.
func (t *Table[T]) Update(ctx context.Context, changes []entity.ChangedFieldSet[T]) (int, error) {
	updated := 0
	for _, change := range changes {
		stmt, err := t.gen.Update(change.Row, change.Fields)
		if err != nil {
			return updated, err
		}
		res, err := t.db.conn(ctx).ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return updated, errors.Wrap(err, errors.ErrorTypeLoad, "update row").WithDetail("table", t.gen.Table())
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			updated++
		}
	}
	return updated, nil
}
