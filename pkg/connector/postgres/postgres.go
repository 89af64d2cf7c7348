// Package postgres connects pipelines to PostgreSQL through a pgx
// connection pool. Source queries use pgx named arguments, so a cursor
// paged query reads:
//
//	SELECT * FROM orders WHERE seq > @seq ORDER BY seq LIMIT @limit
package postgres

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector/sqlgen"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/logger"
)

// Config describes the connection pool.
type Config struct {
	DSN               string        `mapstructure:"dsn"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// PoolConfig parses the DSN and applies the pool settings, filling in
// defaults for the ones left zero.
func PoolConfig(cfg Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}

	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MinConns = cfg.MinConns
	if poolConfig.MinConns <= 0 {
		poolConfig.MinConns = 2
	}
	if poolConfig.MinConns > poolConfig.MaxConns {
		poolConfig.MinConns = poolConfig.MaxConns / 2
	}

	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime <= 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime <= 0 {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	if poolConfig.HealthCheckPeriod <= 0 {
		poolConfig.HealthCheckPeriod = 30 * time.Second
	}
	return poolConfig, nil
}

// DB is a PostgreSQL connection pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect creates the pool and checks the server is reachable.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}

	var version string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to validate connection")
	}

	log := logger.Get().With(zap.String("component", "postgres"))
	log.Info("Connected to PostgreSQL",
		zap.String("version", version),
		zap.Int32("max_connections", poolConfig.MaxConns),
		zap.Int32("min_connections", poolConfig.MinConns),
		zap.Duration("idle_timeout", poolConfig.MaxConnIdleTime),
		zap.Duration("health_check_period", poolConfig.HealthCheckPeriod))
	return &DB{pool: pool, logger: log}, nil
}

// Close closes the pool.
func (db *DB) Close() { db.pool.Close() }

type txKey struct{}

// querier is what the pool and a transaction have in common.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (db *DB) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.pool
}

// InTransaction implements connector.Transactor. Nested calls join the
// outer transaction.
func (db *DB) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "begin transaction")
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.FromContext(ctx, db.logger).Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeLoad, "commit transaction")
	}
	return nil
}

// NamedArgs converts pager parameters to pgx named arguments.
func NamedArgs(params []connector.Parameter) pgx.NamedArgs {
	args := make(pgx.NamedArgs, len(params))
	for _, p := range params {
		args[p.Name] = p.Value
	}
	return args
}

// Reader runs a fixed query with the pager's parameters as @name arguments.
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
	return &Reader[T]{db: db, desc: desc, query: query}, nil
}

// Query implements connector.Reader.
func (r *Reader[T]) Query(ctx context.Context, params []connector.Parameter) ([]T, error) {
	rows, err := r.db.conn(ctx).Query(ctx, r.query, NamedArgs(params))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "run source query")
	}
	defer rows.Close()

	descriptions := rows.FieldDescriptions()
	columns := make([]string, len(descriptions))
	for i, d := range descriptions {
		columns[i] = d.Name
	}
	return sqlgen.Scan[T](rows, sqlgen.Columns(r.desc, columns))
}

// Table is a destination table of T.
type Table[T any] struct {
	db  *DB
	gen *sqlgen.Generator
}

// NewTable returns the destination table of T. An empty name uses the
// entity's table name.
func NewTable[T any](db *DB, name string) (*Table[T], error) {
	desc, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	return &Table[T]{db: db, gen: sqlgen.New(sqlgen.Postgres, desc, name)}, nil
}

// InTransaction implements connector.Transactor.
func (t *Table[T]) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.InTransaction(ctx, fn)
}

// CreateSchema implements connector.SchemaCreator.
func (t *Table[T]) CreateSchema(ctx context.Context) (bool, error) {
	var exists bool
	if err := t.db.conn(ctx).QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", t.gen.Table()).Scan(&exists); err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeQuery, "look up table")
	}
	if exists {
		return false, nil
	}

	err := t.db.InTransaction(ctx, func(ctx context.Context) error {
		for _, stmt := range t.gen.CreateTable() {
			if _, err := t.db.conn(ctx).Exec(ctx, stmt); err != nil {
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

// Find implements connector.Writer.
func (t *Table[T]) Find(ctx context.Context, q connector.FindQuery[T]) ([]T, error) {
	stmt := sqlgen.Find(t.gen, q)
	rows, err := t.db.conn(ctx).Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "find rows").WithDetail("table", t.gen.Table())
	}
	defer rows.Close()
	return sqlgen.Scan[T](rows, stmt.Fields)
}

// Insert implements connector.Writer. Serial keys are read back with
// RETURNING; string keys are generated as UUIDs.
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
		var err error
		if len(stmt.Fields) > 0 {
			err = t.db.conn(ctx).QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(stmt.Fields[0].Addr(row))
		} else {
			_, err = t.db.conn(ctx).Exec(ctx, stmt.SQL, stmt.Args...)
		}
		if err != nil {
			return inserted, errors.Wrap(err, errors.ErrorTypeLoad, "insert row").WithDetail("table", t.gen.Table())
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
		tag, err := t.db.conn(ctx).Exec(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return updated, errors.Wrap(err, errors.ErrorTypeLoad, "update row").WithDetail("table", t.gen.Table())
		}
		if tag.RowsAffected() > 0 {
			updated++
		}
	}
	return updated, nil
}
