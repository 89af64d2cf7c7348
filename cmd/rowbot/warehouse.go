package main

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/config"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector/postgres"
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector/sqldb"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
	"github.com/krisbrooking/Rowbot-sub000/pkg/registry"
)

// defaultConnection is used when the configuration names no warehouse.
var defaultConnection = config.ConnectionConfig{Driver: config.DriverSQLite, DSN: "rowbot-demo.db"}

// warehouse owns the database connection shared by every run of the process.
type warehouse struct {
	mu  sync.Mutex
	sql *sqldb.DB
	pg  *postgres.DB
}

func (w *warehouse) open(ctx context.Context, env registry.Env) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sql != nil || w.pg != nil {
		return nil
	}

	conn, err := env.Config.Connection("warehouse")
	if err != nil {
		conn = defaultConnection
		env.Logger.Info("no warehouse connection configured, using SQLite",
			zap.String("dsn", conn.DSN))
	}

	switch conn.Driver {
	case config.DriverSQLite, config.DriverMySQL:
		w.sql, err = sqldb.Open(ctx, sqldb.Config{Driver: conn.Driver, DSN: conn.DSN})
	case config.DriverPostgres:
		w.pg, err = postgres.Connect(ctx, postgres.Config{DSN: conn.DSN})
	default:
		return errors.Newf(errors.ErrorTypeConfig, "the demo warehouse cannot use driver %s", conn.Driver)
	}
	return err
}

func (w *warehouse) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sql != nil {
		_ = w.sql.Close()
	}
	if w.pg != nil {
		w.pg.Close()
	}
}

// destination is a writable table that can create itself.
type destination[T any] interface {
	connector.Writer[T]
	connector.SchemaCreator
	connector.Transactor
}

func table[T any](w *warehouse, name string) (destination[T], error) {
	if w.pg != nil {
		return postgres.NewTable[T](w.pg, name)
	}
	return sqldb.NewTable[T](w.sql, sqldb.WithTableName(name))
}

// source runs query, whose parameters are written :name.
func source[T any](w *warehouse, query string) (connector.Reader[T], error) {
	if w.pg != nil {
		return postgres.NewReader[T](w.pg, strings.NewReplacer(":limit", "@limit", ":offset", "@offset").Replace(query))
	}
	return sqldb.NewReader[T](w.sql, query)
}
