// Package sqlgen renders the statements the SQL destinations run: the
// merge lookups, inserts, updates and CREATE TABLE of an entity type. Each
// database differs only in its Dialect.
package sqlgen

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
)

// Dialect captures what differs between SQL databases.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker of the n-th argument, counting from 1.
	Placeholder(n int) string
	QuoteIdent(name string) string
	// ColumnType returns the column definition for f, without its name.
	ColumnType(f *entity.Field) string
	// Returning reports whether inserts return the generated key with a
	// RETURNING clause rather than through LastInsertId.
	Returning() bool
}

var (
	// Postgres numbers its placeholders and returns generated keys.
	Postgres Dialect = postgres{}
	// MySQL uses question marks and backquotes.
	MySQL Dialect = mysql{}
	// SQLite accepts question marks and double quotes.
	SQLite Dialect = sqlite{}
)

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// kind classifies a field's Go type, looking through pointers.
func kind(f *entity.Field) string {
	t := f.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return "time"
	case t == bytesType:
		return "bytes"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	}
	return "string"
}

func nullability(f *entity.Field) string {
	if f.Nullable {
		return " NULL"
	}
	return " NOT NULL"
}

type postgres struct{}

func (postgres) Name() string { return "postgres" }

func (postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgres) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (postgres) Returning() bool { return true }

func (postgres) ColumnType(f *entity.Field) string {
	if f.IsKey && f.IsGenerated && kind(f) == "int" {
		return "BIGSERIAL PRIMARY KEY"
	}
	var t string
	switch kind(f) {
	case "time":
		t = "TIMESTAMPTZ"
	case "bytes":
		t = "BYTEA"
	case "bool":
		t = "BOOLEAN"
	case "int":
		t = "BIGINT"
	case "float":
		t = "DOUBLE PRECISION"
	default:
		t = "TEXT"
	}
	if f.IsKey {
		return t + " PRIMARY KEY"
	}
	return t + nullability(f)
}

type mysql struct{}

func (mysql) Name() string { return "mysql" }

func (mysql) Placeholder(int) string { return "?" }

func (mysql) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysql) Returning() bool { return false }

func (mysql) ColumnType(f *entity.Field) string {
	if f.IsKey && f.IsGenerated && kind(f) == "int" {
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}
	var t string
	switch kind(f) {
	case "time":
		t = "DATETIME(6)"
	case "bytes":
		t = "VARBINARY(64)"
	case "bool":
		t = "BOOLEAN"
	case "int":
		t = "BIGINT"
	case "float":
		t = "DOUBLE"
	default:
		// keys and natural fields are indexed, so they need a bounded type
		if f.IsKey || f.IsNatural {
			t = "VARCHAR(255)"
		} else {
			t = "TEXT"
		}
	}
	if f.IsKey {
		return t + " PRIMARY KEY"
	}
	return t + nullability(f)
}

type sqlite struct{}

func (sqlite) Name() string { return "sqlite" }

func (sqlite) Placeholder(int) string { return "?" }

func (sqlite) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (sqlite) Returning() bool { return false }

func (sqlite) ColumnType(f *entity.Field) string {
	if f.IsKey && f.IsGenerated && kind(f) == "int" {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	var t string
	switch kind(f) {
	case "time":
		t = "DATETIME"
	case "bytes":
		t = "BLOB"
	case "bool", "int":
		t = "INTEGER"
	case "float":
		t = "REAL"
	default:
		t = "TEXT"
	}
	if f.IsKey {
		return t + " PRIMARY KEY"
	}
	return t + nullability(f)
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, bool) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, true
	case "mysql":
		return MySQL, true
	case "sqlite", "sqlite3":
		return SQLite, true
	}
	return nil, false
}
