package sqlgen

import (
	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
)

// Bind rewrites the :name parameters of a source query into the dialect's
// placeholders and returns the matching arguments. Quoted text and :: casts
// are left alone. Parameters the query does not mention are ignored.
func Bind(d Dialect, query string, params []connector.Parameter) (string, []any, error) {
	b := &builder{dialect: d}
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := i + 1
			for end < len(query) && query[end] != c {
				end++
			}
			if end < len(query) {
				end++
			}
			b.WriteQuery(query[i:end])
			i = end - 1
		case c == ':' && i+1 < len(query) && query[i+1] == ':':
			b.WriteQuery("::")
			i++
		case c == ':' && i+1 < len(query) && isIdentStart(query[i+1]):
			end := i + 1
			for end < len(query) && isIdent(query[end]) {
				end++
			}
			name := query[i+1 : end]
			v, ok := connector.Lookup(params, name)
			if !ok {
				return "", nil, errors.Newf(errors.ErrorTypeQuery, "query parameter :%s has no value", name)
			}
			b.WriteArg(v)
			i = end - 1
		default:
			b.sb.WriteByte(c)
		}
	}
	return b.sb.String(), b.args, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdent(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// Rows is the cursor both database/sql and pgx return.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Columns maps result column names to the fields of desc. Columns the entity
// does not map are returned as nil and skipped when scanning.
func Columns(desc *entity.Descriptor, columns []string) []*entity.Field {
	fields := make([]*entity.Field, len(columns))
	for i, column := range columns {
		fields[i] = desc.Field(column)
	}
	return fields
}

// Scan reads every row into a new T, assigning columns in the order of
// fields. T must be a pointer to an entity struct.
func Scan[T any](rows Rows, fields []*entity.Field) ([]T, error) {
	var out []T
	for rows.Next() {
		row := entity.New[T]()
		dest := make([]any, len(fields))
		for i, f := range fields {
			if f == nil {
				dest[i] = new(any)
				continue
			}
			dest[i] = f.Addr(row)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "scan row")
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "read rows")
	}
	return out, nil
}
