package sqlgen

import (
	"strings"

	"github.com/krisbrooking/Rowbot-sub000/pkg/connector"
	"github.com/krisbrooking/Rowbot-sub000/pkg/entity"
	"github.com/krisbrooking/Rowbot-sub000/pkg/errors"
)

// Statement is a rendered query with its arguments. Fields lists the
// selected columns in order, for scanning.
type Statement struct {
	SQL    string
	Args   []any
	Fields []*entity.Field
}

// builder writes one statement, numbering placeholders as arguments are
// added.
type builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
}

func (b *builder) WriteQuery(query string) *builder {
	b.sb.WriteString(query)
	return b
}

func (b *builder) WriteIdentifier(name string) *builder {
	b.sb.WriteString(b.dialect.QuoteIdent(name))
	return b
}

func (b *builder) WriteArg(v any) *builder {
	b.args = append(b.args, v)
	b.sb.WriteString(b.dialect.Placeholder(len(b.args)))
	return b
}

func (b *builder) statement(fields []*entity.Field) Statement {
	return Statement{SQL: b.sb.String(), Args: b.args, Fields: fields}
}

// Generator renders the statements of one entity type.
type Generator struct {
	dialect Dialect
	desc    *entity.Descriptor
	table   string
}

// New returns a generator for desc. An empty table uses the entity's own.
func New(d Dialect, desc *entity.Descriptor, table string) *Generator {
	if table == "" {
		table = desc.Table
	}
	return &Generator{dialect: d, desc: desc, table: table}
}

// Dialect returns the generator's dialect.
func (g *Generator) Dialect() Dialect { return g.dialect }

// Table returns the destination table name.
func (g *Generator) Table() string { return g.table }

// Key returns the destination-generated key field, or nil.
func (g *Generator) Key() *entity.Field {
	if g.desc.Key != nil && g.desc.Key.IsGenerated {
		return g.desc.Key
	}
	return nil
}

func (g *Generator) newBuilder() *builder {
	return &builder{dialect: g.dialect}
}

// CreateTable renders CREATE TABLE IF NOT EXISTS for the entity, followed by
// an index on key_hash when the entity has one.
func (g *Generator) CreateTable() []string {
	b := g.newBuilder()
	b.WriteQuery("CREATE TABLE IF NOT EXISTS ").WriteIdentifier(g.table).WriteQuery(" (")
	for i, f := range g.desc.Fields {
		if i > 0 {
			b.WriteQuery(", ")
		}
		b.WriteIdentifier(f.Column).WriteQuery(" ").WriteQuery(g.dialect.ColumnType(f))
	}
	b.WriteQuery(")")
	statements := []string{b.sb.String()}

	if f := g.desc.Control(entity.ControlKeyHash); f != nil {
		idx := g.newBuilder()
		if g.dialect.Name() != "mysql" {
			idx.WriteQuery("CREATE INDEX IF NOT EXISTS ")
		} else {
			idx.WriteQuery("CREATE INDEX ")
		}
		idx.WriteIdentifier("ix_"+g.table+"_"+f.Column).
			WriteQuery(" ON ").WriteIdentifier(g.table).
			WriteQuery(" (").WriteIdentifier(f.Column).WriteQuery(")")
		statements = append(statements, idx.sb.String())
	}
	return statements
}

// Insert renders an insert of row. With withKey the surrogate key is
// written too, for keys the caller generates; otherwise a generated key is
// returned where the dialect supports RETURNING.
func (g *Generator) Insert(row any, withKey bool) Statement {
	fields := g.desc.InsertFields()
	if withKey && g.desc.Key != nil && g.desc.Key.IsGenerated {
		fields = append([]*entity.Field{g.desc.Key}, fields...)
	}

	b := g.newBuilder()
	b.WriteQuery("INSERT INTO ").WriteIdentifier(g.table).WriteQuery(" (")
	for i, f := range fields {
		if i > 0 {
			b.WriteQuery(", ")
		}
		b.WriteIdentifier(f.Column)
	}
	b.WriteQuery(") VALUES (")
	for i, f := range fields {
		if i > 0 {
			b.WriteQuery(", ")
		}
		b.WriteArg(f.Get(row))
	}
	b.WriteQuery(")")

	var returned []*entity.Field
	if !withKey && g.desc.Key != nil && g.desc.Key.IsGenerated && g.dialect.Returning() {
		b.WriteQuery(" RETURNING ").WriteIdentifier(g.desc.Key.Column)
		returned = []*entity.Field{g.desc.Key}
	}
	return b.statement(returned)
}

// Update renders an update of fields on the stored version of row. Rows are
// matched by surrogate key, or by key_hash on the active version when the
// entity has no key.
func (g *Generator) Update(row any, fields []*entity.Field) (Statement, error) {
	if len(fields) == 0 {
		return Statement{}, errors.New(errors.ErrorTypeValidation, "update without fields")
	}

	b := g.newBuilder()
	b.WriteQuery("UPDATE ").WriteIdentifier(g.table).WriteQuery(" SET ")
	for i, f := range fields {
		if i > 0 {
			b.WriteQuery(", ")
		}
		b.WriteIdentifier(f.Column).WriteQuery(" = ").WriteArg(f.Get(row))
	}

	b.WriteQuery(" WHERE ")
	switch keyHash := g.desc.Control(entity.ControlKeyHash); {
	case g.desc.Key != nil:
		b.WriteIdentifier(g.desc.Key.Column).WriteQuery(" = ").WriteArg(g.desc.Key.Get(row))
	case keyHash != nil:
		b.WriteIdentifier(keyHash.Column).WriteQuery(" = ").WriteArg(keyHash.Get(row))
		if active := g.desc.Control(entity.ControlIsActive); active != nil {
			b.WriteQuery(" AND ").WriteIdentifier(active.Column).WriteQuery(" = ").WriteArg(true)
		}
	default:
		return Statement{}, errors.Newf(errors.ErrorTypeValidation, "%s has neither a key nor a key hash", g.desc.Name)
	}
	return b.statement(nil), nil
}

// Find renders the lookup of q. A single compare field becomes an IN list,
// several become a disjunction of conjunctions.
func Find[T any](g *Generator, q connector.FindQuery[T]) Statement {
	fields := q.Result
	if fields == nil {
		fields = g.desc.Fields
	}

	b := g.newBuilder()
	b.WriteQuery("SELECT ")
	for i, f := range fields {
		if i > 0 {
			b.WriteQuery(", ")
		}
		b.WriteIdentifier(f.Column)
	}
	b.WriteQuery(" FROM ").WriteIdentifier(g.table)

	var clauses int
	where := func() {
		if clauses == 0 {
			b.WriteQuery(" WHERE ")
		} else {
			b.WriteQuery(" AND ")
		}
		clauses++
	}
	for _, c := range q.Where {
		where()
		b.WriteIdentifier(c.Field.Column).WriteQuery(" = ").WriteArg(c.Value)
	}

	if q.All() {
		return b.statement(fields)
	}
	where()
	switch {
	case len(q.Candidates) == 0 || len(q.Compare) == 0:
		b.WriteQuery("1 = 0")
	case len(q.Compare) == 1:
		f := q.Compare[0]
		b.WriteIdentifier(f.Column).WriteQuery(" IN (")
		for i, candidate := range q.Candidates {
			if i > 0 {
				b.WriteQuery(", ")
			}
			b.WriteArg(f.Get(candidate))
		}
		b.WriteQuery(")")
	default:
		b.WriteQuery("(")
		for i, candidate := range q.Candidates {
			if i > 0 {
				b.WriteQuery(" OR ")
			}
			b.WriteQuery("(")
			for j, f := range q.Compare {
				if j > 0 {
					b.WriteQuery(" AND ")
				}
				b.WriteIdentifier(f.Column).WriteQuery(" = ").WriteArg(f.Get(candidate))
			}
			b.WriteQuery(")")
		}
		b.WriteQuery(")")
	}
	return b.statement(fields)
}
