package entity

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

// TagName is the struct tag read by Describe.
const TagName = "etl"

// Tabler lets an entity choose its destination table or collection name.
type Tabler interface {
	TableName() string
}

// Descriptor is the cached field table of one entity type.
type Descriptor struct {
	Type   reflect.Type // the struct type
	Name   string       // package-qualified type name
	Table  string
	Fields []*Field
	Key    *Field // nil when the entity has no surrogate key

	byName   map[string]*Field
	byColumn map[string]*Field
	controls map[Control]*Field
}

var descriptors sync.Map // reflect.Type -> *Descriptor

// Describe returns the descriptor of T, building it on first use. T is usually
// a pointer to an entity struct.
func Describe[T any]() (*Descriptor, error) {
	return DescribeType(reflect.TypeOf((*T)(nil)).Elem())
}

// MustDescribe is Describe that panics on a malformed entity type.
func MustDescribe[T any]() *Descriptor {
	d, err := Describe[T]()
	if err != nil {
		panic(err)
	}
	return d
}

// DescribeType returns the descriptor for t, dereferencing pointer types.
func DescribeType(t reflect.Type) (*Descriptor, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := descriptors.Load(t); ok {
		return cached.(*Descriptor), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity type %s is not a struct", t)
	}

	d := &Descriptor{
		Type:     t,
		Name:     TypeName(t),
		Table:    tableName(t),
		byName:   make(map[string]*Field),
		byColumn: make(map[string]*Field),
		controls: make(map[Control]*Field),
	}
	if err := d.collect(t, nil); err != nil {
		return nil, err
	}

	actual, _ := descriptors.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

func (d *Descriptor) collect(t reflect.Type, index []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		fieldIndex := append(append([]int(nil), index...), i)

		tag, hasTag := sf.Tag.Lookup(TagName)
		if tag == "-" {
			continue
		}
		if sf.Anonymous && !hasTag {
			ft := sf.Type
			if ft.Kind() == reflect.Struct && ft != timeType {
				if err := d.collect(ft, fieldIndex); err != nil {
					return err
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		f := &Field{
			Name:   sf.Name,
			Column: SnakeCase(sf.Name),
			Type:   sf.Type,
			Index:  fieldIndex,
		}
		if hasTag {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				f.Column = parts[0]
			}
			for _, opt := range parts[1:] {
				switch strings.TrimSpace(opt) {
				case "key":
					f.IsKey = true
					f.IsGenerated = true
				case "natural":
					f.IsNatural = true
				case "type2":
					f.IsType2 = true
				case "nullable":
					f.Nullable = true
				case "control":
					control, ok := controlColumns[f.Column]
					if !ok {
						return fmt.Errorf("%s.%s: %q is not a control column", d.Name, sf.Name, f.Column)
					}
					f.Control = control
				case "":
				default:
					return fmt.Errorf("%s.%s: unknown tag option %q", d.Name, sf.Name, opt)
				}
			}
		}
		if sf.Type.Kind() == reflect.Pointer {
			f.Nullable = true
		}

		if _, dup := d.byColumn[f.Column]; dup {
			return fmt.Errorf("%s: duplicate column %q", d.Name, f.Column)
		}
		if f.IsKey {
			if d.Key != nil {
				return fmt.Errorf("%s: more than one key field", d.Name)
			}
			d.Key = f
		}
		if f.Control != ControlNone {
			d.controls[f.Control] = f
		}
		d.Fields = append(d.Fields, f)
		d.byName[f.Name] = f
		d.byColumn[f.Column] = f
	}
	return nil
}

// Field looks up a field by Go name or column name.
func (d *Descriptor) Field(name string) *Field {
	if f, ok := d.byName[name]; ok {
		return f
	}
	return d.byColumn[name]
}

// Control returns the descriptor's control column, or nil when the entity
// does not embed the struct declaring it.
func (d *Descriptor) Control(c Control) *Field {
	return d.controls[c]
}

// DataFields returns the fields that are neither control columns nor the key.
func (d *Descriptor) DataFields() []*Field {
	return d.filter(func(f *Field) bool { return f.IsData() })
}

// NaturalFields returns the fields hashed into KeyHash.
func (d *Descriptor) NaturalFields() []*Field {
	return d.filter(func(f *Field) bool { return f.IsNatural })
}

// Columns returns the column names of all fields, in declaration order.
func (d *Descriptor) Columns() []string {
	columns := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		columns[i] = f.Column
	}
	return columns
}

// InsertFields returns the fields written on insert: every field except a
// destination-generated key.
func (d *Descriptor) InsertFields() []*Field {
	return d.filter(func(f *Field) bool { return !f.IsGenerated })
}

func (d *Descriptor) filter(keep func(*Field) bool) []*Field {
	var out []*Field
	for _, f := range d.Fields {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// TypeName returns the package-qualified name of t, used to match pipeline
// sources and targets across containers.
func TypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// TypeNameOf returns TypeName for T.
func TypeNameOf[T any]() string {
	return TypeName(reflect.TypeOf((*T)(nil)).Elem())
}

func tableName(t reflect.Type) string {
	if tabler, ok := reflect.New(t).Interface().(Tabler); ok {
		if name := tabler.TableName(); name != "" {
			return name
		}
	}
	return SnakeCase(t.Name())
}

// SnakeCase converts a Go identifier to snake_case, keeping initialisms
// together: CustomerID becomes customer_id.
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// New allocates a zero entity. For pointer types it returns a pointer to a
// new struct.
func New[T any]() T {
	var zero T
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(T)
	}
	return zero
}

// Clone returns a shallow copy of row. Pointer rows are copied into a newly
// allocated struct; byte slices are shared.
func Clone[T any](row T) T {
	v := reflect.ValueOf(row)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return row
	}
	c := reflect.New(v.Elem().Type())
	c.Elem().Set(v.Elem())
	return c.Interface().(T)
}
