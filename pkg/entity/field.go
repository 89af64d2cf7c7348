package entity

import (
	"bytes"
	"fmt"
	"reflect"
	"time"
)

var timeType = reflect.TypeOf(time.Time{})

// Field describes one mapped property of an entity type. Fields are built once
// per type by Describe and shared between goroutines; they are read-only.
type Field struct {
	Name        string // Go field name
	Column      string // destination column name
	Type        reflect.Type
	Index       []int
	IsKey       bool // destination-generated surrogate key
	IsGenerated bool
	IsNatural   bool // part of the business identity
	IsType2     bool // a change historizes the dimension row
	Nullable    bool
	Control     Control
}

// IsControl reports whether the field is one of the row model's control columns.
func (f *Field) IsControl() bool { return f.Control != ControlNone }

// IsData reports whether the field carries user data, i.e. it is neither a
// control column nor the surrogate key.
func (f *Field) IsData() bool { return f.Control == ControlNone && !f.IsKey }

func (f *Field) value(row any) reflect.Value {
	v := reflect.ValueOf(row)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return v.FieldByIndex(f.Index)
}

// Get returns the field's value on row. Row must be a pointer to the entity
// struct or the struct itself.
func (f *Field) Get(row any) any {
	return f.value(row).Interface()
}

// Set assigns value to the field on row, which must be a pointer. Nil resets
// the field to its zero value. Values are converted when the types differ but
// are convertible, and pointer fields accept their element type.
func (f *Field) Set(row any, value any) error {
	target := f.value(row)
	if !target.CanSet() {
		return fmt.Errorf("field %s is not settable, pass a pointer", f.Name)
	}

	if value == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}

	v := reflect.ValueOf(value)
	switch {
	case v.Type().AssignableTo(target.Type()):
		target.Set(v)
	case target.Kind() == reflect.Pointer && v.Type().AssignableTo(target.Type().Elem()):
		ptr := reflect.New(target.Type().Elem())
		ptr.Elem().Set(v)
		target.Set(ptr)
	case target.Kind() == reflect.Pointer && v.Type().ConvertibleTo(target.Type().Elem()):
		ptr := reflect.New(target.Type().Elem())
		ptr.Elem().Set(v.Convert(target.Type().Elem()))
		target.Set(ptr)
	case v.Kind() == reflect.Pointer && v.Type().Elem().AssignableTo(target.Type()):
		if v.IsNil() {
			target.Set(reflect.Zero(target.Type()))
		} else {
			target.Set(v.Elem())
		}
	case v.Type().ConvertibleTo(target.Type()) && convertible(v.Kind(), target.Kind()):
		target.Set(v.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot assign %s to field %s of type %s", v.Type(), f.Name, target.Type())
	}
	return nil
}

// convertible rejects the int to string conversion reflect allows.
func convertible(from, to reflect.Kind) bool {
	if to == reflect.String {
		return from == reflect.String || from == reflect.Slice
	}
	return true
}

// Equal reports whether the field holds the same value on a and b.
func (f *Field) Equal(a, b any) bool {
	return ValuesEqual(f.Get(a), f.Get(b))
}

// Addr returns a pointer to the field on row, for scanning into. Row must be
// a pointer.
func (f *Field) Addr(row any) any {
	return f.value(row).Addr().Interface()
}

// Copy copies the field's value from src onto dst.
func (f *Field) Copy(dst, src any) {
	f.value(dst).Set(f.value(src))
}

// ValuesEqual compares two mapped values. Byte slices compare by content and
// times by instant, regardless of location.
func ValuesEqual(a, b any) bool {
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case *time.Time:
		y, ok := b.(*time.Time)
		if !ok {
			return false
		}
		if x == nil || y == nil {
			return x == nil && y == nil
		}
		return x.Equal(*y)
	}
	return reflect.DeepEqual(a, b)
}
