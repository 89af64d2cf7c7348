package entity

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ChangedFieldSet is an update instruction: the row carrying the new values
// and the destination key, plus the fields to write.
type ChangedFieldSet[T any] struct {
	Row    T
	Fields []*Field
}

// Columns returns the column names of the changed fields.
func (c ChangedFieldSet[T]) Columns() []string {
	columns := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		columns[i] = f.Column
	}
	return columns
}

// Diff returns the fields among candidates whose values differ between a and b.
func Diff(candidates []*Field, a, b any) []*Field {
	var changed []*Field
	for _, f := range candidates {
		if !f.Equal(a, b) {
			changed = append(changed, f)
		}
	}
	return changed
}

// Compare orders two mapped values of the same kind. It supports integers,
// unsigned integers, floats, strings, byte slices, booleans and times,
// dereferencing pointers; a nil pointer sorts first.
func Compare(a, b any) (int, error) {
	a, b = deref(a), deref(b)
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}

	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, mismatch(a, b)
		}
		return ta.Compare(tb), nil
	}
	if ba, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		if !ok {
			return 0, mismatch(a, b)
		}
		return strings.Compare(string(ba), string(bb)), nil
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isInt(va.Kind()) && isInt(vb.Kind()):
		return cmp3(va.Int() < vb.Int(), va.Int() > vb.Int()), nil
	case isUint(va.Kind()) && isUint(vb.Kind()):
		return cmp3(va.Uint() < vb.Uint(), va.Uint() > vb.Uint()), nil
	case isNumber(va.Kind()) && isNumber(vb.Kind()):
		fa, fb := toFloat(va), toFloat(vb)
		return cmp3(fa < fb, fa > fb), nil
	case va.Kind() == reflect.String && vb.Kind() == reflect.String:
		return strings.Compare(va.String(), vb.String()), nil
	case va.Kind() == reflect.Bool && vb.Kind() == reflect.Bool:
		return cmp3(!va.Bool() && vb.Bool(), va.Bool() && !vb.Bool()), nil
	}
	return 0, mismatch(a, b)
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func mismatch(a, b any) error {
	return fmt.Errorf("cannot compare %T with %T", a, b)
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isNumber(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || k == reflect.Float32 || k == reflect.Float64
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isInt(v.Kind()):
		return float64(v.Int())
	case isUint(v.Kind()):
		return float64(v.Uint())
	}
	return v.Float()
}
