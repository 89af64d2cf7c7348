package entity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"reflect"
	"strconv"
	"time"

	"github.com/krisbrooking/Rowbot-sub000/pkg/pool"
)

const (
	unitSeparator = 0x1f
	nullMarker    = "\x00null"
)

var (
	hashers = pool.New(sha256.New, func(h hash.Hash) { h.Reset() })
	buffers = pool.New(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)
)

// Hasher computes KeyHash from the natural key fields of an entity and
// ChangeHash from all of its data fields, using SHA-256.
type Hasher[T Keyed] struct {
	desc    *Descriptor
	natural []*Field
	data    []*Field
}

// NewHasher builds a hasher for T. T must declare at least one natural field.
func NewHasher[T Keyed]() (*Hasher[T], error) {
	desc, err := Describe[T]()
	if err != nil {
		return nil, err
	}
	natural := desc.NaturalFields()
	if len(natural) == 0 {
		return nil, fmt.Errorf("%s has no natural key fields", desc.Name)
	}
	return &Hasher[T]{
		desc:    desc,
		natural: natural,
		data:    desc.DataFields(),
	}, nil
}

// Apply sets KeyHash and ChangeHash on every row in place.
func (h *Hasher[T]) Apply(rows []T) []T {
	for _, row := range rows {
		header := row.Header()
		header.KeyHash = h.KeyHash(row)
		header.ChangeHash = h.ChangeHash(row)
	}
	return rows
}

// KeyHash hashes the natural key of row.
func (h *Hasher[T]) KeyHash(row T) []byte {
	return sum(row, h.natural)
}

// ChangeHash hashes every data field of row.
func (h *Hasher[T]) ChangeHash(row T) []byte {
	return sum(row, h.data)
}

func sum(row any, fields []*Field) []byte {
	buf := buffers.Get()
	defer buffers.Put(buf)

	for _, f := range fields {
		buf.WriteString(f.Column)
		buf.WriteByte('=')
		writeValue(buf, f.Get(row))
		buf.WriteByte(unitSeparator)
	}

	hasher := hashers.Get()
	defer hashers.Put(hasher)
	hasher.Write(buf.Bytes())
	return hasher.Sum(nil)
}

func writeValue(buf *bytes.Buffer, v any) {
	switch x := v.(type) {
	case nil:
		buf.WriteString(nullMarker)
	case string:
		buf.WriteString(strconv.Quote(x))
	case []byte:
		if x == nil {
			buf.WriteString(nullMarker)
			return
		}
		buf.WriteString(hex.EncodeToString(x))
	case time.Time:
		buf.WriteString(x.UTC().Format(time.RFC3339Nano))
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				buf.WriteString(nullMarker)
				return
			}
			writeValue(buf, rv.Elem().Interface())
			return
		}
		fmt.Fprintf(buf, "%v", v)
	}
}

// HashString renders a hash as the string used for grouping rows by key.
func HashString(h []byte) string {
	return string(h)
}
