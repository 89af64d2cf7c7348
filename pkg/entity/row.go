// Package entity defines the row model shared by extract, transform and load
// stages, and the cached field descriptor table the merge loaders use to read,
// write and compare mapped properties without per-row reflection lookups.
//
// An entity is a struct that embeds Fact or Dimension and tags its mapped
// properties:
//
//	type Customer struct {
//	    entity.Dimension
//	    ID      int64  `etl:"id,key"`
//	    Code    string `etl:"code,natural"`
//	    Name    string `etl:"name"`
//	    Segment string `etl:"segment,type2"`
//	}
//
// Tag options: key (destination-generated surrogate key), natural (part of the
// business identity hashed into KeyHash), type2 (a change historizes the row),
// nullable, control (reserved for the embedded control columns). A tag of "-"
// skips the field. Untagged exported fields map to their snake_case name.
package entity

import "time"

// Row is the base identity of every extracted or loaded record. KeyHash and
// ChangeHash are opaque equality tokens produced by the hash transform.
type Row struct {
	KeyHash    []byte `etl:"key_hash,control"`
	ChangeHash []byte `etl:"change_hash,control"`
	IsDeleted  bool   `etl:"is_deleted,control"`
}

// Header returns the row's control columns.
func (r *Row) Header() *Row { return r }

// Fact is a row loaded with snapshot semantics.
type Fact struct {
	Row
	CreatedAt time.Time `etl:"created_at,control"`
}

// FactHeader returns the fact's control columns.
func (f *Fact) FactHeader() *Fact { return f }

// Dimension is a row with a validity interval. At most one version per KeyHash
// is active with a nil ToDate.
type Dimension struct {
	Row
	IsActive bool       `etl:"is_active,control"`
	FromDate time.Time  `etl:"from_date,control"`
	ToDate   *time.Time `etl:"to_date,control,nullable"`
}

// DimensionHeader returns the dimension's control columns.
func (d *Dimension) DimensionHeader() *Dimension { return d }

// IsCurrent reports whether the version is the active, open-ended one.
func (d *Dimension) IsCurrent() bool { return d.IsActive && d.ToDate == nil }

// Keyed is implemented by pointers to any struct embedding Row.
type Keyed interface {
	Header() *Row
}

// FactRow is implemented by pointers to structs embedding Fact.
type FactRow interface {
	Keyed
	FactHeader() *Fact
}

// DimensionRow is implemented by pointers to structs embedding Dimension.
type DimensionRow interface {
	Keyed
	DimensionHeader() *Dimension
}

// Control identifies a control column of the row model.
type Control int

const (
	ControlNone Control = iota
	ControlKeyHash
	ControlChangeHash
	ControlIsDeleted
	ControlCreatedAt
	ControlIsActive
	ControlFromDate
	ControlToDate
)

var controlColumns = map[string]Control{
	"key_hash":    ControlKeyHash,
	"change_hash": ControlChangeHash,
	"is_deleted":  ControlIsDeleted,
	"created_at":  ControlCreatedAt,
	"is_active":   ControlIsActive,
	"from_date":   ControlFromDate,
	"to_date":     ControlToDate,
}

func (c Control) String() string {
	for name, control := range controlColumns {
		if control == c {
			return name
		}
	}
	return "none"
}
