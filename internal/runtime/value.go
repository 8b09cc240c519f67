// Package runtime is the threading and allocation-tracking library that
// lowered modules call by symbol name.
//
// The execution engine evaluates lowered IR over the value model defined
// here. Memory is a set of slot buffers (Cells); pointers address one slot
// plus an optional field path into the aggregate stored in it.
package runtime

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a run-time value. The set of implementations is closed.
type Value interface {
	isValue()
	String() string
}

// Int is an integer or index value. Integers narrower than 64 bits are
// kept sign-extended.
type Int int64

// Float is a floating point value. f32 values are rounded on production.
type Float float64

// Aggregate is a struct or array value. Aggregates have value semantics:
// With returns a modified copy and never mutates the receiver.
type Aggregate []Value

// FuncRef is the address of a module function.
type FuncRef string

// Ptr addresses slot Index of Cells, then Path into the aggregate stored
// there. A pointer with neither Cells nor Info is null. Info is set on
// meminfo handles, which are not dereferenceable.
type Ptr struct {
	Cells *Cells
	Index int64
	Path  []int64
	Info  *MemInfo
}

// MemRef is a strided view of a buffer. Offset, Shape and Strides are in
// elements; element (i, j, ...) lives at Data.Index + Offset + i*s0 + j*s1.
type MemRef struct {
	Token   Ptr
	Data    Ptr
	Offset  int64
	Shape   []int64
	Strides []int64
}

func (Int) isValue()       {}
func (Float) isValue()     {}
func (Aggregate) isValue() {}
func (FuncRef) isValue()   {}
func (Ptr) isValue()       {}
func (MemRef) isValue()    {}

func (v Int) String() string   { return strconv.FormatInt(int64(v), 10) }
func (v Float) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }

func (v Aggregate) String() string {
	parts := make([]string, len(v))
	for i, f := range v {
		if f == nil {
			parts[i] = "undef"
			continue
		}
		parts[i] = f.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (v FuncRef) String() string { return "@" + string(v) }

func (p Ptr) String() string {
	switch {
	case p.Info != nil:
		return "meminfo"
	case p.IsNull():
		return "null"
	}
	return fmt.Sprintf("ptr[%d]%v", p.Index, p.Path)
}

func (m MemRef) String() string {
	return fmt.Sprintf("memref<%v offset=%d strides=%v>", m.Shape, m.Offset, m.Strides)
}

// IsNull reports whether p addresses nothing.
func (p Ptr) IsNull() bool { return p.Cells == nil && p.Info == nil }

// Add returns p advanced by n slots. Only slot-level pointers can be
// advanced.
func (p Ptr) Add(n int64) (Ptr, error) {
	if p.IsNull() || p.Info != nil {
		return Ptr{}, fmt.Errorf("pointer arithmetic on %s", p)
	}
	if n == 0 {
		return p, nil
	}
	if len(p.Path) > 0 {
		return Ptr{}, fmt.Errorf("pointer arithmetic inside an aggregate")
	}
	return Ptr{Cells: p.Cells, Index: p.Index + n}, nil
}

// Field returns a pointer to the field at path below p.
func (p Ptr) Field(path ...int64) Ptr {
	out := p
	out.Path = append(append([]int64(nil), p.Path...), path...)
	return out
}

// At returns the field at pos. Missing fields read as nil.
func (a Aggregate) At(pos ...int64) (Value, error) {
	var v Value = a
	for _, i := range pos {
		agg, ok := v.(Aggregate)
		if !ok {
			return nil, fmt.Errorf("extract position %v from non-aggregate %v", pos, v)
		}
		if i < 0 || i >= int64(len(agg)) {
			return nil, fmt.Errorf("extract position %d out of range [0, %d)", i, len(agg))
		}
		v = agg[i]
	}
	return v, nil
}

// With returns a copy of a with the field at pos replaced by v.
func (a Aggregate) With(v Value, pos ...int64) (Aggregate, error) {
	if len(pos) == 0 {
		agg, ok := v.(Aggregate)
		if !ok {
			return nil, fmt.Errorf("insert of %v at empty position", v)
		}
		return agg, nil
	}
	i := pos[0]
	if i < 0 || i >= int64(len(a)) {
		return nil, fmt.Errorf("insert position %d out of range [0, %d)", i, len(a))
	}
	out := append(Aggregate(nil), a...)
	if len(pos) == 1 {
		out[i] = v
		return out, nil
	}
	inner, ok := out[i].(Aggregate)
	if !ok {
		return nil, fmt.Errorf("insert position %v crosses non-aggregate", pos)
	}
	nested, err := inner.With(v, pos[1:]...)
	if err != nil {
		return nil, err
	}
	out[i] = nested
	return out, nil
}

// Copy returns v with every nested aggregate duplicated.
func Copy(v Value) Value {
	agg, ok := v.(Aggregate)
	if !ok {
		return v
	}
	out := make(Aggregate, len(agg))
	for i, f := range agg {
		out[i] = Copy(f)
	}
	return out
}
