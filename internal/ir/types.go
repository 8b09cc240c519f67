package ir

import (
	"fmt"
	"math"
	"strings"
)

// TypeKind discriminates the closed set of IR types.
type TypeKind uint8

const (
	TypeInvalid TypeKind = iota
	TypeIndex
	TypeInt
	TypeFloat
	TypeNone
	TypePtr
	TypeStruct
	TypeArray
	TypeFunc
	TypeMemRef
	TypeOpaque
)

// Signedness of an integer type. Signless integers are what arithmetic
// operates on; signed and unsigned integers only appear at the boundary
// between front-end types and arithmetic, joined by sign casts.
type Signedness uint8

const (
	Signless Signedness = iota
	Signed
	Unsigned
)

// Dynamic marks a shape dimension, stride or offset that is only known at
// run time.
const Dynamic int64 = math.MinInt64

// IsDynamic reports whether v is the Dynamic sentinel.
func IsDynamic(v int64) bool { return v == Dynamic }

// Layout is an explicit strided memref layout. A memref without a Layout is
// contiguous row-major with offset 0.
type Layout struct {
	Offset  int64
	Strides []int64
}

// Type is an immutable IR type. Types are compared structurally with Equal;
// never mutate a Type after construction.
type Type struct {
	Kind    TypeKind
	Width   int        // bit width for ints and floats, length for arrays
	Sign    Signedness // ints only
	Elem    *Type      // memref and array element
	Shape   []int64    // memref dimensions
	Layout  *Layout    // memref; nil means identity
	Fields  []*Type    // struct fields
	Inputs  []*Type    // function inputs
	Results []*Type    // function results
	Name    string     // opaque type name
}

// Index returns the machine index type.
func Index() *Type { return &Type{Kind: TypeIndex} }

// Int returns a signless integer type of the given width.
func Int(width int) *Type { return &Type{Kind: TypeInt, Width: width} }

// SInt returns a signed integer type of the given width.
func SInt(width int) *Type { return &Type{Kind: TypeInt, Width: width, Sign: Signed} }

// UInt returns an unsigned integer type of the given width.
func UInt(width int) *Type { return &Type{Kind: TypeInt, Width: width, Sign: Unsigned} }

// Float returns a float type of the given width (32 or 64).
func Float(width int) *Type { return &Type{Kind: TypeFloat, Width: width} }

// None returns the unit type.
func None() *Type { return &Type{Kind: TypeNone} }

// Ptr returns the opaque pointer type.
func Ptr() *Type { return &Type{Kind: TypePtr} }

// Struct returns an anonymous aggregate of fields.
func Struct(fields ...*Type) *Type {
	return &Type{Kind: TypeStruct, Fields: append([]*Type(nil), fields...)}
}

// Array returns a fixed-length homogeneous aggregate.
func Array(n int, elem *Type) *Type { return &Type{Kind: TypeArray, Width: n, Elem: elem} }

// Func returns a function type.
func Func(inputs, results []*Type) *Type {
	return &Type{
		Kind:    TypeFunc,
		Inputs:  append([]*Type(nil), inputs...),
		Results: append([]*Type(nil), results...),
	}
}

// MemRef returns a memref type with identity layout.
func MemRef(shape []int64, elem *Type) *Type {
	return &Type{Kind: TypeMemRef, Shape: append([]int64(nil), shape...), Elem: elem}
}

// StridedMemRef returns a memref type with an explicit strided layout.
func StridedMemRef(shape []int64, elem *Type, offset int64, strides []int64) *Type {
	return &Type{
		Kind:   TypeMemRef,
		Shape:  append([]int64(nil), shape...),
		Elem:   elem,
		Layout: &Layout{Offset: offset, Strides: append([]int64(nil), strides...)},
	}
}

// Opaque returns a named type that no lowering can convert.
func Opaque(name string) *Type { return &Type{Kind: TypeOpaque, Name: name} }

func (t *Type) IsIndex() bool  { return t != nil && t.Kind == TypeIndex }
func (t *Type) IsInt() bool    { return t != nil && t.Kind == TypeInt }
func (t *Type) IsFloat() bool  { return t != nil && t.Kind == TypeFloat }
func (t *Type) IsPtr() bool    { return t != nil && t.Kind == TypePtr }
func (t *Type) IsMemRef() bool { return t != nil && t.Kind == TypeMemRef }
func (t *Type) IsNone() bool   { return t != nil && t.Kind == TypeNone }

// IsIntOrFloat reports whether t is a scalar integer or float type.
func (t *Type) IsIntOrFloat() bool { return t.IsInt() || t.IsFloat() }

// IsScalar reports whether t is an index, integer or float.
func (t *Type) IsScalar() bool { return t.IsIndex() || t.IsIntOrFloat() }

// ContainsOpaque reports whether t is or nests an opaque type. Such
// values have no lowered representation.
func (t *Type) ContainsOpaque() bool {
	switch t.Kind {
	case TypeOpaque:
		return true
	case TypeStruct:
		for _, f := range t.Fields {
			if f.ContainsOpaque() {
				return true
			}
		}
	case TypeArray, TypeMemRef:
		return t.Elem.ContainsOpaque()
	case TypeFunc:
		for _, f := range append(append([]*Type(nil), t.Inputs...), t.Results...) {
			if f.ContainsOpaque() {
				return true
			}
		}
	}
	return false
}

// Rank returns the number of memref dimensions.
func (t *Type) Rank() int { return len(t.Shape) }

// HasStaticShape reports whether every memref dimension is known.
func (t *Type) HasStaticShape() bool {
	for _, d := range t.Shape {
		if IsDynamic(d) {
			return false
		}
	}
	return true
}

// NumElements returns the static element count of a memref, or Dynamic.
func (t *Type) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		if IsDynamic(d) {
			return Dynamic
		}
		n *= d
	}
	return n
}

// ByteSize returns the storage size of a scalar in bytes.
func (t *Type) ByteSize() int64 {
	switch t.Kind {
	case TypeIndex, TypePtr:
		return 8
	case TypeInt, TypeFloat:
		if t.Width < 8 {
			return 1
		}
		return int64(t.Width / 8)
	default:
		return 0
	}
}

// StridesAndOffset returns the layout of a memref. Identity layouts yield
// row-major strides; a stride after a dynamic dimension is Dynamic.
func (t *Type) StridesAndOffset() ([]int64, int64) {
	if t.Layout != nil {
		return append([]int64(nil), t.Layout.Strides...), t.Layout.Offset
	}
	strides := make([]int64, len(t.Shape))
	running := int64(1)
	for i := len(t.Shape) - 1; i >= 0; i-- {
		strides[i] = running
		if IsDynamic(running) || IsDynamic(t.Shape[i]) {
			running = Dynamic
		} else {
			running *= t.Shape[i]
		}
	}
	return strides, 0
}

// IsIdentityLayout reports whether a memref's layout is contiguous
// row-major with zero offset, explicit or not.
func (t *Type) IsIdentityLayout() bool {
	if t.Layout == nil {
		return true
	}
	canon := MemRef(t.Shape, t.Elem)
	strides, offset := canon.StridesAndOffset()
	if t.Layout.Offset != offset || len(strides) != len(t.Layout.Strides) {
		return false
	}
	for i := range strides {
		if strides[i] != t.Layout.Strides[i] {
			return false
		}
	}
	return true
}

// WithElem returns a copy of a memref type with a different element type.
func (t *Type) WithElem(elem *Type) *Type {
	c := *t
	c.Elem = elem
	return &c
}

// WithLayout returns a copy of a memref type with a different layout.
func (t *Type) WithLayout(l *Layout) *Type {
	c := *t
	if l != nil {
		c.Layout = &Layout{Offset: l.Offset, Strides: append([]int64(nil), l.Strides...)}
	} else {
		c.Layout = nil
	}
	return &c
}

// WithShape returns a copy of a memref type with a different shape.
func (t *Type) WithShape(shape []int64) *Type {
	c := *t
	c.Shape = append([]int64(nil), shape...)
	return &c
}

// FullyDynamicLayout returns t with offset and every stride dynamic.
func (t *Type) FullyDynamicLayout() *Type {
	strides := make([]int64, len(t.Shape))
	for i := range strides {
		strides[i] = Dynamic
	}
	return t.WithLayout(&Layout{Offset: Dynamic, Strides: strides})
}

// Equal reports structural equality. Signedness is significant.
func (t *Type) Equal(u *Type) bool {
	if t == u {
		return true
	}
	if t == nil || u == nil {
		return false
	}
	return t.String() == u.String()
}

// TypesEqual compares two type lists element-wise.
func TypesEqual(a, b []*Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func (t *Type) String() string {
	if t == nil {
		return "<<null type>>"
	}
	switch t.Kind {
	case TypeIndex:
		return "index"
	case TypeInt:
		switch t.Sign {
		case Signed:
			return fmt.Sprintf("si%d", t.Width)
		case Unsigned:
			return fmt.Sprintf("ui%d", t.Width)
		}
		return fmt.Sprintf("i%d", t.Width)
	case TypeFloat:
		return fmt.Sprintf("f%d", t.Width)
	case TypeNone:
		return "none"
	case TypePtr:
		return "ptr"
	case TypeStruct:
		return "struct<" + joinTypes(t.Fields) + ">"
	case TypeArray:
		return fmt.Sprintf("array<%d x %s>", t.Width, t.Elem)
	case TypeFunc:
		res := joinTypes(t.Results)
		return "(" + joinTypes(t.Inputs) + ") -> (" + res + ")"
	case TypeMemRef:
		var sb strings.Builder
		sb.WriteString("memref<")
		for _, d := range t.Shape {
			sb.WriteString(dimString(d))
			sb.WriteString("x")
		}
		sb.WriteString(t.Elem.String())
		if t.Layout != nil {
			sb.WriteString(", strided<[")
			for i, s := range t.Layout.Strides {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(dimString(s))
			}
			sb.WriteString("], offset: ")
			sb.WriteString(dimString(t.Layout.Offset))
			sb.WriteString(">")
		}
		sb.WriteString(">")
		return sb.String()
	case TypeOpaque:
		return fmt.Sprintf("!opaque<%q>", t.Name)
	default:
		return "<<invalid type>>"
	}
}

func dimString(d int64) string {
	if IsDynamic(d) {
		return "?"
	}
	return fmt.Sprintf("%d", d)
}

func joinTypes(ts []*Type) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// CastCompatible reports whether a memref.cast between a and b is legal:
// same element type and rank, and every dimension, stride and offset
// either equal or dynamic on one side.
func CastCompatible(a, b *Type) bool {
	if !a.IsMemRef() || !b.IsMemRef() {
		return false
	}
	if !a.Elem.Equal(b.Elem) || a.Rank() != b.Rank() {
		return false
	}
	for i := range a.Shape {
		if !compatibleDim(a.Shape[i], b.Shape[i]) {
			return false
		}
	}
	as, ao := a.StridesAndOffset()
	bs, bo := b.StridesAndOffset()
	if !compatibleDim(ao, bo) {
		return false
	}
	for i := range as {
		if !compatibleDim(as[i], bs[i]) {
			return false
		}
	}
	return true
}

func compatibleDim(a, b int64) bool {
	return a == b || IsDynamic(a) || IsDynamic(b)
}

// CanTransformLayoutCast reports whether a layout change from src to dst
// can be expressed as a plain memref.cast: every static stride and offset
// of dst must match src, and dst may only be more dynamic than src.
func CanTransformLayoutCast(src, dst *Type) bool {
	if !CastCompatible(src, dst) {
		return false
	}
	ss, so := src.StridesAndOffset()
	ds, do := dst.StridesAndOffset()
	if !strideCompatible(so, do) {
		return false
	}
	for i := range ss {
		if !strideCompatible(ss[i], ds[i]) {
			return false
		}
	}
	return true
}

func strideCompatible(src, dst int64) bool {
	switch {
	case !IsDynamic(src) && !IsDynamic(dst):
		return src == dst
	case !IsDynamic(src):
		return true
	case !IsDynamic(dst):
		return false
	default:
		return true
	}
}

// SubviewType infers the result type of a subview of src with the given
// static offsets, sizes and strides (Dynamic entries are run-time values).
// When dropLeadingUnit is set, leading unit dimensions are rank-reduced.
func SubviewType(src *Type, offsets, sizes, strides []int64, dropUnit []bool) *Type {
	srcStrides, srcOffset := src.StridesAndOffset()
	offset := srcOffset
	for i, o := range offsets {
		if IsDynamic(offset) || IsDynamic(o) || IsDynamic(srcStrides[i]) {
			offset = Dynamic
			continue
		}
		offset += o * srcStrides[i]
	}
	var shape, newStrides []int64
	for i := range sizes {
		if dropUnit != nil && dropUnit[i] {
			continue
		}
		shape = append(shape, sizes[i])
		st := srcStrides[i]
		if IsDynamic(st) || IsDynamic(strides[i]) {
			newStrides = append(newStrides, Dynamic)
		} else {
			newStrides = append(newStrides, st*strides[i])
		}
	}
	return StridedMemRef(shape, src.Elem, offset, newStrides)
}

// IntegerLike reports whether t is an index or integer of any signedness.
func (t *Type) IntegerLike() bool { return t.IsIndex() || t.IsInt() }

// Signless returns the signless variant of an integer type, or t itself.
func (t *Type) Signless() *Type {
	if t.IsInt() && t.Sign != Signless {
		return Int(t.Width)
	}
	return t
}
