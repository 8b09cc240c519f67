package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Attr is a sealed interface for constant operation metadata.
// Only the attribute types in this file implement it.
type Attr interface {
	attr() // Sealed
	String() string
}

// IntAttr is an integer constant with its type.
type IntAttr struct {
	Value int64
	Type  *Type
}

func (IntAttr) attr() {}

func (a IntAttr) String() string {
	if a.Type == nil {
		return strconv.FormatInt(a.Value, 10)
	}
	return fmt.Sprintf("%d : %s", a.Value, a.Type)
}

// FloatAttr is a floating-point constant with its type.
type FloatAttr struct {
	Value float64
	Type  *Type
}

func (FloatAttr) attr() {}

func (a FloatAttr) String() string {
	s := strconv.FormatFloat(a.Value, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	if a.Type == nil {
		return s
	}
	return fmt.Sprintf("%s : %s", s, a.Type)
}

// StringAttr is a string constant.
type StringAttr string

func (StringAttr) attr() {}

func (a StringAttr) String() string { return strconv.Quote(string(a)) }

// BoolAttr is a boolean flag.
type BoolAttr bool

func (BoolAttr) attr() {}

func (a BoolAttr) String() string { return strconv.FormatBool(bool(a)) }

// TypeAttr wraps a type.
type TypeAttr struct{ Type *Type }

func (TypeAttr) attr() {}

func (a TypeAttr) String() string { return a.Type.String() }

// SymbolRefAttr names a module-level symbol.
type SymbolRefAttr string

func (SymbolRefAttr) attr() {}

func (a SymbolRefAttr) String() string { return "@" + string(a) }

// ArrayAttr is an ordered list of attributes.
type ArrayAttr []Attr

func (ArrayAttr) attr() {}

func (a ArrayAttr) String() string {
	parts := make([]string, len(a))
	for i, e := range a {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// DenseIntsAttr is a list of integers; Dynamic entries print as "?".
type DenseIntsAttr []int64

func (DenseIntsAttr) attr() {}

func (a DenseIntsAttr) String() string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = dimString(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// UnitAttr marks presence only.
type UnitAttr struct{}

func (UnitAttr) attr() {}

func (UnitAttr) String() string { return "unit" }

// Well-known attribute names.
const (
	AttrSymName        = "sym_name"
	AttrFunctionType   = "function_type"
	AttrVisibility     = "sym_visibility"
	AttrMaxConcurrency = "max_concurrency"
	AttrFastmath       = "fastmath"
	AttrPassthrough    = "passthrough"
	AttrCallee         = "callee"
	AttrValue          = "value"
	AttrPredicate      = "predicate"
	AttrEnvironment    = "environment"
	AttrStaticOffsets  = "static_offsets"
	AttrStaticSizes    = "static_sizes"
	AttrStaticStrides  = "static_strides"
	AttrDropDims       = "drop_dims"
	AttrElemType       = "elem_type"
	AttrCount          = "count"
	AttrIndices        = "indices"
	AttrPosition       = "position"
	AttrOriginalType   = "abi.original_type"
	AttrTargetFeatures = "target_features"
	AttrTargetCPU      = "target_cpu"
	AttrSegments       = "operand_segments"
	AttrIndexWidth     = "dlti.index_bitwidth"
)

// Visibility values for AttrVisibility.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// EnvParallel is the environment tag that marks an env_region as code the
// front end designated parallel.
const EnvParallel = "parallel"

// Attrs maps attribute names to values.
type Attrs map[string]Attr

// Clone returns a shallow copy; attribute values are immutable.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	c := make(Attrs, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// SortedKeys returns attribute names in lexical order.
func (a Attrs) SortedKeys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Int returns an integer attribute value.
func (a Attrs) Int(name string) (int64, bool) {
	if v, ok := a[name].(IntAttr); ok {
		return v.Value, true
	}
	return 0, false
}

// Str returns a string attribute value.
func (a Attrs) Str(name string) (string, bool) {
	if v, ok := a[name].(StringAttr); ok {
		return string(v), true
	}
	return "", false
}

// Symbol returns a symbol reference attribute value.
func (a Attrs) Symbol(name string) (string, bool) {
	if v, ok := a[name].(SymbolRefAttr); ok {
		return string(v), true
	}
	return "", false
}

// TypeOf returns a type attribute value.
func (a Attrs) TypeOf(name string) *Type {
	if v, ok := a[name].(TypeAttr); ok {
		return v.Type
	}
	return nil
}

// Ints returns a dense integer list attribute value.
func (a Attrs) Ints(name string) []int64 {
	if v, ok := a[name].(DenseIntsAttr); ok {
		return []int64(v)
	}
	return nil
}

// Has reports whether name is set.
func (a Attrs) Has(name string) bool {
	_, ok := a[name]
	return ok
}
