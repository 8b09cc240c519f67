package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/runtime"
)

// Array is a host-side strided array passed to or returned from compiled
// code. Strides and Offset are in elements; Offset indexes the backing
// buffer.
type Array struct {
	Elem    *ir.Type
	Shape   []int64
	Strides []int64
	Offset  int64

	data *runtime.Cells
	info *runtime.MemInfo
	rt   *runtime.Runtime
}

// NewArray returns a zeroed contiguous array owned by the caller.
func NewArray(elem *ir.Type, shape ...int64) *Array {
	shape = append([]int64(nil), shape...)
	strides := rowMajor(shape)
	cells := runtime.NewCells(extent(shape, strides), zeroValue(elem))
	return &Array{
		Elem:    elem,
		Shape:   shape,
		Strides: strides,
		data:    cells,
		info:    runtime.NewMemInfo(cells),
	}
}

// Float64s returns a 1-D f64 array holding vals.
func Float64s(vals ...float64) *Array {
	a := NewArray(ir.Float(64), int64(len(vals)))
	for i, v := range vals {
		a.mustSet(runtime.Float(v), int64(i))
	}
	return a
}

// Int64s returns a 1-D i64 array holding vals.
func Int64s(vals ...int64) *Array {
	a := NewArray(ir.Int(64), int64(len(vals)))
	for i, v := range vals {
		a.mustSet(runtime.Int(v), int64(i))
	}
	return a
}

func (a *Array) mustSet(v runtime.Value, idx ...int64) {
	if err := a.Set(v, idx...); err != nil {
		panic(err)
	}
}

// Len returns the number of elements.
func (a *Array) Len() int64 {
	n := int64(1)
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

func (a *Array) ptr(idx []int64) (runtime.Ptr, error) {
	vals := make([]runtime.Value, len(idx))
	for i, n := range idx {
		vals[i] = runtime.Int(n)
	}
	return elemPtr(a.memref(runtime.Ptr{}), vals)
}

// At returns the element at idx.
func (a *Array) At(idx ...int64) (runtime.Value, error) {
	p, err := a.ptr(idx)
	if err != nil {
		return nil, err
	}
	return runtime.Load(p)
}

// Set stores v at idx.
func (a *Array) Set(v runtime.Value, idx ...int64) error {
	p, err := a.ptr(idx)
	if err != nil {
		return err
	}
	return runtime.Store(p, v)
}

// Values returns every element in row-major order.
func (a *Array) Values() []runtime.Value {
	out := make([]runtime.Value, 0, a.Len())
	idx := make([]int64, len(a.Shape))
	var walk func(d int)
	walk = func(d int) {
		if d == len(a.Shape) {
			v, err := a.At(idx...)
			if err != nil {
				panic(err)
			}
			out = append(out, v)
			return
		}
		for i := int64(0); i < a.Shape[d]; i++ {
			idx[d] = i
			walk(d + 1)
		}
	}
	walk(0)
	return out
}

// Float64Values returns every element as float64 in row-major order.
func (a *Array) Float64Values() []float64 {
	vals := a.Values()
	out := make([]float64, len(vals))
	for i, v := range vals {
		switch v := v.(type) {
		case runtime.Float:
			out[i] = float64(v)
		case runtime.Int:
			out[i] = float64(v)
		}
	}
	return out
}

// Int64Values returns every element as int64 in row-major order.
func (a *Array) Int64Values() []int64 {
	vals := a.Values()
	out := make([]int64, len(vals))
	for i, v := range vals {
		switch v := v.(type) {
		case runtime.Int:
			out[i] = int64(v)
		case runtime.Float:
			out[i] = int64(v)
		}
	}
	return out
}

// Release drops the reference an array returned by compiled code holds on
// its buffer. It is a no-op for arrays created with NewArray.
func (a *Array) Release() error {
	if a.rt == nil || a.info == nil {
		return nil
	}
	info := a.info
	a.info = nil
	return a.rt.Decref(info)
}

func (a *Array) String() string {
	parts := make([]string, 0, a.Len())
	for _, v := range a.Values() {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("%v[%s]", a.Shape, strings.Join(parts, " "))
}

// memref views the array as a run-time memref with the given token.
func (a *Array) memref(token runtime.Ptr) runtime.MemRef {
	return runtime.MemRef{
		Token:   token,
		Data:    runtime.Ptr{Cells: a.data},
		Offset:  a.Offset,
		Shape:   append([]int64(nil), a.Shape...),
		Strides: append([]int64(nil), a.Strides...),
	}
}

// descriptor returns the flattened array descriptor fields for a: meminfo,
// parent, nitems, itemsize, data, then shape and byte strides.
func (a *Array) descriptor() []runtime.Value {
	itemsize := a.Elem.ByteSize()
	out := []runtime.Value{
		runtime.Ptr{Info: a.info},
		runtime.Ptr{},
		runtime.Int(a.Len()),
		runtime.Int(itemsize),
		runtime.Ptr{Cells: a.data, Index: a.Offset},
	}
	for _, d := range a.Shape {
		out = append(out, runtime.Int(d))
	}
	for _, s := range a.Strides {
		out = append(out, runtime.Int(s*itemsize))
	}
	return out
}

// arrayFromDescriptor decodes an array descriptor produced by a
// from-memref thunk.
func arrayFromDescriptor(t *ir.Type, v runtime.Value, rt *runtime.Runtime) (*Array, error) {
	agg, ok := v.(runtime.Aggregate)
	if !ok || len(agg) < 5 {
		return nil, fmt.Errorf("array descriptor is %v", v)
	}
	info, _ := agg[0].(runtime.Ptr)
	data, ok := agg[4].(runtime.Ptr)
	if !ok || data.Cells == nil {
		return nil, fmt.Errorf("array descriptor has no data")
	}
	itemsize := t.Elem.ByteSize()
	a := &Array{Elem: t.Elem, Offset: data.Index, data: data.Cells, info: info.Info, rt: rt}
	if t.Rank() > 0 {
		if len(agg) != 7 {
			return nil, fmt.Errorf("rank %d descriptor has %d fields", t.Rank(), len(agg))
		}
		var err error
		if a.Shape, err = aggregateInts(agg[5]); err != nil {
			return nil, err
		}
		bytes, err := aggregateInts(agg[6])
		if err != nil {
			return nil, err
		}
		a.Strides = make([]int64, len(bytes))
		for i, b := range bytes {
			a.Strides[i] = b / itemsize
		}
	}
	return a, nil
}

// arrayFromMemRef wraps a memref returned by an internal-convention call.
func arrayFromMemRef(t *ir.Type, mem runtime.MemRef, rt *runtime.Runtime) (*Array, error) {
	base, err := mem.Data.Add(mem.Offset)
	if err != nil {
		return nil, err
	}
	info, err := runtime.TokenInfo(mem.Token)
	if err != nil {
		return nil, err
	}
	return &Array{
		Elem:    t.Elem,
		Shape:   append([]int64(nil), mem.Shape...),
		Strides: append([]int64(nil), mem.Strides...),
		Offset:  base.Index,
		data:    base.Cells,
		info:    info,
		rt:      rt,
	}, nil
}
