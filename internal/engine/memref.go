package engine

import (
	"fmt"

	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/runtime"
)

// alloc evaluates memref.alloc (heap) or memref.alloca (stack). Heap
// buffers get an allocation token holding their meminfo.
func (x *exec) alloc(f *frame, op ir.OpID, heap bool) (runtime.MemRef, error) {
	m := x.p.m
	a := ir.AllocOp{M: m, ID: op}
	t := a.Type()
	dyn := a.DynamicSizes()
	shape := make([]int64, t.Rank())
	next := 0
	for i, d := range t.Shape {
		if !ir.IsDynamic(d) {
			shape[i] = d
			continue
		}
		if next >= len(dyn) {
			return runtime.MemRef{}, fmt.Errorf("missing size operand for dimension %d", i)
		}
		v, ok := f.get(dyn[next]).(runtime.Int)
		if !ok || v < 0 {
			return runtime.MemRef{}, fmt.Errorf("bad size %v for dimension %d", f.get(dyn[next]), i)
		}
		shape[i] = int64(v)
		next++
	}

	strides := rowMajor(shape)
	offset := int64(0)
	if t.Layout != nil {
		st, off := t.StridesAndOffset()
		for i, s := range st {
			if !ir.IsDynamic(s) {
				strides[i] = s
			}
		}
		if !ir.IsDynamic(off) {
			offset = off
		}
	}
	size := offset + extent(shape, strides)
	zero := zeroValue(t.Elem)

	mem := runtime.MemRef{Offset: offset, Shape: shape, Strides: strides}
	rt := x.p.rt
	if !heap {
		mem.Data = runtime.Ptr{Cells: rt.StackAlloc(size, zero)}
		return mem, nil
	}
	mi := rt.AllocMemInfo(size, zero)
	mem.Token = rt.CreateAllocToken()
	if err := runtime.Store(mem.Token, runtime.Ptr{Info: mi}); err != nil {
		return runtime.MemRef{}, err
	}
	mem.Data = runtime.Ptr{Cells: mi.Buffer}
	return mem, nil
}

// dealloc releases a heap memref and its allocation token.
func (x *exec) dealloc(v runtime.Value) error {
	mem, ok := v.(runtime.MemRef)
	if !ok {
		return fmt.Errorf("operand is %v", v)
	}
	mi, err := runtime.TokenInfo(mem.Token)
	if err != nil {
		return err
	}
	if mi == nil {
		return fmt.Errorf("dealloc of a buffer without an allocation token")
	}
	if err := x.p.rt.Decref(mi); err != nil {
		return err
	}
	return x.p.rt.DestroyAllocToken(mem.Token)
}

func rowMajor(shape []int64) []int64 {
	strides := make([]int64, len(shape))
	running := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = running
		running *= shape[i]
	}
	return strides
}

// extent returns the number of slots a view with shape and strides spans.
func extent(shape, strides []int64) int64 {
	last := int64(0)
	for i, d := range shape {
		if d == 0 {
			return 0
		}
		last += (d - 1) * strides[i]
	}
	return last + 1
}

// elemPtr addresses element idx of mem, checking every index against the
// shape.
func elemPtr(v runtime.Value, idx []runtime.Value) (runtime.Ptr, error) {
	mem, ok := v.(runtime.MemRef)
	if !ok {
		return runtime.Ptr{}, fmt.Errorf("operand is %v, want memref", v)
	}
	if len(idx) != len(mem.Shape) {
		return runtime.Ptr{}, fmt.Errorf("%d indices for rank %d", len(idx), len(mem.Shape))
	}
	off := mem.Offset
	for i, iv := range idx {
		n, ok := iv.(runtime.Int)
		if !ok {
			return runtime.Ptr{}, fmt.Errorf("index %d is %v", i, iv)
		}
		if n < 0 || int64(n) >= mem.Shape[i] {
			return runtime.Ptr{}, fmt.Errorf("index %d out of bounds for dimension %d of size %d", n, i, mem.Shape[i])
		}
		off += int64(n) * mem.Strides[i]
	}
	return mem.Data.Add(off)
}

func (x *exec) subview(f *frame, op ir.OpID, src runtime.Value) (runtime.Value, error) {
	mem, ok := src.(runtime.MemRef)
	if !ok {
		return nil, fmt.Errorf("operand is %v", src)
	}
	sv := ir.SubviewOp{M: x.p.m, ID: op}
	resolve := func(r ir.OpFoldResult) (int64, error) {
		if !r.Value.IsValid() {
			return r.Static, nil
		}
		n, ok := f.get(r.Value).(runtime.Int)
		if !ok {
			return 0, fmt.Errorf("subview operand is %v", f.get(r.Value))
		}
		return int64(n), nil
	}
	offsets, sizes, strides := sv.Offsets(), sv.Sizes(), sv.Strides()
	if len(offsets) != len(mem.Shape) {
		return nil, fmt.Errorf("%d offsets for rank %d", len(offsets), len(mem.Shape))
	}
	drop := make(map[int64]bool)
	for _, d := range x.p.m.Op(op).Attrs.Ints(ir.AttrDropDims) {
		drop[d] = true
	}
	out := runtime.MemRef{Token: mem.Token, Data: mem.Data, Offset: mem.Offset}
	for i := range offsets {
		o, err := resolve(offsets[i])
		if err != nil {
			return nil, err
		}
		s, err := resolve(sizes[i])
		if err != nil {
			return nil, err
		}
		st, err := resolve(strides[i])
		if err != nil {
			return nil, err
		}
		if o < 0 || s < 0 || (s > 0 && o+(s-1)*st >= mem.Shape[i]) {
			return nil, fmt.Errorf("subview [%d, +%d) by %d exceeds dimension %d of size %d", o, s, st, i, mem.Shape[i])
		}
		out.Offset += o * mem.Strides[i]
		if drop[int64(i)] {
			continue
		}
		out.Shape = append(out.Shape, s)
		out.Strides = append(out.Strides, st*mem.Strides[i])
	}
	return out, nil
}

func memrefFromParts(in []runtime.Value) (runtime.Value, error) {
	token, ok1 := in[0].(runtime.Ptr)
	data, ok2 := in[1].(runtime.Ptr)
	offset, ok3 := in[2].(runtime.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("bad parts %v", in)
	}
	mem := runtime.MemRef{Token: token, Data: data, Offset: int64(offset)}
	if len(in) == 5 {
		var err error
		if mem.Shape, err = aggregateInts(in[3]); err != nil {
			return nil, err
		}
		if mem.Strides, err = aggregateInts(in[4]); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

func intsAggregate(v []int64) runtime.Aggregate {
	out := make(runtime.Aggregate, len(v))
	for i, n := range v {
		out[i] = runtime.Int(n)
	}
	return out
}

func aggregateInts(v runtime.Value) ([]int64, error) {
	agg, ok := v.(runtime.Aggregate)
	if !ok {
		return nil, fmt.Errorf("%v is not an integer array", v)
	}
	out := make([]int64, len(agg))
	for i, f := range agg {
		n, ok := f.(runtime.Int)
		if !ok {
			return nil, fmt.Errorf("%v is not an integer array", v)
		}
		out[i] = int64(n)
	}
	return out, nil
}

// gep evaluates ptr.gep: the first index moves between slots (Dynamic
// takes the second operand), the rest is a field path.
func gep(o *ir.Op, in []runtime.Value) (runtime.Ptr, error) {
	base, ok := in[0].(runtime.Ptr)
	if !ok {
		return runtime.Ptr{}, fmt.Errorf("base is %v", in[0])
	}
	indices := o.Attrs.Ints(ir.AttrIndices)
	if len(indices) == 0 {
		return base, nil
	}
	first := indices[0]
	if ir.IsDynamic(first) {
		if len(in) < 2 {
			return runtime.Ptr{}, fmt.Errorf("missing dynamic index")
		}
		n, ok := in[1].(runtime.Int)
		if !ok {
			return runtime.Ptr{}, fmt.Errorf("dynamic index is %v", in[1])
		}
		first = int64(n)
	}
	p, err := base.Add(first)
	if err != nil {
		return runtime.Ptr{}, err
	}
	if len(indices) > 1 {
		p = p.Field(indices[1:]...)
	}
	return p, nil
}
