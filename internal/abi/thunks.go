package abi

import (
	"fmt"

	"github.com/roach88/parlower/internal/ir"
)

// Thunk name prefixes. The full name appends the shape class, so there is
// one thunk per rank and element type in a module.
const (
	ToMemrefPrefix   = "__convert_to_memref_"
	FromMemrefPrefix = "__convert_from_memref_"
)

// Runtime allocation token entry points used by the thunks.
const (
	CreateAllocTokenSymbol  = "nmrtCreateAllocToken"
	DestroyAllocTokenSymbol = "nmrtDestroyAllocToken"
)

// GenericMemRef returns the memref type every thunk of t's shape class
// produces or consumes: dynamic shape with a fully dynamic layout.
func GenericMemRef(t *ir.Type) *ir.Type {
	shape := make([]int64, t.Rank())
	for i := range shape {
		shape[i] = ir.Dynamic
	}
	return ir.MemRef(shape, t.Elem).FullyDynamicLayout()
}

// thunks creates conversion functions on demand. The module symbol table
// is the memo: an existing thunk is reused after a type check.
type thunks struct {
	m *ir.Module
	b *ir.Builder
}

func newThunks(m *ir.Module) *thunks {
	return &thunks{m: m, b: ir.NewBuilder(m)}
}

// lookup returns true when name exists with type want.
func (th *thunks) lookup(name string, want *ir.Type) (bool, error) {
	op := th.m.Symbols().Lookup(name)
	if !op.IsValid() {
		return false, nil
	}
	if got := ir.AsFunc(th.m, op).Type(); !got.Equal(want) {
		return false, fmt.Errorf("thunk @%s exists with type %s, want %s", name, got, want)
	}
	return true, nil
}

func (th *thunks) declareDestroy() error {
	_, err := th.b.LookupOrDeclare(DestroyAllocTokenSymbol, ir.Func([]*ir.Type{ir.Ptr()}, nil))
	return err
}

func (th *thunks) create(name string, fnType *ir.Type) (ir.FuncOp, error) {
	op, err := th.b.CreateFunc(name, fnType, true)
	if err != nil {
		return ir.FuncOp{}, err
	}
	f := ir.AsFunc(th.m, op)
	f.Attrs()[ir.AttrPassthrough] = ir.ArrayAttr{ir.StringAttr("alwaysinline")}
	th.b.SetInsertionPointToEnd(f.Entry())
	return f, nil
}

// toMemref returns the thunk converting an array descriptor of t's shape
// class into a memref, and the memref type it returns.
func (th *thunks) toMemref(t *ir.Type) (string, *ir.Type, error) {
	name := ToMemrefPrefix + thunkSuffix(t)
	desc := ArrayType(t)
	generic := GenericMemRef(t)
	fnType := ir.Func([]*ir.Type{desc}, []*ir.Type{generic})
	if ok, err := th.lookup(name, fnType); ok || err != nil {
		return name, generic, err
	}
	if _, err := th.b.LookupOrDeclare(CreateAllocTokenSymbol, ir.Func(nil, []*ir.Type{ir.Ptr()})); err != nil {
		return "", nil, err
	}
	f, err := th.create(name, fnType)
	if err != nil {
		return "", nil, err
	}
	b := th.b
	i64 := ir.Int(64)
	arg := f.Args()[0]
	meminfo := b.StructExtract(arg, ir.Ptr(), FieldMemInfo)
	data := b.StructExtract(arg, ir.Ptr(), FieldData)
	var shape, strides ir.ValueID
	if r := t.Rank(); r > 0 {
		shape = b.StructExtract(arg, ir.Array(r, i64), FieldShape)
		strides = b.StructExtract(arg, ir.Array(r, i64), FieldStrides)
		strides = scaleStrides(b, strides, r, b.ConstantInt(t.Elem.ByteSize(), i64), ir.KindDivSI)
	}
	token := b.Call(CreateAllocTokenSymbol, []*ir.Type{ir.Ptr()})[0]
	b.PtrStore(meminfo, token)
	offset := b.ConstantInt(0, i64)
	b.Return(b.MemrefFromParts(generic, token, data, offset, shape, strides))
	return name, generic, nil
}

// fromMemref returns the thunk converting a memref of t's shape class
// into an array descriptor, and the memref type it accepts.
func (th *thunks) fromMemref(t *ir.Type) (string, *ir.Type, error) {
	name := FromMemrefPrefix + thunkSuffix(t)
	desc := ArrayType(t)
	generic := GenericMemRef(t)
	fnType := ir.Func([]*ir.Type{generic}, []*ir.Type{desc})
	if ok, err := th.lookup(name, fnType); ok || err != nil {
		return name, generic, err
	}
	if err := th.declareDestroy(); err != nil {
		return "", nil, err
	}
	f, err := th.create(name, fnType)
	if err != nil {
		return "", nil, err
	}
	b := th.b
	i64 := ir.Int(64)
	r := t.Rank()
	parts := b.MemrefToParts(f.Args()[0])
	token, data, offset := parts[0], parts[1], parts[2]

	meminfo := b.PtrLoad(token, ir.Ptr())
	b.Call(DestroyAllocTokenSymbol, nil, token)
	ptr := b.GEP(data, t.Elem, []int64{ir.Dynamic}, offset)
	nitems := b.ConstantInt(1, i64)
	for i := 0; i < r; i++ {
		nitems = b.Binary(ir.KindMulI, nitems, b.StructExtract(parts[3], i64, int64(i)))
	}
	itemsize := b.ConstantInt(t.Elem.ByteSize(), i64)

	res := b.StructUndef(desc)
	res = b.StructInsert(res, meminfo, FieldMemInfo)
	res = b.StructInsert(res, b.Zero(ir.Ptr()), FieldParent)
	res = b.StructInsert(res, nitems, FieldNItems)
	res = b.StructInsert(res, itemsize, FieldItemSize)
	res = b.StructInsert(res, ptr, FieldData)
	if r > 0 {
		res = b.StructInsert(res, parts[3], FieldShape)
		res = b.StructInsert(res, scaleStrides(b, parts[4], r, itemsize, ir.KindMulI), FieldStrides)
	}
	b.Return(res)
	return name, generic, nil
}

// scaleStrides applies kind (divsi or muli) with factor to each of the r
// strides, converting between byte and element strides.
func scaleStrides(b *ir.Builder, strides ir.ValueID, r int, factor ir.ValueID, kind ir.Kind) ir.ValueID {
	i64 := ir.Int(64)
	out := b.StructUndef(ir.Array(r, i64))
	for i := 0; i < r; i++ {
		s := b.StructExtract(strides, i64, int64(i))
		out = b.StructInsert(out, b.Binary(kind, s, factor), int64(i))
	}
	return out
}
