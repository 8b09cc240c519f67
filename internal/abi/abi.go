// Package abi rewrites function boundaries to the flat calling convention
// used by the execution engine.
//
// Every externally visible function with a body is rewritten to
//
//	(ret ptr, exc ptr, flattened params...) -> i32
//
// Memref parameters arrive as the flattened fields of an array descriptor
// and are converted back into memrefs by a generated thunk. Returned
// values are stored through the ret pointer, memrefs after conversion to
// an array descriptor, and the function returns status 0. The original
// signature is kept in the abi.original_type attribute so callers can
// pack arguments and decode results.
package abi

import (
	"fmt"

	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

// FuncPassName is the registered name of the function ABI pass.
const FuncPassName = "fix-func-abi"

// StatusOK is the status code returned by a successful call.
const StatusOK = 0

// ArrayType returns the array descriptor struct for memref type t:
//
//	{meminfo ptr, parent ptr, nitems i64, itemsize i64, data ptr,
//	 shape array<R x i64>, strides array<R x i64>}
//
// Strides are in bytes. Rank 0 descriptors stop after data.
func ArrayType(t *ir.Type) *ir.Type {
	i64 := ir.Int(64)
	fields := []*ir.Type{ir.Ptr(), ir.Ptr(), i64, i64, ir.Ptr()}
	if r := t.Rank(); r > 0 {
		fields = append(fields, ir.Array(r, i64), ir.Array(r, i64))
	}
	return ir.Struct(fields...)
}

// Array descriptor field positions.
const (
	FieldMemInfo = iota
	FieldParent
	FieldNItems
	FieldItemSize
	FieldData
	FieldShape
	FieldStrides
)

// ResultType returns the type stored through the ret pointer for a
// function returning types.
func ResultType(types []*ir.Type) *ir.Type {
	if len(types) == 0 {
		return ir.Ptr()
	}
	out := make([]*ir.Type, len(types))
	for i, t := range types {
		out[i] = convertType(t)
	}
	if len(out) == 1 {
		return out[0]
	}
	return ir.Struct(out...)
}

func convertType(t *ir.Type) *ir.Type {
	switch {
	case t.IsMemRef():
		return ArrayType(t)
	case t.IsNone():
		return ir.Ptr()
	}
	return t
}

// Flatten returns the scalar leaves of an aggregate type in field order.
func Flatten(t *ir.Type) []*ir.Type {
	switch t.Kind {
	case ir.TypeStruct:
		var out []*ir.Type
		for _, f := range t.Fields {
			out = append(out, Flatten(f)...)
		}
		return out
	case ir.TypeArray:
		var out []*ir.Type
		for i := 0; i < t.Width; i++ {
			out = append(out, Flatten(t.Elem)...)
		}
		return out
	}
	return []*ir.Type{t}
}

// unflatten rebuilds an aggregate of type t from leaves produced by next.
func unflatten(b *ir.Builder, t *ir.Type, next func() ir.ValueID) ir.ValueID {
	switch t.Kind {
	case ir.TypeStruct:
		v := b.StructUndef(t)
		for i, f := range t.Fields {
			v = b.StructInsert(v, unflatten(b, f, next), int64(i))
		}
		return v
	case ir.TypeArray:
		v := b.StructUndef(t)
		for i := 0; i < t.Width; i++ {
			v = b.StructInsert(v, unflatten(b, t.Elem, next), int64(i))
		}
		return v
	}
	return next()
}

// FixFuncABI rewrites every public function definition and returns how
// many were changed. Functions already carrying abi.original_type are
// skipped.
func FixFuncABI(m *ir.Module) (int, error) {
	var todo []ir.OpID
	for _, op := range m.Funcs() {
		f := ir.AsFunc(m, op)
		if f.IsPrivate() || f.IsDeclaration() || f.Attrs().Has(ir.AttrOriginalType) {
			continue
		}
		todo = append(todo, op)
	}
	if err := checkNoInternalCallers(m, todo); err != nil {
		return 0, err
	}
	th := newThunks(m)
	for _, op := range todo {
		if err := fixFunc(m, th, op); err != nil {
			return 0, err
		}
	}
	return len(todo), nil
}

// checkNoInternalCallers rejects modules that reference a public function
// from inside, since its signature is about to change.
func checkNoInternalCallers(m *ir.Module, fns []ir.OpID) error {
	public := make(map[string]bool, len(fns))
	for _, op := range fns {
		public[ir.AsFunc(m, op).Name()] = true
	}
	var err error
	m.Walk(m.Root(), func(op ir.OpID) ir.WalkResult {
		switch m.Kind(op) {
		case ir.KindCall, ir.KindFuncConstant:
		default:
			return ir.WalkAdvance
		}
		callee, _ := m.Op(op).Attrs.Symbol(ir.AttrCallee)
		if public[callee] {
			err = rewrite.NewPassError(m, op, rewrite.ErrCodeMalformedIR,
				"public function @%s is referenced inside the module", callee)
			return ir.WalkInterrupt
		}
		return ir.WalkAdvance
	})
	return err
}

func fixFunc(m *ir.Module, th *thunks, op ir.OpID) error {
	f := ir.AsFunc(m, op)
	oldType := f.Type()
	for _, t := range append(append([]*ir.Type(nil), oldType.Inputs...), oldType.Results...) {
		if t.ContainsOpaque() {
			return rewrite.NewPassError(m, op, rewrite.ErrCodeUnsupportedType,
				"cannot convert boundary type %s of @%s", t, f.Name())
		}
	}
	retType := ResultType(oldType.Results)

	if f.HasFastmath() {
		f.Attrs()[ir.AttrPassthrough] = fastmathAttrs()
	}

	entry := f.Entry()
	oldArgs := append([]ir.ValueID(nil), m.Block(entry).Args...)
	b := ir.NewBuilder(m)
	b.SetInsertionPointToStart(entry)

	retPtr := m.InsertBlockArg(entry, 0, ir.Ptr())
	m.InsertBlockArg(entry, 1, ir.Ptr())
	inputs := []*ir.Type{ir.Ptr(), ir.Ptr()}
	pos := 2
	var argMems []ir.ValueID
	for _, arg := range oldArgs {
		t := m.Type(arg)
		if !t.IsMemRef() {
			inputs = append(inputs, t)
			pos++
			continue
		}
		desc := ArrayType(t)
		leaves := Flatten(desc)
		flat := make([]ir.ValueID, len(leaves))
		for i, lt := range leaves {
			flat[i] = m.InsertBlockArg(entry, pos+i, lt)
		}
		next := 0
		v := unflatten(b, desc, func() ir.ValueID {
			leaf := flat[next]
			next++
			return leaf
		})
		name, generic, err := th.toMemref(t)
		if err != nil {
			return rewrite.NewPassError(m, op, rewrite.ErrCodeMalformedIR, "%v", err)
		}
		mem := b.Call(name, []*ir.Type{generic}, v)[0]
		argMems = append(argMems, mem)
		if !generic.Equal(t) {
			mem = b.Cast(mem, t)
		}
		m.ReplaceAllUses(arg, mem)
		m.EraseBlockArg(entry, pos+len(leaves))
		pos += len(leaves)
		inputs = append(inputs, leaves...)
	}

	for _, ret := range returnsOf(m, op) {
		if err := fixReturn(b, th, ret, retPtr, retType, argMems); err != nil {
			return err
		}
	}

	f.SetType(ir.Func(inputs, []*ir.Type{ir.Int(32)}))
	f.Attrs()[ir.AttrOriginalType] = ir.TypeAttr{Type: oldType}
	return nil
}

func returnsOf(m *ir.Module, fn ir.OpID) []ir.OpID {
	var out []ir.OpID
	for _, blk := range m.Region(m.Op(fn).Regions[0]).Blocks {
		if t := m.Terminator(blk); t.IsValid() && m.Kind(t) == ir.KindReturn {
			out = append(out, t)
		}
	}
	return out
}

// fixReturn stores the returned values through retPtr and returns status 0.
// The alloc token of every memref argument that is not returned is
// destroyed; a returned one is destroyed by its conversion thunk.
func fixReturn(b *ir.Builder, th *thunks, ret ir.OpID, retPtr ir.ValueID, retType *ir.Type, argMems []ir.ValueID) error {
	m := b.Module()
	vals := append([]ir.ValueID(nil), m.Op(ret).Operands...)
	b.SetInsertionPointBefore(ret)
	var out ir.ValueID
	switch len(vals) {
	case 0:
		out = b.Zero(ir.Ptr())
	case 1:
		v, err := convertValue(b, th, ret, vals[0])
		if err != nil {
			return err
		}
		out = v
	default:
		out = b.StructUndef(retType)
		for i, val := range vals {
			v, err := convertValue(b, th, ret, val)
			if err != nil {
				return err
			}
			out = b.StructInsert(out, v, int64(i))
		}
	}
	if err := releaseArgTokens(b, th, ret, vals, argMems); err != nil {
		return err
	}
	b.PtrStore(out, retPtr)
	b.Return(b.ConstantInt(StatusOK, ir.Int(32)))
	m.Erase(ret)
	return nil
}

func releaseArgTokens(b *ir.Builder, th *thunks, ret ir.OpID, returned, argMems []ir.ValueID) error {
	m := b.Module()
	escaping := make(map[ir.ValueID]bool, len(returned))
	for _, v := range returned {
		if m.Type(v).IsMemRef() {
			escaping[viewRoot(m, v)] = true
		}
	}
	for _, mem := range argMems {
		if escaping[mem] {
			continue
		}
		if err := th.declareDestroy(); err != nil {
			return rewrite.NewPassError(m, ret, rewrite.ErrCodeMalformedIR, "%v", err)
		}
		token := b.MemrefToParts(mem)[0]
		b.Call(DestroyAllocTokenSymbol, nil, token)
	}
	return nil
}

// viewRoot follows view-like producers back to the underlying buffer.
func viewRoot(m *ir.Module, v ir.ValueID) ir.ValueID {
	for {
		def := m.DefiningOp(v)
		if !def.IsValid() || !m.Kind(def).Has(ir.TraitViewLike) {
			return v
		}
		v = m.Operand(def, 0)
	}
}

func convertValue(b *ir.Builder, th *thunks, ret ir.OpID, v ir.ValueID) (ir.ValueID, error) {
	m := b.Module()
	t := m.Type(v)
	switch {
	case t.IsNone():
		return b.Zero(ir.Ptr()), nil
	case t.IsMemRef():
		name, generic, err := th.fromMemref(t)
		if err != nil {
			return ir.NoValue, rewrite.NewPassError(m, ret, rewrite.ErrCodeMalformedIR, "%v", err)
		}
		if !generic.Equal(t) {
			v = b.Cast(v, generic)
		}
		return b.Call(name, []*ir.Type{ArrayType(t)}, v)[0], nil
	}
	return v, nil
}

// fastmathAttrs are the passthrough attributes of a fastmath function.
func fastmathAttrs() ir.ArrayAttr {
	pair := func(k, v string) ir.Attr { return ir.ArrayAttr{ir.StringAttr(k), ir.StringAttr(v)} }
	return ir.ArrayAttr{
		pair("denormal-fp-math", "preserve-sign,preserve-sign"),
		pair("denormal-fp-math-f32", "ieee,ieee"),
		pair("no-infs-fp-math", "true"),
		pair("no-nans-fp-math", "true"),
		pair("no-signed-zeros-fp-math", "true"),
		pair("unsafe-fp-math", "true"),
		pair(ir.AttrFastmath, "1"),
	}
}

// thunkSuffix names a memref shape class by rank and element type:
// "3xf64", or "f64" for rank 0.
func thunkSuffix(t *ir.Type) string {
	if r := t.Rank(); r > 0 {
		return fmt.Sprintf("%dx%s", r, t.Elem)
	}
	return t.Elem.String()
}
