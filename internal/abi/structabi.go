package abi

import (
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

// StructPassName is the registered name of the struct ABI pass.
const StructPassName = "fix-struct-abi"

// FixStructABI makes external declarations take struct parameters by
// pointer. Each call site spills the struct into a stack slot at the
// caller's alloca anchor and passes the slot. It returns the number of
// declarations changed.
func FixStructABI(m *ir.Module) (int, error) {
	b := ir.NewBuilder(m)
	changed := 0
	for _, op := range m.Funcs() {
		f := ir.AsFunc(m, op)
		if !f.IsDeclaration() {
			continue
		}
		t := f.Type()
		inputs := make([]*ir.Type, len(t.Inputs))
		byPtr := make([]bool, len(t.Inputs))
		found := false
		for i, in := range t.Inputs {
			inputs[i] = in
			if in.Kind == ir.TypeStruct {
				inputs[i] = ir.Ptr()
				byPtr[i] = true
				found = true
			}
		}
		if !found {
			continue
		}
		calls, err := callersOf(m, f.Name())
		if err != nil {
			return changed, err
		}
		f.SetType(ir.Func(inputs, t.Results))
		for _, call := range calls {
			spillStructArgs(m, b, call, byPtr)
		}
		changed++
	}
	return changed, nil
}

func callersOf(m *ir.Module, name string) ([]ir.OpID, error) {
	var calls []ir.OpID
	var err error
	m.Walk(m.Root(), func(op ir.OpID) ir.WalkResult {
		k := m.Kind(op)
		if k != ir.KindCall && k != ir.KindFuncConstant {
			return ir.WalkAdvance
		}
		if callee, _ := m.Op(op).Attrs.Symbol(ir.AttrCallee); callee != name {
			return ir.WalkAdvance
		}
		if k != ir.KindCall {
			err = rewrite.NewPassError(m, op, rewrite.ErrCodeUnsupportedType,
				"unsupported user of @%s taking struct arguments", name)
			return ir.WalkInterrupt
		}
		calls = append(calls, op)
		return ir.WalkAdvance
	})
	return calls, err
}

func spillStructArgs(m *ir.Module, b *ir.Builder, call ir.OpID, byPtr []bool) {
	args := append([]ir.ValueID(nil), m.Op(call).Operands...)
	slots := make([]ir.ValueID, len(args))
	m.WithAllocaAnchor(b, call, func(b *ir.Builder) {
		for i, a := range args {
			if byPtr[i] {
				slots[i] = b.PtrAlloca(m.Type(a), 1)
			}
		}
	})
	b.SetInsertionPointBefore(call)
	for i, a := range args {
		if !byPtr[i] {
			continue
		}
		b.PtrStore(a, slots[i])
		m.SetOperand(call, i, slots[i])
	}
}
