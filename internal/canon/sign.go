package canon

import (
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

func signPatterns() []rewrite.Pattern {
	return []rewrite.Pattern{
		rewrite.New("sign-cast-fold", ir.KindSignCast, signCastFold),
		rewrite.New("sign-cast-constant", ir.KindSignCast, signCastConstant),
		rewrite.New("sign-cast-alloc", ir.KindSignCast, signCastAlloc),
		rewrite.New("sign-cast-dim", ir.KindDim, signCastDim),
		rewrite.New("sign-cast-cast", ir.KindCast, signCastView(ir.KindCast)),
		rewrite.New("sign-cast-change-layout", ir.KindChangeLayout, signCastView(ir.KindChangeLayout)),
		rewrite.New("sign-cast-load", ir.KindLoad, signCastLoad),
		rewrite.New("sign-cast-store", ir.KindStore, signCastStore),
		rewrite.New("sign-cast-subview", ir.KindSubview, signCastSubview),
		rewrite.New("sign-cast-for", ir.KindFor, signCastFor),
	}
}

func signCastSource(m *ir.Module, v ir.ValueID) (ir.ValueID, bool) {
	if m.DefiningKind(v) != ir.KindSignCast {
		return ir.NoValue, false
	}
	return m.Operand(m.DefiningOp(v), 0), true
}

// signCastFold removes a sign_cast to the type it already has and looks
// through earlier sign_casts and memref.casts for a value of the target
// type. A sign_cast of a sign_cast casts the inner source directly.
func signCastFold(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	dst := m.Type(m.Result(op, 0))
	for v := m.Operand(op, 0); ; {
		if m.Type(v).Equal(dst) {
			rw.ReplaceOp(op, v)
			return rewrite.Applied, nil
		}
		switch m.DefiningKind(v) {
		case ir.KindSignCast, ir.KindCast:
			v = m.Operand(m.DefiningOp(v), 0)
			continue
		}
		break
	}
	if src, ok := signCastSource(m, m.Operand(op, 0)); ok {
		m.SetOperand(op, 0, src)
		return rewrite.Applied, nil
	}
	return rewrite.Declined, nil
}

// signCastConstant retypes an integer constant instead of casting it.
func signCastConstant(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	dst := m.Type(m.Result(op, 0))
	a, ok := m.ConstantValue(m.Operand(op, 0))
	if !ok || !dst.IsInt() {
		return rewrite.Declined, nil
	}
	ia, ok := a.(ir.IntAttr)
	if !ok {
		return rewrite.Declined, nil
	}
	rw.Before(op)
	rw.ReplaceOp(op, rw.ConstantInt(ia.Value, dst))
	return rewrite.Applied, nil
}

// signCastAlloc allocates a single-use buffer with the cast's element type
// directly.
func signCastAlloc(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	mem := m.Operand(op, 0)
	kind := m.DefiningKind(mem)
	if (kind != ir.KindAlloc && kind != ir.KindAlloca) || !m.HasOneUse(mem) {
		return rewrite.Declined, nil
	}
	dst := m.Type(m.Result(op, 0))
	if !dst.IsMemRef() || m.Type(mem).Elem.Equal(dst.Elem) {
		return rewrite.Declined, nil
	}
	alloc := ir.AllocOp{M: m, ID: m.DefiningOp(mem)}
	rw.Before(alloc.ID)
	var res ir.ValueID
	if kind == ir.KindAlloca {
		res = rw.Alloca(dst, alloc.DynamicSizes()...)
	} else {
		res = rw.AllocWithSymbols(dst, alloc.DynamicSizes(), alloc.SymbolOperands())
	}
	rw.ReplaceOp(op, res)
	rw.EraseOp(alloc.ID)
	return rewrite.Applied, nil
}

func signCastDim(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	src, ok := signCastSource(m, m.Operand(op, 0))
	if !ok {
		return rewrite.Declined, nil
	}
	m.SetOperand(op, 0, src)
	return rewrite.Applied, nil
}

// signCastView returns a pattern that applies a memref.cast or
// change_layout to the sign_cast's source first, so the sign_cast ends up
// outermost.
func signCastView(kind ir.Kind) func(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	return func(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
		m := rw.M()
		src, ok := signCastSource(m, m.Operand(op, 0))
		if !ok {
			return rewrite.Declined, nil
		}
		srcType := m.Type(src)
		dst := m.Type(m.Result(op, 0))
		if !srcType.IsMemRef() || !dst.IsMemRef() {
			return rewrite.Declined, nil
		}
		mid := dst.WithElem(srcType.Elem)
		if kind == ir.KindCast && !ir.CastCompatible(srcType, mid) {
			return rewrite.Declined, nil
		}
		if srcType.Rank() != mid.Rank() {
			return rewrite.Declined, nil
		}
		rw.Before(op)
		var v ir.ValueID
		if kind == ir.KindCast {
			v = rw.Cast(src, mid)
		} else {
			v = rw.ChangeLayout(src, mid)
		}
		rw.ReplaceOp(op, rw.SignCast(v, dst))
		return rewrite.Applied, nil
	}
}

// signCastLoad loads from the sign_cast's source and casts the element.
func signCastLoad(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	src, ok := signCastSource(m, m.Operand(op, 0))
	if !ok {
		return rewrite.Declined, nil
	}
	rw.Before(op)
	v := rw.Load(src, m.Op(op).Operands[1:]...)
	if want := m.Type(m.Result(op, 0)); !m.Type(v).Equal(want) {
		v = rw.SignCast(v, want)
	}
	rw.ReplaceOp(op, v)
	return rewrite.Applied, nil
}

// signCastStore casts the stored element and stores into the sign_cast's
// source.
func signCastStore(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	src, ok := signCastSource(m, m.Operand(op, 1))
	if !ok {
		return rewrite.Declined, nil
	}
	val := m.Operand(op, 0)
	elem := m.Type(src).Elem
	rw.Before(op)
	if !m.Type(val).Equal(elem) {
		val = rw.SignCast(val, elem)
	}
	rw.Store(val, src, m.Op(op).Operands[2:]...)
	rw.EraseOp(op)
	return rewrite.Applied, nil
}

// signCastSubview takes the subview of the sign_cast's source.
func signCastSubview(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	sv := ir.SubviewOp{M: m, ID: op}
	src, ok := signCastSource(m, sv.Source())
	if !ok {
		return rewrite.Declined, nil
	}
	dst := m.Type(m.Result(op, 0))
	rw.Before(op)
	v := rw.Subview(src, sv.Spec(), dst.WithElem(m.Type(src).Elem))
	rw.ReplaceOp(op, rw.SignCast(v, dst))
	return rewrite.Applied, nil
}

// signCastFor makes an scf.for carry the source type of a yielded
// sign_cast.
func signCastFor(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	return sinkThroughFor(rw, op, ir.KindSignCast, signCast)
}
