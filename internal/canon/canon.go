// Package canon is the layout and signedness canonicalizer.
//
// Every pattern is local: it inspects the immediate producer or consumer of
// a util.change_layout or util.sign_cast and either cancels the cast or
// moves it one step further from the memory it reinterprets, across loads,
// stores, views and structured control flow. Each application strictly
// reduces the number of casts or pushes one outward, so the set reaches a
// fixed point under rewrite.ApplyGreedily regardless of visit order.
package canon

import (
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

// PassName is the registered name of the canonicalizer.
const PassName = "canonicalize"

// Patterns returns the full canonicalization set.
func Patterns() []rewrite.Pattern {
	var out []rewrite.Pattern
	out = append(out, foldPatterns()...)
	out = append(out, layoutPatterns()...)
	out = append(out, signPatterns()...)
	out = append(out, memoryPatterns()...)
	return out
}

func foldPatterns() []rewrite.Pattern {
	return []rewrite.Pattern{
		rewrite.New("fold-cast", ir.KindCast, foldCast),
		rewrite.New("fold-dim", ir.KindDim, foldDim),
	}
}

// foldCast removes casts to the source type and collapses cast chains.
func foldCast(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	src := m.Operand(op, 0)
	dst := m.Type(m.Result(op, 0))
	if m.Type(src).Equal(dst) {
		rw.ReplaceOp(op, src)
		return rewrite.Applied, nil
	}
	if m.DefiningKind(src) != ir.KindCast {
		return rewrite.Declined, nil
	}
	inner := m.Operand(m.DefiningOp(src), 0)
	if m.Type(inner).Equal(dst) {
		rw.ReplaceOp(op, inner)
		return rewrite.Applied, nil
	}
	if !ir.CastCompatible(m.Type(inner), dst) {
		return rewrite.Declined, nil
	}
	m.SetOperand(op, 0, inner)
	return rewrite.Applied, nil
}

// foldDim replaces memref.dim of a static dimension by a constant and of
// a dynamic allocation dimension by the allocation's size operand.
func foldDim(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	mem := m.Operand(op, 0)
	idx, ok := m.ConstantInt(m.Operand(op, 1))
	t := m.Type(mem)
	if !ok || idx < 0 || int(idx) >= t.Rank() {
		return rewrite.Declined, nil
	}
	if d := t.Shape[idx]; !ir.IsDynamic(d) {
		rw.Before(op)
		rw.ReplaceOp(op, rw.ConstantIndex(d))
		return rewrite.Applied, nil
	}
	switch m.DefiningKind(mem) {
	case ir.KindAlloc, ir.KindAlloca:
	default:
		return rewrite.Declined, nil
	}
	alloc := ir.AllocOp{M: m, ID: m.DefiningOp(mem)}
	j := 0
	for _, d := range t.Shape[:idx] {
		if ir.IsDynamic(d) {
			j++
		}
	}
	rw.ReplaceOp(op, alloc.DynamicSizes()[j])
	return rewrite.Applied, nil
}

// castFunc builds a cast of v to t at the rewriter's insertion point.
type castFunc func(rw *rewrite.Rewriter, v ir.ValueID, t *ir.Type) ir.ValueID

func changeLayout(rw *rewrite.Rewriter, v ir.ValueID, t *ir.Type) ir.ValueID {
	return rw.ChangeLayout(v, t)
}

func signCast(rw *rewrite.Rewriter, v ir.ValueID, t *ir.Type) ir.ValueID {
	return rw.SignCast(v, t)
}

// sinkThroughFor rewrites scf.for loop-carried values whose yielded value
// is produced by an op of kind (a cast) so that the loop carries the
// cast's source type. The init is cast forward before the loop and the
// iteration argument and result are cast back to their old type.
func sinkThroughFor(rw *rewrite.Rewriter, op ir.OpID, kind ir.Kind, mk castFunc) (rewrite.Result, error) {
	m := rw.M()
	f := ir.ForOp{M: m, ID: op}
	yield := f.Yield()
	changed := false
	for i, v := range m.Op(yield).Operands {
		if m.DefiningKind(v) != kind {
			continue
		}
		src := m.Operand(m.DefiningOp(v), 0)
		oldType := m.Type(m.Result(op, i))
		newType := m.Type(src)
		if newType.Equal(oldType) {
			continue
		}
		changed = true

		init := f.Inits()[i]
		rw.Before(op)
		m.SetOperand(op, 3+i, mk(rw, init, newType))

		arg := f.IterArgs()[i]
		m.SetType(arg, newType)
		rw.SetInsertionPointToStart(f.Body())
		back := mk(rw, arg, oldType)
		m.ReplaceAllUsesExcept(arg, back, m.DefiningOp(back))

		m.SetOperand(yield, i, src)

		res := m.Result(op, i)
		m.SetType(res, newType)
		rw.After(op)
		out := mk(rw, res, oldType)
		m.ReplaceAllUsesExcept(res, out, m.DefiningOp(out))
	}
	if !changed {
		return rewrite.Declined, nil
	}
	return rewrite.Applied, nil
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
