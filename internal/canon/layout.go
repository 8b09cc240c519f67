package canon

import (
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

func layoutPatterns() []rewrite.Pattern {
	return []rewrite.Pattern{
		rewrite.New("change-layout-fold", ir.KindChangeLayout, changeLayoutFold),
		rewrite.New("change-layout-from-cast", ir.KindChangeLayout, changeLayoutFromCast),
		rewrite.New("change-layout-identity", ir.KindChangeLayout, changeLayoutIdentity),
		rewrite.New("change-layout-dim", ir.KindDim, changeLayoutOperand(0)),
		rewrite.New("change-layout-load", ir.KindLoad, changeLayoutOperand(0)),
		rewrite.New("change-layout-store", ir.KindStore, changeLayoutOperand(1)),
		rewrite.New("change-layout-cast", ir.KindCast, changeLayoutCast),
		rewrite.New("change-layout-subview", ir.KindSubview, changeLayoutSubview),
		rewrite.New("change-layout-if", ir.KindYield, changeLayoutIf),
		rewrite.New("change-layout-for", ir.KindFor, changeLayoutFor),
		rewrite.New("change-layout-select", ir.KindSelect, changeLayoutSelect),
		rewrite.New("change-layout-env-region", ir.KindEnvYield, changeLayoutEnvRegion),
	}
}

// changeLayoutSource returns the source of the change_layout producing v.
func changeLayoutSource(m *ir.Module, v ir.ValueID) (ir.ValueID, bool) {
	if m.DefiningKind(v) != ir.KindChangeLayout {
		return ir.NoValue, false
	}
	return m.Operand(m.DefiningOp(v), 0), true
}

// changeLayoutFold drops a change_layout to the type it already has, or to
// the type of a value earlier in the change_layout chain.
func changeLayoutFold(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	dst := m.Type(m.Result(op, 0))
	for v := m.Operand(op, 0); ; {
		if m.Type(v).Equal(dst) {
			rw.ReplaceOp(op, v)
			return rewrite.Applied, nil
		}
		src, ok := changeLayoutSource(m, v)
		if !ok {
			break
		}
		v = src
	}
	if src, ok := changeLayoutSource(m, m.Operand(op, 0)); ok {
		m.SetOperand(op, 0, src)
		return rewrite.Applied, nil
	}
	return rewrite.Declined, nil
}

// changeLayoutFromCast looks through a memref.cast feeding a change_layout.
func changeLayoutFromCast(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	in := m.Operand(op, 0)
	if m.DefiningKind(in) != ir.KindCast {
		return rewrite.Declined, nil
	}
	src := m.Operand(m.DefiningOp(in), 0)
	dst := m.Type(m.Result(op, 0))
	if m.Type(src).Equal(dst) {
		rw.ReplaceOp(op, src)
		return rewrite.Applied, nil
	}
	if !ir.CanTransformLayoutCast(m.Type(src), dst) {
		return rewrite.Declined, nil
	}
	rw.Before(op)
	rw.ReplaceOp(op, rw.Cast(src, dst))
	return rewrite.Applied, nil
}

// changeLayoutIdentity turns a layout change that only forgets static
// information into a plain cast.
func changeLayoutIdentity(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	src := m.Operand(op, 0)
	dst := m.Type(m.Result(op, 0))
	if !ir.CanTransformLayoutCast(m.Type(src), dst) {
		return rewrite.Declined, nil
	}
	rw.Before(op)
	rw.ReplaceOp(op, rw.Cast(src, dst))
	return rewrite.Applied, nil
}

// changeLayoutOperand returns a pattern that reads memref operand i
// through a change_layout directly from its source. Loads, stores and dims
// do not depend on the static layout.
func changeLayoutOperand(i int) func(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	return func(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
		m := rw.M()
		src, ok := changeLayoutSource(m, m.Operand(op, i))
		if !ok {
			return rewrite.Declined, nil
		}
		rw.ModifyInPlace(op, func(*ir.Op) { m.SetOperand(op, i, src) })
		return rewrite.Applied, nil
	}
}

// changeLayoutCast pushes a memref.cast of a change_layout to the
// change_layout's source.
func changeLayoutCast(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	src, ok := changeLayoutSource(m, m.Operand(op, 0))
	if !ok {
		return rewrite.Declined, nil
	}
	srcType := m.Type(src)
	dst := m.Type(m.Result(op, 0))
	if srcType.Equal(dst) {
		rw.ReplaceOp(op, src)
		return rewrite.Applied, nil
	}
	rw.Before(op)
	if ir.CanTransformLayoutCast(srcType, dst) {
		rw.ReplaceOp(op, rw.Cast(src, dst))
		return rewrite.Applied, nil
	}
	mid := srcType.WithShape(dst.Shape)
	if !ir.CastCompatible(srcType, mid) {
		return rewrite.Declined, nil
	}
	v := src
	if !mid.Equal(srcType) {
		v = rw.Cast(src, mid)
	}
	rw.ReplaceOp(op, rw.ChangeLayout(v, dst))
	return rewrite.Applied, nil
}

// changeLayoutSubview takes a subview of the change_layout's source and
// restores the expected type afterwards.
func changeLayoutSubview(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	sv := ir.SubviewOp{M: m, ID: op}
	src, ok := changeLayoutSource(m, sv.Source())
	if !ok {
		return rewrite.Declined, nil
	}
	spec := sv.Spec()
	srcType := m.Type(src)
	var drop []bool
	if len(spec.DropDims) > 0 {
		drop = make([]bool, srcType.Rank())
		for _, d := range spec.DropDims {
			drop[d] = true
		}
	}
	newType := ir.SubviewType(srcType, spec.Offsets, spec.Sizes, spec.Strides, drop)
	oldType := m.Type(m.Result(op, 0))
	if newType.Rank() != oldType.Rank() {
		return rewrite.Declined, nil
	}
	rw.Before(op)
	v := rw.Subview(src, spec, newType)
	if !newType.Equal(oldType) {
		v = rw.ChangeLayout(v, oldType)
	}
	rw.ReplaceOp(op, v)
	return rewrite.Applied, nil
}

// changeLayoutIf moves a change_layout yielded by one branch of an scf.if
// below the if. The other branch is cast to the new result type; when the
// other branch yields a change_layout from the same type, both sources are
// yielded directly.
func changeLayoutIf(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	ifOp := m.ParentOp(op)
	if len(m.Op(op).Operands) == 0 || !ifOp.IsValid() || m.Kind(ifOp) != ir.KindIf {
		return rewrite.Declined, nil
	}
	thenYield := m.Terminator(m.BodyBlock(ifOp, 0))
	elseYield := m.Terminator(m.BodyBlock(ifOp, 1))

	changed := false
	for i, res := range m.Op(ifOp).Results {
		origType := m.Type(res)
		if !origType.IsMemRef() {
			continue
		}
		newType := retypeIfResult(rw, i, origType, elseYield, thenYield)
		if newType == nil {
			newType = retypeIfResult(rw, i, origType, thenYield, elseYield)
		}
		if newType == nil {
			continue
		}
		changed = true
		m.SetType(res, newType)
		rw.After(ifOp)
		back := rw.ChangeLayout(res, origType)
		m.ReplaceAllUsesExcept(res, back, m.DefiningOp(back))
	}
	if !changed {
		return rewrite.Declined, nil
	}
	return rewrite.Applied, nil
}

// retypeIfResult tries to yield the source of a change_layout in clYield's
// operand i, adjusting otherYield to match. It returns the new result type
// or nil when nothing applies.
func retypeIfResult(rw *rewrite.Rewriter, i int, origType *ir.Type, clYield, otherYield ir.OpID) *ir.Type {
	m := rw.M()
	src, ok := changeLayoutSource(m, m.Operand(clYield, i))
	if !ok {
		return nil
	}
	srcType := m.Type(src)
	other := m.Operand(otherYield, i)
	if otherSrc, ok := changeLayoutSource(m, other); ok && m.Type(otherSrc).Equal(srcType) {
		m.SetOperand(clYield, i, src)
		m.SetOperand(otherYield, i, otherSrc)
		return srcType
	}
	candidates := []*ir.Type{srcType}
	if dyn := srcType.FullyDynamicLayout(); !dyn.Equal(srcType) {
		candidates = append(candidates, dyn)
	}
	for _, dst := range candidates {
		if !ir.CanTransformLayoutCast(origType, dst) {
			continue
		}
		v := src
		if !dst.Equal(srcType) {
			rw.Before(clYield)
			v = rw.Cast(src, dst)
		}
		m.SetOperand(clYield, i, v)
		if !m.Type(other).Equal(dst) {
			rw.Before(otherYield)
			m.SetOperand(otherYield, i, rw.Cast(other, dst))
		}
		return dst
	}
	return nil
}

// changeLayoutFor makes an scf.for carry the source type of a yielded
// change_layout.
func changeLayoutFor(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	return sinkThroughFor(rw, op, ir.KindChangeLayout, changeLayout)
}

// changeLayoutSelect selects between change_layout sources and applies
// the change_layout to the selected value.
func changeLayoutSelect(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	dstType := m.Type(m.Result(op, 0))
	if !dstType.IsMemRef() {
		return rewrite.Declined, nil
	}
	cond := m.Operand(op, 0)
	for _, arm := range []int{1, 2} {
		src, ok := changeLayoutSource(m, m.Operand(op, arm))
		if !ok {
			continue
		}
		otherArm := 3 - arm
		other := m.Operand(op, otherArm)
		srcType := m.Type(src)
		rw.Before(op)
		if !ir.CanTransformLayoutCast(m.Type(other), srcType) {
			dyn := srcType.FullyDynamicLayout()
			if !ir.CanTransformLayoutCast(m.Type(other), dyn) {
				continue
			}
			srcType = dyn
			src = rw.Cast(src, dyn)
		}
		operands := make([]ir.ValueID, 3)
		operands[arm] = src
		operands[otherArm] = other
		if !m.Type(other).Equal(srcType) {
			operands[otherArm] = rw.Cast(other, srcType)
		}
		sel := rw.Select(cond, operands[1], operands[2])
		rw.ReplaceOp(op, rw.ChangeLayout(sel, dstType))
		return rewrite.Applied, nil
	}
	return rewrite.Declined, nil
}

// changeLayoutEnvRegion yields change_layout sources out of an env_region
// and reapplies the change_layout to the region's results.
func changeLayoutEnvRegion(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	region := m.ParentOp(op)
	changed := false
	for i, v := range m.Op(op).Operands {
		src, ok := changeLayoutSource(m, v)
		if !ok {
			continue
		}
		changed = true
		m.SetOperand(op, i, src)
		res := m.Result(region, i)
		oldType := m.Type(res)
		if m.Type(src).Equal(oldType) {
			continue
		}
		m.SetType(res, m.Type(src))
		rw.After(region)
		back := rw.ChangeLayout(res, oldType)
		m.ReplaceAllUsesExcept(res, back, m.DefiningOp(back))
	}
	if !changed {
		return rewrite.Declined, nil
	}
	return rewrite.Applied, nil
}
