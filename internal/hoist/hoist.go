// Package hoist moves loop-invariant buffer allocations above the loop
// nest that contains them.
//
// An allocation executed once per loop trip becomes a single allocation in
// front of the outermost eligible loop, freed right after it. Inside a
// util.parallel of a function with a positive max_concurrency, the hoisted
// buffer gains a leading dimension of that size and each thread works on
// its own slice.
package hoist

import (
	"github.com/roach88/parlower/internal/analysis"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

// PassName is the registered name of the hoisting pass.
const PassName = "hoist-buffer-allocs"

// Patterns returns the hoisting pattern set.
func Patterns() []rewrite.Pattern {
	return []rewrite.Pattern{rewrite.New("hoist-buffer-alloc", ir.KindAlloc, hoistAlloc)}
}

func hoistAlloc(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	alloc := ir.AllocOp{M: m, ID: op}
	if len(alloc.SymbolOperands()) > 0 {
		return rewrite.Declined, nil
	}
	if analysis.CanEscape(m, alloc.Result()) {
		return rewrite.Declined, nil
	}
	info, ok := analysis.GetLoopInfo(m, op)
	if !ok {
		return rewrite.Declined, nil
	}
	fnOp := m.ParentFunc(op)
	if !fnOp.IsValid() {
		return rewrite.Declined, nil
	}
	mc, hasMC := ir.AsFunc(m, fnOp).MaxConcurrency()
	underParallel := info.InnermostParallel.IsValid()
	if underParallel && !hasMC {
		return rewrite.Declined, nil
	}
	needParallel := underParallel && mc > 0

	oldType := alloc.Type()
	newType := oldType
	if needParallel {
		if !oldType.IsIdentityLayout() {
			return rewrite.Declined, nil
		}
		newType = ir.MemRef(append([]int64{mc}, oldType.Shape...), oldType.Elem)
	}

	for _, user := range m.Users(alloc.Result()) {
		if m.Kind(user) == ir.KindDealloc {
			rw.EraseOp(user)
		}
	}

	saved := rw.Save()
	defer rw.Restore(saved)

	rw.Before(info.Outermost)
	hoisted := rw.Alloc(newType, alloc.DynamicSizes()...)
	view := hoisted
	if needParallel {
		par := ir.ExplicitParallelOp{M: m, ID: info.InnermostParallel}
		rw.SetInsertionPointToStart(par.Body())
		view = threadSlice(rw, hoisted, oldType, par.ThreadIndex())
	}
	rw.ReplaceOp(op, view)

	rw.After(info.Outermost)
	rw.Dealloc(hoisted)
	return rewrite.Applied, nil
}

// threadSlice selects row thread of the per-thread buffer mem and returns
// it typed as oldType.
func threadSlice(rw *rewrite.Rewriter, mem ir.ValueID, oldType *ir.Type, thread ir.ValueID) ir.ValueID {
	memType := rw.M().Type(mem)
	rank := memType.Rank()
	spec := ir.SubviewSpec{
		Offsets:    make([]int64, rank),
		Sizes:      make([]int64, rank),
		Strides:    make([]int64, rank),
		DynOffsets: []ir.ValueID{thread},
		DropDims:   []int64{0},
	}
	spec.Offsets[0] = ir.Dynamic
	spec.Sizes[0] = 1
	for i := 0; i < rank; i++ {
		spec.Strides[i] = 1
		if i == 0 {
			continue
		}
		if d := memType.Shape[i]; !ir.IsDynamic(d) {
			spec.Sizes[i] = d
			continue
		}
		spec.Sizes[i] = ir.Dynamic
		spec.DynSizes = append(spec.DynSizes, rw.Dim(mem, rw.ConstantIndex(int64(i))))
	}
	drop := make([]bool, rank)
	drop[0] = true
	viewType := ir.SubviewType(memType, spec.Offsets, spec.Sizes, spec.Strides, drop)
	view := rw.Subview(mem, spec, viewType)
	if viewType.Equal(oldType) {
		return view
	}
	strides, _ := viewType.StridesAndOffset()
	flat := viewType.WithLayout(&ir.Layout{Offset: 0, Strides: strides})
	view = rw.ApplyOffset(view, flat)
	return rw.Cast(view, oldType)
}
