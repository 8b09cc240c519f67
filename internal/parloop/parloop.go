// Package parloop turns top-level scf.parallel loops into util.parallel
// constructs with per-thread reduction buffers.
//
// A loop with reductions becomes three pieces: an init loop filling one
// max_concurrency-sized buffer per reduction with its neutral element, the
// util.parallel whose body runs the original loop over one slice and
// accumulates into the thread's buffer slot, and a combine loop folding
// the slots into the original init values in ascending thread order.
// The fixed combine order makes floating point results deterministic for
// a given max_concurrency; it is not the order of a sequential run.
package parloop

import (
	"github.com/roach88/parlower/internal/analysis"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

// PassName is the registered name of the rewriting pass.
const PassName = "parallel-to-runtime-loop"

// Patterns returns the rewriter pattern set.
func Patterns() []rewrite.Pattern {
	return []rewrite.Pattern{rewrite.New("parallel-to-explicit", ir.KindParallel, rewriteParallel)}
}

// eligible checks every precondition and returns the function's max
// concurrency and the neutral element of each reduction.
func eligible(m *ir.Module, op ir.OpID) (int64, []ir.Attr, bool) {
	if parent := m.ParentOp(op); parent.IsValid() && m.Kind(parent) == ir.KindExplicitParallel {
		return 0, nil, false
	}
	if !analysis.InParallelEnvironment(m, op) && m.ParentOfKind(op, ir.KindParallel).IsValid() {
		return 0, nil, false
	}
	fn := m.ParentFunc(op)
	if !fn.IsValid() {
		return 0, nil, false
	}
	mc, _ := ir.AsFunc(m, fn).MaxConcurrency()
	if mc <= 1 {
		return 0, nil, false
	}
	p := ir.ParallelOp{M: m, ID: op}
	neutrals := make([]ir.Attr, p.NumReductions())
	for i, t := range m.ResultTypes(op) {
		if !t.IsIntOrFloat() {
			return 0, nil, false
		}
		region := m.Region(p.ReductionRegion(i))
		if len(region.Blocks) != 1 {
			return 0, nil, false
		}
		n, ok := NeutralElement(m, region.Blocks[0], t)
		if !ok {
			return 0, nil, false
		}
		neutrals[i] = n
	}
	return mc, neutrals, true
}

func rewriteParallel(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	mc, neutrals, ok := eligible(m, op)
	if !ok {
		return rewrite.Declined, nil
	}
	p := ir.ParallelOp{M: m, ID: op}
	types := m.ResultTypes(op)

	saved := rw.Save()
	defer rw.Restore(saved)

	bufs := make([]ir.ValueID, len(types))
	if len(types) > 0 {
		m.WithAllocaAnchor(rw.Builder, op, func(b *ir.Builder) {
			for i, t := range types {
				bufs[i] = b.Alloca(ir.MemRef([]int64{mc}, t))
			}
		})
	}

	rw.Before(op)
	var lower, upper, step ir.ValueID
	if len(types) > 0 {
		lower, upper, step = rw.ConstantIndex(0), rw.ConstantIndex(mc), rw.ConstantIndex(1)
		rw.For(lower, upper, step, nil, func(b *ir.Builder, iv ir.ValueID, _ []ir.ValueID) []ir.ValueID {
			for i, t := range types {
				b.Store(b.Constant(neutrals[i], t), bufs[i], iv)
			}
			return nil
		})
	}

	steps := append([]ir.ValueID(nil), p.Steps()...)
	rw.ExplicitParallel(p.LowerBounds(), p.UpperBounds(), p.Steps(),
		func(b *ir.Builder, lo, hi []ir.ValueID, thread ir.ValueID) {
			inits := make([]ir.ValueID, len(bufs))
			for i, buf := range bufs {
				inits[i] = b.Load(buf, thread)
			}
			clone := b.Clone(op, ir.NewMapping())
			var operands []ir.ValueID
			operands = append(operands, lo...)
			operands = append(operands, hi...)
			operands = append(operands, steps...)
			operands = append(operands, inits...)
			m.SetOperands(clone, operands)
			for i, res := range m.Op(clone).Results {
				b.Store(res, bufs[i], thread)
			}
		})

	if len(types) == 0 {
		rw.EraseOp(op)
		return rewrite.Applied, nil
	}

	combine := rw.For(lower, upper, step, p.Inits(), func(b *ir.Builder, iv ir.ValueID, acc []ir.ValueID) []ir.ValueID {
		out := make([]ir.ValueID, len(bufs))
		for i, buf := range bufs {
			blk := m.EntryBlock(p.ReductionRegion(i))
			args := m.Block(blk).Args
			prev := b.Load(buf, iv)
			mp := ir.NewMapping()
			mp.Map(args[0], acc[i])
			mp.Map(args[1], prev)
			out[i] = b.CloneBlockBody(blk, mp)[0]
		}
		return out
	})
	rw.ReplaceOp(op, m.Op(combine).Results...)
	return rewrite.Applied, nil
}
