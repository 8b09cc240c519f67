package canon

import (
	"slices"

	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

func memoryPatterns() []rewrite.Pattern {
	return []rewrite.Pattern{
		rewrite.New("promote-load", ir.KindLoad, promoteLoad),
		rewrite.New("dead-store", ir.KindStore, deadStore),
		rewrite.New("single-write-memref", ir.KindAlloc, singleWriteMemref),
		rewrite.New("single-write-memref", ir.KindAlloca, singleWriteMemref),
	}
}

// mayAlias reports whether two memrefs can share storage. Only views of two
// distinct allocations are known apart.
func mayAlias(m *ir.Module, a, b ir.ValueID) bool {
	ra, rb := viewRoot(m, a), viewRoot(m, b)
	if ra == rb {
		return true
	}
	return !(isAllocation(m, ra) && isAllocation(m, rb))
}

func isAllocation(m *ir.Module, v ir.ValueID) bool {
	k := m.DefiningKind(v)
	return k == ir.KindAlloc || k == ir.KindAlloca
}

// sameAccess reports whether two accesses name the same element of the
// same memref value.
func sameAccess(mem ir.ValueID, idx []ir.ValueID, otherMem ir.ValueID, otherIdx []ir.ValueID) bool {
	return mem == otherMem && slices.Equal(idx, otherIdx)
}

// writesMemory reports whether op may write a memref aliasing mem. Calls
// and ops with regions are assumed to write anything.
func writesMemory(m *ir.Module, op ir.OpID, mem ir.ValueID) bool {
	switch m.Kind(op) {
	case ir.KindStore:
		return mayAlias(m, m.Operand(op, 1), mem)
	case ir.KindCall, ir.KindDealloc, ir.KindPtrStore:
		return true
	}
	return len(m.Op(op).Regions) > 0
}

// readsMemory reports whether op may read a memref aliasing mem.
func readsMemory(m *ir.Module, op ir.OpID, mem ir.ValueID) bool {
	switch m.Kind(op) {
	case ir.KindLoad:
		return mayAlias(m, m.Operand(op, 0), mem)
	case ir.KindCall, ir.KindDealloc, ir.KindPtrLoad, ir.KindReturn:
		return true
	case ir.KindMemrefToParts:
		return mayAlias(m, m.Operand(op, 0), mem)
	}
	return len(m.Op(op).Regions) > 0
}

// promoteLoad forwards the value of the nearest preceding store to the
// same element in the same block.
func promoteLoad(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	mem := m.Operand(op, 0)
	idx := m.Op(op).Operands[1:]
	ops := m.Block(m.Op(op).Parent).Ops
	for i := m.Position(op) - 1; i >= 0; i-- {
		prev := ops[i]
		if m.Kind(prev) == ir.KindStore {
			o := m.Op(prev)
			if sameAccess(mem, idx, o.Operands[1], o.Operands[2:]) {
				rw.ReplaceOp(op, o.Operands[0])
				return rewrite.Applied, nil
			}
		}
		if writesMemory(m, prev, mem) {
			break
		}
	}
	return rewrite.Declined, nil
}

// deadStore erases a store overwritten by a later store to the same element
// in the same block with no read in between.
func deadStore(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	mem := m.Operand(op, 1)
	idx := m.Op(op).Operands[2:]
	ops := m.Block(m.Op(op).Parent).Ops
	for i := m.Position(op) + 1; i < len(ops); i++ {
		next := ops[i]
		if m.Kind(next) == ir.KindStore {
			o := m.Op(next)
			if sameAccess(mem, idx, o.Operands[1], o.Operands[2:]) {
				rw.EraseOp(op)
				return rewrite.Applied, nil
			}
		}
		if readsMemory(m, next, mem) {
			break
		}
	}
	return rewrite.Declined, nil
}

// singleWriteMemref replaces a one-element buffer that is stored exactly
// once, and only loaded later in the same block, by the stored value.
func singleWriteMemref(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	alloc := ir.AllocOp{M: m, ID: op}
	mem := alloc.Result()
	if alloc.Type().NumElements() != 1 {
		return rewrite.Declined, nil
	}
	blk := m.Op(op).Parent
	store := ir.NoOp
	var loads, deallocs []ir.OpID
	for _, u := range m.Uses(mem) {
		switch m.Kind(u.Op) {
		case ir.KindStore:
			if u.Index != 1 || store.IsValid() || m.Op(u.Op).Parent != blk {
				return rewrite.Declined, nil
			}
			store = u.Op
		case ir.KindLoad:
			loads = append(loads, u.Op)
		case ir.KindDealloc:
			deallocs = append(deallocs, u.Op)
		default:
			return rewrite.Declined, nil
		}
	}
	if !store.IsValid() {
		return rewrite.Declined, nil
	}
	pos := m.Position(store)
	for _, l := range loads {
		anchor := ancestorIn(m, l, blk)
		if !anchor.IsValid() || m.Position(anchor) <= pos {
			return rewrite.Declined, nil
		}
	}
	val := m.Operand(store, 0)
	for _, l := range loads {
		rw.ReplaceOp(l, val)
	}
	rw.EraseOp(store)
	for _, d := range deallocs {
		rw.EraseOp(d)
	}
	rw.EraseOp(op)
	return rewrite.Applied, nil
}

// ancestorIn returns the op in blk that is op or contains op.
func ancestorIn(m *ir.Module, op ir.OpID, blk ir.BlockID) ir.OpID {
	for cur := op; cur.IsValid(); cur = m.ParentOp(cur) {
		if m.Op(cur).Parent == blk {
			return cur
		}
	}
	return ir.NoOp
}
