// Package analysis answers the structural questions the lowering passes
// ask before rewriting: which loops enclose an op, which values a region
// captures, and whether a buffer can escape.
package analysis

import (
	"github.com/roach88/parlower/internal/ir"
)

// LoopInfo describes the loop nest above an op.
type LoopInfo struct {
	// Outermost is the highest enclosing loop above which the op could be
	// moved without leaving the scope of its operands.
	Outermost ir.OpID
	// InnermostParallel is the nearest util.parallel ancestor below
	// Outermost, or NoOp.
	InnermostParallel ir.OpID
}

// IsLoop reports whether kind is a loop construct the hoister can move an
// allocation out of.
func IsLoop(kind ir.Kind) bool {
	switch kind {
	case ir.KindFor, ir.KindWhile, ir.KindParallel, ir.KindExplicitParallel:
		return true
	}
	return false
}

// GetLoopInfo ascends from op through its parents. Ascent stops at the
// enclosing function or at the first parent inside whose regions one of
// op's operands is defined. The second result is false when no loop was
// crossed.
func GetLoopInfo(m *ir.Module, op ir.OpID) (LoopInfo, bool) {
	var info LoopInfo
	for parent := m.ParentOp(op); parent.IsValid(); parent = m.ParentOp(parent) {
		kind := m.Kind(parent)
		if kind == ir.KindFunc || kind == ir.KindModule {
			break
		}
		if m.AnyOperandDefinedInside(op, parent) {
			break
		}
		if IsLoop(kind) {
			info.Outermost = parent
		}
		if !info.InnermostParallel.IsValid() && kind == ir.KindExplicitParallel {
			info.InnermostParallel = parent
		}
	}
	if !info.Outermost.IsValid() {
		return LoopInfo{}, false
	}
	return info, true
}

// InParallelEnvironment reports whether op sits directly inside a
// util.env_region tagged "parallel".
func InParallelEnvironment(m *ir.Module, op ir.OpID) bool {
	parent := m.ParentOp(op)
	if !parent.IsValid() || m.Kind(parent) != ir.KindEnvRegion {
		return false
	}
	env, _ := m.Op(parent).Attrs.Str(ir.AttrEnvironment)
	return env == ir.EnvParallel
}
