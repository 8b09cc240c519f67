package parloop

import (
	"math"

	"github.com/roach88/parlower/internal/ir"
)

// NeutralElement returns the identity of the single combining op in a
// reduction block: the value e with e op x == x for every x. The second
// result is false when the block does not hold exactly one non-terminator
// op or the op has no identity.
func NeutralElement(m *ir.Module, blk ir.BlockID, t *ir.Type) (ir.Attr, bool) {
	ops := m.Block(blk).Ops
	if len(ops) != 2 || m.Terminator(blk) != ops[1] {
		return nil, false
	}
	return neutralFor(m.Kind(ops[0]), t)
}

func neutralFor(kind ir.Kind, t *ir.Type) (ir.Attr, bool) {
	integer := func(v int64) (ir.Attr, bool) {
		if !t.IntegerLike() {
			return nil, false
		}
		return ir.IntAttr{Value: v, Type: t}, true
	}
	float := func(v float64) (ir.Attr, bool) {
		if !t.IsFloat() {
			return nil, false
		}
		return ir.FloatAttr{Value: v, Type: t}, true
	}
	switch kind {
	case ir.KindAddI, ir.KindOrI, ir.KindXOrI:
		return integer(0)
	case ir.KindMulI:
		return integer(1)
	case ir.KindAndI:
		return integer(-1)
	case ir.KindMaxSI:
		return integer(minSigned(bitWidth(t)))
	case ir.KindMinSI:
		return integer(maxSigned(bitWidth(t)))
	case ir.KindAddF:
		return float(math.Copysign(0, -1))
	case ir.KindMulF:
		return float(1)
	case ir.KindMaxF:
		return float(math.Inf(-1))
	case ir.KindMinF:
		return float(math.Inf(1))
	}
	return nil, false
}

func bitWidth(t *ir.Type) int {
	if t.IsIndex() || t.Width <= 0 || t.Width > 64 {
		return 64
	}
	return t.Width
}

func minSigned(width int) int64 {
	if width == 64 {
		return math.MinInt64
	}
	return -(int64(1) << (width - 1))
}

func maxSigned(width int) int64 {
	if width == 64 {
		return math.MaxInt64
	}
	return int64(1)<<(width-1) - 1
}
