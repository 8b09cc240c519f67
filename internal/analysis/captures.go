package analysis

import "github.com/roach88/parlower/internal/ir"

// Captures is the set of values an op's regions read from outside.
type Captures struct {
	// Values are non-constant captures in first-discovery order.
	Values []ir.ValueID
	// Constants are the constant-like ops defining the remaining captures,
	// in first-discovery order. Outlining clones them instead of passing
	// them through the context.
	Constants []ir.OpID
}

// Len returns the number of captured values, constants included.
func (c Captures) Len() int { return len(c.Values) + len(c.Constants) }

// CollectCaptures walks every op nested in op's regions, excluding op
// itself, and records each operand not defined inside op.
func CollectCaptures(m *ir.Module, op ir.OpID) Captures {
	var c Captures
	seen := make(map[ir.ValueID]bool)
	m.WalkNested(op, func(inner ir.OpID) ir.WalkResult {
		for _, v := range m.Op(inner).Operands {
			if seen[v] || m.IsDefinedInside(v, op) {
				continue
			}
			seen[v] = true
			if def := m.DefiningOp(v); def.IsValid() && m.Kind(def).Has(ir.TraitConstantLike) {
				c.Constants = append(c.Constants, def)
				continue
			}
			c.Values = append(c.Values, v)
		}
		return ir.WalkAdvance
	})
	return c
}
