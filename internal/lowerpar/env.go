package lowerpar

import (
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

// RemoveEnvPassName is the registered name of the env_region removal pass.
const RemoveEnvPassName = "remove-env-regions"

// RemoveEnvPatterns returns the env_region removal pattern set.
func RemoveEnvPatterns() []rewrite.Pattern {
	return []rewrite.Pattern{rewrite.New("inline-env-region", ir.KindEnvRegion, removeEnvRegion)}
}

// removeEnvRegion inlines the region's body into the parent block and
// replaces its results by the util.env_yield operands.
func removeEnvRegion(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	blocks := m.Region(m.Op(op).Regions[0]).Blocks
	if len(blocks) != 1 {
		return rewrite.Declined, rewrite.NewPassError(m, op, rewrite.ErrCodeMalformedIR,
			"util.env_region body must be a single block")
	}
	body := blocks[0]
	yield := m.Terminator(body)
	var vals []ir.ValueID
	if yield.IsValid() {
		vals = append(vals, m.Op(yield).Operands...)
		rw.EraseOp(yield)
	}
	m.InlineBlockBefore(body, op, nil)
	rw.ReplaceOp(op, vals...)
	return rewrite.Applied, nil
}
