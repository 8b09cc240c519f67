package ir

import (
	"errors"
	"fmt"
)

// VerifyError reports a malformed op.
type VerifyError struct {
	Op      OpID
	Kind    Kind
	Func    string
	Message string
}

func (e *VerifyError) Error() string {
	if e.Func != "" {
		return fmt.Sprintf("verify: '%s' op in @%s: %s", e.Kind, e.Func, e.Message)
	}
	return fmt.Sprintf("verify: '%s' op: %s", e.Kind, e.Message)
}

// IsVerifyError reports whether err wraps a VerifyError.
func IsVerifyError(err error) bool {
	var ve *VerifyError
	return errors.As(err, &ve)
}

// Verify checks structural invariants of the whole module: ownership links,
// operand dominance, terminators of structured ops and call targets.
func Verify(m *Module) error {
	var err error
	m.Walk(m.root, func(op OpID) WalkResult {
		if e := m.verifyOp(op); e != nil {
			err = e
			return WalkInterrupt
		}
		return WalkAdvance
	})
	return err
}

func (m *Module) verifyErr(op OpID, format string, args ...any) error {
	e := &VerifyError{Op: op, Kind: m.ops[op].Kind, Message: fmt.Sprintf(format, args...)}
	if fn := m.ParentFunc(op); fn.IsValid() {
		e.Func = AsFunc(m, fn).Name()
	}
	return e
}

func (m *Module) verifyOp(op OpID) error {
	o := m.ops[op]
	if op != m.root {
		if !o.Parent.IsValid() {
			return m.verifyErr(op, "op is not attached to a block")
		}
		if m.Position(op) < 0 {
			return m.verifyErr(op, "parent block does not list the op")
		}
	}
	for _, r := range o.Regions {
		if m.regions[r].Parent != op {
			return m.verifyErr(op, "region parent link is broken")
		}
		for _, b := range m.regions[r].Blocks {
			if m.blocks[b].Parent != r {
				return m.verifyErr(op, "block parent link is broken")
			}
		}
	}
	if seg := o.Segments; seg != nil {
		total := 0
		for _, n := range seg {
			total += n
		}
		if total != len(o.Operands) {
			return m.verifyErr(op, "operand segments sum to %d, have %d operands", total, len(o.Operands))
		}
	}
	for i, v := range o.Operands {
		if !v.IsValid() || int(v) >= len(m.values) {
			return m.verifyErr(op, "operand #%d is invalid", i)
		}
		if !m.dominates(v, op) {
			return m.verifyErr(op, "operand #%d does not dominate its use", i)
		}
	}
	return m.verifyKind(op)
}

// dominates reports whether v is visible at op: defined earlier in the
// same block, as an argument of an enclosing block, or above an enclosing
// op, without crossing an isolated-from-above boundary.
func (m *Module) dominates(v ValueID, op OpID) bool {
	defBlock := m.ValueBlock(v)
	if !defBlock.IsValid() {
		return false
	}
	def := m.values[v].Def
	if def.IsValid() && m.ops[def].erased {
		return false
	}
	cur := op
	for {
		blk := m.ops[cur].Parent
		if !blk.IsValid() {
			return false
		}
		if blk == defBlock {
			if !def.IsValid() {
				return true
			}
			return m.Position(def) < m.Position(cur)
		}
		owner := m.BlockParentOp(blk)
		if !owner.IsValid() || m.ops[owner].Kind.Has(TraitIsolated) {
			return false
		}
		cur = owner
	}
}

func (m *Module) singleBlockWith(op OpID, region int, term Kind) error {
	r := m.ops[op].Regions[region]
	if n := len(m.regions[r].Blocks); n != 1 {
		return m.verifyErr(op, "region #%d must have exactly one block, has %d", region, n)
	}
	t := m.Terminator(m.regions[r].Blocks[0])
	if !t.IsValid() || m.ops[t].Kind != term {
		return m.verifyErr(op, "region #%d must end with '%s'", region, term)
	}
	return nil
}

func (m *Module) verifyKind(op OpID) error {
	o := m.ops[op]
	switch o.Kind {
	case KindFunc:
		f := AsFunc(m, op)
		if f.Type() == nil || f.Type().Kind != TypeFunc {
			return m.verifyErr(op, "missing function type")
		}
		if f.IsDeclaration() {
			return nil
		}
		entry := f.Entry()
		if !TypesEqual(m.argTypes(entry), f.Type().Inputs) {
			return m.verifyErr(op, "entry block arguments do not match the function type")
		}
		t := m.Terminator(entry)
		if !t.IsValid() || m.ops[t].Kind != KindReturn {
			return m.verifyErr(op, "function body must end with 'func.return'")
		}
	case KindReturn:
		fn := m.ParentOp(op)
		if !fn.IsValid() || m.ops[fn].Kind != KindFunc {
			return m.verifyErr(op, "must be directly inside 'func.func'")
		}
		want := AsFunc(m, fn).Type().Results
		if !TypesEqual(m.operandTypes(op), want) {
			return m.verifyErr(op, "returned types do not match the function results")
		}
	case KindCall, KindFuncConstant:
		callee, _ := o.Attrs.Symbol(AttrCallee)
		if !m.symbols.Lookup(callee).IsValid() {
			return m.verifyErr(op, "callee @%s is not defined", callee)
		}
	case KindFor:
		if len(o.Operands) < 3 {
			return m.verifyErr(op, "expects lower bound, upper bound and step")
		}
		if err := m.singleBlockWith(op, 0, KindYield); err != nil {
			return err
		}
		f := ForOp{M: m, ID: op}
		if len(f.Inits()) != len(o.Results) || len(f.IterArgs()) != len(o.Results) {
			return m.verifyErr(op, "iter_args and results mismatch")
		}
		if len(m.ops[f.Yield()].Operands) != len(o.Results) {
			return m.verifyErr(op, "yield count does not match results")
		}
		for i, r := range o.Results {
			if !m.Type(f.Inits()[i]).Equal(m.Type(r)) || !m.Type(f.IterArgs()[i]).Equal(m.Type(r)) {
				return m.verifyErr(op, "iter_arg #%d type mismatch", i)
			}
		}
	case KindIf:
		for i := range o.Regions {
			if err := m.singleBlockWith(op, i, KindYield); err != nil {
				return err
			}
			y := m.Terminator(m.BodyBlock(op, i))
			if len(m.ops[y].Operands) != len(o.Results) {
				return m.verifyErr(op, "branch #%d yields %d values, want %d", i, len(m.ops[y].Operands), len(o.Results))
			}
		}
	case KindWhile:
		if err := m.singleBlockWith(op, 0, KindCondition); err != nil {
			return err
		}
		if err := m.singleBlockWith(op, 1, KindYield); err != nil {
			return err
		}
	case KindParallel:
		if len(o.Segments) != 4 {
			return m.verifyErr(op, "expects four operand segments")
		}
		if err := m.singleBlockWith(op, 0, KindReduce); err != nil {
			return err
		}
		p := ParallelOp{M: m, ID: op}
		red := m.ops[p.Reduce()]
		if len(red.Operands) != len(o.Results) || len(red.Regions) != len(o.Results) {
			return m.verifyErr(op, "reduce arity does not match results")
		}
	case KindReduce:
		for i, r := range o.Regions {
			if len(m.regions[r].Blocks) == 0 {
				return m.verifyErr(op, "reduction region #%d is empty", i)
			}
		}
	case KindExplicitParallel:
		if len(o.Segments) != 3 {
			return m.verifyErr(op, "expects three operand segments")
		}
		if err := m.singleBlockWith(op, 0, KindParallelYield); err != nil {
			return err
		}
		p := ExplicitParallelOp{M: m, ID: op}
		if len(m.blocks[p.Body()].Args) != 2*p.NumDims()+1 {
			return m.verifyErr(op, "body must take 2N+1 arguments")
		}
	case KindEnvRegion:
		if err := m.singleBlockWith(op, 0, KindEnvYield); err != nil {
			return err
		}
	case KindLoad:
		mt := m.Type(o.Operands[0])
		if !mt.IsMemRef() || len(o.Operands)-1 != mt.Rank() {
			return m.verifyErr(op, "expects a memref and one index per dimension")
		}
	case KindStore:
		mt := m.Type(o.Operands[1])
		if !mt.IsMemRef() || len(o.Operands)-2 != mt.Rank() {
			return m.verifyErr(op, "expects a memref and one index per dimension")
		}
		if !m.Type(o.Operands[0]).Equal(mt.Elem) {
			return m.verifyErr(op, "stored value type %s does not match element type %s", m.Type(o.Operands[0]), mt.Elem)
		}
	case KindCast:
		if !CastCompatible(m.Type(o.Operands[0]), m.Type(o.Results[0])) {
			return m.verifyErr(op, "incompatible cast %s -> %s", m.Type(o.Operands[0]), m.Type(o.Results[0]))
		}
	}
	if o.Kind.Has(TraitTerminator) && o.Parent.IsValid() {
		ops := m.blocks[o.Parent].Ops
		if ops[len(ops)-1] != op {
			return m.verifyErr(op, "terminator must be the last op of its block")
		}
	}
	return nil
}

func (m *Module) argTypes(b BlockID) []*Type {
	out := make([]*Type, len(m.blocks[b].Args))
	for i, a := range m.blocks[b].Args {
		out[i] = m.values[a].Type
	}
	return out
}

func (m *Module) operandTypes(op OpID) []*Type {
	out := make([]*Type, len(m.ops[op].Operands))
	for i, v := range m.ops[op].Operands {
		out[i] = m.values[v].Type
	}
	return out
}

// ResultTypes returns the result types of op.
func (m *Module) ResultTypes(op OpID) []*Type {
	out := make([]*Type, len(m.ops[op].Results))
	for i, v := range m.ops[op].Results {
		out[i] = m.values[v].Type
	}
	return out
}

// OperandTypes returns the operand types of op.
func (m *Module) OperandTypes(op OpID) []*Type { return m.operandTypes(op) }
