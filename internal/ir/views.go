package ir

// SegmentOperands returns operand group i of an op with Segments.
func (m *Module) SegmentOperands(op OpID, i int) []ValueID {
	o := m.ops[op]
	if o.Segments == nil {
		if i == 0 {
			return o.Operands
		}
		return nil
	}
	start := 0
	for j := 0; j < i; j++ {
		start += o.Segments[j]
	}
	return o.Operands[start : start+o.Segments[i]]
}

// FuncOp is a view of a func.func.
type FuncOp struct {
	M  *Module
	ID OpID
}

// AsFunc wraps op as a function view.
func AsFunc(m *Module, op OpID) FuncOp { return FuncOp{M: m, ID: op} }

func (f FuncOp) Attrs() Attrs { return f.M.ops[f.ID].Attrs }

// Name returns the symbol name.
func (f FuncOp) Name() string {
	s, _ := f.Attrs().Str(AttrSymName)
	return s
}

// Type returns the function type.
func (f FuncOp) Type() *Type { return f.Attrs().TypeOf(AttrFunctionType) }

// SetType replaces the function type attribute.
func (f FuncOp) SetType(t *Type) { f.Attrs()[AttrFunctionType] = TypeAttr{Type: t} }

// IsPrivate reports whether the function is not externally visible.
func (f FuncOp) IsPrivate() bool {
	v, _ := f.Attrs().Str(AttrVisibility)
	return v == VisibilityPrivate
}

// IsDeclaration reports whether the function has no body.
func (f FuncOp) IsDeclaration() bool {
	return len(f.M.regions[f.M.ops[f.ID].Regions[0]].Blocks) == 0
}

// Entry returns the entry block, or NoBlock for declarations.
func (f FuncOp) Entry() BlockID { return f.M.BodyBlock(f.ID, 0) }

// Args returns the entry block arguments.
func (f FuncOp) Args() []ValueID { return f.M.blocks[f.Entry()].Args }

// MaxConcurrency returns the max_concurrency attribute.
func (f FuncOp) MaxConcurrency() (int64, bool) { return f.Attrs().Int(AttrMaxConcurrency) }

// SetMaxConcurrency sets the max_concurrency attribute.
func (f FuncOp) SetMaxConcurrency(n int64) {
	f.Attrs()[AttrMaxConcurrency] = IntAttr{Value: n, Type: Int(64)}
}

// HasFastmath reports whether the fastmath flag is set.
func (f FuncOp) HasFastmath() bool { return f.Attrs().Has(AttrFastmath) }

// ForOp is a view of scf.for: operands (lb, ub, step, inits...), one body
// block with (iv, iters...), terminated by scf.yield.
type ForOp struct {
	M  *Module
	ID OpID
}

func (f ForOp) LowerBound() ValueID { return f.M.ops[f.ID].Operands[0] }
func (f ForOp) UpperBound() ValueID { return f.M.ops[f.ID].Operands[1] }
func (f ForOp) Step() ValueID       { return f.M.ops[f.ID].Operands[2] }
func (f ForOp) Inits() []ValueID    { return f.M.ops[f.ID].Operands[3:] }
func (f ForOp) Body() BlockID       { return f.M.BodyBlock(f.ID, 0) }
func (f ForOp) IV() ValueID         { return f.M.blocks[f.Body()].Args[0] }
func (f ForOp) IterArgs() []ValueID { return f.M.blocks[f.Body()].Args[1:] }
func (f ForOp) Yield() OpID         { return f.M.Terminator(f.Body()) }

// ParallelOp is a view of scf.parallel: segments (lbs, ubs, steps, inits),
// one body block with N induction variables, terminated by scf.reduce whose
// regions combine (lhs, rhs) pairs.
type ParallelOp struct {
	M  *Module
	ID OpID
}

func (p ParallelOp) LowerBounds() []ValueID { return p.M.SegmentOperands(p.ID, 0) }
func (p ParallelOp) UpperBounds() []ValueID { return p.M.SegmentOperands(p.ID, 1) }
func (p ParallelOp) Steps() []ValueID       { return p.M.SegmentOperands(p.ID, 2) }
func (p ParallelOp) Inits() []ValueID       { return p.M.SegmentOperands(p.ID, 3) }
func (p ParallelOp) NumDims() int           { return len(p.LowerBounds()) }
func (p ParallelOp) Body() BlockID          { return p.M.BodyBlock(p.ID, 0) }
func (p ParallelOp) IVs() []ValueID         { return p.M.blocks[p.Body()].Args }
func (p ParallelOp) Reduce() OpID           { return p.M.Terminator(p.Body()) }
func (p ParallelOp) NumReductions() int     { return len(p.M.ops[p.ID].Results) }

// ReductionRegion returns the combining region of reduction i.
func (p ParallelOp) ReductionRegion(i int) RegionID {
	return p.M.ops[p.Reduce()].Regions[i]
}

// ExplicitParallelOp is a view of util.parallel: segments (lbs, ubs,
// steps), one body block with 2N+1 index arguments (N slice lower bounds,
// N slice upper bounds, thread index), terminated by util.yield.
type ExplicitParallelOp struct {
	M  *Module
	ID OpID
}

func (p ExplicitParallelOp) LowerBounds() []ValueID { return p.M.SegmentOperands(p.ID, 0) }
func (p ExplicitParallelOp) UpperBounds() []ValueID { return p.M.SegmentOperands(p.ID, 1) }
func (p ExplicitParallelOp) Steps() []ValueID       { return p.M.SegmentOperands(p.ID, 2) }
func (p ExplicitParallelOp) NumDims() int           { return len(p.LowerBounds()) }
func (p ExplicitParallelOp) Body() BlockID          { return p.M.BodyBlock(p.ID, 0) }

// ThreadIndex returns the thread index block argument.
func (p ExplicitParallelOp) ThreadIndex() ValueID {
	args := p.M.blocks[p.Body()].Args
	return args[len(args)-1]
}

// AllocOp is a view of memref.alloc / memref.alloca.
type AllocOp struct {
	M  *Module
	ID OpID
}

func (a AllocOp) Result() ValueID           { return a.M.ops[a.ID].Results[0] }
func (a AllocOp) Type() *Type               { return a.M.Type(a.Result()) }
func (a AllocOp) DynamicSizes() []ValueID   { return a.M.SegmentOperands(a.ID, 0) }
func (a AllocOp) SymbolOperands() []ValueID { return a.M.SegmentOperands(a.ID, 1) }

// SubviewOp is a view of memref.subview.
type SubviewOp struct {
	M  *Module
	ID OpID
}

// OpFoldResult is either a static integer or an SSA value.
type OpFoldResult struct {
	Static int64
	Value  ValueID
}

func (s SubviewOp) Source() ValueID { return s.M.ops[s.ID].Operands[0] }

func (s SubviewOp) mixed(attr string, seg int) []OpFoldResult {
	static := s.M.ops[s.ID].Attrs.Ints(attr)
	dyn := s.M.SegmentOperands(s.ID, seg)
	out := make([]OpFoldResult, len(static))
	j := 0
	for i, v := range static {
		if IsDynamic(v) {
			out[i] = OpFoldResult{Static: Dynamic, Value: dyn[j]}
			j++
			continue
		}
		out[i] = OpFoldResult{Static: v}
	}
	return out
}

func (s SubviewOp) Offsets() []OpFoldResult { return s.mixed(AttrStaticOffsets, 1) }
func (s SubviewOp) Sizes() []OpFoldResult   { return s.mixed(AttrStaticSizes, 2) }
func (s SubviewOp) Strides() []OpFoldResult { return s.mixed(AttrStaticStrides, 3) }

// Spec reconstructs the builder description of this subview.
func (s SubviewOp) Spec() SubviewSpec {
	a := s.M.ops[s.ID].Attrs
	return SubviewSpec{
		Offsets:    append([]int64(nil), a.Ints(AttrStaticOffsets)...),
		Sizes:      append([]int64(nil), a.Ints(AttrStaticSizes)...),
		Strides:    append([]int64(nil), a.Ints(AttrStaticStrides)...),
		DynOffsets: append([]ValueID(nil), s.M.SegmentOperands(s.ID, 1)...),
		DynSizes:   append([]ValueID(nil), s.M.SegmentOperands(s.ID, 2)...),
		DynStrides: append([]ValueID(nil), s.M.SegmentOperands(s.ID, 3)...),
		DropDims:   append([]int64(nil), a.Ints(AttrDropDims)...),
	}
}

// ConstantValue returns the attribute of an arith.constant defining v.
func (m *Module) ConstantValue(v ValueID) (Attr, bool) {
	def := m.values[v].Def
	if !def.IsValid() || m.ops[def].Kind != KindConstant {
		return nil, false
	}
	a, ok := m.ops[def].Attrs[AttrValue]
	return a, ok
}

// ConstantInt returns the integer value of a constant-defined v.
func (m *Module) ConstantInt(v ValueID) (int64, bool) {
	a, ok := m.ConstantValue(v)
	if !ok {
		return 0, false
	}
	ia, ok := a.(IntAttr)
	return ia.Value, ok
}
