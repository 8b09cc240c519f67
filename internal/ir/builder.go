package ir

import "fmt"

// InsertionPoint is a position inside a block: right before Before, or at
// the end of Block when Before is NoOp.
type InsertionPoint struct {
	Block  BlockID
	Before OpID
}

// Builder creates ops at an insertion point.
type Builder struct {
	m  *Module
	ip InsertionPoint
}

// NewBuilder returns a builder with no insertion point.
func NewBuilder(m *Module) *Builder {
	return &Builder{m: m}
}

// Module returns the arena the builder writes into.
func (b *Builder) Module() *Module { return b.m }

// Save returns the current insertion point.
func (b *Builder) Save() InsertionPoint { return b.ip }

// Restore resets the insertion point.
func (b *Builder) Restore(ip InsertionPoint) { b.ip = ip }

// SetInsertionPointBefore positions the builder right before op.
func (b *Builder) SetInsertionPointBefore(op OpID) {
	b.ip = InsertionPoint{Block: b.m.ops[op].Parent, Before: op}
}

// SetInsertionPointAfter positions the builder right after op.
func (b *Builder) SetInsertionPointAfter(op OpID) {
	blk := b.m.ops[op].Parent
	ops := b.m.blocks[blk].Ops
	pos := b.m.Position(op)
	next := NoOp
	if pos+1 < len(ops) {
		next = ops[pos+1]
	}
	b.ip = InsertionPoint{Block: blk, Before: next}
}

// SetInsertionPointToStart positions the builder at the start of blk.
func (b *Builder) SetInsertionPointToStart(blk BlockID) {
	next := NoOp
	if ops := b.m.blocks[blk].Ops; len(ops) > 0 {
		next = ops[0]
	}
	b.ip = InsertionPoint{Block: blk, Before: next}
}

// SetInsertionPointToEnd positions the builder at the end of blk.
func (b *Builder) SetInsertionPointToEnd(blk BlockID) {
	b.ip = InsertionPoint{Block: blk, Before: NoOp}
}

// Insert attaches a detached op at the insertion point.
func (b *Builder) Insert(op OpID) OpID {
	if !b.ip.Block.IsValid() {
		panic("ir: builder has no insertion point")
	}
	if b.ip.Before.IsValid() {
		b.m.InsertBefore(b.ip.Before, op)
	} else {
		b.m.Append(b.ip.Block, op)
	}
	return op
}

// Create allocates an op and inserts it.
func (b *Builder) Create(kind Kind, operands []ValueID, resultTypes []*Type, attrs Attrs, numRegions int) OpID {
	return b.Insert(b.m.NewOp(kind, operands, resultTypes, attrs, numRegions))
}

func (b *Builder) create1(kind Kind, operands []ValueID, t *Type, attrs Attrs) ValueID {
	op := b.Create(kind, operands, []*Type{t}, attrs, 0)
	return b.m.ops[op].Results[0]
}

// ConstantIndex materializes an index constant.
func (b *Builder) ConstantIndex(v int64) ValueID {
	t := Index()
	return b.create1(KindConstant, nil, t, Attrs{AttrValue: IntAttr{Value: v, Type: t}})
}

// ConstantInt materializes an integer constant of type t.
func (b *Builder) ConstantInt(v int64, t *Type) ValueID {
	return b.create1(KindConstant, nil, t, Attrs{AttrValue: IntAttr{Value: v, Type: t}})
}

// ConstantFloat materializes a float constant of type t.
func (b *Builder) ConstantFloat(v float64, t *Type) ValueID {
	return b.create1(KindConstant, nil, t, Attrs{AttrValue: FloatAttr{Value: v, Type: t}})
}

// Constant materializes a constant from an attribute.
func (b *Builder) Constant(value Attr, t *Type) ValueID {
	return b.create1(KindConstant, nil, t, Attrs{AttrValue: value})
}

// Zero materializes a null pointer or zero aggregate of type t.
func (b *Builder) Zero(t *Type) ValueID {
	return b.create1(KindZero, nil, t, nil)
}

// Binary creates a two-operand arithmetic op typed like lhs.
func (b *Builder) Binary(kind Kind, lhs, rhs ValueID) ValueID {
	if !kind.IsBinaryArith() {
		panic(fmt.Sprintf("ir: %s is not a binary arithmetic op", kind))
	}
	return b.create1(kind, []ValueID{lhs, rhs}, b.m.Type(lhs), nil)
}

// CmpI creates an integer comparison with predicate pred.
func (b *Builder) CmpI(pred string, lhs, rhs ValueID) ValueID {
	return b.create1(KindCmpI, []ValueID{lhs, rhs}, Int(1), Attrs{AttrPredicate: StringAttr(pred)})
}

// CmpF creates a float comparison with predicate pred.
func (b *Builder) CmpF(pred string, lhs, rhs ValueID) ValueID {
	return b.create1(KindCmpF, []ValueID{lhs, rhs}, Int(1), Attrs{AttrPredicate: StringAttr(pred)})
}

// Select picks lhs when cond is true, rhs otherwise.
func (b *Builder) Select(cond, lhs, rhs ValueID) ValueID {
	return b.create1(KindSelect, []ValueID{cond, lhs, rhs}, b.m.Type(lhs), nil)
}

// IndexCast converts between index and integer types.
func (b *Builder) IndexCast(v ValueID, t *Type) ValueID {
	return b.create1(KindIndexCast, []ValueID{v}, t, nil)
}

// SIToFP converts a signed integer to float type t.
func (b *Builder) SIToFP(v ValueID, t *Type) ValueID {
	return b.create1(KindSIToFP, []ValueID{v}, t, nil)
}

// Yield terminates an scf region.
func (b *Builder) Yield(vals ...ValueID) OpID {
	return b.Create(KindYield, vals, nil, nil, 0)
}

// Return terminates a function body.
func (b *Builder) Return(vals ...ValueID) OpID {
	return b.Create(KindReturn, vals, nil, nil, 0)
}

// Call calls a module-level function by name.
func (b *Builder) Call(callee string, resultTypes []*Type, args ...ValueID) []ValueID {
	op := b.Create(KindCall, args, resultTypes, Attrs{AttrCallee: SymbolRefAttr(callee)}, 0)
	return append([]ValueID(nil), b.m.ops[op].Results...)
}

// FuncConstant takes the address of a function.
func (b *Builder) FuncConstant(callee string, t *Type) ValueID {
	return b.create1(KindFuncConstant, nil, t, Attrs{AttrCallee: SymbolRefAttr(callee)})
}

// ForBody fills the body of an scf.for and returns the yielded values.
type ForBody func(b *Builder, iv ValueID, iters []ValueID) []ValueID

// For creates an scf.for over [lb, ub) with step and loop-carried inits.
func (b *Builder) For(lb, ub, step ValueID, inits []ValueID, body ForBody) OpID {
	types := make([]*Type, len(inits))
	for i, v := range inits {
		types[i] = b.m.Type(v)
	}
	operands := append([]ValueID{lb, ub, step}, inits...)
	op := b.Create(KindFor, operands, types, nil, 1)
	blk := b.m.AddBlock(b.m.ops[op].Regions[0], append([]*Type{Index()}, types...)...)
	if body != nil {
		saved := b.Save()
		b.SetInsertionPointToEnd(blk)
		args := b.m.blocks[blk].Args
		yielded := body(b, args[0], append([]ValueID(nil), args[1:]...))
		b.Yield(yielded...)
		b.Restore(saved)
	}
	return op
}

// If creates an scf.if. Bodies return the values to yield; elseBody may be
// nil when the op has no results.
func (b *Builder) If(cond ValueID, resultTypes []*Type, thenBody, elseBody func(b *Builder) []ValueID) OpID {
	op := b.Create(KindIf, []ValueID{cond}, resultTypes, nil, 2)
	saved := b.Save()
	for i, body := range []func(*Builder) []ValueID{thenBody, elseBody} {
		blk := b.m.AddBlock(b.m.ops[op].Regions[i])
		b.SetInsertionPointToEnd(blk)
		var vals []ValueID
		if body != nil {
			vals = body(b)
		}
		b.Yield(vals...)
	}
	b.Restore(saved)
	return op
}

// WhileCond fills the before region of a while loop and returns the
// condition and the values forwarded to the after region.
type WhileCond func(b *Builder, args []ValueID) (ValueID, []ValueID)

// While creates an scf.while. The after body yields the next iteration's
// values.
func (b *Builder) While(inits []ValueID, afterTypes []*Type, cond WhileCond, after func(b *Builder, args []ValueID) []ValueID) OpID {
	types := make([]*Type, len(inits))
	for i, v := range inits {
		types[i] = b.m.Type(v)
	}
	op := b.Create(KindWhile, inits, afterTypes, nil, 2)
	saved := b.Save()
	before := b.m.AddBlock(b.m.ops[op].Regions[0], types...)
	b.SetInsertionPointToEnd(before)
	c, fwd := cond(b, append([]ValueID(nil), b.m.blocks[before].Args...))
	b.Create(KindCondition, append([]ValueID{c}, fwd...), nil, nil, 0)
	afterBlk := b.m.AddBlock(b.m.ops[op].Regions[1], afterTypes...)
	b.SetInsertionPointToEnd(afterBlk)
	b.Yield(after(b, append([]ValueID(nil), b.m.blocks[afterBlk].Args...))...)
	b.Restore(saved)
	return op
}

// Reducer fills one reduction region and returns the combined value.
type Reducer func(b *Builder, lhs, rhs ValueID) ValueID

// Parallel creates an scf.parallel. The body returns one contribution per
// reduction; reducers combine them.
func (b *Builder) Parallel(lbs, ubs, steps, inits []ValueID, body func(b *Builder, ivs []ValueID) []ValueID, reducers []Reducer) OpID {
	types := make([]*Type, len(inits))
	for i, v := range inits {
		types[i] = b.m.Type(v)
	}
	var operands []ValueID
	operands = append(operands, lbs...)
	operands = append(operands, ubs...)
	operands = append(operands, steps...)
	operands = append(operands, inits...)
	op := b.Create(KindParallel, operands, types, nil, 1)
	b.m.ops[op].Segments = []int{len(lbs), len(ubs), len(steps), len(inits)}
	idx := make([]*Type, len(lbs))
	for i := range idx {
		idx[i] = Index()
	}
	blk := b.m.AddBlock(b.m.ops[op].Regions[0], idx...)
	saved := b.Save()
	b.SetInsertionPointToEnd(blk)
	contrib := body(b, append([]ValueID(nil), b.m.blocks[blk].Args...))
	red := b.Create(KindReduce, contrib, nil, nil, len(reducers))
	for i, fn := range reducers {
		t := types[i]
		rb := b.m.AddBlock(b.m.ops[red].Regions[i], t, t)
		b.SetInsertionPointToEnd(rb)
		args := b.m.blocks[rb].Args
		v := fn(b, args[0], args[1])
		b.Create(KindReduceReturn, []ValueID{v}, nil, nil, 0)
	}
	b.Restore(saved)
	return op
}

// ExplicitParallel creates a util.parallel whose body receives per-slice
// lower and upper bounds plus the thread index.
func (b *Builder) ExplicitParallel(lbs, ubs, steps []ValueID, body func(b *Builder, lower, upper []ValueID, thread ValueID)) OpID {
	var operands []ValueID
	operands = append(operands, lbs...)
	operands = append(operands, ubs...)
	operands = append(operands, steps...)
	op := b.Create(KindExplicitParallel, operands, nil, nil, 1)
	b.m.ops[op].Segments = []int{len(lbs), len(ubs), len(steps)}
	n := len(lbs)
	args := make([]*Type, 2*n+1)
	for i := range args {
		args[i] = Index()
	}
	blk := b.m.AddBlock(b.m.ops[op].Regions[0], args...)
	saved := b.Save()
	b.SetInsertionPointToEnd(blk)
	a := append([]ValueID(nil), b.m.blocks[blk].Args...)
	if body != nil {
		body(b, a[:n], a[n:2*n], a[2*n])
	}
	b.Create(KindParallelYield, nil, nil, nil, 0)
	b.Restore(saved)
	return op
}

// EnvRegion creates a util.env_region tagged env.
func (b *Builder) EnvRegion(env string, resultTypes []*Type, body func(b *Builder) []ValueID) OpID {
	op := b.Create(KindEnvRegion, nil, resultTypes, Attrs{AttrEnvironment: StringAttr(env)}, 1)
	blk := b.m.AddBlock(b.m.ops[op].Regions[0])
	saved := b.Save()
	b.SetInsertionPointToEnd(blk)
	vals := body(b)
	b.Create(KindEnvYield, vals, nil, nil, 0)
	b.Restore(saved)
	return op
}

// Alloc creates a heap memref allocation.
func (b *Builder) Alloc(t *Type, dynSizes ...ValueID) ValueID {
	op := b.Create(KindAlloc, dynSizes, []*Type{t}, nil, 0)
	b.m.ops[op].Segments = []int{len(dynSizes), 0}
	return b.m.ops[op].Results[0]
}

// AllocWithSymbols creates an allocation with symbolic layout operands.
func (b *Builder) AllocWithSymbols(t *Type, dynSizes, symbols []ValueID) ValueID {
	op := b.Create(KindAlloc, append(append([]ValueID(nil), dynSizes...), symbols...), []*Type{t}, nil, 0)
	b.m.ops[op].Segments = []int{len(dynSizes), len(symbols)}
	return b.m.ops[op].Results[0]
}

// Alloca creates a stack memref allocation.
func (b *Builder) Alloca(t *Type, dynSizes ...ValueID) ValueID {
	op := b.Create(KindAlloca, dynSizes, []*Type{t}, nil, 0)
	b.m.ops[op].Segments = []int{len(dynSizes), 0}
	return b.m.ops[op].Results[0]
}

// Dealloc frees a heap memref.
func (b *Builder) Dealloc(mem ValueID) OpID {
	return b.Create(KindDealloc, []ValueID{mem}, nil, nil, 0)
}

// Load reads one element.
func (b *Builder) Load(mem ValueID, indices ...ValueID) ValueID {
	return b.create1(KindLoad, append([]ValueID{mem}, indices...), b.m.Type(mem).Elem, nil)
}

// Store writes one element.
func (b *Builder) Store(val, mem ValueID, indices ...ValueID) OpID {
	return b.Create(KindStore, append([]ValueID{val, mem}, indices...), nil, nil, 0)
}

// Dim returns the size of dimension i.
func (b *Builder) Dim(mem ValueID, i ValueID) ValueID {
	return b.create1(KindDim, []ValueID{mem, i}, Index(), nil)
}

// Cast creates a memref.cast to t.
func (b *Builder) Cast(mem ValueID, t *Type) ValueID {
	return b.create1(KindCast, []ValueID{mem}, t, nil)
}

// ChangeLayout creates a util.change_layout to t.
func (b *Builder) ChangeLayout(mem ValueID, t *Type) ValueID {
	return b.create1(KindChangeLayout, []ValueID{mem}, t, nil)
}

// SignCast creates a util.sign_cast to t.
func (b *Builder) SignCast(v ValueID, t *Type) ValueID {
	return b.create1(KindSignCast, []ValueID{v}, t, nil)
}

// ApplyOffset folds a view's offset into its base, producing type t.
func (b *Builder) ApplyOffset(mem ValueID, t *Type) ValueID {
	return b.create1(KindApplyOffset, []ValueID{mem}, t, nil)
}

// SubviewSpec describes a memref.subview. Static entries equal to Dynamic
// are taken, in order, from the matching operand list.
type SubviewSpec struct {
	Offsets, Sizes, Strides          []int64
	DynOffsets, DynSizes, DynStrides []ValueID
	DropDims                         []int64
}

// Subview creates a memref.subview producing result type t.
func (b *Builder) Subview(src ValueID, spec SubviewSpec, t *Type) ValueID {
	var operands []ValueID
	operands = append(operands, src)
	operands = append(operands, spec.DynOffsets...)
	operands = append(operands, spec.DynSizes...)
	operands = append(operands, spec.DynStrides...)
	attrs := Attrs{
		AttrStaticOffsets: DenseIntsAttr(spec.Offsets),
		AttrStaticSizes:   DenseIntsAttr(spec.Sizes),
		AttrStaticStrides: DenseIntsAttr(spec.Strides),
	}
	if len(spec.DropDims) > 0 {
		attrs[AttrDropDims] = DenseIntsAttr(spec.DropDims)
	}
	op := b.Create(KindSubview, operands, []*Type{t}, attrs, 0)
	b.m.ops[op].Segments = []int{1, len(spec.DynOffsets), len(spec.DynSizes), len(spec.DynStrides)}
	return b.m.ops[op].Results[0]
}

// PtrAlloca reserves count stack slots of elem.
func (b *Builder) PtrAlloca(elem *Type, count int64) ValueID {
	return b.create1(KindPtrAlloca, nil, Ptr(), Attrs{
		AttrElemType: TypeAttr{Type: elem},
		AttrCount:    IntAttr{Value: count},
	})
}

// GEP computes an element or field address. indices[0] selects the slot
// (Dynamic takes dyn); the rest is a field path into elem.
func (b *Builder) GEP(base ValueID, elem *Type, indices []int64, dyn ...ValueID) ValueID {
	return b.create1(KindGEP, append([]ValueID{base}, dyn...), Ptr(), Attrs{
		AttrElemType: TypeAttr{Type: elem},
		AttrIndices:  DenseIntsAttr(indices),
	})
}

// PtrLoad reads a value of type t through p.
func (b *Builder) PtrLoad(p ValueID, t *Type) ValueID {
	return b.create1(KindPtrLoad, []ValueID{p}, t, nil)
}

// PtrStore writes v through p.
func (b *Builder) PtrStore(v, p ValueID) OpID {
	return b.Create(KindPtrStore, []ValueID{v, p}, nil, nil, 0)
}

// StructUndef creates an aggregate with unspecified contents.
func (b *Builder) StructUndef(t *Type) ValueID {
	return b.create1(KindStructUndef, nil, t, nil)
}

// StructInsert returns agg with the field at pos replaced by v.
func (b *Builder) StructInsert(agg, v ValueID, pos ...int64) ValueID {
	return b.create1(KindStructInsert, []ValueID{agg, v}, b.m.Type(agg), Attrs{AttrPosition: DenseIntsAttr(pos)})
}

// StructExtract reads the field at pos.
func (b *Builder) StructExtract(agg ValueID, t *Type, pos ...int64) ValueID {
	return b.create1(KindStructExtract, []ValueID{agg}, t, Attrs{AttrPosition: DenseIntsAttr(pos)})
}

// MemrefFromParts builds a memref of type t from an allocation token, a
// data pointer, an element offset and shape/stride arrays (rank > 0).
func (b *Builder) MemrefFromParts(t *Type, token, data, offset, shape, strides ValueID) ValueID {
	operands := []ValueID{token, data, offset}
	if t.Rank() > 0 {
		operands = append(operands, shape, strides)
	}
	return b.create1(KindMemrefFromParts, operands, t, nil)
}

// MemrefToParts splits a memref into token, data pointer, offset and, for
// rank > 0, shape and stride arrays.
func (b *Builder) MemrefToParts(mem ValueID) []ValueID {
	t := b.m.Type(mem)
	types := []*Type{Ptr(), Ptr(), Int(64)}
	if r := t.Rank(); r > 0 {
		types = append(types, Array(r, Int(64)), Array(r, Int(64)))
	}
	op := b.Create(KindMemrefToParts, []ValueID{mem}, types, nil, 0)
	return append([]ValueID(nil), b.m.ops[op].Results...)
}

// CreateFunc appends a function definition with an entry block to the
// module and registers its symbol.
func (b *Builder) CreateFunc(name string, fnType *Type, private bool) (OpID, error) {
	op, err := b.declare(name, fnType, private)
	if err != nil {
		return NoOp, err
	}
	b.m.AddBlock(b.m.ops[op].Regions[0], fnType.Inputs...)
	return op, nil
}

// DeclareFunc appends a bodiless function declaration.
func (b *Builder) DeclareFunc(name string, fnType *Type) (OpID, error) {
	return b.declare(name, fnType, true)
}

func (b *Builder) declare(name string, fnType *Type, private bool) (OpID, error) {
	name = NormalizeSymbol(name)
	if b.m.symbols.Contains(name) {
		return NoOp, fmt.Errorf("symbol @%s is already defined", name)
	}
	attrs := Attrs{
		AttrSymName:      StringAttr(name),
		AttrFunctionType: TypeAttr{Type: fnType},
	}
	if private {
		attrs[AttrVisibility] = StringAttr(VisibilityPrivate)
	}
	op := b.m.NewOp(KindFunc, nil, nil, attrs, 1)
	b.m.Append(b.m.Body(), op)
	if err := b.m.symbols.Insert(name, op); err != nil {
		return NoOp, err
	}
	return op, nil
}

// LookupOrDeclare returns the function named name, declaring it with
// fnType when absent.
func (b *Builder) LookupOrDeclare(name string, fnType *Type) (OpID, error) {
	if op := b.m.symbols.Lookup(name); op.IsValid() {
		return op, nil
	}
	return b.DeclareFunc(name, fnType)
}
