package ir

import (
	"fmt"
	"slices"
)

// Op is an operation node. Operands reference values; regions are owned.
type Op struct {
	Kind     Kind
	Operands []ValueID
	Results  []ValueID
	Regions  []RegionID
	Attrs    Attrs
	// Segments holds operand group sizes for kinds with several variadic
	// operand groups (scf.parallel, memref.subview, allocations). Nil when
	// the kind has a single group.
	Segments []int
	Parent   BlockID
	erased   bool
}

// Block is an ordered list of operations with typed arguments.
type Block struct {
	Args   []ValueID
	Ops    []OpID
	Parent RegionID
}

// Region is a list of blocks owned by exactly one operation.
type Region struct {
	Blocks []BlockID
	Parent OpID
}

// Use records that operand Index of Op reads a value.
type Use struct {
	Op    OpID
	Index int
}

// Value is an SSA value: an op result or a block argument.
type Value struct {
	Type  *Type
	Def   OpID    // NoOp for block arguments
	Block BlockID // owning block for block arguments
	Index int     // result number or argument number
	uses  []Use
}

// Module is the arena that owns every node of one compilation unit.
// All cross references are IDs into the arena; the root op is a
// builtin.module whose single block holds the functions.
type Module struct {
	ops     []*Op
	blocks  []*Block
	regions []*Region
	values  []*Value
	root    OpID
	symbols *SymbolTable
	anchors map[OpID]OpID
}

// NewModule creates an empty compilation unit.
func NewModule() *Module {
	m := &Module{
		ops:     []*Op{nil},
		blocks:  []*Block{nil},
		regions: []*Region{nil},
		values:  []*Value{nil},
		anchors: make(map[OpID]OpID),
	}
	m.root = m.NewOp(KindModule, nil, nil, nil, 1)
	m.AddBlock(m.ops[m.root].Regions[0])
	m.symbols = newSymbolTable(m)
	return m
}

// Root returns the builtin.module op.
func (m *Module) Root() OpID { return m.root }

// Body returns the block holding module-level ops.
func (m *Module) Body() BlockID {
	return m.regions[m.ops[m.root].Regions[0]].Blocks[0]
}

// Symbols returns the module symbol table.
func (m *Module) Symbols() *SymbolTable { return m.symbols }

func (m *Module) Op(id OpID) *Op             { return m.ops[id] }
func (m *Module) Block(id BlockID) *Block    { return m.blocks[id] }
func (m *Module) Region(id RegionID) *Region { return m.regions[id] }
func (m *Module) Value(id ValueID) *Value    { return m.values[id] }

// Type returns the type of a value.
func (m *Module) Type(v ValueID) *Type { return m.values[v].Type }

// SetType changes the type of a value in place. Callers must keep users
// consistent.
func (m *Module) SetType(v ValueID, t *Type) { m.values[v].Type = t }

// NumValues returns the size of the value arena, including the invalid slot.
func (m *Module) NumValues() int { return len(m.values) }

// Kind returns the kind of an op.
func (m *Module) Kind(op OpID) Kind { return m.ops[op].Kind }

// Result returns result i of op.
func (m *Module) Result(op OpID, i int) ValueID { return m.ops[op].Results[i] }

// Operand returns operand i of op.
func (m *Module) Operand(op OpID, i int) ValueID { return m.ops[op].Operands[i] }

// IsErased reports whether op has been erased.
func (m *Module) IsErased(op OpID) bool { return m.ops[op].erased }

// NewOp allocates a detached op with fresh results and empty regions.
func (m *Module) NewOp(kind Kind, operands []ValueID, resultTypes []*Type, attrs Attrs, numRegions int) OpID {
	id := OpID(len(m.ops))
	op := &Op{Kind: kind, Attrs: attrs}
	m.ops = append(m.ops, op)
	if op.Attrs == nil {
		op.Attrs = Attrs{}
	}
	op.Operands = append([]ValueID(nil), operands...)
	for i, v := range op.Operands {
		m.values[v].uses = append(m.values[v].uses, Use{Op: id, Index: i})
	}
	for i, t := range resultTypes {
		op.Results = append(op.Results, m.newValue(t, id, NoBlock, i))
	}
	for i := 0; i < numRegions; i++ {
		op.Regions = append(op.Regions, m.newRegion(id))
	}
	return id
}

func (m *Module) newValue(t *Type, def OpID, block BlockID, index int) ValueID {
	id := ValueID(len(m.values))
	m.values = append(m.values, &Value{Type: t, Def: def, Block: block, Index: index})
	return id
}

func (m *Module) newRegion(parent OpID) RegionID {
	id := RegionID(len(m.regions))
	m.regions = append(m.regions, &Region{Parent: parent})
	return id
}

// AddBlock appends a new block with the given argument types to r.
func (m *Module) AddBlock(r RegionID, argTypes ...*Type) BlockID {
	id := BlockID(len(m.blocks))
	b := &Block{Parent: r}
	m.blocks = append(m.blocks, b)
	for i, t := range argTypes {
		b.Args = append(b.Args, m.newValue(t, NoOp, id, i))
	}
	m.regions[r].Blocks = append(m.regions[r].Blocks, id)
	return id
}

// AddBlockArg appends an argument to b.
func (m *Module) AddBlockArg(b BlockID, t *Type) ValueID {
	blk := m.blocks[b]
	v := m.newValue(t, NoOp, b, len(blk.Args))
	blk.Args = append(blk.Args, v)
	return v
}

// InsertBlockArg inserts an argument at position idx of b.
func (m *Module) InsertBlockArg(b BlockID, idx int, t *Type) ValueID {
	blk := m.blocks[b]
	v := m.newValue(t, NoOp, b, idx)
	blk.Args = slices.Insert(blk.Args, idx, v)
	m.renumberArgs(b)
	return v
}

// EraseBlockArg removes argument idx of b. The argument must be unused.
func (m *Module) EraseBlockArg(b BlockID, idx int) {
	blk := m.blocks[b]
	if len(m.values[blk.Args[idx]].uses) > 0 {
		panic(fmt.Sprintf("ir: erasing block argument %d with live uses", idx))
	}
	blk.Args = slices.Delete(blk.Args, idx, idx+1)
	m.renumberArgs(b)
}

func (m *Module) renumberArgs(b BlockID) {
	for i, v := range m.blocks[b].Args {
		m.values[v].Index = i
	}
}

// EntryBlock returns the first block of r, or NoBlock when r is empty.
func (m *Module) EntryBlock(r RegionID) BlockID {
	if len(m.regions[r].Blocks) == 0 {
		return NoBlock
	}
	return m.regions[r].Blocks[0]
}

// BodyBlock returns the entry block of region i of op.
func (m *Module) BodyBlock(op OpID, i int) BlockID {
	return m.EntryBlock(m.ops[op].Regions[i])
}

// Terminator returns the last op of b, or NoOp if b is empty.
func (m *Module) Terminator(b BlockID) OpID {
	ops := m.blocks[b].Ops
	if len(ops) == 0 {
		return NoOp
	}
	last := ops[len(ops)-1]
	if !m.ops[last].Kind.Has(TraitTerminator) {
		return NoOp
	}
	return last
}

// Position returns the index of op inside its parent block, or -1.
func (m *Module) Position(op OpID) int {
	p := m.ops[op].Parent
	if !p.IsValid() {
		return -1
	}
	return slices.Index(m.blocks[p].Ops, op)
}

// Insert attaches a detached op at position pos of block b.
func (m *Module) Insert(b BlockID, pos int, op OpID) {
	o := m.ops[op]
	if o.Parent.IsValid() {
		panic(fmt.Sprintf("ir: op %s is already attached", o.Kind))
	}
	blk := m.blocks[b]
	blk.Ops = slices.Insert(blk.Ops, pos, op)
	o.Parent = b
}

// Append attaches a detached op at the end of b.
func (m *Module) Append(b BlockID, op OpID) {
	m.Insert(b, len(m.blocks[b].Ops), op)
}

// InsertBefore attaches op right before anchor.
func (m *Module) InsertBefore(anchor, op OpID) {
	m.Insert(m.ops[anchor].Parent, m.Position(anchor), op)
}

// InsertAfter attaches op right after anchor.
func (m *Module) InsertAfter(anchor, op OpID) {
	m.Insert(m.ops[anchor].Parent, m.Position(anchor)+1, op)
}

// Detach removes op from its block without erasing it.
func (m *Module) Detach(op OpID) {
	o := m.ops[op]
	if !o.Parent.IsValid() {
		return
	}
	blk := m.blocks[o.Parent]
	if i := slices.Index(blk.Ops, op); i >= 0 {
		blk.Ops = slices.Delete(blk.Ops, i, i+1)
	}
	o.Parent = NoBlock
}

// MoveBefore detaches op and reattaches it right before anchor.
func (m *Module) MoveBefore(op, anchor OpID) {
	m.Detach(op)
	m.InsertBefore(anchor, op)
}

// Erase removes op and everything nested in it. Results must be unused
// outside of the erased subtree.
func (m *Module) Erase(op OpID) {
	o := m.ops[op]
	if o.erased {
		return
	}
	for _, r := range o.Regions {
		for _, b := range m.regions[r].Blocks {
			ops := m.blocks[b].Ops
			for i := len(ops) - 1; i >= 0; i-- {
				m.dropAllUses(ops[i])
			}
		}
	}
	for _, res := range o.Results {
		if len(m.values[res].uses) > 0 {
			panic(fmt.Sprintf("ir: erasing %s whose result still has %d uses", o.Kind, len(m.values[res].uses)))
		}
	}
	m.eraseTree(op)
	m.Detach(op)
}

// dropAllUses clears operand references of op and its nested ops so that
// a subtree can be erased regardless of internal def-use edges.
func (m *Module) dropAllUses(op OpID) {
	o := m.ops[op]
	for i := range o.Operands {
		m.removeUse(o.Operands[i], op, i)
	}
	o.Operands = nil
	for _, r := range o.Regions {
		for _, b := range m.regions[r].Blocks {
			for _, inner := range m.blocks[b].Ops {
				m.dropAllUses(inner)
			}
		}
	}
}

func (m *Module) eraseTree(op OpID) {
	o := m.ops[op]
	for i := range o.Operands {
		m.removeUse(o.Operands[i], op, i)
	}
	o.Operands = nil
	for _, r := range o.Regions {
		for _, b := range m.regions[r].Blocks {
			for _, inner := range m.blocks[b].Ops {
				m.eraseTree(inner)
			}
		}
	}
	o.erased = true
	if name, ok := o.Attrs.Str(AttrSymName); ok && o.Kind == KindFunc {
		m.symbols.remove(name, op)
	}
	delete(m.anchors, op)
}

func (m *Module) removeUse(v ValueID, op OpID, index int) {
	if !v.IsValid() {
		return
	}
	val := m.values[v]
	for i, u := range val.uses {
		if u.Op == op && u.Index == index {
			val.uses = slices.Delete(val.uses, i, i+1)
			return
		}
	}
}

// SetOperand replaces operand i of op.
func (m *Module) SetOperand(op OpID, i int, v ValueID) {
	o := m.ops[op]
	m.removeUse(o.Operands[i], op, i)
	o.Operands[i] = v
	m.values[v].uses = append(m.values[v].uses, Use{Op: op, Index: i})
}

// SetOperands replaces the whole operand list of op.
func (m *Module) SetOperands(op OpID, vals []ValueID) {
	o := m.ops[op]
	for i, v := range o.Operands {
		m.removeUse(v, op, i)
	}
	o.Operands = append([]ValueID(nil), vals...)
	for i, v := range o.Operands {
		m.values[v].uses = append(m.values[v].uses, Use{Op: op, Index: i})
	}
}

// Uses returns a snapshot of the uses of v.
func (m *Module) Uses(v ValueID) []Use {
	return append([]Use(nil), m.values[v].uses...)
}

// Users returns the distinct ops using v, in use order.
func (m *Module) Users(v ValueID) []OpID {
	var out []OpID
	for _, u := range m.values[v].uses {
		if !slices.Contains(out, u.Op) {
			out = append(out, u.Op)
		}
	}
	return out
}

// HasUses reports whether v has at least one use.
func (m *Module) HasUses(v ValueID) bool { return len(m.values[v].uses) > 0 }

// HasOneUse reports whether v is used exactly once.
func (m *Module) HasOneUse(v ValueID) bool { return len(m.values[v].uses) == 1 }

// ResultsUnused reports whether no result of op has uses.
func (m *Module) ResultsUnused(op OpID) bool {
	for _, r := range m.ops[op].Results {
		if m.HasUses(r) {
			return false
		}
	}
	return true
}

// ReplaceAllUses redirects every use of old to repl.
func (m *Module) ReplaceAllUses(old, repl ValueID) {
	if old == repl {
		return
	}
	for _, u := range m.Uses(old) {
		m.SetOperand(u.Op, u.Index, repl)
	}
}

// ReplaceAllUsesExcept redirects every use of old to repl except uses by
// the op except.
func (m *Module) ReplaceAllUsesExcept(old, repl ValueID, except OpID) {
	for _, u := range m.Uses(old) {
		if u.Op == except {
			continue
		}
		m.SetOperand(u.Op, u.Index, repl)
	}
}

// DefiningOp returns the op producing v, or NoOp for block arguments.
func (m *Module) DefiningOp(v ValueID) OpID { return m.values[v].Def }

// DefiningKind returns the kind of v's defining op, or KindInvalid.
func (m *Module) DefiningKind(v ValueID) Kind {
	def := m.values[v].Def
	if !def.IsValid() {
		return KindInvalid
	}
	return m.ops[def].Kind
}

// ValueBlock returns the block in which v is defined.
func (m *Module) ValueBlock(v ValueID) BlockID {
	val := m.values[v]
	if val.Def.IsValid() {
		return m.ops[val.Def].Parent
	}
	return val.Block
}

// ParentOp returns the op owning the region that contains op.
func (m *Module) ParentOp(op OpID) OpID {
	b := m.ops[op].Parent
	if !b.IsValid() {
		return NoOp
	}
	return m.BlockParentOp(b)
}

// BlockParentOp returns the op owning block b.
func (m *Module) BlockParentOp(b BlockID) OpID {
	return m.regions[m.blocks[b].Parent].Parent
}

// ParentRegion returns the region containing op.
func (m *Module) ParentRegion(op OpID) RegionID {
	b := m.ops[op].Parent
	if !b.IsValid() {
		return NoRegion
	}
	return m.blocks[b].Parent
}

// ParentOfKind returns the nearest proper ancestor of op with the given
// kind, or NoOp.
func (m *Module) ParentOfKind(op OpID, kind Kind) OpID {
	for p := m.ParentOp(op); p.IsValid(); p = m.ParentOp(p) {
		if m.ops[p].Kind == kind {
			return p
		}
	}
	return NoOp
}

// ParentFunc returns the func.func containing op.
func (m *Module) ParentFunc(op OpID) OpID {
	if m.ops[op].Kind == KindFunc {
		return op
	}
	return m.ParentOfKind(op, KindFunc)
}

// IsProperAncestor reports whether ancestor strictly contains op.
func (m *Module) IsProperAncestor(ancestor, op OpID) bool {
	for p := m.ParentOp(op); p.IsValid(); p = m.ParentOp(p) {
		if p == ancestor {
			return true
		}
	}
	return false
}

// IsDefinedInside reports whether v is defined within one of op's regions.
func (m *Module) IsDefinedInside(v ValueID, op OpID) bool {
	b := m.ValueBlock(v)
	if !b.IsValid() {
		return false
	}
	owner := m.BlockParentOp(b)
	return owner == op || m.IsProperAncestor(op, owner)
}

// AnyOperandDefinedInside reports whether some operand of op is defined in
// one of parent's regions.
func (m *Module) AnyOperandDefinedInside(op, parent OpID) bool {
	for _, v := range m.ops[op].Operands {
		if m.IsDefinedInside(v, parent) {
			return true
		}
	}
	return false
}

// WalkResult steers Walk.
type WalkResult int

const (
	WalkAdvance WalkResult = iota
	WalkSkip               // do not descend into the current op's regions
	WalkInterrupt
)

// Walk visits op and every nested op in pre-order. It returns false when
// the callback interrupted the walk.
func (m *Module) Walk(op OpID, fn func(OpID) WalkResult) bool {
	switch fn(op) {
	case WalkInterrupt:
		return false
	case WalkSkip:
		return true
	}
	for _, r := range m.ops[op].Regions {
		for _, b := range m.regions[r].Blocks {
			for _, inner := range append([]OpID(nil), m.blocks[b].Ops...) {
				if m.ops[inner].erased {
					continue
				}
				if !m.Walk(inner, fn) {
					return false
				}
			}
		}
	}
	return true
}

// WalkNested visits every op nested in op's regions, excluding op.
func (m *Module) WalkNested(op OpID, fn func(OpID) WalkResult) bool {
	for _, r := range m.ops[op].Regions {
		for _, b := range m.regions[r].Blocks {
			for _, inner := range append([]OpID(nil), m.blocks[b].Ops...) {
				if m.ops[inner].erased {
					continue
				}
				if !m.Walk(inner, fn) {
					return false
				}
			}
		}
	}
	return true
}

// Collect returns every op nested under op (inclusive) in pre-order.
func (m *Module) Collect(op OpID) []OpID {
	var out []OpID
	m.Walk(op, func(id OpID) WalkResult {
		out = append(out, id)
		return WalkAdvance
	})
	return out
}

// Funcs returns module-level functions in order.
func (m *Module) Funcs() []OpID {
	var out []OpID
	for _, op := range m.blocks[m.Body()].Ops {
		if m.ops[op].Kind == KindFunc {
			out = append(out, op)
		}
	}
	return out
}

// CountKind returns how many ops of kind exist under root.
func (m *Module) CountKind(root OpID, kind Kind) int {
	n := 0
	m.Walk(root, func(id OpID) WalkResult {
		if m.ops[id].Kind == kind {
			n++
		}
		return WalkAdvance
	})
	return n
}
