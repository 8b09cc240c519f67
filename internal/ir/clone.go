package ir

// Mapping records value and block substitutions while cloning.
type Mapping struct {
	values map[ValueID]ValueID
	blocks map[BlockID]BlockID
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{values: make(map[ValueID]ValueID), blocks: make(map[BlockID]BlockID)}
}

// Map records that from is replaced by to.
func (mp *Mapping) Map(from, to ValueID) { mp.values[from] = to }

// MapAll maps from[i] to to[i].
func (mp *Mapping) MapAll(from, to []ValueID) {
	for i := range from {
		mp.values[from[i]] = to[i]
	}
}

// Lookup returns the replacement of v, or v itself.
func (mp *Mapping) Lookup(v ValueID) ValueID {
	if r, ok := mp.values[v]; ok {
		return r
	}
	return v
}

// Has reports whether v has a replacement.
func (mp *Mapping) Has(v ValueID) bool {
	_, ok := mp.values[v]
	return ok
}

// LookupBlock returns the replacement of b, or b itself.
func (mp *Mapping) LookupBlock(b BlockID) BlockID {
	if r, ok := mp.blocks[b]; ok {
		return r
	}
	return b
}

// Clone copies op, including nested regions, to the insertion point.
// Operands are remapped through mp and the clone's results are recorded.
func (b *Builder) Clone(op OpID, mp *Mapping) OpID {
	m := b.m
	src := m.ops[op]
	operands := make([]ValueID, len(src.Operands))
	for i, v := range src.Operands {
		operands[i] = mp.Lookup(v)
	}
	types := make([]*Type, len(src.Results))
	for i, r := range src.Results {
		types[i] = m.values[r].Type
	}
	id := m.NewOp(src.Kind, operands, types, src.Attrs.Clone(), len(src.Regions))
	clone := m.ops[id]
	clone.Segments = append([]int(nil), src.Segments...)
	for i, r := range clone.Results {
		mp.Map(src.Results[i], r)
	}
	b.Insert(id)
	for i, r := range src.Regions {
		m.CloneRegionInto(r, clone.Regions[i], mp)
	}
	return id
}

// CloneRegionInto appends copies of src's blocks to dst.
func (m *Module) CloneRegionInto(src, dst RegionID, mp *Mapping) {
	srcBlocks := append([]BlockID(nil), m.regions[src].Blocks...)
	for _, sb := range srcBlocks {
		blk := m.blocks[sb]
		types := make([]*Type, len(blk.Args))
		for i, a := range blk.Args {
			types[i] = m.values[a].Type
		}
		nb := m.AddBlock(dst, types...)
		mp.blocks[sb] = nb
		mp.MapAll(blk.Args, m.blocks[nb].Args)
	}
	inner := NewBuilder(m)
	for _, sb := range srcBlocks {
		inner.SetInsertionPointToEnd(mp.blocks[sb])
		for _, op := range append([]OpID(nil), m.blocks[sb].Ops...) {
			inner.Clone(op, mp)
		}
	}
}

// CloneBlockBody clones every op of src except its terminator at the
// builder's insertion point and returns the terminator's remapped operands.
func (b *Builder) CloneBlockBody(src BlockID, mp *Mapping) []ValueID {
	ops := append([]OpID(nil), b.m.blocks[src].Ops...)
	term := b.m.Terminator(src)
	for _, op := range ops {
		if op == term {
			continue
		}
		b.Clone(op, mp)
	}
	if !term.IsValid() {
		return nil
	}
	out := make([]ValueID, len(b.m.ops[term].Operands))
	for i, v := range b.m.ops[term].Operands {
		out[i] = mp.Lookup(v)
	}
	return out
}

// InlineBlockBefore moves every op of blk right before anchor, replacing
// uses of blk's arguments with repl.
func (m *Module) InlineBlockBefore(blk BlockID, anchor OpID, repl []ValueID) {
	for i, a := range m.blocks[blk].Args {
		m.ReplaceAllUses(a, repl[i])
	}
	for _, op := range append([]OpID(nil), m.blocks[blk].Ops...) {
		m.Detach(op)
		m.InsertBefore(anchor, op)
	}
}

// Clone returns a deep copy of the module. IDs are preserved, so a value
// or op of m names the same node in the copy. Types are immutable and
// shared.
func (m *Module) Clone() *Module {
	c := &Module{
		ops:     make([]*Op, len(m.ops)),
		blocks:  make([]*Block, len(m.blocks)),
		regions: make([]*Region, len(m.regions)),
		values:  make([]*Value, len(m.values)),
		root:    m.root,
		anchors: make(map[OpID]OpID, len(m.anchors)),
	}
	for i, o := range m.ops {
		if o == nil {
			continue
		}
		cp := *o
		cp.Operands = append([]ValueID(nil), o.Operands...)
		cp.Results = append([]ValueID(nil), o.Results...)
		cp.Regions = append([]RegionID(nil), o.Regions...)
		cp.Segments = append([]int(nil), o.Segments...)
		cp.Attrs = o.Attrs.Clone()
		c.ops[i] = &cp
	}
	for i, b := range m.blocks {
		if b == nil {
			continue
		}
		c.blocks[i] = &Block{
			Args:   append([]ValueID(nil), b.Args...),
			Ops:    append([]OpID(nil), b.Ops...),
			Parent: b.Parent,
		}
	}
	for i, r := range m.regions {
		if r == nil {
			continue
		}
		c.regions[i] = &Region{Blocks: append([]BlockID(nil), r.Blocks...), Parent: r.Parent}
	}
	for i, v := range m.values {
		if v == nil {
			continue
		}
		cp := *v
		cp.uses = append([]Use(nil), v.uses...)
		c.values[i] = &cp
	}
	for k, v := range m.anchors {
		c.anchors[k] = v
	}
	c.symbols = newSymbolTable(c)
	for name, op := range m.symbols.names {
		c.symbols.names[name] = op
	}
	return c
}
