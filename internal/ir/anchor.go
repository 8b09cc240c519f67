package ir

// WithAllocaAnchor runs fn with the builder positioned at the stack
// allocation anchor of the function enclosing op: the start of the entry
// block, after every op previously placed there. The anchor is cached per
// function and advanced past whatever fn creates. The builder's previous
// insertion point is restored afterwards.
func (m *Module) WithAllocaAnchor(b *Builder, op OpID, fn func(b *Builder)) bool {
	fnOp := m.ParentFunc(op)
	if !fnOp.IsValid() {
		return false
	}
	entry := AsFunc(m, fnOp).Entry()
	if !entry.IsValid() {
		return false
	}
	saved := b.Save()
	defer b.Restore(saved)

	last, ok := m.anchors[fnOp]
	if ok && (m.ops[last].erased || m.ops[last].Parent != entry) {
		ok = false
	}
	if ok {
		b.SetInsertionPointAfter(last)
	} else {
		b.SetInsertionPointToStart(entry)
	}
	before := b.Save().Before
	fn(b)

	ops := m.blocks[entry].Ops
	end := len(ops)
	if before.IsValid() {
		end = m.Position(before)
	}
	if end > 0 {
		m.anchors[fnOp] = ops[end-1]
	}
	return true
}
