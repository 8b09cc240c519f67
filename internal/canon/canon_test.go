package canon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

var (
	f64     = ir.Float(64)
	dense   = ir.MemRef([]int64{ir.Dynamic}, f64)
	dynamic = dense.FullyDynamicLayout()
)

// newFunc creates @f with the given signature and hands the entry block
// to fill, which returns the values to return.
func newFunc(t *testing.T, inputs, results []*ir.Type, fill func(b *ir.Builder, args []ir.ValueID) []ir.ValueID) *ir.Module {
	t.Helper()
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	op, err := b.CreateFunc("f", ir.Func(inputs, results), false)
	require.NoError(t, err)
	fn := ir.AsFunc(m, op)
	b.SetInsertionPointToEnd(fn.Entry())
	b.Return(fill(b, fn.Args())...)
	require.NoError(t, ir.Verify(m))
	return m
}

func canonicalize(t *testing.T, m *ir.Module) rewrite.Stats {
	t.Helper()
	stats, err := rewrite.ApplyGreedily(context.Background(), m, Patterns(), rewrite.Options{Pass: PassName})
	require.NoError(t, err)
	require.NoError(t, ir.Verify(m), ir.Print(m))

	again, err := rewrite.ApplyGreedily(context.Background(), m, Patterns(), rewrite.Options{Pass: PassName})
	require.NoError(t, err)
	assert.False(t, again.Changed(), "second run must be a no-op:\n%s", ir.Print(m))
	return stats
}

func count(m *ir.Module, k ir.Kind) int { return m.CountKind(m.Root(), k) }

// only returns the single op of kind k in m.
func only(t *testing.T, m *ir.Module, k ir.Kind) ir.OpID {
	t.Helper()
	var found []ir.OpID
	m.Walk(m.Root(), func(op ir.OpID) ir.WalkResult {
		if m.Kind(op) == k {
			found = append(found, op)
		}
		return ir.WalkAdvance
	})
	require.Len(t, found, 1, "%s in\n%s", k, ir.Print(m))
	return found[0]
}

func TestFoldCast_SameType(t *testing.T) {
	m := newFunc(t, []*ir.Type{dense}, []*ir.Type{dense}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		return []ir.ValueID{b.Cast(args[0], dense)}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["fold-cast"])
	assert.Zero(t, count(m, ir.KindCast))
}

func TestFoldDim(t *testing.T) {
	m := newFunc(t, []*ir.Type{ir.Index()}, []*ir.Type{ir.Index(), ir.Index()}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		mem := b.Alloc(ir.MemRef([]int64{3, ir.Dynamic}, f64), args[0])
		d0 := b.Dim(mem, b.ConstantIndex(0))
		d1 := b.Dim(mem, b.ConstantIndex(1))
		b.Dealloc(mem)
		return []ir.ValueID{d0, d1}
	})
	canonicalize(t, m)

	assert.Zero(t, count(m, ir.KindDim))
	ret := m.Terminator(ir.AsFunc(m, m.Funcs()[0]).Entry())
	c, ok := m.ConstantInt(m.Operand(ret, 0))
	require.True(t, ok)
	assert.Equal(t, int64(3), c)
	assert.Equal(t, ir.AsFunc(m, m.Funcs()[0]).Args()[0], m.Operand(ret, 1))
}

func TestChangeLayout_ChainFoldsAway(t *testing.T) {
	m := newFunc(t, []*ir.Type{dense, ir.Index()}, []*ir.Type{f64}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		a := b.ChangeLayout(args[0], dynamic)
		c := b.ChangeLayout(a, dense)
		return []ir.ValueID{b.Load(c, args[1])}
	})
	canonicalize(t, m)

	assert.Zero(t, count(m, ir.KindChangeLayout))
	assert.Zero(t, count(m, ir.KindCast))
	load := only(t, m, ir.KindLoad)
	assert.Equal(t, ir.AsFunc(m, m.Funcs()[0]).Args()[0], m.Operand(load, 0))
}

func TestChangeLayout_IdentityBecomesCast(t *testing.T) {
	m := newFunc(t, []*ir.Type{dense}, []*ir.Type{dynamic}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		return []ir.ValueID{b.ChangeLayout(args[0], dynamic)}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["change-layout-identity"])
	assert.Zero(t, count(m, ir.KindChangeLayout))
	assert.Equal(t, 1, count(m, ir.KindCast))
}

func TestChangeLayout_LoadStoreDimReadSource(t *testing.T) {
	m := newFunc(t, []*ir.Type{dynamic, ir.Index(), f64}, []*ir.Type{f64, ir.Index()}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		cl := b.ChangeLayout(args[0], dense)
		b.Store(args[2], cl, args[1])
		v := b.Load(cl, args[1])
		d := b.Dim(cl, b.ConstantIndex(0))
		return []ir.ValueID{v, d}
	})
	stats := canonicalize(t, m)

	assert.Equal(t, 1, stats.ByPattern["change-layout-store"])
	assert.Equal(t, 1, stats.ByPattern["change-layout-dim"])
	assert.Zero(t, count(m, ir.KindChangeLayout))
	// The load is forwarded from the store once both read the source.
	assert.Zero(t, count(m, ir.KindLoad))
	store := only(t, m, ir.KindStore)
	src := ir.AsFunc(m, m.Funcs()[0]).Args()[0]
	assert.Equal(t, src, m.Operand(store, 1))
	dim := only(t, m, ir.KindDim)
	assert.Equal(t, src, m.Operand(dim, 0))
}

func TestChangeLayout_CastThroughUntransformable(t *testing.T) {
	strided := ir.StridedMemRef([]int64{4}, f64, 0, []int64{2})
	m := newFunc(t, []*ir.Type{strided}, []*ir.Type{dense}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		cl := b.ChangeLayout(args[0], ir.MemRef([]int64{4}, f64))
		return []ir.ValueID{b.Cast(cl, dense)}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["change-layout-cast"])

	cl := only(t, m, ir.KindChangeLayout)
	cast := only(t, m, ir.KindCast)
	assert.Equal(t, m.Result(cast, 0), m.Operand(cl, 0))
	assert.Equal(t, "memref<?xf64, strided<[2], offset: 0>>", m.Type(m.Result(cast, 0)).String())
	assert.Equal(t, ir.AsFunc(m, m.Funcs()[0]).Args()[0], m.Operand(cast, 0))
}

func TestChangeLayout_Subview(t *testing.T) {
	src := ir.StridedMemRef([]int64{8}, f64, ir.Dynamic, []int64{ir.Dynamic})
	m := newFunc(t, []*ir.Type{src, ir.Index()}, []*ir.Type{f64}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		cl := b.ChangeLayout(args[0], ir.MemRef([]int64{8}, f64))
		spec := ir.SubviewSpec{Offsets: []int64{2}, Sizes: []int64{4}, Strides: []int64{1}}
		sv := b.Subview(cl, spec, ir.StridedMemRef([]int64{4}, f64, 2, []int64{1}))
		return []ir.ValueID{b.Load(sv, args[1])}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["change-layout-subview"])

	sv := only(t, m, ir.KindSubview)
	assert.Equal(t, ir.AsFunc(m, m.Funcs()[0]).Args()[0], m.Operand(sv, 0))
	assert.Equal(t, "memref<4xf64, strided<[?], offset: ?>>", m.Type(m.Result(sv, 0)).String())
	assert.Zero(t, count(m, ir.KindChangeLayout), "the load reads the new subview directly")
}

func TestChangeLayout_IfYield(t *testing.T) {
	m := newFunc(t, []*ir.Type{ir.Int(1), dynamic, dense, ir.Index()}, []*ir.Type{f64}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		ifOp := b.If(args[0], []*ir.Type{dense},
			func(b *ir.Builder) []ir.ValueID { return []ir.ValueID{b.ChangeLayout(args[1], dense)} },
			func(b *ir.Builder) []ir.ValueID { return []ir.ValueID{args[2]} })
		return []ir.ValueID{b.Load(m0(b, ifOp), args[3])}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["change-layout-if"])

	ifOp := only(t, m, ir.KindIf)
	assert.Equal(t, dynamic.String(), m.Type(m.Result(ifOp, 0)).String())
	assert.Zero(t, count(m, ir.KindChangeLayout))
	cast := only(t, m, ir.KindCast)
	assert.Equal(t, ifOp, m.ParentOp(cast), "the else branch is cast to the new type")
	load := only(t, m, ir.KindLoad)
	assert.Equal(t, m.Result(ifOp, 0), m.Operand(load, 0))
}

// m0 returns result 0 of op.
func m0(b *ir.Builder, op ir.OpID) ir.ValueID { return b.Module().Result(op, 0) }

func TestChangeLayout_IfBothBranchesSameSource(t *testing.T) {
	m := newFunc(t, []*ir.Type{ir.Int(1), dynamic, dynamic}, []*ir.Type{dense}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		ifOp := b.If(args[0], []*ir.Type{dense},
			func(b *ir.Builder) []ir.ValueID { return []ir.ValueID{b.ChangeLayout(args[1], dense)} },
			func(b *ir.Builder) []ir.ValueID { return []ir.ValueID{b.ChangeLayout(args[2], dense)} })
		return []ir.ValueID{m0(b, ifOp)}
	})
	canonicalize(t, m)

	ifOp := only(t, m, ir.KindIf)
	assert.Equal(t, dynamic.String(), m.Type(m.Result(ifOp, 0)).String())
	assert.Zero(t, count(m, ir.KindCast))
	cl := only(t, m, ir.KindChangeLayout)
	assert.Equal(t, m.Result(ifOp, 0), m.Operand(cl, 0), "one change_layout remains below the if")
}

func TestChangeLayout_ForCarriesSourceType(t *testing.T) {
	m := newFunc(t, []*ir.Type{dense, dynamic, ir.Index()}, []*ir.Type{f64}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		c0, c4, c1 := b.ConstantIndex(0), b.ConstantIndex(4), b.ConstantIndex(1)
		loop := b.For(c0, c4, c1, []ir.ValueID{args[0]}, func(b *ir.Builder, _ ir.ValueID, _ []ir.ValueID) []ir.ValueID {
			return []ir.ValueID{b.ChangeLayout(args[1], dense)}
		})
		return []ir.ValueID{b.Load(m0(b, loop), args[2])}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["change-layout-for"])

	loop := ir.ForOp{M: m, ID: only(t, m, ir.KindFor)}
	assert.Equal(t, dynamic.String(), m.Type(m.Result(loop.ID, 0)).String())
	assert.Equal(t, dynamic.String(), m.Type(loop.IterArgs()[0]).String())
	assert.Equal(t, ir.AsFunc(m, m.Funcs()[0]).Args()[1], m.Operand(loop.Yield(), 0))
	assert.Equal(t, ir.KindCast, m.DefiningKind(loop.Inits()[0]), "the init is cast forward")
	assert.Zero(t, count(m, ir.KindChangeLayout))
}

func TestChangeLayout_Select(t *testing.T) {
	m := newFunc(t, []*ir.Type{ir.Int(1), dynamic, dense, ir.Index()}, []*ir.Type{f64}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		sel := b.Select(args[0], b.ChangeLayout(args[1], dense), args[2])
		return []ir.ValueID{b.Load(sel, args[3])}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["change-layout-select"])

	sel := only(t, m, ir.KindSelect)
	assert.Equal(t, dynamic.String(), m.Type(m.Result(sel, 0)).String())
	assert.Equal(t, ir.AsFunc(m, m.Funcs()[0]).Args()[1], m.Operand(sel, 1))
	assert.Equal(t, ir.KindCast, m.DefiningKind(m.Operand(sel, 2)))
	assert.Zero(t, count(m, ir.KindChangeLayout))
}

func TestChangeLayout_EnvRegion(t *testing.T) {
	m := newFunc(t, []*ir.Type{dynamic, ir.Index()}, []*ir.Type{f64}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		env := b.EnvRegion(ir.EnvParallel, []*ir.Type{dense}, func(b *ir.Builder) []ir.ValueID {
			return []ir.ValueID{b.ChangeLayout(args[0], dense)}
		})
		return []ir.ValueID{b.Load(m0(b, env), args[1])}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["change-layout-env-region"])

	env := only(t, m, ir.KindEnvRegion)
	assert.Equal(t, dynamic.String(), m.Type(m.Result(env, 0)).String())
	assert.Zero(t, count(m, ir.KindChangeLayout))
}

func TestSignCast_LoadAndStore(t *testing.T) {
	signed := ir.MemRef([]int64{4}, ir.SInt(32))
	signless := ir.MemRef([]int64{4}, ir.Int(32))
	m := newFunc(t, []*ir.Type{signed, ir.Index(), ir.Int(32)}, []*ir.Type{ir.Int(32)}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		view := b.SignCast(args[0], signless)
		b.Store(args[2], view, args[1])
		c0 := b.ConstantIndex(0)
		return []ir.ValueID{b.Load(view, c0)}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["sign-cast-store"])
	assert.Equal(t, 1, stats.ByPattern["sign-cast-load"])

	src := ir.AsFunc(m, m.Funcs()[0]).Args()[0]
	store := only(t, m, ir.KindStore)
	assert.Equal(t, src, m.Operand(store, 1))
	assert.Equal(t, "si32", m.Type(m.Operand(store, 0)).String())
	load := only(t, m, ir.KindLoad)
	assert.Equal(t, src, m.Operand(load, 0))
	assert.Equal(t, 2, count(m, ir.KindSignCast), "only scalar casts remain")
}

func TestSignCast_ChainAndConstant(t *testing.T) {
	m := newFunc(t, []*ir.Type{ir.SInt(64)}, []*ir.Type{ir.SInt(64), ir.UInt(8)}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		back := b.SignCast(b.SignCast(args[0], ir.Int(64)), ir.SInt(64))
		k := b.SignCast(b.ConstantInt(7, ir.Int(8)), ir.UInt(8))
		return []ir.ValueID{back, k}
	})
	canonicalize(t, m)

	assert.Zero(t, count(m, ir.KindSignCast))
	ret := m.Terminator(ir.AsFunc(m, m.Funcs()[0]).Entry())
	assert.Equal(t, ir.AsFunc(m, m.Funcs()[0]).Args()[0], m.Operand(ret, 0))
	c, ok := m.ConstantInt(m.Operand(ret, 1))
	require.True(t, ok)
	assert.Equal(t, int64(7), c)
	assert.Equal(t, "ui8", m.Type(m.Operand(ret, 1)).String())
}

func TestSignCast_Alloc(t *testing.T) {
	m := newFunc(t, []*ir.Type{ir.Index(), ir.Int(32)}, nil, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		mem := b.Alloc(ir.MemRef([]int64{4}, ir.SInt(32)))
		view := b.SignCast(mem, ir.MemRef([]int64{4}, ir.Int(32)))
		b.Store(args[1], view, args[0])
		return nil
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["sign-cast-alloc"])

	alloc := only(t, m, ir.KindAlloc)
	assert.Equal(t, "memref<4xi32>", m.Type(m.Result(alloc, 0)).String())
	assert.Zero(t, count(m, ir.KindSignCast))
}

func TestSignCast_For(t *testing.T) {
	m := newFunc(t, []*ir.Type{ir.SInt(64)}, []*ir.Type{ir.Int(64)}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		c0, c4, c1 := b.ConstantIndex(0), b.ConstantIndex(4), b.ConstantIndex(1)
		init := b.ConstantInt(0, ir.Int(64))
		loop := b.For(c0, c4, c1, []ir.ValueID{init}, func(b *ir.Builder, _ ir.ValueID, _ []ir.ValueID) []ir.ValueID {
			return []ir.ValueID{b.SignCast(args[0], ir.Int(64))}
		})
		return []ir.ValueID{m0(b, loop)}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["sign-cast-for"])

	loop := ir.ForOp{M: m, ID: only(t, m, ir.KindFor)}
	assert.Equal(t, "si64", m.Type(m.Result(loop.ID, 0)).String())
	assert.Equal(t, "si64", m.Type(loop.Inits()[0]).String(), "the constant init was retyped")
	cast := only(t, m, ir.KindSignCast)
	assert.Equal(t, m.Result(loop.ID, 0), m.Operand(cast, 0))
}

func TestPromoteLoad_StopsAtCall(t *testing.T) {
	m := newFunc(t, []*ir.Type{f64}, []*ir.Type{f64, f64}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		_, err := b.DeclareFunc("clobber", ir.Func([]*ir.Type{dense}, nil))
		require.NoError(t, err)
		c0, c1 := b.ConstantIndex(0), b.ConstantIndex(1)
		mem := b.Alloc(ir.MemRef([]int64{2}, f64))
		b.Store(args[0], mem, c0)
		first := b.Load(mem, c0)
		b.Store(args[0], mem, c1)
		b.Call("clobber", nil, b.Cast(mem, dense))
		second := b.Load(mem, c1)
		b.Dealloc(mem)
		return []ir.ValueID{first, second}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["promote-load"])
	assert.Equal(t, 1, count(m, ir.KindLoad), "the load after the call stays")
}

func TestDeadStore(t *testing.T) {
	m := newFunc(t, []*ir.Type{f64, f64, dense}, nil, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		c0 := b.ConstantIndex(0)
		b.Store(args[0], args[2], c0)
		b.Store(args[1], args[2], c0)
		return nil
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["dead-store"])
	store := only(t, m, ir.KindStore)
	assert.Equal(t, ir.AsFunc(m, m.Funcs()[0]).Args()[1], m.Operand(store, 0))
}

func TestSingleWriteMemref(t *testing.T) {
	m := newFunc(t, []*ir.Type{ir.Int(64)}, []*ir.Type{ir.Int(64)}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		cell := b.Alloca(ir.MemRef(nil, ir.Int(64)))
		b.Store(args[0], cell)
		c0, c4, c1 := b.ConstantIndex(0), b.ConstantIndex(4), b.ConstantIndex(1)
		loop := b.For(c0, c4, c1, []ir.ValueID{args[0]}, func(b *ir.Builder, _ ir.ValueID, iters []ir.ValueID) []ir.ValueID {
			return []ir.ValueID{b.Binary(ir.KindAddI, iters[0], b.Load(cell))}
		})
		return []ir.ValueID{m0(b, loop)}
	})
	stats := canonicalize(t, m)
	assert.Equal(t, 1, stats.ByPattern["single-write-memref"])
	assert.Zero(t, count(m, ir.KindAlloca))
	assert.Zero(t, count(m, ir.KindLoad))
	assert.Zero(t, count(m, ir.KindStore))
}

func TestSingleWriteMemref_DeclinesOnSecondStore(t *testing.T) {
	m := newFunc(t, []*ir.Type{ir.Int(64), ir.Int(1)}, []*ir.Type{ir.Int(64)}, func(b *ir.Builder, args []ir.ValueID) []ir.ValueID {
		cell := b.Alloca(ir.MemRef(nil, ir.Int(64)))
		b.Store(args[0], cell)
		b.If(args[1], nil, func(b *ir.Builder) []ir.ValueID {
			b.Store(b.ConstantInt(1, ir.Int(64)), cell)
			return nil
		}, nil)
		return []ir.ValueID{b.Load(cell)}
	})
	stats := canonicalize(t, m)
	assert.Zero(t, stats.ByPattern["single-write-memref"])
	assert.Equal(t, 1, count(m, ir.KindAlloca))
}
