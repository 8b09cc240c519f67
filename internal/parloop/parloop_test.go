package parloop

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

// sumLoop builds @reduce_sum() -> i64 summing iv over [0, n) with one
// scf.parallel, optionally wrapped by wrap.
func sumLoop(t *testing.T, mc int64, n int64, wrap func(b *ir.Builder, body func(b *ir.Builder) ir.ValueID) ir.ValueID) (*ir.Module, ir.FuncOp) {
	t.Helper()
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	op, err := b.CreateFunc("reduce_sum", ir.Func(nil, []*ir.Type{ir.Int(64)}), false)
	require.NoError(t, err)
	fn := ir.AsFunc(m, op)
	if mc > 0 {
		fn.SetMaxConcurrency(mc)
	}
	b.SetInsertionPointToEnd(fn.Entry())
	loop := func(b *ir.Builder) ir.ValueID {
		c0, cn, c1 := b.ConstantIndex(0), b.ConstantIndex(n), b.ConstantIndex(1)
		zero := b.ConstantInt(0, ir.Int(64))
		par := b.Parallel([]ir.ValueID{c0}, []ir.ValueID{cn}, []ir.ValueID{c1}, []ir.ValueID{zero},
			func(b *ir.Builder, ivs []ir.ValueID) []ir.ValueID {
				return []ir.ValueID{b.IndexCast(ivs[0], ir.Int(64))}
			},
			[]ir.Reducer{func(b *ir.Builder, lhs, rhs ir.ValueID) ir.ValueID {
				return b.Binary(ir.KindAddI, lhs, rhs)
			}})
		return m.Result(par, 0)
	}
	var result ir.ValueID
	if wrap != nil {
		result = wrap(b, loop)
	} else {
		result = loop(b)
	}
	b.Return(result)
	require.NoError(t, ir.Verify(m))
	return m, fn
}

func apply(t *testing.T, m *ir.Module) rewrite.Stats {
	t.Helper()
	stats, err := rewrite.ApplyGreedily(context.Background(), m, Patterns(), rewrite.Options{Pass: PassName})
	require.NoError(t, err)
	require.NoError(t, ir.Verify(m))
	return stats
}

func loopsWithUpperBound(m *ir.Module, ub int64) int {
	n := 0
	m.Walk(m.Root(), func(op ir.OpID) ir.WalkResult {
		if m.Kind(op) != ir.KindFor {
			return ir.WalkAdvance
		}
		if c, ok := m.ConstantInt(ir.ForOp{M: m, ID: op}.UpperBound()); ok && c == ub {
			n++
		}
		return ir.WalkAdvance
	})
	return n
}

func TestRewrite_SumReduction(t *testing.T) {
	m, fn := sumLoop(t, 4, 100, nil)

	stats := apply(t, m)
	assert.Equal(t, 1, stats.ByPattern["parallel-to-explicit"])

	assert.Equal(t, 1, m.CountKind(m.Root(), ir.KindExplicitParallel))
	assert.Equal(t, 2, loopsWithUpperBound(m, 4), "init loop and combine loop")

	entry := m.Block(fn.Entry()).Ops
	require.Equal(t, ir.KindAlloca, m.Kind(entry[0]), "reduction buffer sits at the alloca anchor")
	assert.Equal(t, "memref<4xi64>", m.Type(m.Result(entry[0], 0)).String())

	// The original loop survives only as the per-slice clone.
	require.Equal(t, 1, m.CountKind(m.Root(), ir.KindParallel))
	var clone ir.OpID
	m.Walk(m.Root(), func(op ir.OpID) ir.WalkResult {
		if m.Kind(op) == ir.KindParallel {
			clone = op
		}
		return ir.WalkAdvance
	})
	assert.Equal(t, ir.KindExplicitParallel, m.Kind(m.ParentOp(clone)))
	par := ir.ExplicitParallelOp{M: m, ID: m.ParentOp(clone)}
	cp := ir.ParallelOp{M: m, ID: clone}
	args := m.Block(par.Body()).Args
	assert.Equal(t, args[0], cp.LowerBounds()[0])
	assert.Equal(t, args[1], cp.UpperBounds()[0])
	assert.Equal(t, ir.KindLoad, m.DefiningKind(cp.Inits()[0]))

	// The function now returns the combine loop's result.
	ret := m.Terminator(fn.Entry())
	assert.Equal(t, ir.KindFor, m.DefiningKind(m.Operand(ret, 0)))
}

func TestRewrite_SecondApplicationIsNoop(t *testing.T) {
	m, _ := sumLoop(t, 4, 100, nil)
	apply(t, m)
	before := ir.Print(m)

	stats := apply(t, m)
	assert.Zero(t, stats.Rewrites)
	assert.Equal(t, before, ir.Print(m))
}

func TestRewrite_InsideParallelEnvironment(t *testing.T) {
	m, _ := sumLoop(t, 8, 64, func(b *ir.Builder, body func(b *ir.Builder) ir.ValueID) ir.ValueID {
		c0, c2, c1 := b.ConstantIndex(0), b.ConstantIndex(2), b.ConstantIndex(1)
		zero := b.ConstantInt(0, ir.Int(64))
		outer := b.Parallel([]ir.ValueID{c0}, []ir.ValueID{c2}, []ir.ValueID{c1}, []ir.ValueID{zero},
			func(b *ir.Builder, _ []ir.ValueID) []ir.ValueID {
				env := b.EnvRegion(ir.EnvParallel, []*ir.Type{ir.Int(64)}, func(b *ir.Builder) []ir.ValueID {
					return []ir.ValueID{body(b)}
				})
				return []ir.ValueID{b.Module().Result(env, 0)}
			},
			[]ir.Reducer{func(b *ir.Builder, lhs, rhs ir.ValueID) ir.ValueID {
				return b.Binary(ir.KindAddI, lhs, rhs)
			}})
		return b.Module().Result(outer, 0)
	})

	apply(t, m)
	// The outer loop is top level and the inner one is in a parallel
	// environment, so both become explicit.
	assert.Equal(t, 2, m.CountKind(m.Root(), ir.KindExplicitParallel))
}

func TestRewrite_Declines(t *testing.T) {
	tests := []struct {
		name string
		mc   int64
		wrap func(b *ir.Builder, body func(b *ir.Builder) ir.ValueID) ir.ValueID
	}{
		{name: "no max concurrency", mc: 0},
		{name: "single thread", mc: 1},
		{
			name: "already inside util.parallel",
			mc:   4,
			wrap: func(b *ir.Builder, body func(b *ir.Builder) ir.ValueID) ir.ValueID {
				c0, c1 := b.ConstantIndex(0), b.ConstantIndex(1)
				out := b.Alloca(ir.MemRef(nil, ir.Int(64)))
				b.ExplicitParallel([]ir.ValueID{c0}, []ir.ValueID{c1}, []ir.ValueID{c1},
					func(b *ir.Builder, _, _ []ir.ValueID, _ ir.ValueID) {
						b.Store(body(b), out)
					})
				return b.Load(out)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := sumLoop(t, tt.mc, 10, tt.wrap)
			before := ir.Print(m)
			stats := apply(t, m)
			assert.Zero(t, stats.Rewrites)
			assert.Equal(t, before, ir.Print(m))
		})
	}
}

func TestRewrite_NestedWithoutEnvironmentDeclines(t *testing.T) {
	m, _ := sumLoop(t, 4, 10, func(b *ir.Builder, body func(b *ir.Builder) ir.ValueID) ir.ValueID {
		c0, c1 := b.ConstantIndex(0), b.ConstantIndex(1)
		zero := b.ConstantInt(0, ir.Int(64))
		outer := b.Parallel([]ir.ValueID{c0}, []ir.ValueID{c1}, []ir.ValueID{c1}, []ir.ValueID{zero},
			func(b *ir.Builder, _ []ir.ValueID) []ir.ValueID { return []ir.ValueID{body(b)} },
			[]ir.Reducer{func(b *ir.Builder, lhs, rhs ir.ValueID) ir.ValueID {
				return b.Binary(ir.KindAddI, lhs, rhs)
			}})
		return b.Module().Result(outer, 0)
	})

	apply(t, m)
	// Only the outer loop is rewritten; the inner one is cloned as is.
	assert.Equal(t, 1, m.CountKind(m.Root(), ir.KindExplicitParallel))
	assert.Equal(t, 2, m.CountKind(m.Root(), ir.KindParallel))
}

func TestRewrite_NoNeutralElementDeclines(t *testing.T) {
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	op, err := b.CreateFunc("diff", ir.Func(nil, []*ir.Type{ir.Int(64)}), false)
	require.NoError(t, err)
	fn := ir.AsFunc(m, op)
	fn.SetMaxConcurrency(4)
	b.SetInsertionPointToEnd(fn.Entry())
	c0, c8, c1 := b.ConstantIndex(0), b.ConstantIndex(8), b.ConstantIndex(1)
	zero := b.ConstantInt(0, ir.Int(64))
	par := b.Parallel([]ir.ValueID{c0}, []ir.ValueID{c8}, []ir.ValueID{c1}, []ir.ValueID{zero},
		func(b *ir.Builder, ivs []ir.ValueID) []ir.ValueID {
			return []ir.ValueID{b.IndexCast(ivs[0], ir.Int(64))}
		},
		[]ir.Reducer{func(b *ir.Builder, lhs, rhs ir.ValueID) ir.ValueID {
			return b.Binary(ir.KindSubI, lhs, rhs)
		}})
	b.Return(m.Result(par, 0))

	stats := apply(t, m)
	assert.Zero(t, stats.Rewrites)
	assert.Equal(t, 0, m.CountKind(m.Root(), ir.KindExplicitParallel))
}

func TestNeutralElement(t *testing.T) {
	tests := []struct {
		kind ir.Kind
		typ  *ir.Type
		want ir.Attr
	}{
		{ir.KindAddI, ir.Int(32), ir.IntAttr{Value: 0, Type: ir.Int(32)}},
		{ir.KindMulI, ir.Int(64), ir.IntAttr{Value: 1, Type: ir.Int(64)}},
		{ir.KindAndI, ir.Int(8), ir.IntAttr{Value: -1, Type: ir.Int(8)}},
		{ir.KindMaxSI, ir.Int(32), ir.IntAttr{Value: math.MinInt32, Type: ir.Int(32)}},
		{ir.KindMinSI, ir.Int(64), ir.IntAttr{Value: math.MaxInt64, Type: ir.Int(64)}},
		{ir.KindMulF, ir.Float(64), ir.FloatAttr{Value: 1, Type: ir.Float(64)}},
		{ir.KindMaxF, ir.Float(32), ir.FloatAttr{Value: math.Inf(-1), Type: ir.Float(32)}},
		{ir.KindMinF, ir.Float(64), ir.FloatAttr{Value: math.Inf(1), Type: ir.Float(64)}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			got, ok := neutralFor(tt.kind, tt.typ)
			require.True(t, ok)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}

	neg, ok := neutralFor(ir.KindAddF, ir.Float(64))
	require.True(t, ok)
	assert.True(t, math.Signbit(neg.(ir.FloatAttr).Value), "additive identity is negative zero")

	_, ok = neutralFor(ir.KindSubI, ir.Int(64))
	assert.False(t, ok)
	_, ok = neutralFor(ir.KindAddF, ir.Int(64))
	assert.False(t, ok)
}
