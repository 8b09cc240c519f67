package samples

import (
	"math"

	"github.com/roach88/parlower/internal/engine"
	"github.com/roach88/parlower/internal/ir"
)

func init() {
	register(Sample{
		Name:        "reduce-sum",
		Description: "sum of iv over [0, n) with one parallel reduction",
		Entry:       "reduce_sum",
		Defaults:    Params{"n": 100, "max_concurrency": 4},
		build:       buildReduceSum,
	})
	register(Sample{
		Name:        "hoist-buffer",
		Description: "fixed 10x10 scratch buffer allocated on every trip of a sequential loop",
		Entry:       "hoist_buffer",
		Defaults:    Params{"n": 5, "max_concurrency": 0},
		build:       buildHoistBuffer,
	})
	register(Sample{
		Name:        "array-return",
		Description: "two functions returning rank-3 f64 arrays",
		Entry:       "cube",
		Defaults:    Params{},
		build:       buildArrayReturn,
	})
	register(Sample{
		Name:        "parallel-hoist",
		Description: "scratch buffer allocated per iteration of a parallel loop",
		Entry:       "parallel_hoist",
		Defaults:    Params{"n": 16, "max_concurrency": 4},
		build:       buildParallelHoist,
		args: func(p Params) []any {
			return []any{engine.NewArray(ir.Float(64), p.Get("n", 0))}
		},
	})
	register(Sample{
		Name:        "jacobi-1d",
		Description: "three-point stencil over a parallel environment",
		Entry:       "jacobi_1d",
		Defaults:    Params{"n": 32, "steps": 4, "max_concurrency": 4},
		build:       buildJacobi1D,
		args: func(p Params) []any {
			n := p.Get("n", 0)
			return []any{ramp(n), engine.NewArray(ir.Float(64), n)}
		},
	})
	register(Sample{
		Name:        "float-reduce",
		Description: "sum and maximum of an f64 array in one parallel loop",
		Entry:       "float_reduce",
		Defaults:    Params{"n": 64, "max_concurrency": 4, "fastmath": 0},
		build:       buildFloatReduce,
		args: func(p Params) []any {
			return []any{ramp(p.Get("n", 0))}
		},
	})
	register(Sample{
		Name:        "layout-casts",
		Description: "layout and signedness cast chains around loads",
		Entry:       "layout_casts",
		Defaults:    Params{"n": 8},
		build:       buildLayoutCasts,
		args: func(p Params) []any {
			n := p.Get("n", 0)
			vals := make([]int64, n)
			for i := range vals {
				vals[i] = int64(i) - 3
			}
			return []any{engine.Int64s(vals...)}
		},
	})
}

// reduce_sum() -> i64: sum of iv over [0, n).
func buildReduceSum(b *ir.Builder, p Params) error {
	m := b.Module()
	if _, err := newFunc(b, "reduce_sum", nil, []*ir.Type{ir.Int(64)}, p); err != nil {
		return err
	}
	c0, cn, c1 := b.ConstantIndex(0), b.ConstantIndex(p.Get("n", 0)), b.ConstantIndex(1)
	zero := b.ConstantInt(0, ir.Int(64))
	par := b.Parallel([]ir.ValueID{c0}, []ir.ValueID{cn}, []ir.ValueID{c1}, []ir.ValueID{zero},
		func(b *ir.Builder, ivs []ir.ValueID) []ir.ValueID {
			return []ir.ValueID{b.IndexCast(ivs[0], ir.Int(64))}
		},
		[]ir.Reducer{addI})
	b.Return(m.Result(par, 0))
	return nil
}

// hoist_buffer() -> f64 allocates a 10x10 buffer per trip, stores iv into
// it and accumulates the loaded value.
func buildHoistBuffer(b *ir.Builder, p Params) error {
	m := b.Module()
	if _, err := newFunc(b, "hoist_buffer", nil, []*ir.Type{ir.Float(64)}, p); err != nil {
		return err
	}
	c0, c1, cn := b.ConstantIndex(0), b.ConstantIndex(1), b.ConstantIndex(p.Get("n", 0))
	zero := b.ConstantFloat(0, ir.Float(64))
	loop := b.For(c0, cn, c1, []ir.ValueID{zero}, func(b *ir.Builder, iv ir.ValueID, iters []ir.ValueID) []ir.ValueID {
		mem := b.Alloc(ir.MemRef([]int64{10, 10}, ir.Float(64)))
		b.Store(indexToF64(b, iv), mem, c0, c0)
		v := b.Load(mem, c0, c0)
		b.Dealloc(mem)
		return []ir.ValueID{b.Binary(ir.KindAddF, iters[0], v)}
	})
	b.Return(m.Result(loop, 0))
	return nil
}

// cube() -> memref<2x3x4xf64> and cube_t() -> memref<4x3x2xf64> fill
// element (i, j, k) with 100i + 10j + k.
func buildArrayReturn(b *ir.Builder, p Params) error {
	for _, f := range []struct {
		name  string
		shape []int64
	}{
		{"cube", []int64{2, 3, 4}},
		{"cube_t", []int64{4, 3, 2}},
	} {
		t := ir.MemRef(f.shape, ir.Float(64))
		if _, err := newFunc(b, f.name, nil, []*ir.Type{t}, p); err != nil {
			return err
		}
		mem := b.Alloc(t)
		c0, c1 := b.ConstantIndex(0), b.ConstantIndex(1)
		c10, c100 := b.ConstantIndex(10), b.ConstantIndex(100)
		di, dj, dk := b.ConstantIndex(f.shape[0]), b.ConstantIndex(f.shape[1]), b.ConstantIndex(f.shape[2])
		b.For(c0, di, c1, nil, func(b *ir.Builder, i ir.ValueID, _ []ir.ValueID) []ir.ValueID {
			b.For(c0, dj, c1, nil, func(b *ir.Builder, j ir.ValueID, _ []ir.ValueID) []ir.ValueID {
				b.For(c0, dk, c1, nil, func(b *ir.Builder, k ir.ValueID, _ []ir.ValueID) []ir.ValueID {
					v := b.Binary(ir.KindAddI, b.Binary(ir.KindMulI, i, c100), b.Binary(ir.KindMulI, j, c10))
					v = b.Binary(ir.KindAddI, v, k)
					b.Store(indexToF64(b, v), mem, i, j, k)
					return nil
				})
				return nil
			})
			return nil
		})
		b.Return(mem)
	}
	return nil
}

// parallel_hoist(out) writes 2*i into out[i] through a per-iteration
// scratch buffer.
func buildParallelHoist(b *ir.Builder, p Params) error {
	n := p.Get("n", 0)
	out := ir.MemRef([]int64{n}, ir.Float(64))
	fn, err := newFunc(b, "parallel_hoist", []*ir.Type{out}, nil, p)
	if err != nil {
		return err
	}
	dst := fn.Args()[0]
	c0, c1, cn := b.ConstantIndex(0), b.ConstantIndex(1), b.ConstantIndex(n)
	b.Parallel([]ir.ValueID{c0}, []ir.ValueID{cn}, []ir.ValueID{c1}, nil,
		func(b *ir.Builder, ivs []ir.ValueID) []ir.ValueID {
			tmp := b.Alloc(ir.MemRef([]int64{8}, ir.Float(64)))
			b.Store(indexToF64(b, ivs[0]), tmp, c0)
			v := b.Load(tmp, c0)
			b.Store(b.Binary(ir.KindAddF, v, v), dst, ivs[0])
			b.Dealloc(tmp)
			return nil
		}, nil)
	b.Return()
	return nil
}

// jacobi_1d(a, b) runs steps sweeps of b[i] = (a[i-1] + a[i] + a[i+1]) / 3
// followed by a[i] = b[i] over the interior, inside a parallel
// environment.
func buildJacobi1D(b *ir.Builder, p Params) error {
	n := p.Get("n", 0)
	t := ir.MemRef([]int64{ir.Dynamic}, ir.Float(64))
	fn, err := newFunc(b, "jacobi_1d", []*ir.Type{t, t}, nil, p)
	if err != nil {
		return err
	}
	a, tmp := fn.Args()[0], fn.Args()[1]
	c0, c1 := b.ConstantIndex(0), b.ConstantIndex(1)
	steps := b.ConstantIndex(p.Get("steps", 0))
	third := b.ConstantFloat(1.0/3.0, ir.Float(64))
	if n < 2 {
		b.Return()
		return nil
	}
	size := b.Dim(a, c0)
	hi := b.Binary(ir.KindSubI, size, c1)
	b.EnvRegion(ir.EnvParallel, nil, func(b *ir.Builder) []ir.ValueID {
		b.For(c0, steps, c1, nil, func(b *ir.Builder, _ ir.ValueID, _ []ir.ValueID) []ir.ValueID {
			b.Parallel([]ir.ValueID{c1}, []ir.ValueID{hi}, []ir.ValueID{c1}, nil,
				func(b *ir.Builder, ivs []ir.ValueID) []ir.ValueID {
					i := ivs[0]
					s := b.Binary(ir.KindAddF, b.Load(a, b.Binary(ir.KindSubI, i, c1)), b.Load(a, i))
					s = b.Binary(ir.KindAddF, s, b.Load(a, b.Binary(ir.KindAddI, i, c1)))
					b.Store(b.Binary(ir.KindMulF, s, third), tmp, i)
					return nil
				}, nil)
			b.Parallel([]ir.ValueID{c1}, []ir.ValueID{hi}, []ir.ValueID{c1}, nil,
				func(b *ir.Builder, ivs []ir.ValueID) []ir.ValueID {
					b.Store(b.Load(tmp, ivs[0]), a, ivs[0])
					return nil
				}, nil)
			return nil
		})
		return nil
	})
	b.Return()
	return nil
}

// float_reduce(x) -> (sum, max) over x.
func buildFloatReduce(b *ir.Builder, p Params) error {
	m := b.Module()
	t := ir.MemRef([]int64{ir.Dynamic}, ir.Float(64))
	f64 := ir.Float(64)
	fn, err := newFunc(b, "float_reduce", []*ir.Type{t}, []*ir.Type{f64, f64}, p)
	if err != nil {
		return err
	}
	x := fn.Args()[0]
	c0, c1 := b.ConstantIndex(0), b.ConstantIndex(1)
	n := b.Dim(x, c0)
	zero := b.ConstantFloat(0, f64)
	lowest := b.ConstantFloat(math.Inf(-1), f64)
	par := b.Parallel([]ir.ValueID{c0}, []ir.ValueID{n}, []ir.ValueID{c1}, []ir.ValueID{zero, lowest},
		func(b *ir.Builder, ivs []ir.ValueID) []ir.ValueID {
			v := b.Load(x, ivs[0])
			return []ir.ValueID{v, v}
		},
		[]ir.Reducer{
			func(b *ir.Builder, lhs, rhs ir.ValueID) ir.ValueID { return b.Binary(ir.KindAddF, lhs, rhs) },
			func(b *ir.Builder, lhs, rhs ir.ValueID) ir.ValueID { return b.Binary(ir.KindMaxF, lhs, rhs) },
		})
	b.Return(m.Result(par, 0), m.Result(par, 1))
	return nil
}

// layout_casts(x) -> i64 sums x through change_layout and sign_cast
// chains and scales the sum by a sign-cast constant.
func buildLayoutCasts(b *ir.Builder, p Params) error {
	m := b.Module()
	n := p.Get("n", 0)
	t := ir.MemRef([]int64{n}, ir.Int(64))
	fn, err := newFunc(b, "layout_casts", []*ir.Type{t}, []*ir.Type{ir.Int(64)}, p)
	if err != nil {
		return err
	}
	x := fn.Args()[0]
	v := b.ChangeLayout(x, t.FullyDynamicLayout())
	v = b.ChangeLayout(v, t)
	v = b.SignCast(v, t.WithElem(ir.SInt(64)))
	v = b.SignCast(v, t)

	two := b.SignCast(b.ConstantInt(2, ir.SInt(64)), ir.Int(64))
	c0, c1, cn := b.ConstantIndex(0), b.ConstantIndex(1), b.ConstantIndex(n)
	zero := b.ConstantInt(0, ir.Int(64))
	loop := b.For(c0, cn, c1, []ir.ValueID{zero}, func(b *ir.Builder, iv ir.ValueID, iters []ir.ValueID) []ir.ValueID {
		return []ir.ValueID{b.Binary(ir.KindAddI, iters[0], b.Load(v, iv))}
	})
	b.Return(b.Binary(ir.KindMulI, m.Result(loop, 0), two))
	return nil
}

func addI(b *ir.Builder, lhs, rhs ir.ValueID) ir.ValueID {
	return b.Binary(ir.KindAddI, lhs, rhs)
}
