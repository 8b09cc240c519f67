package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlower/internal/engine"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/pipeline"
	"github.com/roach88/parlower/internal/runtime"
	"github.com/roach88/parlower/internal/samples"
)

// outcome is what one execution of a sample observably produced.
type outcome struct {
	results  []any
	args     []any
	counters runtime.Counters
}

// execute loads m into a fresh engine, calls the sample entry and
// flattens arrays in results and arguments to Go slices.
func execute(t *testing.T, m *ir.Module, s samples.Sample, p samples.Params) outcome {
	t.Helper()
	ctx := context.Background()
	e := engine.New(engine.WithThreads(4))
	handle, err := e.Load(ctx, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Release(handle) })

	fn, err := e.Lookup(handle, s.Entry)
	require.NoError(t, err)
	args, err := s.Args(p)
	require.NoError(t, err)

	var res []any
	if fn.Packed() {
		res, err = fn.CallPacked(ctx, args...)
	} else {
		res, err = fn.Call(ctx, args...)
	}
	require.NoError(t, err)

	out := outcome{results: flatten(res), args: flatten(args)}
	for _, r := range res {
		if a, ok := r.(*engine.Array); ok {
			require.NoError(t, a.Release())
		}
	}
	out.counters = e.Counters()
	return out
}

func flatten(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		a, ok := v.(*engine.Array)
		if !ok {
			out[i] = v
			continue
		}
		if a.Elem.IsFloat() {
			out[i] = a.Float64Values()
		} else {
			out[i] = a.Int64Values()
		}
	}
	return out
}

func lower(t *testing.T, s samples.Sample, p samples.Params) *ir.Module {
	t.Helper()
	m, err := s.Build(p)
	require.NoError(t, err)
	_, err = pipeline.Run(context.Background(), m, pipeline.Options{})
	require.NoError(t, err)
	return m
}

func TestLowering_PreservesSemantics(t *testing.T) {
	for _, s := range samples.All() {
		t.Run(s.Name, func(t *testing.T) {
			original, err := s.Build(nil)
			require.NoError(t, err)

			want := execute(t, original, s, nil)
			got := execute(t, lower(t, s, nil), s, nil)

			assert.Equal(t, want.results, got.results)
			assert.Equal(t, want.args, got.args, "arrays written through arguments")
		})
	}
}

func TestLowering_ReduceSumScenario(t *testing.T) {
	s, err := samples.Get("reduce-sum")
	require.NoError(t, err)

	got := execute(t, lower(t, s, nil), s, nil)
	assert.Equal(t, []any{int64(4950)}, got.results)
	assert.Zero(t, got.counters.Allocs, "reduction buffer lives on the stack")
	assert.Equal(t, int64(1), got.counters.StackAllocs)
}

func TestLowering_IntegerReductionMatchesSequential(t *testing.T) {
	s, err := samples.Get("reduce-sum")
	require.NoError(t, err)

	for _, tc := range []samples.Params{
		{"n": 0, "max_concurrency": 4},
		{"n": 3, "max_concurrency": 8},
		{"n": 1001, "max_concurrency": 3},
		{"n": 64, "max_concurrency": 2},
	} {
		n := tc["n"]
		got := execute(t, lower(t, s, tc), s, tc)
		assert.Equal(t, []any{n * (n - 1) / 2}, got.results, "n=%d", n)
	}
}

func TestLowering_FloatReductionMatchesSequential(t *testing.T) {
	s, err := samples.Get("float-reduce")
	require.NoError(t, err)

	for _, fastmath := range []int64{0, 1} {
		p := samples.Params{"n": 64, "fastmath": fastmath}
		got := execute(t, lower(t, s, p), s, p)

		var sum float64
		for i := 0; i < 64; i++ {
			sum += float64(i) * 0.5
		}
		assert.Equal(t, []any{sum, 31.5}, got.results, "fastmath=%d", fastmath)
	}
}

func TestLowering_HoistingAllocatesOnce(t *testing.T) {
	s, err := samples.Get("hoist-buffer")
	require.NoError(t, err)
	p := samples.Params{"n": 7}

	original, err := s.Build(p)
	require.NoError(t, err)
	before := execute(t, original, s, p)
	assert.Equal(t, int64(7), before.counters.Allocs)

	after := execute(t, lower(t, s, p), s, p)
	assert.Equal(t, int64(1), after.counters.Allocs)
	assert.Equal(t, int64(1), after.counters.Deallocs)
	assert.Zero(t, after.counters.LiveTokens)
	assert.Equal(t, []any{21.0}, after.results)
}

func TestLowering_ParallelHoistSlicesPerThread(t *testing.T) {
	s, err := samples.Get("parallel-hoist")
	require.NoError(t, err)

	m := lower(t, s, nil)
	var found bool
	m.Walk(m.Root(), func(op ir.OpID) ir.WalkResult {
		if m.Kind(op) == ir.KindAlloc {
			assert.Equal(t, "memref<4x8xf64>", m.Type(m.Result(op, 0)).String())
			found = true
		}
		return ir.WalkAdvance
	})
	assert.True(t, found)

	got := execute(t, m, s, nil)
	assert.Equal(t, int64(1), got.counters.Allocs)
	assert.Equal(t, int64(1), got.counters.Deallocs)
	assert.Zero(t, got.counters.LiveTokens, "the argument's token is released on return")
	want := make([]float64, 16)
	for i := range want {
		want[i] = 2 * float64(i)
	}
	assert.Equal(t, []any{want}, got.args)
}

func TestLowering_Jacobi(t *testing.T) {
	s, err := samples.Get("jacobi-1d")
	require.NoError(t, err)
	p := samples.Params{"n": 20, "steps": 3}

	a := make([]float64, 20)
	for i := range a {
		a[i] = float64(i) * 0.5
	}
	b := make([]float64, 20)
	for step := 0; step < 3; step++ {
		for i := 1; i < 19; i++ {
			b[i] = (a[i-1] + a[i] + a[i+1]) * (1.0 / 3.0)
		}
		for i := 1; i < 19; i++ {
			a[i] = b[i]
		}
	}

	got := execute(t, lower(t, s, p), s, p)
	assert.Equal(t, []any{a, b}, got.args)
	assert.Zero(t, got.counters.LiveTokens)
}

func TestLowering_ArrayReturnSharesThunk(t *testing.T) {
	s, err := samples.Get("array-return")
	require.NoError(t, err)

	m := lower(t, s, nil)
	var thunks []string
	for _, op := range m.Funcs() {
		if name := ir.AsFunc(m, op).Name(); name == "__convert_from_memref_3xf64" {
			thunks = append(thunks, name)
		}
	}
	assert.Len(t, thunks, 1)

	got := execute(t, m, s, nil)
	require.Len(t, got.results, 1)
	vals := got.results[0].([]float64)
	require.Len(t, vals, 24)
	assert.Equal(t, 0.0, vals[0])
	assert.Equal(t, 123.0, vals[23], "element (1, 2, 3)")
}

func TestLowering_LayoutCastsCanonicalized(t *testing.T) {
	s, err := samples.Get("layout-casts")
	require.NoError(t, err)

	m := lower(t, s, nil)
	assert.Zero(t, m.CountKind(m.Root(), ir.KindChangeLayout))
	assert.Zero(t, m.CountKind(m.Root(), ir.KindSignCast))

	got := execute(t, m, s, nil)
	assert.Equal(t, []any{int64(8)}, got.results)
}
