package samples

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlower/internal/engine"
	"github.com/roach88/parlower/internal/ir"
)

func TestAll_BuildAndVerify(t *testing.T) {
	for _, s := range All() {
		t.Run(s.Name, func(t *testing.T) {
			m, err := s.Build(nil)
			require.NoError(t, err)
			require.NoError(t, ir.Verify(m))
			assert.True(t, m.Symbols().Lookup(s.Entry).IsValid(), "entry @%s exists", s.Entry)
		})
	}
}

func TestNames_Sorted(t *testing.T) {
	assert.Equal(t, []string{
		"array-return",
		"float-reduce",
		"hoist-buffer",
		"jacobi-1d",
		"layout-casts",
		"parallel-hoist",
		"reduce-sum",
	}, Names())
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reduce-sum")
}

func TestResolve(t *testing.T) {
	s, err := Get("reduce-sum")
	require.NoError(t, err)

	p, err := s.Resolve(Params{"n": 10})
	require.NoError(t, err)
	assert.Equal(t, Params{"n": 10, "max_concurrency": 4}, p)
	assert.Equal(t, Params{"n": 100, "max_concurrency": 4}, s.Defaults, "defaults are not mutated")

	_, err = s.Resolve(Params{"size": 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no parameter "size"`)
}

func TestBuild_MaxConcurrencyAttribute(t *testing.T) {
	s, err := Get("reduce-sum")
	require.NoError(t, err)
	m, err := s.Build(Params{"max_concurrency": 8})
	require.NoError(t, err)

	mc, ok := ir.AsFunc(m, m.Symbols().Lookup("reduce_sum")).MaxConcurrency()
	require.True(t, ok)
	assert.Equal(t, int64(8), mc)
}

func TestBuild_Fastmath(t *testing.T) {
	s, err := Get("float-reduce")
	require.NoError(t, err)

	m, err := s.Build(nil)
	require.NoError(t, err)
	assert.False(t, ir.AsFunc(m, m.Symbols().Lookup("float_reduce")).HasFastmath())

	m, err = s.Build(Params{"fastmath": 1})
	require.NoError(t, err)
	assert.True(t, ir.AsFunc(m, m.Symbols().Lookup("float_reduce")).HasFastmath())
}

func TestArgs_FreshArrays(t *testing.T) {
	s, err := Get("jacobi-1d")
	require.NoError(t, err)

	first, err := s.Args(Params{"n": 4})
	require.NoError(t, err)
	second, err := s.Args(Params{"n": 4})
	require.NoError(t, err)

	require.Len(t, first, 2)
	a := first[0].(*engine.Array)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5}, a.Float64Values())
	assert.NotSame(t, first[0], second[0])
}

func TestArgs_NoArguments(t *testing.T) {
	s, err := Get("reduce-sum")
	require.NoError(t, err)
	args, err := s.Args(nil)
	require.NoError(t, err)
	assert.Empty(t, args)
}
