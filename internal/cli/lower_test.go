package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLower_PrintsLoweredIR(t *testing.T) {
	stdout, _, code := execute(t, "lower", "reduce-sum")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "func.func @reduce_sum(")
	assert.Contains(t, stdout, "func.func private @nmrtParallelFor(")
	assert.NotContains(t, stdout, "util.parallel")
}

func TestLower_Until(t *testing.T) {
	stdout, _, code := execute(t, "lower", "reduce-sum", "--until", "parallel-to-runtime-loop", "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var out LowerOutput
	resp := decode(t, stdout, &out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"parallel-to-runtime-loop"}, out.Pipeline)
	require.Len(t, out.Passes, 1)
	assert.Contains(t, out.IR, "util.parallel")
	assert.False(t, out.Cached)
}

func TestLower_Stats(t *testing.T) {
	stdout, _, code := execute(t, "lower", "hoist-buffer", "--stats")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "PASS")
	assert.Contains(t, stdout, "hoist-buffer-allocs")
	assert.Contains(t, stdout, "total")
}

func TestLower_CachedFromStore(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	args := []string{"lower", "jacobi-1d", "--param", "n=16", "--db", db, "--format", "json"}

	stdout, _, code := execute(t, args...)
	require.Equal(t, ExitSuccess, code)
	var first LowerOutput
	decode(t, stdout, &first)
	assert.False(t, first.Cached)
	assert.NotEmpty(t, first.RunID)

	stdout, _, code = execute(t, args...)
	require.Equal(t, ExitSuccess, code)
	var second LowerOutput
	decode(t, stdout, &second)
	assert.True(t, second.Cached)
	assert.Equal(t, first.IR, second.IR)
	assert.Equal(t, first.ModuleHash, second.ModuleHash)

	stdout, _, code = execute(t, "lower", "jacobi-1d", "--param", "n=17", "--db", db, "--format", "json")
	require.Equal(t, ExitSuccess, code)
	var sameIR LowerOutput
	decode(t, stdout, &sameIR)
	assert.True(t, sameIR.Cached, "n only sizes the arguments, the module is unchanged")
	assert.Equal(t, first.ModuleHash, sameIR.ModuleHash)

	stdout, _, code = execute(t, "lower", "jacobi-1d", "--param", "steps=5", "--db", db, "--format", "json")
	require.Equal(t, ExitSuccess, code)
	var other LowerOutput
	decode(t, stdout, &other)
	assert.False(t, other.Cached, "a different step count builds a different module")
	assert.NotEqual(t, first.ModuleHash, other.ModuleHash)
}

func TestLower_CacheKeyIncludesRewriteQuota(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	cfg := filepath.Join(dir, "quota.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("canonicalize:\n  max_rewrites: 1\n"), 0o644))

	_, _, code := execute(t, "lower", "layout-casts", "--db", db, "--format", "json")
	require.Equal(t, ExitSuccess, code)

	stdout, _, code := execute(t, "lower", "layout-casts", "--config", cfg, "--db", db, "--format", "json")
	assert.Equal(t, ExitFailure, code, "a tighter quota lowers again instead of reusing the cached run")
	resp := decode(t, stdout, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "LOWERING_FAILED", resp.Error.Code)
}

func TestLower_FailureExitsOne(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "quota.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("canonicalize:\n  max_rewrites: 1\n"), 0o644))
	db := filepath.Join(dir, "runs.db")

	stdout, _, code := execute(t, "lower", "layout-casts", "--config", cfg, "--db", db, "--format", "json")
	assert.Equal(t, ExitFailure, code)
	resp := decode(t, stdout, nil)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "LOWERING_FAILED", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "exceeded max steps quota")

	stdout, _, code = execute(t, "history", "--db", db)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "failed")
}

func TestLower_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown sample", []string{"lower", "fft"}, "unknown sample"},
		{"bad param", []string{"lower", "reduce-sum", "-p", "n=many"}, "invalid parameters"},
		{"unknown param", []string{"lower", "reduce-sum", "-p", "width=3"}, `no parameter "width"`},
		{"unknown until", []string{"lower", "reduce-sum", "--until", "vectorize"}, "invalid pipeline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, code := execute(t, tt.args...)
			assert.Equal(t, ExitCommandError, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}
