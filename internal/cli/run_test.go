package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ReduceSumJSON(t *testing.T) {
	stdout, _, code := execute(t, "run", "reduce-sum", "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var out RunOutput
	resp := decode(t, stdout, &out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "reduce_sum", out.Entry)
	assert.True(t, out.Lowered)
	assert.Equal(t, []any{float64(4950)}, out.Results, "JSON numbers decode as float64")
	assert.Zero(t, out.Counters.Allocs)
	assert.NotEmpty(t, out.Passes)
}

func TestRun_TextShowsCounters(t *testing.T) {
	stdout, _, code := execute(t, "run", "hoist-buffer", "-p", "n=4")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "hoist-buffer.hoist_buffer (lowered=true)")
	assert.Contains(t, stdout, "result[0] = 6")
	assert.Contains(t, stdout, "allocs=1 deallocs=1")
}

func TestRun_NoLowerAllocatesPerIteration(t *testing.T) {
	stdout, _, code := execute(t, "run", "hoist-buffer", "-p", "n=4", "--no-lower", "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var out RunOutput
	decode(t, stdout, &out)
	assert.False(t, out.Lowered)
	assert.Empty(t, out.Passes)
	assert.Equal(t, int64(4), out.Counters.Allocs)
}

func TestRun_ArraysInOutput(t *testing.T) {
	stdout, _, code := execute(t, "run", "parallel-hoist", "-p", "n=4", "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var out RunOutput
	decode(t, stdout, &out)
	assert.Equal(t, []any{[]any{0.0, 2.0, 4.0, 6.0}}, out.Args)
}

func TestRun_RecordsInStore(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	_, _, code := execute(t, "run", "float-reduce", "--db", db)
	require.Equal(t, ExitSuccess, code)

	stdout, _, code := execute(t, "history", "--db", db)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "float-reduce")
	assert.Contains(t, stdout, "ok")
}
