package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlower/internal/store"
)

func TestHistory_RequiresDatabase(t *testing.T) {
	_, stderr, code := execute(t, "history")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "no database")
}

func TestHistory_DatabaseFromEnv(t *testing.T) {
	db := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("PARLOWER_DB", db)

	stdout, _, code := execute(t, "history")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "No runs recorded.")
}

func TestHistory_ListAndShow(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	for _, sample := range []string{"reduce-sum", "layout-casts", "array-return"} {
		_, _, code := execute(t, "lower", sample, "--db", db)
		require.Equal(t, ExitSuccess, code)
	}

	stdout, _, code := execute(t, "history", "--db", db, "--limit", "2", "--format", "json")
	require.Equal(t, ExitSuccess, code)
	var runs []store.Run
	decode(t, stdout, &runs)
	require.Len(t, runs, 2)
	assert.Equal(t, "layout-casts", runs[0].Sample)
	assert.Equal(t, "array-return", runs[1].Sample)

	stdout, _, code = execute(t, "history", "--db", db, "--run", runs[1].ID, "--ir")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "sample:   array-return")
	assert.Contains(t, stdout, "fix-func-abi")
	assert.Contains(t, stdout, "func.func @cube(")
}

func TestHistory_UnknownRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	_, stderr, code := execute(t, "history", "--db", db, "--run", "nope")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "run nope not found")
}

func TestPassesAndSamples(t *testing.T) {
	stdout, _, code := execute(t, "passes", "--format", "json")
	require.Equal(t, ExitSuccess, code)
	var passes PassesOutput
	decode(t, stdout, &passes)
	assert.Len(t, passes.Passes, 7)
	assert.Equal(t, "parallel-to-runtime-loop", passes.Default[0])

	stdout, _, code = execute(t, "samples")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "reduce-sum")
	assert.Contains(t, stdout, "max_concurrency=4")

	stdout, _, code = execute(t, "samples", "--format", "json")
	require.Equal(t, ExitSuccess, code)
	var infos []SampleInfo
	decode(t, stdout, &infos)
	assert.NotEmpty(t, infos)
	assert.True(t, json.Valid([]byte(stdout)))
}
