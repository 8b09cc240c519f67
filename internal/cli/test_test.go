package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtures = "../harness/testdata/scenarios"

func TestTestCommand_Fixtures(t *testing.T) {
	stdout, _, code := execute(t, "test", fixtures)
	require.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "✓ reduce_sum")
	assert.Contains(t, stdout, "✓ All scenarios passed")
}

func TestTestCommand_FilterAndJSON(t *testing.T) {
	stdout, _, code := execute(t, "test", fixtures, "--filter", "reduce_*", "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var result TestResult
	resp := decode(t, stdout, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	dir := t.TempDir()
	scenarios := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "casts.yaml"), []byte(`name: casts
sample: layout-casts
expect:
  results: [8]
golden: true
golden_ir: true
`), 0o644))

	stdout, _, code := execute(t, "test", scenarios)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "casts.golden missing")

	_, _, code = execute(t, "test", scenarios, "--update")
	require.Equal(t, ExitSuccess, code)
	assert.FileExists(t, filepath.Join(dir, "golden", "casts.golden"))
	assert.FileExists(t, filepath.Join(dir, "golden", "casts.ir.golden"))

	_, _, code = execute(t, "test", scenarios)
	assert.Equal(t, ExitSuccess, code)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "casts.golden"), []byte("{}\n"), 0o644))
	stdout, _, code = execute(t, "test", scenarios)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "casts.golden mismatch")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`name: wrong
sample: reduce-sum
params: {n: 10}
expect:
  results: [46]
`), 0o644))

	stdout, _, code := execute(t, "test", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "✗ wrong")
	assert.Contains(t, stdout, "Expected: 46")
	assert.Contains(t, stdout, "Actual: 45")
}

func TestTestCommand_Errors(t *testing.T) {
	_, stderr, code := execute(t, "test", "/nonexistent/scenarios")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "scenarios directory not found")

	_, stderr, code = execute(t, "test", fixtures, "--filter", "[")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid filter pattern")
}

func TestTestCommand_Empty(t *testing.T) {
	stdout, _, code := execute(t, "test", t.TempDir())
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "No scenarios found.")
}
