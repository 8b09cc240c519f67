package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Fixture(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "reduce_sum_config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "reduce_sum_config", s.Name)
	assert.Equal(t, "reduce-sum", s.Sample)
	assert.Equal(t, int64(1001), s.Params["n"])
	assert.Equal(t, int64(3), s.Config.MaxConcurrency)
	assert.True(t, s.Config.Canonicalize.Interleave)
	assert.Equal(t, 2, s.Config.Engine.Threads)
	assert.Equal(t, 1, s.Config.Engine.OptLevel, "unset config fields keep defaults")
	assert.Equal(t, "info", s.Config.LogLevel)
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "sample: reduce-sum\n", "name is required"},
		{"missing sample", "name: x\n", "sample is required"},
		{"unknown sample", "name: x\nsample: fft\n", `unknown sample "fft"`},
		{"unknown param", "name: x\nsample: reduce-sum\nparams: {m: 1}\n", `no parameter "m"`},
		{"unknown field", "name: x\nsample: reduce-sum\nexpects: {}\n", "expects"},
		{"unknown op", "name: x\nsample: reduce-sum\nexpect: {op_counts: {gpu.launch: 0}}\n", `unknown op "gpu.launch"`},
		{"bad config", "name: x\nsample: reduce-sum\nconfig: {pipeline: [vectorize]}\n", "unknown pass vectorize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
