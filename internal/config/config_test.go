package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlower/internal/canon"
	"github.com/roach88/parlower/internal/hoist"
	"github.com/roach88/parlower/internal/parloop"
	"github.com/roach88/parlower/internal/pipeline"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, slog.LevelInfo, cfg.Level())

	plan, err := pipeline.Plan(cfg.PipelineOptions(nil))
	require.NoError(t, err)
	assert.Equal(t, pipeline.Default, plan)
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "lowering.yaml"))
	require.NoError(t, err)

	assert.Equal(t, int64(8), cfg.MaxConcurrency)
	assert.Equal(t, []string{parloop.PassName, canon.PassName, hoist.PassName}, cfg.Pipeline)
	assert.Equal(t, Canonicalize{Interleave: true, MaxRewrites: 5000}, cfg.Canonicalize)
	assert.Equal(t, 2, cfg.Engine.Threads)
	assert.Zero(t, cfg.Engine.OptLevel)
	assert.Equal(t, slog.LevelDebug, cfg.Level())

	opts := cfg.PipelineOptions(nil)
	assert.Equal(t, hoist.PassName, opts.Until)
	plan, err := pipeline.Plan(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{parloop.PassName, canon.PassName, hoist.PassName}, plan)
}

func TestLoad_CUE(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "lowering.cue"))
	require.NoError(t, err)

	assert.Equal(t, int64(4), cfg.MaxConcurrency)
	assert.True(t, cfg.Canonicalize.Interleave)
	assert.Equal(t, 3, cfg.Engine.Threads)
	assert.Equal(t, "runs.db", cfg.Engine.Database)
	assert.Equal(t, 1, cfg.Engine.OptLevel, "absent fields keep defaults")
	assert.Equal(t, slog.LevelWarn, cfg.Level())
}

func TestLoad_CUERejectsUnknownField(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "typo.cue"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "max_concurency")
}

func TestLoad_CUESchemaBounds(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "range.cue"))
	require.Error(t, err)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Field, "opt_level")
}

func TestLoad_YAMLRejectsUnknownField(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "typo.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thread")
}

func TestLoad_UnknownPass(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "unknown_pass.yaml"))
	require.Error(t, err)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "pipeline", ce.Field)
	assert.Contains(t, ce.Message, "unknown pass vectorize")
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("PARLOWER_MAX_CONCURRENCY", "6")
	t.Setenv("PARLOWER_THREADS", "5")
	t.Setenv("PARLOWER_LOG_LEVEL", "ERROR")
	t.Setenv("PARLOWER_DB", "/tmp/parlower.db")

	cfg, err := Load(filepath.Join("testdata", "lowering.cue"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), cfg.MaxConcurrency)
	assert.Equal(t, 5, cfg.Engine.Threads)
	assert.Equal(t, slog.LevelError, cfg.Level())
	assert.Equal(t, "/tmp/parlower.db", cfg.Engine.Database)
}

func TestApplyEnv_RejectsBadInteger(t *testing.T) {
	t.Setenv("PARLOWER_THREADS", "many")

	err := ApplyEnv(Default())
	require.Error(t, err)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "PARLOWER_THREADS", ce.Field)
}

func TestApplyEnv_SeesLaterChanges(t *testing.T) {
	t.Setenv("PARLOWER_THREADS", "2")
	cfg := Default()
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, 2, cfg.Engine.Threads)

	t.Setenv("PARLOWER_THREADS", "7")
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, 7, cfg.Engine.Threads)

	t.Setenv("PARLOWER_THREADS", "-3")
	assert.Error(t, ApplyEnv(cfg))
}

func TestValidate_CollectsEveryError(t *testing.T) {
	cfg := Default()
	cfg.MaxConcurrency = -1
	cfg.Engine.Threads = -2
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"max_concurrency", "engine.threads", "log_level"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestValidate_UntilOutsidePipeline(t *testing.T) {
	cfg := Default()
	cfg.Pipeline = []string{canon.PassName}
	cfg.Until = hoist.PassName

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "until")
}

func TestEngineOptions_ThreadsOnlyWhenSet(t *testing.T) {
	cfg := Default()
	assert.Len(t, cfg.EngineOptions(nil), 1)

	cfg.Engine.Threads = 2
	assert.Len(t, cfg.EngineOptions(slog.Default()), 3)
}
