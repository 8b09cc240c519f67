package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultPipeline = []string{"parallel-to-runtime-loop", "canonicalize", "lower-parallel"}

func TestWriteRun_AssignsIDAndSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.WriteRun(ctx, Run{ModuleHash: "h1", Pipeline: defaultPipeline})
	require.NoError(t, err)
	second, err := s.WriteRun(ctx, Run{ModuleHash: "h2", Pipeline: defaultPipeline})
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, RunOK, first.Status)
	assert.Less(t, first.Seq, second.Seq)
}

func TestReadRun_WithPassStats(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run, err := s.WriteRun(ctx, Run{
		ModuleHash: "h1",
		Sample:     "reduce-sum",
		Pipeline:   defaultPipeline,
		LoweredIR:  "module {}",
		Passes: []PassStat{
			{Pass: "parallel-to-runtime-loop", Rewrites: 1, Sweeps: 2},
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.WritePassStats(ctx, run.ID, []PassStat{
		{Pass: "canonicalize", Rewrites: 7, Erased: 3, Sweeps: 2},
	}))

	got, err := s.ReadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "reduce-sum", got.Sample)
	assert.Equal(t, defaultPipeline, got.Pipeline)
	assert.Equal(t, "module {}", got.LoweredIR)
	require.Len(t, got.Passes, 2)
	assert.Equal(t, "parallel-to-runtime-loop", got.Passes[0].Pass)
	assert.Equal(t, PassStat{Pass: "canonicalize", Rewrites: 7, Erased: 3, Sweeps: 2}, got.Passes[1])
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadRuns_OrderAndLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, h := range []string{"a", "b", "c"} {
		_, err := s.WriteRun(ctx, Run{ModuleHash: h, Pipeline: defaultPipeline})
		require.NoError(t, err)
	}

	all, err := s.ReadRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ModuleHash)
	assert.Equal(t, "c", all[2].ModuleHash)

	last, err := s.ReadRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "b", last[0].ModuleHash)
	assert.Equal(t, "c", last[1].ModuleHash)
}

func TestReadRuns_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)
	runs, err := s.ReadRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestCachedLowering(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.CachedLowering(ctx, "h1", "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	run := Run{ModuleHash: "h1", Pipeline: defaultPipeline, PipelineHash: "p1"}
	run.LoweredIR = "old"
	_, err = s.WriteRun(ctx, run)
	require.NoError(t, err)
	run.LoweredIR = "new"
	_, err = s.WriteRun(ctx, run)
	require.NoError(t, err)
	run.LoweredIR, run.Status, run.Error = "", RunFailed, "boom"
	_, err = s.WriteRun(ctx, run)
	require.NoError(t, err)

	text, ok, err := s.CachedLowering(ctx, "h1", "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", text, "latest successful run wins")

	_, ok, err = s.CachedLowering(ctx, "h1", "p2")
	require.NoError(t, err)
	assert.False(t, ok, "pipeline hash is part of the key")

	runs, err := s.ReadRuns(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "p1", runs[0].PipelineHash)
}

func TestSeq_ResumesAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	run, err := s1.WriteRun(ctx, Run{ModuleHash: "h", Pipeline: defaultPipeline})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	next, err := s2.WriteRun(ctx, Run{ModuleHash: "h", Pipeline: defaultPipeline})
	require.NoError(t, err)
	assert.Greater(t, next.Seq, run.Seq)
}

func TestModuleLoads(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteModuleLoad(ctx, ModuleLoad{Handle: "module-1", ModuleHash: "h1", Symbols: []string{"main"}}))
	require.NoError(t, s.WriteModuleLoad(ctx, ModuleLoad{Handle: "module-2", ModuleHash: "h2"}))
	require.NoError(t, s.WriteModuleLoad(ctx, ModuleLoad{Handle: "module-1", ModuleHash: "h1"}), "duplicate handle is ignored")

	all, err := s.ReadModuleLoads(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"main"}, all[0].Symbols)
	assert.Equal(t, []string{}, all[1].Symbols)

	filtered, err := s.ReadModuleLoads(ctx, "h2")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "module-2", filtered[0].Handle)
}
