package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlower/internal/testutil"
)

// createTestStore opens a fresh store under t.TempDir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, path)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	first, err := s.WriteRun(ctx, Run{ModuleHash: "h", Pipeline: []string{"canonicalize"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	for i := 0; i < 2; i++ {
		s, err = Open(path)
		require.NoError(t, err, "open #%d", i)
		require.NoError(t, s.Close())
	}

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.ReadRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, first.ID, runs[0].ID)
	assert.Equal(t, first.Seq, s.clock.Current(), "clock resumes from the ledger")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t, WithBusyTimeout(250*time.Millisecond))

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "250",
		"foreign_keys": "1",
		"user_version": strconv.Itoa(schemaVersion),
	} {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestMigrate_FromUnversionedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	require.NotContains(t, indexes(t, db, "loaded_modules"), "idx_loaded_modules_hash")
	require.NoError(t, db.Close())

	logs := &testutil.LogBuffer{}
	s, err := Open(path, WithLogger(logs.Logger()))
	require.NoError(t, err)
	defer s.Close()

	assert.Contains(t, indexes(t, s.db, "loaded_modules"), "idx_loaded_modules_hash")
	assert.Contains(t, columns(t, s.db, "pipeline_runs"), "pipeline_hash")
	assert.Contains(t, logs.String(), `"msg":"store migrated"`)
	v, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(schemaVersion), v)
}

func TestSchema_Columns(t *testing.T) {
	s := createTestStore(t)

	for table, want := range map[string][]string{
		"pipeline_runs":  {"id", "seq", "module_hash", "sample", "pipeline", "pipeline_hash", "status", "error", "lowered_ir"},
		"pass_stats":     {"run_id", "position", "pass", "rewrites", "erased", "sweeps"},
		"loaded_modules": {"handle", "seq", "module_hash", "symbols"},
	} {
		assert.Subset(t, columns(t, s.db, table), want, table)
	}
	assert.Contains(t, indexes(t, s.db, "pipeline_runs"), "idx_pipeline_runs_lookup")
	assert.Contains(t, indexes(t, s.db, "pipeline_runs"), "idx_pipeline_runs_cache")
}

func TestConstraint_RunStatus(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO pipeline_runs (id, seq, module_hash, pipeline, status)
		VALUES ('r1', 1, 'h', 'canonicalize', 'pending')
	`)
	assert.Error(t, err, "status is limited to ok and failed")
}

func TestConstraint_PassStatsNeedRun(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO pass_stats (run_id, position, pass, rewrites, erased, sweeps)
		VALUES ('missing', 0, 'canonicalize', 0, 0, 1)
	`)
	assert.Error(t, err, "foreign keys are enforced")
}

func columns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer rows.Close()
	return scanNames(t, rows)
}

func indexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?", table)
	require.NoError(t, err)
	defer rows.Close()
	return scanNames(t, rows)
}

func scanNames(t *testing.T, rows *sql.Rows) []string {
	t.Helper()
	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}
