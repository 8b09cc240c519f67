package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the outcome of a pipeline run.
type RunStatus string

const (
	RunOK     RunStatus = "ok"
	RunFailed RunStatus = "failed"
)

// Run is one recorded pipeline invocation.
type Run struct {
	ID         string   `json:"id" yaml:"id"`
	Seq        int64    `json:"seq" yaml:"seq"`
	ModuleHash string   `json:"module_hash" yaml:"module_hash"`
	Sample     string   `json:"sample,omitempty" yaml:"sample,omitempty"`
	Pipeline   []string `json:"pipeline" yaml:"pipeline"`

	// PipelineHash fingerprints the pass order and the options the passes
	// ran with. CachedLowering looks runs up by it.
	PipelineHash string     `json:"pipeline_hash,omitempty" yaml:"pipeline_hash,omitempty"`
	Status       RunStatus  `json:"status" yaml:"status"`
	Error        string     `json:"error,omitempty" yaml:"error,omitempty"`
	LoweredIR    string     `json:"-" yaml:"-"`
	Passes       []PassStat `json:"passes,omitempty" yaml:"passes,omitempty"`
}

// PassStat is the rewrite count of one pass within a run.
type PassStat struct {
	Pass     string `json:"pass" yaml:"pass"`
	Rewrites int    `json:"rewrites" yaml:"rewrites"`
	Erased   int    `json:"erased" yaml:"erased"`
	Sweeps   int    `json:"sweeps" yaml:"sweeps"`
}

func pipelineKey(passes []string) string { return strings.Join(passes, ",") }

func splitPipeline(key string) []string {
	if key == "" {
		return []string{}
	}
	return strings.Split(key, ",")
}

// WriteRun records run, assigning its ID (uuid v7) when empty and its seq
// from the logical clock. Pass stats in run.Passes are written with it.
func (s *Store) WriteRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Run{}, fmt.Errorf("write run: generate id: %w", err)
		}
		run.ID = id.String()
	}
	if run.Status == "" {
		run.Status = RunOK
	}
	run.Seq = s.clock.Next()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_runs
		(id, seq, module_hash, sample, pipeline, pipeline_hash, status, error, lowered_ir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Seq,
		run.ModuleHash,
		run.Sample,
		pipelineKey(run.Pipeline),
		run.PipelineHash,
		string(run.Status),
		run.Error,
		run.LoweredIR,
	)
	if err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}
	if err := insertPassStats(ctx, tx, run.ID, run.Passes); err != nil {
		return Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("write run: commit: %w", err)
	}
	return run, nil
}

// WritePassStats appends stats to an existing run.
func (s *Store) WritePassStats(ctx context.Context, runID string, stats []PassStat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write pass stats: %w", err)
	}
	defer tx.Rollback()
	if err := insertPassStats(ctx, tx, runID, stats); err != nil {
		return err
	}
	return tx.Commit()
}

func insertPassStats(ctx context.Context, tx *sql.Tx, runID string, stats []PassStat) error {
	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM pass_stats WHERE run_id = ?`, runID,
	).Scan(&next); err != nil {
		return fmt.Errorf("write pass stats: %w", err)
	}
	for i, st := range stats {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pass_stats (run_id, position, pass, rewrites, erased, sweeps)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, next+i, st.Pass, st.Rewrites, st.Erased, st.Sweeps)
		if err != nil {
			return fmt.Errorf("write pass stats for run %s: %w", runID, err)
		}
	}
	return nil
}

// ReadRuns returns the most recent runs in seq order, oldest first. A
// limit of zero or less returns every run. Pass stats are not loaded.
func (s *Store) ReadRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, seq, module_hash, sample, pipeline, pipeline_hash, status, error, lowered_ir
		FROM pipeline_runs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`
	var args []any
	if limit > 0 {
		query = `
			SELECT * FROM (
				SELECT id, seq, module_hash, sample, pipeline, pipeline_hash, status, error, lowered_ir
				FROM pipeline_runs
				ORDER BY seq DESC, id COLLATE BINARY DESC
				LIMIT ?
			) ORDER BY seq ASC, id COLLATE BINARY ASC
		`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns one run with its pass stats.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, module_hash, sample, pipeline, pipeline_hash, status, error, lowered_ir
		FROM pipeline_runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, err
	}
	run.Passes, err = s.readPassStats(ctx, id)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *Store) readPassStats(ctx context.Context, runID string) ([]PassStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pass, rewrites, erased, sweeps
		FROM pass_stats
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query pass stats: %w", err)
	}
	defer rows.Close()

	stats := []PassStat{}
	for rows.Next() {
		var st PassStat
		if err := rows.Scan(&st.Pass, &st.Rewrites, &st.Erased, &st.Sweeps); err != nil {
			return nil, fmt.Errorf("scan pass stat: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pass stats: %w", err)
	}
	return stats, nil
}

// CachedLowering returns the lowered IR of the latest successful run with
// the given module and pipeline hashes.
func (s *Store) CachedLowering(ctx context.Context, moduleHash, pipelineHash string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `
		SELECT lowered_ir
		FROM pipeline_runs
		WHERE module_hash = ? AND pipeline_hash = ? AND status = 'ok'
		ORDER BY seq DESC
		LIMIT 1
	`, moduleHash, pipelineHash).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cached lowering: %w", err)
	}
	return text, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var pipeline, status string
	err := row.Scan(&run.ID, &run.Seq, &run.ModuleHash, &run.Sample, &pipeline, &run.PipelineHash, &status, &run.Error, &run.LoweredIR)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Pipeline = splitPipeline(pipeline)
	run.Status = RunStatus(status)
	return run, nil
}
