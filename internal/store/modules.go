package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ModuleLoad records one module handed to the execution engine.
type ModuleLoad struct {
	Handle     string   `json:"handle" yaml:"handle"`
	Seq        int64    `json:"seq" yaml:"seq"`
	ModuleHash string   `json:"module_hash" yaml:"module_hash"`
	Symbols    []string `json:"symbols" yaml:"symbols"`
}

// WriteModuleLoad records load, stamping its seq. Writing the same handle
// twice is a no-op.
func (s *Store) WriteModuleLoad(ctx context.Context, load ModuleLoad) error {
	symbols := load.Symbols
	if symbols == nil {
		symbols = []string{}
	}
	data, err := json.Marshal(symbols)
	if err != nil {
		return fmt.Errorf("write module load: marshal symbols: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loaded_modules (handle, seq, module_hash, symbols)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(handle) DO NOTHING
	`, load.Handle, s.clock.Next(), load.ModuleHash, string(data))
	if err != nil {
		return fmt.Errorf("write module load: %w", err)
	}
	return nil
}

// ReadModuleLoads returns recorded loads in seq order. An empty hash
// returns every load.
func (s *Store) ReadModuleLoads(ctx context.Context, moduleHash string) ([]ModuleLoad, error) {
	query := `
		SELECT handle, seq, module_hash, symbols
		FROM loaded_modules
		ORDER BY seq ASC, handle COLLATE BINARY ASC
	`
	var args []any
	if moduleHash != "" {
		query = `
			SELECT handle, seq, module_hash, symbols
			FROM loaded_modules
			WHERE module_hash = ?
			ORDER BY seq ASC, handle COLLATE BINARY ASC
		`
		args = append(args, moduleHash)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query module loads: %w", err)
	}
	defer rows.Close()

	loads := []ModuleLoad{}
	for rows.Next() {
		var l ModuleLoad
		var symbols string
		if err := rows.Scan(&l.Handle, &l.Seq, &l.ModuleHash, &symbols); err != nil {
			return nil, fmt.Errorf("scan module load: %w", err)
		}
		if err := json.Unmarshal([]byte(symbols), &l.Symbols); err != nil {
			return nil, fmt.Errorf("unmarshal symbols of %s: %w", l.Handle, err)
		}
		loads = append(loads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module loads: %w", err)
	}
	return loads, nil
}
