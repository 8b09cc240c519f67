package harness

import (
	"context"
	"io/fs"
	"path/filepath"
	"slices"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int       `json:"total"`
	Passed   int       `json:"passed"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

// Failure is one scenario that did not pass.
type Failure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// FindScenarios returns every .yaml and .yml file under dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	return paths, nil
}

// RunDir loads and runs every scenario under dir. A scenario that fails
// to load counts as a failure; the suite keeps going.
func RunDir(ctx context.Context, dir string, opts ...Option) (*SuiteResult, error) {
	paths, err := FindScenarios(dir)
	if err != nil {
		return nil, err
	}
	suite := &SuiteResult{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return suite, err
		}
		suite.Total++
		s, err := LoadScenario(path)
		if err != nil {
			suite.fail(filepath.Base(path), path, []string{err.Error()})
			continue
		}
		result, err := Run(ctx, s, opts...)
		if err != nil {
			suite.fail(s.Name, path, []string{err.Error()})
			continue
		}
		if !result.Pass {
			suite.fail(s.Name, path, result.Errors)
			continue
		}
		suite.Passed++
	}
	return suite, nil
}

func (r *SuiteResult) fail(name, path string, errs []string) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{Scenario: name, Path: path, Errors: errs})
}
