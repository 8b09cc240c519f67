package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/parlower/internal/runtime"
)

// Snapshot is the golden form of a scenario run.
type Snapshot struct {
	Scenario string           `json:"scenario"`
	Sample   string           `json:"sample"`
	Entry    string           `json:"entry"`
	Results  []any            `json:"results"`
	Counters runtime.Counters `json:"counters"`
	Thunks   []string         `json:"thunks,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// MarshalSnapshot renders the snapshot of result as indented JSON with a
// trailing newline.
func MarshalSnapshot(s *Scenario, result *Result) ([]byte, error) {
	data, err := json.MarshalIndent(Snapshot{
		Scenario: s.Name,
		Sample:   s.Sample,
		Entry:    result.Entry,
		Results:  result.Results,
		Counters: result.Counters,
		Thunks:   result.Thunks,
		Error:    result.Err,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden runs s and compares its snapshot with
// testdata/golden/<name>.golden, and the lowered IR with
// <name>.ir.golden when s.GoldenIR is set. opts are applied after the
// default fixture directory and suffix.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario, opts ...goldie.Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), s)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, s, result, opts...); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result with the golden files of s.
func AssertGolden(t *testing.T, s *Scenario, result *Result, opts ...goldie.Option) error {
	t.Helper()

	snapshot, err := MarshalSnapshot(s, result)
	if err != nil {
		return err
	}
	g := newGoldie(t, opts)
	g.Assert(t, s.Name, snapshot)
	if s.GoldenIR {
		g.Assert(t, s.Name+".ir", []byte(result.LoweredIR))
	}
	return nil
}

func newGoldie(t *testing.T, opts []goldie.Option) *goldie.Goldie {
	return goldie.New(t, append([]goldie.Option{
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	}, opts...)...)
}
