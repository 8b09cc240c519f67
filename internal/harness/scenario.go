package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/parlower/internal/config"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/samples"
)

// Scenario is one lowering test case.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Sample is a samples registry name.
	Sample string         `yaml:"sample"`
	Params samples.Params `yaml:"params,omitempty"`

	// Entry overrides the sample's entry function.
	Entry string `yaml:"entry,omitempty"`

	// Config is decoded over config.Default().
	Config config.Config `yaml:"config,omitempty"`

	// Args replaces the sample's arguments. Lists become arrays shaped
	// by the entry's parameter type; numbers become scalars.
	Args []any `yaml:"args,omitempty"`

	Expect Expect `yaml:"expect"`

	// Golden compares a snapshot of the run with testdata/golden.
	Golden bool `yaml:"golden,omitempty"`
	// GoldenIR also compares the lowered IR text.
	GoldenIR bool `yaml:"golden_ir,omitempty"`
}

// Expect lists what a run must produce. Absent fields are not checked.
type Expect struct {
	// Results are the entry's return values; arrays as flat lists.
	Results []any `yaml:"results,omitempty"`
	// Args are argument arrays after the call, as flat lists.
	Args []any `yaml:"args,omitempty"`
	// OpCounts maps op names such as "util.parallel" to their count in
	// the lowered module.
	OpCounts map[string]int `yaml:"op_counts,omitempty"`
	// Thunks are array conversion functions that must exist.
	Thunks []string `yaml:"thunks,omitempty"`

	Allocs      *int64 `yaml:"allocs,omitempty"`
	Deallocs    *int64 `yaml:"deallocs,omitempty"`
	StackAllocs *int64 `yaml:"stack_allocs,omitempty"`
	LiveTokens  *int64 `yaml:"live_tokens,omitempty"`

	// Error is a substring of the error lowering, loading or calling
	// must fail with. Empty means the run must succeed.
	Error string `yaml:"error,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	s := Scenario{Config: *config.Default()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Sample == "" {
		return fmt.Errorf("sample is required")
	}
	sample, err := samples.Get(s.Sample)
	if err != nil {
		return err
	}
	if _, err := sample.Resolve(s.Params); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	if err := s.Config.Validate(); err != nil {
		return err
	}
	for name := range s.Expect.OpCounts {
		if _, ok := ir.KindByName(name); !ok {
			return fmt.Errorf("expect.op_counts: unknown op %q", name)
		}
	}
	return nil
}
