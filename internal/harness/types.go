package harness

import (
	"github.com/roach88/parlower/internal/pipeline"
	"github.com/roach88/parlower/internal/runtime"
)

// Result is the outcome of one scenario run.
type Result struct {
	// Pass is true when every expectation held.
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	Entry  string                `json:"entry"`
	Passes []pipeline.PassResult `json:"passes"`
	// LoweredIR is the module after the pipeline, also on failure.
	LoweredIR string `json:"-"`

	// Results and Args hold scalars and flattened arrays.
	Results  []any            `json:"results"`
	Args     []any            `json:"args,omitempty"`
	Counters runtime.Counters `json:"counters"`
	OpCounts map[string]int   `json:"op_counts,omitempty"`
	Thunks   []string         `json:"thunks,omitempty"`

	// Err is the lowering, load or call error, if any.
	Err string `json:"error,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		OpCounts: make(map[string]int),
	}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
