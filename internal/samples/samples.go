// Package samples builds the example programs the CLI and the scenario
// harness lower and run. Each sample stands in for front-end output: a
// module of scf/memref IR built with ir.Builder, parameterized by size and
// max concurrency.
package samples

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/parlower/internal/engine"
	"github.com/roach88/parlower/internal/ir"
)

// Params are integer knobs of a sample, such as "n" or "max_concurrency".
type Params map[string]int64

// Get returns the value of key or def.
func (p Params) Get(key string, def int64) int64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Sample is a named program builder.
type Sample struct {
	Name        string
	Description string
	// Entry is the function the CLI and the harness call.
	Entry string
	// Defaults holds every parameter the sample reads.
	Defaults Params

	build func(b *ir.Builder, p Params) error
	args  func(p Params) []any
}

// Resolve returns the defaults overridden by p. Unknown keys are an error.
func (s Sample) Resolve(p Params) (Params, error) {
	out := maps.Clone(s.Defaults)
	if out == nil {
		out = Params{}
	}
	for k, v := range p {
		if _, ok := s.Defaults[k]; !ok {
			return nil, fmt.Errorf("sample %s has no parameter %q (have %s)", s.Name, k, strings.Join(slices.Sorted(maps.Keys(s.Defaults)), ", "))
		}
		out[k] = v
	}
	return out, nil
}

// Build returns a fresh, verified module for p.
func (s Sample) Build(p Params) (*ir.Module, error) {
	p, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}
	m := ir.NewModule()
	if err := s.build(ir.NewBuilder(m), p); err != nil {
		return nil, fmt.Errorf("build %s: %w", s.Name, err)
	}
	if err := ir.Verify(m); err != nil {
		return nil, fmt.Errorf("build %s: %w", s.Name, err)
	}
	return m, nil
}

// Args returns fresh entry arguments for p. Arrays are newly allocated on
// every call.
func (s Sample) Args(p Params) ([]any, error) {
	p, err := s.Resolve(p)
	if err != nil {
		return nil, err
	}
	if s.args == nil {
		return nil, nil
	}
	return s.args(p), nil
}

var registry = map[string]Sample{}

func register(s Sample) {
	if _, dup := registry[s.Name]; dup {
		panic("samples: duplicate sample " + s.Name)
	}
	registry[s.Name] = s
}

// Get returns the named sample.
func Get(name string) (Sample, error) {
	s, ok := registry[name]
	if !ok {
		return Sample{}, fmt.Errorf("unknown sample %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return s, nil
}

// Names returns every sample name in order.
func Names() []string {
	return slices.Sorted(maps.Keys(registry))
}

// All returns every sample ordered by name.
func All() []Sample {
	out := make([]Sample, 0, len(registry))
	for _, name := range Names() {
		out = append(out, registry[name])
	}
	return out
}

// newFunc creates a public function and points b at its entry block.
func newFunc(b *ir.Builder, name string, inputs, results []*ir.Type, p Params) (ir.FuncOp, error) {
	op, err := b.CreateFunc(name, ir.Func(inputs, results), false)
	if err != nil {
		return ir.FuncOp{}, err
	}
	fn := ir.AsFunc(b.Module(), op)
	if mc, ok := p["max_concurrency"]; ok {
		fn.SetMaxConcurrency(mc)
	}
	if p.Get("fastmath", 0) != 0 {
		fn.Attrs()[ir.AttrFastmath] = ir.UnitAttr{}
	}
	b.SetInsertionPointToEnd(fn.Entry())
	return fn, nil
}

// indexToF64 converts an index to f64.
func indexToF64(b *ir.Builder, v ir.ValueID) ir.ValueID {
	return b.SIToFP(b.IndexCast(v, ir.Int(64)), ir.Float(64))
}

// ramp returns the f64 array [0, 0.5, 1, ...] of length n. Every partial
// sum of it is exact in f64.
func ramp(n int64) *engine.Array {
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i) * 0.5
	}
	return engine.Float64s(vals...)
}
