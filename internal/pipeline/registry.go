package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/parlower/internal/abi"
	"github.com/roach88/parlower/internal/canon"
	"github.com/roach88/parlower/internal/hoist"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/lowerpar"
	"github.com/roach88/parlower/internal/parloop"
	"github.com/roach88/parlower/internal/rewrite"
)

// RunFunc applies one pass to m.
type RunFunc func(ctx context.Context, m *ir.Module, opts passOptions) (rewrite.Stats, error)

type passOptions struct {
	maxRewrites int
	logger      *slog.Logger
}

// Pass is a named module transformation.
type Pass struct {
	Name        string
	Description string
	run         RunFunc
}

var registry = map[string]Pass{}

// Register adds a pass. It panics on a duplicate name.
func Register(name, description string, run RunFunc) {
	if _, dup := registry[name]; dup {
		panic("pipeline: duplicate pass " + name)
	}
	registry[name] = Pass{Name: name, Description: description, run: run}
}

func unregister(name string) { delete(registry, name) }

// greedy wraps a pattern set as a pass driven by rewrite.ApplyGreedily.
func greedy(name string, patterns func() []rewrite.Pattern) RunFunc {
	return func(ctx context.Context, m *ir.Module, opts passOptions) (rewrite.Stats, error) {
		return rewrite.ApplyGreedily(ctx, m, patterns(), rewrite.Options{
			MaxRewrites: opts.maxRewrites,
			Logger:      opts.logger,
			Pass:        name,
		})
	}
}

// counted wraps a whole-module pass that reports how many functions it
// changed.
func counted(fix func(*ir.Module) (int, error)) RunFunc {
	return func(ctx context.Context, m *ir.Module, _ passOptions) (rewrite.Stats, error) {
		if err := ctx.Err(); err != nil {
			return rewrite.Stats{}, err
		}
		n, err := fix(m)
		return rewrite.Stats{Rewrites: n, Sweeps: 1}, err
	}
}

func init() {
	Register(parloop.PassName, "rewrite scf.parallel reductions into per-thread slices",
		greedy(parloop.PassName, parloop.Patterns))
	Register(hoist.PassName, "hoist loop-invariant buffer allocations",
		greedy(hoist.PassName, hoist.Patterns))
	Register(lowerpar.RemoveEnvPassName, "inline util.env_region bodies",
		greedy(lowerpar.RemoveEnvPassName, lowerpar.RemoveEnvPatterns))
	Register(lowerpar.PassName, "outline util.parallel bodies into runtime parallel-for calls",
		greedy(lowerpar.PassName, lowerpar.Patterns))
	Register(canon.PassName, "cancel and move layout and signedness casts",
		greedy(canon.PassName, canon.Patterns))
	Register(abi.FuncPassName, "convert public function signatures to the flat ABI",
		counted(abi.FixFuncABI))
	Register(abi.StructPassName, "pass struct arguments of declarations by pointer",
		counted(abi.FixStructABI))
}

// Default is the standard lowering order.
var Default = []string{
	parloop.PassName,
	canon.PassName,
	hoist.PassName,
	canon.PassName,
	lowerpar.RemoveEnvPassName,
	lowerpar.PassName,
	canon.PassName,
	abi.FuncPassName,
	abi.StructPassName,
	canon.PassName,
}

// Lookup returns the named pass.
func Lookup(name string) (Pass, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names returns every registered pass name in lexical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Passes returns every registered pass in lexical order.
func Passes() []Pass {
	out := make([]Pass, 0, len(registry))
	for _, name := range Names() {
		out = append(out, registry[name])
	}
	return out
}

// Validate checks that every name is registered.
func Validate(names []string) error {
	var unknown []string
	for _, n := range names {
		if _, ok := registry[n]; !ok {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown pass %s (have %s)", strings.Join(unknown, ", "), strings.Join(Names(), ", "))
	}
	return nil
}

// Expand returns names with canonicalize inserted after every other pass
// when interleave is set. A canonicalize already following a pass is not
// doubled.
func Expand(names []string, interleave bool) []string {
	if !interleave {
		return slices.Clone(names)
	}
	var out []string
	for i, n := range names {
		out = append(out, n)
		if n == canon.PassName {
			continue
		}
		if i+1 < len(names) && names[i+1] == canon.PassName {
			continue
		}
		out = append(out, canon.PassName)
	}
	return out
}
