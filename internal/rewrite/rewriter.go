// Package rewrite provides the pattern interface and the greedy
// fixed-point driver shared by every lowering pass.
package rewrite

import (
	"github.com/roach88/parlower/internal/ir"
)

// Result is the outcome of one pattern application.
type Result int

const (
	// Declined leaves the IR untouched so another pattern can try.
	Declined Result = iota
	// Applied means the pattern rewrote the IR.
	Applied
)

func (r Result) String() string {
	if r == Applied {
		return "applied"
	}
	return "declined"
}

// Pattern is a local rewrite rooted at ops of one kind.
//
// MatchAndRewrite must either decline without touching the IR or rewrite
// it completely. A non-nil error is a hard structural error: the IR is
// unsupported and the enclosing pipeline run stops.
type Pattern interface {
	Name() string
	Root() ir.Kind
	MatchAndRewrite(rw *Rewriter, op ir.OpID) (Result, error)
}

// Func adapts a function to Pattern.
type Func struct {
	PatternName string
	RootKind    ir.Kind
	Fn          func(rw *Rewriter, op ir.OpID) (Result, error)
}

func (f Func) Name() string  { return f.PatternName }
func (f Func) Root() ir.Kind { return f.RootKind }
func (f Func) MatchAndRewrite(rw *Rewriter, op ir.OpID) (Result, error) {
	return f.Fn(rw, op)
}

// New returns a Pattern calling fn for every op of kind root.
func New(name string, root ir.Kind, fn func(rw *Rewriter, op ir.OpID) (Result, error)) Pattern {
	return Func{PatternName: name, RootKind: root, Fn: fn}
}

// Rewriter is the builder handed to patterns. Every mutation goes through
// the module, so the driver only needs to know that something changed.
type Rewriter struct {
	*ir.Builder
	m *ir.Module
}

// NewRewriter returns a rewriter over m.
func NewRewriter(m *ir.Module) *Rewriter {
	return &Rewriter{Builder: ir.NewBuilder(m), m: m}
}

// M returns the module being rewritten.
func (rw *Rewriter) M() *ir.Module { return rw.m }

// ReplaceOp redirects every use of op's results to vals and erases op.
func (rw *Rewriter) ReplaceOp(op ir.OpID, vals ...ir.ValueID) {
	for i, r := range rw.m.Op(op).Results {
		rw.m.ReplaceAllUses(r, vals[i])
	}
	rw.m.Erase(op)
}

// EraseOp erases an op whose results are unused.
func (rw *Rewriter) EraseOp(op ir.OpID) { rw.m.Erase(op) }

// ReplaceAllUses redirects every use of old to repl.
func (rw *Rewriter) ReplaceAllUses(old, repl ir.ValueID) { rw.m.ReplaceAllUses(old, repl) }

// Before positions the rewriter right before op and returns itself.
func (rw *Rewriter) Before(op ir.OpID) *Rewriter {
	rw.SetInsertionPointBefore(op)
	return rw
}

// After positions the rewriter right after op and returns itself.
func (rw *Rewriter) After(op ir.OpID) *Rewriter {
	rw.SetInsertionPointAfter(op)
	return rw
}

// ModifyInPlace runs fn, which mutates op's operands or attributes without
// replacing it.
func (rw *Rewriter) ModifyInPlace(op ir.OpID, fn func(o *ir.Op)) {
	fn(rw.m.Op(op))
}
