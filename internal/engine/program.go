package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/runtime"
)

// funcInfo is one resolved symbol of a compiled program.
type funcInfo struct {
	name     string
	op       ir.OpID
	typ      *ir.Type
	original *ir.Type // abi.original_type of ABI-fixed functions
	maxConc  int64
	extern   runtime.Extern
}

// program is a verified module with every symbol resolved. It is
// immutable once built and shared by every handle of the same module.
type program struct {
	m      *ir.Module
	hash   string
	funcs  map[string]*funcInfo
	rt     *runtime.Runtime
	logger *slog.Logger
}

// link resolves declarations of m against user symbols first, then the
// runtime's entry points.
func link(m *ir.Module, hash string, rt *runtime.Runtime, user map[string]runtime.Extern, logger *slog.Logger) (*program, error) {
	p := &program{m: m, hash: hash, funcs: make(map[string]*funcInfo), rt: rt, logger: logger}
	builtin := rt.Symbols()
	for _, op := range m.Funcs() {
		f := ir.AsFunc(m, op)
		fi := &funcInfo{name: f.Name(), op: op, typ: f.Type()}
		fi.maxConc, _ = f.MaxConcurrency()
		if f.Attrs().Has(ir.AttrOriginalType) {
			fi.original = f.Attrs().TypeOf(ir.AttrOriginalType)
		}
		if f.IsDeclaration() {
			ext, ok := user[fi.name]
			if !ok {
				ext, ok = builtin[fi.name]
			}
			if !ok {
				e := newError(ErrCodeUnresolvedSymbol, "unresolved symbol @%s", fi.name)
				e.Symbol = fi.name
				return nil, e
			}
			fi.extern = ext
		}
		p.funcs[fi.name] = fi
	}
	return p, nil
}

// symbols returns the names of every function defined in the program.
func (p *program) symbols() []string {
	var out []string
	for name, fi := range p.funcs {
		if fi.extern == nil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// call runs the named function with args.
func (p *program) call(ctx context.Context, name string, args []runtime.Value) ([]runtime.Value, error) {
	fi, ok := p.funcs[name]
	if !ok {
		return nil, fmt.Errorf("call of unknown function @%s", name)
	}
	if fi.extern != nil {
		out, err := fi.extern(ctx, p, args)
		if err != nil {
			return nil, fmt.Errorf("@%s: %w", name, err)
		}
		return out, nil
	}
	if len(args) != len(fi.typ.Inputs) {
		return nil, fmt.Errorf("@%s takes %d arguments, got %d", name, len(fi.typ.Inputs), len(args))
	}
	x := &exec{p: p, fn: fi}
	term, vals, err := x.runBlock(ctx, newFrame(nil), ir.AsFunc(p.m, fi.op).Entry(), args)
	if err != nil {
		return nil, err
	}
	if !term.IsValid() || p.m.Kind(term) != ir.KindReturn {
		panic(fmt.Sprintf("engine: @%s ended without func.return", name))
	}
	return vals, nil
}

// CallFunc implements runtime.Caller.
func (p *program) CallFunc(ctx context.Context, name string, args []runtime.Value) ([]runtime.Value, error) {
	return p.call(ctx, name, args)
}

// MaxConcurrency implements runtime.Caller.
func (p *program) MaxConcurrency(name string) int64 {
	if fi, ok := p.funcs[name]; ok {
		return fi.maxConc
	}
	return 0
}
