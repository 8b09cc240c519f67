package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/parlower/internal/canon"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
	"github.com/roach88/parlower/internal/runtime"
	"github.com/roach88/parlower/internal/store"
)

// Engine loads lowered modules and exposes their entry points.
//
// Thread-safety model:
//   - Load, Lookup and Release: safe from any goroutine
//   - Function.Call / CallPacked: safe from any goroutine; calls share the
//     runtime's allocation counters
//
// Compiled programs are cached by module hash, so loading an identical
// module twice compiles it once. The cache entry lives until every handle
// referring to it is released.
type Engine struct {
	rt       *runtime.Runtime
	logger   *slog.Logger
	threads  int
	optLevel int
	store    *store.Store
	symbols  map[string]runtime.Extern
	handles  HandleGenerator
	target   Target

	mu     sync.RWMutex
	loaded map[string]*program // by handle
	cache  map[string]*cached  // by module hash
}

type cached struct {
	p    *program
	refs int
}

// DefaultOptLevel canonicalizes modules on load.
const DefaultOptLevel = 1

// Option configures an Engine.
type Option func(*Engine)

// WithThreads sets the runtime's worker budget per parallel-for.
func WithThreads(n int) Option {
	return func(e *Engine) { e.threads = n }
}

// WithOptLevel sets the target optimization level. Level 0 skips
// canonicalization on load.
func WithOptLevel(level int) Option {
	return func(e *Engine) { e.optLevel = level }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStore records every load in s.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithSymbols adds host functions that declarations resolve to. They take
// precedence over runtime entry points of the same name.
func WithSymbols(symbols map[string]runtime.Extern) Option {
	return func(e *Engine) {
		for name, fn := range symbols {
			e.symbols[ir.NormalizeSymbol(name)] = fn
		}
	}
}

// WithHandleGenerator replaces the UUIDv7 handle generator.
func WithHandleGenerator(g HandleGenerator) Option {
	return func(e *Engine) { e.handles = g }
}

// WithTarget overrides the host target.
func WithTarget(t Target) Option {
	return func(e *Engine) { e.target = t }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:   slog.Default(),
		optLevel: DefaultOptLevel,
		symbols:  make(map[string]runtime.Extern),
		handles:  UUIDv7Generator{},
		target:   HostTarget(),
		loaded:   make(map[string]*program),
		cache:    make(map[string]*cached),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rt = runtime.New(runtime.WithThreads(e.threads), runtime.WithLogger(e.logger))
	return e
}

// Runtime returns the engine's runtime.
func (e *Engine) Runtime() *runtime.Runtime { return e.rt }

// Counters returns the runtime's allocation counters.
func (e *Engine) Counters() runtime.Counters { return e.rt.Counters() }

// Load compiles m and returns a handle for Lookup. m itself is not
// modified.
func (e *Engine) Load(ctx context.Context, m *ir.Module) (string, error) {
	hash, err := ir.ModuleHash(m)
	if err != nil {
		return "", newError(ErrCodeInvalidModule, "hash module: %v", err)
	}

	e.mu.Lock()
	if c, ok := e.cache[hash]; ok {
		handle := e.register(c)
		e.mu.Unlock()
		e.logger.Debug("module load served from cache", "handle", handle, "hash", hash)
		return handle, e.record(ctx, handle, c.p)
	}
	e.mu.Unlock()

	p, err := e.compile(ctx, m, hash)
	if err != nil {
		e.logger.Error("module load failed", "hash", hash, "error", err)
		return "", err
	}

	e.mu.Lock()
	c, ok := e.cache[hash]
	if !ok {
		c = &cached{p: p}
		e.cache[hash] = c
	}
	handle := e.register(c)
	e.mu.Unlock()

	e.logger.Info("module loaded", "handle", handle, "hash", hash, "functions", len(c.p.funcs))
	return handle, e.record(ctx, handle, c.p)
}

// register must be called with e.mu held.
func (e *Engine) register(c *cached) string {
	c.refs++
	handle := e.handles.Generate()
	e.loaded[handle] = c.p
	return handle
}

func (e *Engine) record(ctx context.Context, handle string, p *program) error {
	if e.store == nil {
		return nil
	}
	err := e.store.WriteModuleLoad(ctx, store.ModuleLoad{
		Handle:     handle,
		ModuleHash: p.hash,
		Symbols:    p.symbols(),
	})
	if err != nil {
		return fmt.Errorf("record module load %s: %w", handle, err)
	}
	return nil
}

// compile runs target optimization on a copy of m, checks it and links
// its declarations.
func (e *Engine) compile(ctx context.Context, m *ir.Module, hash string) (*program, error) {
	c := m.Clone()
	if err := checkDataLayout(c); err != nil {
		return nil, err
	}
	if e.optLevel >= 1 {
		stats, err := rewrite.ApplyGreedily(ctx, c, canon.Patterns(), rewrite.Options{
			Logger: e.logger,
			Pass:   "target-opt",
		})
		if err != nil {
			return nil, newError(ErrCodeInvalidModule, "target optimization: %v", err)
		}
		e.logger.Debug("target optimization", "rewrites", stats.Rewrites, "erased", stats.Erased)
	}
	e.target.attach(c)
	if err := ir.Verify(c); err != nil {
		return nil, newError(ErrCodeInvalidModule, "%v", err)
	}
	return link(c, hash, e.rt, e.symbols, e.logger)
}

func checkDataLayout(m *ir.Module) error {
	w, ok := m.Op(m.Root()).Attrs.Int(ir.AttrIndexWidth)
	if ok && w != IndexWidth {
		return newError(ErrCodeDataLayout, "index width %d does not match target index width %d", w, IndexWidth)
	}
	return nil
}

// Lookup returns the compiled function name of the module loaded as
// handle.
func (e *Engine) Lookup(handle, name string) (*Function, error) {
	e.mu.RLock()
	p, ok := e.loaded[handle]
	e.mu.RUnlock()
	if !ok {
		return nil, &EngineError{Code: ErrCodeUnknownHandle, Message: "unknown module handle", Handle: handle}
	}
	name = ir.NormalizeSymbol(name)
	fi, ok := p.funcs[name]
	if !ok {
		return nil, &EngineError{Code: ErrCodeSymbolNotFound, Message: "symbol not found", Handle: handle, Symbol: name}
	}
	if fi.extern != nil {
		return nil, &EngineError{Code: ErrCodeNullFunction, Message: "looked up function is null", Handle: handle, Symbol: name}
	}
	return &Function{handle: handle, p: p, info: fi}, nil
}

// Release drops handle. The compiled program is freed with its last
// handle.
func (e *Engine) Release(handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.loaded[handle]
	if !ok {
		return &EngineError{Code: ErrCodeUnknownHandle, Message: "unknown module handle", Handle: handle}
	}
	delete(e.loaded, handle)
	if c := e.cache[p.hash]; c != nil {
		c.refs--
		if c.refs == 0 {
			delete(e.cache, p.hash)
		}
	}
	e.logger.Debug("module released", "handle", handle)
	return nil
}

// Loaded returns the number of live handles.
func (e *Engine) Loaded() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.loaded)
}

// Cached returns the number of distinct compiled programs.
func (e *Engine) Cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
