package runtime

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Entry point names resolved by the execution engine.
const (
	ParallelForSymbol       = "nmrtParallelFor"
	AllocMemInfoSymbol      = "nmrtAllocMemInfo"
	CreateAllocTokenSymbol  = "nmrtCreateAllocToken"
	DestroyAllocTokenSymbol = "nmrtDestroyAllocToken"
	IncrefSymbol            = "nmrtIncref"
	DecrefSymbol            = "nmrtDecref"
)

// Caller calls back into compiled code. The engine implements it.
type Caller interface {
	CallFunc(ctx context.Context, name string, args []Value) ([]Value, error)
	// MaxConcurrency returns the max_concurrency of a function, or 0.
	MaxConcurrency(name string) int64
}

// Extern is a function resolved by symbol name.
type Extern func(ctx context.Context, c Caller, args []Value) ([]Value, error)

// Runtime holds the thread budget and the allocation counters of one
// engine.
type Runtime struct {
	threads int
	logger  *slog.Logger

	allocs      atomic.Int64
	deallocs    atomic.Int64
	stackAllocs atomic.Int64
	liveTokens  atomic.Int64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithThreads sets the number of worker goroutines per parallel-for.
// Values below one select GOMAXPROCS.
func WithThreads(n int) Option {
	return func(r *Runtime) { r.threads = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// New returns a runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.threads < 1 {
		r.threads = goruntime.GOMAXPROCS(0)
	}
	return r
}

// Threads returns the worker budget.
func (r *Runtime) Threads() int { return r.threads }

// Counters returns a snapshot of the allocation counters.
func (r *Runtime) Counters() Counters {
	return Counters{
		Allocs:      r.allocs.Load(),
		Deallocs:    r.deallocs.Load(),
		StackAllocs: r.stackAllocs.Load(),
		LiveTokens:  r.liveTokens.Load(),
	}
}

// ResetCounters zeroes the allocation counters.
func (r *Runtime) ResetCounters() {
	r.allocs.Store(0)
	r.deallocs.Store(0)
	r.stackAllocs.Store(0)
	r.liveTokens.Store(0)
}

// Range is one loop dimension: [Lower, Upper) by Step.
type Range struct {
	Lower, Upper, Step int64
}

// Trips returns the iteration count of r.
func (r Range) Trips() int64 {
	if r.Step <= 0 || r.Upper <= r.Lower {
		return 0
	}
	return (r.Upper - r.Lower + r.Step - 1) / r.Step
}

// Split divides dimension 0 of dims into at most n contiguous, step-aligned,
// non-overlapping slices. Slice i keeps the other dimensions whole.
func Split(dims []Range, n int) [][]Range {
	if len(dims) == 0 || n < 1 {
		return nil
	}
	d0 := dims[0]
	trips := d0.Trips()
	if trips == 0 {
		return nil
	}
	if int64(n) > trips {
		n = int(trips)
	}
	base, rem := trips/int64(n), trips%int64(n)
	out := make([][]Range, 0, n)
	start := int64(0)
	for i := 0; i < n; i++ {
		count := base
		if int64(i) < rem {
			count++
		}
		slice := append([]Range(nil), dims...)
		slice[0] = Range{
			Lower: d0.Lower + start*d0.Step,
			Upper: min(d0.Lower+(start+count)*d0.Step, d0.Upper),
			Step:  d0.Step,
		}
		out = append(out, slice)
		start += count
	}
	return out
}

// SliceFunc runs one slice on thread index thread.
type SliceFunc func(ctx context.Context, slice []Range, thread int) error

// ParallelFor runs fn over the slices of dims on at most limit goroutines
// (the runtime's budget when limit < 1). The first error cancels the
// context passed to the other slices; every goroutine is joined before
// returning.
func (r *Runtime) ParallelFor(ctx context.Context, dims []Range, limit int, fn SliceFunc) error {
	n := r.threads
	if limit > 0 && limit < n {
		n = limit
	}
	slices := Split(dims, n)
	r.logger.Debug("parallel for", "dims", len(dims), "threads", len(slices))

	g, ctx := errgroup.WithContext(ctx)
	for i, slice := range slices {
		g.Go(func() error {
			if err := fn(ctx, slice, i); err != nil {
				return fmt.Errorf("thread %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Symbols returns the runtime entry points by name.
func (r *Runtime) Symbols() map[string]Extern {
	return map[string]Extern{
		ParallelForSymbol:       r.parallelFor,
		AllocMemInfoSymbol:      r.allocMemInfo,
		CreateAllocTokenSymbol:  r.createAllocToken,
		DestroyAllocTokenSymbol: r.destroyAllocToken,
		IncrefSymbol:            r.incref,
		DecrefSymbol:            r.decref,
	}
}

// parallelFor implements nmrtParallelFor(bounds, numDims, fn, ctx). Each
// bounds slot holds {lower, upper, step}; the outlined function receives a
// pointer to numDims {lower, upper} slots, its thread index and ctx.
func (r *Runtime) parallelFor(ctx context.Context, c Caller, args []Value) ([]Value, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("%s: got %d arguments, want 4", ParallelForSymbol, len(args))
	}
	bounds, ok1 := args[0].(Ptr)
	ndims, ok2 := args[1].(Int)
	fn, ok3 := args[2].(FuncRef)
	env, ok4 := args[3].(Ptr)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("%s: bad argument kinds %v", ParallelForSymbol, args)
	}
	if ndims < 1 {
		return nil, fmt.Errorf("%s: numDims %d, want at least 1", ParallelForSymbol, ndims)
	}
	dims := make([]Range, ndims)
	for d := range dims {
		p, err := bounds.Add(int64(d))
		if err != nil {
			return nil, err
		}
		v, err := Load(p)
		if err != nil {
			return nil, fmt.Errorf("%s: bounds[%d]: %w", ParallelForSymbol, d, err)
		}
		agg, ok := v.(Aggregate)
		if !ok || len(agg) != 3 {
			return nil, fmt.Errorf("%s: bounds[%d] is %v", ParallelForSymbol, d, v)
		}
		dims[d] = Range{Lower: int64(asInt(agg[0])), Upper: int64(asInt(agg[1])), Step: int64(asInt(agg[2]))}
	}
	limit := int(c.MaxConcurrency(string(fn)))
	err := r.ParallelFor(ctx, dims, limit, func(ctx context.Context, slice []Range, thread int) error {
		ranges := NewCells(int64(len(slice)), nil)
		for d, s := range slice {
			ranges.slots[d] = Aggregate{Int(s.Lower), Int(s.Upper)}
		}
		_, err := c.CallFunc(ctx, string(fn), []Value{Ptr{Cells: ranges}, Int(thread), env})
		return err
	})
	return nil, err
}

func asInt(v Value) Int {
	i, _ := v.(Int)
	return i
}

func (r *Runtime) allocMemInfo(_ context.Context, _ Caller, args []Value) ([]Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: got %d arguments, want 1", AllocMemInfoSymbol, len(args))
	}
	mi := r.AllocMemInfo(int64(asInt(args[0])), nil)
	return []Value{Ptr{Info: mi}}, nil
}

func (r *Runtime) createAllocToken(context.Context, Caller, []Value) ([]Value, error) {
	return []Value{r.CreateAllocToken()}, nil
}

func (r *Runtime) destroyAllocToken(_ context.Context, _ Caller, args []Value) ([]Value, error) {
	p, ok := firstPtr(args)
	if !ok {
		return nil, fmt.Errorf("%s: want one pointer argument", DestroyAllocTokenSymbol)
	}
	return nil, r.DestroyAllocToken(p)
}

func (r *Runtime) incref(_ context.Context, _ Caller, args []Value) ([]Value, error) {
	p, ok := firstPtr(args)
	if !ok {
		return nil, fmt.Errorf("%s: want one pointer argument", IncrefSymbol)
	}
	r.Incref(p.Info)
	return nil, nil
}

func (r *Runtime) decref(_ context.Context, _ Caller, args []Value) ([]Value, error) {
	p, ok := firstPtr(args)
	if !ok {
		return nil, fmt.Errorf("%s: want one pointer argument", DecrefSymbol)
	}
	return nil, r.Decref(p.Info)
}

func firstPtr(args []Value) (Ptr, bool) {
	if len(args) != 1 {
		return Ptr{}, false
	}
	p, ok := args[0].(Ptr)
	return p, ok
}
