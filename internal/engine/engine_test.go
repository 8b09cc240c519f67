package engine_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parlower/internal/engine"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/pipeline"
	"github.com/roach88/parlower/internal/runtime"
	"github.com/roach88/parlower/internal/samples"
	"github.com/roach88/parlower/internal/store"
)

// calling builds @name(i64) -> i64 returning callee(x) for a declared
// callee.
func calling(t *testing.T, name, callee string) *ir.Module {
	t.Helper()
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	i64 := ir.Int(64)
	_, err := b.DeclareFunc(callee, ir.Func([]*ir.Type{i64}, []*ir.Type{i64}))
	require.NoError(t, err)
	op, err := b.CreateFunc(name, ir.Func([]*ir.Type{i64}, []*ir.Type{i64}), false)
	require.NoError(t, err)
	fn := ir.AsFunc(m, op)
	b.SetInsertionPointToEnd(fn.Entry())
	b.Return(b.Call(callee, []*ir.Type{i64}, fn.Args()[0])...)
	require.NoError(t, ir.Verify(m))
	return m
}

// binaryFunc builds @name(i64, i64) -> i64 applying kind.
func binaryFunc(t *testing.T, name string, kind ir.Kind) *ir.Module {
	t.Helper()
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	i64 := ir.Int(64)
	op, err := b.CreateFunc(name, ir.Func([]*ir.Type{i64, i64}, []*ir.Type{i64}), false)
	require.NoError(t, err)
	fn := ir.AsFunc(m, op)
	b.SetInsertionPointToEnd(fn.Entry())
	b.Return(b.Binary(kind, fn.Args()[0], fn.Args()[1]))
	require.NoError(t, ir.Verify(m))
	return m
}

func lowered(t *testing.T, sample string) *ir.Module {
	t.Helper()
	s, err := samples.Get(sample)
	require.NoError(t, err)
	m, err := s.Build(nil)
	require.NoError(t, err)
	_, err = pipeline.Run(context.Background(), m, pipeline.Options{})
	require.NoError(t, err)
	return m
}

var doubler = map[string]runtime.Extern{
	"host_double": func(_ context.Context, _ runtime.Caller, args []runtime.Value) ([]runtime.Value, error) {
		n, ok := args[0].(runtime.Int)
		if !ok {
			return nil, fmt.Errorf("want int, got %v", args[0])
		}
		return []runtime.Value{n * 2}, nil
	},
}

func TestLoad_UnresolvedSymbol(t *testing.T) {
	e := engine.New()
	_, err := e.Load(context.Background(), calling(t, "twice", "mystery"))
	require.Error(t, err)
	assert.True(t, engine.IsUnresolvedSymbolError(err))
	assert.Contains(t, err.Error(), "unresolved symbol @mystery")
	assert.Zero(t, e.Loaded())
}

func TestLoad_UserSymbolResolvesDeclaration(t *testing.T) {
	e := engine.New(engine.WithSymbols(doubler))
	ctx := context.Background()
	handle, err := e.Load(ctx, calling(t, "twice", "host_double"))
	require.NoError(t, err)

	fn, err := e.Lookup(handle, "twice")
	require.NoError(t, err)
	assert.False(t, fn.Packed())
	res, err := fn.Call(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(42)}, res)
}

func TestLookup_Errors(t *testing.T) {
	e := engine.New(engine.WithSymbols(doubler))
	handle, err := e.Load(context.Background(), calling(t, "twice", "host_double"))
	require.NoError(t, err)

	_, err = e.Lookup("module-missing", "twice")
	assert.True(t, engine.HasCode(err, engine.ErrCodeUnknownHandle))

	_, err = e.Lookup(handle, "thrice")
	assert.True(t, engine.HasCode(err, engine.ErrCodeSymbolNotFound))

	_, err = e.Lookup(handle, "host_double")
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeNullFunction))
	assert.Contains(t, err.Error(), "looked up function is null")
}

func TestLoad_CacheSharesProgram(t *testing.T) {
	e := engine.New(engine.WithHandleGenerator(engine.NewFixedGenerator("module-a", "module-b")))
	ctx := context.Background()

	first, err := e.Load(ctx, binaryFunc(t, "add", ir.KindAddI))
	require.NoError(t, err)
	second, err := e.Load(ctx, binaryFunc(t, "add", ir.KindAddI))
	require.NoError(t, err)

	assert.Equal(t, "module-a", first)
	assert.Equal(t, "module-b", second)
	assert.Equal(t, 2, e.Loaded())
	assert.Equal(t, 1, e.Cached(), "identical modules compile once")

	require.NoError(t, e.Release(first))
	assert.Equal(t, 1, e.Cached())
	fn, err := e.Lookup(second, "add")
	require.NoError(t, err, "releasing one handle keeps the other usable")
	res, err := fn.Call(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(5)}, res)

	require.NoError(t, e.Release(second))
	assert.Zero(t, e.Cached())
	assert.True(t, engine.HasCode(e.Release(second), engine.ErrCodeUnknownHandle))
}

func TestLoad_DoesNotMutateInput(t *testing.T) {
	m := samplesModule(t, "layout-casts")
	before := ir.Print(m)

	_, err := engine.New().Load(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, before, ir.Print(m))
}

func samplesModule(t *testing.T, name string) *ir.Module {
	t.Helper()
	s, err := samples.Get(name)
	require.NoError(t, err)
	m, err := s.Build(nil)
	require.NoError(t, err)
	return m
}

func TestLoad_DataLayout(t *testing.T) {
	m := binaryFunc(t, "add", ir.KindAddI)
	m.Op(m.Root()).Attrs[ir.AttrIndexWidth] = ir.IntAttr{Value: 32}

	_, err := engine.New().Load(context.Background(), m)
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeDataLayout))

	m.Op(m.Root()).Attrs[ir.AttrIndexWidth] = ir.IntAttr{Value: 64}
	_, err = engine.New().Load(context.Background(), m)
	assert.NoError(t, err)
}

func TestCall_Errors(t *testing.T) {
	e := engine.New()
	ctx := context.Background()
	handle, err := e.Load(ctx, binaryFunc(t, "div", ir.KindDivSI))
	require.NoError(t, err)
	fn, err := e.Lookup(handle, "div")
	require.NoError(t, err)

	_, err = fn.Call(ctx, 1)
	assert.True(t, engine.HasCode(err, engine.ErrCodeBadArguments))

	_, err = fn.Call(ctx, 1, "two")
	assert.True(t, engine.HasCode(err, engine.ErrCodeBadArguments))

	_, err = fn.CallPacked(ctx, 1, 2)
	assert.True(t, engine.HasCode(err, engine.ErrCodeBadArguments), "div uses the internal convention")

	_, err = fn.Call(ctx, 1, 0)
	require.Error(t, err)
	assert.True(t, engine.IsExecutionError(err))

	res, err := fn.Call(ctx, -7, 2)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(-3)}, res)
}

func TestCallPacked_ReduceSum(t *testing.T) {
	e := engine.New(engine.WithThreads(4))
	ctx := context.Background()
	handle, err := e.Load(ctx, lowered(t, "reduce-sum"))
	require.NoError(t, err)

	fn, err := e.Lookup(handle, "reduce_sum")
	require.NoError(t, err)
	require.True(t, fn.Packed())
	assert.Equal(t, "() -> (i64)", fn.OriginalType().String())

	res, err := fn.CallPacked(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(4950)}, res)
}

func TestCallPacked_ArrayReturn(t *testing.T) {
	e := engine.New()
	ctx := context.Background()
	handle, err := e.Load(ctx, lowered(t, "array-return"))
	require.NoError(t, err)

	fn, err := e.Lookup(handle, "cube_t")
	require.NoError(t, err)
	res, err := fn.CallPacked(ctx)
	require.NoError(t, err)
	require.Len(t, res, 1)

	arr, ok := res[0].(*engine.Array)
	require.True(t, ok)
	assert.Equal(t, []int64{4, 3, 2}, arr.Shape)
	v, err := arr.At(3, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, runtime.Float(321), v)

	require.NoError(t, arr.Release())
	assert.Equal(t, e.Counters().Allocs, e.Counters().Deallocs, "returned buffer freed by its last reference")
}

func TestLookup_ConcurrentCalls(t *testing.T) {
	e := engine.New(engine.WithThreads(4))
	ctx := context.Background()
	handle, err := e.Load(ctx, lowered(t, "reduce-sum"))
	require.NoError(t, err)

	const goroutines = 16
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn, err := e.Lookup(handle, "reduce_sum")
			if err != nil {
				errs <- err
				return
			}
			res, err := fn.CallPacked(ctx)
			if err != nil {
				errs <- err
				return
			}
			if res[0] != int64(4950) {
				errs <- fmt.Errorf("got %v", res[0])
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestWithStore_RecordsLoads(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := engine.New(engine.WithStore(s), engine.WithSymbols(doubler))
	ctx := context.Background()
	handle, err := e.Load(ctx, calling(t, "twice", "host_double"))
	require.NoError(t, err)

	loads, err := s.ReadModuleLoads(ctx, "")
	require.NoError(t, err)
	require.Len(t, loads, 1)
	assert.Equal(t, handle, loads[0].Handle)
	assert.Equal(t, []string{"twice"}, loads[0].Symbols, "declarations are not recorded as symbols")
	assert.NotEmpty(t, loads[0].ModuleHash)
}

func TestUUIDv7Generator_Prefix(t *testing.T) {
	h := engine.UUIDv7Generator{}.Generate()
	assert.Regexp(t, `^module-[0-9a-f-]{36}$`, h)
	assert.NotEqual(t, h, engine.UUIDv7Generator{}.Generate())
}
