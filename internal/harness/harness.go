package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/parlower/internal/engine"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/pipeline"
	"github.com/roach88/parlower/internal/runtime"
	"github.com/roach88/parlower/internal/samples"
	"github.com/roach88/parlower/internal/store"
	"github.com/roach88/parlower/internal/testutil"
)

// ThunkPrefix starts the names of generated array conversion functions.
const ThunkPrefix = "__convert_"

// Option configures Run.
type Option func(*runner)

type runner struct {
	logger *slog.Logger
	store  *store.Store
}

// WithLogger routes pipeline and engine logs. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) { r.logger = l }
}

// WithStore records every run in s.
func WithStore(s *store.Store) Option {
	return func(r *runner) { r.store = s }
}

// Run executes s and evaluates its expectations. The returned error is
// reserved for problems with the scenario itself, such as an unknown
// sample; lowering and execution failures are recorded in the Result.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	r := &runner{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(r)
	}

	sample, err := samples.Get(s.Sample)
	if err != nil {
		return nil, err
	}
	params := maps.Clone(s.Params)
	if params == nil {
		params = samples.Params{}
	}
	if mc := s.Config.MaxConcurrency; mc > 0 {
		_, known := sample.Defaults["max_concurrency"]
		if _, set := params["max_concurrency"]; known && !set {
			params["max_concurrency"] = mc
		}
	}
	m, err := sample.Build(params)
	if err != nil {
		return nil, err
	}
	hash, err := ir.ModuleHash(m)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	result.Entry = s.Entry
	if result.Entry == "" {
		result.Entry = sample.Entry
	}

	runErr := r.execute(ctx, s, sample, params, m, result)
	if runErr != nil {
		result.Err = runErr.Error()
	}
	for _, msg := range EvaluateExpect(result, s.Expect) {
		result.AddError(msg)
	}

	if r.store != nil {
		if err := r.record(ctx, s, hash, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// execute lowers m, then loads and calls the entry. It stops at the
// first failure.
func (r *runner) execute(ctx context.Context, s *Scenario, sample samples.Sample, params samples.Params, m *ir.Module, result *Result) error {
	passes, err := pipeline.Run(ctx, m, s.Config.PipelineOptions(r.logger))
	result.Passes = passes
	result.LoweredIR = ir.Print(m)
	if err != nil {
		return err
	}
	countOps(m, s.Expect, result)

	opts := append(s.Config.EngineOptions(r.logger),
		engine.WithHandleGenerator(testutil.NewSequentialHandles("")))
	eng := engine.New(opts...)
	handle, err := eng.Load(ctx, m)
	if err != nil {
		return err
	}
	defer eng.Release(handle)

	fn, err := eng.Lookup(handle, result.Entry)
	if err != nil {
		return err
	}

	var args []any
	if s.Args != nil {
		inputs := fn.Type().Inputs
		if fn.Packed() {
			inputs = fn.OriginalType().Inputs
		}
		args, err = convertArgs(s.Args, inputs)
	} else {
		args, err = sample.Args(params)
	}
	if err != nil {
		return err
	}

	var out []any
	if fn.Packed() {
		out, err = fn.CallPacked(ctx, args...)
	} else {
		out, err = fn.Call(ctx, args...)
	}
	if err != nil {
		return err
	}

	result.Results = Flatten(out)
	result.Args = Flatten(args)
	for _, v := range out {
		if a, ok := v.(*engine.Array); ok {
			if err := a.Release(); err != nil {
				return err
			}
		}
	}
	result.Counters = eng.Counters()
	return nil
}

// countOps fills the op counts the scenario asks for and the thunk list.
func countOps(m *ir.Module, expect Expect, result *Result) {
	for name := range expect.OpCounts {
		kind, _ := ir.KindByName(name)
		result.OpCounts[name] = m.CountKind(m.Root(), kind)
	}
	for _, op := range m.Funcs() {
		if name := ir.AsFunc(m, op).Name(); strings.HasPrefix(name, ThunkPrefix) {
			result.Thunks = append(result.Thunks, name)
		}
	}
	slices.Sort(result.Thunks)
}

func (r *runner) record(ctx context.Context, s *Scenario, hash string, result *Result) error {
	run := store.Run{
		ModuleHash: hash,
		Sample:     s.Sample,
		Status:     store.RunOK,
		LoweredIR:  result.LoweredIR,
	}
	if key, err := pipeline.Fingerprint(s.Config.PipelineOptions(r.logger)); err == nil {
		run.PipelineHash = key
	}
	for _, p := range result.Passes {
		run.Pipeline = append(run.Pipeline, p.Pass)
		run.Passes = append(run.Passes, store.PassStat{
			Pass:     p.Pass,
			Rewrites: p.Stats.Rewrites,
			Erased:   p.Stats.Erased,
			Sweeps:   p.Stats.Sweeps,
		})
	}
	if result.Err != "" {
		run.Status, run.Error = store.RunFailed, result.Err
	}
	if _, err := r.store.WriteRun(ctx, run); err != nil {
		return fmt.Errorf("record scenario %s: %w", s.Name, err)
	}
	return nil
}

// convertArgs builds entry arguments from YAML values.
func convertArgs(raw []any, inputs []*ir.Type) ([]any, error) {
	if len(raw) != len(inputs) {
		return nil, fmt.Errorf("args: got %d, entry takes %d", len(raw), len(inputs))
	}
	out := make([]any, len(raw))
	for i, v := range raw {
		t := inputs[i]
		if !t.IsMemRef() {
			out[i] = v
			continue
		}
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("args[%d]: want a list for %s, got %T", i, t, v)
		}
		arr, err := arrayFrom(list, t)
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		out[i] = arr
	}
	return out, nil
}

// arrayFrom fills a row-major array of type t from vals. Dynamic ranks
// other than one cannot be inferred from a flat list.
func arrayFrom(vals []any, t *ir.Type) (*engine.Array, error) {
	shape := slices.Clone(t.Shape)
	if !t.HasStaticShape() {
		if t.Rank() != 1 {
			return nil, fmt.Errorf("cannot infer the shape of %s", t)
		}
		shape[0] = int64(len(vals))
	}
	arr := engine.NewArray(t.Elem, shape...)
	if arr.Len() != int64(len(vals)) {
		return nil, fmt.Errorf("%s needs %d values, got %d", t, arr.Len(), len(vals))
	}
	idx := make([]int64, len(shape))
	for _, v := range vals {
		var rv runtime.Value
		if t.Elem.IsFloat() {
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("want a number, got %T", v)
			}
			rv = runtime.Float(f)
		} else {
			n, ok := v.(int)
			if !ok {
				return nil, fmt.Errorf("want an integer, got %T", v)
			}
			rv = runtime.Int(n)
		}
		if err := arr.Set(rv, idx...); err != nil {
			return nil, err
		}
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return arr, nil
}

// Flatten replaces arrays with flat Go slices.
func Flatten(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		a, ok := v.(*engine.Array)
		switch {
		case !ok:
			out[i] = v
		case a.Elem.IsFloat():
			out[i] = a.Float64Values()
		default:
			out[i] = a.Int64Values()
		}
	}
	return out
}
