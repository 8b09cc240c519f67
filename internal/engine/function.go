package engine

import (
	"context"
	"fmt"

	"github.com/roach88/parlower/internal/abi"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/runtime"
)

// Function is a compiled entry point returned by Lookup.
type Function struct {
	handle string
	p      *program
	info   *funcInfo
}

// Name returns the symbol name.
func (f *Function) Name() string { return f.info.name }

// Type returns the function type as compiled.
func (f *Function) Type() *ir.Type { return f.info.typ }

// OriginalType returns the signature before ABI fixing, or nil when the
// function uses the internal convention.
func (f *Function) OriginalType() *ir.Type { return f.info.original }

// Packed reports whether the function uses the flat ABI convention.
func (f *Function) Packed() bool { return f.info.original != nil }

func (f *Function) errorf(code EngineErrorCode, format string, args ...any) *EngineError {
	e := newError(code, format, args...)
	e.Handle, e.Symbol = f.handle, f.info.name
	return e
}

// Call invokes an internal-convention function. Arguments are Go ints,
// floats, bools, *Array or runtime values; results are int64, float64,
// *Array or runtime values.
func (f *Function) Call(ctx context.Context, args ...any) ([]any, error) {
	t := f.info.typ
	if len(args) != len(t.Inputs) {
		return nil, f.errorf(ErrCodeBadArguments, "got %d arguments, want %d", len(args), len(t.Inputs))
	}
	in := make([]runtime.Value, len(args))
	for i, a := range args {
		v, err := f.toValue(t.Inputs[i], a)
		if err != nil {
			return nil, f.errorf(ErrCodeBadArguments, "argument %d: %v", i, err)
		}
		in[i] = v
	}
	out, err := f.p.call(ctx, f.info.name, in)
	if err != nil {
		return nil, f.errorf(ErrCodeExecution, "%v", err)
	}
	res := make([]any, len(out))
	for i, v := range out {
		r, err := f.fromValue(t.Results[i], v)
		if err != nil {
			return nil, f.errorf(ErrCodeExecution, "result %d: %v", i, err)
		}
		res[i] = r
	}
	return res, nil
}

// CallPacked invokes an ABI-fixed function with the arguments of its
// original signature. It allocates the return and exception cells, passes
// arrays as flattened descriptors and decodes the stored results.
func (f *Function) CallPacked(ctx context.Context, args ...any) ([]any, error) {
	orig := f.info.original
	if orig == nil {
		return nil, f.errorf(ErrCodeBadArguments, "function does not use the packed convention")
	}
	if len(args) != len(orig.Inputs) {
		return nil, f.errorf(ErrCodeBadArguments, "got %d arguments, want %d", len(args), len(orig.Inputs))
	}
	ret := runtime.NewCells(1, zeroValue(abi.ResultType(orig.Results)))
	exc := runtime.NewCells(1, runtime.Ptr{})
	in := []runtime.Value{runtime.Ptr{Cells: ret}, runtime.Ptr{Cells: exc}}
	for i, a := range args {
		t := orig.Inputs[i]
		if t.IsMemRef() {
			arr, ok := a.(*Array)
			if !ok {
				return nil, f.errorf(ErrCodeBadArguments, "argument %d: want *Array for %s, got %T", i, t, a)
			}
			if err := checkArray(t, arr); err != nil {
				return nil, f.errorf(ErrCodeBadArguments, "argument %d: %v", i, err)
			}
			in = append(in, arr.descriptor()...)
			continue
		}
		v, err := f.toValue(t, a)
		if err != nil {
			return nil, f.errorf(ErrCodeBadArguments, "argument %d: %v", i, err)
		}
		in = append(in, v)
	}
	if len(in) != len(f.info.typ.Inputs) {
		return nil, f.errorf(ErrCodeBadArguments, "flattened %d arguments, function takes %d", len(in), len(f.info.typ.Inputs))
	}

	out, err := f.p.call(ctx, f.info.name, in)
	if err != nil {
		return nil, f.errorf(ErrCodeExecution, "%v", err)
	}
	if len(out) != 1 {
		return nil, f.errorf(ErrCodeExecution, "packed call returned %d values", len(out))
	}
	if status, _ := out[0].(runtime.Int); status != abi.StatusOK {
		return nil, f.errorf(ErrCodeCallStatus, "call returned status %d", status)
	}

	stored := ret.Slot(0)
	results := orig.Results
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		r, err := f.decodePacked(results[0], stored)
		if err != nil {
			return nil, f.errorf(ErrCodeExecution, "result: %v", err)
		}
		return []any{r}, nil
	}
	agg, ok := stored.(runtime.Aggregate)
	if !ok || len(agg) != len(results) {
		return nil, f.errorf(ErrCodeExecution, "stored result %v does not match %d results", stored, len(results))
	}
	res := make([]any, len(results))
	for i, t := range results {
		r, err := f.decodePacked(t, agg[i])
		if err != nil {
			return nil, f.errorf(ErrCodeExecution, "result %d: %v", i, err)
		}
		res[i] = r
	}
	return res, nil
}

func (f *Function) decodePacked(t *ir.Type, v runtime.Value) (any, error) {
	switch {
	case t.IsMemRef():
		return arrayFromDescriptor(t, v, f.p.rt)
	case t.IsNone():
		return nil, nil
	}
	return f.fromValue(t, v)
}

func checkArray(t *ir.Type, a *Array) error {
	if a == nil {
		return fmt.Errorf("nil array")
	}
	if len(a.Shape) != t.Rank() {
		return fmt.Errorf("array of rank %d for %s", len(a.Shape), t)
	}
	for i, d := range t.Shape {
		if !ir.IsDynamic(d) && d != a.Shape[i] {
			return fmt.Errorf("dimension %d is %d, %s wants %d", i, a.Shape[i], t, d)
		}
	}
	if a.Elem != nil && a.Elem.Signless().String() != t.Elem.Signless().String() {
		return fmt.Errorf("element type %s for %s", a.Elem, t)
	}
	return nil
}

// toValue converts a Go argument to a run-time value of type t.
func (f *Function) toValue(t *ir.Type, a any) (runtime.Value, error) {
	if v, ok := a.(runtime.Value); ok {
		return v, nil
	}
	switch {
	case t.IntegerLike():
		var n int64
		switch a := a.(type) {
		case int:
			n = int64(a)
		case int32:
			n = int64(a)
		case int64:
			n = a
		case uint32:
			n = int64(a)
		case bool:
			if a {
				n = 1
			}
		default:
			return nil, fmt.Errorf("want integer for %s, got %T", t, a)
		}
		return runtime.Int(wrap(n, t)), nil
	case t.IsFloat():
		switch a := a.(type) {
		case float64:
			return runtime.Float(round(a, t)), nil
		case float32:
			return runtime.Float(float64(a)), nil
		case int:
			return runtime.Float(round(float64(a), t)), nil
		}
		return nil, fmt.Errorf("want float for %s, got %T", t, a)
	case t.IsMemRef():
		arr, ok := a.(*Array)
		if !ok {
			return nil, fmt.Errorf("want *Array for %s, got %T", t, a)
		}
		if err := checkArray(t, arr); err != nil {
			return nil, err
		}
		token := runtime.Ptr{Cells: runtime.NewCells(1, runtime.Ptr{Info: arr.info})}
		return arr.memref(token), nil
	case t.IsNone(), t.IsPtr():
		if a == nil {
			return runtime.Ptr{}, nil
		}
	}
	return nil, fmt.Errorf("cannot pass %T as %s", a, t)
}

// fromValue converts a run-time result of type t to a Go value.
func (f *Function) fromValue(t *ir.Type, v runtime.Value) (any, error) {
	switch v := v.(type) {
	case runtime.Int:
		if t.IsInt() && t.Sign == ir.Unsigned {
			return int64(unsigned(int64(v), t)), nil
		}
		return int64(v), nil
	case runtime.Float:
		return float64(v), nil
	case runtime.MemRef:
		return arrayFromMemRef(t, v, f.p.rt)
	}
	return v, nil
}
