package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/runtime"
)

// frame holds the values of one activation. Child frames are used by
// goroutines of an in-place util.parallel and only read their parent.
type frame struct {
	parent *frame
	vals   map[ir.ValueID]runtime.Value
}

func newFrame(parent *frame) *frame {
	return &frame{parent: parent, vals: make(map[ir.ValueID]runtime.Value)}
}

func (f *frame) get(v ir.ValueID) runtime.Value {
	for fr := f; fr != nil; fr = fr.parent {
		if x, ok := fr.vals[v]; ok {
			return x
		}
	}
	return nil
}

func (f *frame) set(v ir.ValueID, x runtime.Value) { f.vals[v] = x }

// exec evaluates the body of one function.
type exec struct {
	p  *program
	fn *funcInfo
}

func (x *exec) errorf(op ir.OpID, format string, args ...any) error {
	return fmt.Errorf("@%s: '%s': %s", x.fn.name, x.p.m.Kind(op), fmt.Sprintf(format, args...))
}

func (x *exec) operands(f *frame, op ir.OpID) []runtime.Value {
	ops := x.p.m.Op(op).Operands
	out := make([]runtime.Value, len(ops))
	for i, v := range ops {
		out[i] = f.get(v)
	}
	return out
}

// runBlock binds args and runs blk up to its terminator, returning the
// terminator and its operand values.
func (x *exec) runBlock(ctx context.Context, f *frame, blk ir.BlockID, args []runtime.Value) (ir.OpID, []runtime.Value, error) {
	m := x.p.m
	b := m.Block(blk)
	if len(args) != len(b.Args) {
		return ir.NoOp, nil, fmt.Errorf("@%s: block takes %d arguments, got %d", x.fn.name, len(b.Args), len(args))
	}
	for i, a := range b.Args {
		f.set(a, args[i])
	}
	for _, op := range b.Ops {
		if m.Kind(op).Has(ir.TraitTerminator) {
			return op, x.operands(f, op), nil
		}
		if err := x.step(ctx, f, op); err != nil {
			return ir.NoOp, nil, err
		}
	}
	return ir.NoOp, nil, nil
}

func (x *exec) runRegion(ctx context.Context, f *frame, r ir.RegionID, args []runtime.Value) ([]runtime.Value, error) {
	blk := x.p.m.EntryBlock(r)
	if !blk.IsValid() {
		return nil, nil
	}
	_, vals, err := x.runBlock(ctx, f, blk, args)
	return vals, err
}

func (x *exec) setResults(f *frame, op ir.OpID, vals []runtime.Value) error {
	res := x.p.m.Op(op).Results
	if len(vals) != len(res) {
		return x.errorf(op, "produced %d values for %d results", len(vals), len(res))
	}
	for i, r := range res {
		f.set(r, vals[i])
	}
	return nil
}

// step evaluates one non-terminator op.
func (x *exec) step(ctx context.Context, f *frame, op ir.OpID) error {
	m := x.p.m
	o := m.Op(op)
	k := o.Kind
	in := x.operands(f, op)
	var resType *ir.Type
	if len(o.Results) > 0 {
		resType = m.Type(o.Results[0])
	}
	set := func(v runtime.Value) error {
		f.set(o.Results[0], v)
		return nil
	}

	if k.IsBinaryArith() {
		v, err := binary(k, resType, in[0], in[1])
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		return set(v)
	}

	switch k {
	case ir.KindConstant:
		v, err := constant(o.Attrs[ir.AttrValue], resType)
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		return set(v)
	case ir.KindZero, ir.KindStructUndef:
		return set(zeroValue(resType))
	case ir.KindFuncConstant:
		callee, _ := o.Attrs.Symbol(ir.AttrCallee)
		return set(runtime.FuncRef(callee))

	case ir.KindCmpI:
		pred, _ := o.Attrs.Str(ir.AttrPredicate)
		v, err := cmpInt(pred, m.Type(o.Operands[0]), in[0], in[1])
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		return set(v)
	case ir.KindCmpF:
		pred, _ := o.Attrs.Str(ir.AttrPredicate)
		v, err := cmpFloat(pred, in[0], in[1])
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		return set(v)
	case ir.KindSelect:
		c, ok := in[0].(runtime.Int)
		if !ok {
			return x.errorf(op, "condition is %v", in[0])
		}
		if c != 0 {
			return set(in[1])
		}
		return set(in[2])
	case ir.KindIndexCast:
		a, ok := in[0].(runtime.Int)
		if !ok {
			return x.errorf(op, "operand is %v", in[0])
		}
		return set(runtime.Int(wrap(int64(a), resType)))
	case ir.KindSIToFP:
		a, ok := in[0].(runtime.Int)
		if !ok {
			return x.errorf(op, "operand is %v", in[0])
		}
		return set(runtime.Float(round(float64(a), resType)))
	case ir.KindSignCast, ir.KindCast, ir.KindChangeLayout:
		return set(in[0])

	case ir.KindCall:
		callee, _ := o.Attrs.Symbol(ir.AttrCallee)
		out, err := x.p.call(ctx, callee, in)
		if err != nil {
			return err
		}
		return x.setResults(f, op, out)

	case ir.KindFor:
		return x.evalFor(ctx, f, op, in)
	case ir.KindWhile:
		return x.evalWhile(ctx, f, op, in)
	case ir.KindIf:
		c, ok := in[0].(runtime.Int)
		if !ok {
			return x.errorf(op, "condition is %v", in[0])
		}
		r := o.Regions[1]
		if c != 0 {
			r = o.Regions[0]
		}
		vals, err := x.runRegion(ctx, f, r, nil)
		if err != nil {
			return err
		}
		return x.setResults(f, op, vals)
	case ir.KindEnvRegion:
		vals, err := x.runRegion(ctx, f, o.Regions[0], nil)
		if err != nil {
			return err
		}
		return x.setResults(f, op, vals)
	case ir.KindParallel:
		return x.evalParallel(ctx, f, op)
	case ir.KindExplicitParallel:
		return x.evalExplicitParallel(ctx, f, op)

	case ir.KindAlloc, ir.KindAlloca:
		mem, err := x.alloc(f, op, k == ir.KindAlloc)
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		return set(mem)
	case ir.KindDealloc:
		if err := x.dealloc(in[0]); err != nil {
			return x.errorf(op, "%v", err)
		}
		return nil
	case ir.KindLoad, ir.KindStore:
		memPos := 0
		if k == ir.KindStore {
			memPos = 1
		}
		p, err := elemPtr(in[memPos], in[memPos+1:])
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		if k == ir.KindStore {
			if err := runtime.Store(p, in[0]); err != nil {
				return x.errorf(op, "%v", err)
			}
			return nil
		}
		v, err := runtime.Load(p)
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		if v == nil {
			v = zeroValue(resType)
		}
		return set(v)
	case ir.KindDim:
		mem, ok1 := in[0].(runtime.MemRef)
		d, ok2 := in[1].(runtime.Int)
		if !ok1 || !ok2 || int(d) < 0 || int(d) >= len(mem.Shape) {
			return x.errorf(op, "bad dimension %v of %v", in[1], in[0])
		}
		return set(runtime.Int(mem.Shape[d]))
	case ir.KindSubview:
		v, err := x.subview(f, op, in[0])
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		return set(v)
	case ir.KindApplyOffset:
		mem, ok := in[0].(runtime.MemRef)
		if !ok {
			return x.errorf(op, "operand is %v", in[0])
		}
		data, err := mem.Data.Add(mem.Offset)
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		mem.Data, mem.Offset = data, 0
		return set(mem)
	case ir.KindMemrefFromParts:
		v, err := memrefFromParts(in)
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		return set(v)
	case ir.KindMemrefToParts:
		mem, ok := in[0].(runtime.MemRef)
		if !ok {
			return x.errorf(op, "operand is %v", in[0])
		}
		out := []runtime.Value{mem.Token, mem.Data, runtime.Int(mem.Offset)}
		if len(o.Results) > 3 {
			out = append(out, intsAggregate(mem.Shape), intsAggregate(mem.Strides))
		}
		return x.setResults(f, op, out)

	case ir.KindPtrAlloca:
		n, _ := o.Attrs.Int(ir.AttrCount)
		elem := o.Attrs.TypeOf(ir.AttrElemType)
		return set(runtime.Ptr{Cells: runtime.NewCells(n, zeroValue(elem))})
	case ir.KindGEP:
		p, err := gep(o, in)
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		return set(p)
	case ir.KindPtrLoad:
		p, ok := in[0].(runtime.Ptr)
		if !ok {
			return x.errorf(op, "operand is %v", in[0])
		}
		v, err := runtime.Load(p)
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		if v == nil {
			v = zeroValue(resType)
		}
		return set(v)
	case ir.KindPtrStore:
		p, ok := in[1].(runtime.Ptr)
		if !ok {
			return x.errorf(op, "address is %v", in[1])
		}
		if err := runtime.Store(p, in[0]); err != nil {
			return x.errorf(op, "%v", err)
		}
		return nil
	case ir.KindStructInsert:
		agg, ok := in[0].(runtime.Aggregate)
		if !ok {
			return x.errorf(op, "operand is %v", in[0])
		}
		out, err := agg.With(in[1], o.Attrs.Ints(ir.AttrPosition)...)
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		return set(out)
	case ir.KindStructExtract:
		agg, ok := in[0].(runtime.Aggregate)
		if !ok {
			return x.errorf(op, "operand is %v", in[0])
		}
		v, err := agg.At(o.Attrs.Ints(ir.AttrPosition)...)
		if err != nil {
			return x.errorf(op, "%v", err)
		}
		if v == nil {
			v = zeroValue(resType)
		}
		return set(v)
	}
	panic(fmt.Sprintf("engine: no evaluator for '%s' in @%s", k, x.fn.name))
}

func (x *exec) evalFor(ctx context.Context, f *frame, op ir.OpID, in []runtime.Value) error {
	lb, ub, step, err := loopBounds(in[0], in[1], in[2])
	if err != nil {
		return x.errorf(op, "%v", err)
	}
	body := x.p.m.BodyBlock(op, 0)
	iters := append([]runtime.Value(nil), in[3:]...)
	for iv := lb; iv < ub; iv += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, vals, err := x.runBlock(ctx, f, body, append([]runtime.Value{runtime.Int(iv)}, iters...))
		if err != nil {
			return err
		}
		iters = vals
	}
	return x.setResults(f, op, iters)
}

func (x *exec) evalWhile(ctx context.Context, f *frame, op ir.OpID, in []runtime.Value) error {
	m := x.p.m
	before, after := m.BodyBlock(op, 0), m.BodyBlock(op, 1)
	args := in
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, vals, err := x.runBlock(ctx, f, before, args)
		if err != nil {
			return err
		}
		c, ok := vals[0].(runtime.Int)
		if !ok {
			return x.errorf(op, "condition is %v", vals[0])
		}
		if c == 0 {
			return x.setResults(f, op, vals[1:])
		}
		_, next, err := x.runBlock(ctx, f, after, vals[1:])
		if err != nil {
			return err
		}
		args = next
	}
}

// evalParallel runs an scf.parallel sequentially, folding each
// iteration's contributions into the accumulators in iteration order.
func (x *exec) evalParallel(ctx context.Context, f *frame, op ir.OpID) error {
	m := x.p.m
	po := ir.ParallelOp{M: m, ID: op}
	n := po.NumDims()
	dims, err := x.ranges(f, po.LowerBounds(), po.UpperBounds(), po.Steps())
	if err != nil {
		return x.errorf(op, "%v", err)
	}
	accs := make([]runtime.Value, 0, po.NumReductions())
	for _, v := range po.Inits() {
		accs = append(accs, f.get(v))
	}
	body := po.Body()
	ivs := make([]runtime.Value, n)

	var nest func(d int) error
	nest = func(d int) error {
		if d == n {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, contrib, err := x.runBlock(ctx, f, body, append([]runtime.Value(nil), ivs...))
			if err != nil {
				return err
			}
			for i := range accs {
				vals, err := x.runRegion(ctx, f, po.ReductionRegion(i), []runtime.Value{accs[i], contrib[i]})
				if err != nil {
					return err
				}
				accs[i] = vals[0]
			}
			return nil
		}
		r := dims[d]
		for iv := r.Lower; iv < r.Upper; iv += r.Step {
			ivs[d] = runtime.Int(iv)
			if err := nest(d + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := nest(0); err != nil {
		return err
	}
	return x.setResults(f, op, accs)
}

// evalExplicitParallel runs a util.parallel that was not lowered to a
// runtime call, on the runtime's workers.
func (x *exec) evalExplicitParallel(ctx context.Context, f *frame, op ir.OpID) error {
	po := ir.ExplicitParallelOp{M: x.p.m, ID: op}
	dims, err := x.ranges(f, po.LowerBounds(), po.UpperBounds(), po.Steps())
	if err != nil {
		return x.errorf(op, "%v", err)
	}
	body := po.Body()
	return x.p.rt.ParallelFor(ctx, dims, int(x.fn.maxConc), func(ctx context.Context, slice []runtime.Range, thread int) error {
		args := make([]runtime.Value, 0, 2*len(slice)+1)
		for _, s := range slice {
			args = append(args, runtime.Int(s.Lower))
		}
		for _, s := range slice {
			args = append(args, runtime.Int(s.Upper))
		}
		args = append(args, runtime.Int(thread))
		_, _, err := x.runBlock(ctx, newFrame(f), body, args)
		return err
	})
}

func (x *exec) ranges(f *frame, lbs, ubs, steps []ir.ValueID) ([]runtime.Range, error) {
	out := make([]runtime.Range, len(lbs))
	for i := range lbs {
		lb, ub, step, err := loopBounds(f.get(lbs[i]), f.get(ubs[i]), f.get(steps[i]))
		if err != nil {
			return nil, err
		}
		out[i] = runtime.Range{Lower: lb, Upper: ub, Step: step}
	}
	return out, nil
}

func loopBounds(lb, ub, step runtime.Value) (int64, int64, int64, error) {
	l, ok1 := lb.(runtime.Int)
	u, ok2 := ub.(runtime.Int)
	s, ok3 := step.(runtime.Int)
	if !ok1 || !ok2 || !ok3 {
		return 0, 0, 0, fmt.Errorf("loop bounds %v, %v, %v are not integers", lb, ub, step)
	}
	if s <= 0 {
		return 0, 0, 0, fmt.Errorf("loop step %d must be positive", s)
	}
	return int64(l), int64(u), int64(s), nil
}

// constant materializes an arith.constant attribute as type t.
func constant(a ir.Attr, t *ir.Type) (runtime.Value, error) {
	switch a := a.(type) {
	case ir.IntAttr:
		if t.IsFloat() {
			return runtime.Float(round(float64(a.Value), t)), nil
		}
		return runtime.Int(wrap(a.Value, t)), nil
	case ir.FloatAttr:
		if t.IntegerLike() {
			return runtime.Int(wrap(int64(a.Value), t)), nil
		}
		return runtime.Float(round(a.Value, t)), nil
	case ir.BoolAttr:
		if a {
			return runtime.Int(1), nil
		}
		return runtime.Int(0), nil
	}
	return nil, fmt.Errorf("unsupported constant %v", a)
}

// zeroValue returns the all-zero value of t.
func zeroValue(t *ir.Type) runtime.Value {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case ir.TypeIndex, ir.TypeInt:
		return runtime.Int(0)
	case ir.TypeFloat:
		return runtime.Float(0)
	case ir.TypeStruct:
		out := make(runtime.Aggregate, len(t.Fields))
		for i, f := range t.Fields {
			out[i] = zeroValue(f)
		}
		return out
	case ir.TypeArray:
		out := make(runtime.Aggregate, t.Width)
		for i := range out {
			out[i] = zeroValue(t.Elem)
		}
		return out
	case ir.TypeMemRef:
		return runtime.MemRef{}
	case ir.TypeFunc:
		return runtime.FuncRef("")
	}
	return runtime.Ptr{}
}

// wrap truncates v to the width of integer type t, keeping it
// sign-extended. i1 is kept as 0 or 1.
func wrap(v int64, t *ir.Type) int64 {
	if !t.IsInt() || t.Width <= 0 || t.Width >= 64 {
		return v
	}
	if t.Width == 1 {
		return v & 1
	}
	s := uint(64 - t.Width)
	return v << s >> s
}

func unsigned(v int64, t *ir.Type) uint64 {
	if !t.IsInt() || t.Width <= 0 || t.Width >= 64 {
		return uint64(v)
	}
	return uint64(v) & (1<<uint(t.Width) - 1)
}

func round(v float64, t *ir.Type) float64 {
	if t.IsFloat() && t.Width == 32 {
		return float64(float32(v))
	}
	return v
}

func binary(k ir.Kind, t *ir.Type, lhs, rhs runtime.Value) (runtime.Value, error) {
	switch k {
	case ir.KindAddF, ir.KindSubF, ir.KindMulF, ir.KindDivF, ir.KindMaxF, ir.KindMinF:
		a, ok1 := lhs.(runtime.Float)
		b, ok2 := rhs.(runtime.Float)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("float operands %v, %v", lhs, rhs)
		}
		x, y := float64(a), float64(b)
		var r float64
		switch k {
		case ir.KindAddF:
			r = x + y
		case ir.KindSubF:
			r = x - y
		case ir.KindMulF:
			r = x * y
		case ir.KindDivF:
			r = x / y
		case ir.KindMaxF:
			r = math.Max(x, y)
		case ir.KindMinF:
			r = math.Min(x, y)
		}
		return runtime.Float(round(r, t)), nil
	}

	a, ok1 := lhs.(runtime.Int)
	b, ok2 := rhs.(runtime.Int)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("integer operands %v, %v", lhs, rhs)
	}
	x, y := int64(a), int64(b)
	var r int64
	switch k {
	case ir.KindAddI:
		r = x + y
	case ir.KindSubI:
		r = x - y
	case ir.KindMulI:
		r = x * y
	case ir.KindDivSI, ir.KindRemSI:
		if y == 0 {
			return nil, fmt.Errorf("integer division by zero")
		}
		if k == ir.KindDivSI {
			r = x / y
		} else {
			r = x % y
		}
	case ir.KindMaxSI:
		r = max(x, y)
	case ir.KindMinSI:
		r = min(x, y)
	case ir.KindAndI:
		r = x & y
	case ir.KindOrI:
		r = x | y
	case ir.KindXOrI:
		r = x ^ y
	}
	return runtime.Int(wrap(r, t)), nil
}

func boolInt(b bool) runtime.Value {
	if b {
		return runtime.Int(1)
	}
	return runtime.Int(0)
}

func cmpInt(pred string, t *ir.Type, lhs, rhs runtime.Value) (runtime.Value, error) {
	a, ok1 := lhs.(runtime.Int)
	b, ok2 := rhs.(runtime.Int)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("integer operands %v, %v", lhs, rhs)
	}
	x, y := int64(a), int64(b)
	ux, uy := unsigned(x, t), unsigned(y, t)
	switch pred {
	case "eq":
		return boolInt(x == y), nil
	case "ne":
		return boolInt(x != y), nil
	case "slt":
		return boolInt(x < y), nil
	case "sle":
		return boolInt(x <= y), nil
	case "sgt":
		return boolInt(x > y), nil
	case "sge":
		return boolInt(x >= y), nil
	case "ult":
		return boolInt(ux < uy), nil
	case "ule":
		return boolInt(ux <= uy), nil
	case "ugt":
		return boolInt(ux > uy), nil
	case "uge":
		return boolInt(ux >= uy), nil
	}
	return nil, fmt.Errorf("unknown integer predicate %q", pred)
}

func cmpFloat(pred string, lhs, rhs runtime.Value) (runtime.Value, error) {
	a, ok1 := lhs.(runtime.Float)
	b, ok2 := rhs.(runtime.Float)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("float operands %v, %v", lhs, rhs)
	}
	x, y := float64(a), float64(b)
	unordered := math.IsNaN(x) || math.IsNaN(y)
	switch pred {
	case "false":
		return boolInt(false), nil
	case "true":
		return boolInt(true), nil
	case "ord":
		return boolInt(!unordered), nil
	case "uno":
		return boolInt(unordered), nil
	case "oeq":
		return boolInt(x == y), nil
	case "one":
		return boolInt(!unordered && x != y), nil
	case "olt":
		return boolInt(x < y), nil
	case "ole":
		return boolInt(x <= y), nil
	case "ogt":
		return boolInt(x > y), nil
	case "oge":
		return boolInt(x >= y), nil
	case "ueq":
		return boolInt(unordered || x == y), nil
	case "une":
		return boolInt(x != y), nil
	case "ult":
		return boolInt(unordered || x < y), nil
	case "ule":
		return boolInt(unordered || x <= y), nil
	case "ugt":
		return boolInt(unordered || x > y), nil
	case "uge":
		return boolInt(unordered || x >= y), nil
	}
	return nil, fmt.Errorf("unknown float predicate %q", pred)
}
