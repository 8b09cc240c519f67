// Package lowerpar lowers util.parallel constructs to calls into the
// parallel runtime.
//
// The body of each util.parallel is outlined into a private function
// taking a pointer to its per-dimension {lower, upper} ranges, the thread
// index and an opaque context pointer. Values the body reads from outside
// are packed into a context struct allocated at the function's alloca
// anchor; constants are cloned into the outlined function instead. The
// construct itself becomes a call to nmrtParallelFor with an array of
// {lower, upper, step} bounds, one per dimension.
package lowerpar

import (
	"github.com/roach88/parlower/internal/analysis"
	"github.com/roach88/parlower/internal/ir"
	"github.com/roach88/parlower/internal/rewrite"
)

// PassName is the registered name of the runtime lowering pass.
const PassName = "lower-parallel"

// ParallelForSymbol is the runtime entry point called by lowered code.
const ParallelForSymbol = "nmrtParallelFor"

// Patterns returns the runtime lowering pattern set.
func Patterns() []rewrite.Pattern {
	return []rewrite.Pattern{rewrite.New("outline-parallel", ir.KindExplicitParallel, lowerParallel)}
}

// BoundsType is the element type of the bounds array passed to the
// runtime: {lower, upper, step}.
func BoundsType() *ir.Type { return ir.Struct(ir.Index(), ir.Index(), ir.Index()) }

// RangeType is the element type of the range array an outlined function
// receives: {lower, upper}.
func RangeType() *ir.Type { return ir.Struct(ir.Index(), ir.Index()) }

// OutlinedType is the signature of every outlined body.
func OutlinedType() *ir.Type {
	return ir.Func([]*ir.Type{ir.Ptr(), ir.Index(), ir.Ptr()}, nil)
}

// ParallelForType is the signature of the runtime entry point.
func ParallelForType() *ir.Type {
	return ir.Func([]*ir.Type{ir.Ptr(), ir.Index(), OutlinedType(), ir.Ptr()}, nil)
}

func lowerParallel(rw *rewrite.Rewriter, op ir.OpID) (rewrite.Result, error) {
	m := rw.M()
	parent := m.ParentFunc(op)
	if !parent.IsValid() {
		return rewrite.Declined, nil
	}
	if len(m.Region(m.Op(op).Regions[0]).Blocks) != 1 {
		return rewrite.Declined, rewrite.NewPassError(m, op, rewrite.ErrCodeMalformedIR,
			"util.parallel body must be a single block")
	}
	p := ir.ExplicitParallelOp{M: m, ID: op}
	caps := analysis.CollectCaptures(m, op)

	fields := make([]*ir.Type, len(caps.Values))
	for i, v := range caps.Values {
		t := m.Type(v)
		if t.ContainsOpaque() {
			return rewrite.Declined, rewrite.NewPassError(m, op, rewrite.ErrCodeUnsupportedType,
				"captured value of type %s cannot be passed through the context", t)
		}
		fields[i] = t
	}
	ctxType := ir.Struct(fields...)
	numDims := p.NumDims()

	saved := rw.Save()
	defer rw.Restore(saved)

	var ctx, bounds ir.ValueID
	ok := m.WithAllocaAnchor(rw.Builder, op, func(b *ir.Builder) {
		ctx = b.PtrAlloca(ctxType, 1)
		bounds = b.PtrAlloca(BoundsType(), int64(numDims))
	})
	if !ok {
		return rewrite.Declined, nil
	}

	rw.Before(op)
	for i, v := range caps.Values {
		rw.PtrStore(v, rw.GEP(ctx, ctxType, []int64{0, int64(i)}))
	}

	name, err := outline(rw, op, parent, caps, ctxType)
	if err != nil {
		return rewrite.Declined, rewrite.NewPassError(m, op, rewrite.ErrCodeMalformedIR, "outline: %v", err)
	}

	rw.Before(op)
	lbs, ubs, steps := p.LowerBounds(), p.UpperBounds(), p.Steps()
	for d := 0; d < numDims; d++ {
		s := rw.StructUndef(BoundsType())
		s = rw.StructInsert(s, lbs[d], 0)
		s = rw.StructInsert(s, ubs[d], 1)
		s = rw.StructInsert(s, steps[d], 2)
		rw.PtrStore(s, rw.GEP(bounds, BoundsType(), []int64{int64(d)}))
	}
	if _, err := rw.LookupOrDeclare(ParallelForSymbol, ParallelForType()); err != nil {
		return rewrite.Declined, rewrite.NewPassError(m, op, rewrite.ErrCodeMalformedIR, "declare runtime: %v", err)
	}
	fn := rw.FuncConstant(name, OutlinedType())
	rw.Call(ParallelForSymbol, nil, bounds, rw.ConstantIndex(int64(numDims)), fn, ctx)
	rw.EraseOp(op)
	return rewrite.Applied, nil
}

// outline creates the private function running op's body and returns its
// symbol name.
func outline(rw *rewrite.Rewriter, op, parent ir.OpID, caps analysis.Captures, ctxType *ir.Type) (string, error) {
	m := rw.M()
	p := ir.ExplicitParallelOp{M: m, ID: op}
	parentFn := ir.AsFunc(m, parent)
	name := m.Symbols().Unique(parentFn.Name() + "_outlined")
	fnOp, err := rw.CreateFunc(name, OutlinedType(), true)
	if err != nil {
		return "", err
	}
	fn := ir.AsFunc(m, fnOp)
	copyAttrs(parentFn, fn)

	args := fn.Args()
	rangesArg, threadArg, ctxArg := args[0], args[1], args[2]
	numDims := p.NumDims()
	bodyArgs := m.Block(p.Body()).Args

	mp := ir.NewMapping()
	rw.SetInsertionPointToEnd(fn.Entry())
	for d := 0; d < numDims; d++ {
		r := rw.PtrLoad(rw.GEP(rangesArg, RangeType(), []int64{int64(d)}), RangeType())
		mp.Map(bodyArgs[d], rw.StructExtract(r, ir.Index(), 0))
		mp.Map(bodyArgs[numDims+d], rw.StructExtract(r, ir.Index(), 1))
	}
	mp.Map(bodyArgs[2*numDims], threadArg)
	for _, c := range caps.Constants {
		rw.Clone(c, mp)
	}
	for i, v := range caps.Values {
		field := rw.PtrLoad(rw.GEP(ctxArg, ctxType, []int64{0, int64(i)}), ctxType.Fields[i])
		mp.Map(v, field)
	}
	rw.CloneBlockBody(p.Body(), mp)
	rw.Return()
	return name, nil
}

// copyAttrs carries the parent's numeric behavior over to an outlined
// function.
func copyAttrs(from, to ir.FuncOp) {
	if from.HasFastmath() {
		to.Attrs()[ir.AttrFastmath] = ir.UnitAttr{}
	}
	if mc, ok := from.MaxConcurrency(); ok {
		to.SetMaxConcurrency(mc)
	}
}
