package ir

// Kind is the closed set of operation kinds. Rewrites dispatch on Kind with
// switches; per-kind operand layouts are documented on the accessor views
// in views.go.
type Kind uint16

const (
	KindInvalid Kind = iota

	// builtin / func
	KindModule
	KindFunc
	KindReturn
	KindCall
	KindFuncConstant

	// arith
	KindConstant
	KindAddI
	KindSubI
	KindMulI
	KindDivSI
	KindRemSI
	KindAddF
	KindSubF
	KindMulF
	KindDivF
	KindMaxSI
	KindMinSI
	KindMaxF
	KindMinF
	KindAndI
	KindOrI
	KindXOrI
	KindCmpI
	KindCmpF
	KindSelect
	KindIndexCast
	KindSIToFP

	// scf
	KindFor
	KindWhile
	KindCondition
	KindIf
	KindParallel
	KindReduce
	KindReduceReturn
	KindYield

	// memref
	KindAlloc
	KindAlloca
	KindDealloc
	KindLoad
	KindStore
	KindSubview
	KindCast
	KindDim

	// util
	KindExplicitParallel
	KindParallelYield
	KindEnvRegion
	KindEnvYield
	KindChangeLayout
	KindSignCast
	KindApplyOffset
	KindMemrefFromParts
	KindMemrefToParts

	// pointer / aggregate
	KindPtrAlloca
	KindGEP
	KindPtrLoad
	KindPtrStore
	KindStructUndef
	KindStructInsert
	KindStructExtract
	KindZero

	numKinds
)

// AnyKind is used by patterns that inspect every operation.
const AnyKind = KindInvalid

// Trait is a bit set of structural properties of a Kind.
type Trait uint32

const (
	// TraitPure ops have no side effects and are erased when unused.
	TraitPure Trait = 1 << iota
	// TraitReadOnly ops read memory but never write it.
	TraitReadOnly
	// TraitAllocates ops create a buffer; unused allocations are dead.
	TraitAllocates
	TraitTerminator
	TraitConstantLike
	// TraitViewLike ops return an alias of their first operand.
	TraitViewLike
	TraitLoopLike
	// TraitIsolated ops do not see values defined above them.
	TraitIsolated
)

type kindInfo struct {
	name   string
	traits Trait
}

var kindTable = [numKinds]kindInfo{
	KindInvalid:      {"<invalid>", 0},
	KindModule:       {"builtin.module", TraitIsolated},
	KindFunc:         {"func.func", TraitIsolated},
	KindReturn:       {"func.return", TraitTerminator},
	KindCall:         {"func.call", 0},
	KindFuncConstant: {"func.constant", TraitPure | TraitConstantLike},

	KindConstant:  {"arith.constant", TraitPure | TraitConstantLike},
	KindAddI:      {"arith.addi", TraitPure},
	KindSubI:      {"arith.subi", TraitPure},
	KindMulI:      {"arith.muli", TraitPure},
	KindDivSI:     {"arith.divsi", TraitPure},
	KindRemSI:     {"arith.remsi", TraitPure},
	KindAddF:      {"arith.addf", TraitPure},
	KindSubF:      {"arith.subf", TraitPure},
	KindMulF:      {"arith.mulf", TraitPure},
	KindDivF:      {"arith.divf", TraitPure},
	KindMaxSI:     {"arith.maxsi", TraitPure},
	KindMinSI:     {"arith.minsi", TraitPure},
	KindMaxF:      {"arith.maximumf", TraitPure},
	KindMinF:      {"arith.minimumf", TraitPure},
	KindAndI:      {"arith.andi", TraitPure},
	KindOrI:       {"arith.ori", TraitPure},
	KindXOrI:      {"arith.xori", TraitPure},
	KindCmpI:      {"arith.cmpi", TraitPure},
	KindCmpF:      {"arith.cmpf", TraitPure},
	KindSelect:    {"arith.select", TraitPure},
	KindIndexCast: {"arith.index_cast", TraitPure},
	KindSIToFP:    {"arith.sitofp", TraitPure},

	KindFor:          {"scf.for", TraitLoopLike},
	KindWhile:        {"scf.while", TraitLoopLike},
	KindCondition:    {"scf.condition", TraitTerminator},
	KindIf:           {"scf.if", 0},
	KindParallel:     {"scf.parallel", TraitLoopLike},
	KindReduce:       {"scf.reduce", TraitTerminator},
	KindReduceReturn: {"scf.reduce.return", TraitTerminator},
	KindYield:        {"scf.yield", TraitTerminator},

	KindAlloc:   {"memref.alloc", TraitAllocates},
	KindAlloca:  {"memref.alloca", TraitAllocates},
	KindDealloc: {"memref.dealloc", 0},
	KindLoad:    {"memref.load", TraitReadOnly},
	KindStore:   {"memref.store", 0},
	KindSubview: {"memref.subview", TraitPure | TraitViewLike},
	KindCast:    {"memref.cast", TraitPure | TraitViewLike},
	KindDim:     {"memref.dim", TraitPure},

	KindExplicitParallel: {"util.parallel", TraitLoopLike},
	KindParallelYield:    {"util.yield", TraitTerminator},
	KindEnvRegion:        {"util.env_region", 0},
	KindEnvYield:         {"util.env_yield", TraitTerminator},
	KindChangeLayout:     {"util.change_layout", TraitPure | TraitViewLike},
	KindSignCast:         {"util.sign_cast", TraitPure | TraitViewLike},
	KindApplyOffset:      {"util.apply_offset", TraitPure | TraitViewLike},
	KindMemrefFromParts:  {"util.memref_from_parts", TraitPure},
	KindMemrefToParts:    {"util.memref_to_parts", TraitPure},

	KindPtrAlloca:     {"ptr.alloca", TraitAllocates},
	KindGEP:           {"ptr.gep", TraitPure},
	KindPtrLoad:       {"ptr.load", TraitReadOnly},
	KindPtrStore:      {"ptr.store", 0},
	KindStructUndef:   {"struct.undef", TraitPure},
	KindStructInsert:  {"struct.insert", TraitPure},
	KindStructExtract: {"struct.extract", TraitPure},
	KindZero:          {"ptr.zero", TraitPure | TraitConstantLike},
}

func (k Kind) String() string {
	if k >= numKinds {
		return "<unknown>"
	}
	return kindTable[k].name
}

// Has reports whether k carries every trait in t.
func (k Kind) Has(t Trait) bool {
	if k >= numKinds {
		return false
	}
	return kindTable[k].traits&t == t
}

// KindByName resolves a printed kind name.
func KindByName(name string) (Kind, bool) {
	for k := Kind(1); k < numKinds; k++ {
		if kindTable[k].name == name {
			return k, true
		}
	}
	return KindInvalid, false
}

// IsBinaryArith reports whether k is a two-operand arithmetic op whose
// result type equals its operand type.
func (k Kind) IsBinaryArith() bool {
	switch k {
	case KindAddI, KindSubI, KindMulI, KindDivSI, KindRemSI,
		KindAddF, KindSubF, KindMulF, KindDivF,
		KindMaxSI, KindMinSI, KindMaxF, KindMinF,
		KindAndI, KindOrI, KindXOrI:
		return true
	}
	return false
}
