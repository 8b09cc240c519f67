package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		name string
		typ  *Type
		want string
	}{
		{"index", Index(), "index"},
		{"signless", Int(64), "i64"},
		{"signed", SInt(32), "si32"},
		{"unsigned", UInt(8), "ui8"},
		{"float", Float(64), "f64"},
		{"ptr", Ptr(), "ptr"},
		{"none", None(), "none"},
		{"struct", Struct(Ptr(), Int(64)), "struct<ptr, i64>"},
		{"array", Array(3, Int(64)), "array<3 x i64>"},
		{"func", Func([]*Type{Ptr(), Ptr()}, []*Type{Int(32)}), "(ptr, ptr) -> (i32)"},
		{"memref", MemRef([]int64{4, 3, 2}, Float(64)), "memref<4x3x2xf64>"},
		{"dynamic memref", MemRef([]int64{Dynamic}, Float(64)), "memref<?xf64>"},
		{"strided", StridedMemRef([]int64{4}, Int(64), Dynamic, []int64{1}), "memref<4xi64, strided<[1], offset: ?>>"},
		{"opaque", Opaque("pyobject"), `!opaque<"pyobject">`},
		{"nil", nil, "<<null type>>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.String())
		})
	}
}

func TestTypeEqual(t *testing.T) {
	assert.True(t, Int(64).Equal(Int(64)))
	assert.False(t, Int(64).Equal(SInt(64)), "signedness is significant")
	assert.True(t, MemRef([]int64{2}, Float(64)).Equal(MemRef([]int64{2}, Float(64))))
	assert.False(t, MemRef([]int64{2}, Float(64)).Equal(nil))
	assert.True(t, TypesEqual([]*Type{Index(), Ptr()}, []*Type{Index(), Ptr()}))
	assert.False(t, TypesEqual([]*Type{Index()}, []*Type{Index(), Ptr()}))
}

func TestStridesAndOffset(t *testing.T) {
	strides, offset := MemRef([]int64{4, 3, 2}, Float(64)).StridesAndOffset()
	assert.Equal(t, []int64{6, 2, 1}, strides)
	assert.Zero(t, offset)

	strides, _ = MemRef([]int64{Dynamic, 3}, Float(64)).StridesAndOffset()
	assert.Equal(t, []int64{3, 1}, strides)

	strides, _ = MemRef([]int64{3, Dynamic, 2}, Float(64)).StridesAndOffset()
	assert.Equal(t, []int64{Dynamic, 2, 1}, strides, "stride after a dynamic dimension")
}

func TestIdentityLayout(t *testing.T) {
	assert.True(t, MemRef([]int64{4, 3}, Float(64)).IsIdentityLayout())
	assert.True(t, StridedMemRef([]int64{4, 3}, Float(64), 0, []int64{3, 1}).IsIdentityLayout())
	assert.False(t, StridedMemRef([]int64{4, 3}, Float(64), 1, []int64{3, 1}).IsIdentityLayout())
	assert.False(t, MemRef([]int64{4, 3}, Float(64)).FullyDynamicLayout().IsIdentityLayout())
}

func TestShapeQueries(t *testing.T) {
	m := MemRef([]int64{4, 3, 2}, Float(64))
	assert.Equal(t, 3, m.Rank())
	assert.True(t, m.HasStaticShape())
	assert.Equal(t, int64(24), m.NumElements())

	d := MemRef([]int64{4, Dynamic}, Float(64))
	assert.False(t, d.HasStaticShape())
	assert.Equal(t, Dynamic, d.NumElements())

	assert.Equal(t, int64(8), Float(64).ByteSize())
	assert.Equal(t, int64(1), Int(1).ByteSize())
	assert.Equal(t, int64(8), Index().ByteSize())
}

func TestCastCompatible(t *testing.T) {
	static := MemRef([]int64{4}, Float(64))
	dynamic := MemRef([]int64{Dynamic}, Float(64))

	assert.True(t, CastCompatible(static, dynamic))
	assert.True(t, CastCompatible(dynamic, static))
	assert.False(t, CastCompatible(static, MemRef([]int64{5}, Float(64))))
	assert.False(t, CastCompatible(static, MemRef([]int64{4}, Int(64))), "element types differ")
	assert.False(t, CastCompatible(static, MemRef([]int64{4, 1}, Float(64))), "ranks differ")
	assert.False(t, CastCompatible(static, Float(64)))
}

func TestCanTransformLayoutCast(t *testing.T) {
	src := MemRef([]int64{4, 3}, Float(64))

	assert.True(t, CanTransformLayoutCast(src, src.FullyDynamicLayout()), "static to dynamic")
	assert.False(t, CanTransformLayoutCast(src.FullyDynamicLayout(), src), "dynamic to static")
	assert.False(t, CanTransformLayoutCast(src, StridedMemRef([]int64{4, 3}, Float(64), 0, []int64{1, 4})))
}

func TestSubviewType(t *testing.T) {
	src := MemRef([]int64{4, 8}, Float(64))

	row := SubviewType(src, []int64{2, 0}, []int64{1, 8}, []int64{1, 1}, []bool{true, false})
	assert.Equal(t, "memref<8xf64, strided<[1], offset: 16>>", row.String())

	dyn := SubviewType(src, []int64{Dynamic, 0}, []int64{1, 8}, []int64{1, 1}, []bool{true, false})
	assert.Equal(t, "memref<8xf64, strided<[1], offset: ?>>", dyn.String())
}

func TestContainsOpaque(t *testing.T) {
	assert.True(t, Opaque("x").ContainsOpaque())
	assert.True(t, Struct(Ptr(), Opaque("x")).ContainsOpaque())
	assert.True(t, Func([]*Type{Opaque("x")}, nil).ContainsOpaque())
	assert.False(t, MemRef([]int64{2}, Float(64)).ContainsOpaque())
}

func TestSignless(t *testing.T) {
	assert.Equal(t, "i32", SInt(32).Signless().String())
	assert.Equal(t, "i8", UInt(8).Signless().String())
	assert.Equal(t, "f64", Float(64).Signless().String())
	assert.True(t, SInt(16).IntegerLike())
	assert.True(t, Index().IntegerLike())
	assert.False(t, Float(32).IntegerLike())
}

func TestKindByName(t *testing.T) {
	k, ok := KindByName("util.parallel")
	assert.True(t, ok)
	assert.Equal(t, KindExplicitParallel, k)
	assert.Equal(t, "util.parallel", k.String())

	_, ok = KindByName("util.vectorize")
	assert.False(t, ok)

	assert.True(t, KindAddF.IsBinaryArith())
	assert.False(t, KindCmpI.IsBinaryArith())
	assert.True(t, KindReturn.Has(TraitTerminator))
}
