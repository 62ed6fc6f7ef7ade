package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFunction_DeriveEdges(t *testing.T) {
	f := constructGraphFromEdges(edgesCase{0: {1, 3}, 1: {2}, 2: {0, 3}})
	b0, b1, b2, b3 := f.BlockByID(0), f.BlockByID(1), f.BlockByID(2), f.BlockByID(3)
	require.Equal(t, []*Block{b3, b1}, b0.Succs())
	require.Equal(t, []*Block{b2}, b1.Succs())
	require.Equal(t, []*Block{b0, b3}, b2.Succs())
	require.Nil(t, b3.Succs())
	require.Equal(t, []*Block{b2}, b0.Preds())
	require.Equal(t, []*Block{b0, b2}, b3.Preds())
	require.True(t, b1.FallsThrough())
	require.False(t, b3.FallsThrough())
}

func TestFunction_AddEdge_tooMany(t *testing.T) {
	f := NewFunction("edges", 8)
	a, b := f.AllocateBlock(), f.AllocateBlock()
	f.AddEdge(a, b)
	f.AddEdge(a, b)
	require.Panics(t, func() { f.AddEdge(a, b) })
}

func TestFunction_SplitEdge(t *testing.T) {
	t.Run("fallthrough", func(t *testing.T) {
		f := constructGraphFromEdges(edgesCase{0: {1, 2}, 1: {2}})
		b0, b1 := f.BlockByID(0), f.BlockByID(1)
		b1.SetDivergent(true)

		mid := f.SplitEdge(b0, b1)
		f.Validate()
		require.Equal(t, b0, mid.LayoutPrev())
		require.Equal(t, b1, mid.LayoutNext())
		require.Nil(t, mid.Terminator())
		require.Equal(t, []*Block{b0}, mid.Preds())
		require.Equal(t, []*Block{b1}, mid.Succs())
		require.Equal(t, []*Block{mid}, b1.Preds())
		require.True(t, mid.Divergent())
	})
	t.Run("taken branch", func(t *testing.T) {
		f := constructGraphFromEdges(edgesCase{0: {1, 2}, 1: {2}})
		b0, b1, b2 := f.BlockByID(0), f.BlockByID(1), f.BlockByID(2)
		require.Equal(t, []*Block{b0, b1}, b2.Preds())

		mid := f.SplitEdge(b0, b2)
		f.Validate()
		require.Equal(t, f.NumBlocks()-1, mid.Index())
		require.Equal(t, mid, b0.Tail().Target())
		require.Equal(t, b2, mid.Tail().Target())
		// The slot of b0 is kept so that phi operands stay aligned.
		require.Equal(t, []*Block{mid, b1}, b2.Preds())
	})
	t.Run("implicit return", func(t *testing.T) {
		f := NewFunction("split", 8)
		b0, b1, b2 := f.AllocateBlock(), f.AllocateBlock(), f.AllocateBlock()
		b0.AppendBranch(Imm(1), b2, false)
		b1.AppendReturn()
		f.DeriveEdges()
		f.Validate()

		mid := f.SplitEdge(b0, b2)
		f.Validate()
		require.Equal(t, OpcodeRet, b2.Terminator().Opcode())
		require.Equal(t, b2, mid.LayoutPrev())
	})
	t.Run("no edge", func(t *testing.T) {
		f := constructGraphFromEdges(edgesCase{0: {1}})
		require.Panics(t, func() { f.SplitEdge(f.BlockByID(1), f.BlockByID(0)) })
	})
}

func TestFunction_RemoveSimpleBlock(t *testing.T) {
	t.Run("collapse successors", func(t *testing.T) {
		// b0 branches to b2 and falls through to the empty b1, which falls through to b2.
		f := constructGraphFromEdges(edgesCase{0: {1, 2}, 1: {2}})
		b0, b1, b2 := f.BlockByID(0), f.BlockByID(1), f.BlockByID(2)
		require.True(t, b1.IsSimple())
		require.True(t, b1.CanMergeEdges())

		f.RemoveSimpleBlock(b1)
		f.Validate()
		require.True(t, b1.Removed())
		require.Equal(t, []*Block{b2}, b0.Succs())
		require.Equal(t, []*Block{b0}, b2.Preds())
		require.Equal(t, 2, f.NumBlocks())
	})
	t.Run("retarget", func(t *testing.T) {
		f := constructGraphFromEdges(edgesCase{0: {1, 2}, 2: {3}, 3: {4}})
		b0, b2, b3 := f.BlockByID(0), f.BlockByID(2), f.BlockByID(3)
		require.True(t, b2.IsSimple())

		f.RemoveSimpleBlock(b2)
		f.Validate()
		require.Equal(t, b3, b0.Tail().Target())
		require.Equal(t, []*Block{b0}, b3.Preds())
	})
	t.Run("not simple", func(t *testing.T) {
		f := constructGraphFromEdges(edgesCase{0: {1, 2}, 1: {2}})
		require.False(t, f.Entry().IsSimple())
		require.Panics(t, func() { f.RemoveSimpleBlock(f.Entry()) })
	})
}

func TestBlock_InstructionList(t *testing.T) {
	f := NewFunction("list", 8)
	b := f.AllocateBlock()
	v0, v1, v2 := f.AllocateValue(), f.AllocateValue(), f.AllocateValue()
	ret := b.AppendReturn()
	second := b.InsertBeforeTerminator(OpcodeMov, []Operand{gpr(v1)}, []Operand{gpr(v0)})
	first := b.InsertAfter(nil, OpcodeMov, []Operand{gpr(v0)}, []Operand{Imm(3)})
	third := b.InsertAfter(second, OpcodeStore, nil, []Operand{gpr(v1)})
	b.InsertBefore(ret, OpcodeNop, nil, nil)

	var ops []Opcode
	for i := b.Root(); i != nil; i = i.Next() {
		require.Equal(t, b, i.Block())
		ops = append(ops, i.Opcode())
	}
	require.Equal(t, []Opcode{OpcodeMov, OpcodeMov, OpcodeStore, OpcodeNop, OpcodeRet}, ops)
	require.Equal(t, first, b.Root())
	require.Equal(t, ret, b.Terminator())
	require.Equal(t, first, b.FirstNonPhi())
	require.Equal(t, 5, b.NumInstructions())

	b.Remove(third)
	require.Nil(t, third.Block())
	require.Equal(t, 4, b.NumInstructions())
	require.Panics(t, func() { b.Remove(third) })

	b.InsertAfter(nil, OpcodePhi, []Operand{gpr(v2)}, nil)
	require.Equal(t, first, b.FirstNonPhi())
	require.True(t, b.Root().IsPhi())
}
