package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func gpr(v Value) Operand { return SSA(v, 1, ClassGPR) }

func TestComputeLiveness_chain(t *testing.T) {
	// a -> b -> c, with %0 defined in a and only used in c.
	f := NewFunction("chain", 16)
	a, b, c := f.AllocateBlock(), f.AllocateBlock(), f.AllocateBlock()
	v0, v1 := f.AllocateValue(), f.AllocateValue()
	a.Append(OpcodeMov, []Operand{gpr(v0)}, []Operand{Imm(7)})
	b.Append(OpcodeMov, []Operand{gpr(v1)}, []Operand{Imm(1)})
	b.Append(OpcodeStore, nil, []Operand{gpr(v1)})
	c.Append(OpcodeStore, nil, []Operand{gpr(v0)})
	c.AppendReturn()
	f.DeriveEdges()
	f.Validate()

	ComputeLiveness(f, NumberingSSA)
	require.True(t, f.Valid(AnalysisLivenessSSA))

	require.False(t, a.LiveIn().Has(int(v0)))
	require.True(t, a.LiveOut().Has(int(v0)))
	require.True(t, b.LiveIn().Has(int(v0)))
	require.True(t, b.LiveOut().Has(int(v0)))
	require.True(t, c.LiveIn().Has(int(v0)))
	require.False(t, c.LiveOut().Has(int(v0)))

	require.False(t, b.LiveIn().Has(int(v1)))
	require.False(t, b.LiveOut().Has(int(v1)))
	require.True(t, b.Root().Next().Srcs()[0].Kill)
	require.True(t, c.Root().Srcs()[0].Kill)
	require.False(t, a.Root().Dests()[0].Dead)
}

func TestComputeLiveness_phi(t *testing.T) {
	//    entry
	//    /   \
	//   l     r
	//    \   /
	//    merge: %3 = phi %1, %2
	f := NewFunction("phi", 16)
	entry, l, r, merge := f.AllocateBlock(), f.AllocateBlock(), f.AllocateBlock(), f.AllocateBlock()
	v0, v1, v2, v3 := f.AllocateValue(), f.AllocateValue(), f.AllocateValue(), f.AllocateValue()
	entry.Append(OpcodeMov, []Operand{gpr(v0)}, []Operand{Imm(1)})
	entry.AppendBranch(gpr(v0), r, false)
	l.Append(OpcodeMov, []Operand{gpr(v1)}, []Operand{Imm(2)})
	l.AppendJump(merge)
	r.Append(OpcodeMov, []Operand{gpr(v2)}, []Operand{Imm(3)})
	f.DeriveEdges()
	// merge.preds is [l, r].
	require.Equal(t, []*Block{l, r}, merge.Preds())
	merge.Append(OpcodePhi, []Operand{gpr(v3)}, []Operand{gpr(v1), gpr(v2)})
	merge.Append(OpcodeStore, nil, []Operand{gpr(v3)})
	merge.AppendReturn()
	f.Validate()

	ComputeLiveness(f, NumberingSSA)

	require.True(t, l.LiveOut().Has(int(v1)))
	require.False(t, l.LiveOut().Has(int(v2)))
	require.True(t, r.LiveOut().Has(int(v2)))
	require.False(t, r.LiveOut().Has(int(v1)))
	require.False(t, merge.LiveIn().Has(int(v1)))
	require.False(t, merge.LiveIn().Has(int(v2)))
	require.False(t, merge.LiveIn().Has(int(v3)))
	require.True(t, entry.LiveIn().Empty())
	require.False(t, entry.LiveOut().Has(int(v0)))
	require.True(t, entry.Tail().Srcs()[0].Kill)

	// Phi sources are not flagged: their last use is on the incoming edge.
	phi := merge.Root()
	require.False(t, phi.Srcs()[0].Kill)
	require.False(t, phi.Dests()[0].Dead)
}

func TestComputeLiveness_loop(t *testing.T) {
	// entry -> header -> body -> header, header -> exit.
	// %0 is defined in entry and read in body on every iteration.
	f := NewFunction("loop", 16)
	entry, header, body, exit := f.AllocateBlock(), f.AllocateBlock(), f.AllocateBlock(), f.AllocateBlock()
	v0, v1, v2 := f.AllocateValue(), f.AllocateValue(), f.AllocateValue()
	entry.Append(OpcodeMov, []Operand{gpr(v0)}, []Operand{Imm(1)})
	header.Append(OpcodeLoad, []Operand{gpr(v1)}, nil)
	header.AppendBranch(gpr(v1), exit, false)
	body.Append(OpcodeIadd, []Operand{gpr(v2)}, []Operand{gpr(v0), gpr(v0)})
	body.Append(OpcodeStore, nil, []Operand{gpr(v2)})
	body.AppendJump(header)
	exit.AppendReturn()
	f.DeriveEdges()
	f.Validate()

	ComputeLiveness(f, NumberingSSA)
	for _, b := range []*Block{header, body} {
		require.True(t, b.LiveIn().Has(int(v0)), b.String())
		require.True(t, b.LiveOut().Has(int(v0)), b.String())
	}
	require.True(t, entry.LiveOut().Has(int(v0)))
	require.False(t, exit.LiveIn().Has(int(v0)))
	require.True(t, header.LiveOut().Has(int(v0)))

	// %0 is read again by the next iteration.
	add := body.Root()
	require.False(t, add.Srcs()[0].Kill)
	require.False(t, add.Srcs()[1].Kill)
}

func TestComputeLiveness_killAndDead(t *testing.T) {
	f := NewFunction("kill", 16)
	b := f.AllocateBlock()
	v0, v1, v2 := f.AllocateValue(), f.AllocateValue(), f.AllocateValue()
	b.Append(OpcodeMov, []Operand{gpr(v0)}, []Operand{Imm(1)})
	add := b.Append(OpcodeIadd, []Operand{gpr(v1)}, []Operand{gpr(v0), gpr(v0)})
	unused := b.Append(OpcodeMov, []Operand{gpr(v2)}, []Operand{gpr(v1)})
	b.AppendReturn()
	f.DeriveEdges()
	f.Validate()

	ComputeLiveness(f, NumberingSSA)
	require.True(t, add.Srcs()[0].Kill)
	require.False(t, add.Srcs()[1].Kill)
	require.False(t, add.Dests()[0].Dead)
	require.True(t, unused.Srcs()[0].Kill)
	require.True(t, unused.Dests()[0].Dead)
}

func TestComputeLiveness_registers(t *testing.T) {
	f := NewFunction("regs", 8)
	a, b := f.AllocateBlock(), f.AllocateBlock()
	a.Append(OpcodeMov, []Operand{Reg(2, 2, ClassGPR)}, []Operand{Imm(1)})
	a.Append(OpcodeMov, []Operand{Reg(0, 1, ClassGPR)}, []Operand{Imm(1)})
	a.Append(OpcodeSpill, []Operand{Reg(0, 1, ClassMem)}, []Operand{Reg(0, 1, ClassGPR)})
	b.Append(OpcodeStore, nil, []Operand{Reg(2, 2, ClassGPR), Reg(0, 1, ClassMem)})
	b.AppendReturn()
	f.DeriveEdges()

	require.Panics(t, func() { ComputeLiveness(f, NumberingReg) })
	f.MarkAllocated()
	f.Validate()

	ComputeLiveness(f, NumberingReg)
	require.True(t, f.Valid(AnalysisLivenessReg))
	require.False(t, f.Valid(AnalysisLivenessSSA))
	require.Equal(t, "{2, 3}", a.LiveOut().String())
	require.Equal(t, "{2, 3}", b.LiveIn().String())
	require.True(t, b.LiveOut().Empty())
	require.True(t, a.LiveIn().Empty())
}

func TestComputeLiveness_staleQuery(t *testing.T) {
	f := constructGraphFromEdges(edgesCase{0: {1}})
	require.Panics(t, func() { f.Entry().LiveIn() })

	ComputeLiveness(f, NumberingSSA)
	require.NotPanics(t, func() { f.Entry().LiveIn() })

	f.SplitEdge(f.Entry(), f.BlockByID(1))
	require.Panics(t, func() { f.Entry().LiveOut() })
}
