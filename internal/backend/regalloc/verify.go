package regalloc

import (
	"fmt"

	"github.com/shadercore/shadercore/internal/ir"
)

type (
	// Record is what the allocator rewrote, keyed by the instructions it kept.
	Record struct {
		instrs map[*ir.Instruction]original
		phis   map[*ir.Block][]phiRecord
	}

	// original holds the operands of an instruction before allocation.
	original struct {
		dests, srcs []ir.Operand
	}

	// phiRecord describes a phi removed from its block.
	phiRecord struct {
		dest ir.Operand
		// locs is where dest lives at the entry of the block, empty when it is dead.
		locs []ir.Operand
		// srcs are the original sources, in predecessor order.
		srcs []ir.Operand
	}
)

func newRecord() *Record {
	return &Record{
		instrs: map[*ir.Instruction]original{},
		phis:   map[*ir.Block][]phiRecord{},
	}
}

// content is what a register or a slot holds: one component of an SSA value or of an immediate.
type content uint64

const (
	contentUnknown content = 0

	contentKindValue = 1 << 62
	contentKindImm   = 2 << 62
)

func valueContent(v ir.Value, comp int) content {
	return contentKindValue | content(comp)<<32 | content(v)
}

func immContent(x uint32, comp int) content {
	return contentKindImm | content(comp)<<32 | content(x)
}

// String implements fmt.Stringer.
func (c content) String() string {
	switch c &^ (1<<62 - 1) {
	case contentKindValue:
		return fmt.Sprintf("%%%d.%d", uint32(c), uint32(c>>32)&0xff)
	case contentKindImm:
		return fmt.Sprintf("#%d", uint32(c))
	default:
		return "unknown"
	}
}

// machineState is the content of every register and spill slot at a program point.
type machineState struct {
	regs, slots []content
}

func newMachineState(regs, slots int) *machineState {
	return &machineState{regs: make([]content, regs), slots: make([]content, slots)}
}

func (s *machineState) clone() *machineState {
	return &machineState{
		regs:  append([]content(nil), s.regs...),
		slots: append([]content(nil), s.slots...),
	}
}

// meet keeps what both states agree on.
func (s *machineState) meet(other *machineState) {
	for i := range s.regs {
		if s.regs[i] != other.regs[i] {
			s.regs[i] = contentUnknown
		}
	}
	for i := range s.slots {
		if s.slots[i] != other.slots[i] {
			s.slots[i] = contentUnknown
		}
	}
}

func (s *machineState) equal(other *machineState) bool {
	for i := range s.regs {
		if s.regs[i] != other.regs[i] {
			return false
		}
	}
	for i := range s.slots {
		if s.slots[i] != other.slots[i] {
			return false
		}
	}
	return true
}

func (s *machineState) cells(o ir.Operand) []content {
	if o.Class == ir.ClassMem {
		return s.slots[o.Value : o.Value+uint32(o.Width)]
	}
	return s.regs[o.Value : o.Value+uint32(o.Width)]
}

// Verify checks that every source of the allocated f reads the value it read before allocation,
// by simulating the content of registers and slots along every path. rec is what DoAllocation
// recorded for f.
func Verify(f *ir.Function, rec *Record) error {
	if !f.Allocated() {
		return fmt.Errorf("%s is not allocated", f.Name())
	}
	for _, b := range f.Blocks() {
		for instr := b.Root(); instr != nil; instr = instr.Next() {
			if instr.IsPhi() {
				return fmt.Errorf("%s: phi left after allocation: %s", b, instr)
			}
			for _, ops := range [2][]ir.Operand{instr.Dests(), instr.Srcs()} {
				for _, o := range ops {
					if o.IsSSA() {
						return fmt.Errorf("%s: SSA operand left after allocation: %s", b, instr)
					}
					if o.IsReg() && !inBounds(f, o) {
						return fmt.Errorf("%s: %s is out of bounds in %s", b, o, instr)
					}
				}
			}
		}
	}

	v := verifier{f: f, rec: rec, out: make([]*machineState, f.NumBlockIDs())}
	for changed := true; changed; {
		changed = false
		for _, b := range f.Blocks() {
			st := v.entryState(b)
			if st == nil {
				continue
			}
			if err := v.walk(b, st, false); err != nil {
				return err
			}
			if prev := v.out[b.ID()]; prev == nil || !prev.equal(st) {
				v.out[b.ID()] = st
				changed = true
			}
		}
	}

	for _, b := range f.Blocks() {
		st := v.entryState(b)
		if st == nil {
			return fmt.Errorf("%s is unreachable", b)
		}
		if err := v.walk(b, st, true); err != nil {
			return err
		}
	}
	return nil
}

func inBounds(f *ir.Function, o ir.Operand) bool {
	end := o.Value + uint32(o.Width)
	if o.Class == ir.ClassMem {
		return end <= f.SpillSlots()
	}
	return end <= uint32(f.RegFileSize())
}

type verifier struct {
	f   *ir.Function
	rec *Record
	// out is the state at the exit of each block, nil until a path reaches it.
	out []*machineState
}

// entryState returns the meet of the states flowing into b, nil if none is known yet.
func (v *verifier) entryState(b *ir.Block) *machineState {
	if b.IsEntry() {
		return newMachineState(v.f.RegFileSize(), int(v.f.SpillSlots()))
	}
	var ret *machineState
	for _, p := range b.Preds() {
		out := v.out[p.ID()]
		if out == nil {
			continue
		}
		st := v.edgeState(out, b, b.PredIndex(p))
		if ret == nil {
			ret = st
		} else {
			ret.meet(st)
		}
	}
	return ret
}

// edgeState applies the phis of s to the state out of its k-th predecessor. A phi destination is
// known only if its location held the matching source.
func (v *verifier) edgeState(out *machineState, s *ir.Block, k int) *machineState {
	st := out.clone()
	phis := v.rec.phis[s]
	ok := make([]bool, len(phis))
	for i, phi := range phis {
		if len(phi.locs) == 0 {
			continue
		}
		ok[i] = true
		src := phi.srcs[k]
		for c, got := range out.cells(phi.locs[0]) {
			if got != expected(src, c) {
				ok[i] = false
			}
		}
	}
	for i, phi := range phis {
		if len(phi.locs) == 0 {
			continue
		}
		cells := st.cells(phi.locs[0])
		for c := range cells {
			if ok[i] {
				cells[c] = valueContent(phi.dest.SSAValue(), c)
			} else {
				cells[c] = contentUnknown
			}
		}
	}
	return st
}

func expected(src ir.Operand, comp int) content {
	if src.IsImm() {
		return immContent(src.Value, comp)
	}
	return valueContent(src.SSAValue(), comp)
}

// walk moves st through b. When check is set, the sources of the allocated instructions must hold
// the values they read before allocation.
func (v *verifier) walk(b *ir.Block, st *machineState, check bool) error {
	for instr := b.Root(); instr != nil; instr = instr.Next() {
		srcs, dests := instr.Srcs(), instr.Dests()
		orig, ok := v.rec.instrs[instr]
		if !ok {
			if err := step(st, instr); err != nil {
				return fmt.Errorf("%s: %w", b, err)
			}
			continue
		}

		if check {
			for k, s := range orig.srcs {
				if !s.IsSSA() {
					continue
				}
				for c, got := range st.cells(srcs[k]) {
					if exp := valueContent(s.SSAValue(), c); got != exp {
						return fmt.Errorf("%s: %q reads %s from %s, which holds %s", b, instr, exp, srcs[k], got)
					}
				}
			}
		}
		for k, d := range orig.dests {
			cells := st.cells(dests[k])
			for c := range cells {
				if d.IsSSA() {
					cells[c] = valueContent(d.SSAValue(), c)
				} else {
					cells[c] = contentUnknown
				}
			}
		}
	}
	return nil
}

// step applies an instruction inserted by the allocator.
func step(st *machineState, instr *ir.Instruction) error {
	srcs, dests := instr.Srcs(), instr.Dests()
	switch instr.Opcode() {
	case ir.OpcodeMov, ir.OpcodeSpill, ir.OpcodeFill:
		dst := st.cells(dests[0])
		if src := srcs[0]; src.IsImm() {
			for c := range dst {
				dst[c] = immContent(src.Value, c)
			}
		} else {
			copy(dst, append([]content(nil), st.cells(src)...))
		}
	case ir.OpcodeSwap:
		a, b := st.cells(srcs[0]), st.cells(srcs[1])
		av, bv := append([]content(nil), a...), append([]content(nil), b...)
		copy(st.cells(dests[0]), av)
		copy(st.cells(dests[1]), bv)
	case ir.OpcodeJmp, ir.OpcodeRet:
		// Terminators of split edges move no data.
	default:
		return fmt.Errorf("unexpected instruction %s", instr)
	}
	return nil
}
