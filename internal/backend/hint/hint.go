// Package hint annotates the register operands of an allocated function with register cache
// hints: Cache when an ALU instruction reads the register again soon, Discard when the read is the
// last one.
package hint

import (
	"fmt"

	"github.com/shadercore/shadercore/internal/bitset"
	"github.com/shadercore/shadercore/internal/ir"
)

// Run sets Operand.Cache and Operand.Discard on every general purpose register operand of f.
// f must be allocated. Register liveness is computed if not valid.
func Run(f *ir.Function) {
	if !f.Allocated() {
		panic("BUG: cache hints requested before register allocation")
	}
	f.Ensure(ir.AnalysisLivenessReg)

	live := bitset.New(f.RegFileSize())
	aluReads := bitset.New(f.RegFileSize())
	for _, b := range f.Blocks() {
		live.Copy(b.LiveOut())
		aluReads.Reset()
		for instr := b.Tail(); instr != nil; instr = instr.Prev() {
			annotate(instr, live, aluReads, b.Divergent())
		}
	}
}

// annotate moves live and aluReads from the point after instr to the point before it, setting
// the hints of its operands on the way. aluReads is always a subset of live.
func annotate(instr *ir.Instruction, live, aluReads bitset.Set, divergent bool) {
	dests, srcs := instr.Dests(), instr.Srcs()
	for k := range dests {
		d := &dests[k]
		if !isGPR(*d) {
			continue
		}
		d.Cache = aluReads.HasAny(int(d.Value), int(d.Width))
		aluReads.ClearRange(int(d.Value), int(d.Width))
	}

	for k := range srcs {
		s := &srcs[k]
		if !isGPR(*s) {
			continue
		}
		s.Cache = aluReads.HasAny(int(s.Value), int(s.Width))
		s.Discard = false
		// Divergent lanes may still need the register on another path through the block.
		if !divergent && !readAgain(srcs[k+1:], *s) {
			s.Discard = lastRead(instr, *s, live)
		}
		if s.Cache && s.Discard {
			panic(fmt.Sprintf("BUG: %s is both cached and discarded in %s", s, instr))
		}
	}

	if instr.Opcode().IsALU() {
		for _, s := range srcs {
			if isGPR(s) {
				aluReads.SetRange(int(s.Value), int(s.Width))
			}
		}
	}

	for _, d := range dests {
		if isGPR(d) {
			live.ClearRange(int(d.Value), int(d.Width))
		}
	}
	for _, s := range srcs {
		if isGPR(s) {
			live.SetRange(int(s.Value), int(s.Width))
		}
	}
}

func isGPR(o ir.Operand) bool {
	return o.IsReg() && o.Class == ir.ClassGPR
}

// lastRead returns true if no register of s outlives instr: each is either dead after it or
// overwritten by it.
func lastRead(instr *ir.Instruction, s ir.Operand, live bitset.Set) bool {
	for r := s.Value; r < s.Value+uint32(s.Width); r++ {
		if live.Has(int(r)) && !instr.WritesReg(ir.Reg(r, 1, ir.ClassGPR)) {
			return false
		}
	}
	return true
}

// readAgain returns true if a later source of the same instruction overlaps s: only the last
// read may discard.
func readAgain(later []ir.Operand, s ir.Operand) bool {
	for _, o := range later {
		if o.Overlaps(s) {
			return true
		}
	}
	return false
}
