package ir

import (
	"fmt"

	"github.com/shadercore/shadercore/internal/bitset"
	"github.com/shadercore/shadercore/internal/irapi"
)

// Numbering selects what the bits of liveness sets stand for.
type Numbering byte

const (
	// NumberingSSA has one bit per SSA value. Used before register allocation.
	NumberingSSA Numbering = iota
	// NumberingReg has one bit per general purpose register. Used after register allocation.
	NumberingReg
)

// String implements fmt.Stringer.
func (n Numbering) String() string {
	if n == NumberingReg {
		return "reg"
	}
	return "ssa"
}

func (n Numbering) analysis() Analysis {
	if n == NumberingReg {
		return AnalysisLivenessReg
	}
	return AnalysisLivenessSSA
}

// liveInfo is the liveness information cached on a Block.
type liveInfo struct {
	in, out bitset.Set
}

// LiveIn returns the set live at the entry of b. The set must not be modified.
func (b *Block) LiveIn() bitset.Set {
	b.fn.requireLiveness()
	return b.live.in
}

// LiveOut returns the set live at the exit of b. The set must not be modified.
func (b *Block) LiveOut() bitset.Set {
	b.fn.requireLiveness()
	return b.live.out
}

func (f *Function) requireLiveness() {
	if irapi.IRValidationEnabled && !f.Valid(AnalysisLivenessSSA) && !f.Valid(AnalysisLivenessReg) {
		panic(fmt.Sprintf("BUG: liveness of %s queried while stale", f.name))
	}
}

// ComputeLiveness solves the backward may-be-live dataflow problem over f, caching live-in and
// live-out sets on every block. With NumberingSSA it also sets Operand.Kill on last uses and
// Operand.Dead on destinations that are never read.
//
// Phi sources are live-out of the matching predecessor only, not live-in of the phi's block.
func ComputeLiveness(f *Function, numbering Numbering) {
	if numbering == NumberingReg && !f.allocated {
		panic("BUG: register liveness requested before register allocation")
	}
	f.Invalidate(AnalysisLivenessSSA | AnalysisLivenessReg)

	width := int(f.ssaAlloc)
	if numbering == NumberingReg {
		width = f.regFileSize
	}
	arena := bitset.NewArena(width, 2*len(f.blocks)+1)
	for _, b := range f.blocks {
		b.live.in, b.live.out = arena.New(), arena.New()
	}
	live := arena.New()

	worklist := irapi.NewDeque(f.NumBlockIDs())
	for _, b := range f.blocks {
		worklist.PushTail(int(b.id))
	}

	for !worklist.Empty() {
		// Pop from the tail: later blocks first, as liveness flows backwards.
		blk := f.BlockByID(BlockID(worklist.PopTail()))

		blk.live.out.Reset()
		for _, succ := range blk.Succs() {
			blk.live.out.Union(succ.live.in)
			if numbering == NumberingSSA {
				succ.addPhiSourcesFrom(blk, blk.live.out)
			}
		}

		live.Copy(blk.live.out)
		for instr := blk.tail; instr != nil; instr = instr.prev {
			transfer(instr, live, numbering)
		}

		if !live.Equal(blk.live.in) {
			blk.live.in.Copy(live)
			for _, pred := range blk.preds {
				worklist.PushHead(int(pred.id))
			}
		}
	}

	if numbering == NumberingSSA {
		for _, b := range f.blocks {
			markKills(b, live)
		}
	}
	f.markValid(numbering.analysis())

	if irapi.LivenessLoggingEnabled {
		for _, b := range f.blocks {
			fmt.Printf("%s: live-in %s live-out %s\n", b, b.live.in, b.live.out)
		}
	}
}

// addPhiSourcesFrom sets the SSA phi sources flowing from pred into b.
func (b *Block) addPhiSourcesFrom(pred *Block, live bitset.Set) {
	k := b.PredIndex(pred)
	for instr := b.root; instr != nil && instr.opcode == OpcodePhi; instr = instr.next {
		if src := instr.srcs[k]; src.IsSSA() {
			live.Set(int(src.Value))
		}
	}
}

// transfer moves live from the point after instr to the point before it.
func transfer(instr *Instruction, live bitset.Set, numbering Numbering) {
	switch numbering {
	case NumberingSSA:
		for _, d := range instr.dests {
			if d.IsSSA() {
				live.Clear(int(d.Value))
			}
		}
		if instr.opcode == OpcodePhi {
			return
		}
		for _, s := range instr.srcs {
			if s.IsSSA() {
				live.Set(int(s.Value))
			}
		}
	case NumberingReg:
		for _, d := range instr.dests {
			if d.IsReg() && d.Class == ClassGPR {
				live.ClearRange(int(d.Value), int(d.Width))
			}
		}
		for _, s := range instr.srcs {
			if s.IsReg() && s.Class == ClassGPR {
				live.SetRange(int(s.Value), int(s.Width))
			}
		}
	}
}

// markKills walks b backwards from its live-out set and flags last uses and unread definitions.
// When an instruction reads a value several times, the first read carries the kill.
func markKills(b *Block, live bitset.Set) {
	live.Copy(b.live.out)
	for instr := b.tail; instr != nil; instr = instr.prev {
		for k := range instr.dests {
			d := &instr.dests[k]
			if d.IsSSA() {
				d.Dead = !live.Has(int(d.Value))
				live.Clear(int(d.Value))
			}
		}
		if instr.opcode == OpcodePhi {
			continue
		}
		for k := range instr.srcs {
			s := &instr.srcs[k]
			if s.IsSSA() {
				s.Kill = !live.Has(int(s.Value))
				live.Set(int(s.Value))
			}
		}
	}
}
