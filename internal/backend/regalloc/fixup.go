package regalloc

import (
	"fmt"

	"github.com/shadercore/shadercore/internal/ir"
)

type (
	// edgeFixups are the copies needed on one edge, grouped by kind. Each group reads only
	// locations no earlier group writes.
	edgeFixups struct {
		// spills store registers of the predecessor into slots.
		spills []move
		// memCopies copy slots or immediates into slots.
		memCopies []move
		// regCopies shuffle registers, all at once.
		regCopies []regCopy
		// loads fill registers from slots or immediates.
		loads []move
	}

	move struct {
		dst, src ir.Operand
	}
)

func (fx *edgeFixups) empty() bool {
	return len(fx.spills) == 0 && len(fx.memCopies) == 0 && len(fx.regCopies) == 0 && len(fx.loads) == 0
}

// insertEdgeFixups reconciles, on every edge, the locations at the exit of the predecessor with
// the ones its successor was allocated with, and resolves the phis.
func (a *Allocator) insertEdgeFixups() {
	blocks := append([]*ir.Block(nil), a.f.Blocks()...)
	for _, s := range blocks {
		preds := append([]*ir.Block(nil), s.Preds()...)
		for k, p := range preds {
			var fx edgeFixups
			a.collectFixups(&fx, p, s, k)
			if fx.empty() {
				continue
			}
			blk, at := a.fixupPoint(p, s)
			a.emitFixups(blk, at, &fx)
		}
	}
}

func (a *Allocator) collectFixups(fx *edgeFixups, p, s *ir.Block, k int) {
	entry, exit := a.entry[s.ID()], a.exit[p.ID()]
	exitOf := func(v ir.Value) placement {
		x, ok := lookup(exit, v)
		if !ok {
			panic(fmt.Sprintf("BUG: %%%d flows from %s into %s but is not live out of %s", v, p, s, p))
		}
		return x
	}

	a.liveIn[s.ID()].Scan(func(i int) {
		v := ir.Value(i)
		if a.class[v] != ir.ClassGPR {
			return
		}
		e, _ := lookup(entry, v)
		x := exitOf(v)
		w := a.width[v]
		if e.inMem && !x.inMem {
			fx.spills = append(fx.spills, move{dst: ir.Reg(a.slot[v], w, ir.ClassMem), src: ir.Reg(x.reg, w, ir.ClassGPR)})
		}
		switch {
		case e.reg == noReg:
		case x.reg == noReg:
			fx.loads = append(fx.loads, move{dst: ir.Reg(e.reg, w, ir.ClassGPR), src: ir.Reg(a.slot[v], w, ir.ClassMem)})
		case x.reg != e.reg:
			fx.regCopies = append(fx.regCopies, regCopy{dst: e.reg, src: x.reg, width: w})
		}
	})

	for _, phi := range a.rec.phis[s] {
		if len(phi.locs) == 0 {
			continue
		}
		loc, src := phi.locs[0], phi.srcs[k]
		w := loc.Width
		if loc.Class == ir.ClassGPR {
			switch {
			case src.IsImm():
				fx.loads = append(fx.loads, move{dst: loc, src: src})
			case a.class[src.Value] != ir.ClassGPR:
				fx.loads = append(fx.loads, move{dst: loc, src: ir.Reg(a.slot[src.Value], w, ir.ClassMem)})
			default:
				x := exitOf(src.SSAValue())
				if x.reg == noReg {
					fx.loads = append(fx.loads, move{dst: loc, src: ir.Reg(a.slot[x.v], w, ir.ClassMem)})
				} else if x.reg != loc.Value {
					fx.regCopies = append(fx.regCopies, regCopy{dst: loc.Value, src: x.reg, width: w})
				}
			}
			continue
		}

		switch {
		case src.IsImm():
			fx.memCopies = append(fx.memCopies, move{dst: loc, src: src})
		case a.class[src.Value] != ir.ClassGPR:
			if a.slot[src.Value] != loc.Value {
				fx.memCopies = append(fx.memCopies, move{dst: loc, src: ir.Reg(a.slot[src.Value], w, ir.ClassMem)})
			}
		default:
			x := exitOf(src.SSAValue())
			if x.reg != noReg {
				fx.spills = append(fx.spills, move{dst: loc, src: ir.Reg(x.reg, w, ir.ClassGPR)})
			} else if a.slot[x.v] != loc.Value {
				fx.memCopies = append(fx.memCopies, move{dst: loc, src: ir.Reg(a.slot[x.v], w, ir.ClassMem)})
			}
		}
	}
}

// fixupPoint returns where the copies of the edge p -> s go: the end of p if it only leads to s,
// the start of s if it is only reached from p, or a new block splitting the edge.
func (a *Allocator) fixupPoint(p, s *ir.Block) (*ir.Block, *ir.Instruction) {
	if len(p.Succs()) == 1 && !readsRegisters(p.Terminator()) {
		return p, p.Terminator()
	}
	if len(s.Preds()) == 1 && len(a.rec.phis[s]) == 0 {
		return s, s.FirstNonPhi()
	}
	mid := a.f.SplitEdge(p, s)
	a.stats.SplitEdges++
	return mid, mid.Terminator()
}

func readsRegisters(instr *ir.Instruction) bool {
	if instr == nil {
		return false
	}
	for _, s := range instr.Srcs() {
		if s.IsReg() && s.Class == ir.ClassGPR {
			return true
		}
	}
	return false
}

func (a *Allocator) emitFixups(blk *ir.Block, at *ir.Instruction, fx *edgeFixups) {
	// Phis exchanging values in memory read slots the same edge writes.
	for i := range fx.memCopies {
		a.isolateSlotRead(blk, at, fx, &fx.memCopies[i].src)
	}
	for i := range fx.loads {
		a.isolateSlotRead(blk, at, fx, &fx.loads[i].src)
	}
	for _, m := range fx.spills {
		a.insertIn(blk, at, ir.OpcodeSpill, m.dst, m.src)
		a.stats.Spills++
	}
	for _, m := range fx.memCopies {
		a.emitMemCopy(blk, at, m)
	}
	a.emitParallelCopies(blk, at, fx.regCopies)
	for _, m := range fx.loads {
		if m.src.IsImm() {
			a.emitImmediate(blk, at, m.dst, m.src)
			continue
		}
		a.insertIn(blk, at, ir.OpcodeFill, m.dst, m.src)
		a.stats.Fills++
	}
}

// isolateSlotRead copies the slots read by src into fresh ones upfront if the fixups of the edge
// write them.
func (a *Allocator) isolateSlotRead(blk *ir.Block, at *ir.Instruction, fx *edgeFixups, src *ir.Operand) {
	if !src.IsReg() || src.Class != ir.ClassMem {
		return
	}
	clobbered := false
	for _, group := range [2][]move{fx.spills, fx.memCopies} {
		for _, m := range group {
			clobbered = clobbered || m.dst.Overlaps(*src)
		}
	}
	if !clobbered {
		return
	}
	tmp := ir.Reg(a.f.AllocateSpillSlots(src.Width), src.Width, ir.ClassMem)
	a.emitMemCopy(blk, at, move{dst: tmp, src: *src})
	*src = tmp
}

// emitMemCopy copies a slot range or an immediate into a slot range through a register range:
// the reserved scratch if wide enough, otherwise the bottom of the file, saved and restored around
// the copy.
func (a *Allocator) emitMemCopy(blk *ir.Block, at *ir.Instruction, m move) {
	w := m.dst.Width
	var tmp ir.Operand
	if a.f.ReservedRegisters() >= int(w) {
		tmp = ir.Reg(a.numRegs, w, ir.ClassGPR)
	} else {
		tmp = ir.Reg(0, w, ir.ClassGPR)
		if a.tempWidth < w {
			a.tempSlot, a.tempWidth = a.f.AllocateSpillSlots(w), w
		}
		a.insertIn(blk, at, ir.OpcodeSpill, ir.Reg(a.tempSlot, w, ir.ClassMem), tmp)
		a.stats.Spills++
		defer func() {
			a.insertIn(blk, at, ir.OpcodeFill, tmp, ir.Reg(a.tempSlot, w, ir.ClassMem))
			a.stats.Fills++
		}()
	}

	if m.src.IsImm() {
		a.emitImmediate(blk, at, tmp, m.src)
	} else {
		a.insertIn(blk, at, ir.OpcodeFill, tmp, m.src)
		a.stats.Fills++
	}
	a.insertIn(blk, at, ir.OpcodeSpill, m.dst, tmp)
	a.stats.Spills++
}

// emitImmediate broadcasts the immediate src into every register of dst.
func (a *Allocator) emitImmediate(blk *ir.Block, at *ir.Instruction, dst, src ir.Operand) {
	a.insertIn(blk, at, ir.OpcodeMov, dst, src)
	a.stats.Moves++
}

func (a *Allocator) insertIn(blk *ir.Block, at *ir.Instruction, op ir.Opcode, dst, src ir.Operand) {
	blk.InsertBefore(at, op, []ir.Operand{dst}, []ir.Operand{src})
}
