package regalloc

import (
	"fmt"
	"math"
	"sort"

	"github.com/shadercore/shadercore/internal/ir"
	"github.com/shadercore/shadercore/internal/irapi"
)

// liveOutDistance is the next use distance of a value live out of the block but not read in it
// anymore. Anything read later in the block is closer.
const liveOutDistance = 1 << 20

// allocate returns the first register of a free aligned range of width w, making room before at
// if needed.
func (a *Allocator) allocate(w uint8, at *ir.Instruction) uint32 {
	for {
		if r := a.findFree(w, true); r != noReg {
			return r
		}
		if r := a.splitRegion(w, at); r != noReg {
			return r
		}
		victim := a.spillCandidate(at)
		if victim == ir.ValueInvalid {
			panic(fmt.Sprintf("BUG: no register left for a %d wide value at %s", w, at))
		}
		a.spill(victim, at)
	}
}

// findFree returns the lowest free range of width w aligned to pow2(w), or noReg.
func (a *Allocator) findFree(w uint8, allowPinned bool) uint32 {
	size := pow2(w)
	for r := uint32(0); r+size <= a.numRegs; r += size {
		if a.isFree(r, size, allowPinned) {
			return r
		}
	}
	return noReg
}

// fits returns true if a value of width w can be placed at r right now.
func (a *Allocator) fits(r uint32, w uint8) bool {
	size := pow2(w)
	return r%size == 0 && r+size <= a.numRegs && a.isFree(r, size, false)
}

func (a *Allocator) isFree(r, size uint32, allowPinned bool) bool {
	for i := r; i < r+size; i++ {
		if a.regs[i] != ir.ValueInvalid || (!allowPinned && a.pinned[i]) {
			return false
		}
	}
	return true
}

// splitRegion frees the aligned range of width w whose occupants are the cheapest to move
// elsewhere, and moves them. Returns noReg if no range can be vacated without spilling.
func (a *Allocator) splitRegion(w uint8, at *ir.Instruction) uint32 {
	size := pow2(w)
	best, bestCost := uint32(noReg), math.MaxInt
	for r := uint32(0); r+size <= a.numRegs; r += size {
		if cost, ok := a.evict(r, size, nil); ok && cost < bestCost {
			best, bestCost = r, cost
		}
	}
	if best != noReg {
		a.evict(best, size, at)
	}
	return best
}

// evict plans moving every occupant of [r, r+size) into free registers outside of it, and
// returns the number of registers to copy. The moves are emitted before at unless at is nil.
func (a *Allocator) evict(r, size uint32, at *ir.Instruction) (cost int, ok bool) {
	occupants := a.occupants[:0]
	for i := r; i < r+size; i++ {
		v := a.regs[i]
		if v == ir.ValueInvalid || containsValue(occupants, v) {
			continue
		}
		if containsValue(a.curDests, v) {
			return 0, false
		}
		occupants = append(occupants, v)
	}
	a.occupants = occupants

	for i := range a.taken {
		a.taken[i] = a.regs[i] != ir.ValueInvalid || a.pinned[i] || (uint32(i) >= r && uint32(i) < r+size)
	}
	sort.SliceStable(occupants, func(i, j int) bool { return a.width[occupants[i]] > a.width[occupants[j]] })

	targets := make([]uint32, len(occupants))
	for k, v := range occupants {
		t := a.findUntaken(a.width[v])
		if t == noReg {
			return 0, false
		}
		for i := t; i < t+pow2(a.width[v]); i++ {
			a.taken[i] = true
		}
		targets[k] = t
		cost += int(a.width[v])
	}

	if at != nil {
		for k, v := range occupants {
			w := a.width[v]
			a.insertBefore(at, ir.OpcodeMov, ir.Reg(targets[k], w, ir.ClassGPR), ir.Reg(a.reg[v], w, ir.ClassGPR))
			a.stats.Moves++
			if irapi.RegAllocLoggingEnabled {
				fmt.Printf("\tmoving %%%d out of r%d:%d\n", v, r, size)
			}
			a.free(v)
			a.assign(v, targets[k])
		}
	}
	return cost, true
}

func (a *Allocator) findUntaken(w uint8) uint32 {
	size := pow2(w)
	for r := uint32(0); r+size <= a.numRegs; r += size {
		free := true
		for i := r; i < r+size; i++ {
			if a.taken[i] {
				free = false
				break
			}
		}
		if free {
			return r
		}
	}
	return noReg
}

// spillCandidate returns the register resident value whose next use after at is the furthest,
// ignoring the operands of at.
func (a *Allocator) spillCandidate(at *ir.Instruction) ir.Value {
	victim, furthest := ir.ValueInvalid, -1
	for _, v := range a.regs {
		if v == ir.ValueInvalid || a.protected.Has(int(v)) || a.reg[v] == noReg {
			continue
		}
		if d := a.nextUse(at, v); d > furthest {
			victim, furthest = v, d
		}
	}
	return victim
}

// nextUse returns the distance in instructions from at to the next read of v.
func (a *Allocator) nextUse(at *ir.Instruction, v ir.Value) int {
	n := 0
	for instr := at.Next(); instr != nil; instr = instr.Next() {
		n++
		for _, s := range instr.Srcs() {
			if s.IsSSA() && s.SSAValue() == v {
				return n
			}
		}
	}
	if a.liveOut[a.curBlock.ID()].Has(int(v)) {
		return n + liveOutDistance
	}
	return math.MaxInt
}

// spill evicts v to its slot, storing it first unless the slot already holds it.
func (a *Allocator) spill(v ir.Value, at *ir.Instruction) {
	w := a.width[v]
	if !a.inMem.Has(int(v)) {
		a.insertBefore(at, ir.OpcodeSpill, ir.Reg(a.slotOf(v), w, ir.ClassMem), ir.Reg(a.reg[v], w, ir.ClassGPR))
		a.inMem.Set(int(v))
		a.stats.Spills++
	}
	if irapi.RegAllocLoggingEnabled {
		fmt.Printf("\tspilling %%%d\n", v)
	}
	a.free(v)
}
