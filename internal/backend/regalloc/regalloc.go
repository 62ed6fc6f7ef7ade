// Package regalloc assigns physical registers to the SSA values of an ir.Function.
//
// Blocks are allocated in reverse post-order. Each value lives in one location at a time: either a
// register range aligned to the power of two above its width, or its spill slot. A destination
// that finds no free aligned range first moves the occupants of the cheapest range elsewhere
// (live range splitting), and failing that spills the live value whose next use is the furthest.
// Block boundaries are reconciled afterwards: on every edge, the locations at the exit of the
// predecessor are copied into the ones the successor was allocated with.
package regalloc

import (
	"fmt"
	"math"
	"sort"

	"github.com/shadercore/shadercore/internal/bitset"
	"github.com/shadercore/shadercore/internal/ir"
	"github.com/shadercore/shadercore/internal/irapi"
)

// DefaultReservedRegisters is the size of the register region kept for spill and shuffle scratch
// once a function needs more registers than the file has.
const DefaultReservedRegisters = 8

const (
	noReg  = math.MaxUint32
	noSlot = math.MaxUint32
)

// NewAllocator returns a new Allocator reserving reservedRegs registers under register pressure.
func NewAllocator(reservedRegs int) Allocator {
	if reservedRegs < 0 || reservedRegs&(reservedRegs-1) != 0 {
		panic(fmt.Sprintf("BUG: reserved register count must be a power of two, got %d", reservedRegs))
	}
	return Allocator{reservedRegs: reservedRegs}
}

type (
	// Allocator is a register allocator. It can be reused across functions, one at a time.
	Allocator struct {
		reservedRegs int

		f       *ir.Function
		numRegs uint32

		// width, class and slot of each SSA value.
		width []uint8
		class []ir.Class
		slot  []uint32

		// regs holds the value occupying each allocatable register, ir.ValueInvalid when free.
		regs []ir.Value
		// reg is the first register of each value, noReg when it is not in a register.
		reg []uint32
		// inMem tells whether the spill slot of a value holds it.
		inMem bitset.Set

		// pinned registers held sources killed by the current instruction. They are free for its
		// destinations but cannot receive values moved out of the way.
		pinned []bool
		// protected values are read or written by the current instruction and cannot be spilled.
		protected     bitset.Set
		protectedList []ir.Value
		// curDests are the destinations of the current instruction allocated so far.
		curDests []ir.Value
		curBlock *ir.Block

		// SSA liveness, indexed by ir.BlockID. Copied upfront since splitting edges invalidates it.
		liveIn, liveOut []bitset.Set
		// entry and exit locations of the live values of each block, sorted by value.
		entry, exit [][]placement
		processed   []bool

		tempSlot  uint32
		tempWidth uint8

		rec   *Record
		stats Stats

		// Followings are reused.
		taken        []bool
		occupants    []ir.Value
		scalarCopies []scalarCopy
		killed       []ir.Value
		destOrder    []int
	}

	// placement is where a value lives at a block boundary.
	placement struct {
		v     ir.Value
		reg   uint32
		inMem bool
	}

	// Stats counts the code inserted by the allocator.
	Stats struct {
		// Spills is the number of stores to spill slots.
		Spills int
		// Fills is the number of loads from spill slots.
		Fills int
		// Moves is the number of register to register copies.
		Moves int
		// Swaps is the number of register exchanges breaking copy cycles.
		Swaps int
		// SplitEdges is the number of blocks inserted on critical edges.
		SplitEdges int
	}
)

// Stats returns the counters of the last DoAllocation.
func (a *Allocator) Stats() Stats { return a.stats }

// Record returns what the last DoAllocation rewrote, as consumed by Verify.
func (a *Allocator) Record() *Record { return a.rec }

// DoAllocation rewrites every SSA operand of f into physical registers or spill slots and removes
// the phis. f must not hold unreachable blocks.
func (a *Allocator) DoAllocation(f *ir.Function) error {
	if f.Allocated() {
		return fmt.Errorf("%s: already allocated", f.Name())
	}
	if err := checkNoRegisters(f); err != nil {
		return err
	}
	f.Ensure(ir.AnalysisDominance | ir.AnalysisLivenessSSA)
	if len(f.ReversePostOrder()) != f.NumBlocks() {
		panic("BUG: unreachable blocks must be eliminated before register allocation")
	}
	if !f.Entry().LiveIn().Empty() {
		panic(fmt.Sprintf("BUG: %s used before being defined in %s", f.Entry().LiveIn(), f.Name()))
	}

	if err := a.reserve(f); err != nil {
		return err
	}

	for _, b := range f.ReversePostOrder() {
		a.allocateBlock(b)
	}
	a.insertEdgeFixups()
	removePhis(f)
	f.MarkAllocated()

	if irapi.RegAllocLoggingEnabled {
		fmt.Printf("%s: %+v\n%s", f.Name(), a.stats, f.Format())
	}
	if irapi.RegAllocValidationEnabled {
		if err := Verify(f, a.rec); err != nil {
			panic("BUG: " + err.Error())
		}
	}
	return nil
}

// reserve sets aside the scratch region when the demand of f exceeds the register file, halving it
// until every instruction still fits in the rest. Edge fixups fall back to saving the bottom of the
// file when the region is too small or absent.
func (a *Allocator) reserve(f *ir.Function) error {
	f.SetReservedRegisters(0)
	reserved := 0
	if demand := CalcRegisterDemand(f); demand > uint32(f.RegFileSize()) && a.reservedRegs < f.RegFileSize() {
		reserved = a.reservedRegs
	}
	for ; reserved > 0; reserved /= 2 {
		f.SetReservedRegisters(reserved)
		a.reset(f)
		if a.checkFit() == nil {
			return nil
		}
	}
	f.SetReservedRegisters(0)
	a.reset(f)
	return a.checkFit()
}

func (a *Allocator) reset(f *ir.Function) {
	a.f = f
	a.numRegs = uint32(f.RegFileSize() - f.ReservedRegisters())
	a.stats = Stats{}
	a.rec = newRecord()
	a.tempSlot, a.tempWidth = noSlot, 0

	n := f.SSAAlloc()
	a.width = resize(a.width, int(n))
	a.class = resize(a.class, int(n))
	a.slot = resize(a.slot, int(n))
	a.reg = resize(a.reg, int(n))
	for v := range a.slot {
		a.width[v], a.class[v], a.slot[v], a.reg[v] = 0, ir.ClassGPR, noSlot, noReg
	}
	for _, b := range f.Blocks() {
		for instr := b.Root(); instr != nil; instr = instr.Next() {
			for _, d := range instr.Dests() {
				if d.IsSSA() {
					a.width[d.Value], a.class[d.Value] = d.Width, d.Class
				}
			}
		}
	}

	a.regs = resize(a.regs, int(a.numRegs))
	a.pinned = resize(a.pinned, int(a.numRegs))
	a.taken = resize(a.taken, int(a.numRegs))
	for r := range a.regs {
		a.regs[r], a.pinned[r] = ir.ValueInvalid, false
	}
	a.inMem = bitset.New(int(n))
	a.protected = bitset.New(int(n))

	ids := f.NumBlockIDs()
	a.liveIn = make([]bitset.Set, ids)
	a.liveOut = make([]bitset.Set, ids)
	a.entry = make([][]placement, ids)
	a.exit = make([][]placement, ids)
	a.processed = make([]bool, ids)
	for _, b := range f.Blocks() {
		a.liveIn[b.ID()] = b.LiveIn().Clone()
		a.liveOut[b.ID()] = b.LiveOut().Clone()
	}
}

func resize[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}

// checkNoRegisters rejects physical register operands: the input must be in pure SSA form.
func checkNoRegisters(f *ir.Function) error {
	for _, b := range f.Blocks() {
		for instr := b.Root(); instr != nil; instr = instr.Next() {
			for _, ops := range [2][]ir.Operand{instr.Dests(), instr.Srcs()} {
				for _, o := range ops {
					if o.IsReg() {
						return fmt.Errorf("%s: %s: physical register %s before register allocation", f.Name(), b, o)
					}
				}
			}
		}
	}
	return nil
}

// checkFit makes sure every instruction can hold its sources at once, then its destinations
// along with the sources it does not kill.
func (a *Allocator) checkFit() error {
	for _, b := range a.f.Blocks() {
		for instr := b.Root(); instr != nil; instr = instr.Next() {
			var srcNeed, liveNeed, destNeed uint32
			if !instr.IsPhi() {
				srcs := instr.Srcs()
				for k, s := range srcs {
					if s.IsSSA() && a.class[s.Value] == ir.ClassGPR && !readBefore(srcs[:k], s) {
						srcNeed += pow2(a.width[s.Value])
						if !s.Kill {
							liveNeed += pow2(a.width[s.Value])
						}
					}
				}
			}
			for _, d := range instr.Dests() {
				if d.IsSSA() && d.Class == ir.ClassGPR {
					destNeed += pow2(d.Width)
				}
			}
			need := srcNeed
			if liveNeed+destNeed > need {
				need = liveNeed + destNeed
			}
			if need > a.numRegs {
				return fmt.Errorf("%s: %s: %q needs %d registers but only %d are allocatable",
					a.f.Name(), b, instr, need, a.numRegs)
			}
		}
	}
	return nil
}

func readBefore(srcs []ir.Operand, s ir.Operand) bool {
	for _, prev := range srcs {
		if prev.IsSSA() && prev.Value == s.Value {
			return true
		}
	}
	return false
}

// allocateBlock allocates b, whose predecessors other than back edges are already allocated.
func (a *Allocator) allocateBlock(b *ir.Block) {
	if irapi.RegAllocLoggingEnabled {
		fmt.Println("---------------------- allocating", b, "----------------------")
	}
	a.curBlock = b
	for r, v := range a.regs {
		if v != ir.ValueInvalid {
			a.reg[v] = noReg
			a.regs[r] = ir.ValueInvalid
		}
	}
	a.inMem.Reset()

	if !b.IsEntry() {
		a.enterBlock(b)
	}
	for instr := b.Root(); instr != nil; {
		next := instr.Next()
		if !instr.IsPhi() {
			a.allocateInstr(instr)
		}
		instr = next
	}

	a.exit[b.ID()] = a.snapshot(a.liveOut[b.ID()], nil)
	a.processed[b.ID()] = true
}

// enterBlock sets up the locations at the entry of b after its first allocated predecessor, and
// places the phi destinations.
func (a *Allocator) enterBlock(b *ir.Block) {
	k0 := -1
	for k, p := range b.Preds() {
		if a.processed[p.ID()] {
			k0 = k
			break
		}
	}
	if k0 < 0 {
		panic(fmt.Sprintf("BUG: no predecessor of %s allocated before it", b))
	}
	exit := a.exit[b.Preds()[k0].ID()]

	a.liveIn[b.ID()].Scan(func(i int) {
		v := ir.Value(i)
		if a.class[v] != ir.ClassGPR {
			return
		}
		x, ok := lookup(exit, v)
		if !ok {
			panic(fmt.Sprintf("BUG: %%%d is live into %s but not out of %s", v, b, b.Preds()[k0]))
		}
		if x.reg != noReg {
			a.assign(v, x.reg)
		}
		if x.inMem {
			a.inMem.Set(i)
		}
	})

	var phiDests []ir.Value
	for phi := b.Root(); phi != nil && phi.IsPhi(); phi = phi.Next() {
		d := phi.Dests()[0]
		v := d.SSAValue()
		var locs []ir.Operand
		switch {
		case d.Dead:
		case d.Class != ir.ClassGPR:
			locs = append(locs, ir.Reg(a.slotOf(v), d.Width, ir.ClassMem))
		default:
			r := uint32(noReg)
			// Stay where the value comes from on the first edge: no copy needed there.
			if s := phi.Srcs()[k0]; s.IsSSA() {
				if x, ok := lookup(exit, s.SSAValue()); ok && x.reg != noReg && a.fits(x.reg, d.Width) {
					r = x.reg
				}
			}
			if r == noReg {
				r = a.findFree(d.Width, false)
			}
			if r != noReg {
				a.assign(v, r)
				locs = append(locs, ir.Reg(r, d.Width, ir.ClassGPR))
			} else {
				a.inMem.Set(int(v))
				locs = append(locs, ir.Reg(a.slotOf(v), d.Width, ir.ClassMem))
			}
			phiDests = append(phiDests, v)
		}
		a.rec.phis[b] = append(a.rec.phis[b], phiRecord{
			dest: d,
			locs: locs,
			srcs: append([]ir.Operand(nil), phi.Srcs()...),
		})
	}

	a.entry[b.ID()] = a.snapshot(a.liveIn[b.ID()], phiDests)
}

// allocateInstr assigns the operands of instr, inserting fills, moves and spills before it.
func (a *Allocator) allocateInstr(instr *ir.Instruction) {
	srcs, dests := instr.Srcs(), instr.Dests()
	a.rec.instrs[instr] = original{
		dests: append([]ir.Operand(nil), dests...),
		srcs:  append([]ir.Operand(nil), srcs...),
	}

	for _, ops := range [2][]ir.Operand{srcs, dests} {
		for _, o := range ops {
			if o.IsSSA() && !a.protected.Has(int(o.Value)) {
				a.protected.Set(int(o.Value))
				a.protectedList = append(a.protectedList, o.SSAValue())
			}
		}
	}

	// Sources first: they must be in registers when instr executes.
	for _, s := range srcs {
		if !s.IsSSA() || a.class[s.Value] != ir.ClassGPR {
			continue
		}
		if v := s.SSAValue(); a.reg[v] == noReg {
			if !a.inMem.Has(int(v)) {
				panic(fmt.Sprintf("BUG: %%%d is nowhere before %s", v, instr))
			}
			r := a.allocate(a.width[v], instr)
			a.insertBefore(instr, ir.OpcodeFill, ir.Reg(r, a.width[v], ir.ClassGPR), ir.Reg(a.slot[v], a.width[v], ir.ClassMem))
			a.stats.Fills++
			a.assign(v, r)
		}
	}

	// Killed sources won't move anymore: rewrite them, then hand their registers to the destinations.
	killed := a.killed[:0]
	for _, s := range srcs {
		if s.IsSSA() && s.Kill && a.class[s.Value] == ir.ClassGPR {
			killed = append(killed, s.SSAValue())
		}
	}
	for k := range srcs {
		s := &srcs[k]
		if !s.IsSSA() {
			continue
		}
		v := s.SSAValue()
		if a.class[v] != ir.ClassGPR {
			*s = ir.Reg(a.slotOf(v), s.Width, ir.ClassMem)
		} else if containsValue(killed, v) {
			*s = ir.Reg(a.reg[v], s.Width, ir.ClassGPR)
		}
	}
	for _, v := range killed {
		for r := a.reg[v]; r < a.reg[v]+uint32(a.width[v]); r++ {
			a.pinned[r] = true
		}
		a.free(v)
	}
	a.killed = killed

	// Widest destinations first, to limit fragmentation.
	order := a.destOrder[:0]
	for k := range dests {
		order = append(order, k)
	}
	sort.SliceStable(order, func(i, j int) bool { return dests[order[i]].Width > dests[order[j]].Width })
	a.destOrder = order
	for _, k := range order {
		d := &dests[k]
		if !d.IsSSA() {
			continue
		}
		v := d.SSAValue()
		if d.Class != ir.ClassGPR {
			a.inMem.Set(int(v))
			*d = ir.Reg(a.slotOf(v), d.Width, ir.ClassMem)
			continue
		}
		r := a.allocate(d.Width, instr)
		a.assign(v, r)
		a.curDests = append(a.curDests, v)
		*d = ir.Reg(r, d.Width, ir.ClassGPR)
	}

	// The remaining sources may have been moved to make room for the destinations.
	for k := range srcs {
		if s := srcs[k]; s.IsSSA() {
			srcs[k] = ir.Reg(a.reg[s.Value], s.Width, ir.ClassGPR)
		}
	}

	for _, d := range a.rec.instrs[instr].dests {
		if d.IsSSA() && d.Dead && d.Class == ir.ClassGPR {
			a.free(d.SSAValue())
		}
	}
	for r := range a.pinned {
		a.pinned[r] = false
	}
	for _, v := range a.protectedList {
		a.protected.Clear(int(v))
	}
	a.protectedList = a.protectedList[:0]
	a.curDests = a.curDests[:0]
}

func containsValue(vs []ir.Value, v ir.Value) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

// snapshot returns the locations of the GPR values of live and of extra, sorted by value.
func (a *Allocator) snapshot(live bitset.Set, extra []ir.Value) []placement {
	var ret []placement
	add := func(v ir.Value) {
		if a.class[v] != ir.ClassGPR {
			return
		}
		p := placement{v: v, reg: a.reg[v], inMem: a.inMem.Has(int(v))}
		if p.reg == noReg && !p.inMem {
			panic(fmt.Sprintf("BUG: %%%d is live at the boundary of %s but nowhere", v, a.curBlock))
		}
		ret = append(ret, p)
	}
	live.Scan(func(i int) { add(ir.Value(i)) })
	for _, v := range extra {
		add(v)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].v < ret[j].v })
	return ret
}

func lookup(ps []placement, v ir.Value) (placement, bool) {
	i := sort.Search(len(ps), func(i int) bool { return ps[i].v >= v })
	if i < len(ps) && ps[i].v == v {
		return ps[i], true
	}
	return placement{}, false
}

func (a *Allocator) assign(v ir.Value, r uint32) {
	for i := r; i < r+uint32(a.width[v]); i++ {
		if a.regs[i] != ir.ValueInvalid {
			panic(fmt.Sprintf("BUG: assigning r%d to %%%d while %%%d holds it", i, v, a.regs[i]))
		}
		a.regs[i] = v
	}
	a.reg[v] = r
	if irapi.RegAllocLoggingEnabled {
		fmt.Printf("\t%%%d -> r%d:%d\n", v, r, a.width[v])
	}
}

func (a *Allocator) free(v ir.Value) {
	r := a.reg[v]
	if r == noReg {
		panic(fmt.Sprintf("BUG: freeing %%%d which is not in a register", v))
	}
	for i := r; i < r+uint32(a.width[v]); i++ {
		a.regs[i] = ir.ValueInvalid
	}
	a.reg[v] = noReg
}

func (a *Allocator) slotOf(v ir.Value) uint32 {
	if a.slot[v] == noSlot {
		a.slot[v] = a.f.AllocateSpillSlots(a.width[v])
	}
	return a.slot[v]
}

func (a *Allocator) insertBefore(at *ir.Instruction, op ir.Opcode, dest, src ir.Operand) {
	at.Block().InsertBefore(at, op, []ir.Operand{dest}, []ir.Operand{src})
}

func removePhis(f *ir.Function) {
	for _, b := range f.Blocks() {
		for instr := b.Root(); instr != nil && instr.IsPhi(); {
			next := instr.Next()
			b.Remove(instr)
			instr = next
		}
	}
}
