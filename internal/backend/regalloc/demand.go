package regalloc

import (
	"fmt"
	"math/bits"

	"github.com/shadercore/shadercore/internal/ir"
)

// pow2 rounds w up to the next power of two. Live range splits allocate at that granularity.
func pow2(w uint8) uint32 {
	if w <= 1 {
		return 1
	}
	return 1 << bits.Len32(uint32(w)-1)
}

// CalcRegisterDemand returns the maximum number of general purpose registers live at once in f,
// the reserved region included when f needs it.
//
// The result is exact: SSA values have a single definition and liveness is computed, not
// estimated. SSA liveness must be valid.
func CalcRegisterDemand(f *ir.Function) uint32 {
	var max uint32
	walkDemand(f, func(_ *ir.Block, _ *ir.Instruction, demand uint32) {
		if demand > max {
			max = demand
		}
	})
	return max
}

// BlockDemand returns the maximum demand of each block, in layout order.
func BlockDemand(f *ir.Function) []uint32 {
	ret := make([]uint32, f.NumBlocks())
	walkDemand(f, func(b *ir.Block, _ *ir.Instruction, demand uint32) {
		if demand > ret[b.Index()] {
			ret[b.Index()] = demand
		}
	})
	return ret
}

// walkDemand calls visit with the demand at the entry of every block (instr == nil), and right
// after every non phi instruction.
func walkDemand(f *ir.Function, visit func(b *ir.Block, instr *ir.Instruction, demand uint32)) {
	// Register liveness has no kill flags, and its sets are indexed by register.
	if !f.Valid(ir.AnalysisLivenessSSA) {
		panic(fmt.Sprintf("BUG: register demand of %s needs SSA liveness", f.Name()))
	}
	widths := make([]uint8, f.SSAAlloc())
	classes := make([]ir.Class, f.SSAAlloc())
	for _, b := range f.Blocks() {
		for instr := b.Root(); instr != nil; instr = instr.Next() {
			for _, d := range instr.Dests() {
				if !d.IsSSA() {
					continue
				}
				if widths[d.Value] != 0 {
					panic(fmt.Sprintf("BUG: value defined twice %%%d", d.Value))
				}
				widths[d.Value], classes[d.Value] = d.Width, d.Class
			}
		}
	}

	reserved := uint32(f.ReservedRegisters())
	for _, b := range f.Blocks() {
		demand := reserved
		b.LiveIn().Scan(func(v int) {
			if classes[v] == ir.ClassGPR {
				demand += uint32(widths[v])
			}
		})
		// Phi destinations are defined in parallel at the top of the block.
		for phi := b.Root(); phi != nil && phi.IsPhi(); phi = phi.Next() {
			if d := phi.Dests()[0]; d.IsSSA() && d.Class == ir.ClassGPR && !d.Dead {
				demand += uint32(d.Width)
			}
		}
		visit(b, nil, demand)

		var lateKill uint32
		for instr := b.Root(); instr != nil; instr = instr.Next() {
			if instr.IsPhi() {
				continue
			}

			// The rounding slack of the previous destinations is freed one instruction late.
			demand -= lateKill
			lateKill = 0

			srcs := instr.Srcs()
			for k, s := range srcs {
				if !s.IsSSA() || !s.Kill || classes[s.Value] != ir.ClassGPR {
					continue
				}
				dup := false
				for _, prev := range srcs[:k] {
					if prev.Equiv(s) {
						dup = true
						break
					}
				}
				if !dup {
					demand -= uint32(widths[s.Value])
				}
			}

			for _, d := range instr.Dests() {
				if !d.IsSSA() || d.Class != ir.ClassGPR {
					continue
				}
				size := pow2(d.Width)
				demand += size
				if d.Dead {
					// Written, never read: gone after this instruction.
					lateKill += size
				} else {
					lateKill += size - uint32(d.Width)
				}
			}
			visit(b, instr, demand)
		}
	}
}
