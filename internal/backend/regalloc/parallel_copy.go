package regalloc

import "github.com/shadercore/shadercore/internal/ir"

type (
	// regCopy copies the registers [src, src+width) into [dst, dst+width), at the same time as
	// every other copy of its group.
	regCopy struct {
		dst, src uint32
		width    uint8
	}

	scalarCopy struct{ dst, src uint32 }
)

// emitParallelCopies lowers copies happening all at once into scalar moves, breaking cycles
// with swaps, and inserts them in blk before at (at the end when at is nil).
//
// Destinations must be pairwise disjoint. Sources may overlap destinations and each other.
func (a *Allocator) emitParallelCopies(blk *ir.Block, at *ir.Instruction, copies []regCopy) {
	pending := a.scalarCopies[:0]
	for _, c := range copies {
		for i := uint32(0); i < uint32(c.width); i++ {
			if c.dst+i != c.src+i {
				pending = append(pending, scalarCopy{dst: c.dst + i, src: c.src + i})
			}
		}
	}

	for len(pending) > 0 {
		progress := false
		for i := 0; i < len(pending); {
			c := pending[i]
			if readsRegister(pending, c.dst) {
				i++
				continue
			}
			blk.InsertBefore(at, ir.OpcodeMov, []ir.Operand{ir.Reg(c.dst, 1, ir.ClassGPR)},
				[]ir.Operand{ir.Reg(c.src, 1, ir.ClassGPR)})
			a.stats.Moves++
			pending = append(pending[:i], pending[i+1:]...)
			progress = true
		}
		if progress {
			continue
		}

		// Every destination is still to be read: only cycles are left.
		c := pending[0]
		blk.InsertBefore(at, ir.OpcodeSwap,
			[]ir.Operand{ir.Reg(c.dst, 1, ir.ClassGPR), ir.Reg(c.src, 1, ir.ClassGPR)},
			[]ir.Operand{ir.Reg(c.src, 1, ir.ClassGPR), ir.Reg(c.dst, 1, ir.ClassGPR)})
		a.stats.Swaps++
		pending = pending[1:]
		for i := range pending {
			switch pending[i].src {
			case c.dst:
				pending[i].src = c.src
			case c.src:
				pending[i].src = c.dst
			}
		}
		kept := pending[:0]
		for _, p := range pending {
			if p.dst != p.src {
				kept = append(kept, p)
			}
		}
		pending = kept
	}
	a.scalarCopies = pending
}

func readsRegister(copies []scalarCopy, r uint32) bool {
	for _, c := range copies {
		if c.src == r {
			return true
		}
	}
	return false
}
