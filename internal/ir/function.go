// Package ir is the SSA control flow graph consumed by the shader back end, together with the
// analyses (dominance, liveness) and the CFG-editing passes run on it.
//
// A Function owns its blocks and instructions; both are allocated from arenas that live as long
// as the Function. Analysis results are cached on blocks and tracked per Function so that a stale
// result is never read silently, see Analysis.
package ir

import (
	"fmt"
	"math"
	"strings"

	"github.com/shadercore/shadercore/internal/irapi"
)

// Value is an SSA value index in [0, Function.SSAAlloc()).
type Value uint32

// ValueInvalid is never a valid Value.
const ValueInvalid Value = math.MaxUint32

// Function is the compilation context of one shader entry point.
type Function struct {
	name        string
	regFileSize int

	// blocks is the layout order. blocks[0] is the entry block.
	blocks     []*Block
	// blockArena is indexed by BlockID, removed blocks included.
	blockArena irapi.Arena[Block]
	instrArena irapi.Arena[Instruction]

	ssaAlloc uint32

	// reservedRegs is the size of the register region kept free for spill and shuffle scratch, zero when not needed.
	reservedRegs int
	// allocated is set once every operand refers to physical registers.
	allocated  bool
	spillSlots uint32

	valid Analysis
	// reversePostOrder is valid while AnalysisDominance is.
	reversePostOrder []*Block
}

// NewFunction returns an empty function targeting a register file of regFileSize registers.
func NewFunction(name string, regFileSize int) *Function {
	if regFileSize <= 0 {
		panic(fmt.Sprintf("BUG: invalid register file size %d", regFileSize))
	}
	return &Function{
		name:        name,
		regFileSize: regFileSize,
	}
}

// Name returns the name of the function.
func (f *Function) Name() string { return f.name }

// RegFileSize returns the number of general purpose registers of the target.
func (f *Function) RegFileSize() int { return f.regFileSize }

// SSAAlloc returns one past the highest SSA value index in use.
func (f *Function) SSAAlloc() uint32 { return f.ssaAlloc }

// AllocateValue returns a fresh SSA value.
func (f *Function) AllocateValue() Value {
	v := Value(f.ssaAlloc)
	f.ssaAlloc++
	return v
}

// NeedsReserved returns true if the reserved register region must be kept free.
func (f *Function) NeedsReserved() bool { return f.reservedRegs > 0 }

// ReservedRegisters returns the size of the reserved region at the top of the register file, zero if none.
func (f *Function) ReservedRegisters() int { return f.reservedRegs }

// SetReservedRegisters reserves the top n registers of the file. Zero drops the reservation.
func (f *Function) SetReservedRegisters(n int) {
	if n < 0 || n >= f.regFileSize {
		panic(fmt.Sprintf("BUG: cannot reserve %d of %d registers", n, f.regFileSize))
	}
	f.reservedRegs = n
}

// Allocated returns true once register allocation rewrote every SSA operand.
func (f *Function) Allocated() bool { return f.allocated }

// MarkAllocated is called by the register allocator when it is done.
func (f *Function) MarkAllocated() {
	f.allocated = true
	f.Invalidate(AnalysisLivenessSSA)
}

// SpillSlots returns the number of memory slots used.
func (f *Function) SpillSlots() uint32 { return f.spillSlots }

// AllocateSpillSlots reserves width consecutive memory slots and returns the first.
func (f *Function) AllocateSpillSlots(width uint8) uint32 {
	s := f.spillSlots
	f.spillSlots += uint32(width)
	return s
}

// Entry returns the entry block.
func (f *Function) Entry() *Block {
	if len(f.blocks) == 0 {
		panic("BUG: function has no block")
	}
	return f.blocks[0]
}

// Blocks returns the blocks in layout order. The slice must not be modified.
func (f *Function) Blocks() []*Block { return f.blocks }

// NumBlocks returns the number of blocks in the layout.
func (f *Function) NumBlocks() int { return len(f.blocks) }

// NumBlockIDs returns one past the highest BlockID ever handed out. Useful to size per-block tables.
func (f *Function) NumBlockIDs() int { return f.blockArena.Len() }

// BlockByID returns the block with the given id. Removed blocks are still returned.
func (f *Function) BlockByID(id BlockID) *Block { return f.blockArena.At(int(id)) }

// AllocateBlock creates a block at the end of the layout.
func (f *Function) AllocateBlock() *Block {
	b := f.newBlock()
	b.index = len(f.blocks)
	f.blocks = append(f.blocks, b)
	f.Invalidate(AnalysisAll)
	return b
}

// InsertBlockAfter creates a block placed right after `after` in the layout.
func (f *Function) InsertBlockAfter(after *Block) *Block {
	b := f.newBlock()
	at := after.index + 1
	f.blocks = append(f.blocks, nil)
	copy(f.blocks[at+1:], f.blocks[at:])
	f.blocks[at] = b
	f.reindex(at)
	f.Invalidate(AnalysisAll)
	return b
}

func (f *Function) newBlock() *Block {
	id, b := f.blockArena.New()
	b.id = BlockID(id)
	b.fn = f
	b.dom.reset()
	return b
}

func (f *Function) reindex(from int) {
	for i := from; i < len(f.blocks); i++ {
		f.blocks[i].index = i
	}
}

// unlink drops b from the layout. Edges must already be gone.
func (f *Function) unlink(b *Block) {
	if b.removed {
		panic(fmt.Sprintf("BUG: %s removed twice", b))
	}
	at := b.index
	f.blocks = append(f.blocks[:at], f.blocks[at+1:]...)
	f.reindex(at)
	b.removed = true
	b.index = -1
	f.Invalidate(AnalysisAll)
}

func (f *Function) allocateInstruction(op Opcode, dests, srcs []Operand) *Instruction {
	_, instr := f.instrArena.New()
	instr.opcode = op
	instr.dests = dests
	instr.srcs = srcs
	return instr
}

// ReversePostOrder returns the reachable blocks in reverse post-order of the CFG, as computed by
// CalculateDominance.
func (f *Function) ReversePostOrder() []*Block {
	f.requireValid(AnalysisDominance)
	return f.reversePostOrder
}

// Format returns the textual form of the function, the one read back by irtext.
func (f *Function) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s regs=%d\n", f.name, f.regFileSize)
	for _, b := range f.blocks {
		sb.WriteString(b.FormatHeader())
		sb.WriteString(":\n")
		for instr := b.root; instr != nil; instr = instr.next {
			sb.WriteString("  ")
			sb.WriteString(instr.String())
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
