package ir

import (
	"fmt"
	"strings"
)

// BlockID is the stable identifier of a Block within its Function. IDs are never reused.
type BlockID int

// Block is a basic block.
//
// Predecessors are plain back references used for traversal; the Function's layout is the only
// owner of a Block. A block has at most two successors: succs[0] is the branch target of the
// terminator (or the only successor) and succs[1] is the fallthrough of a conditional branch.
type Block struct {
	id    BlockID
	fn    *Function
	index int

	root, tail *Instruction

	preds []*Block
	succs [2]*Block

	divergent  bool
	loopHeader bool
	removed    bool

	dom  domInfo
	live liveInfo
}

// ID returns the id of this block.
func (b *Block) ID() BlockID { return b.id }

// Function returns the owning function.
func (b *Block) Function() *Function { return b.fn }

// Index returns the position of this block in the layout.
func (b *Block) Index() int { return b.index }

// IsEntry returns true for the entry block.
func (b *Block) IsEntry() bool { return b.index == 0 }

// Removed returns true once the block was unlinked from its function.
func (b *Block) Removed() bool { return b.removed }

// Divergent returns true if the block may execute with only a subset of lanes active.
func (b *Block) Divergent() bool { return b.divergent }

// SetDivergent sets Divergent.
func (b *Block) SetDivergent(d bool) { b.divergent = d }

// LoopHeader returns true if a predecessor of this block is dominated by it.
// Valid while AnalysisDominance is.
func (b *Block) LoopHeader() bool {
	b.fn.requireValid(AnalysisDominance)
	return b.loopHeader
}

// Root returns the first instruction, or nil.
func (b *Block) Root() *Instruction { return b.root }

// Tail returns the last instruction, or nil.
func (b *Block) Tail() *Instruction { return b.tail }

// Empty returns true if the block has no instruction.
func (b *Block) Empty() bool { return b.root == nil }

// NumInstructions returns the number of instructions in the block.
func (b *Block) NumInstructions() (n int) {
	for i := b.root; i != nil; i = i.next {
		n++
	}
	return
}

// Terminator returns the trailing terminator instruction, if any.
func (b *Block) Terminator() *Instruction {
	if b.tail != nil && b.tail.opcode.IsTerminator() {
		return b.tail
	}
	return nil
}

// FirstNonPhi returns the first instruction that is not a phi, or nil.
func (b *Block) FirstNonPhi() *Instruction {
	i := b.root
	for i != nil && i.opcode == OpcodePhi {
		i = i.next
	}
	return i
}

// Preds returns the predecessors. The slice must not be modified.
func (b *Block) Preds() []*Block { return b.preds }

// Succs returns the successors.
func (b *Block) Succs() []*Block {
	switch {
	case b.succs[0] == nil:
		return nil
	case b.succs[1] == nil:
		return b.succs[:1]
	default:
		return b.succs[:]
	}
}

// PredIndex returns the position of p in the predecessors of b, or -1.
func (b *Block) PredIndex(p *Block) int {
	for k, pred := range b.preds {
		if pred == p {
			return k
		}
	}
	return -1
}

// LayoutNext returns the block laid out right after b, or nil.
func (b *Block) LayoutNext() *Block {
	if b.removed || b.index+1 >= len(b.fn.blocks) {
		return nil
	}
	return b.fn.blocks[b.index+1]
}

// LayoutPrev returns the block laid out right before b, or nil.
func (b *Block) LayoutPrev() *Block {
	if b.removed || b.index == 0 {
		return nil
	}
	return b.fn.blocks[b.index-1]
}

// FallsThrough returns true if control may reach LayoutNext without a branch.
func (b *Block) FallsThrough() bool {
	t := b.Terminator()
	return t == nil || t.opcode == OpcodeBr
}

// String implements fmt.Stringer.
func (b *Block) String() string { return fmt.Sprintf("b%d", b.id) }

// FormatHeader returns the block label with its attributes.
func (b *Block) FormatHeader() string {
	var sb strings.Builder
	sb.WriteString(b.String())
	if b.divergent {
		sb.WriteString(" divergent")
	}
	return sb.String()
}

// ----- instruction list -----

// Append adds a new instruction at the end of the block.
func (b *Block) Append(op Opcode, dests, srcs []Operand) *Instruction {
	instr := b.fn.allocateInstruction(op, dests, srcs)
	b.insertBefore(nil, instr)
	return instr
}

// InsertBefore adds a new instruction right before `at`, or at the end when `at` is nil.
func (b *Block) InsertBefore(at *Instruction, op Opcode, dests, srcs []Operand) *Instruction {
	instr := b.fn.allocateInstruction(op, dests, srcs)
	b.insertBefore(at, instr)
	return instr
}

// InsertAfter adds a new instruction right after `at`, or at the start when `at` is nil.
func (b *Block) InsertAfter(at *Instruction, op Opcode, dests, srcs []Operand) *Instruction {
	if at == nil {
		return b.InsertBefore(b.root, op, dests, srcs)
	}
	return b.InsertBefore(at.next, op, dests, srcs)
}

// InsertBeforeTerminator adds a new instruction before the terminator, or at the end if there is none.
func (b *Block) InsertBeforeTerminator(op Opcode, dests, srcs []Operand) *Instruction {
	return b.InsertBefore(b.Terminator(), op, dests, srcs)
}

// AppendBranch ends the block with a conditional branch to target.
func (b *Block) AppendBranch(cond Operand, target *Block, invert bool) *Instruction {
	instr := b.Append(OpcodeBr, nil, []Operand{cond})
	instr.target, instr.invert = target, invert
	return instr
}

// AppendJump ends the block with an unconditional branch to target.
func (b *Block) AppendJump(target *Block) *Instruction {
	instr := b.Append(OpcodeJmp, nil, nil)
	instr.target = target
	return instr
}

// AppendReturn ends the block with OpcodeRet.
func (b *Block) AppendReturn() *Instruction {
	return b.Append(OpcodeRet, nil, nil)
}

func (b *Block) insertBefore(at, instr *Instruction) {
	if instr.blk != nil {
		panic("BUG: instruction already inserted")
	}
	instr.blk = b
	if at == nil {
		instr.prev = b.tail
		if b.tail != nil {
			b.tail.next = instr
		} else {
			b.root = instr
		}
		b.tail = instr
		return
	}
	if at.blk != b {
		panic(fmt.Sprintf("BUG: inserting before an instruction of another block: %s", at))
	}
	instr.prev, instr.next = at.prev, at
	if at.prev != nil {
		at.prev.next = instr
	} else {
		b.root = instr
	}
	at.prev = instr
}

// Remove unlinks instr from the block.
func (b *Block) Remove(instr *Instruction) {
	if instr.blk != b {
		panic(fmt.Sprintf("BUG: removing %s from %s which does not hold it", instr, b))
	}
	if instr.prev != nil {
		instr.prev.next = instr.next
	} else {
		b.root = instr.next
	}
	if instr.next != nil {
		instr.next.prev = instr.prev
	} else {
		b.tail = instr.prev
	}
	instr.prev, instr.next, instr.blk = nil, nil, nil
}

// Retarget changes the branch target of instr. The caller is responsible for the edges.
func (i *Instruction) Retarget(target *Block) {
	if !i.IsBranching() {
		panic("BUG: retargeting a non branching instruction " + i.String())
	}
	i.target = target
}

// InvertCondition flips the condition of an OpcodeBr.
func (i *Instruction) InvertCondition() {
	if i.opcode != OpcodeBr {
		panic("BUG: inverting a non conditional branch " + i.String())
	}
	i.invert = !i.invert
}
