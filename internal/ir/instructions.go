package ir

import (
	"fmt"
	"strings"
)

// Opcode identifies the operation of an Instruction.
type Opcode uint16

const (
	OpcodeInvalid Opcode = iota

	// OpcodeNop does nothing. Passes leave it behind instead of unlinking in the middle of an iteration.
	OpcodeNop

	// OpcodePhi merges one source per predecessor, in the order of Block.Preds: `%d = phi %a, %b`.
	OpcodePhi

	// OpcodeMov copies a register range or materializes an immediate: `%d = mov %a`.
	OpcodeMov

	// OpcodeSwap exchanges two registers in place. Only emitted by the register allocator.
	OpcodeSwap

	// OpcodeSpill stores a register range into a memory slot: `m = spill r`.
	OpcodeSpill

	// OpcodeFill loads a register range back from a memory slot: `r = fill m`.
	OpcodeFill

	// OpcodeCollect builds a vector out of scalars: `%v:4 = collect %a, %b, %c, %d`.
	OpcodeCollect

	// OpcodeSplit extracts the scalars of a vector: `%a, %b = split %v:2`.
	OpcodeSplit

	OpcodeFadd
	OpcodeFmul
	OpcodeFfma
	OpcodeIadd
	OpcodeImul
	OpcodeAnd
	OpcodeOr
	OpcodeXor
	OpcodeShl
	OpcodeIcmp
	OpcodeSel

	// OpcodeLoad reads from device memory.
	OpcodeLoad

	// OpcodeStore writes its sources to device memory. It has no destination.
	OpcodeStore

	// OpcodeTex samples a texture, producing up to four components.
	OpcodeTex

	// OpcodeBr branches to its target when the condition source is non-zero (zero when inverted),
	// and falls through to the next block in layout order otherwise.
	OpcodeBr

	// OpcodeJmp unconditionally branches to its target.
	OpcodeJmp

	// OpcodeRet ends the shader.
	OpcodeRet

	opcodeEnd
)

type opcodeInfo struct {
	name string
	// alu is true for instructions executed by the arithmetic pipeline, whose operands benefit
	// from staying resident in the register cache.
	alu        bool
	terminator bool
	sideEffect bool
}

var opcodeInfos = [opcodeEnd]opcodeInfo{
	OpcodeInvalid: {name: "invalid"},
	OpcodeNop:     {name: "nop"},
	OpcodePhi:     {name: "phi"},
	OpcodeMov:     {name: "mov", alu: true},
	OpcodeSwap:    {name: "swap", alu: true},
	OpcodeSpill:   {name: "spill", sideEffect: true},
	OpcodeFill:    {name: "fill"},
	OpcodeCollect: {name: "collect", alu: true},
	OpcodeSplit:   {name: "split", alu: true},
	OpcodeFadd:    {name: "fadd", alu: true},
	OpcodeFmul:    {name: "fmul", alu: true},
	OpcodeFfma:    {name: "ffma", alu: true},
	OpcodeIadd:    {name: "iadd", alu: true},
	OpcodeImul:    {name: "imul", alu: true},
	OpcodeAnd:     {name: "and", alu: true},
	OpcodeOr:      {name: "or", alu: true},
	OpcodeXor:     {name: "xor", alu: true},
	OpcodeShl:     {name: "shl", alu: true},
	OpcodeIcmp:    {name: "icmp", alu: true},
	OpcodeSel:     {name: "sel", alu: true},
	OpcodeLoad:    {name: "load"},
	OpcodeStore:   {name: "store", sideEffect: true},
	OpcodeTex:     {name: "tex"},
	OpcodeBr:      {name: "br", terminator: true, sideEffect: true},
	OpcodeJmp:     {name: "jmp", terminator: true, sideEffect: true},
	OpcodeRet:     {name: "ret", terminator: true, sideEffect: true},
}

var opcodeByName = func() map[string]Opcode {
	ret := make(map[string]Opcode, opcodeEnd)
	for op := OpcodeNop; op < opcodeEnd; op++ {
		ret[opcodeInfos[op].name] = op
	}
	return ret
}()

// OpcodeByName returns the Opcode printed as name.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if o >= opcodeEnd {
		return fmt.Sprintf("opcode(%d)", o)
	}
	return opcodeInfos[o].name
}

// IsALU returns true if o runs on the arithmetic pipeline.
func (o Opcode) IsALU() bool { return o < opcodeEnd && opcodeInfos[o].alu }

// IsTerminator returns true if o may only appear last in a block.
func (o Opcode) IsTerminator() bool { return o < opcodeEnd && opcodeInfos[o].terminator }

// HasSideEffects returns true if o must be kept even when none of its destinations are read.
func (o Opcode) HasSideEffects() bool { return o < opcodeEnd && opcodeInfos[o].sideEffect }

// Class is the register file an operand lives in.
type Class byte

const (
	// ClassGPR values live in the general purpose register file and count toward register demand.
	ClassGPR Class = iota
	// ClassMem values live in memory slots: spilled values and scratch produced by the front end.
	ClassMem
)

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case ClassGPR:
		return "gpr"
	case ClassMem:
		return "mem"
	default:
		return fmt.Sprintf("class(%d)", c)
	}
}

// OperandKind tells what Operand.Value refers to.
type OperandKind byte

const (
	OperandInvalid OperandKind = iota
	// OperandSSA refers to the SSA value Operand.Value.
	OperandSSA
	// OperandReg refers to the physical registers [Value, Value+Width) of Operand.Class.
	OperandReg
	// OperandImm is the immediate Operand.Value.
	OperandImm
)

// Operand is a destination or a source of an Instruction.
type Operand struct {
	Kind  OperandKind
	Class Class
	// Width is the number of registers covered.
	Width uint8
	Value uint32

	// Kill is set by liveness on the first source reading an SSA value for the last time.
	Kill bool
	// Dead is set by liveness on SSA destinations nobody reads.
	Dead bool
	// Cache hints that the register will be read again soon by an ALU instruction.
	Cache bool
	// Discard hints that the register is dead after this read.
	Discard bool
}

// SSA returns an operand referring to the SSA value v.
func SSA(v Value, width uint8, class Class) Operand {
	return Operand{Kind: OperandSSA, Class: class, Width: width, Value: uint32(v)}
}

// Reg returns an operand referring to the registers [r, r+width) of class.
func Reg(r uint32, width uint8, class Class) Operand {
	return Operand{Kind: OperandReg, Class: class, Width: width, Value: r}
}

// Imm returns an immediate operand.
func Imm(x uint32) Operand {
	return Operand{Kind: OperandImm, Width: 1, Value: x}
}

// IsSSA returns true if o refers to an SSA value.
func (o Operand) IsSSA() bool { return o.Kind == OperandSSA }

// IsReg returns true if o refers to physical registers.
func (o Operand) IsReg() bool { return o.Kind == OperandReg }

// IsImm returns true if o is an immediate.
func (o Operand) IsImm() bool { return o.Kind == OperandImm }

// SSAValue returns the SSA value o refers to.
func (o Operand) SSAValue() Value {
	if o.Kind != OperandSSA {
		panic("BUG: not an SSA operand: " + o.String())
	}
	return Value(o.Value)
}

// Equiv returns true if both operands name the same value or register range, ignoring hints.
func (o Operand) Equiv(other Operand) bool {
	return o.Kind == other.Kind && o.Value == other.Value && o.Class == other.Class && o.Width == other.Width
}

// Overlaps returns true if o and other are register operands of the same class sharing a register.
func (o Operand) Overlaps(other Operand) bool {
	if o.Kind != OperandReg || other.Kind != OperandReg || o.Class != other.Class {
		return false
	}
	return o.Value < other.Value+uint32(other.Width) && other.Value < o.Value+uint32(o.Width)
}

// String implements fmt.Stringer. Source operands print without their width since it is known from
// the definition; use FormatDest for destinations.
func (o Operand) String() string {
	switch o.Kind {
	case OperandSSA:
		return fmt.Sprintf("%%%d", o.Value)
	case OperandReg:
		var sb strings.Builder
		if o.Class == ClassMem {
			fmt.Fprintf(&sb, "m%d:%d", o.Value, o.Width)
		} else {
			fmt.Fprintf(&sb, "r%d:%d", o.Value, o.Width)
		}
		if o.Cache {
			sb.WriteString(".cache")
		}
		if o.Discard {
			sb.WriteString(".discard")
		}
		return sb.String()
	case OperandImm:
		return fmt.Sprintf("#%d", o.Value)
	default:
		return "invalid"
	}
}

// FormatDest formats o as a destination, spelling out the width and class of SSA values.
func (o Operand) FormatDest() string {
	if o.Kind != OperandSSA {
		return o.String()
	}
	s := fmt.Sprintf("%%%d:%d", o.Value, o.Width)
	if o.Class == ClassMem {
		s += "m"
	}
	return s
}

// Instruction is a single operation inside a Block.
type Instruction struct {
	opcode Opcode
	dests  []Operand
	srcs   []Operand
	// target is the branch destination of OpcodeBr and OpcodeJmp.
	target *Block
	// invert flips the condition of OpcodeBr.
	invert     bool
	blk        *Block
	prev, next *Instruction
}

// Opcode returns the opcode of this instruction.
func (i *Instruction) Opcode() Opcode { return i.opcode }

// Block returns the block this instruction belongs to.
func (i *Instruction) Block() *Block { return i.blk }

// Next returns the next instruction in the block, or nil.
func (i *Instruction) Next() *Instruction { return i.next }

// Prev returns the previous instruction in the block, or nil.
func (i *Instruction) Prev() *Instruction { return i.prev }

// Dests returns the destinations. The slice aliases the instruction, so flags can be updated through it.
func (i *Instruction) Dests() []Operand { return i.dests }

// Srcs returns the sources. The slice aliases the instruction, so flags can be updated through it.
func (i *Instruction) Srcs() []Operand { return i.srcs }

// SetSrcs replaces the sources.
func (i *Instruction) SetSrcs(srcs []Operand) { i.srcs = srcs }

// SetDests replaces the destinations.
func (i *Instruction) SetDests(dests []Operand) { i.dests = dests }

// Target returns the branch target of OpcodeBr and OpcodeJmp.
func (i *Instruction) Target() *Block { return i.target }

// Inverted returns true if this OpcodeBr branches when its condition is zero.
func (i *Instruction) Inverted() bool { return i.invert }

// IsPhi returns true for OpcodePhi.
func (i *Instruction) IsPhi() bool { return i.opcode == OpcodePhi }

// IsBranching returns true if this instruction transfers control to Target.
func (i *Instruction) IsBranching() bool {
	return i.opcode == OpcodeBr || i.opcode == OpcodeJmp
}

// WritesReg returns true if a register destination of this instruction covers any register of src.
func (i *Instruction) WritesReg(src Operand) bool {
	for _, d := range i.dests {
		if d.Overlaps(src) {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (i *Instruction) String() string {
	var sb strings.Builder
	for k, d := range i.dests {
		if k > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.FormatDest())
	}
	if len(i.dests) > 0 {
		sb.WriteString(" = ")
	}
	name := i.opcode.String()
	if i.opcode == OpcodeBr && i.invert {
		name += ".not"
	}
	sb.WriteString(name)
	for k, s := range i.srcs {
		if k > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte(' ')
		sb.WriteString(s.String())
	}
	if i.target != nil {
		fmt.Fprintf(&sb, " -> %s", i.target)
	}
	return sb.String()
}
