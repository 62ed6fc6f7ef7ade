package ir

import "fmt"

// Validate panics if f breaks a structural invariant of the IR: edge symmetry, terminator and edge
// agreement, phi placement and arity, and, before register allocation, the single definition of
// every SSA value.
func (f *Function) Validate() {
	if len(f.blocks) == 0 {
		panic(fmt.Sprintf("BUG: %s has no block", f.name))
	}
	if len(f.Entry().preds) != 0 && !f.allocated {
		// Allowed, but only without phis: there is no edge to take their operand from on entry.
		if phi := f.Entry().root; phi != nil && phi.opcode == OpcodePhi {
			panic(fmt.Sprintf("BUG: entry block %s has phis", f.Entry()))
		}
	}

	defined := make([]bool, f.ssaAlloc)
	for i, b := range f.blocks {
		if b.index != i || b.removed || b.fn != f {
			panic(fmt.Sprintf("BUG: %s is not laid out at %d", b, i))
		}
		f.validateEdges(b)
		f.validateTerminator(b)

		seenNonPhi := false
		for instr := b.root; instr != nil; instr = instr.next {
			if instr.blk != b {
				panic(fmt.Sprintf("BUG: %s is linked into %s but belongs to %v", instr, b, instr.blk))
			}
			if instr.opcode == OpcodeInvalid || instr.opcode >= opcodeEnd {
				panic(fmt.Sprintf("BUG: invalid opcode in %s", b))
			}
			if instr.opcode.IsTerminator() && instr != b.tail {
				panic(fmt.Sprintf("BUG: terminator %s is not last in %s", instr, b))
			}
			if instr.opcode == OpcodePhi {
				if f.allocated {
					panic(fmt.Sprintf("BUG: phi %s left after register allocation", instr))
				}
				if seenNonPhi {
					panic(fmt.Sprintf("BUG: phi %s is not at the top of %s", instr, b))
				}
				if len(instr.srcs) != len(b.preds) {
					panic(fmt.Sprintf("BUG: phi %s has %d sources but %s has %d predecessors",
						instr, len(instr.srcs), b, len(b.preds)))
				}
			} else {
				seenNonPhi = true
			}
			for _, d := range instr.dests {
				f.validateOperand(instr, d)
				if d.IsSSA() {
					if defined[d.Value] {
						panic(fmt.Sprintf("BUG: %%%d defined twice (again by %s)", d.Value, instr))
					}
					defined[d.Value] = true
				} else if d.IsImm() {
					panic(fmt.Sprintf("BUG: immediate destination in %s", instr))
				}
			}
			for _, s := range instr.srcs {
				f.validateOperand(instr, s)
			}
		}
	}
}

func (f *Function) validateOperand(instr *Instruction, o Operand) {
	switch o.Kind {
	case OperandSSA:
		if f.allocated {
			panic(fmt.Sprintf("BUG: SSA operand %s left after register allocation in %s", o, instr))
		}
		if o.Value >= f.ssaAlloc {
			panic(fmt.Sprintf("BUG: %s is out of ssa_alloc %d in %s", o, f.ssaAlloc, instr))
		}
		if o.Width == 0 {
			panic(fmt.Sprintf("BUG: zero width operand %s in %s", o, instr))
		}
	case OperandReg:
		if o.Width == 0 {
			panic(fmt.Sprintf("BUG: zero width operand %s in %s", o, instr))
		}
		if o.Class == ClassGPR && int(o.Value)+int(o.Width) > f.regFileSize {
			panic(fmt.Sprintf("BUG: %s is out of the register file in %s", o, instr))
		}
	case OperandImm:
	default:
		panic(fmt.Sprintf("BUG: invalid operand in %s", instr))
	}
}

func (f *Function) validateEdges(b *Block) {
	if b.succs[0] == nil && b.succs[1] != nil {
		panic(fmt.Sprintf("BUG: %s has a hole in its successor slots", b))
	}
	for _, s := range b.Succs() {
		if s.removed {
			panic(fmt.Sprintf("BUG: %s has removed successor %s", b, s))
		}
		if s.PredIndex(b) < 0 {
			panic(fmt.Sprintf("BUG: %s -> %s is missing from the predecessors of %s", b, s, s))
		}
	}
	for k, p := range b.preds {
		if p.removed {
			panic(fmt.Sprintf("BUG: %s has removed predecessor %s", b, p))
		}
		if p.succs[0] != b && p.succs[1] != b {
			panic(fmt.Sprintf("BUG: %s lists %s as predecessor, but the edge does not exist", b, p))
		}
		for _, q := range b.preds[k+1:] {
			if p == q {
				panic(fmt.Sprintf("BUG: %s lists %s twice as predecessor", b, p))
			}
		}
	}
}

func (f *Function) validateTerminator(b *Block) {
	next := b.LayoutNext()
	t := b.Terminator()
	var exp [2]*Block
	switch {
	case t == nil:
		exp[0] = next
	case t.opcode == OpcodeJmp:
		exp[0] = t.target
	case t.opcode == OpcodeBr:
		if next == nil {
			panic(fmt.Sprintf("BUG: conditional branch falls off the end in %s", b))
		}
		exp[0] = t.target
		if next != t.target {
			exp[1] = next
		}
	}
	if exp != b.succs {
		panic(fmt.Sprintf("BUG: successors of %s are %v but its terminator implies %v", b, b.Succs(), exp))
	}
}
