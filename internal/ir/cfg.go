package ir

import "fmt"

// AddEdge records the control flow edge from -> to. Slots fill up left first: the branch target of
// a conditional branch must be added before its fallthrough.
func (f *Function) AddEdge(from, to *Block) {
	switch {
	case from.succs[0] == nil:
		from.succs[0] = to
	case from.succs[1] == nil:
		from.succs[1] = to
	default:
		panic(fmt.Sprintf("BUG: %s already has two successors", from))
	}
	to.preds = append(to.preds, from)
	f.Invalidate(AnalysisAll)
}

// DeriveEdges rebuilds every predecessor and successor set from the terminators and the layout.
// Predecessors end up in layout order of the branching blocks.
func (f *Function) DeriveEdges() {
	for _, b := range f.blocks {
		b.preds = b.preds[:0]
		b.succs = [2]*Block{}
	}
	for _, b := range f.blocks {
		next := b.LayoutNext()
		t := b.Terminator()
		switch {
		case t == nil:
			if next != nil {
				f.AddEdge(b, next)
			}
		case t.opcode == OpcodeJmp:
			f.AddEdge(b, t.target)
		case t.opcode == OpcodeBr:
			if next == nil {
				panic(fmt.Sprintf("BUG: conditional branch in the last block %s", b))
			}
			f.AddEdge(b, t.target)
			if next != t.target {
				f.AddEdge(b, next)
			}
		}
	}
	f.Invalidate(AnalysisAll)
}

// collapseSuccs drops a duplicated successor slot.
func (b *Block) collapseSuccs() {
	if b.succs[1] != nil && b.succs[0] == b.succs[1] {
		b.succs[1] = nil
	}
	if b.succs[0] == nil {
		b.succs[0], b.succs[1] = b.succs[1], nil
	}
}

// normalizeSuccs puts the branch target of a conditional branch in the first slot.
func (b *Block) normalizeSuccs() {
	if t := b.Terminator(); t != nil && t.opcode == OpcodeBr && b.succs[1] == t.target {
		b.succs[0], b.succs[1] = b.succs[1], b.succs[0]
	}
}

// replacePred replaces old with p in the predecessors of b, in place so that phi operands stay
// aligned. If p already was a predecessor, the slot of old is dropped together with its phi
// operands and true is returned.
func (b *Block) replacePred(old, p *Block) (merged bool) {
	k := b.PredIndex(old)
	if k < 0 {
		panic(fmt.Sprintf("BUG: %s is not a predecessor of %s", old, b))
	}
	if b.PredIndex(p) >= 0 {
		b.removePred(k)
		return true
	}
	b.preds[k] = p
	return false
}

// removePred drops the k-th predecessor and the matching phi operands.
func (b *Block) removePred(k int) {
	b.preds = append(b.preds[:k], b.preds[k+1:]...)
	for instr := b.root; instr != nil && instr.opcode == OpcodePhi; instr = instr.next {
		instr.srcs = append(instr.srcs[:k], instr.srcs[k+1:]...)
	}
}

// IsSimple returns true if b has exactly one predecessor, exactly one successor, and holds nothing
// but an optional unconditional branch.
func (b *Block) IsSimple() bool {
	if len(b.preds) != 1 || b.succs[0] == nil || b.succs[1] != nil {
		return false
	}
	switch {
	case b.root == nil:
		return true
	case b.root == b.tail && b.root.opcode == OpcodeJmp:
		return true
	default:
		return false
	}
}

// CanMergeEdges returns false if splicing out the simple block b would merge two incoming edges of
// its successor that carry different phi operands.
func (b *Block) CanMergeEdges() bool {
	pred, succ := b.preds[0], b.succs[0]
	kp := succ.PredIndex(pred)
	if kp < 0 {
		return true
	}
	kb := succ.PredIndex(b)
	for instr := succ.root; instr != nil && instr.opcode == OpcodePhi; instr = instr.next {
		if !instr.srcs[kp].Equiv(instr.srcs[kb]) {
			return false
		}
	}
	return true
}

// RemoveSimpleBlock splices the simple block b out of the CFG: its predecessor is connected straight
// to its successor and b leaves the layout. A branch of the predecessor targeting b is retargeted.
func (f *Function) RemoveSimpleBlock(b *Block) {
	if !b.IsSimple() {
		panic(fmt.Sprintf("BUG: %s is not a simple block", b))
	}
	pred, succ := b.preds[0], b.succs[0]
	if pred == b || succ == b {
		panic(fmt.Sprintf("BUG: %s is a self loop", b))
	}

	for k := range pred.succs {
		if pred.succs[k] == b {
			pred.succs[k] = succ
		}
	}
	pred.collapseSuccs()
	if t := pred.Terminator(); t != nil && t.IsBranching() && t.target == b {
		t.target = succ
	}
	pred.normalizeSuccs()

	succ.replacePred(b, pred)

	b.preds = b.preds[:0]
	b.succs = [2]*Block{}
	f.unlink(b)
}

// SplitEdge inserts an empty block on the edge from -> to and returns it.
func (f *Function) SplitEdge(from, to *Block) *Block {
	if to.PredIndex(from) < 0 {
		panic(fmt.Sprintf("BUG: no edge %s -> %s", from, to))
	}
	t := from.Terminator()
	var mid *Block
	if from.FallsThrough() && from.LayoutNext() == to {
		mid = f.InsertBlockAfter(from)
		if t != nil && t.IsBranching() && t.target == to {
			t.target = mid
		}
	} else {
		if last := f.blocks[len(f.blocks)-1]; last.Terminator() == nil && last.succs[0] == nil {
			// The last block implicitly returns; make that explicit before laying out anything after it.
			last.AppendReturn()
		}
		mid = f.AllocateBlock()
		mid.AppendJump(to)
		t.target = mid
	}
	mid.divergent = to.divergent
	for k := range from.succs {
		if from.succs[k] == to {
			from.succs[k] = mid
		}
	}
	mid.succs[0] = to
	mid.preds = append(mid.preds, from)
	to.preds[to.PredIndex(from)] = mid
	f.Invalidate(AnalysisAll)
	return mid
}

// removeBlock drops b, and every edge out of it, from the function.
func (f *Function) removeBlock(b *Block) {
	for _, s := range b.Succs() {
		if k := s.PredIndex(b); k >= 0 {
			s.removePred(k)
		}
	}
	for _, p := range b.preds {
		for k := range p.succs {
			if p.succs[k] == b {
				p.succs[k] = nil
			}
		}
		p.collapseSuccs()
	}
	b.preds = b.preds[:0]
	b.succs = [2]*Block{}
	f.unlink(b)
}
