package ir

import (
	"math"

	"github.com/shadercore/shadercore/internal/irapi"
)

// domInfo is the dominance information cached on a Block.
type domInfo struct {
	idom *Block
	// reversePostOrder is the position in Function.ReversePostOrder, or -1 when unreachable.
	reversePostOrder int
	// pre and post number the block in a depth first walk of the dominator tree.
	pre, post uint32
	frontier  []*Block
	children  irapi.SmallVec[*Block]
}

func (d *domInfo) reset() {
	d.idom = nil
	d.reversePostOrder = -1
	d.pre, d.post = math.MaxUint32, 0
	d.frontier = d.frontier[:0]
	d.children.Reset()
}

// Idom returns the immediate dominator, nil for the entry block and for unreachable blocks.
func (b *Block) Idom() *Block {
	b.fn.requireValid(AnalysisDominance)
	return b.dom.idom
}

// Reachable returns true if b can be reached from the entry block.
func (b *Block) Reachable() bool {
	b.fn.requireValid(AnalysisDominance)
	return b.dom.reversePostOrder >= 0
}

// DominanceFrontier returns the blocks where the dominance of b stops.
func (b *Block) DominanceFrontier() []*Block {
	b.fn.requireValid(AnalysisDominance)
	return b.dom.frontier
}

// DomChildren returns the blocks immediately dominated by b. The slice must not outlive the analysis.
func (b *Block) DomChildren() []*Block {
	b.fn.requireValid(AnalysisDominance)
	return b.dom.children.Slice()
}

// NumDomChildren returns len(DomChildren()).
func (b *Block) NumDomChildren() int {
	b.fn.requireValid(AnalysisDominance)
	return b.dom.children.Len()
}

// DomPrePost returns the pre and post indexes of b in the dominator tree walk.
func (b *Block) DomPrePost() (pre, post uint32) {
	b.fn.requireValid(AnalysisDominance)
	return b.dom.pre, b.dom.post
}

// Dominates returns true if every path from the entry block to b passes through a.
//
// Unreachable blocks carry pre = MaxUint32 and post = 0: they are dominated by every block and
// dominate no reachable block.
func Dominates(a, b *Block) bool {
	a.fn.requireValid(AnalysisDominance)
	return b.dom.pre >= a.dom.pre && b.dom.post <= a.dom.post
}

// CalculateDominance computes the immediate dominators, the dominator tree, its pre/post numbering
// and the dominance frontiers of f. It also flags loop headers.
func CalculateDominance(f *Function) {
	f.Invalidate(AnalysisDominance)

	reversePostOrder := calculateReversePostOrder(f, f.reversePostOrder[:0])
	for i, blk := range reversePostOrder {
		blk.dom.reversePostOrder = i
	}

	doms := make([]*Block, f.NumBlockIDs())
	calculateDominators(reversePostOrder, doms)
	calculateDominanceFrontiers(reversePostOrder, doms)

	for _, blk := range reversePostOrder[1:] {
		blk.dom.idom = doms[blk.id]
	}
	// The entry block is the root of the tree: it has no immediate dominator.
	reversePostOrder[0].dom.idom = nil

	buildDominatorTree(reversePostOrder)
	numberDominatorTree(reversePostOrder[0])

	f.reversePostOrder = reversePostOrder
	f.markValid(AnalysisDominance)

	detectLoopHeaders(reversePostOrder)
}

// calculateReversePostOrder walks the CFG from the entry block, visiting successors in slot order.
func calculateReversePostOrder(f *Function, reversePostOrder []*Block) []*Block {
	const visitStateUnseen, visitStateSeen, visitStateDone = 0, 1, 2
	visited := make([]byte, f.NumBlockIDs())

	entryBlk := f.Entry()
	exploreStack := []*Block{entryBlk}
	visited[entryBlk.id] = visitStateSeen
	for len(exploreStack) > 0 {
		tail := len(exploreStack) - 1
		blk := exploreStack[tail]
		exploreStack = exploreStack[:tail]
		switch visited[blk.id] {
		case visitStateUnseen:
			panic("BUG: unsupported CFG")
		case visitStateSeen:
			// First pop: the successors have to be finished before this block, so push it back below them.
			exploreStack = append(exploreStack, blk)
			succs := blk.Succs()
			// Pushed in reverse so that the first slot is explored first.
			for i := len(succs) - 1; i >= 0; i-- {
				succ := succs[i]
				if visited[succ.id] == visitStateUnseen {
					visited[succ.id] = visitStateSeen
					exploreStack = append(exploreStack, succ)
				}
			}
			visited[blk.id] = visitStateDone
		case visitStateDone:
			// At this point we append in postorder.
			reversePostOrder = append(reversePostOrder, blk)
		}
	}
	for i := len(reversePostOrder)/2 - 1; i >= 0; i-- {
		j := len(reversePostOrder) - 1 - i
		reversePostOrder[i], reversePostOrder[j] = reversePostOrder[j], reversePostOrder[i]
	}
	return reversePostOrder
}

// calculateDominators computes the immediate dominator of each reachable block into doms, indexed by
// BlockID, with "A Simple, Fast Dominance Algorithm" by Cooper, Harvey and Kennedy
// https://www.cs.rice.edu/~keith/EMBED/dom.pdf.
//
// On return doms[entry] is entry itself, as in the paper.
func calculateDominators(reversePostOrderedBlks []*Block, doms []*Block) {
	entry, reversePostOrderedBlks := reversePostOrderedBlks[0], reversePostOrderedBlks[1: /* skips entry point */]
	for _, blk := range reversePostOrderedBlks {
		doms[blk.id] = nil
	}
	doms[entry.id] = entry

	changed := true
	for changed {
		changed = false
		for _, blk := range reversePostOrderedBlks {
			var u *Block
			for _, pred := range blk.preds {
				// Skip if this pred has no dominator yet. Not in the paper, but needed for unreachable
				// predecessors and for back edges visited before their source.
				if doms[pred.id] == nil {
					continue
				}
				if u == nil {
					u = pred
				} else {
					u = intersect(doms, u, pred)
				}
			}
			if doms[blk.id] != u {
				doms[blk.id] = u
				changed = true
			}
		}
	}
}

// intersect returns the closest common dominator of blk1 and blk2.
func intersect(doms []*Block, blk1 *Block, blk2 *Block) *Block {
	finger1, finger2 := blk1, blk2
	for finger1 != finger2 {
		for finger1.dom.reversePostOrder > finger2.dom.reversePostOrder {
			finger1 = doms[finger1.id]
		}
		for finger2.dom.reversePostOrder > finger1.dom.reversePostOrder {
			finger2 = doms[finger2.id]
		}
	}
	return finger1
}

// calculateDominanceFrontiers adds every join point to the frontier of the blocks between each of
// its predecessors and its immediate dominator.
func calculateDominanceFrontiers(reversePostOrder []*Block, doms []*Block) {
	for _, blk := range reversePostOrder {
		if len(blk.preds) < 2 {
			continue
		}
		idom := doms[blk.id]
		for _, pred := range blk.preds {
			if pred.dom.reversePostOrder < 0 {
				continue
			}
			for runner := pred; runner != idom; runner = doms[runner.id] {
				runner.dom.addFrontier(blk)
				if runner == doms[runner.id] {
					// Reached the entry block.
					break
				}
			}
		}
	}
}

func (d *domInfo) addFrontier(b *Block) {
	for _, x := range d.frontier {
		if x == b {
			return
		}
	}
	d.frontier = append(d.frontier, b)
}

// buildDominatorTree fills the children of each block in two passes, counting first so that every
// children vector is sized exactly once.
func buildDominatorTree(reversePostOrder []*Block) {
	counts := make(map[*Block]int, len(reversePostOrder))
	for _, blk := range reversePostOrder[1:] {
		counts[blk.dom.idom]++
	}
	for _, blk := range reversePostOrder {
		blk.dom.children.Reserve(counts[blk])
	}
	for _, blk := range reversePostOrder[1:] {
		blk.dom.idom.dom.children.Append(blk)
	}
}

// numberDominatorTree assigns the pre and post indexes used by Dominates.
func numberDominatorTree(root *Block) {
	type frame struct {
		blk  *Block
		next int
	}
	var pre, post uint32
	stack := []frame{{blk: root}}
	root.dom.pre = pre
	pre++
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < top.blk.dom.children.Len() {
			child := top.blk.dom.children.At(top.next)
			top.next++
			child.dom.pre = pre
			pre++
			stack = append(stack, frame{blk: child})
			continue
		}
		top.blk.dom.post = post
		post++
		stack = stack[:len(stack)-1]
	}
}

// detectLoopHeaders flags the blocks that dominate one of their predecessors.
func detectLoopHeaders(reversePostOrder []*Block) {
	for _, blk := range reversePostOrder {
		for _, pred := range blk.preds {
			if pred.dom.reversePostOrder >= 0 && Dominates(blk, pred) {
				blk.loopHeader = true
			}
		}
	}
}
