package ir

import (
	"fmt"

	"github.com/shadercore/shadercore/internal/irapi"
)

// EliminateDeadBlocks removes the blocks that cannot be reached from the entry block.
// It returns the number of removed blocks.
func EliminateDeadBlocks(f *Function) (removed int) {
	reachable := make([]bool, f.NumBlockIDs())
	stack := []*Block{f.Entry()}
	reachable[f.Entry().id] = true
	for len(stack) > 0 {
		blk := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, succ := range blk.Succs() {
			if !reachable[succ.id] {
				reachable[succ.id] = true
				stack = append(stack, succ)
			}
		}
	}

	var dead []*Block
	for _, b := range f.blocks {
		if !reachable[b.id] {
			dead = append(dead, b)
		}
	}
	for _, b := range dead {
		f.removeBlock(b)
	}
	return len(dead)
}

// SimplifyCFG removes pass-through blocks and branches to the next block in layout order.
// It returns true if anything changed.
//
// A simple block (see Block.IsSimple) is spliced out when its predecessor either branches straight
// to it, or branches over it to the block laid out after it. In the latter case the branch
// condition is inverted so that the fallthrough still reaches the same block.
//
// A block whose successor was already seen during the current forward scan is never removed: the
// predecessor would then branch backwards, and that breaks reconvergence of divergent control flow.
// This is deliberately conservative.
func SimplifyCFG(f *Function) (changed bool) {
	visited := make([]bool, f.NumBlockIDs())
	for progress := true; progress; {
		progress = false
		for i := range visited {
			visited[i] = false
		}
		for i := 0; i < len(f.blocks); i++ {
			blk := f.blocks[i]
			visited[blk.id] = true
			if !blk.IsSimple() {
				continue
			}
			pred, succ := blk.preds[0], blk.succs[0]
			if visited[succ.id] || pred == succ || !blk.CanMergeEdges() {
				continue
			}

			t := pred.Terminator()
			switch {
			case t != nil && t.IsBranching() && t.target == blk && !(t.opcode == OpcodeBr && pred.LayoutNext() == blk):
				// The predecessor branches to blk: retarget it to the successor.
			case t != nil && t.opcode == OpcodeBr && pred.LayoutNext() == blk && t.target == blk.LayoutNext():
				// blk is the fallthrough of a branch jumping over it: invert the branch so that it
				// goes to the successor, and let the fallthrough reach the block after blk.
				t.InvertCondition()
				t.target = succ
			default:
				continue
			}

			if irapi.PassLoggingEnabled {
				fmt.Printf("simplify cfg: removing %s (%s -> %s)\n", blk, pred, succ)
			}
			f.RemoveSimpleBlock(blk)
			progress, changed = true, true
			// The layout shifted down by one.
			i--
		}
	}

	if removeFallthroughJumps(f) {
		changed = true
	}
	if changed {
		f.Invalidate(AnalysisAll)
	}
	return
}

// removeFallthroughJumps drops every unconditional branch to the next block in layout order.
func removeFallthroughJumps(f *Function) (changed bool) {
	for _, b := range f.blocks {
		if t := b.Terminator(); t != nil && t.opcode == OpcodeJmp && t.target == b.LayoutNext() {
			b.Remove(t)
			changed = true
		}
	}
	return
}
