package ir

import (
	"fmt"
	"sort"
)

// edgesCase describes a CFG: block i branches to edgesCase[i]. With two successors, one of them must
// be the next block in layout order, which becomes the fallthrough.
type edgesCase map[BlockID][]BlockID

// constructGraphFromEdges builds a function without values out of edges.
func constructGraphFromEdges(edges edgesCase) *Function {
	maxID := BlockID(0)
	for from, tos := range edges {
		if from > maxID {
			maxID = from
		}
		for _, to := range tos {
			if to > maxID {
				maxID = to
			}
		}
	}

	f := NewFunction("test", 64)
	for i := BlockID(0); i <= maxID; i++ {
		f.AllocateBlock()
	}

	for i := BlockID(0); i <= maxID; i++ {
		blk := f.BlockByID(i)
		tos := edges[i]
		switch len(tos) {
		case 0:
			blk.AppendReturn()
		case 1:
			if tos[0] != i+1 {
				blk.AppendJump(f.BlockByID(tos[0]))
			}
		case 2:
			switch i + 1 {
			case tos[1]:
				blk.AppendBranch(Imm(1), f.BlockByID(tos[0]), false)
			case tos[0]:
				blk.AppendBranch(Imm(1), f.BlockByID(tos[1]), false)
			default:
				panic(fmt.Sprintf("neither successor of b%d falls through", i))
			}
		default:
			panic("too many successors")
		}
	}
	f.DeriveEdges()
	f.Validate()
	return f
}

// reachableAvoiding returns true if to can be reached from the entry block without going through via.
func reachableAvoiding(f *Function, via, to *Block) bool {
	if via == f.Entry() {
		return false
	}
	seen := make([]bool, f.NumBlockIDs())
	stack := []*Block{f.Entry()}
	seen[f.Entry().id] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if b == to {
			return true
		}
		for _, s := range b.Succs() {
			if s != via && !seen[s.id] {
				seen[s.id] = true
				stack = append(stack, s)
			}
		}
	}
	return false
}

func blockIDs(blks []*Block) []BlockID {
	ret := make([]BlockID, 0, len(blks))
	for _, b := range blks {
		ret = append(ret, b.id)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// frontiers returns the dominance frontier of every block in the layout, keyed by block id.
func frontiers(f *Function) map[BlockID][]BlockID {
	CalculateDominance(f)
	ret := make(map[BlockID][]BlockID, f.NumBlocks())
	for _, b := range f.Blocks() {
		ret[b.id] = blockIDs(b.DominanceFrontier())
	}
	return ret
}
