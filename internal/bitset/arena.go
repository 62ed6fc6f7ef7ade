package bitset

// Arena hands out Sets of one width from a shared backing array.
// Everything allocated from it is released together when the owning pass drops the Arena.
type Arena struct {
	width int
	buf   []uint64
	next  int
}

// NewArena returns an Arena able to hand out count sets of width bits without reallocating.
func NewArena(width, count int) *Arena {
	return &Arena{width: width, buf: make([]uint64, wordsFor(width)*count)}
}

// Width returns the width of the sets handed out.
func (a *Arena) Width() int { return a.width }

// New returns an empty set from the arena.
func (a *Arena) New() Set {
	w := wordsFor(a.width)
	if a.next+w > len(a.buf) {
		// Ran past the estimate: start a new chunk rather than moving the sets already handed out.
		a.buf = make([]uint64, len(a.buf)+w)
		a.next = 0
	}
	words := a.buf[a.next : a.next+w : a.next+w]
	a.next += w
	return Set{words: words, n: a.width}
}
