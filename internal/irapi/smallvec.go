package irapi

const smallVecInline = 3

// SmallVec stores up to three items inline and moves to the heap beyond that.
// Dominator tree children use it since almost every block has at most three.
type SmallVec[T any] struct {
	inline [smallVecInline]T
	heap   []T
	n      int
}

// Reserve prepares storage for exactly n items, discarding the current content.
// Callers that know the final size up front (count, then fill) never trigger a reallocation.
func (v *SmallVec[T]) Reserve(n int) {
	v.Reset()
	if n > smallVecInline {
		v.heap = make([]T, 0, n)
	}
}

// Append adds x to the end.
func (v *SmallVec[T]) Append(x T) {
	switch {
	case v.heap != nil:
		v.heap = append(v.heap, x)
	case v.n < smallVecInline:
		v.inline[v.n] = x
	default:
		v.heap = make([]T, smallVecInline, 2*smallVecInline)
		copy(v.heap, v.inline[:])
		v.inline = [smallVecInline]T{}
		v.heap = append(v.heap, x)
	}
	v.n++
}

// Len returns the number of items.
func (v *SmallVec[T]) Len() int { return v.n }

// At returns the i-th item.
func (v *SmallVec[T]) At(i int) T {
	if v.heap != nil {
		return v.heap[i]
	}
	if i >= v.n {
		panic("BUG: small vector index out of range")
	}
	return v.inline[i]
}

// Slice returns the items. The result aliases the inline storage, so it must not outlive v.
func (v *SmallVec[T]) Slice() []T {
	if v.heap != nil {
		return v.heap
	}
	return v.inline[:v.n]
}

// Inline returns true while the items still fit in the inline storage.
func (v *SmallVec[T]) Inline() bool { return v.heap == nil }

// Reset empties the vector.
func (v *SmallVec[T]) Reset() {
	v.inline = [smallVecInline]T{}
	v.heap = nil
	v.n = 0
}
