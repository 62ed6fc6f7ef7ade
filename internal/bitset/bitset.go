// Package bitset implements the fixed-width bit-vectors used by the dataflow passes.
//
// A Set is sized once, to the SSA value count or to the register file, and never grows.
// Sets used by one pass invocation are carved from an Arena so that a whole liveness
// solve costs a single allocation.
package bitset

import (
	"fmt"
	"math/bits"
	"strings"
)

// Set is a fixed-width bit-vector. The zero value is an empty set of width zero.
type Set struct {
	words []uint64
	n     int
}

// New returns an empty Set holding n bits.
func New(n int) Set {
	return Set{words: make([]uint64, wordsFor(n)), n: n}
}

func wordsFor(n int) int { return (n + 63) / 64 }

// Len returns the width of the set in bits.
func (s Set) Len() int { return s.n }

// Has returns true if bit i is set. Out of range bits are never set.
func (s Set) Has(i int) bool {
	if i < 0 || i >= s.n {
		return false
	}
	return s.words[i/64]&(1<<(uint(i)%64)) != 0
}

// Set sets bit i.
func (s Set) Set(i int) {
	s.check(i)
	s.words[i/64] |= 1 << (uint(i) % 64)
}

// Clear clears bit i.
func (s Set) Clear(i int) {
	s.check(i)
	s.words[i/64] &^= 1 << (uint(i) % 64)
}

// SetRange sets bits [start, start+count).
func (s Set) SetRange(start, count int) {
	for i := start; i < start+count; i++ {
		s.Set(i)
	}
}

// ClearRange clears bits [start, start+count).
func (s Set) ClearRange(start, count int) {
	for i := start; i < start+count; i++ {
		s.Clear(i)
	}
}

// HasAny returns true if any bit of [start, start+count) is set.
func (s Set) HasAny(start, count int) bool {
	for i := start; i < start+count; i++ {
		if s.Has(i) {
			return true
		}
	}
	return false
}

// HasAll returns true if every bit of [start, start+count) is set.
func (s Set) HasAll(start, count int) bool {
	for i := start; i < start+count; i++ {
		if !s.Has(i) {
			return false
		}
	}
	return true
}

func (s Set) check(i int) {
	if i < 0 || i >= s.n {
		panic(fmt.Sprintf("BUG: bit %d out of range [0, %d)", i, s.n))
	}
}

// Union sets every bit of o in s. Both sets must have the same width.
func (s Set) Union(o Set) {
	s.sameWidth(o)
	for i, w := range o.words {
		s.words[i] |= w
	}
}

// Subtract clears every bit of o in s.
func (s Set) Subtract(o Set) {
	s.sameWidth(o)
	for i, w := range o.words {
		s.words[i] &^= w
	}
}

// Copy overwrites s with the content of o.
func (s Set) Copy(o Set) {
	s.sameWidth(o)
	copy(s.words, o.words)
}

// Equal returns true if both sets hold the same bits.
func (s Set) Equal(o Set) bool {
	if s.n != o.n {
		return false
	}
	for i, w := range s.words {
		if o.words[i] != w {
			return false
		}
	}
	return true
}

// Reset clears every bit.
func (s Set) Reset() {
	for i := range s.words {
		s.words[i] = 0
	}
}

// Count returns the number of set bits.
func (s Set) Count() int {
	var c int
	for _, w := range s.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Empty returns true if no bit is set.
func (s Set) Empty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Scan calls f for every set bit in increasing order.
func (s Set) Scan(f func(i int)) {
	for i, v := range s.words {
		for v != 0 {
			n := bits.TrailingZeros64(v)
			f(i*64 + n)
			v &= v - 1
		}
	}
}

// Clone returns a heap copy of s.
func (s Set) Clone() Set {
	ret := New(s.n)
	copy(ret.words, s.words)
	return ret
}

func (s Set) sameWidth(o Set) {
	if s.n != o.n {
		panic(fmt.Sprintf("BUG: bitset width mismatch %d != %d", s.n, o.n))
	}
}

// String implements fmt.Stringer.
func (s Set) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	s.Scan(func(i int) {
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "%d", i)
	})
	sb.WriteByte('}')
	return sb.String()
}
