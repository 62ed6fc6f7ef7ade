// Package irapi holds the small containers shared by the IR and the back-end passes.
package irapi

import "fmt"

const (
	arenaChunkBits = 7
	arenaChunkSize = 1 << arenaChunkBits
)

// Arena owns the items of T created for one Function, each identified by the dense index it was
// created with. Items live in fixed size chunks, so pointers to them stay valid as the arena grows.
// The zero value is ready to use.
type Arena[T any] struct {
	chunks [][]T
	n      int
}

// New returns a zeroed item along with its index.
func (a *Arena[T]) New() (int, *T) {
	id := a.n
	if c := id >> arenaChunkBits; c == len(a.chunks) {
		a.chunks = append(a.chunks, make([]T, arenaChunkSize))
	}
	a.n++
	return id, a.at(id)
}

// Len returns the number of items created. Valid indexes are in [0, Len()).
func (a *Arena[T]) Len() int { return a.n }

// At returns the item created with index id. Asking for an index the arena never handed out is a
// bug in the caller.
func (a *Arena[T]) At(id int) *T {
	if id < 0 || id >= a.n {
		panic(fmt.Sprintf("BUG: arena index %d out of range [0, %d)", id, a.n))
	}
	return a.at(id)
}

func (a *Arena[T]) at(id int) *T {
	return &a.chunks[id>>arenaChunkBits][id&(arenaChunkSize-1)]
}
