// Package hammer runs a test body from many goroutines at once, to surface data races on state
// shared by the compiler.
package hammer

import (
	"runtime"
	"sync"
	"testing"
)

// Hammer invokes a test concurrently in P goroutines N times per goroutine.
//
// For example:
//
//	P, N := 8, 50
//	if testing.Short() {
//		P, N = 4, 10
//	}
//	hammer.New(t, P, N).Run(func(p, n int) {
//		// Compile with a shared Compiler.
//	})
//	if t.Failed() {
//		return
//	}
type Hammer struct {
	t *testing.T
	// P is the number of goroutines.
	P int
	// N is the number of iterations per goroutine.
	N int
}

// New returns a Hammer running P goroutines of N iterations.
func New(t *testing.T, P, N int) *Hammer {
	return &Hammer{t: t, P: P, N: N}
}

// Run calls test(p, n) for each goroutine p and iteration n. Goroutines are released together once
// all of them are running. A panic in test, such as a failed require assertion, fails the test.
func (h *Hammer) Run(test func(p, n int)) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(h.P / 2)) // Ensure goroutines have to switch cores.

	var ready, done sync.WaitGroup
	start := make(chan struct{})
	ready.Add(h.P)
	done.Add(h.P)
	for p := 0; p < h.P; p++ {
		p := p
		go func() {
			defer done.Done()
			defer func() {
				if r := recover(); r != nil {
					h.t.Error(r)
				}
			}()
			ready.Done()
			<-start
			for n := 0; n < h.N; n++ {
				test(p, n)
			}
		}()
	}

	ready.Wait()
	close(start)
	done.Wait()
}
