// Package hammer runs a test body from many goroutines released at once, to
// surface races between concurrent callers of an allocator.
package hammer

import (
	"runtime"
	"sync"
	"testing"
)

// Hammer runs a test body concurrently in P goroutines, N times each.
type Hammer struct {
	t    *testing.T
	P, N int
}

// NewHammer returns a Hammer of P goroutines doing N iterations each. Both
// are reduced under -test.short.
func NewHammer(t *testing.T, P, N int) *Hammer {
	if testing.Short() {
		P, N = (P+1)/2, (N+3)/4
	}
	return &Hammer{t: t, P: P, N: N}
}

// Run calls test(p, n) for every goroutine p and iteration n. All goroutines
// start together once they are running. A panic in test fails t instead of
// crashing the binary.
func (h *Hammer) Run(test func(p, n int)) {
	// Spread the goroutines over fewer cores than there are, so they
	// interleave.
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(h.P/2 + 1))

	var ready, done sync.WaitGroup
	start := make(chan struct{})
	ready.Add(h.P)
	done.Add(h.P)
	for p := 0; p < h.P; p++ {
		go func(p int) {
			defer done.Done()
			defer func() {
				if recovered := recover(); recovered != nil {
					h.t.Error(recovered)
				}
			}()
			ready.Done()
			<-start
			for n := 0; n < h.N; n++ {
				test(p, n)
			}
		}(p)
	}
	ready.Wait()
	close(start)
	done.Wait()
}
