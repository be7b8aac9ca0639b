package proxy

import (
	"math/rand/v2"
	"runtime"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/cpu"
)

// stripe is one call counter, padded to its own cache line.
type stripe struct {
	n atomic.Int64
	_ [56]byte
}

// Counters counts in-flight fast-path calls, one stripe per physical core.
type Counters struct {
	stripes []stripe
}

// NewCounters creates n stripes. n <= 0 uses the physical core count.
func NewCounters(n int) *Counters {
	if n <= 0 {
		n = PhysicalCores()
	}
	return &Counters{stripes: make([]stripe, n)}
}

// PhysicalCores reports the number of physical cores, falling back to the
// logical CPU count when the host does not expose it.
func PhysicalCores() int {
	n, err := cpu.Counts(false)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// Inc counts a call and returns the token to pass to Dec.
func (c *Counters) Inc() int {
	i := 0
	if len(c.stripes) > 1 {
		i = int(rand.Uint32N(uint32(len(c.stripes))))
	}
	c.stripes[i].n.Add(1)
	return i
}

// Dec ends the call counted by token.
func (c *Counters) Dec(token int) {
	c.stripes[token].n.Add(-1)
}

// Sum returns the number of calls in flight.
func (c *Counters) Sum() int64 {
	var s int64
	for i := range c.stripes {
		s += c.stripes[i].n.Load()
	}
	return s
}

// Len returns the number of stripes.
func (c *Counters) Len() int {
	return len(c.stripes)
}
