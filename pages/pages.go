// Package pages provides a bitmap frame allocator implementing
// domainruntime.PageAllocator.
package pages

import (
	"sync"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/errors"
)

// Allocator hands out contiguous frame ranges, first fit.
type Allocator struct {
	bitmap []uint64
	base   uint64
	frames uint64
	used   uint64
	hint   uint64
	mu     sync.Mutex
}

// New creates an allocator over frames frames numbered from base.
func New(base, frames uint64) *Allocator {
	return &Allocator{
		bitmap: make([]uint64, (frames+63)/64),
		base:   base,
		frames: frames,
	}
}

func (a *Allocator) isSet(i uint64) bool {
	return a.bitmap[i/64]&(1<<(i%64)) != 0
}

func (a *Allocator) set(i, n uint64, on bool) {
	for j := i; j < i+n; j++ {
		if on {
			a.bitmap[j/64] |= 1 << (j % 64)
		} else {
			a.bitmap[j/64] &^= 1 << (j % 64)
		}
	}
}

// AllocPages reserves n contiguous frames.
func (a *Allocator) AllocPages(n uint64) (dr.PageRange, error) {
	if n == 0 {
		return dr.PageRange{}, errors.InvalidArgument(errors.PhaseAlloc, "zero page request")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n > a.frames-a.used {
		return dr.PageRange{}, a.exhausted(n)
	}

	if start, ok := a.find(a.hint, a.frames, n); ok {
		return a.take(start, n), nil
	}
	if start, ok := a.find(0, a.hint, n); ok {
		return a.take(start, n), nil
	}
	return dr.PageRange{}, a.exhausted(n)
}

func (a *Allocator) take(start, n uint64) dr.PageRange {
	a.set(start, n, true)
	a.used += n
	a.hint = start + n
	return dr.PageRange{Start: a.base + start, Count: n}
}

// find returns the first run of n free frames starting in [from, to).
func (a *Allocator) find(from, to, n uint64) (uint64, bool) {
	run := uint64(0)
	for i := from; i < a.frames; i++ {
		if a.isSet(i) {
			if i >= to {
				break
			}
			run = 0
			continue
		}
		run++
		if run == n {
			return i + 1 - n, true
		}
	}
	return 0, false
}

// FreePages returns a range. Freeing frames that are not allocated fails.
func (a *Allocator) FreePages(r dr.PageRange) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.Count == 0 || r.Start < a.base || r.End() > a.base+a.frames {
		return errors.InvalidArgument(errors.PhaseAlloc, "page range [%d, %d) outside allocator", r.Start, r.End())
	}
	start := r.Start - a.base
	for i := start; i < start+r.Count; i++ {
		if !a.isSet(i) {
			return errors.InvalidArgument(errors.PhaseAlloc, "frame %d is not allocated", a.base+i)
		}
	}
	a.set(start, r.Count, false)
	a.used -= r.Count
	if start < a.hint {
		a.hint = start
	}
	return nil
}

// Used returns the number of allocated frames.
func (a *Allocator) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// Free returns the number of unallocated frames.
func (a *Allocator) Free() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames - a.used
}

// Total returns the managed frame count.
func (a *Allocator) Total() uint64 {
	return a.frames
}

// Largest returns the longest run of free frames.
func (a *Allocator) Largest() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	best, run := uint64(0), uint64(0)
	for w, word := range a.bitmap {
		if word == 0 && uint64(w+1)*64 <= a.frames {
			run += 64
			continue
		}
		for b := 0; b < 64; b++ {
			i := uint64(w)*64 + uint64(b)
			if i >= a.frames {
				break
			}
			if word&(1<<b) != 0 {
				best = max(best, run)
				run = 0
				continue
			}
			run++
		}
	}
	return max(best, run)
}

func (a *Allocator) exhausted(n uint64) error {
	return errors.New(errors.PhaseAlloc, errors.KindAllocation).
		Detail("no run of %d free frames (%d of %d free)", n, a.frames-a.used, a.frames).
		Value(n).
		Build()
}
