package refsi

import "sort"

// block is one entry in the allocator's ordered partition of
// [base, base+size). Blocks are adjacent and non-overlapping; free blocks
// are merged on free.
type block struct {
	addr Addr
	size uint64
	free bool
}

func (b block) end() Addr { return Addr(uint64(b.addr) + b.size) }

// Allocator is a first-fit block allocator over a single contiguous device
// address region, splitting from the high end of each candidate free block
// and coalescing adjacent free blocks on release.
type Allocator struct {
	base   Addr
	size   uint64
	blocks []block
}

// NewAllocator creates an allocator managing [base, base+size) as one free
// block.
func NewAllocator(base Addr, size uint64) *Allocator {
	return &Allocator{
		base:   base,
		size:   size,
		blocks: []block{{addr: base, size: size, free: true}},
	}
}

// Alloc reserves size bytes aligned to align, a power of two. It returns 0
// (the null device address) when no free block is large enough. A size of
// zero or less is treated as 1.
func (a *Allocator) Alloc(size uint64, align uint64) Addr {
	if size == 0 {
		size = 1
	}

	if align == 0 {
		align = 1
	}

	for i := range a.blocks {
		b := a.blocks[i]
		if !b.free {
			continue
		}

		end := uint64(b.end())
		if end < size {
			continue // would underflow below
		}

		candidate := (end - size) &^ (align - 1)
		if candidate < uint64(b.addr) {
			continue
		}

		a.takeAt(i, Addr(candidate), size)

		return Addr(candidate)
	}

	return 0
}

// takeAt splits block i (known free) so that [candidate, candidate+size) is
// marked allocated, leaving any remainder on either side free.
func (a *Allocator) takeAt(i int, candidate Addr, size uint64) {
	b := a.blocks[i]
	replacement := make([]block, 0, 3)

	if candidate > b.addr {
		replacement = append(replacement, block{
			addr: b.addr,
			size: uint64(candidate - b.addr),
			free: true,
		})
	}

	replacement = append(replacement, block{addr: candidate, size: size, free: false})

	tailSize := uint64(b.end()) - (uint64(candidate) + size)
	if tailSize > 0 {
		replacement = append(replacement, block{
			addr: Addr(uint64(candidate) + size),
			size: tailSize,
			free: true,
		})
	}

	a.blocks = append(a.blocks[:i], append(replacement, a.blocks[i+1:]...)...)
}

// Free releases the allocation starting at addr and coalesces adjacent free
// blocks. Freeing the null address is a no-op; freeing an address that is
// not the start of a live allocation is also a no-op.
func (a *Allocator) Free(addr Addr) {
	if addr == 0 {
		return
	}

	for i := range a.blocks {
		if a.blocks[i].addr == addr && !a.blocks[i].free {
			a.blocks[i].free = true
			a.consolidate()

			return
		}
	}
}

// consolidate merges every run of adjacent free blocks into one, in a single
// left-to-right pass over the address-ordered block list.
func (a *Allocator) consolidate() {
	sort.Slice(a.blocks, func(i, j int) bool { return a.blocks[i].addr < a.blocks[j].addr })

	merged := a.blocks[:0:0]

	for _, b := range a.blocks {
		if n := len(merged); n > 0 && merged[n-1].free && b.free {
			merged[n-1].size += b.size
			continue
		}

		merged = append(merged, b)
	}

	a.blocks = merged
}

// Available returns the sum of all free-block sizes.
func (a *Allocator) Available() uint64 {
	var total uint64
	for _, b := range a.blocks {
		if b.free {
			total += b.size
		}
	}

	return total
}

// Size returns the total size of the managed region, for the allocator
// coverage invariant (free + live == Size()).
func (a *Allocator) Size() uint64 { return a.size }
