package memory

import (
	"sync"

	"github.com/docker/go-units"
	"github.com/google/btree"
	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
)

// Align is the alignment of every heap block.
const Align = 8

type span struct {
	addr uint32
	size uint32
}

func spanLess(a, b span) bool { return a.addr < b.addr }

// Heap is a first-fit block allocator over a linear memory.
//
// Free blocks are kept in an address-ordered btree so neighbours coalesce on
// free. The heap owns the region [base, end) and grows it through the
// backing's MemoryGrower when a request does not fit. If another party grows
// the same memory in between, the heap starts a new region at the returned
// page and keeps the tail of the old one on the free list.
type Heap struct {
	mem    objbridge.Memory
	free   *btree.BTreeG[span]
	used   map[objbridge.Addr]uint32
	base   uint32
	top    uint32
	end    uint32
	limit  uint32
	inUse  uint64
	mu     sync.Mutex
	closed bool
}

var _ objbridge.Allocator = (*Heap)(nil)

// NewHeap creates a heap that hands out addresses at or above base and never
// past limit. A zero limit means the end of the 32-bit address space.
func NewHeap(mem objbridge.Memory, base, limit uint32) *Heap {
	base = alignUp(base)
	if limit == 0 {
		limit = ^uint32(0) &^ (Align - 1)
	}
	end := base
	if sizer, ok := mem.(objbridge.MemorySizer); ok {
		if size := sizer.Size(); size > base {
			end = size &^ (Align - 1)
		}
	}
	if end > limit {
		end = limit
	}
	return &Heap{
		mem:   mem,
		free:  btree.NewG[span](8, spanLess),
		used:  make(map[objbridge.Addr]uint32),
		base:  base,
		top:   base,
		end:   end,
		limit: limit,
	}
}

func alignUp(n uint32) uint32 {
	return (n + Align - 1) &^ (Align - 1)
}

// Memory returns the backing memory.
func (h *Heap) Memory() objbridge.Memory {
	return h.mem
}

// Alloc returns a zeroed block of at least size bytes.
func (h *Heap) Alloc(size uint32) (objbridge.Addr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alloc(size)
}

func (h *Heap) alloc(size uint32) (objbridge.Addr, error) {
	if h.closed {
		return 0, errors.New(errors.PhaseMemory, errors.KindAllocation).Detail("heap closed").Build()
	}
	if size == 0 {
		size = 1
	}
	if size > h.limit-h.base {
		return 0, errors.AllocationFailed(errors.PhaseMemory, size, nil)
	}
	n := alignUp(size)

	addr, got, ok := h.takeFree(n)
	if !ok {
		if err := h.reserve(n); err != nil {
			return 0, errors.AllocationFailed(errors.PhaseMemory, size, err)
		}
		addr = h.top
		h.top += n
	} else {
		n = got
	}

	if err := h.zero(addr, n); err != nil {
		return 0, errors.AllocationFailed(errors.PhaseMemory, size, err)
	}
	h.used[objbridge.Addr(addr)] = n
	h.inUse += uint64(n)
	return objbridge.Addr(addr), nil
}

// takeFree removes the first free span that fits n bytes and returns the
// address and the size handed out.
func (h *Heap) takeFree(n uint32) (uint32, uint32, bool) {
	var found span
	var ok bool
	h.free.Ascend(func(s span) bool {
		if s.size >= n {
			found, ok = s, true
			return false
		}
		return true
	})
	if !ok {
		return 0, 0, false
	}
	h.free.Delete(found)
	if rest := found.size - n; rest >= Align {
		h.free.ReplaceOrInsert(span{addr: found.addr + n, size: rest})
		return found.addr, n, true
	}
	return found.addr, found.size, true
}

// reserve makes sure the carve region has room for n bytes.
func (h *Heap) reserve(n uint32) error {
	for h.end-h.top < n {
		grower, ok := h.mem.(objbridge.MemoryGrower)
		if !ok {
			return errors.Unsupported(errors.PhaseMemory, "backing memory cannot grow")
		}
		need := uint64(n - (h.end - h.top))
		pages := uint32((need + objbridge.PageSize - 1) / objbridge.PageSize)
		if uint64(h.end)+uint64(pages)*objbridge.PageSize > uint64(h.limit) {
			return errors.New(errors.PhaseMemory, errors.KindAllocation).
				Detail("heap limit %s reached", units.BytesSize(float64(h.limit-h.base))).
				Build()
		}
		prev, ok := grower.Grow(pages)
		if !ok {
			return errors.New(errors.PhaseMemory, errors.KindAllocation).
				Detail("grow by %d pages refused", pages).
				Build()
		}
		start := uint32(uint64(prev) * objbridge.PageSize)
		if start != h.end {
			Logger().Debug("heap region moved",
				zap.Uint32("old_end", h.end),
				zap.Uint32("new_start", start))
			if h.end > h.top {
				h.release(h.top, h.end-h.top)
			}
			h.top = start
		}
		h.end = start + pages*objbridge.PageSize
	}
	return nil
}

// Free returns a block to the heap. Freeing address 0 is a no-op.
func (h *Heap) Free(addr objbridge.Addr) error {
	if addr == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freeLocked(addr)
}

func (h *Heap) freeLocked(addr objbridge.Addr) error {
	size, ok := h.used[addr]
	if !ok {
		return errors.New(errors.PhaseMemory, errors.KindInvalidInput).
			Value(uint32(addr)).
			Detail("free of unallocated address %#x", uint32(addr)).
			Build()
	}
	delete(h.used, addr)
	h.inUse -= uint64(size)
	h.release(uint32(addr), size)
	return nil
}

// release puts a span back on the free list, merging it with its neighbours.
func (h *Heap) release(addr, size uint32) {
	s := span{addr: addr, size: size}

	var prev, next span
	var hasPrev, hasNext bool
	h.free.DescendLessOrEqual(span{addr: addr}, func(p span) bool {
		if p.addr+p.size == s.addr {
			prev, hasPrev = p, true
		}
		return false
	})
	h.free.AscendGreaterOrEqual(span{addr: addr + size}, func(n span) bool {
		if n.addr == addr+size {
			next, hasNext = n, true
		}
		return false
	})
	if hasPrev {
		h.free.Delete(prev)
		s.addr = prev.addr
		s.size += prev.size
	}
	if hasNext {
		h.free.Delete(next)
		s.size += next.size
	}

	if s.addr+s.size == h.top {
		h.top = s.addr
		return
	}
	h.free.ReplaceOrInsert(s)
}

// Realloc resizes a block, moving it when it cannot stay in place. Contents
// up to the smaller of the two sizes are preserved.
func (h *Heap) Realloc(addr objbridge.Addr, size uint32) (objbridge.Addr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if addr == 0 {
		return h.alloc(size)
	}
	old, ok := h.used[addr]
	if !ok {
		return 0, errors.New(errors.PhaseMemory, errors.KindInvalidInput).
			Value(uint32(addr)).
			Detail("realloc of unallocated address %#x", uint32(addr)).
			Build()
	}
	if alignUp(size) <= old {
		return addr, nil
	}

	data, err := h.mem.Read(uint32(addr), old)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseMemory, errors.KindOutOfBounds, err, "read block for realloc")
	}
	next, err := h.alloc(size)
	if err != nil {
		return 0, err
	}
	if err := h.mem.Write(uint32(next), data); err != nil {
		return 0, errors.Wrap(errors.PhaseMemory, errors.KindOutOfBounds, err, "copy block for realloc")
	}
	if err := h.freeLocked(addr); err != nil {
		return 0, err
	}
	return next, nil
}

// Zero clears n bytes at addr.
func (h *Heap) Zero(addr objbridge.Addr, n uint32) error {
	return h.zero(uint32(addr), n)
}

func (h *Heap) zero(addr, n uint32) error {
	const chunk = 4096
	var zeros [chunk]byte
	for n > 0 {
		step := min(n, chunk)
		if err := h.mem.Write(addr, zeros[:step]); err != nil {
			return err
		}
		addr += step
		n -= step
	}
	return nil
}

// SizeOf returns the usable size of a live block.
func (h *Heap) SizeOf(addr objbridge.Addr) (uint32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	size, ok := h.used[addr]
	return size, ok
}

// Live returns the number of live blocks.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.used)
}

// InUse returns the number of bytes held by live blocks.
func (h *Heap) InUse() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

// Close releases every block. The backing memory is left as is.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	Logger().Debug("heap closed",
		zap.Int("live_blocks", len(h.used)),
		zap.String("in_use", units.HumanSize(float64(h.inUse))))
	h.closed = true
	h.used = make(map[objbridge.Addr]uint32)
	h.free.Clear(false)
	h.top = h.base
	h.inUse = 0
	return nil
}
