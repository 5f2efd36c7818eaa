package objbridge

import "context"

// Addr is an address in foreign memory. Zero is the null pointer and doubles
// as the "no value" sentinel on every call boundary.
type Addr uint32

// PtrSize is the width of a pointer-sized slot in the foreign ABI.
const PtrSize = 4

// PageSize is the granularity in which linear memory grows.
const PageSize = 65536

// Memory represents byte-addressable foreign memory.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of foreign memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// MemoryGrower grows foreign memory by whole pages. It returns the previous
// size in pages, or false when the memory cannot grow.
type MemoryGrower interface {
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// Allocator hands out blocks of foreign memory.
type Allocator interface {
	Alloc(size uint32) (Addr, error)
	Free(addr Addr) error
}

// Raw native callables. These are the shapes of the function pointers found
// in method tables and type object slots. Pointer results of 0 mean failure
// and are paired with the last-error slot.
type (
	// UnaryFunc is PyObject *(*)(PyObject *), as in tp_iter and tp_repr.
	UnaryFunc func(ctx context.Context, a Addr) Addr
	// BinaryFunc is PyCFunction: (self, args).
	BinaryFunc func(ctx context.Context, a, b Addr) Addr
	// TernaryFunc is (self, args, kwargs), as in tp_new and tp_call.
	TernaryFunc func(ctx context.Context, a, b, c Addr) Addr
	// InitFunc is tp_init. It returns 0 on success.
	InitFunc func(ctx context.Context, self, args, kwargs Addr) int32
	// DeallocFunc is tp_dealloc and tp_free.
	DeallocFunc func(ctx context.Context, obj Addr)
	// AllocFunc is tp_alloc.
	AllocFunc func(ctx context.Context, typ Addr, nitems int32) Addr
)
