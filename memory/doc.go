// Package memory provides the foreign memory view: linear memory backings,
// a block heap, and named struct layouts.
//
// # Backings
//
// Two backings implement objbridge.Memory:
//
//	Linear  - a growable in-process byte slice with page semantics
//	Wrapper - a wazero guest memory (api.Memory)
//
// Both also implement MemorySizer and MemoryGrower, which the heap uses to
// extend its region on demand.
//
// # Heap
//
// Heap is a first-fit allocator with 8-byte aligned blocks. Free blocks live
// in an address-ordered btree and coalesce with their neighbours. Blocks are
// zeroed on allocation.
//
//	heap := memory.NewHeap(memory.NewLinear(2, 0), 65536, 0)
//	addr, err := heap.Alloc(16)
//	defer heap.Free(addr)
//
// # Layouts
//
// Layout tables describe the foreign ABI structs (object headers, type
// objects, method tables) for a 32-bit target. View reads and writes fields
// by name:
//
//	v := memory.NewView(mem, memory.TypeObject, typePtr)
//	size, err := v.ReadInt("tp_basicsize")
//
// No bounds checking is done beyond the field table and the physical size of
// the backing memory.
package memory
