package mapper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/apitable"
	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

// DefaultGCThreshold is the number of foreign allocations between bridge
// sweeps.
const DefaultGCThreshold = 2000

// staticRefCount is the refcount given to static objects. Statics are never
// deallocated, so the count only has to stay positive.
const staticRefCount = 1 << 30

// ClassFactory generates a managed class for a foreign type object.
type ClassFactory func(ctx context.Context, typ objbridge.Addr) (*object.Class, error)

// Mapper is the object registry. It owns the mapping between foreign
// objects and Go values, the last-error slot, and the per-call temporaries.
//
// Calls into native code must happen between Enter and the returned
// release func; the mapper serialises one call stream at a time.
type Mapper struct {
	heap    *memory.Heap
	mem     objbridge.Memory
	code    *apitable.CodeSpace
	ptrs    *ptrMap
	sem     *semaphore.Weighted
	funcs   map[string]apitable.Func
	factory ClassFactory
	lastErr error

	unmanaged map[objbridge.Addr]struct{}
	statics   map[objbridge.Addr]struct{}
	types     map[*object.Type]objbridge.Addr
	excTypes  map[*object.ExceptionType]objbridge.Addr
	temps     [][]temp
	owned     []objbridge.Addr

	noneAddr  objbridge.Addr
	trueAddr  objbridge.Addr
	falseAddr objbridge.Addr

	gcThreshold atomic.Int64
	allocs      atomic.Int64
	mu          sync.Mutex
	ready       bool
	closed      bool
}

// New creates a mapper over heap. Function pointers it writes into foreign
// structs are registered in code.
func New(heap *memory.Heap, code *apitable.CodeSpace) *Mapper {
	m := &Mapper{
		heap:      heap,
		mem:       heap.Memory(),
		code:      code,
		ptrs:      newPtrMap(),
		sem:       semaphore.NewWeighted(1),
		unmanaged: make(map[objbridge.Addr]struct{}),
		statics:   make(map[objbridge.Addr]struct{}),
		types:     make(map[*object.Type]objbridge.Addr),
		excTypes:  make(map[*object.ExceptionType]objbridge.Addr),
		temps:     [][]temp{nil},
	}
	m.gcThreshold.Store(DefaultGCThreshold)
	m.funcs = make(map[string]apitable.Func)
	for _, f := range m.API() {
		m.funcs[f.Name] = f
	}
	return m
}

// Heap returns the foreign heap.
func (m *Mapper) Heap() *memory.Heap { return m.heap }

// Memory returns the foreign memory.
func (m *Mapper) Memory() objbridge.Memory { return m.mem }

// Code returns the code space used for function pointers.
func (m *Mapper) Code() *apitable.CodeSpace { return m.code }

// SetClassFactory installs the generator used when an object of an unknown
// extension type is retrieved.
func (m *Mapper) SetClassFactory(f ClassFactory) {
	m.mu.Lock()
	m.factory = f
	m.mu.Unlock()
}

type enteredKey struct{ m *Mapper }

// Enter acquires the boundary lock for one call stream. Nested calls that
// pass the returned context do not wait again. Waiting honours ctx.
func (m *Mapper) Enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(enteredKey{m}) != nil {
		return ctx, func() {}, nil
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return ctx, nil, err
	}
	var once sync.Once
	release := func() { once.Do(func() { m.sem.Release(1) }) }
	return context.WithValue(ctx, enteredKey{m}, struct{}{}), release, nil
}

// Entered reports whether ctx already holds the boundary lock.
func (m *Mapper) Entered(ctx context.Context) bool {
	return ctx.Value(enteredKey{m}) != nil
}

// SetLastError stores err in the last-error slot.
func (m *Mapper) SetLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// LastError returns the pending error without clearing it.
func (m *Mapper) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// TakeLastError returns the pending error and clears the slot.
func (m *Mapper) TakeLastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.lastErr
	m.lastErr = nil
	return err
}

// ClearLastError clears the slot.
func (m *Mapper) ClearLastError() {
	m.SetLastError(nil)
}

// SetGCThreshold sets the number of allocations between bridge sweeps.
// Zero or less disables automatic sweeps.
func (m *Mapper) SetGCThreshold(n int) {
	m.gcThreshold.Store(int64(n))
}

// GCThreshold returns the current sweep threshold.
func (m *Mapper) GCThreshold() int {
	return int(m.gcThreshold.Load())
}

// Len returns the number of mapped addresses.
func (m *Mapper) Len() int { return m.ptrs.Len() }

// alloc allocates a zeroed block and counts it towards the sweep threshold.
func (m *Mapper) alloc(ctx context.Context, size uint32) (objbridge.Addr, error) {
	if threshold := m.gcThreshold.Load(); threshold > 0 && m.allocs.Add(1) >= threshold {
		m.allocs.Store(0)
		if err := m.Sweep(ctx); err != nil {
			Logger().Warn("bridge sweep failed", zap.Error(err))
		}
	}
	addr, err := m.heap.Alloc(size)
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseStore, size, err)
	}
	return addr, nil
}

// allocObject allocates an object of the given size with refcount 1.
func (m *Mapper) allocObject(ctx context.Context, size uint32, typ objbridge.Addr) (objbridge.Addr, error) {
	addr, err := m.alloc(ctx, size)
	if err != nil {
		return 0, err
	}
	if err := m.writeHeader(addr, 1, typ); err != nil {
		_ = m.heap.Free(addr)
		return 0, err
	}
	return addr, nil
}

func (m *Mapper) writeHeader(addr objbridge.Addr, refcnt int32, typ objbridge.Addr) error {
	v := memory.NewView(m.mem, memory.ObjectHead, addr)
	if err := v.WriteInt("ob_refcnt", refcnt); err != nil {
		return err
	}
	return v.WritePtr("ob_type", typ)
}

// RefCount reads ob_refcnt.
func (m *Mapper) RefCount(addr objbridge.Addr) (int32, error) {
	if addr == 0 {
		return 0, errors.NullReference(errors.PhaseMemory, "refcount of null object")
	}
	return memory.NewView(m.mem, memory.ObjectHead, addr).ReadInt("ob_refcnt")
}

// TypeOf reads ob_type.
func (m *Mapper) TypeOf(addr objbridge.Addr) (objbridge.Addr, error) {
	if addr == 0 {
		return 0, errors.NullReference(errors.PhaseMemory, "type of null object")
	}
	return memory.NewView(m.mem, memory.ObjectHead, addr).ReadPtr("ob_type")
}

// IncRef increments the refcount of addr. A null address is ignored.
func (m *Mapper) IncRef(ctx context.Context, addr objbridge.Addr) error {
	if addr == 0 {
		return nil
	}
	v := memory.NewView(m.mem, memory.ObjectHead, addr)
	n, err := v.ReadInt("ob_refcnt")
	if err != nil {
		return err
	}
	if err := v.WriteInt("ob_refcnt", n+1); err != nil {
		return err
	}
	m.ptrs.UpdateStrength(addr, n+1)
	return nil
}

// known reports whether addr is something DecRef may touch: a live heap
// block or an address the registry knows.
func (m *Mapper) known(addr objbridge.Addr) bool {
	if _, ok := m.heap.SizeOf(addr); ok {
		return true
	}
	if m.ptrs.HasPtr(addr) {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, static := m.statics[addr]
	return static
}

func (m *Mapper) isStatic(addr objbridge.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.statics[addr]
	return ok
}

// DecRef decrements the refcount of addr. At zero the registry entry is
// invalidated first and the object is then destroyed through its type's
// tp_dealloc. A null address is a no-op.
func (m *Mapper) DecRef(ctx context.Context, addr objbridge.Addr) error {
	if addr == 0 {
		return nil
	}
	if !m.known(addr) {
		return errors.New(errors.PhaseMemory, errors.KindNullReference).
			Value(uint32(addr)).
			Detail("DecRef of %#x, which is not a live object", uint32(addr)).
			Build()
	}
	v := memory.NewView(m.mem, memory.ObjectHead, addr)
	n, err := v.ReadInt("ob_refcnt")
	if err != nil {
		return err
	}
	if n <= 0 {
		return errors.New(errors.PhaseMemory, errors.KindNullReference).
			Value(uint32(addr)).
			Detail("DecRef of %#x with refcount %d", uint32(addr), n).
			Build()
	}
	n--
	if err := v.WriteInt("ob_refcnt", n); err != nil {
		return err
	}
	if n > 0 {
		m.ptrs.UpdateStrength(addr, n)
		return nil
	}
	if m.isStatic(addr) {
		Logger().Warn("static object refcount reached zero", zap.String("addr", fmt.Sprintf("%#x", uint32(addr))))
		return v.WriteInt("ob_refcnt", staticRefCount)
	}
	m.Unmap(addr)
	return m.dealloc(ctx, addr)
}

// Unmap invalidates every registry entry of addr. A live bridged wrapper is
// unbound.
func (m *Mapper) Unmap(addr objbridge.Addr) {
	if inst, ok := m.ptrs.Release(addr); ok && inst != nil && inst.ForeignPtr() == addr {
		inst.BindForeign(0)
	}
	m.mu.Lock()
	delete(m.unmanaged, addr)
	m.mu.Unlock()
}

// dealloc calls the object's tp_dealloc, or frees the block when the type
// has none.
func (m *Mapper) dealloc(ctx context.Context, addr objbridge.Addr) error {
	typ, err := m.TypeOf(addr)
	if err != nil {
		return err
	}
	var slot objbridge.Addr
	if typ != 0 {
		slot, err = memory.NewView(m.mem, memory.TypeObject, typ).ReadPtr("tp_dealloc")
		if err != nil {
			return err
		}
	}
	if slot == 0 {
		Logger().Debug("freeing object without tp_dealloc", zap.String("addr", fmt.Sprintf("%#x", uint32(addr))))
		return m.free(addr)
	}
	fn, err := apitable.Resolve[objbridge.DeallocFunc](m.code, slot)
	if err != nil {
		return err
	}
	fn(ctx, addr)
	return nil
}

// free returns a block to the heap.
func (m *Mapper) free(addr objbridge.Addr) error {
	if err := m.heap.Free(addr); err != nil {
		Logger().Warn("free failed", zap.String("addr", fmt.Sprintf("%#x", uint32(addr))), zap.Error(err))
		return err
	}
	return nil
}

// StoreUnmanagedData associates an object that native code allocated with a
// Go value. Bridged wrappers are bound and held weakly; other values are
// held strongly. The caller's reference passes to the wrapper.
func (m *Mapper) StoreUnmanagedData(ctx context.Context, addr objbridge.Addr, v any) error {
	if addr == 0 {
		return errors.NullReference(errors.PhaseStore, "associate value with null object")
	}
	m.mu.Lock()
	delete(m.unmanaged, addr)
	m.mu.Unlock()

	if b, ok := v.(object.Bridged); ok {
		inst, ok := b.(*object.Instance)
		if !ok {
			return errors.Unsupported(errors.PhaseStore, fmt.Sprintf("bridged wrapper %T", v))
		}
		inst.BindForeign(addr)
		m.ptrs.BridgeAssociate(addr, inst)
		n, err := m.RefCount(addr)
		if err != nil {
			return err
		}
		m.ptrs.UpdateStrength(addr, n)
		return nil
	}
	m.ptrs.Associate(addr, v)
	return nil
}

// markUnmanaged records a block that native code will fill in.
func (m *Mapper) markUnmanaged(addr objbridge.Addr) {
	m.mu.Lock()
	m.unmanaged[addr] = struct{}{}
	m.mu.Unlock()
}

func (m *Mapper) isUnmanaged(addr objbridge.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.unmanaged[addr]
	return ok
}

// RegisterClass associates a generated class with its type object. Type
// objects are static.
func (m *Mapper) RegisterClass(cls *object.Class) {
	m.ptrs.Associate(cls.Ptr, cls)
	m.mu.Lock()
	m.statics[cls.Ptr] = struct{}{}
	m.mu.Unlock()
}

// Sweep re-evaluates every bridge. Wrappers that were collected give back
// their foreign reference; wrappers that were unbound are dropped; the rest
// are held strongly or weakly according to the current refcount.
func (m *Mapper) Sweep(ctx context.Context) error {
	var firstErr error
	released := 0
	for _, ptr := range m.ptrs.BridgePtrs() {
		l := m.ptrs.Get(ptr)
		switch {
		case l.inst == nil:
			m.ptrs.Release(ptr)
			released++
			n, err := m.RefCount(ptr)
			if err == nil && n > 1 {
				m.markUnmanaged(ptr)
			}
			if err := m.DecRef(ctx, ptr); err != nil && firstErr == nil {
				firstErr = err
			}
		case l.inst.ForeignPtr() != ptr:
			m.ptrs.Release(ptr)
		default:
			n, err := m.RefCount(ptr)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			m.ptrs.UpdateStrength(ptr, n)
		}
	}
	Logger().Debug("bridge sweep", zap.Int("released", released), zap.Int("mapped", m.ptrs.Len()))
	return firstErr
}

// Close drops every association. Foreign memory itself belongs to the heap.
func (m *Mapper) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	clear(m.unmanaged)
	clear(m.statics)
	m.temps = [][]temp{nil}
	m.lastErr = nil
	m.mu.Unlock()
	m.ptrs.Reset()
	return nil
}
