package mapper

import (
	"context"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

func indexError(kind string) *object.Exception {
	return object.IndexError.New("%s index out of range", kind)
}

func (m *Mapper) tupleNew(ctx context.Context, n int32) objbridge.Addr {
	if n < 0 {
		return m.raise(badInternalCall())
	}
	addr, err := m.allocObject(ctx, memory.TupleObject.Size+uint32(n)*objbridge.PtrSize, m.TypeAddr(object.TupleType))
	if err != nil {
		return m.raise(err)
	}
	if err := memory.NewView(m.mem, memory.TupleObject, addr).WriteInt("ob_size", n); err != nil {
		return m.raise(err)
	}
	m.markUnmanaged(addr)
	return addr
}

// tupleSlot returns the address of item i, checking the bounds.
func (m *Mapper) tupleSlot(t objbridge.Addr, i int32) (uint32, error) {
	if err := m.checkType(t, object.TupleType); err != nil {
		return 0, err
	}
	n, err := memory.NewView(m.mem, memory.TupleObject, t).ReadInt("ob_size")
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= n {
		return 0, indexError("tuple")
	}
	return uint32(t) + memory.TupleObject.Offset("ob_item") + uint32(i)*objbridge.PtrSize, nil
}

// tupleSetItem steals the reference to item, even on failure. Only tuples
// still being built by native code may be written.
func (m *Mapper) tupleSetItem(ctx context.Context, t objbridge.Addr, i int32, item objbridge.Addr) int32 {
	slot, err := m.tupleSlot(t, i)
	if err == nil && !m.isUnmanaged(t) {
		err = badInternalCall()
	}
	if err != nil {
		_ = m.DecRef(ctx, item)
		return m.raiseInt(err)
	}
	old, err := m.mem.ReadU32(slot)
	if err != nil {
		return m.raiseInt(err)
	}
	if err := m.mem.WriteU32(slot, uint32(item)); err != nil {
		return m.raiseInt(err)
	}
	if err := m.DecRef(ctx, objbridge.Addr(old)); err != nil {
		return m.raiseInt(err)
	}
	return 0
}

// tupleGetItem returns a borrowed reference.
func (m *Mapper) tupleGetItem(t objbridge.Addr, i int32) objbridge.Addr {
	slot, err := m.tupleSlot(t, i)
	if err != nil {
		return m.raise(err)
	}
	p, err := m.mem.ReadU32(slot)
	if err != nil {
		return m.raise(err)
	}
	return objbridge.Addr(p)
}

func (m *Mapper) tupleSize(t objbridge.Addr) int32 {
	if err := m.checkType(t, object.TupleType); err != nil {
		return m.raiseInt(err)
	}
	n, err := memory.NewView(m.mem, memory.TupleObject, t).ReadInt("ob_size")
	if err != nil {
		return m.raiseInt(err)
	}
	return n
}

// releaseItems drops the references held by an item array.
func (m *Mapper) releaseItems(ctx context.Context, base uint32, n int32) error {
	var firstErr error
	for i := range n {
		p, err := m.mem.ReadU32(base + uint32(i)*objbridge.PtrSize)
		if err == nil {
			err = m.DecRef(ctx, objbridge.Addr(p))
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Mapper) tupleDealloc(ctx context.Context, t objbridge.Addr) {
	n, err := memory.NewView(m.mem, memory.TupleObject, t).ReadInt("ob_size")
	if err != nil {
		m.SetLastError(err)
		return
	}
	if err := m.releaseItems(ctx, uint32(t)+memory.TupleObject.Offset("ob_item"), n); err != nil {
		m.SetLastError(err)
	}
	if err := m.freeObject(ctx, t); err != nil {
		m.SetLastError(err)
	}
}

// listNew creates a list of n empty slots. Lists are associated with a Go
// *object.List at once and kept in step by the list API.
func (m *Mapper) listNew(ctx context.Context, n int32) objbridge.Addr {
	if n < 0 {
		return m.raise(badInternalCall())
	}
	addr, err := m.allocObject(ctx, memory.ListObject.Size, m.TypeAddr(object.ListType))
	if err != nil {
		return m.raise(err)
	}
	if err := m.fillList(ctx, addr, uint32(n)); err != nil {
		_ = m.free(addr)
		return m.raise(err)
	}
	m.ptrs.Associate(addr, &object.List{Items: make([]any, n)})
	return addr
}

// managedList returns the Go list mapped to l.
func (m *Mapper) managedList(ctx context.Context, l objbridge.Addr) (*object.List, error) {
	if err := m.checkType(l, object.ListType); err != nil {
		return nil, err
	}
	v, err := m.Retrieve(ctx, l)
	if err != nil {
		return nil, err
	}
	list, ok := v.(*object.List)
	if !ok {
		return nil, badInternalCall()
	}
	return list, nil
}

func (m *Mapper) listSlot(l objbridge.Addr, i int32) (uint32, error) {
	if err := m.checkType(l, object.ListType); err != nil {
		return 0, err
	}
	v := memory.NewView(m.mem, memory.ListObject, l)
	n, err := v.ReadInt("ob_size")
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= n {
		return 0, indexError("list assignment")
	}
	items, err := v.ReadPtr("ob_item")
	if err != nil {
		return 0, err
	}
	return uint32(items) + uint32(i)*objbridge.PtrSize, nil
}

// listSetItem steals the reference to item, even on failure.
func (m *Mapper) listSetItem(ctx context.Context, l objbridge.Addr, i int32, item objbridge.Addr) int32 {
	list, err := m.managedList(ctx, l)
	var slot uint32
	if err == nil {
		slot, err = m.listSlot(l, i)
	}
	var value any
	if err == nil {
		value, err = m.Retrieve(ctx, item)
	}
	if err != nil {
		_ = m.DecRef(ctx, item)
		return m.raiseInt(err)
	}
	old, err := m.mem.ReadU32(slot)
	if err != nil {
		return m.raiseInt(err)
	}
	if err := m.mem.WriteU32(slot, uint32(item)); err != nil {
		return m.raiseInt(err)
	}
	list.Items[i] = value
	if err := m.DecRef(ctx, objbridge.Addr(old)); err != nil {
		return m.raiseInt(err)
	}
	return 0
}

func (m *Mapper) listAppend(ctx context.Context, l, item objbridge.Addr) int32 {
	if item == 0 {
		return m.raiseInt(badInternalCall())
	}
	list, err := m.managedList(ctx, l)
	if err != nil {
		return m.raiseInt(err)
	}
	value, err := m.Retrieve(ctx, item)
	if err != nil {
		return m.raiseInt(err)
	}

	v := memory.NewView(m.mem, memory.ListObject, l)
	n, err := v.ReadInt("ob_size")
	if err != nil {
		return m.raiseInt(err)
	}
	allocated, err := v.ReadInt("allocated")
	if err != nil {
		return m.raiseInt(err)
	}
	items, err := v.ReadPtr("ob_item")
	if err != nil {
		return m.raiseInt(err)
	}
	if n >= allocated {
		allocated = max(2*allocated, 4)
		grown, err := m.heap.Realloc(items, uint32(allocated)*objbridge.PtrSize)
		if err != nil {
			return m.raiseInt(object.MemoryError.New(""))
		}
		items = grown
		if err := v.WritePtr("ob_item", items); err != nil {
			return m.raiseInt(err)
		}
		if err := v.WriteInt("allocated", allocated); err != nil {
			return m.raiseInt(err)
		}
	}
	if err := m.IncRef(ctx, item); err != nil {
		return m.raiseInt(err)
	}
	if err := m.mem.WriteU32(uint32(items)+uint32(n)*objbridge.PtrSize, uint32(item)); err != nil {
		return m.raiseInt(err)
	}
	if err := v.WriteInt("ob_size", n+1); err != nil {
		return m.raiseInt(err)
	}
	list.Append(value)
	return 0
}

// listGetItem returns a borrowed reference.
func (m *Mapper) listGetItem(l objbridge.Addr, i int32) objbridge.Addr {
	slot, err := m.listSlot(l, i)
	if err != nil {
		if exc, ok := err.(*object.Exception); ok && exc.Type == object.IndexError {
			err = indexError("list")
		}
		return m.raise(err)
	}
	p, err := m.mem.ReadU32(slot)
	if err != nil {
		return m.raise(err)
	}
	return objbridge.Addr(p)
}

func (m *Mapper) listSize(l objbridge.Addr) int32 {
	if err := m.checkType(l, object.ListType); err != nil {
		return m.raiseInt(err)
	}
	n, err := memory.NewView(m.mem, memory.ListObject, l).ReadInt("ob_size")
	if err != nil {
		return m.raiseInt(err)
	}
	return n
}

func (m *Mapper) listDealloc(ctx context.Context, l objbridge.Addr) {
	v := memory.NewView(m.mem, memory.ListObject, l)
	n, err := v.ReadInt("ob_size")
	if err != nil {
		m.SetLastError(err)
		return
	}
	items, err := v.ReadPtr("ob_item")
	if err != nil {
		m.SetLastError(err)
		return
	}
	if items != 0 {
		if err := m.releaseItems(ctx, uint32(items), n); err != nil {
			m.SetLastError(err)
		}
		if err := m.free(items); err != nil {
			m.SetLastError(err)
		}
	}
	if err := m.freeObject(ctx, l); err != nil {
		m.SetLastError(err)
	}
}

// managedDict returns the Go dict mapped to d.
func (m *Mapper) managedDict(ctx context.Context, d objbridge.Addr) (*object.Dict, error) {
	v, err := m.Retrieve(ctx, d)
	if err != nil {
		return nil, err
	}
	dict, ok := v.(*object.Dict)
	if !ok {
		return nil, badInternalCall()
	}
	return dict, nil
}

func (m *Mapper) dictSet(d *object.Dict, key, value any) int32 {
	if err := d.Set(key, value); err != nil {
		return m.raiseInt(object.TypeError.New("unhashable type: '%s'", object.TypeOf(key).Name))
	}
	return 0
}

func (m *Mapper) dictSetItem(ctx context.Context, d, k, v objbridge.Addr) int32 {
	dict, err := m.managedDict(ctx, d)
	if err != nil {
		return m.raiseInt(err)
	}
	key, err := m.Retrieve(ctx, k)
	if err != nil {
		return m.raiseInt(err)
	}
	value, err := m.Retrieve(ctx, v)
	if err != nil {
		return m.raiseInt(err)
	}
	return m.dictSet(dict, key, value)
}

func (m *Mapper) dictSetItemString(ctx context.Context, d, k, v objbridge.Addr) int32 {
	dict, err := m.managedDict(ctx, d)
	if err != nil {
		return m.raiseInt(err)
	}
	key, err := memory.ReadCString(m.mem, k)
	if err != nil {
		return m.raiseInt(err)
	}
	value, err := m.Retrieve(ctx, v)
	if err != nil {
		return m.raiseInt(err)
	}
	return m.dictSet(dict, key, value)
}

// dictGetItemString returns a borrowed reference, or 0 without an error
// when the key is missing. The reference is kept alive until the current
// call returns.
func (m *Mapper) dictGetItemString(ctx context.Context, d, k objbridge.Addr) objbridge.Addr {
	dict, err := m.managedDict(ctx, d)
	if err != nil {
		return m.raise(err)
	}
	key, err := memory.ReadCString(m.mem, k)
	if err != nil {
		return m.raise(err)
	}
	value, ok := dict.Get(key)
	if !ok {
		return 0
	}
	addr, err := m.Store(ctx, value)
	if err != nil {
		return m.raise(err)
	}
	m.RegisterTempRef(addr)
	return addr
}

func (m *Mapper) dictSize(ctx context.Context, d objbridge.Addr) int32 {
	dict, err := m.managedDict(ctx, d)
	if err != nil {
		return m.raiseInt(err)
	}
	return int32(dict.Len())
}
