package mapper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/apitable"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

func badInternalCall() *object.Exception {
	return object.SystemError.New("bad argument to internal function")
}

// storeOrRaise stores v and returns the new reference, or records the error
// and returns 0.
func (m *Mapper) storeOrRaise(ctx context.Context, v any) objbridge.Addr {
	addr, err := m.Store(ctx, v)
	if err != nil {
		return m.raise(err)
	}
	return addr
}

// hasType reports whether the object at addr is an instance of t or of a
// subtype.
func (m *Mapper) hasType(addr objbridge.Addr, t *object.Type) bool {
	if addr == 0 {
		return false
	}
	typ, err := m.TypeOf(addr)
	if err != nil || typ == 0 {
		return false
	}
	ok, err := m.IsSubtype(typ, m.TypeAddr(t))
	return err == nil && ok
}

func (m *Mapper) memMalloc(ctx context.Context, n int32) objbridge.Addr {
	if n < 0 {
		return m.raise(object.MemoryError.New(""))
	}
	addr, err := m.alloc(ctx, uint32(n))
	if err != nil {
		return m.raise(object.MemoryError.New(""))
	}
	return addr
}

func (m *Mapper) memRealloc(ctx context.Context, p objbridge.Addr, n int32) objbridge.Addr {
	if p == 0 {
		return m.memMalloc(ctx, n)
	}
	if n < 0 {
		return m.raise(object.MemoryError.New(""))
	}
	addr, err := m.heap.Realloc(p, uint32(n))
	if err != nil {
		return m.raise(object.MemoryError.New(""))
	}
	return addr
}

func (m *Mapper) memFree(p objbridge.Addr) {
	if p == 0 {
		return
	}
	if err := m.free(p); err != nil {
		m.SetLastError(err)
	}
}

// baseObjectDealloc releases an object through its type's tp_free.
func (m *Mapper) baseObjectDealloc(ctx context.Context, addr objbridge.Addr) {
	if err := m.freeObject(ctx, addr); err != nil {
		m.SetLastError(err)
	}
}

func (m *Mapper) freeObject(ctx context.Context, addr objbridge.Addr) error {
	typ, err := m.TypeOf(addr)
	if err != nil {
		return err
	}
	var slot objbridge.Addr
	if typ != 0 {
		if slot, err = memory.NewView(m.mem, memory.TypeObject, typ).ReadPtr("tp_free"); err != nil {
			return err
		}
	}
	if slot == 0 {
		return m.free(addr)
	}
	fn, err := apitable.Resolve[objbridge.DeallocFunc](m.code, slot)
	if err != nil {
		return err
	}
	fn(ctx, addr)
	return nil
}

// typeGenericAlloc allocates an instance of typ with room for nitems
// items. The block belongs to native code until it is associated.
func (m *Mapper) typeGenericAlloc(ctx context.Context, typ objbridge.Addr, nitems int32) objbridge.Addr {
	if typ == 0 || nitems < 0 {
		return m.raise(badInternalCall())
	}
	v := memory.NewView(m.mem, memory.TypeObject, typ)
	basic, err := v.ReadInt("tp_basicsize")
	if err != nil {
		return m.raise(err)
	}
	item, err := v.ReadInt("tp_itemsize")
	if err != nil {
		return m.raise(err)
	}
	size := uint32(basic) + uint32(item)*uint32(nitems)
	addr, err := m.allocObject(ctx, max(size, memory.ObjectHead.Size), typ)
	if err != nil {
		return m.raise(err)
	}
	if item > 0 {
		if err := memory.NewView(m.mem, memory.VarObjectHead, addr).WriteInt("ob_size", nitems); err != nil {
			return m.raise(err)
		}
	}
	m.markUnmanaged(addr)
	return addr
}

// typeGenericNew allocates through the type's tp_alloc.
func (m *Mapper) typeGenericNew(ctx context.Context, typ objbridge.Addr) objbridge.Addr {
	if typ == 0 {
		return m.raise(badInternalCall())
	}
	slot, err := memory.NewView(m.mem, memory.TypeObject, typ).ReadPtr("tp_alloc")
	if err != nil {
		return m.raise(err)
	}
	if slot == 0 {
		return m.typeGenericAlloc(ctx, typ, 0)
	}
	alloc, err := apitable.Resolve[objbridge.AllocFunc](m.code, slot)
	if err != nil {
		return m.raise(err)
	}
	return alloc(ctx, typ, 0)
}

func (m *Mapper) typeIsSubtype(a, b objbridge.Addr) int32 {
	ok, err := m.IsSubtype(a, b)
	if err != nil {
		m.SetLastError(err)
		return 0
	}
	if ok {
		return 1
	}
	return 0
}

// objectCall calls a managed callable with a stored argument tuple and
// optional keyword dict.
func (m *Mapper) objectCall(ctx context.Context, callable, argsPtr, kwargsPtr objbridge.Addr) objbridge.Addr {
	fn, err := m.Retrieve(ctx, callable)
	if err != nil {
		return m.raise(err)
	}
	var args []any
	if argsPtr != 0 {
		v, err := m.Retrieve(ctx, argsPtr)
		if err != nil {
			return m.raise(err)
		}
		t, ok := v.(*object.Tuple)
		if !ok {
			return m.raise(object.TypeError.New("argument list must be a tuple"))
		}
		args = t.Items
	}
	var kwargs *object.Dict
	if kwargsPtr != 0 {
		v, err := m.Retrieve(ctx, kwargsPtr)
		if err != nil {
			return m.raise(err)
		}
		d, ok := v.(*object.Dict)
		if !ok {
			return m.raise(object.TypeError.New("keyword list must be a dict"))
		}
		kwargs = d
	}

	var result any
	switch f := fn.(type) {
	case *object.Function:
		result, err = f.CallKw(ctx, args, kwargs)
	case *object.Class:
		result, err = f.New(ctx, args, kwargs)
	case *object.Instance:
		result, err = f.CallKw(ctx, "__call__", args, kwargs)
	default:
		err = object.TypeError.New("'%s' object is not callable", object.TypeOf(fn).Name)
	}
	if err != nil {
		Logger().Debug("managed call failed", zap.String("callable", fmt.Sprint(fn)), zap.Error(err))
		return m.raise(err)
	}
	return m.storeOrRaise(ctx, result)
}

// checkType returns a SystemError unless addr is an instance of t.
func (m *Mapper) checkType(addr objbridge.Addr, t *object.Type) error {
	if !m.hasType(addr, t) {
		return badInternalCall()
	}
	return nil
}
