package mapper

import (
	"context"
	"fmt"
	"math"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

// Store returns a new reference to the foreign object for v. A value that
// is already mapped gets its refcount bumped and keeps its address;
// otherwise a foreign object is allocated, filled and registered with
// refcount 1.
func (m *Mapper) Store(ctx context.Context, v any) (objbridge.Addr, error) {
	if !m.isReady() {
		return 0, errors.NotInitialized(errors.PhaseStore, "builtin types")
	}
	v = object.Normalize(v)

	switch x := v.(type) {
	case nil:
		return m.storeStatic(ctx, m.NoneAddr())
	case bool:
		m.mu.Lock()
		addr := m.falseAddr
		if x {
			addr = m.trueAddr
		}
		m.mu.Unlock()
		return m.storeStatic(ctx, addr)
	case *object.Instance:
		ptr := x.ForeignPtr()
		if ptr == 0 {
			return 0, errors.NullReference(errors.PhaseStore, "store of unbound %s instance", x.Class.Name)
		}
		if _, ok := m.ptrs.GetPtr(x); !ok {
			return 0, errors.LookupFailed(errors.PhaseStore, uint32(ptr))
		}
		return m.storeStatic(ctx, ptr)
	case *object.ExceptionType:
		addr, err := m.exceptionTypeAddr(ctx, x)
		if err != nil {
			return 0, err
		}
		return m.storeStatic(ctx, addr)
	case *object.Class:
		if x.Ptr == 0 {
			return 0, errors.Unsupported(errors.PhaseStore, "class "+x.Name+" has no type object")
		}
		if !m.ptrs.HasPtr(x.Ptr) {
			m.RegisterClass(x)
		}
		return m.storeStatic(ctx, x.Ptr)
	}

	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return m.storeNew(ctx, v)
	}
	if !identityKey(v) {
		return 0, errors.New(errors.PhaseStore, errors.KindUnsupported).
			GoType(fmt.Sprintf("%T", v)).
			Detail("value is not hashable").
			Build()
	}
	if addr, ok := m.ptrs.GetPtr(v); ok {
		return m.storeStatic(ctx, addr)
	}
	return m.storeNew(ctx, v)
}

// storeStatic returns a new reference to an existing object.
func (m *Mapper) storeStatic(ctx context.Context, addr objbridge.Addr) (objbridge.Addr, error) {
	if addr == 0 {
		return 0, errors.NotInitialized(errors.PhaseStore, "static object")
	}
	if err := m.IncRef(ctx, addr); err != nil {
		return 0, err
	}
	return addr, nil
}

// storeNew allocates and registers a foreign object for v.
func (m *Mapper) storeNew(ctx context.Context, v any) (objbridge.Addr, error) {
	var (
		addr objbridge.Addr
		err  error
	)
	switch x := v.(type) {
	case int64:
		addr, err = m.storeInt(ctx, x)
	case float64:
		addr, err = m.storeFloat(ctx, x)
	case string:
		addr, err = m.storeString(ctx, x)
	case *object.Tuple:
		addr, err = m.storeTuple(ctx, x)
	case *object.List:
		addr, err = m.storeList(ctx, x)
	case *object.Type:
		return 0, errors.Unsupported(errors.PhaseStore, "type "+x.Name+" has no type object")
	default:
		addr, err = m.allocObject(ctx, memory.ObjectHead.Size, m.TypeAddr(object.TypeOf(v)))
	}
	if err != nil {
		return 0, err
	}
	m.ptrs.Associate(addr, v)
	return addr, nil
}

func (m *Mapper) storeInt(ctx context.Context, x int64) (objbridge.Addr, error) {
	if x < math.MinInt32 || x > math.MaxInt32 {
		return 0, errors.New(errors.PhaseStore, errors.KindOutOfBounds).
			GoType("int64").
			ABIType("long").
			Value(x).
			Detail("%d does not fit in a 32-bit long", x).
			Build()
	}
	addr, err := m.allocObject(ctx, memory.IntObject.Size, m.TypeAddr(object.IntType))
	if err != nil {
		return 0, err
	}
	if err := memory.NewView(m.mem, memory.IntObject, addr).WriteInt("ob_ival", int32(x)); err != nil {
		_ = m.free(addr)
		return 0, err
	}
	return addr, nil
}

func (m *Mapper) storeFloat(ctx context.Context, x float64) (objbridge.Addr, error) {
	addr, err := m.allocObject(ctx, memory.FloatObject.Size, m.TypeAddr(object.FloatType))
	if err != nil {
		return 0, err
	}
	if err := memory.NewView(m.mem, memory.FloatObject, addr).WriteFloat64("ob_fval", x); err != nil {
		_ = m.free(addr)
		return 0, err
	}
	return addr, nil
}

// allocString allocates a string object with room for n characters plus
// the terminator.
func (m *Mapper) allocString(ctx context.Context, n uint32) (objbridge.Addr, error) {
	size := memory.StringObject.Offset("ob_sval") + n + 1
	addr, err := m.allocObject(ctx, size, m.TypeAddr(object.StrType))
	if err != nil {
		return 0, err
	}
	v := memory.NewView(m.mem, memory.StringObject, addr)
	if err := v.WriteInt("ob_size", int32(n)); err != nil {
		_ = m.free(addr)
		return 0, err
	}
	if err := v.WriteInt("ob_shash", -1); err != nil {
		_ = m.free(addr)
		return 0, err
	}
	return addr, nil
}

func (m *Mapper) storeString(ctx context.Context, s string) (objbridge.Addr, error) {
	addr, err := m.allocString(ctx, uint32(len(s)))
	if err != nil {
		return 0, err
	}
	sval := uint32(addr) + memory.StringObject.Offset("ob_sval")
	if err := m.mem.Write(sval, []byte(s)); err != nil {
		_ = m.free(addr)
		return 0, errors.Wrap(errors.PhaseStore, errors.KindOutOfBounds, err, "write string data")
	}
	return addr, nil
}

// storeItems stores each item and writes the new references to the pointer
// array at base. On failure the references already taken are released.
func (m *Mapper) storeItems(ctx context.Context, base uint32, items []any) error {
	for i, item := range items {
		p, err := m.Store(ctx, item)
		if err == nil {
			err = m.mem.WriteU32(base+uint32(i)*objbridge.PtrSize, uint32(p))
		}
		if err != nil {
			for j := range i {
				prev, _ := m.mem.ReadU32(base + uint32(j)*objbridge.PtrSize)
				_ = m.DecRef(ctx, objbridge.Addr(prev))
			}
			return err
		}
	}
	return nil
}

func (m *Mapper) storeTuple(ctx context.Context, t *object.Tuple) (objbridge.Addr, error) {
	n := uint32(len(t.Items))
	addr, err := m.allocObject(ctx, memory.TupleObject.Size+n*objbridge.PtrSize, m.TypeAddr(object.TupleType))
	if err != nil {
		return 0, err
	}
	v := memory.NewView(m.mem, memory.TupleObject, addr)
	if err := v.WriteInt("ob_size", int32(n)); err != nil {
		return 0, err
	}
	if err := m.storeItems(ctx, uint32(addr)+memory.TupleObject.Offset("ob_item"), t.Items); err != nil {
		_ = m.free(addr)
		return 0, err
	}
	return addr, nil
}

func (m *Mapper) storeList(ctx context.Context, l *object.List) (objbridge.Addr, error) {
	addr, err := m.allocObject(ctx, memory.ListObject.Size, m.TypeAddr(object.ListType))
	if err != nil {
		return 0, err
	}
	n := uint32(len(l.Items))
	if err := m.fillList(ctx, addr, n); err != nil {
		_ = m.free(addr)
		return 0, err
	}
	items, _ := memory.NewView(m.mem, memory.ListObject, addr).ReadPtr("ob_item")
	if err := m.storeItems(ctx, uint32(items), l.Items); err != nil {
		if items != 0 {
			_ = m.free(items)
		}
		_ = m.free(addr)
		return 0, err
	}
	return addr, nil
}

// fillList allocates the item array of a list object with n zeroed slots.
func (m *Mapper) fillList(ctx context.Context, addr objbridge.Addr, n uint32) error {
	v := memory.NewView(m.mem, memory.ListObject, addr)
	var items objbridge.Addr
	if n > 0 {
		var err error
		if items, err = m.alloc(ctx, n*objbridge.PtrSize); err != nil {
			return err
		}
	}
	if err := v.WritePtr("ob_item", items); err != nil {
		return err
	}
	if err := v.WriteInt("ob_size", int32(n)); err != nil {
		return err
	}
	return v.WriteInt("allocated", int32(n))
}
