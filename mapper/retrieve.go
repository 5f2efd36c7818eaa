package mapper

import (
	"context"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

// Retrieve returns the Go value for a foreign object without taking a
// reference. The null address is None. Objects allocated by native code are
// converted on first retrieval and stay associated afterwards.
func (m *Mapper) Retrieve(ctx context.Context, addr objbridge.Addr) (any, error) {
	if addr == 0 {
		return nil, nil
	}
	l := m.ptrs.Get(addr)
	if l.found {
		if !l.bridge {
			return l.value, nil
		}
		if l.inst != nil && l.inst.ForeignPtr() == addr {
			return l.inst, nil
		}
		return m.revive(ctx, addr, l.inst == nil)
	}
	if m.isUnmanaged(addr) {
		return m.actualise(ctx, addr)
	}
	return nil, errors.LookupFailed(errors.PhaseRetrieve, uint32(addr))
}

// Has reports whether addr is mapped to a Go value.
func (m *Mapper) Has(addr objbridge.Addr) bool {
	return m.ptrs.HasPtr(addr)
}

// revive binds a fresh wrapper to a bridged object whose wrapper is gone.
// A collected wrapper still owns its reference, which the new one takes
// over; an unbound wrapper already gave its reference back.
func (m *Mapper) revive(ctx context.Context, addr objbridge.Addr, collected bool) (any, error) {
	typ, err := m.TypeOf(addr)
	if err != nil {
		return nil, err
	}
	cls, err := m.classFor(ctx, typ)
	if err != nil {
		return nil, err
	}
	if !collected {
		if err := m.IncRef(ctx, addr); err != nil {
			return nil, err
		}
	}
	inst := object.NewInstance(cls, addr)
	if err := m.StoreUnmanagedData(ctx, addr, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// classFor returns the class generated for a type object.
func (m *Mapper) classFor(ctx context.Context, typ objbridge.Addr) (*object.Class, error) {
	if cls, ok := m.ptrs.Get(typ).value.(*object.Class); ok {
		return cls, nil
	}
	m.mu.Lock()
	factory := m.factory
	m.mu.Unlock()
	if factory == nil {
		return nil, errors.LookupFailed(errors.PhaseRetrieve, uint32(typ))
	}
	return factory(ctx, typ)
}

// actualise converts an object that native code built into a Go value.
func (m *Mapper) actualise(ctx context.Context, addr objbridge.Addr) (any, error) {
	typ, err := m.TypeOf(addr)
	if err != nil {
		return nil, err
	}

	if typ == 0 {
		return nil, errors.InvalidData(errors.PhaseRetrieve, []string{"ob_type"}, "object has no type")
	}

	var v any
	switch typ {
	case m.TypeAddr(object.TupleType):
		items, err := m.retrieveItems(ctx, addr, memory.TupleObject, uint32(addr)+memory.TupleObject.Offset("ob_item"))
		if err != nil {
			return nil, err
		}
		v = object.NewTuple(items...)
	case m.TypeAddr(object.ListType):
		base, err := memory.NewView(m.mem, memory.ListObject, addr).ReadPtr("ob_item")
		if err != nil {
			return nil, err
		}
		items, err := m.retrieveItems(ctx, addr, memory.ListObject, uint32(base))
		if err != nil {
			return nil, err
		}
		v = object.NewList(items...)
	case m.TypeAddr(object.StrType):
		s, err := m.readString(addr)
		if err != nil {
			return nil, err
		}
		v = s
	case m.TypeAddr(object.IntType):
		n, err := memory.NewView(m.mem, memory.IntObject, addr).ReadInt("ob_ival")
		if err != nil {
			return nil, err
		}
		v = int64(n)
	case m.TypeAddr(object.FloatType):
		f, err := memory.NewView(m.mem, memory.FloatObject, addr).ReadFloat64("ob_fval")
		if err != nil {
			return nil, err
		}
		v = f
	case m.TypeAddr(object.DictType):
		v = object.NewDict()
	default:
		cls, err := m.classFor(ctx, typ)
		if err != nil {
			return nil, err
		}
		if err := m.IncRef(ctx, addr); err != nil {
			return nil, err
		}
		inst := object.NewInstance(cls, addr)
		if err := m.StoreUnmanagedData(ctx, addr, inst); err != nil {
			return nil, err
		}
		return inst, nil
	}
	if err := m.StoreUnmanagedData(ctx, addr, v); err != nil {
		return nil, err
	}
	return v, nil
}

// retrieveItems reads ob_size item pointers starting at base. Empty slots
// read as None.
func (m *Mapper) retrieveItems(ctx context.Context, addr objbridge.Addr, layout *memory.Layout, base uint32) ([]any, error) {
	n, err := memory.NewView(m.mem, layout, addr).ReadInt("ob_size")
	if err != nil {
		return nil, err
	}
	items := make([]any, n)
	for i := range items {
		p, err := m.mem.ReadU32(base + uint32(i)*objbridge.PtrSize)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRetrieve, errors.KindOutOfBounds, err, "read item")
		}
		if items[i], err = m.Retrieve(ctx, objbridge.Addr(p)); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// readString reads the characters of a string object.
func (m *Mapper) readString(addr objbridge.Addr) (string, error) {
	n, err := memory.NewView(m.mem, memory.StringObject, addr).ReadInt("ob_size")
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", errors.InvalidData(errors.PhaseRetrieve, []string{"ob_size"}, "negative string size")
	}
	data, err := m.mem.Read(uint32(addr)+memory.StringObject.Offset("ob_sval"), uint32(n))
	if err != nil {
		return "", errors.Wrap(errors.PhaseRetrieve, errors.KindOutOfBounds, err, "read string data")
	}
	return string(data), nil
}
