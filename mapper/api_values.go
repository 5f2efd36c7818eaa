package mapper

import (
	"context"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

func (m *Mapper) intAsLong(ctx context.Context, o objbridge.Addr) int32 {
	v, err := m.Retrieve(ctx, o)
	if err != nil {
		return m.raiseInt(err)
	}
	switch x := v.(type) {
	case int64:
		return int32(x)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return m.raiseInt(object.TypeError.New("an integer is required"))
}

func (m *Mapper) floatAsDouble(ctx context.Context, o objbridge.Addr) float64 {
	v, err := m.Retrieve(ctx, o)
	if err != nil {
		return float64(m.raiseInt(err))
	}
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return float64(m.raiseInt(object.TypeError.New("a float is required")))
}

func (m *Mapper) stringFromString(ctx context.Context, p objbridge.Addr) objbridge.Addr {
	s, err := memory.ReadCString(m.mem, p)
	if err != nil {
		return m.raise(err)
	}
	return m.storeOrRaise(ctx, s)
}

// stringFromStringAndSize copies n bytes from p. With a null p it returns
// an uninitialised string of length n for native code to fill.
func (m *Mapper) stringFromStringAndSize(ctx context.Context, p objbridge.Addr, n int32) objbridge.Addr {
	if n < 0 {
		return m.raise(object.SystemError.New("Negative size passed to PyString_FromStringAndSize"))
	}
	if p != 0 {
		data, err := m.mem.Read(uint32(p), uint32(n))
		if err != nil {
			return m.raise(err)
		}
		return m.storeOrRaise(ctx, string(data))
	}
	addr, err := m.allocString(ctx, uint32(n))
	if err != nil {
		return m.raise(err)
	}
	m.markUnmanaged(addr)
	return addr
}

// stringResize shrinks or grows a string that native code is still
// building. *pv is updated when the object moves.
func (m *Mapper) stringResize(ctx context.Context, pv objbridge.Addr, n int32) int32 {
	if pv == 0 || n < 0 {
		return m.raiseInt(badInternalCall())
	}
	raw, err := m.mem.ReadU32(uint32(pv))
	if err != nil {
		return m.raiseInt(err)
	}
	addr := objbridge.Addr(raw)
	if !m.isUnmanaged(addr) || !m.hasType(addr, object.StrType) {
		return m.raiseInt(badInternalCall())
	}

	cur, err := memory.NewView(m.mem, memory.StringObject, addr).ReadInt("ob_size")
	if err != nil {
		return m.raiseInt(err)
	}
	if n > cur {
		moved, err := m.heap.Realloc(addr, memory.StringObject.Offset("ob_sval")+uint32(n)+1)
		if err != nil {
			return m.raiseInt(object.MemoryError.New(""))
		}
		if moved != addr {
			m.mu.Lock()
			delete(m.unmanaged, addr)
			m.unmanaged[moved] = struct{}{}
			m.mu.Unlock()
			addr = moved
			if err := m.mem.WriteU32(uint32(pv), uint32(addr)); err != nil {
				return m.raiseInt(err)
			}
		}
	}
	v := memory.NewView(m.mem, memory.StringObject, addr)
	if err := v.WriteInt("ob_size", n); err != nil {
		return m.raiseInt(err)
	}
	if err := m.mem.WriteU8(uint32(addr)+memory.StringObject.Offset("ob_sval")+uint32(n), 0); err != nil {
		return m.raiseInt(err)
	}
	return 0
}

func (m *Mapper) stringSize(ctx context.Context, o objbridge.Addr) int32 {
	if m.hasType(o, object.StrType) {
		n, err := memory.NewView(m.mem, memory.StringObject, o).ReadInt("ob_size")
		if err != nil {
			return m.raiseInt(err)
		}
		return n
	}
	v, err := m.Retrieve(ctx, o)
	if err != nil {
		return m.raiseInt(err)
	}
	if s, ok := v.(string); ok {
		return int32(len(s))
	}
	return m.raiseInt(object.TypeError.New("expected string"))
}

// stringAsString returns the character buffer of a string object. Values
// without an inline buffer get a copy that lives until the current call
// returns.
func (m *Mapper) stringAsString(ctx context.Context, o objbridge.Addr) objbridge.Addr {
	if m.hasType(o, object.StrType) {
		return o + objbridge.Addr(memory.StringObject.Offset("ob_sval"))
	}
	v, err := m.Retrieve(ctx, o)
	if err != nil {
		return m.raise(err)
	}
	s, ok := v.(string)
	if !ok {
		return m.raise(object.TypeError.New("expected string, %s found", object.TypeOf(v).Name))
	}
	buf, err := m.alloc(ctx, uint32(len(s)+1))
	if err != nil {
		return m.raise(err)
	}
	if err := memory.WriteCString(m.mem, buf, s); err != nil {
		_ = m.free(buf)
		return m.raise(err)
	}
	m.RegisterTempBuffer(buf)
	return buf
}
