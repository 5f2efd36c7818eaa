package memory

import (
	"math"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
)

// Field is a named member of a fixed struct layout.
type Field struct {
	Name   string
	Offset uint32
	Size   uint32
}

// Layout describes a foreign struct by field name.
type Layout struct {
	fields map[string]Field
	Name   string
	Fields []Field
	Size   uint32
}

// NewLayout builds a layout. When size is zero it is taken from the end of
// the last field.
func NewLayout(name string, size uint32, fields ...Field) *Layout {
	l := &Layout{
		Name:   name,
		Fields: fields,
		fields: make(map[string]Field, len(fields)),
	}
	var end uint32
	for _, f := range fields {
		l.fields[f.Name] = f
		end = max(end, f.Offset+f.Size)
	}
	if size == 0 {
		size = end
	}
	l.Size = size
	return l
}

// Extend returns a layout that starts with all of l's fields.
func (l *Layout) Extend(name string, size uint32, fields ...Field) *Layout {
	all := make([]Field, 0, len(l.Fields)+len(fields))
	all = append(all, l.Fields...)
	all = append(all, fields...)
	return NewLayout(name, size, all...)
}

// Field looks up a field by name.
func (l *Layout) Field(name string) (Field, bool) {
	f, ok := l.fields[name]
	return f, ok
}

// Offset returns a field offset. It panics on an unknown field, since
// layouts are static tables and a bad name is a programming error.
func (l *Layout) Offset(name string) uint32 {
	f, ok := l.fields[name]
	if !ok {
		panic("memory: layout " + l.Name + " has no field " + name)
	}
	return f.Offset
}

// View gives named field access to one struct instance in memory.
type View struct {
	Mem    objbridge.Memory
	Layout *Layout
	Addr   objbridge.Addr
}

// NewView creates a view of the struct at addr.
func NewView(mem objbridge.Memory, layout *Layout, addr objbridge.Addr) View {
	return View{Mem: mem, Layout: layout, Addr: addr}
}

func (v View) at(name string, size uint32) (uint32, error) {
	f, ok := v.Layout.fields[name]
	if !ok {
		return 0, errors.NotFound(errors.PhaseMemory, "field", v.Layout.Name+"."+name)
	}
	if f.Size != size {
		return 0, errors.New(errors.PhaseMemory, errors.KindTypeMismatch).
			Path(v.Layout.Name, name).
			Detail("field is %d bytes, accessed as %d", f.Size, size).
			Build()
	}
	return uint32(v.Addr) + f.Offset, nil
}

func wrapAccess(err error, v View, name string) error {
	return errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
		Path(v.Layout.Name, name).
		Value(uint32(v.Addr)).
		Cause(err).
		Build()
}

// ReadInt reads a 32-bit signed field.
func (v View) ReadInt(name string) (int32, error) {
	off, err := v.at(name, 4)
	if err != nil {
		return 0, err
	}
	u, err := v.Mem.ReadU32(off)
	if err != nil {
		return 0, wrapAccess(err, v, name)
	}
	return int32(u), nil
}

// WriteInt writes a 32-bit signed field.
func (v View) WriteInt(name string, value int32) error {
	off, err := v.at(name, 4)
	if err != nil {
		return err
	}
	if err := v.Mem.WriteU32(off, uint32(value)); err != nil {
		return wrapAccess(err, v, name)
	}
	return nil
}

// ReadPtr reads a pointer field.
func (v View) ReadPtr(name string) (objbridge.Addr, error) {
	off, err := v.at(name, objbridge.PtrSize)
	if err != nil {
		return 0, err
	}
	u, err := v.Mem.ReadU32(off)
	if err != nil {
		return 0, wrapAccess(err, v, name)
	}
	return objbridge.Addr(u), nil
}

// WritePtr writes a pointer field.
func (v View) WritePtr(name string, value objbridge.Addr) error {
	off, err := v.at(name, objbridge.PtrSize)
	if err != nil {
		return err
	}
	if err := v.Mem.WriteU32(off, uint32(value)); err != nil {
		return wrapAccess(err, v, name)
	}
	return nil
}

// ReadInt64 reads a 64-bit signed field.
func (v View) ReadInt64(name string) (int64, error) {
	off, err := v.at(name, 8)
	if err != nil {
		return 0, err
	}
	u, err := v.Mem.ReadU64(off)
	if err != nil {
		return 0, wrapAccess(err, v, name)
	}
	return int64(u), nil
}

// WriteInt64 writes a 64-bit signed field.
func (v View) WriteInt64(name string, value int64) error {
	off, err := v.at(name, 8)
	if err != nil {
		return err
	}
	if err := v.Mem.WriteU64(off, uint64(value)); err != nil {
		return wrapAccess(err, v, name)
	}
	return nil
}

// ReadFloat64 reads a double field.
func (v View) ReadFloat64(name string) (float64, error) {
	off, err := v.at(name, 8)
	if err != nil {
		return 0, err
	}
	u, err := v.Mem.ReadU64(off)
	if err != nil {
		return 0, wrapAccess(err, v, name)
	}
	return math.Float64frombits(u), nil
}

// WriteFloat64 writes a double field.
func (v View) WriteFloat64(name string, value float64) error {
	off, err := v.at(name, 8)
	if err != nil {
		return err
	}
	if err := v.Mem.WriteU64(off, math.Float64bits(value)); err != nil {
		return wrapAccess(err, v, name)
	}
	return nil
}

// FieldAddr returns the absolute address of a field.
func (v View) FieldAddr(name string) (objbridge.Addr, error) {
	f, ok := v.Layout.fields[name]
	if !ok {
		return 0, errors.NotFound(errors.PhaseMemory, "field", v.Layout.Name+"."+name)
	}
	return v.Addr + objbridge.Addr(f.Offset), nil
}

// ReadCString reads a NUL-terminated string. Reading stops at the end of
// memory if no terminator is found.
func ReadCString(mem objbridge.Memory, addr objbridge.Addr) (string, error) {
	if addr == 0 {
		return "", errors.NullReference(errors.PhaseMemory, "read string at null address")
	}
	const chunk = 64
	var out []byte
	off := uint32(addr)
	for {
		n := uint32(chunk)
		if sizer, ok := mem.(objbridge.MemorySizer); ok {
			size := sizer.Size()
			if off >= size {
				return "", errors.OutOfBounds(errors.PhaseMemory, nil, int(off), int(size))
			}
			n = min(n, size-off)
		}
		buf, err := mem.Read(off, n)
		if err != nil {
			return "", errors.Wrap(errors.PhaseMemory, errors.KindOutOfBounds, err, "read string")
		}
		for i, b := range buf {
			if b == 0 {
				return string(append(out, buf[:i]...)), nil
			}
		}
		out = append(out, buf...)
		off += n
	}
}

// WriteCString writes s followed by a NUL byte.
func WriteCString(mem objbridge.Memory, addr objbridge.Addr, s string) error {
	if addr == 0 {
		return errors.NullReference(errors.PhaseMemory, "write string at null address")
	}
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	if err := mem.Write(uint32(addr), buf); err != nil {
		return errors.Wrap(errors.PhaseMemory, errors.KindOutOfBounds, err, "write string")
	}
	return nil
}
