package memory

import (
	"github.com/tetratelabs/wazero/api"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
)

// Wrap adapts a wazero guest memory to objbridge.Memory.
func Wrap(mem api.Memory) *Wrapper {
	if mem == nil {
		return nil
	}
	return &Wrapper{Mem: mem}
}

// Wrapper adapts wazero api.Memory to the objbridge.Memory interface.
type Wrapper struct {
	Mem api.Memory
}

var (
	_ objbridge.Memory       = (*Wrapper)(nil)
	_ objbridge.MemorySizer  = (*Wrapper)(nil)
	_ objbridge.MemoryGrower = (*Wrapper)(nil)
)

// Size returns the guest memory size in bytes.
func (m *Wrapper) Size() uint32 {
	return m.Mem.Size()
}

// Grow grows the guest memory by deltaPages.
func (m *Wrapper) Grow(deltaPages uint32) (uint32, bool) {
	return m.Mem.Grow(deltaPages)
}

// accessError reports an access outside the current memory size.
func accessError(op string, offset uint32, n int) error {
	return errors.New(errors.PhaseMemory, errors.KindOutOfBounds).
		Value(offset).
		Detail("%s of %d bytes at %#x outside memory", op, n, offset).
		Build()
}

// guard turns a wazero ok flag into an access error.
func guard(ok bool, op string, offset uint32, n int) error {
	if ok {
		return nil
	}
	return accessError(op, offset, max(n, 1))
}

// Read copies bytes out of the guest view, since a later Grow may move the
// underlying buffer.
func (m *Wrapper) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.Mem.Read(offset, length)
	if err := guard(ok, "read", offset, int(length)); err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// Write copies data into guest memory at offset.
func (m *Wrapper) Write(offset uint32, data []byte) error {
	return guard(m.Mem.Write(offset, data), "write", offset, len(data))
}

// ReadU8 reads a single byte.
func (m *Wrapper) ReadU8(offset uint32) (uint8, error) {
	v, ok := m.Mem.ReadByte(offset)
	return v, guard(ok, "read", offset, 1)
}

// ReadU16 reads an unsigned 16-bit little-endian value.
func (m *Wrapper) ReadU16(offset uint32) (uint16, error) {
	v, ok := m.Mem.ReadUint16Le(offset)
	return v, guard(ok, "read", offset, 2)
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Wrapper) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.Mem.ReadUint32Le(offset)
	return v, guard(ok, "read", offset, 4)
}

// ReadU64 reads an unsigned 64-bit little-endian value.
func (m *Wrapper) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.Mem.ReadUint64Le(offset)
	return v, guard(ok, "read", offset, 8)
}

// WriteU8 writes a single byte.
func (m *Wrapper) WriteU8(offset uint32, value uint8) error {
	return guard(m.Mem.WriteByte(offset, value), "write", offset, 1)
}

// WriteU16 writes an unsigned 16-bit little-endian value.
func (m *Wrapper) WriteU16(offset uint32, value uint16) error {
	return guard(m.Mem.WriteUint16Le(offset, value), "write", offset, 2)
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Wrapper) WriteU32(offset uint32, value uint32) error {
	return guard(m.Mem.WriteUint32Le(offset, value), "write", offset, 4)
}

// WriteU64 writes an unsigned 64-bit little-endian value.
func (m *Wrapper) WriteU64(offset uint32, value uint64) error {
	return guard(m.Mem.WriteUint64Le(offset, value), "write", offset, 8)
}
