package memory

import (
	"encoding/binary"

	objbridge "github.com/wippyai/objbridge"
)

// Linear is an in-process linear memory backed by a growable byte slice.
// It follows WebAssembly page semantics so the same heap code runs over a
// guest memory or a plain host buffer.
type Linear struct {
	buf      []byte
	maxPages uint32
}

var (
	_ objbridge.Memory       = (*Linear)(nil)
	_ objbridge.MemorySizer  = (*Linear)(nil)
	_ objbridge.MemoryGrower = (*Linear)(nil)
)

// NewLinear creates a memory with the given initial page count. A maxPages of
// zero means the 4GiB address space limit.
func NewLinear(pages, maxPages uint32) *Linear {
	if maxPages == 0 || maxPages > 65536 {
		maxPages = 65536
	}
	if pages > maxPages {
		pages = maxPages
	}
	return &Linear{
		buf:      make([]byte, uint64(pages)*objbridge.PageSize),
		maxPages: maxPages,
	}
}

// Size returns the current size in bytes.
func (m *Linear) Size() uint32 {
	return uint32(len(m.buf))
}

// Grow adds deltaPages zeroed pages and returns the previous page count.
func (m *Linear) Grow(deltaPages uint32) (uint32, bool) {
	prev := uint32(uint64(len(m.buf)) / objbridge.PageSize)
	if uint64(prev)+uint64(deltaPages) > uint64(m.maxPages) {
		return prev, false
	}
	if deltaPages == 0 {
		return prev, true
	}
	grown := make([]byte, uint64(prev+deltaPages)*objbridge.PageSize)
	copy(grown, m.buf)
	m.buf = grown
	return prev, true
}

func (m *Linear) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.buf)) {
		return accessError("access", offset, int(max(length, 1)))
	}
	return nil
}

// Read returns a copy of length bytes at offset.
func (m *Linear) Read(offset uint32, length uint32) ([]byte, error) {
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.buf[offset:])
	return out, nil
}

// Write copies data into memory at offset.
func (m *Linear) Write(offset uint32, data []byte) error {
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.buf[offset:], data)
	return nil
}

func (m *Linear) ReadU8(offset uint32) (uint8, error) {
	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m.buf[offset], nil
}

func (m *Linear) ReadU16(offset uint32) (uint16, error) {
	if err := m.check(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(m.buf[offset:]), nil
}

func (m *Linear) ReadU32(offset uint32) (uint32, error) {
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.buf[offset:]), nil
}

func (m *Linear) ReadU64(offset uint32) (uint64, error) {
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.buf[offset:]), nil
}

func (m *Linear) WriteU8(offset uint32, value uint8) error {
	if err := m.check(offset, 1); err != nil {
		return err
	}
	m.buf[offset] = value
	return nil
}

func (m *Linear) WriteU16(offset uint32, value uint16) error {
	if err := m.check(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(m.buf[offset:], value)
	return nil
}

func (m *Linear) WriteU32(offset uint32, value uint32) error {
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], value)
	return nil
}

func (m *Linear) WriteU64(offset uint32, value uint64) error {
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.buf[offset:], value)
	return nil
}
