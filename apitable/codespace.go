package apitable

import (
	"fmt"
	"sync"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
)

// CodeBase is the tag bit of addresses in the Go code space. Guest function
// pointers are small table indices and never carry it.
const CodeBase objbridge.Addr = 0x80000000

// IsCode reports whether addr names a Go function in a CodeSpace.
func IsCode(addr objbridge.Addr) bool {
	return addr&CodeBase != 0 && addr != CodeBase
}

// Dynamic resolves a function pointer that is not in the code space, such as
// a guest table index, to a callable of the requested signature.
type Dynamic func(addr objbridge.Addr, sig Sig) (any, error)

// CodeSpace hands out function-pointer addresses for Go functions so they
// can be stored in foreign struct fields (tp_dealloc, ml_meth, jump table
// slots) and called back later.
type CodeSpace struct {
	entries  []codeEntry
	freeList []uint32
	byName   map[string]objbridge.Addr
	dynamic  Dynamic
	mu       sync.RWMutex
	closed   bool
}

type codeEntry struct {
	fn    any
	name  string
	valid bool
}

// NewCodeSpace creates an empty code space.
func NewCodeSpace() *CodeSpace {
	return &CodeSpace{
		entries:  make([]codeEntry, 0, 64),
		freeList: make([]uint32, 0, 16),
		byName:   make(map[string]objbridge.Addr),
	}
}

// Register stores fn and returns its address.
func (c *CodeSpace) Register(fn any) (objbridge.Addr, error) {
	return c.register("", fn)
}

// RegisterNamed stores fn under name. Registering the same name again
// returns the existing address.
func (c *CodeSpace) RegisterNamed(name string, fn any) (objbridge.Addr, error) {
	c.mu.RLock()
	addr, ok := c.byName[name]
	c.mu.RUnlock()
	if ok {
		return addr, nil
	}
	return c.register(name, fn)
}

func (c *CodeSpace) register(name string, fn any) (objbridge.Addr, error) {
	if fn == nil {
		return 0, errors.InvalidInput(errors.PhaseTable, "register nil function")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, errors.NotInitialized(errors.PhaseTable, "code space")
	}
	if name != "" {
		if addr, ok := c.byName[name]; ok {
			return addr, nil
		}
	}

	e := codeEntry{fn: fn, name: name, valid: true}
	var handle uint32
	if len(c.freeList) > 0 {
		handle = c.freeList[len(c.freeList)-1]
		c.freeList = c.freeList[:len(c.freeList)-1]
		c.entries[handle-1] = e
	} else {
		c.entries = append(c.entries, e)
		handle = uint32(len(c.entries))
	}
	addr := CodeBase | objbridge.Addr(handle)
	if name != "" {
		c.byName[name] = addr
	}
	return addr, nil
}

func (c *CodeSpace) entry(addr objbridge.Addr) (codeEntry, bool) {
	if !IsCode(addr) {
		return codeEntry{}, false
	}
	idx := int(addr&^CodeBase) - 1
	if idx >= len(c.entries) {
		return codeEntry{}, false
	}
	e := c.entries[idx]
	return e, e.valid
}

// Lookup returns the function registered at addr.
func (c *CodeSpace) Lookup(addr objbridge.Addr) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entry(addr)
	return e.fn, ok
}

// Name returns the name addr was registered under, or a placeholder for
// anonymous entries.
func (c *CodeSpace) Name(addr objbridge.Addr) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entry(addr)
	switch {
	case !ok:
		return fmt.Sprintf("<invalid %#x>", uint32(addr))
	case e.name == "":
		return fmt.Sprintf("<anonymous %#x>", uint32(addr))
	}
	return e.name
}

// Remove releases addr for reuse.
func (c *CodeSpace) Remove(addr objbridge.Addr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entry(addr)
	if !ok {
		return false
	}
	if e.name != "" {
		delete(c.byName, e.name)
	}
	handle := uint32(addr &^ CodeBase)
	c.entries[handle-1] = codeEntry{}
	c.freeList = append(c.freeList, handle)
	return true
}

// SetDynamic installs the resolver used for addresses outside the code space.
func (c *CodeSpace) SetDynamic(d Dynamic) {
	c.mu.Lock()
	c.dynamic = d
	c.mu.Unlock()
}

// Dynamic returns the installed resolver, or nil.
func (c *CodeSpace) Dynamic() Dynamic {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dynamic
}

// Len returns the number of live entries.
func (c *CodeSpace) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries) - len(c.freeList)
}

// Close drops every entry. Later registrations fail.
func (c *CodeSpace) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.entries = nil
	c.freeList = nil
	c.byName = nil
	c.dynamic = nil
	return nil
}
