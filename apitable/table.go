package apitable

import (
	"context"
	"sync"

	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
)

// DataBlockSize is the size of the static block reserved for each data
// symbol. It fits the largest static object, a type object.
const DataBlockSize = 192

// AddressGetter returns the function address for an API name, or 0 when the
// name has no implementation.
type AddressGetter func(name string) objbridge.Addr

// DataSetter fills the static data block allocated for name.
type DataSetter func(name string, addr objbridge.Addr) error

// Table is the API jump table: one function address slot per ordinal plus a
// static block per data symbol.
type Table struct {
	layout    *Layout
	alloc     objbridge.Allocator
	code      *CodeSpace
	index     map[string]int
	data      map[string]objbridge.Addr
	slots     []objbridge.Addr
	missing   []errors.MissingSymbol
	mu        sync.RWMutex
	populated bool
}

// New creates an empty table for layout. Data blocks are taken from alloc;
// code resolves slot addresses for Call.
func New(layout *Layout, alloc objbridge.Allocator, code *CodeSpace) *Table {
	index := make(map[string]int, len(layout.Functions))
	for i, name := range layout.Functions {
		index[name] = i
	}
	return &Table{
		layout: layout,
		alloc:  alloc,
		code:   code,
		index:  index,
		data:   make(map[string]objbridge.Addr),
		slots:  make([]objbridge.Addr, len(layout.Functions)),
	}
}

// FuncGetter registers funcs in code under their names and returns a getter
// over them.
func FuncGetter(code *CodeSpace, funcs []Func) (AddressGetter, error) {
	addrs := make(map[string]objbridge.Addr, len(funcs))
	for _, f := range funcs {
		addr, err := code.RegisterNamed(f.Name, f)
		if err != nil {
			return nil, errors.Registration(errors.PhaseTable, f.Name, err)
		}
		addrs[f.Name] = addr
	}
	return func(name string) objbridge.Addr { return addrs[name] }, nil
}

// Populate fills the table once. Data symbols come first, priority symbols
// before the rest, each with a fresh static block passed to setter. Then
// every function slot is filled from getter in ordinal order. Functions the
// getter does not know are recorded and reported by Missing.
func (t *Table) Populate(getter AddressGetter, setter DataSetter) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.populated {
		return errors.New(errors.PhaseTable, errors.KindRegistration).
			Detail("table already populated").
			Build()
	}

	for _, name := range t.layout.DataSymbols() {
		addr, err := t.alloc.Alloc(DataBlockSize)
		if err != nil {
			return errors.AllocationFailed(errors.PhaseTable, DataBlockSize, err)
		}
		t.data[name] = addr
		if err := setter(name, addr); err != nil {
			return errors.Registration(errors.PhaseTable, name, err)
		}
	}

	for i, name := range t.layout.Functions {
		addr := getter(name)
		t.slots[i] = addr
		if addr == 0 {
			t.missing = append(t.missing, errors.MissingSymbol{Name: name, Ordinal: i})
		}
	}
	t.populated = true

	if len(t.missing) > 0 {
		Logger().Debug("api table has unimplemented functions", zap.Int("missing", len(t.missing)))
	}
	return nil
}

// Missing returns the functions left without an implementation.
func (t *Table) Missing() []errors.MissingSymbol {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]errors.MissingSymbol, len(t.missing))
	copy(out, t.missing)
	return out
}

// Check returns a MissingSymbolsError when any slot is empty.
func (t *Table) Check() error {
	if missing := t.Missing(); len(missing) > 0 {
		return &errors.MissingSymbolsError{Symbols: missing}
	}
	return nil
}

// Len returns the number of function slots.
func (t *Table) Len() int { return len(t.slots) }

// Layout returns the table layout.
func (t *Table) Layout() *Layout { return t.layout }

// Ordinal returns the slot index of a function.
func (t *Table) Ordinal(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Slot returns the address in slot i.
func (t *Table) Slot(i int) objbridge.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.slots) {
		return 0
	}
	return t.slots[i]
}

// Address returns the address filled for a function name.
func (t *Table) Address(name string) objbridge.Addr {
	i, ok := t.index[name]
	if !ok {
		return 0
	}
	return t.Slot(i)
}

// Data returns the static block of a data symbol.
func (t *Table) Data(name string) (objbridge.Addr, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.data[name]
	return addr, ok
}

// Func returns the Go implementation behind a function slot.
func (t *Table) Func(name string) (Func, bool) {
	addr := t.Address(name)
	if addr == 0 {
		return Func{}, false
	}
	fn, ok := t.code.Lookup(addr)
	if !ok {
		return Func{}, false
	}
	f, ok := fn.(Func)
	return f, ok
}

// Call invokes an API function by name the way native code would through
// its stub.
func (t *Table) Call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	f, ok := t.Func(name)
	if !ok {
		return 0, errors.NotFound(errors.PhaseTable, "api function", name)
	}
	return f.Call(ctx, args...)
}

// Close frees the static data blocks.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for name, addr := range t.data {
		if err := t.alloc.Free(addr); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.data, name)
	}
	return firstErr
}
