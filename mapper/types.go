package mapper

import (
	"context"
	"strings"

	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

// builtinShape is the instance layout of a builtin type.
type builtinShape struct {
	dealloc   string
	basicsize uint32
	itemsize  uint32
}

var builtinShapes = map[*object.Type]builtinShape{
	object.ObjectType:   {"PyBaseObject_Dealloc", memory.ObjectHead.Size, 0},
	object.TypeType:     {"PyBaseObject_Dealloc", memory.TypeObject.Size, 0},
	object.NoneType:     {"PyBaseObject_Dealloc", memory.ObjectHead.Size, 0},
	object.IntType:      {"PyBaseObject_Dealloc", memory.IntObject.Size, 0},
	object.BoolType:     {"PyBaseObject_Dealloc", memory.IntObject.Size, 0},
	object.FloatType:    {"PyBaseObject_Dealloc", memory.FloatObject.Size, 0},
	object.StrType:      {"PyBaseObject_Dealloc", memory.StringObject.Size, 1},
	object.TupleType:    {"PyTuple_Dealloc", memory.TupleObject.Size, objbridge.PtrSize},
	object.ListType:     {"PyList_Dealloc", memory.ListObject.Size, 0},
	object.DictType:     {"PyBaseObject_Dealloc", memory.DictObject.Size, 0},
	object.ModuleType:   {"PyBaseObject_Dealloc", memory.ObjectHead.Size, 0},
	object.FunctionType: {"PyBaseObject_Dealloc", memory.ObjectHead.Size, 0},
}

// inheritedPtrSlots are copied from tp_base by ReadyType when unset.
var inheritedPtrSlots = []string{
	"tp_alloc", "tp_init", "tp_new", "tp_dealloc", "tp_free",
	"tp_repr", "tp_str", "tp_doc", "tp_call",
}

// SetData fills the static block of an exported data symbol. It is the
// DataSetter for apitable.Table.Populate. Unknown symbols are left zeroed.
func (m *Mapper) SetData(name string, addr objbridge.Addr) error {
	ctx := context.Background()
	if t, ok := object.BuiltinBySymbol(name); ok {
		return m.setType(t, addr)
	}
	if t, ok := object.StandardExceptions[name]; ok {
		typ, err := m.exceptionTypeAddr(ctx, t)
		if err != nil {
			return err
		}
		return m.mem.WriteU32(uint32(addr), uint32(typ))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch name {
	case "_Py_NoneStruct":
		m.noneAddr = addr
	case "_Py_TrueStruct":
		m.trueAddr = addr
	case "_Py_ZeroStruct":
		m.falseAddr = addr
	default:
		Logger().Debug("data symbol left empty", zap.String("name", name))
		return nil
	}
	m.statics[addr] = struct{}{}
	return nil
}

func (m *Mapper) setType(t *object.Type, addr objbridge.Addr) error {
	m.mu.Lock()
	m.types[t] = addr
	m.statics[addr] = struct{}{}
	m.mu.Unlock()
	m.ptrs.Associate(addr, t)
	return m.fillType(t, addr)
}

// fillType writes the intrinsic fields of a builtin type object. Links to
// other types are written by link.
func (m *Mapper) fillType(t *object.Type, addr objbridge.Addr) error {
	shape := builtinShapes[t]
	v := memory.NewView(m.mem, memory.TypeObject, addr)

	name, err := m.staticString(t.Name)
	if err != nil {
		return err
	}
	if err := v.WriteInt("ob_refcnt", staticRefCount); err != nil {
		return err
	}
	if err := v.WritePtr("tp_name", name); err != nil {
		return err
	}
	if err := v.WriteInt("tp_basicsize", int32(shape.basicsize)); err != nil {
		return err
	}
	if err := v.WriteInt("tp_itemsize", int32(shape.itemsize)); err != nil {
		return err
	}
	if err := v.WriteInt("tp_flags", memory.TPFlagsReady); err != nil {
		return err
	}

	slots := map[string]string{
		"tp_dealloc": shape.dealloc,
		"tp_free":    "PyObject_Free",
		"tp_alloc":   "PyType_GenericAlloc",
		"tp_new":     "PyType_GenericNew",
		"tp_init":    "PyBaseObject_Init",
	}
	for field, fn := range slots {
		fp, err := m.codeAddr(fn)
		if err != nil {
			return err
		}
		if err := v.WritePtr(field, fp); err != nil {
			return err
		}
	}
	return nil
}

// codeAddr returns the function pointer of one of the mapper's API
// functions.
func (m *Mapper) codeAddr(name string) (objbridge.Addr, error) {
	f, ok := m.funcs[name]
	if !ok {
		return 0, errors.NotFound(errors.PhaseTable, "api function", name)
	}
	return m.code.RegisterNamed(name, f)
}

// staticString allocates a NUL-terminated string that lives as long as the
// heap.
func (m *Mapper) staticString(s string) (objbridge.Addr, error) {
	addr, err := m.heap.Alloc(uint32(len(s) + 1))
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseStore, uint32(len(s)+1), err)
	}
	if err := memory.WriteCString(m.mem, addr, s); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.owned = append(m.owned, addr)
	m.mu.Unlock()
	return addr, nil
}

// staticBlock allocates a zeroed block that lives as long as the heap.
func (m *Mapper) staticBlock(size uint32) (objbridge.Addr, error) {
	addr, err := m.heap.Alloc(size)
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseStore, size, err)
	}
	m.mu.Lock()
	m.owned = append(m.owned, addr)
	m.statics[addr] = struct{}{}
	m.mu.Unlock()
	return addr, nil
}

// exceptionTypeAddr returns the type object of an exception class,
// creating it and its bases on first use.
func (m *Mapper) exceptionTypeAddr(ctx context.Context, t *object.ExceptionType) (objbridge.Addr, error) {
	m.mu.Lock()
	addr, ok := m.excTypes[t]
	m.mu.Unlock()
	if ok {
		return addr, nil
	}

	var base objbridge.Addr
	if t.Base != nil {
		b, err := m.exceptionTypeAddr(ctx, t.Base)
		if err != nil {
			return 0, err
		}
		base = b
	} else {
		base = m.TypeAddr(object.ObjectType)
	}

	addr, err := m.staticBlock(memory.TypeObject.Size)
	if err != nil {
		return 0, err
	}
	name, err := m.staticString("exceptions." + t.Name)
	if err != nil {
		return 0, err
	}
	dealloc, err := m.codeAddr("PyBaseObject_Dealloc")
	if err != nil {
		return 0, err
	}
	v := memory.NewView(m.mem, memory.TypeObject, addr)
	for _, w := range []struct {
		field string
		value objbridge.Addr
	}{
		{"ob_type", m.TypeAddr(object.TypeType)},
		{"tp_name", name},
		{"tp_base", base},
		{"tp_dealloc", dealloc},
	} {
		if err := v.WritePtr(w.field, w.value); err != nil {
			return 0, err
		}
	}
	if err := v.WriteInt("ob_refcnt", staticRefCount); err != nil {
		return 0, err
	}
	if err := v.WriteInt("tp_basicsize", int32(memory.ObjectHead.Size)); err != nil {
		return 0, err
	}
	if err := v.WriteInt("tp_flags", memory.TPFlagsReady); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.excTypes[t] = addr
	m.mu.Unlock()
	m.ptrs.Associate(addr, t)
	return addr, nil
}

// TypeAddr returns the type object of a builtin type, or 0 before it has
// been set up.
func (m *Mapper) TypeAddr(t *object.Type) objbridge.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[t]
}

// NoneAddr returns the address of the None singleton.
func (m *Mapper) NoneAddr() objbridge.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noneAddr
}

// ReadyBuiltinTypes allocates every builtin type object and singleton that
// was not provided through SetData and links them to each other. It must
// run before values are stored.
func (m *Mapper) ReadyBuiltinTypes(ctx context.Context) error {
	for _, t := range object.BuiltinTypes {
		if m.TypeAddr(t) != 0 {
			continue
		}
		addr, err := m.staticBlock(memory.TypeObject.Size)
		if err != nil {
			return err
		}
		if err := m.setType(t, addr); err != nil {
			return err
		}
	}

	singletons := []struct {
		slot *objbridge.Addr
		size uint32
	}{
		{&m.noneAddr, memory.ObjectHead.Size},
		{&m.trueAddr, memory.IntObject.Size},
		{&m.falseAddr, memory.IntObject.Size},
	}
	for _, s := range singletons {
		m.mu.Lock()
		missing := *s.slot == 0
		m.mu.Unlock()
		if !missing {
			continue
		}
		addr, err := m.staticBlock(s.size)
		if err != nil {
			return err
		}
		m.mu.Lock()
		*s.slot = addr
		m.mu.Unlock()
	}

	if err := m.link(); err != nil {
		return err
	}
	for _, t := range []*object.ExceptionType{object.BaseException, object.StopIteration, object.SystemError} {
		if _, err := m.exceptionTypeAddr(ctx, t); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()
	return nil
}

// link writes ob_type and tp_base of the builtin types, the headers of the
// singletons, and patches exception types created before the builtins.
func (m *Mapper) link() error {
	typeType := m.TypeAddr(object.TypeType)
	objType := m.TypeAddr(object.ObjectType)

	for _, t := range object.BuiltinTypes {
		v := memory.NewView(m.mem, memory.TypeObject, m.TypeAddr(t))
		if err := v.WritePtr("ob_type", typeType); err != nil {
			return err
		}
		if t.Base != nil {
			if err := v.WritePtr("tp_base", m.TypeAddr(t.Base)); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	none, yes, no := m.noneAddr, m.trueAddr, m.falseAddr
	excs := make(map[*object.ExceptionType]objbridge.Addr, len(m.excTypes))
	for t, addr := range m.excTypes {
		excs[t] = addr
	}
	m.mu.Unlock()

	if err := m.writeHeader(none, staticRefCount, m.TypeAddr(object.NoneType)); err != nil {
		return err
	}
	m.ptrs.Associate(none, nil)
	for _, b := range []struct {
		addr objbridge.Addr
		val  bool
	}{{yes, true}, {no, false}} {
		if err := m.writeHeader(b.addr, staticRefCount, m.TypeAddr(object.BoolType)); err != nil {
			return err
		}
		ival := int32(0)
		if b.val {
			ival = 1
		}
		if err := memory.NewView(m.mem, memory.IntObject, b.addr).WriteInt("ob_ival", ival); err != nil {
			return err
		}
		m.ptrs.Associate(b.addr, b.val)
	}
	m.mu.Lock()
	m.statics[none] = struct{}{}
	m.statics[yes] = struct{}{}
	m.statics[no] = struct{}{}
	m.mu.Unlock()

	for t, addr := range excs {
		v := memory.NewView(m.mem, memory.TypeObject, addr)
		if err := v.WritePtr("ob_type", typeType); err != nil {
			return err
		}
		if t.Base == nil {
			if err := v.WritePtr("tp_base", objType); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Mapper) isReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// ReadyType prepares an extension type object the way PyType_Ready does:
// ob_type defaults to type, tp_base to object, and unset slots are
// inherited from the readied base.
func (m *Mapper) ReadyType(ctx context.Context, addr objbridge.Addr) error {
	if addr == 0 {
		return errors.NullReference(errors.PhaseHost, "ready null type")
	}
	v := memory.NewView(m.mem, memory.TypeObject, addr)
	flags, err := v.ReadInt("tp_flags")
	if err != nil {
		return err
	}
	if flags&(memory.TPFlagsReady|memory.TPFlagsReadying) != 0 {
		return nil
	}
	if err := v.WriteInt("tp_flags", flags|memory.TPFlagsReadying); err != nil {
		return err
	}

	if typ, err := v.ReadPtr("ob_type"); err != nil {
		return err
	} else if typ == 0 {
		if err := v.WritePtr("ob_type", m.TypeAddr(object.TypeType)); err != nil {
			return err
		}
	}

	base, err := v.ReadPtr("tp_base")
	if err != nil {
		return err
	}
	if objType := m.TypeAddr(object.ObjectType); base == 0 && addr != objType {
		base = objType
		if err := v.WritePtr("tp_base", base); err != nil {
			return err
		}
	}

	if base != 0 {
		if err := m.ReadyType(ctx, base); err != nil {
			return err
		}
		bv := memory.NewView(m.mem, memory.TypeObject, base)
		for _, slot := range inheritedPtrSlots {
			cur, err := v.ReadPtr(slot)
			if err != nil {
				return err
			}
			if cur != 0 {
				continue
			}
			inherited, err := bv.ReadPtr(slot)
			if err != nil {
				return err
			}
			if err := v.WritePtr(slot, inherited); err != nil {
				return err
			}
		}
		for _, size := range []string{"tp_basicsize", "tp_itemsize"} {
			cur, err := v.ReadInt(size)
			if err != nil {
				return err
			}
			if cur != 0 {
				continue
			}
			inherited, err := bv.ReadInt(size)
			if err != nil {
				return err
			}
			if err := v.WriteInt(size, inherited); err != nil {
				return err
			}
		}
	}

	flags, err = v.ReadInt("tp_flags")
	if err != nil {
		return err
	}
	return v.WriteInt("tp_flags", (flags&^memory.TPFlagsReadying)|memory.TPFlagsReady)
}

// IsSubtype reports whether type a is b or derives from it.
func (m *Mapper) IsSubtype(a, b objbridge.Addr) (bool, error) {
	for cur, depth := a, 0; cur != 0; depth++ {
		if cur == b {
			return true, nil
		}
		if depth > 64 {
			return false, errors.InvalidData(errors.PhaseHost, nil, "tp_base chain too deep")
		}
		next, err := memory.NewView(m.mem, memory.TypeObject, cur).ReadPtr("tp_base")
		if err != nil {
			return false, err
		}
		cur = next
	}
	return false, nil
}

// TypeName returns tp_name split into module and name. Names without a dot
// belong to the builtins.
func (m *Mapper) TypeName(typ objbridge.Addr) (module, name string, err error) {
	p, err := memory.NewView(m.mem, memory.TypeObject, typ).ReadPtr("tp_name")
	if err != nil {
		return "", "", err
	}
	if p == 0 {
		return "", "", errors.InvalidData(errors.PhaseRetrieve, []string{"tp_name"}, "type has no name")
	}
	full, err := memory.ReadCString(m.mem, p)
	if err != nil {
		return "", "", err
	}
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		return full[:i], full[i+1:], nil
	}
	return "__builtin__", full, nil
}
