package runtime

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/apitable"
	"github.com/wippyai/objbridge/dispatch"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

func argPtr(stack []uint64, i int) objbridge.Addr { return objbridge.Addr(api.DecodeU32(stack[i])) }
func setPtr(stack []uint64, a objbridge.Addr)      { stack[0] = api.EncodeU32(uint32(a)) }
func setInt(stack []uint64, v int32)               { stack[0] = api.EncodeI32(v) }

// API returns the module functions the runtime adds to the mapper's object
// API.
func (r *Runtime) API() []apitable.Func {
	return []apitable.Func{
		apitable.MustDefine("PyObject *Py_InitModule4(char *name, PyMethodDef *methods, char *doc, PyObject *self, int apiver);",
			func(ctx context.Context, s []uint64) {
				setPtr(s, r.initModule(ctx, argPtr(s, 0), argPtr(s, 1), argPtr(s, 2), argPtr(s, 3)))
			}),
		apitable.MustDefine("int PyModule_AddObject(PyObject *module, char *name, PyObject *value);",
			func(ctx context.Context, s []uint64) {
				setInt(s, r.moduleAddObject(ctx, argPtr(s, 0), argPtr(s, 1), argPtr(s, 2)))
			}),
		apitable.MustDefine("char *PyModule_GetName(PyObject *module);",
			func(ctx context.Context, s []uint64) {
				setPtr(s, r.moduleGetName(ctx, argPtr(s, 0)))
			}),
	}
}

func (r *Runtime) raise(err error) objbridge.Addr {
	r.mapper.SetLastError(err)
	return 0
}

func (r *Runtime) badInternalCall() objbridge.Addr {
	return r.raise(object.SystemError.New("bad argument to internal function"))
}

// initModule creates a module from a PyMethodDef array. The returned
// reference is borrowed; the runtime keeps the module alive.
func (r *Runtime) initModule(ctx context.Context, namePtr, methods, docPtr, self objbridge.Addr) objbridge.Addr {
	mem := r.heap.Memory()
	name, err := memory.ReadCString(mem, namePtr)
	if err != nil || name == "" {
		return r.badInternalCall()
	}
	doc, err := optCString(mem, docPtr)
	if err != nil {
		return r.raise(err)
	}

	mod := object.NewModule(name, doc)
	defs, err := r.methodDefs(ctx, name, methods)
	if err != nil {
		return r.raise(err)
	}
	for _, desc := range defs {
		mod.Set(desc.Name, &object.Function{
			Name: desc.Name,
			Doc:  desc.Doc,
			Fn:   r.function(desc, self),
		})
	}

	addr, err := r.mapper.Store(ctx, mod)
	if err != nil {
		return r.raise(err)
	}
	r.mu.Lock()
	r.modules[name] = mod
	r.mu.Unlock()
	Logger().Debug("module initialised", zap.String("module", name), zap.Int("functions", len(defs)))
	return addr
}

// function adapts a module-level descriptor to the managed calling
// convention.
func (r *Runtime) function(desc *dispatch.Descriptor, self objbridge.Addr) object.Callable {
	return func(ctx context.Context, args []any, kwargs *object.Dict) (any, error) {
		return r.dispatcher.Dispatch(ctx, desc, dispatch.Call{Self: self, Args: args, Kwargs: kwargs})
	}
}

// moduleAddObject binds value as a module attribute and steals its
// reference. Type objects that are not yet known generate a class.
func (r *Runtime) moduleAddObject(ctx context.Context, modPtr, namePtr, value objbridge.Addr) int32 {
	v, err := r.mapper.Retrieve(ctx, modPtr)
	if err != nil {
		r.mapper.SetLastError(err)
		return -1
	}
	mod, ok := v.(*object.Module)
	if !ok {
		r.mapper.SetLastError(object.TypeError.New("PyModule_AddObject() needs module as first arg"))
		return -1
	}
	name, err := memory.ReadCString(r.heap.Memory(), namePtr)
	if err != nil || value == 0 {
		r.badInternalCall()
		return -1
	}

	var item any
	if !r.mapper.Has(value) && r.isTypeObject(value) {
		item, err = r.classFor(ctx, value)
	} else {
		item, err = r.mapper.Retrieve(ctx, value)
	}
	if err != nil {
		r.mapper.SetLastError(err)
		return -1
	}
	mod.Set(name, item)
	if err := r.mapper.DecRef(ctx, value); err != nil {
		r.mapper.SetLastError(err)
		return -1
	}
	return 0
}

// moduleGetName returns the module name as a C string that lives as long
// as the runtime.
func (r *Runtime) moduleGetName(ctx context.Context, modPtr objbridge.Addr) objbridge.Addr {
	v, err := r.mapper.Retrieve(ctx, modPtr)
	if err != nil {
		return r.raise(err)
	}
	mod, ok := v.(*object.Module)
	if !ok {
		return r.raise(object.SystemError.New("PyModule_GetName: not a module"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if addr, ok := r.names[mod]; ok {
		return addr
	}
	addr, err := r.heap.Alloc(uint32(len(mod.Name) + 1))
	if err != nil {
		return r.raise(object.MemoryError.New(""))
	}
	if err := memory.WriteCString(r.heap.Memory(), addr, mod.Name); err != nil {
		return r.raise(err)
	}
	r.names[mod] = addr
	return addr
}

// isTypeObject reports whether addr is an instance of type.
func (r *Runtime) isTypeObject(addr objbridge.Addr) bool {
	typ, err := r.mapper.TypeOf(addr)
	if err != nil {
		return false
	}
	ok, err := r.mapper.IsSubtype(typ, r.mapper.TypeAddr(object.TypeType))
	return err == nil && ok
}

// optCString reads a C string that may be NULL.
func optCString(mem objbridge.Memory, addr objbridge.Addr) (string, error) {
	if addr == 0 {
		return "", nil
	}
	return memory.ReadCString(mem, addr)
}
