package runtime

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/api"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/memory"
)

// spam is a native extension written against the API table, the way a C
// module would use it.
type spam struct {
	t       *testing.T
	r       *Runtime
	mod     objbridge.Addr
	counter objbridge.Addr
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// capi calls an API function by name.
func (e *spam) capi(ctx context.Context, name string, args ...uint64) uint64 {
	v, err := e.r.Table().Call(ctx, name, args...)
	if err != nil {
		e.t.Errorf("%s: %v", name, err)
	}
	return v
}

func (e *spam) capiPtr(ctx context.Context, name string, args ...uint64) objbridge.Addr {
	return objbridge.Addr(api.DecodeU32(e.capi(ctx, name, args...)))
}

func (e *spam) capiInt(ctx context.Context, name string, args ...uint64) int32 {
	return api.DecodeI32(e.capi(ctx, name, args...))
}

func ptrArg(a objbridge.Addr) uint64 { return api.EncodeU32(uint32(a)) }
func intArg(n int32) uint64          { return api.EncodeI32(n) }

func (e *spam) cstring(s string) objbridge.Addr {
	e.t.Helper()
	addr, err := e.r.Heap().Alloc(uint32(len(s) + 1))
	if err != nil {
		e.t.Fatal(err)
	}
	if err := memory.WriteCString(e.r.Heap().Memory(), addr, s); err != nil {
		e.t.Fatal(err)
	}
	return addr
}

func (e *spam) code(fn any) objbridge.Addr {
	e.t.Helper()
	addr, err := e.r.Code().Register(fn)
	if err != nil {
		e.t.Fatal(err)
	}
	return addr
}

// exc returns the type object behind a PyExc_* data symbol.
func (e *spam) exc(name string) objbridge.Addr {
	e.t.Helper()
	block, ok := e.r.Table().Data(name)
	if !ok {
		e.t.Fatalf("no data symbol %s", name)
	}
	typ, err := e.r.Heap().Memory().ReadU32(uint32(block))
	if err != nil {
		e.t.Fatal(err)
	}
	return objbridge.Addr(typ)
}

type methodDef struct {
	name  string
	fn    any
	flags int32
	doc   string
}

func (e *spam) methodTable(defs []methodDef) objbridge.Addr {
	e.t.Helper()
	size := memory.MethodDef.Size
	table, err := e.r.Heap().Alloc(size * uint32(len(defs)+1))
	if err != nil {
		e.t.Fatal(err)
	}
	mem := e.r.Heap().Memory()
	for n, d := range defs {
		v := memory.NewView(mem, memory.MethodDef, table+objbridge.Addr(uint32(n)*size))
		var doc objbridge.Addr
		if d.doc != "" {
			doc = e.cstring(d.doc)
		}
		for _, err := range []error{
			v.WritePtr("ml_name", e.cstring(d.name)),
			v.WritePtr("ml_meth", e.code(d.fn)),
			v.WriteInt("ml_flags", d.flags),
			v.WritePtr("ml_doc", doc),
		} {
			if err != nil {
				e.t.Fatal(err)
			}
		}
	}
	return table
}

const counterOffset = 8

func (e *spam) count(self objbridge.Addr) int32 {
	n, err := e.r.Heap().Memory().ReadU32(uint32(self) + counterOffset)
	if err != nil {
		e.t.Error(err)
	}
	return int32(n)
}

func (e *spam) setCount(self objbridge.Addr, n int32) {
	if err := e.r.Heap().Memory().WriteU32(uint32(self)+counterOffset, uint32(n)); err != nil {
		e.t.Error(err)
	}
}

// loadSpam runs the extension's init function: module spam with functions
// add, fail, kw and classmeth (unsupported flags), and class spam.Counter.
func loadSpam(t *testing.T, r *Runtime) *spam {
	t.Helper()
	e := &spam{t: t, r: r}
	ctx, leave, err := r.Mapper().Enter(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer leave()

	valueError := e.exc("PyExc_ValueError")
	typeError := e.exc("PyExc_TypeError")
	boom := e.cstring("boom")
	negative := e.cstring("count must not be negative")
	oneArg := e.cstring("Counter() takes one argument")
	reprText := e.cstring("<spam counter>")

	functions := e.methodTable([]methodDef{
		{name: "add", flags: memory.MethVarArgs, doc: "add(*ints) -> int", fn: objbridge.BinaryFunc(func(ctx context.Context, _, args objbridge.Addr) objbridge.Addr {
			var sum int32
			n := e.capiInt(ctx, "PyTuple_Size", ptrArg(args))
			for k := int32(0); k < n; k++ {
				item := e.capiPtr(ctx, "PyTuple_GetItem", ptrArg(args), intArg(k))
				sum += e.capiInt(ctx, "PyInt_AsLong", ptrArg(item))
			}
			return e.capiPtr(ctx, "PyInt_FromLong", intArg(sum))
		})},
		{name: "fail", flags: memory.MethNoArgs, fn: objbridge.BinaryFunc(func(ctx context.Context, _, _ objbridge.Addr) objbridge.Addr {
			e.capi(ctx, "PyErr_SetString", ptrArg(valueError), ptrArg(boom))
			return 0
		})},
		{name: "kw", flags: memory.MethVarArgs | memory.MethKeywords, fn: objbridge.TernaryFunc(func(ctx context.Context, _, _, kw objbridge.Addr) objbridge.Addr {
			if kw == 0 {
				return e.capiPtr(ctx, "PyInt_FromLong", intArg(-1))
			}
			return e.capiPtr(ctx, "PyInt_FromLong", intArg(e.capiInt(ctx, "PyDict_Size", ptrArg(kw))))
		})},
		{name: "classmeth", flags: memory.MethVarArgs | memory.MethClass, fn: objbridge.BinaryFunc(func(context.Context, objbridge.Addr, objbridge.Addr) objbridge.Addr {
			return 0
		})},
	})
	e.mod = e.capiPtr(ctx, "Py_InitModule4", ptrArg(e.cstring("spam")), ptrArg(functions), ptrArg(e.cstring("spam docs")), ptrArg(0), intArg(1013))
	if e.mod == 0 {
		t.Fatalf("Py_InitModule4: %v", r.Mapper().TakeLastError())
	}

	methods := e.methodTable([]methodDef{
		{name: "value", flags: memory.MethNoArgs, fn: objbridge.BinaryFunc(func(ctx context.Context, self, _ objbridge.Addr) objbridge.Addr {
			return e.capiPtr(ctx, "PyInt_FromLong", intArg(e.count(self)))
		})},
	})

	typ, err := r.Heap().Alloc(memory.TypeObject.Size)
	if err != nil {
		t.Fatal(err)
	}
	e.counter = typ
	v := memory.NewView(r.Heap().Memory(), memory.TypeObject, typ)
	for _, err := range []error{
		v.WriteInt("ob_refcnt", 1),
		v.WritePtr("tp_name", e.cstring("spam.Counter")),
		v.WriteInt("tp_basicsize", counterOffset+4),
		v.WritePtr("tp_doc", e.cstring("counts down")),
		v.WritePtr("tp_methods", methods),
		v.WritePtr("tp_init", e.code(objbridge.InitFunc(func(ctx context.Context, self, args, _ objbridge.Addr) int32 {
			if e.capiInt(ctx, "PyTuple_Size", ptrArg(args)) != 1 {
				e.capi(ctx, "PyErr_SetString", ptrArg(typeError), ptrArg(oneArg))
				return -1
			}
			n := e.capiInt(ctx, "PyInt_AsLong", ptrArg(e.capiPtr(ctx, "PyTuple_GetItem", ptrArg(args), intArg(0))))
			if n < 0 {
				e.capi(ctx, "PyErr_SetString", ptrArg(valueError), ptrArg(negative))
				return -1
			}
			e.setCount(self, n)
			return 0
		}))),
		v.WritePtr("tp_iter", e.code(objbridge.UnaryFunc(func(ctx context.Context, self objbridge.Addr) objbridge.Addr {
			e.capi(ctx, "Py_IncRef", ptrArg(self))
			return self
		}))),
		v.WritePtr("tp_iternext", e.code(objbridge.UnaryFunc(func(ctx context.Context, self objbridge.Addr) objbridge.Addr {
			n := e.count(self)
			if n == 0 {
				return 0
			}
			e.setCount(self, n-1)
			return e.capiPtr(ctx, "PyInt_FromLong", intArg(n-1))
		}))),
		v.WritePtr("tp_repr", e.code(objbridge.UnaryFunc(func(ctx context.Context, _ objbridge.Addr) objbridge.Addr {
			return e.capiPtr(ctx, "PyString_FromString", ptrArg(reprText))
		}))),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	if e.capiInt(ctx, "PyType_Ready", ptrArg(typ)) != 0 {
		t.Fatalf("PyType_Ready: %v", r.Mapper().TakeLastError())
	}
	e.capi(ctx, "Py_IncRef", ptrArg(typ))
	if e.capiInt(ctx, "PyModule_AddObject", ptrArg(e.mod), ptrArg(e.cstring("Counter")), ptrArg(typ)) != 0 {
		t.Fatalf("PyModule_AddObject(Counter): %v", r.Mapper().TakeLastError())
	}
	version := e.capiPtr(ctx, "PyString_FromString", ptrArg(e.cstring("1.0")))
	if e.capiInt(ctx, "PyModule_AddObject", ptrArg(e.mod), ptrArg(e.cstring("VERSION")), ptrArg(version)) != 0 {
		t.Fatalf("PyModule_AddObject(VERSION): %v", r.Mapper().TakeLastError())
	}
	return e
}
