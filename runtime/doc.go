// Package runtime hosts native extensions written against a CPython-2.5
// style object API.
//
// A Runtime owns a foreign heap, the object registry (package mapper), the
// dispatcher and the API jump table. Native code calls into the table;
// managed code calls native functions through the modules and classes the
// extension registers.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx, runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	// Native init code calls Py_InitModule4 and PyModule_AddObject
//	// through rt.Table(). Package wasmext does this for wasm32 extensions.
//
//	mod, _ := rt.Module("spam")
//	sum, err := mod.Call(ctx, "add", 2, 3)
//
//	v, err := mod.Call(ctx, "Counter", 3)
//	counter := v.(*runtime.Instance)
//	n, err := counter.Call(ctx, "value")
//
// # Modules and Classes
//
// Py_InitModule4 turns a PyMethodDef array into a Module. The ml_flags of
// each entry select the call shape:
//
//	METH_NOARGS                 NoArgs
//	METH_O                      ObjArg
//	METH_VARARGS                VarArgs
//	METH_VARARGS|METH_KEYWORDS  KwArgs
//
// Entries with any other flags are logged and skipped.
//
// PyModule_AddObject stores a value under a module attribute and steals the
// reference. A type object that is not yet known becomes a Class: tp_new
// and tp_init form its constructor, tp_methods become bound methods, and
// tp_iter, tp_iternext, tp_repr, tp_str and tp_call become __iter__, next,
// __repr__, __str__ and __call__. A NULL from tp_iternext with no pending
// error is StopIteration.
//
// Instances of extension types that reach managed code without passing
// through a module get their class generated on first retrieval.
//
// # Configuration
//
// Config may be loaded from HCL. The ABI constants page_size and ptr_size
// are available in expressions:
//
//	heap_base    = 16 * page_size
//	heap_limit   = "64MiB"
//	gc_threshold = 2000
//	manifest     = "api.hcl"
//
// # Concurrency
//
// The runtime serialises calls into native code: every managed call holds
// the mapper's boundary lock for its duration. Calls from many goroutines
// are safe; they run one at a time.
package runtime
