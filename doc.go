// Package objbridge runs native extension modules written against a
// reference-counted foreign object ABI inside a Go host.
//
// Native code sees objects as raw memory blocks: a refcount, a pointer to a
// type object, and a layout-specific tail. Go code sees ordinary values. The
// bridge keeps both views consistent and adapts calls in both directions.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	objbridge/          Root package with Addr and the Memory/Allocator interfaces
//	├── memory/         Linear memory backings, block heap, struct layouts, dumps
//	├── object/         Go-side object model (None, Tuple, List, Dict, Type, Exception)
//	├── mapper/         Object registry, refcounting, builtin types, last-error slot
//	├── dispatch/       Call-shape aware dispatcher (construct, invoke, raise, cleanup)
//	├── apitable/       Ordinal API table, generator manifest, code address space
//	├── runtime/        Facade: config, module and class generation, diagnostics
//	├── wasmext/        Loader for extensions compiled to WebAssembly (wazero)
//	└── errors/         Structured error types
//
// # Quick Start
//
//	ext, err := wasmext.LoadFile(ctx, "spam.wasm", runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ext.Close(ctx)
//
//	result, err := ext.Call(ctx, "system", "ls -l")
//
// # Crossing the Boundary
//
// A call into native code follows the same steps for every call shape:
//
//  1. Store each present argument aggregate, yielding a new reference.
//  2. Invoke the native callable with (self, args, kwargs) pointers.
//  3. Take the last-error slot; a stored error is returned unchanged.
//  4. Retrieve the result and release the returned reference.
//  5. Release every temporary created in step 1.
//
// Absent aggregates cross as address 0, never as empty objects.
//
// # Thread Safety
//
// A Runtime serializes boundary crossings with a single lock. Nested calls
// made from inside native code reuse the lock through their context.
package objbridge
