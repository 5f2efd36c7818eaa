// Package wasmext loads native extensions compiled to wasm32.
//
// The guest shares one linear memory with the runtime heap. It imports the
// memory as env.memory and the object API from the "objbridge" host module:
//
//	(import "env" "memory" (memory 1))
//	(import "objbridge" "PyInt_FromLong" (func (param i32) (result i32)))
//	(global (export "PyExc_ValueError") (mut i32) (i32.const 0))
//	(func (export "initspam") ...)
//	(func (export "dynCall_iii") (param i32 i32 i32) (result i32) ...)
//
// Load instantiates the guest, points exported data symbol globals at the
// API's static blocks, then calls init<name> under the boundary lock. The
// init function registers the module with Py_InitModule4.
//
// Function pointers in method tables and type slots are table indices. They
// are called through the guest's dynCall_* trampolines, one per signature:
//
//	unary    dynCall_ii(fp, a)
//	binary   dynCall_iii(fp, a, b)
//	ternary  dynCall_iiii(fp, a, b, c)
//	init     dynCall_iiii(fp, self, args, kwargs)
//	dealloc  dynCall_vi(fp, obj)
//	alloc    dynCall_iii(fp, type, n)
//
// A trap inside the guest becomes the pending error of the call that
// reached it.
//
// Guest static data must lie below the runtime's heap_base.
package wasmext
