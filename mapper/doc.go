// Package mapper is the object registry between Go values and foreign
// objects.
//
// Store turns a Go value into a new reference to a foreign object, and
// Retrieve goes the other way without taking a reference. Values the mapper
// created are held strongly until their refcount drops to zero. Objects
// that native code builds itself are converted on first retrieval.
//
// Extension instances are wrapped in *object.Instance. The wrapper owns one
// foreign reference. While native code holds further references the
// registry keeps the wrapper alive; otherwise it keeps only a weak pointer,
// and Sweep gives the reference back once the wrapper has been collected.
//
// The mapper also implements the object API (Py_IncRef, PyTuple_New,
// PyErr_SetString and so on) as apitable Funcs, the last-error slot those
// functions report through, and per-call temporaries.
package mapper
