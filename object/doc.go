// Package object is the managed side of the object model.
//
// Scalars cross the bridge as plain Go values: nil is None, and bool, int64,
// float64 and string map to the corresponding builtin types. Other Go integer
// and float kinds are normalized to int64 and float64 before they are stored.
// Containers are pointers (*Tuple, *List, *Dict) so that identity survives a
// round trip.
//
// Module, Class and Instance are generated from native method tables and type
// objects. Their call paths are closures installed by the runtime, so this
// package has no dependency on the dispatcher.
//
// Exceptions raised by native code are *Exception values with an
// *ExceptionType class. The standard classes mirror the exported PyExc_*
// symbols.
package object
