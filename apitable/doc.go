// Package apitable provides the API jump table through which native
// extensions reach the bridge.
//
// A Manifest (HCL) lists the exported function and data symbols of the stub
// library together with override lists. Manifest.Layout resolves it into the
// final ordinal order. Table.Populate then fills data symbols with static
// blocks and function slots with addresses from an AddressGetter.
//
// Function addresses point into a CodeSpace. Go functions get addresses
// tagged with CodeBase so they can be written into foreign struct fields and
// resolved back with Resolve. Addresses without the tag belong to the
// extension itself and are resolved through an installed Dynamic resolver.
//
// API functions are declared with their C prototype:
//
//	apitable.MustDefine("PyObject *PyInt_FromLong(long ival);", handler)
//
// The prototype provides the wasm signature used when the table is exported
// to a WebAssembly extension with InstallHost.
package apitable
