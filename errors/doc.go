// Package errors provides structured error types for the object bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: field path, Go/ABI type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseStore, errors.KindTypeMismatch).
//		GoType("[]int").
//		ABIType("tuple").
//		Detail("slices are not hashable").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.LookupFailed(errors.PhaseRetrieve, addr)
//	err := errors.NullReference(errors.PhaseDispatch, "null result without error")
//
// Kind-only sentinels (ErrLookup, ErrNullReference, ...) match any phase:
//
//	if errors.Is(err, objerrors.ErrLookup) { ... }
//
// Errors raised by native code or by Go callables and carried through the
// last-error slot are never wrapped in this type; they cross the boundary
// with their identity intact.
package errors
