// Package dispatch invokes foreign callables with managed arguments.
//
// A Descriptor pairs a raw callable with its calling convention (Shape).
// The Dispatcher stores the arguments through a Mapper, calls the raw
// function inside the boundary lock, surfaces the last error the foreign
// side raised and converts the result back. Every path releases the
// argument references and the temporaries registered during the call.
//
// Construct and Init tie the lifetime of a managed wrapper to a new foreign
// instance:
//
//	inst := object.NewInstance(cls, 0)
//	if _, err := d.Dispatch(ctx, tpNew, dispatch.Call{Self: cls.Ptr, Args: args, Wrapper: inst}); err != nil {
//		return nil, err
//	}
//	if _, err := d.Dispatch(ctx, tpInit, dispatch.Call{Self: inst.ForeignPtr(), Args: args, Wrapper: inst}); err != nil {
//		return nil, err
//	}
package dispatch
