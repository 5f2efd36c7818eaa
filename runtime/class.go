package runtime

import (
	"context"

	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/apitable"
	"github.com/wippyai/objbridge/dispatch"
	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

// classFor returns the class generated for an extension type object,
// generating it on first use.
func (r *Runtime) classFor(ctx context.Context, typ objbridge.Addr) (*Class, error) {
	if r.mapper.Has(typ) {
		v, err := r.mapper.Retrieve(ctx, typ)
		if err != nil {
			return nil, err
		}
		if cls, ok := v.(*Class); ok {
			return cls, nil
		}
		return nil, errors.TypeMismatch(errors.PhaseRetrieve, []string{"type"}, object.TypeOf(v).Name, "extension type")
	}
	cls, err := r.generateClass(ctx, typ)
	if err != nil {
		return nil, err
	}
	r.mapper.RegisterClass(cls)
	return cls, nil
}

// generateClass builds a managed class from a type object: tp_new and
// tp_init become the constructor, tp_methods become bound methods, and the
// iterator, repr, str and call slots become special methods.
func (r *Runtime) generateClass(ctx context.Context, typ objbridge.Addr) (*Class, error) {
	if err := r.mapper.ReadyType(ctx, typ); err != nil {
		return nil, err
	}
	module, name, err := r.mapper.TypeName(typ)
	if err != nil {
		return nil, err
	}
	mem := r.heap.Memory()
	v := memory.NewView(mem, memory.TypeObject, typ)
	docPtr, err := v.ReadPtr("tp_doc")
	if err != nil {
		return nil, err
	}
	doc, err := optCString(mem, docPtr)
	if err != nil {
		return nil, err
	}
	cls := object.NewClass(name, module, doc, typ)
	full := module + "." + name

	newDesc, err := slotDescriptor[objbridge.TernaryFunc](r, v, "tp_new", full, dispatch.Construct)
	if err != nil {
		return nil, err
	}
	initDesc, err := slotDescriptor[objbridge.InitFunc](r, v, "tp_init", full, dispatch.Init)
	if err != nil {
		return nil, err
	}
	if newDesc != nil {
		cls.Construct = r.constructor(newDesc, initDesc)
	}

	methods, err := v.ReadPtr("tp_methods")
	if err != nil {
		return nil, err
	}
	defs, err := r.methodDefs(ctx, full, methods)
	if err != nil {
		return nil, err
	}
	for _, desc := range defs {
		cls.AddMethod(r.method(desc.Method()))
	}

	specials := []struct {
		slot, name string
		shape      dispatch.Shape
	}{
		{"tp_iter", "__iter__", dispatch.SelfArg},
		{"tp_iternext", "next", dispatch.SelfArg},
		{"tp_repr", "__repr__", dispatch.SelfArg},
		{"tp_str", "__str__", dispatch.SelfArg},
		{"tp_call", "__call__", dispatch.KwArgs},
	}
	for _, s := range specials {
		var desc *dispatch.Descriptor
		if s.shape == dispatch.KwArgs {
			desc, err = slotDescriptor[objbridge.TernaryFunc](r, v, s.slot, s.name, s.shape)
		} else {
			desc, err = slotDescriptor[objbridge.UnaryFunc](r, v, s.slot, s.name, s.shape)
		}
		if err != nil {
			return nil, err
		}
		if desc == nil {
			continue
		}
		if s.slot == "tp_iternext" {
			if desc, err = desc.WithHook(r.stopIteration); err != nil {
				return nil, err
			}
		}
		cls.AddMethod(r.method(desc.Method()))
	}

	Logger().Debug("generated class",
		zap.String("class", full),
		zap.Strings("methods", cls.Methods()),
		zap.Bool("constructible", cls.Construct != nil))
	return cls, nil
}

// slotDescriptor resolves a function pointer slot of a type object. An
// empty slot yields a nil descriptor.
func slotDescriptor[F any](r *Runtime, v memory.View, slot, name string, shape dispatch.Shape) (*dispatch.Descriptor, error) {
	addr, err := v.ReadPtr(slot)
	if err != nil || addr == 0 {
		return nil, err
	}
	fn, err := apitable.Resolve[F](r.code, addr)
	if err != nil {
		return nil, err
	}
	return dispatch.NewDescriptor(name, shape, fn)
}

// constructor runs tp_new and then tp_init with the same arguments.
func (r *Runtime) constructor(newDesc, initDesc *dispatch.Descriptor) object.Constructor {
	return func(ctx context.Context, cls *Class, args []any, kwargs *object.Dict) (*Instance, error) {
		inst := object.NewInstance(cls, 0)
		call := dispatch.Call{Self: cls.Ptr, Args: args, Kwargs: kwargs, Wrapper: inst}
		if _, err := r.dispatcher.Dispatch(ctx, newDesc, call); err != nil {
			return nil, err
		}
		if initDesc == nil {
			return inst, nil
		}
		call.Self = inst.ForeignPtr()
		if _, err := r.dispatcher.Dispatch(ctx, initDesc, call); err != nil {
			return nil, err
		}
		return inst, nil
	}
}

// method adapts a bound descriptor to a class method.
func (r *Runtime) method(desc *dispatch.Descriptor) *Method {
	return &Method{
		Name: desc.Name,
		Doc:  desc.Doc,
		Fn: func(ctx context.Context, self *Instance, args []any, kwargs *object.Dict) (any, error) {
			return r.dispatcher.Dispatch(ctx, desc, dispatch.Call{Self: self.ForeignPtr(), Args: args, Kwargs: kwargs})
		},
	}
}

// stopIteration turns a NULL result without a pending error into
// StopIteration.
func (r *Runtime) stopIteration(_ context.Context, result objbridge.Addr) error {
	if result == 0 && r.mapper.LastError() == nil {
		return object.StopIteration.New("")
	}
	return nil
}
