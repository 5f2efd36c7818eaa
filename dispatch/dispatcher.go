package dispatch

import (
	"context"

	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/object"
)

// Mapper is the part of the object registry the dispatcher drives.
// *mapper.Mapper implements it.
type Mapper interface {
	Enter(ctx context.Context) (context.Context, func(), error)
	Store(ctx context.Context, v any) (objbridge.Addr, error)
	Retrieve(ctx context.Context, addr objbridge.Addr) (any, error)
	DecRef(ctx context.Context, addr objbridge.Addr) error
	StoreUnmanagedData(ctx context.Context, addr objbridge.Addr, v any) error
	TakeLastError() error
	PushTemps()
	FreeTemps(ctx context.Context) error
}

// Call is the managed side of one invocation.
type Call struct {
	// Wrapper is the managed object bound to the result of Construct, or the
	// instance whose Init is running.
	Wrapper object.Bridged
	Kwargs  *object.Dict
	Args    []any
	// Self is the receiver, the module self of a function, or the type
	// object for Construct.
	Self objbridge.Addr
}

// Dispatcher runs calls across the boundary.
type Dispatcher struct {
	m Mapper
}

// New creates a dispatcher over m.
func New(m Mapper) *Dispatcher {
	return &Dispatcher{m: m}
}

// Mapper returns the registry the dispatcher uses.
func (d *Dispatcher) Mapper() Mapper { return d.m }

// Dispatch stores the arguments of c, invokes the raw callable of desc and
// converts the result. Argument references and per-call temporaries are
// released on every path. An error taken from the last-error slot or
// returned by an error hook is returned as is.
//
// Construct returns c.Wrapper bound to the new object. Init returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, desc *Descriptor, c Call) (result any, err error) {
	if err := checkCall(desc, c); err != nil {
		return nil, err
	}
	ctx, leave, err := d.m.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	d.m.PushTemps()
	refs := newRefList()
	var res objbridge.Addr
	defer func() {
		if cerr := d.cleanup(ctx, res, refs); cerr != nil {
			Logger().Warn("dispatch cleanup failed", zap.String("callable", desc.Name), zap.Error(cerr))
			if err == nil {
				result, err = nil, cerr
			}
		}
		refs.release()
	}()

	var argsPtr, kwPtr objbridge.Addr
	switch desc.Shape {
	case ObjArg:
		argsPtr, err = d.store(ctx, refs, c.Args[0])
	case VarArgs, KwArgs, Construct, Init:
		argsPtr, err = d.store(ctx, refs, object.NewTuple(c.Args...))
	}
	if err != nil {
		return nil, err
	}
	if desc.Shape.takesKwargs() && c.Kwargs.Len() > 0 {
		if kwPtr, err = d.store(ctx, refs, c.Kwargs); err != nil {
			return nil, err
		}
	}

	switch desc.Shape {
	case Construct:
		return d.construct(ctx, desc, c, argsPtr, kwPtr)
	case Init:
		return nil, d.init(ctx, desc, c, argsPtr, kwPtr)
	}

	res = invoke(ctx, desc, c.Self, argsPtr, kwPtr)
	if desc.hook != nil {
		if herr := desc.hook(ctx, res); herr != nil {
			if stale := d.m.TakeLastError(); stale != nil {
				Logger().Debug("error hook replaced pending error", zap.String("callable", desc.Name), zap.Error(stale))
			}
			return nil, herr
		}
	}
	if err := d.m.TakeLastError(); err != nil {
		return nil, err
	}
	if res == 0 {
		return nil, errors.NullReference(errors.PhaseDispatch, "%s returned NULL without setting an error", desc.Name)
	}
	return d.m.Retrieve(ctx, res)
}

// checkCall validates c against the shape of desc before anything is
// stored.
func checkCall(desc *Descriptor, c Call) error {
	switch desc.Shape {
	case NoArgs, SelfArg:
		if len(c.Args) > 0 {
			return object.TypeError.New("%s() takes no arguments (%d given)", desc.Name, len(c.Args))
		}
	case ObjArg:
		if len(c.Args) != 1 {
			return object.TypeError.New("%s() takes exactly one argument (%d given)", desc.Name, len(c.Args))
		}
	}
	if !desc.Shape.takesKwargs() && c.Kwargs.Len() > 0 {
		return object.TypeError.New("%s() takes no keyword arguments", desc.Name)
	}
	if c.Self == 0 && (desc.Bound || desc.Shape == SelfArg || desc.Shape == Construct || desc.Shape == Init) {
		return errors.NullReference(errors.PhaseDispatch, "%s called without a receiver", desc.Name)
	}
	if desc.Shape == Construct && c.Wrapper == nil {
		return errors.InvalidInput(errors.PhaseDispatch, "construct of "+desc.Name+" without a wrapper")
	}
	return nil
}

// store stores v and records the new reference for cleanup.
func (d *Dispatcher) store(ctx context.Context, refs *refList, v any) (objbridge.Addr, error) {
	addr, err := d.m.Store(ctx, v)
	if err != nil {
		return 0, err
	}
	refs.Add(addr)
	return addr, nil
}

func invoke(ctx context.Context, desc *Descriptor, self, args, kwargs objbridge.Addr) objbridge.Addr {
	switch fn := desc.fn.(type) {
	case objbridge.BinaryFunc:
		return fn(ctx, self, args)
	case objbridge.TernaryFunc:
		return fn(ctx, self, args, kwargs)
	case objbridge.UnaryFunc:
		return fn(ctx, self)
	}
	return 0
}

// construct runs tp_new. The returned object becomes the identity of
// c.Wrapper and its reference passes to the wrapper. It is released only
// when binding fails.
func (d *Dispatcher) construct(ctx context.Context, desc *Descriptor, c Call, args, kwargs objbridge.Addr) (any, error) {
	obj := desc.fn.(objbridge.TernaryFunc)(ctx, c.Self, args, kwargs)
	if err := d.m.TakeLastError(); err != nil {
		return nil, err
	}
	if obj == 0 {
		return nil, errors.ConstructionFailed(desc.Name, nil)
	}
	if err := d.m.StoreUnmanagedData(ctx, obj, c.Wrapper); err != nil {
		if derr := d.m.DecRef(ctx, obj); derr != nil {
			Logger().Warn("release of unbound instance", zap.String("callable", desc.Name), zap.Error(derr))
		}
		if c.Wrapper != nil {
			c.Wrapper.BindForeign(0)
		}
		return nil, err
	}
	return c.Wrapper, nil
}

// init runs tp_init. A nonzero status releases the instance reference held
// by the wrapper.
func (d *Dispatcher) init(ctx context.Context, desc *Descriptor, c Call, args, kwargs objbridge.Addr) error {
	status := desc.fn.(objbridge.InitFunc)(ctx, c.Self, args, kwargs)
	err := d.m.TakeLastError()
	if status == 0 {
		return err
	}
	if derr := d.m.DecRef(ctx, c.Self); derr != nil {
		Logger().Warn("release of failed instance", zap.String("callable", desc.Name), zap.Error(derr))
	}
	if c.Wrapper != nil {
		c.Wrapper.BindForeign(0)
	}
	if err == nil {
		err = errors.New(errors.PhaseDispatch, errors.KindConstruction).
			Path(desc.Name).
			Value(status).
			Detail("init returned %d without setting an error", status).
			Build()
	}
	return err
}

// cleanup frees the call's temporaries, releases the result of a value
// call, then the argument references. Every step runs; the first failure
// is returned.
func (d *Dispatcher) cleanup(ctx context.Context, res objbridge.Addr, refs *refList) error {
	firstErr := d.m.FreeTemps(ctx)
	if res != 0 {
		if err := d.m.DecRef(ctx, res); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, addr := range refs.addrs {
		if err := d.m.DecRef(ctx, addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
