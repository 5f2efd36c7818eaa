package apitable

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
)

// Sig identifies the shape of a raw callable.
type Sig uint8

const (
	SigUnary Sig = iota + 1
	SigBinary
	SigTernary
	SigInit
	SigDealloc
	SigAlloc
)

var sigNames = [...]string{
	SigUnary:   "unary",
	SigBinary:  "binary",
	SigTernary: "ternary",
	SigInit:    "init",
	SigDealloc: "dealloc",
	SigAlloc:   "alloc",
}

func (s Sig) String() string {
	if int(s) < len(sigNames) && sigNames[s] != "" {
		return sigNames[s]
	}
	return fmt.Sprintf("sig(%d)", s)
}

// Params returns the wasm parameter types of the signature.
func (s Sig) Params() []api.ValueType {
	i32 := api.ValueTypeI32
	switch s {
	case SigUnary, SigDealloc:
		return []api.ValueType{i32}
	case SigBinary, SigAlloc:
		return []api.ValueType{i32, i32}
	case SigTernary, SigInit:
		return []api.ValueType{i32, i32, i32}
	}
	return nil
}

// Results returns the wasm result types of the signature.
func (s Sig) Results() []api.ValueType {
	if s == SigDealloc {
		return nil
	}
	return []api.ValueType{api.ValueTypeI32}
}

func sigOf(fn any) (Sig, bool) {
	switch fn.(type) {
	case objbridge.UnaryFunc:
		return SigUnary, true
	case objbridge.BinaryFunc:
		return SigBinary, true
	case objbridge.TernaryFunc:
		return SigTernary, true
	case objbridge.InitFunc:
		return SigInit, true
	case objbridge.DeallocFunc:
		return SigDealloc, true
	case objbridge.AllocFunc:
		return SigAlloc, true
	}
	return 0, false
}

// Resolve turns a function pointer read from foreign memory into a callable
// of type F. Code space entries are returned directly, or adapted when they
// are API table Funcs. Other addresses go through the dynamic resolver.
func Resolve[F any](cs *CodeSpace, addr objbridge.Addr) (F, error) {
	var zero F
	if addr == 0 {
		return zero, errors.NullReference(errors.PhaseDispatch, "call through null function pointer")
	}
	sig, ok := sigOf(zero)
	if !ok {
		return zero, errors.Unsupported(errors.PhaseDispatch, fmt.Sprintf("callable type %T", zero))
	}

	var fn any
	if IsCode(addr) {
		v, ok := cs.Lookup(addr)
		if !ok {
			return zero, errors.LookupFailed(errors.PhaseDispatch, uint32(addr))
		}
		fn = v
	} else {
		d := cs.Dynamic()
		if d == nil {
			return zero, errors.New(errors.PhaseDispatch, errors.KindNotInitialized).
				Value(uint32(addr)).
				Detail("no resolver for function pointer %#x", uint32(addr)).
				Build()
		}
		v, err := d(addr, sig)
		if err != nil {
			return zero, err
		}
		fn = v
	}

	switch f := fn.(type) {
	case F:
		return f, nil
	case Func:
		out, err := adapt(f, sig)
		if err != nil {
			return zero, err
		}
		return out.(F), nil
	}
	return zero, errors.TypeMismatch(errors.PhaseDispatch, nil, fmt.Sprintf("%T", fn), sig.String())
}

// adapt wraps a stack-convention Func as a typed callable.
func adapt(f Func, sig Sig) (any, error) {
	if len(f.Params) != len(sig.Params()) || len(f.Results) != len(sig.Results()) {
		return nil, errors.TypeMismatch(errors.PhaseDispatch, []string{f.Name}, "apitable.Func", sig.String())
	}
	call := func(ctx context.Context, args ...uint64) uint64 {
		stack := make([]uint64, max(len(args), 1))
		copy(stack, args)
		f.Handler(ctx, stack)
		return stack[0]
	}
	ptr := func(a objbridge.Addr) uint64 { return api.EncodeU32(uint32(a)) }

	switch sig {
	case SigUnary:
		return objbridge.UnaryFunc(func(ctx context.Context, a objbridge.Addr) objbridge.Addr {
			return objbridge.Addr(uint32(call(ctx, ptr(a))))
		}), nil
	case SigBinary:
		return objbridge.BinaryFunc(func(ctx context.Context, a, b objbridge.Addr) objbridge.Addr {
			return objbridge.Addr(uint32(call(ctx, ptr(a), ptr(b))))
		}), nil
	case SigTernary:
		return objbridge.TernaryFunc(func(ctx context.Context, a, b, c objbridge.Addr) objbridge.Addr {
			return objbridge.Addr(uint32(call(ctx, ptr(a), ptr(b), ptr(c))))
		}), nil
	case SigInit:
		return objbridge.InitFunc(func(ctx context.Context, self, args, kwargs objbridge.Addr) int32 {
			return api.DecodeI32(call(ctx, ptr(self), ptr(args), ptr(kwargs)))
		}), nil
	case SigDealloc:
		return objbridge.DeallocFunc(func(ctx context.Context, obj objbridge.Addr) {
			call(ctx, ptr(obj))
		}), nil
	case SigAlloc:
		return objbridge.AllocFunc(func(ctx context.Context, typ objbridge.Addr, n int32) objbridge.Addr {
			return objbridge.Addr(uint32(call(ctx, ptr(typ), api.EncodeI32(n))))
		}), nil
	}
	return nil, errors.Unsupported(errors.PhaseDispatch, "signature "+sig.String())
}
