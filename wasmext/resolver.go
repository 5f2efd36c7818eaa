package wasmext

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/apitable"
	"github.com/wippyai/objbridge/errors"
)

// dynCalls names the guest trampolines that call a function table index
// with a given signature: dynCall_iii(fp, a, b) calls fp(a, b).
var dynCalls = map[apitable.Sig]string{
	apitable.SigUnary:   "dynCall_ii",
	apitable.SigBinary:  "dynCall_iii",
	apitable.SigTernary: "dynCall_iiii",
	apitable.SigInit:    "dynCall_iiii",
	apitable.SigDealloc: "dynCall_vi",
	apitable.SigAlloc:   "dynCall_iii",
}

// resolver turns guest function pointers into typed callables.
type resolver struct {
	guest api.Module
	fail  func(error)

	mu    sync.Mutex
	tramp map[apitable.Sig]api.Function
}

func newResolver(guest api.Module, fail func(error)) *resolver {
	return &resolver{guest: guest, fail: fail, tramp: make(map[apitable.Sig]api.Function)}
}

// trampoline returns the dynCall export for sig and checks its type.
func (r *resolver) trampoline(sig apitable.Sig) (api.Function, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn, ok := r.tramp[sig]; ok {
		return fn, nil
	}
	name, ok := dynCalls[sig]
	if !ok {
		return nil, errors.Unsupported(errors.PhaseDispatch, "signature "+sig.String())
	}
	fn := r.guest.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseDispatch, "guest export", name)
	}
	def := fn.Definition()
	params := append([]api.ValueType{api.ValueTypeI32}, sig.Params()...)
	if !slices.Equal(def.ParamTypes(), params) || !slices.Equal(def.ResultTypes(), sig.Results()) {
		return nil, errors.New(errors.PhaseDispatch, errors.KindTypeMismatch).
			Path(name).
			Detail("trampoline does not match %s signature", sig).
			Build()
	}
	r.tramp[sig] = fn
	return fn, nil
}

// resolve implements apitable.Dynamic. A trap inside the guest is recorded
// as the pending error and the call reports failure the way native code
// would: NULL, or -1 from an init slot.
func (r *resolver) resolve(addr objbridge.Addr, sig apitable.Sig) (any, error) {
	fn, err := r.trampoline(sig)
	if err != nil {
		return nil, err
	}
	fp := api.EncodeU32(uint32(addr))
	call := func(ctx context.Context, args ...uint64) (uint64, bool) {
		res, err := fn.Call(ctx, append([]uint64{fp}, args...)...)
		if err != nil {
			Logger().Warn("guest call trapped",
				zap.String("function", fmt.Sprintf("%#x", uint32(addr))),
				zap.Stringer("sig", sig),
				zap.Error(err))
			r.fail(errors.Wrap(errors.PhaseDispatch, errors.KindTrap, err, fmt.Sprintf("guest function %#x", uint32(addr))))
			return 0, false
		}
		if len(res) == 0 {
			return 0, true
		}
		return res[0], true
	}
	ptr := func(a objbridge.Addr) uint64 { return api.EncodeU32(uint32(a)) }
	addrOf := func(v uint64, _ bool) objbridge.Addr { return objbridge.Addr(api.DecodeU32(v)) }

	switch sig {
	case apitable.SigUnary:
		return objbridge.UnaryFunc(func(ctx context.Context, a objbridge.Addr) objbridge.Addr {
			return addrOf(call(ctx, ptr(a)))
		}), nil
	case apitable.SigBinary:
		return objbridge.BinaryFunc(func(ctx context.Context, a, b objbridge.Addr) objbridge.Addr {
			return addrOf(call(ctx, ptr(a), ptr(b)))
		}), nil
	case apitable.SigTernary:
		return objbridge.TernaryFunc(func(ctx context.Context, a, b, c objbridge.Addr) objbridge.Addr {
			return addrOf(call(ctx, ptr(a), ptr(b), ptr(c)))
		}), nil
	case apitable.SigInit:
		return objbridge.InitFunc(func(ctx context.Context, self, args, kwargs objbridge.Addr) int32 {
			v, ok := call(ctx, ptr(self), ptr(args), ptr(kwargs))
			if !ok {
				return -1
			}
			return api.DecodeI32(v)
		}), nil
	case apitable.SigDealloc:
		return objbridge.DeallocFunc(func(ctx context.Context, obj objbridge.Addr) {
			call(ctx, ptr(obj))
		}), nil
	case apitable.SigAlloc:
		return objbridge.AllocFunc(func(ctx context.Context, typ objbridge.Addr, n int32) objbridge.Addr {
			return addrOf(call(ctx, ptr(typ), api.EncodeI32(n)))
		}), nil
	}
	return nil, errors.Unsupported(errors.PhaseDispatch, "signature "+sig.String())
}
