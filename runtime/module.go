package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/apitable"
	"github.com/wippyai/objbridge/dispatch"
	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/memory"
)

// maxMethodDefs bounds the scan of a PyMethodDef array whose sentinel is
// missing.
const maxMethodDefs = 4096

// MethodShape maps PyMethodDef flags to a call shape. ok is false for flag
// combinations the dispatcher does not support.
func MethodShape(flags int32) (shape dispatch.Shape, ok bool) {
	switch flags {
	case memory.MethNoArgs:
		return dispatch.NoArgs, true
	case memory.MethO:
		return dispatch.ObjArg, true
	case memory.MethVarArgs:
		return dispatch.VarArgs, true
	case memory.MethVarArgs | memory.MethKeywords:
		return dispatch.KwArgs, true
	}
	return 0, false
}

// methodDefs reads a NULL-terminated PyMethodDef array. Entries with
// unsupported flags are logged and skipped.
func (r *Runtime) methodDefs(ctx context.Context, owner string, defs objbridge.Addr) ([]*dispatch.Descriptor, error) {
	if defs == 0 {
		return nil, nil
	}
	mem := r.heap.Memory()
	var out []*dispatch.Descriptor
	for i := range maxMethodDefs {
		v := memory.NewView(mem, memory.MethodDef, defs+objbridge.Addr(i*int(memory.MethodDef.Size)))
		namePtr, err := v.ReadPtr("ml_name")
		if err != nil {
			return nil, err
		}
		if namePtr == 0 {
			return out, nil
		}
		name, err := memory.ReadCString(mem, namePtr)
		if err != nil {
			return nil, err
		}
		flags, err := v.ReadInt("ml_flags")
		if err != nil {
			return nil, err
		}
		shape, ok := MethodShape(flags)
		if !ok {
			Logger().Warn("skipping method with unsupported flags",
				zap.String("owner", owner),
				zap.String("method", name),
				zap.String("flags", fmt.Sprintf("%#x", flags)))
			continue
		}
		desc, err := r.methodDescriptor(v, name, shape)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLoad, errors.KindRegistration, err, owner+"."+name)
		}
		out = append(out, desc)
	}
	return nil, errors.InvalidData(errors.PhaseLoad, []string{owner}, "method table has no sentinel")
}

func (r *Runtime) methodDescriptor(v memory.View, name string, shape dispatch.Shape) (*dispatch.Descriptor, error) {
	meth, err := v.ReadPtr("ml_meth")
	if err != nil {
		return nil, err
	}
	var fn any
	if shape == dispatch.KwArgs {
		fn, err = apitable.Resolve[objbridge.TernaryFunc](r.code, meth)
	} else {
		fn, err = apitable.Resolve[objbridge.BinaryFunc](r.code, meth)
	}
	if err != nil {
		return nil, err
	}
	desc, err := dispatch.NewDescriptor(name, shape, fn)
	if err != nil {
		return nil, err
	}
	docPtr, err := v.ReadPtr("ml_doc")
	if err != nil {
		return nil, err
	}
	doc, err := optCString(r.heap.Memory(), docPtr)
	if err != nil {
		return nil, err
	}
	return desc.WithDoc(doc), nil
}
