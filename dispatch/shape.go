package dispatch

import (
	"context"
	"fmt"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/errors"
)

// Shape is a foreign calling convention.
type Shape uint8

const (
	// NoArgs calls fn(self, NULL).
	NoArgs Shape = iota
	// ObjArg calls fn(self, arg) with exactly one stored argument.
	ObjArg
	// VarArgs calls fn(self, args) with the positional arguments as a tuple.
	VarArgs
	// KwArgs calls fn(self, args, kwargs); kwargs is NULL when empty.
	KwArgs
	// SelfArg calls fn(self) with no managed arguments.
	SelfArg
	// Construct calls tp_new(type, args, kwargs) and binds the result to a
	// managed wrapper.
	Construct
	// Init calls tp_init(self, args, kwargs) and checks the status.
	Init
)

var shapeNames = [...]string{
	NoArgs:    "noargs",
	ObjArg:    "objarg",
	VarArgs:   "varargs",
	KwArgs:    "kwargs",
	SelfArg:   "selfarg",
	Construct: "construct",
	Init:      "init",
}

func (s Shape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return fmt.Sprintf("shape(%d)", uint8(s))
}

// takesKwargs reports whether keyword arguments are passed to the callable.
func (s Shape) takesKwargs() bool {
	return s == KwArgs || s == Construct || s == Init
}

// ErrorHook inspects the raw result of a SelfArg call before the last-error
// slot is checked. A returned error replaces the standard check.
type ErrorHook func(ctx context.Context, result objbridge.Addr) error

// Descriptor describes one dispatchable callable. Descriptors are built
// once, when a module or class is generated, and never change afterwards.
type Descriptor struct {
	fn    any
	hook  ErrorHook
	Name  string
	Doc   string
	Shape Shape
	Bound bool
}

// NewDescriptor checks that fn has the raw signature of shape:
//
//	NoArgs, ObjArg, VarArgs  objbridge.BinaryFunc
//	KwArgs, Construct        objbridge.TernaryFunc
//	SelfArg                  objbridge.UnaryFunc
//	Init                     objbridge.InitFunc
func NewDescriptor(name string, shape Shape, fn any) (*Descriptor, error) {
	var ok bool
	switch shape {
	case NoArgs, ObjArg, VarArgs:
		_, ok = fn.(objbridge.BinaryFunc)
	case KwArgs, Construct:
		_, ok = fn.(objbridge.TernaryFunc)
	case SelfArg:
		_, ok = fn.(objbridge.UnaryFunc)
	case Init:
		_, ok = fn.(objbridge.InitFunc)
	default:
		return nil, errors.Unsupported(errors.PhaseDispatch, "call shape "+shape.String())
	}
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseDispatch, []string{name}, fmt.Sprintf("%T", fn), shape.String())
	}
	return &Descriptor{fn: fn, Name: name, Shape: shape}, nil
}

// WithDoc returns a copy of d with a docstring.
func (d *Descriptor) WithDoc(doc string) *Descriptor {
	c := *d
	c.Doc = doc
	return &c
}

// Method returns a copy of d bound to a receiver.
func (d *Descriptor) Method() *Descriptor {
	c := *d
	c.Bound = true
	return &c
}

// WithHook returns a copy of d with an error hook. Only SelfArg callables
// take one.
func (d *Descriptor) WithHook(h ErrorHook) (*Descriptor, error) {
	if d.Shape != SelfArg {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "error hook on "+d.Shape.String()+" callable "+d.Name)
	}
	c := *d
	c.hook = h
	return &c, nil
}

// Hooked reports whether d has an error hook.
func (d *Descriptor) Hooked() bool { return d.hook != nil }
