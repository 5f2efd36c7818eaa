package object

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	objbridge "github.com/wippyai/objbridge"
)

// Callable is the managed calling convention: positional arguments plus
// optional keyword arguments.
type Callable func(ctx context.Context, args []any, kwargs *Dict) (any, error)

// Function is a module-level callable.
type Function struct {
	Fn   Callable
	Name string
	Doc  string
}

// Call invokes the function with positional arguments.
func (f *Function) Call(ctx context.Context, args ...any) (any, error) {
	return f.Fn(ctx, args, nil)
}

// CallKw invokes the function with positional and keyword arguments.
func (f *Function) CallKw(ctx context.Context, args []any, kwargs *Dict) (any, error) {
	return f.Fn(ctx, args, kwargs)
}

func (f *Function) String() string {
	return "<built-in function " + f.Name + ">"
}

// Module is a namespace created by a native extension.
type Module struct {
	attrs map[string]any
	Name  string
	Doc   string
	names []string
	mu    sync.RWMutex
}

// NewModule creates an empty module.
func NewModule(name, doc string) *Module {
	return &Module{
		Name:  name,
		Doc:   doc,
		attrs: make(map[string]any),
	}
}

// Set binds an attribute.
func (m *Module) Set(name string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attrs[name]; !ok {
		m.names = append(m.names, name)
	}
	m.attrs[name] = v
}

// Get returns an attribute.
func (m *Module) Get(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.attrs[name]
	return v, ok
}

// Names returns attribute names in definition order.
func (m *Module) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Call calls a module attribute with positional arguments.
func (m *Module) Call(ctx context.Context, name string, args ...any) (any, error) {
	return m.CallKw(ctx, name, args, nil)
}

// CallKw calls a module attribute. Functions are called directly; classes
// are instantiated.
func (m *Module) CallKw(ctx context.Context, name string, args []any, kwargs *Dict) (any, error) {
	v, ok := m.Get(name)
	if !ok {
		return nil, AttributeError.New("'module' object has no attribute '%s'", name)
	}
	switch f := v.(type) {
	case *Function:
		return f.Fn(ctx, args, kwargs)
	case *Class:
		inst, err := f.New(ctx, args, kwargs)
		if err != nil {
			return nil, err
		}
		return inst, nil
	}
	return nil, TypeError.New("'%s' object is not callable", TypeOf(v).Name)
}

func (m *Module) String() string {
	return "<module '" + m.Name + "' (built-in)>"
}

// MethodFunc is a method bound at call time to its receiver.
type MethodFunc func(ctx context.Context, self *Instance, args []any, kwargs *Dict) (any, error)

// Method is a class attribute callable on instances.
type Method struct {
	Fn   MethodFunc
	Name string
	Doc  string
}

// Constructor creates a new instance of a class.
type Constructor func(ctx context.Context, cls *Class, args []any, kwargs *Dict) (*Instance, error)

// Class is a managed class generated from a foreign type object.
type Class struct {
	Construct Constructor
	methods   map[string]*Method
	Name      string
	Module    string
	Doc       string
	order     []string
	Ptr       objbridge.Addr
}

// NewClass creates a class for the type object at ptr.
func NewClass(name, module, doc string, ptr objbridge.Addr) *Class {
	return &Class{
		Name:    name,
		Module:  module,
		Doc:     doc,
		Ptr:     ptr,
		methods: make(map[string]*Method),
	}
}

// AddMethod adds or replaces a method.
func (c *Class) AddMethod(m *Method) {
	if _, ok := c.methods[m.Name]; !ok {
		c.order = append(c.order, m.Name)
	}
	c.methods[m.Name] = m
}

// Method looks up a method by name.
func (c *Class) Method(name string) (*Method, bool) {
	m, ok := c.methods[name]
	return m, ok
}

// Methods returns method names in definition order.
func (c *Class) Methods() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// New creates an instance.
func (c *Class) New(ctx context.Context, args []any, kwargs *Dict) (*Instance, error) {
	if c.Construct == nil {
		return nil, TypeError.New("cannot create '%s.%s' instances", c.Module, c.Name)
	}
	return c.Construct(ctx, c, args, kwargs)
}

func (c *Class) String() string {
	return "<class '" + c.Module + "." + c.Name + "'>"
}

// Bridged is a managed wrapper around a foreign instance. The wrapper owns
// one reference to the foreign object while bound.
type Bridged interface {
	ForeignPtr() objbridge.Addr
	BindForeign(addr objbridge.Addr)
}

// Instance is an instance of a generated class.
type Instance struct {
	Class *Class
	ptr   atomic.Uint32
}

var _ Bridged = (*Instance)(nil)

// NewInstance creates an instance bound to ptr, which may be 0.
func NewInstance(cls *Class, ptr objbridge.Addr) *Instance {
	i := &Instance{Class: cls}
	i.ptr.Store(uint32(ptr))
	return i
}

// ForeignPtr returns the bound foreign object, or 0.
func (i *Instance) ForeignPtr() objbridge.Addr {
	return objbridge.Addr(i.ptr.Load())
}

// BindForeign binds the instance to a foreign object. 0 unbinds it.
func (i *Instance) BindForeign(addr objbridge.Addr) {
	i.ptr.Store(uint32(addr))
}

// Call calls a method with positional arguments.
func (i *Instance) Call(ctx context.Context, name string, args ...any) (any, error) {
	return i.CallKw(ctx, name, args, nil)
}

// CallKw calls a method with positional and keyword arguments.
func (i *Instance) CallKw(ctx context.Context, name string, args []any, kwargs *Dict) (any, error) {
	m, ok := i.Class.Method(name)
	if !ok {
		return nil, AttributeError.New("'%s' object has no attribute '%s'", i.Class.Name, name)
	}
	return m.Fn(ctx, i, args, kwargs)
}

func (i *Instance) String() string {
	return fmt.Sprintf("<%s.%s object at %#x>", i.Class.Module, i.Class.Name, uint32(i.ForeignPtr()))
}
