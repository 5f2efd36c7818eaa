package runtime

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	objbridge "github.com/wippyai/objbridge"
	"github.com/wippyai/objbridge/apitable"
	"github.com/wippyai/objbridge/dispatch"
	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/mapper"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/object"
)

// Managed views of native extension objects.
type (
	Module   = object.Module
	Class    = object.Class
	Instance = object.Instance
	Function = object.Function
	Method   = object.Method
	Tuple    = object.Tuple
	List     = object.List
	Dict     = object.Dict
)

// Runtime hosts native extensions over one foreign memory: it owns the
// heap, the object registry, the dispatcher and the API table native code
// calls into.
type Runtime struct {
	id         uuid.UUID
	log        *zap.Logger
	heap       *memory.Heap
	code       *apitable.CodeSpace
	mapper     *mapper.Mapper
	dispatcher *dispatch.Dispatcher
	table      *apitable.Table
	modules    map[string]*Module
	names      map[*Module]objbridge.Addr
	mu         sync.Mutex
	closed     bool
}

// New creates a runtime over its own linear memory.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	cfg = cfg.withDefaults()
	return NewWithMemory(ctx, memory.NewLinear(cfg.MemoryPages, 0), cfg)
}

// NewWithMemory creates a runtime whose heap lives in mem above
// cfg.HeapBase. The API table is populated and the builtin types are ready
// when it returns.
func NewWithMemory(ctx context.Context, mem objbridge.Memory, cfg Config) (*Runtime, error) {
	cfg = cfg.withDefaults()
	limit, err := cfg.heapLimit()
	if err != nil {
		return nil, err
	}

	manifest := apitable.DefaultManifest()
	if cfg.ManifestPath != "" {
		if manifest, err = apitable.LoadManifest(cfg.ManifestPath); err != nil {
			return nil, err
		}
	}
	layout, err := manifest.Layout()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	log := zap.NewNop()
	if cfg.Logger != nil {
		log = cfg.Logger.With(zap.String("runtime", id.String()))
		SetLogger(log)
		mapper.SetLogger(log.Named("mapper"))
		dispatch.SetLogger(log.Named("dispatch"))
		memory.SetLogger(log.Named("memory"))
		apitable.SetLogger(log.Named("apitable"))
	}

	heap := memory.NewHeap(mem, cfg.HeapBase, limit)
	code := apitable.NewCodeSpace()
	m := mapper.New(heap, code)
	m.SetGCThreshold(cfg.GCThreshold)

	r := &Runtime{
		id:         id,
		log:        log,
		heap:       heap,
		code:       code,
		mapper:     m,
		dispatcher: dispatch.New(m),
		table:      apitable.New(layout, heap, code),
		modules:    make(map[string]*Module),
		names:      make(map[*Module]objbridge.Addr),
	}

	getter, err := apitable.FuncGetter(code, append(m.API(), r.API()...))
	if err != nil {
		return nil, err
	}
	if err := r.table.Populate(getter, m.SetData); err != nil {
		return nil, err
	}
	if err := m.ReadyBuiltinTypes(ctx); err != nil {
		return nil, err
	}
	m.SetClassFactory(r.classFor)

	log.Debug("runtime ready",
		zap.Int("api_functions", r.table.Len()),
		zap.Int("missing", len(r.table.Missing())),
		zap.Uint32("heap_base", cfg.HeapBase))
	return r, nil
}

// ID returns the runtime's unique id.
func (r *Runtime) ID() uuid.UUID { return r.id }

// Mapper returns the object registry.
func (r *Runtime) Mapper() *mapper.Mapper { return r.mapper }

// Dispatcher returns the call dispatcher.
func (r *Runtime) Dispatcher() *dispatch.Dispatcher { return r.dispatcher }

// Table returns the populated API table.
func (r *Runtime) Table() *apitable.Table { return r.table }

// Code returns the code space holding function pointers.
func (r *Runtime) Code() *apitable.CodeSpace { return r.code }

// Heap returns the foreign heap.
func (r *Runtime) Heap() *memory.Heap { return r.heap }

// Module returns a module created by an extension.
func (r *Runtime) Module(name string) (*Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mod, ok := r.modules[name]
	return mod, ok
}

// Store returns a new foreign reference for v. The caller owns it.
func (r *Runtime) Store(ctx context.Context, v any) (objbridge.Addr, error) {
	ctx, leave, err := r.mapper.Enter(ctx)
	if err != nil {
		return 0, err
	}
	defer leave()
	return r.mapper.Store(ctx, v)
}

// Retrieve returns the Go value of a foreign object.
func (r *Runtime) Retrieve(ctx context.Context, addr objbridge.Addr) (any, error) {
	ctx, leave, err := r.mapper.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	return r.mapper.Retrieve(ctx, addr)
}

// SetGCThreshold sets the number of foreign allocations between wrapper
// sweeps.
func (r *Runtime) SetGCThreshold(n int) { r.mapper.SetGCThreshold(n) }

// GCThreshold returns the sweep threshold.
func (r *Runtime) GCThreshold() int { return r.mapper.GCThreshold() }

// Collect sweeps wrappers now.
func (r *Runtime) Collect(ctx context.Context) error {
	ctx, leave, err := r.mapper.Enter(ctx)
	if err != nil {
		return err
	}
	defer leave()
	return r.mapper.Sweep(ctx)
}

// Dump stores v and writes a hex dump of its foreign object. A zero size
// dumps tp_basicsize + ob_size*tp_itemsize bytes.
func (r *Runtime) Dump(ctx context.Context, w io.Writer, v any, size uint32) (err error) {
	ctx, leave, err := r.mapper.Enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	addr, err := r.mapper.Store(ctx, v)
	if err != nil {
		return err
	}
	defer func() {
		if derr := r.mapper.DecRef(ctx, addr); derr != nil && err == nil {
			err = derr
		}
	}()

	if size == 0 {
		if size, err = r.objectSize(addr); err != nil {
			return err
		}
	}
	return memory.Dump(w, r.heap.Memory(), addr, size)
}

// objectSize computes the size of an object from its type.
func (r *Runtime) objectSize(addr objbridge.Addr) (uint32, error) {
	mem := r.heap.Memory()
	typ, err := r.mapper.TypeOf(addr)
	if err != nil {
		return 0, err
	}
	tv := memory.NewView(mem, memory.TypeObject, typ)
	basic, err := tv.ReadInt("tp_basicsize")
	if err != nil {
		return 0, err
	}
	item, err := tv.ReadInt("tp_itemsize")
	if err != nil {
		return 0, err
	}
	if item == 0 {
		return uint32(basic), nil
	}
	n, err := memory.NewView(mem, memory.VarObjectHead, addr).ReadInt("ob_size")
	if err != nil {
		return 0, err
	}
	return uint32(basic + n*item), nil
}

// Close releases the registry, the API table and the heap. Foreign memory
// is left as is.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	clear(r.modules)
	clear(r.names)
	r.mu.Unlock()

	var firstErr error
	for _, c := range []io.Closer{r.mapper, r.table, r.code, r.heap} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errors.Wrap(errors.PhaseMemory, errors.KindInvalidData, firstErr, "close runtime")
	}
	r.log.Debug("runtime closed")
	return nil
}
