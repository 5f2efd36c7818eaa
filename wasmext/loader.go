package wasmext

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/objbridge/apitable"
	"github.com/wippyai/objbridge/errors"
	"github.com/wippyai/objbridge/memory"
	"github.com/wippyai/objbridge/runtime"
)

const (
	// EnvModule is the module guests import their linear memory from.
	EnvModule = "env"
	// MemoryExport is the name of the shared memory in EnvModule.
	MemoryExport = "memory"
	// InitPrefix prefixes the module init export: initspam for module spam.
	InitPrefix = "init"
)

// Extension is a native extension module loaded from a wasm32 binary.
type Extension struct {
	name   string
	wz     wazero.Runtime
	rt     *runtime.Runtime
	guest  api.Module
	module *runtime.Module

	closeOnce sync.Once
	closeErr  error
}

// LoadFile reads a wasm extension from path. The module name is the file
// name without its extension.
func LoadFile(ctx context.Context, path string, cfg runtime.Config) (*Extension, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Load(ctx, name, bin, cfg)
}

// Load instantiates a wasm extension and runs its init function.
//
// The guest must import its memory as env.memory and the API from the
// objbridge host module. Exported mutable i32 globals named after API data
// symbols (PyExc_TypeError and so on) are set to the symbol addresses
// before init runs. Function pointers the guest stores in method tables and
// type slots are called through its dynCall_* exports.
func Load(ctx context.Context, name string, wasm []byte, cfg runtime.Config) (_ *Extension, err error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseLoad, "extension name is empty")
	}
	if cfg.Logger != nil {
		SetLogger(cfg.Logger.Named("wasmext"))
	}
	limit, err := cfg.MemoryLimitPages()
	if err != nil {
		return nil, err
	}
	pages := cfg.MemoryPages
	if pages == 0 {
		pages = runtime.DefaultConfig().MemoryPages
	}

	wz := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(limit))
	e := &Extension{name: name, wz: wz}
	defer func() {
		if err == nil {
			return
		}
		if cerr := e.Close(ctx); cerr != nil {
			Logger().Warn("close after failed load", zap.String("name", name), zap.Error(cerr))
			return
		}
		Logger().Debug("released failed extension", zap.String("name", name), zap.Error(err))
	}()

	env, err := wz.InstantiateWithConfig(ctx, envModule(pages, limit), wazero.NewModuleConfig().WithName(EnvModule))
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	if e.rt, err = runtime.NewWithMemory(ctx, memory.Wrap(env.ExportedMemory(MemoryExport)), cfg); err != nil {
		return nil, err
	}
	if _, err = apitable.InstallHost(ctx, wz, apitable.HostModule, e.rt.Table()); err != nil {
		return nil, err
	}

	compiled, err := wz.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile "+name, err)
	}
	if err = checkMemoryImport(compiled); err != nil {
		return nil, err
	}
	e.guest, err = wz.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name).WithStartFunctions())
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	e.rt.Code().SetDynamic(newResolver(e.guest, e.rt.Mapper().SetLastError).resolve)
	patched := e.patchData()
	Logger().Debug("instantiated extension",
		zap.String("name", name),
		zap.Uint32("memory_pages", pages),
		zap.Uint32("memory_limit_pages", limit),
		zap.Int("patched_data", patched))

	if err = e.init(ctx); err != nil {
		return nil, err
	}
	mod, ok := e.rt.Module(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "module", name)
	}
	e.module = mod
	Logger().Info("loaded extension", zap.String("name", name), zap.Strings("names", mod.Names()))
	return e, nil
}

// checkMemoryImport rejects guests that bring their own memory.
func checkMemoryImport(compiled wazero.CompiledModule) error {
	for _, m := range compiled.ImportedMemories() {
		if mod, name, ok := m.Import(); ok && mod == EnvModule && name == MemoryExport {
			return nil
		}
	}
	return errors.New(errors.PhaseLoad, errors.KindInvalidData).
		Detail("guest does not import %s.%s", EnvModule, MemoryExport).
		Build()
}

// patchData points the guest's data symbol globals at the API table's
// static blocks. It returns the number of globals set.
func (e *Extension) patchData() int {
	t := e.rt.Table()
	n := 0
	for _, name := range t.Layout().DataSymbols() {
		g, ok := e.guest.ExportedGlobal(name).(api.MutableGlobal)
		if !ok || g.Type() != api.ValueTypeI32 {
			continue
		}
		addr, ok := t.Data(name)
		if !ok {
			continue
		}
		g.Set(api.EncodeU32(uint32(addr)))
		n++
	}
	return n
}

// init runs the guest's module init function under the boundary lock.
func (e *Extension) init(ctx context.Context) error {
	fname := InitPrefix + e.name
	fn := e.guest.ExportedFunction(fname)
	if fn == nil {
		return errors.NotFound(errors.PhaseLoad, "init function", fname)
	}
	m := e.rt.Mapper()
	ctx, leave, err := m.Enter(ctx)
	if err != nil {
		return err
	}
	defer leave()
	if _, err := fn.Call(ctx); err != nil {
		m.ClearLastError()
		return errors.Wrap(errors.PhaseLoad, errors.KindTrap, err, fname)
	}
	if err := m.TakeLastError(); err != nil {
		return errors.Load(fname+" raised", err)
	}
	return nil
}

// Name returns the extension module name.
func (e *Extension) Name() string { return e.name }

// Module returns the module the extension registered.
func (e *Extension) Module() *runtime.Module { return e.module }

// Runtime returns the runtime hosting the extension.
func (e *Extension) Runtime() *runtime.Runtime { return e.rt }

// Guest returns the instantiated wasm module.
func (e *Extension) Guest() api.Module { return e.guest }

// Call calls a module attribute.
func (e *Extension) Call(ctx context.Context, name string, args ...any) (any, error) {
	if e.module == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "extension "+e.name)
	}
	return e.module.Call(ctx, name, args...)
}

// Close releases the runtime and the wasm engine. It is safe to call more
// than once.
func (e *Extension) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		if e.rt != nil {
			e.closeErr = e.rt.Close()
		}
		if err := e.wz.Close(ctx); err != nil && e.closeErr == nil {
			e.closeErr = errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "close wasm runtime")
		}
	})
	return e.closeErr
}
