// Package wasmloader loads coremesh modules compiled to WebAssembly, the
// sandboxed counterpart to the native plugin.Open loader in
// internal/module, using github.com/wasmerio/wasmer-go/wasmer. A .wasm
// package covers the native four-symbol ABI with wasm exports for module
// count, module name, create and destroy, and must also export
// initialize, start and shutdown functions and its linear memory.
package wasmloader

import (
	"context"
	"fmt"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/coremesh/coremesh/internal/corerr"
	"github.com/coremesh/coremesh/internal/module"
)

// Exported function names a coremesh .wasm package must provide. A wasm
// module cannot export a Go closure the way a native plugin can, so the
// contract is expressed in plain i32 handles and a shared linear-memory
// string protocol instead of live object pointers.
const (
	exportModuleCount    = "coremesh_module_count"
	exportModuleName     = "coremesh_module_name"
	exportCreateModule   = "coremesh_create_module"
	exportDestroyModule  = "coremesh_destroy_module"
	exportModuleInit     = "coremesh_module_initialize"
	exportModuleStart    = "coremesh_module_start"
	exportModuleShutdown = "coremesh_module_shutdown"
	exportMemory         = "memory"
)

// Loader instantiates one wasmer module per package path and exposes the
// modules it advertises as module.Base instances.
type Loader struct {
	mu        sync.Mutex
	instances map[string]*wasmPkg // pkg path -> instance
}

func New() *Loader {
	return &Loader{instances: make(map[string]*wasmPkg)}
}

type wasmPkg struct {
	instance *wasmer.Instance
	memory   *wasmer.Memory

	moduleCount    func(...interface{}) (interface{}, error)
	moduleName     func(...interface{}) (interface{}, error)
	createModule   func(...interface{}) (interface{}, error)
	destroyModule  func(...interface{}) (interface{}, error)
	initModule     func(...interface{}) (interface{}, error)
	startModule    func(...interface{}) (interface{}, error)
	shutdownModule func(...interface{}) (interface{}, error)
}

// LoadPkg reads the wasm binary at path, instantiates it, and returns one
// module.Base adapter per advertised module name, plus the names in the
// order the package exported them (coremesh_module_name(0..count)), so
// callers can register modules deterministically instead of ranging over
// the returned map.
func (l *Loader) LoadPkg(path string, wasmBytes []byte) (map[string]module.Base, []string, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	mod, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, nil, corerr.New(corerr.SystemCallFailed, "wasmloader.LoadPkg", err)
	}
	instance, err := wasmer.NewInstance(mod, wasmer.NewImportObject())
	if err != nil {
		return nil, nil, corerr.New(corerr.SystemCallFailed, "wasmloader.LoadPkg", err)
	}

	pkg := &wasmPkg{instance: instance}
	for name, fn := range map[string]*func(...interface{}) (interface{}, error){
		exportModuleCount:    &pkg.moduleCount,
		exportModuleName:     &pkg.moduleName,
		exportCreateModule:   &pkg.createModule,
		exportDestroyModule:  &pkg.destroyModule,
		exportModuleInit:     &pkg.initModule,
		exportModuleStart:    &pkg.startModule,
		exportModuleShutdown: &pkg.shutdownModule,
	} {
		f, err := instance.Exports.GetFunction(name)
		if err != nil {
			return nil, nil, corerr.Newf(corerr.SystemCallFailed, "wasmloader.LoadPkg", "package %s missing export %s: %v", path, name, err)
		}
		*fn = f
	}
	mem, err := instance.Exports.GetMemory(exportMemory)
	if err != nil {
		return nil, nil, corerr.New(corerr.SystemCallFailed, "wasmloader.LoadPkg", err)
	}
	pkg.memory = mem

	countV, err := pkg.moduleCount()
	if err != nil {
		return nil, nil, corerr.New(corerr.SystemCallFailed, "wasmloader.LoadPkg", err)
	}
	count, ok := countV.(int32)
	if !ok {
		return nil, nil, corerr.Newf(corerr.SystemCallFailed, "wasmloader.LoadPkg", "package %s: %s returned non-i32", path, exportModuleCount)
	}

	result := make(map[string]module.Base, count)
	order := make([]string, 0, count)
	for i := int32(0); i < count; i++ {
		nameBytes, err := pkg.readStringResult(pkg.moduleName, i)
		if err != nil {
			return nil, nil, corerr.New(corerr.SystemCallFailed, "wasmloader.LoadPkg", err)
		}
		name := string(nameBytes)
		result[name] = &wasmModuleAdapter{pkg: pkg, name: name, index: i}
		order = append(order, name)
	}

	l.mu.Lock()
	l.instances[path] = pkg
	l.mu.Unlock()
	return result, order, nil
}

// readStringResult calls fn(args...) expecting it to return a (ptr, len)
// pair addressing a region of the module's linear memory, and copies that
// region out before the next call can invalidate it.
func (p *wasmPkg) readStringResult(fn func(...interface{}) (interface{}, error), args ...interface{}) ([]byte, error) {
	raw, err := fn(args...)
	if err != nil {
		return nil, err
	}
	packed, ok := raw.(int64)
	if !ok {
		return nil, fmt.Errorf("wasmloader: expected packed (ptr<<32|len) i64 result, got %T", raw)
	}
	ptr := uint32(packed >> 32)
	length := uint32(packed & 0xFFFFFFFF)

	data := p.memory.Data()
	if uint64(ptr)+uint64(length) > uint64(len(data)) {
		return nil, fmt.Errorf("wasmloader: string result out of bounds")
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out, nil
}

// wasmModuleAdapter makes one exported wasm module satisfy module.Base.
// Initialize does not forward the CoreProxy across the sandbox boundary;
// a wasm module only sees the host services it was explicitly linked
// against via its ImportObject, never the live Go CoreProxy value.
type wasmModuleAdapter struct {
	pkg    *wasmPkg
	name   string
	index  int32 // position in the package's advertised name list
	handle int32
}

func (a *wasmModuleAdapter) Info() module.DetailInfo {
	return module.DetailInfo{Name: a.name}
}

// Initialize creates the module instance inside the sandbox by index: a
// wasm export only accepts numeric arguments, so the name the index maps
// to was already read out via coremesh_module_name at load time.
func (a *wasmModuleAdapter) Initialize(_ context.Context, _ *module.CoreProxy) error {
	h, err := a.pkg.createModule(a.index)
	if err != nil {
		return corerr.New(corerr.ModuleLifecycleFailed, "wasmModuleAdapter.Initialize", err)
	}
	handle, ok := h.(int32)
	if !ok {
		return corerr.Newf(corerr.ModuleLifecycleFailed, "wasmModuleAdapter.Initialize", "module %s: create returned non-i32 handle", a.name)
	}
	a.handle = handle

	rc, err := a.pkg.initModule(a.handle)
	if err != nil {
		return corerr.New(corerr.ModuleLifecycleFailed, "wasmModuleAdapter.Initialize", err)
	}
	if code, _ := rc.(int32); code != 0 {
		return corerr.Newf(corerr.ModuleLifecycleFailed, "wasmModuleAdapter.Initialize", "module %s: initialize returned code %v", a.name, rc)
	}
	return nil
}

func (a *wasmModuleAdapter) Start(_ context.Context) error {
	rc, err := a.pkg.startModule(a.handle)
	if err != nil {
		return corerr.New(corerr.ModuleLifecycleFailed, "wasmModuleAdapter.Start", err)
	}
	if code, _ := rc.(int32); code != 0 {
		return corerr.Newf(corerr.ModuleLifecycleFailed, "wasmModuleAdapter.Start", "module %s: start returned code %v", a.name, rc)
	}
	return nil
}

func (a *wasmModuleAdapter) Shutdown(_ context.Context) error {
	if _, err := a.pkg.shutdownModule(a.handle); err != nil {
		return corerr.New(corerr.ModuleLifecycleFailed, "wasmModuleAdapter.Shutdown", err)
	}
	_, err := a.pkg.destroyModule(a.handle)
	return err
}

var _ module.Base = (*wasmModuleAdapter)(nil)
