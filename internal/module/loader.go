package module

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/coremesh/coremesh/internal/corerr"
)

// The four symbols a package (Go plugin) must export. Go's plugin
// package is the only facility in the language for dlopen-style dynamic
// loading of compiled code, so this seam has no library alternative.
const (
	symGetModuleNum      = "CoremeshGetModuleNum"
	symGetModuleNameList = "CoremeshGetModuleNameList"
	symCreateModule      = "CoremeshCreateModule"
	symDestroyModule     = "CoremeshDestroyModule"
)

// PkgOptions mirrors one module.pkgs config entry: a package path plus
// optional enable/disable module-name filters.
type PkgOptions struct {
	Path           string
	DisableModules []string
	EnableModules  []string
}

// loadedModule pairs a running module instance with the destructor
// closure its owning package exposed, so Manager can release it cleanly.
type loadedModule struct {
	name    string
	base    Base
	destroy func(Base)
}

// PkgLoader opens Go plugin packages and instantiates the modules they
// export, applying enable/disable filtering and duplicate detection.
type PkgLoader struct {
	mu      sync.Mutex
	loaded  map[string]*loadedModule // module name -> instance
	pkgSyms map[string]*pkgSymbols   // pkg path -> resolved symbols, for Shutdown
}

type pkgSymbols struct {
	createModule  func(string) Base
	destroyModule func(Base)
	moduleNames   []string
}

func NewPkgLoader() *PkgLoader {
	return &PkgLoader{
		loaded:  make(map[string]*loadedModule),
		pkgSyms: make(map[string]*pkgSymbols),
	}
}

// LoadPkg opens the plugin at opts.Path, resolves the four required
// symbols, and instantiates every module name the package advertises
// that survives the enable/disable filter (enable wins over disable). It
// returns the Base instances keyed by name, plus the surviving names in
// the package's own GetModuleNameList order, so the caller (Manager) can
// register them in that deterministic order instead of ranging over the
// map.
func (l *PkgLoader) LoadPkg(opts PkgOptions) (map[string]Base, []string, error) {
	p, err := plugin.Open(opts.Path)
	if err != nil {
		return nil, nil, corerr.New(corerr.SystemCallFailed, "LoadPkg", err)
	}

	getNum, err := lookup[func() int](p, symGetModuleNum)
	if err != nil {
		return nil, nil, err
	}
	getNames, err := lookup[func() []string](p, symGetModuleNameList)
	if err != nil {
		return nil, nil, err
	}
	create, err := lookup[func(string) Base](p, symCreateModule)
	if err != nil {
		return nil, nil, err
	}
	destroy, err := lookup[func(Base)](p, symDestroyModule)
	if err != nil {
		return nil, nil, err
	}

	n := getNum()
	names := getNames()
	if len(names) != n {
		return nil, nil, corerr.Newf(corerr.IllegalState, "LoadPkg",
			"package %s: name count %d does not match GetModuleNum %d", opts.Path, len(names), n)
	}

	enabled := toSet(opts.EnableModules)
	disabled := toSet(opts.DisableModules)

	l.mu.Lock()
	defer l.mu.Unlock()

	result := make(map[string]Base)
	order := make([]string, 0, len(names))
	for _, name := range names {
		if len(enabled) > 0 {
			if _, ok := enabled[name]; !ok {
				continue
			}
		} else if _, ok := disabled[name]; ok {
			continue
		}

		if _, dup := l.loaded[name]; dup {
			return nil, nil, corerr.Newf(corerr.IllegalArgument, "LoadPkg", "duplicate module name %q across packages", name)
		}

		base := create(name)
		if base == nil {
			return nil, nil, corerr.Newf(corerr.ModuleLifecycleFailed, "LoadPkg", "package %s: CreateModule(%q) returned nil", opts.Path, name)
		}
		if base.Info().Name != name {
			return nil, nil, corerr.Newf(corerr.IllegalState, "LoadPkg",
				"package %s: module reports name %q, requested %q", opts.Path, base.Info().Name, name)
		}

		l.loaded[name] = &loadedModule{name: name, base: base, destroy: destroy}
		result[name] = base
		order = append(order, name)
	}

	l.pkgSyms[opts.Path] = &pkgSymbols{createModule: create, destroyModule: destroy, moduleNames: names}
	return result, order, nil
}

// Unload destroys every module this loader instantiated, via each
// package's destructor symbol. Errors are collected, not short-circuited,
// so one misbehaving package cannot strand the rest.
func (l *PkgLoader) Unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for name, lm := range l.loaded {
		func() {
			defer func() {
				if r := recover(); r != nil && firstErr == nil {
					firstErr = corerr.Newf(corerr.SystemCallFailed, "Unload", "module %s destructor panicked: %v", name, r)
				}
			}()
			lm.destroy(lm.base)
		}()
		delete(l.loaded, name)
	}
	return firstErr
}

func lookup[T any](p *plugin.Plugin, symName string) (T, error) {
	var zero T
	sym, err := p.Lookup(symName)
	if err != nil {
		return zero, corerr.New(corerr.SystemCallFailed, "LoadPkg", fmt.Errorf("missing symbol %s: %w", symName, err))
	}
	fn, ok := sym.(T)
	if !ok {
		return zero, corerr.Newf(corerr.SystemCallFailed, "LoadPkg", "symbol %s has unexpected type %T", symName, sym)
	}
	return fn, nil
}

func toSet(vals []string) map[string]struct{} {
	if len(vals) == 0 {
		return nil
	}
	s := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}
