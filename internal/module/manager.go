package module

import (
	"context"
	"sync"

	"github.com/coremesh/coremesh/internal/corerr"
	"github.com/coremesh/coremesh/internal/logger"
)

// ModuleOptions is a module's entry from the module.modules config list:
// enable/disable, per-module log level override, and cfg file path.
type ModuleOptions struct {
	Name        string
	Enable      *bool // nil means default enabled
	LogLvl      string
	CfgFilePath string
}

func (o ModuleOptions) enabled() bool {
	return o.Enable == nil || *o.Enable
}

type registeredModule struct {
	base Base
	opts ModuleOptions
	info DetailInfo // synthesized at Register: base.Info() plus config overrides
}

// Manager owns module lifetimes: it discovers modules (direct
// registration here; package loading is layered on via LoadPkg), builds
// each one's CoreProxy through the injected CoreProxyConfigurator, and
// drives Initialize/Start/Shutdown in recorded/reverse order.
type Manager struct {
	log          *logger.Logger
	configurator CoreProxyConfigurator

	mu            sync.Mutex
	byName        map[string]*registeredModule
	registerOrder []string // Register call order; Initialize walks this, not the map
	initOrder     []string // recorded Initialize order; Shutdown runs the reverse
}

func NewManager(log *logger.Logger, configurator CoreProxyConfigurator) *Manager {
	return &Manager{
		log:          log,
		configurator: configurator,
		byName:       make(map[string]*registeredModule),
	}
}

// Register adds a directly-registered module instance under opts (as
// opposed to LoadPkg below). A module absent from config defaults to
// enabled.
func (m *Manager) Register(base Base, opts ModuleOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := base.Info()
	name := info.Name
	if opts.Name == "" {
		opts.Name = name
	}
	if _, dup := m.byName[name]; dup {
		return corerr.Newf(corerr.IllegalArgument, "Manager.Register", "duplicate module name %q", name)
	}

	if opts.CfgFilePath != "" {
		info.CfgFilePath = opts.CfgFilePath
	}
	if opts.LogLvl != "" {
		info.LogLvl = opts.LogLvl
		info.UseDefaultLogLvl = false
	} else {
		info.UseDefaultLogLvl = true
	}

	m.byName[name] = &registeredModule{base: base, opts: opts, info: info}
	m.registerOrder = append(m.registerOrder, name)
	return nil
}

// LoadPkg discovers modules from a native plugin package via loader and
// registers every one that is not filtered out, with the given per-module
// options keyed by name (options absent from the map default enabled).
// Modules are registered in the ABI's name-list order, not map order, so
// Initialize later sees the same order the package exported them in.
func (m *Manager) LoadPkg(loader *PkgLoader, pkg PkgOptions, perModule map[string]ModuleOptions) error {
	instances, names, err := loader.LoadPkg(pkg)
	if err != nil {
		return err
	}
	for _, name := range names {
		base, ok := instances[name]
		if !ok {
			continue
		}
		opts := perModule[name]
		opts.Name = name
		if err := m.Register(base, opts); err != nil {
			return err
		}
	}
	return nil
}

// ModuleNames implements ManagerProxy.
func (m *Manager) ModuleNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.registerOrder...)
}

// ModuleInfo implements ManagerProxy.
func (m *Manager) ModuleInfo(name string) (DetailInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rm, ok := m.byName[name]
	if !ok {
		return DetailInfo{}, false
	}
	return rm.info, true
}

// Initialize builds each enabled module's CoreProxy and calls Initialize
// in registration order, recording the order it succeeded in. Any single
// module's Initialize failing is fatal: no partial set of modules is left
// half-initialized.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.registerOrder {
		rm := m.byName[name]
		if !rm.opts.enabled() {
			m.log.Info("module disabled, skipping", logger.String("module", name))
			continue
		}

		proxy := &CoreProxy{Info: rm.info, Manager: m}
		if m.configurator != nil {
			m.configurator(rm.info, proxy)
		}

		if err := rm.base.Initialize(ctx, proxy); err != nil {
			return corerr.New(corerr.ModuleLifecycleFailed, "Manager.Initialize", err)
		}
		m.initOrder = append(m.initOrder, name)
	}
	return nil
}

// Start calls Start on every initialized module in the order Initialize
// recorded.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	order := append([]string(nil), m.initOrder...)
	m.mu.Unlock()

	for _, name := range order {
		m.mu.Lock()
		rm := m.byName[name]
		m.mu.Unlock()
		if err := rm.base.Start(ctx); err != nil {
			return corerr.New(corerr.ModuleLifecycleFailed, "Manager.Start", err)
		}
	}
	return nil
}

// Shutdown calls Shutdown on every initialized module in the reverse of
// the Initialize order, continuing past individual failures so no module
// is left half-shut-down.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	order := append([]string(nil), m.initOrder...)
	m.mu.Unlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		m.mu.Lock()
		rm := m.byName[order[i]]
		m.mu.Unlock()
		if err := rm.base.Shutdown(ctx); err != nil {
			m.log.Error("module shutdown failed", logger.String("module", order[i]), logger.Err(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

var _ ManagerProxy = (*Manager)(nil)
