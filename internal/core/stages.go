package core

import (
	"context"
	"os"
	"strings"

	"github.com/coremesh/coremesh/internal/alloc"
	"github.com/coremesh/coremesh/internal/channel"
	"github.com/coremesh/coremesh/internal/config"
	"github.com/coremesh/coremesh/internal/corerr"
	"github.com/coremesh/coremesh/internal/executor"
	"github.com/coremesh/coremesh/internal/logger"
	"github.com/coremesh/coremesh/internal/module"
	"github.com/coremesh/coremesh/internal/module/wasmloader"
	"github.com/coremesh/coremesh/plugins/transport/libp2p"
)

// ConfiguratorStage holds the decoded top-level document and its raw
// unknown-key shadow. It has nothing to Start or Shutdown; it exists so
// the dependency chain has something to point the PreInitConfigurator /
// PostInitConfigurator hooks at.
type ConfiguratorStage struct {
	phaseState
	Doc config.Document
	Raw *config.RawDoc
}

func NewConfiguratorStage(doc config.Document, raw *config.RawDoc) *ConfiguratorStage {
	s := &ConfiguratorStage{Doc: doc, Raw: raw}
	s.init()
	return s
}

func (s *ConfiguratorStage) Name() string { return "configurator" }

func (s *ConfiguratorStage) Init(_ context.Context) error {
	return s.requireTransition(s.Name(), "ConfiguratorStage.Init", subPreInit, subInit)
}
func (s *ConfiguratorStage) Start(_ context.Context) error {
	return s.requireTransition(s.Name(), "ConfiguratorStage.Start", subInit, subStarted)
}
func (s *ConfiguratorStage) Shutdown(_ context.Context) error {
	return s.requireTransition(s.Name(), "ConfiguratorStage.Shutdown", subStarted, subShutdown)
}

// PluginStage loads native and wasm packages named in config.Document's
// module.pkgs list, selecting a loader by file extension (".wasm" goes to
// wasmloader, everything else to the native plugin.Open-based PkgLoader).
// It is optional: an empty pkgs list is a successful no-op Init. Init
// only discovers and instantiates module.Base values into Loaded;
// ModuleManagerStage is the one that registers them with the
// module.Manager and drives their lifecycle.
type PluginStage struct {
	phaseState
	Loader     *module.PkgLoader
	wasmLoader *wasmloader.Loader
	pkgs       []config.ModulePkg

	// Loaded holds every module instantiated from a configured package,
	// keyed by name, populated during Init. LoadedOrder records the same
	// names in package-config order, then each package's own advertised
	// order within it, so ModuleManagerStage can register them
	// deterministically instead of ranging over the Loaded map.
	Loaded      map[string]module.Base
	LoadedOrder []string
}

func NewPluginStage(pkgs []config.ModulePkg) *PluginStage {
	s := &PluginStage{
		Loader:     module.NewPkgLoader(),
		wasmLoader: wasmloader.New(),
		pkgs:       pkgs,
		Loaded:     make(map[string]module.Base),
	}
	s.init()
	return s
}

func (s *PluginStage) Name() string { return "plugin" }

func (s *PluginStage) Init(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "PluginStage.Init", subPreInit, subInit); err != nil {
		return err
	}
	for _, pkg := range s.pkgs {
		var instances map[string]module.Base
		var names []string
		var err error
		if strings.HasSuffix(pkg.Path, ".wasm") {
			instances, names, err = s.loadWasmPkg(pkg)
		} else {
			instances, names, err = s.Loader.LoadPkg(module.PkgOptions{
				Path:           pkg.Path,
				DisableModules: pkg.DisableModules,
				EnableModules:  pkg.EnableModules,
			})
		}
		if err != nil {
			return err
		}
		for _, name := range names {
			if _, dup := s.Loaded[name]; dup {
				return corerr.Newf(corerr.IllegalArgument, "PluginStage.Init", "duplicate module name %q across packages", name)
			}
			s.Loaded[name] = instances[name]
			s.LoadedOrder = append(s.LoadedOrder, name)
		}
	}
	return nil
}

// loadWasmPkg reads the wasm binary named by pkg.Path and applies the same
// enable-wins-over-disable module name filter the native loader applies,
// since wasmloader.Loader itself has no notion of per-package filtering
// (a wasm package always advertises every module it compiles in). The
// returned name slice preserves the package's own advertised order.
func (s *PluginStage) loadWasmPkg(pkg config.ModulePkg) (map[string]module.Base, []string, error) {
	data, err := os.ReadFile(pkg.Path)
	if err != nil {
		return nil, nil, corerr.New(corerr.SystemCallFailed, "PluginStage.loadWasmPkg", err)
	}
	all, allOrder, err := s.wasmLoader.LoadPkg(pkg.Path, data)
	if err != nil {
		return nil, nil, err
	}

	enabled := toSet(pkg.EnableModules)
	disabled := toSet(pkg.DisableModules)
	result := make(map[string]module.Base, len(all))
	order := make([]string, 0, len(allOrder))
	for _, name := range allOrder {
		if len(enabled) > 0 {
			if _, ok := enabled[name]; !ok {
				continue
			}
		} else if _, ok := disabled[name]; ok {
			continue
		}
		result[name] = all[name]
		order = append(order, name)
	}
	return result, order, nil
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}

func (s *PluginStage) Start(_ context.Context) error {
	return s.requireTransition(s.Name(), "PluginStage.Start", subInit, subStarted)
}
func (s *PluginStage) Shutdown(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "PluginStage.Shutdown", subStarted, subShutdown); err != nil {
		return err
	}
	return s.Loader.Unload()
}

// ExecutorStage wraps the shared executor.Manager. The main-thread pool
// executor and the guard-thread executor are brought up as two distinct
// dependency-ordered phases even though both live in the same Manager;
// NewMainThreadExecutorStage and NewGuardThreadExecutorStage below each
// register into the shared Manager at their own phase boundary.
type ExecutorStage struct {
	phaseState
	name     string
	Manager  *executor.Manager
	optsList []executor.Options
}

// NewMainThreadExecutorStage registers the main pool executor plus every
// other configured non-guard executor (strands, time wheels, additional
// pools), in declaration order so attach_to targets resolve.
func NewMainThreadExecutorStage(mgr *executor.Manager, opts executor.Options, extra ...executor.Options) *ExecutorStage {
	s := &ExecutorStage{name: "main-thread-executor", Manager: mgr, optsList: append([]executor.Options{opts}, extra...)}
	s.init()
	return s
}

func NewGuardThreadExecutorStage(mgr *executor.Manager, opts executor.Options) *ExecutorStage {
	s := &ExecutorStage{name: "guard-thread-executor", Manager: mgr, optsList: []executor.Options{opts}}
	s.init()
	return s
}

func (s *ExecutorStage) Name() string { return s.name }

func (s *ExecutorStage) Init(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "ExecutorStage.Init", subPreInit, subInit); err != nil {
		return err
	}
	for _, opts := range s.optsList {
		if _, err := s.Manager.Build(opts); err != nil {
			return err
		}
	}
	return nil
}
func (s *ExecutorStage) Start(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "ExecutorStage.Start", subInit, subStarted); err != nil {
		return err
	}
	return nil // executor.Manager.Start() is invoked once by the entrypoint, not per-stage
}
func (s *ExecutorStage) Shutdown(_ context.Context) error {
	return s.requireTransition(s.Name(), "ExecutorStage.Shutdown", subStarted, subShutdown)
}

// LoggerStage builds the process-wide Logger from LoggingConfig.
type LoggerStage struct {
	phaseState
	Log *logger.Logger
	cfg config.LoggingConfig
}

func NewLoggerStage(cfg config.LoggingConfig) *LoggerStage {
	s := &LoggerStage{cfg: cfg}
	s.init()
	return s
}

func (s *LoggerStage) Name() string { return "logger" }

func (s *LoggerStage) Init(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "LoggerStage.Init", subPreInit, subInit); err != nil {
		return err
	}
	s.Log = logger.New(s.cfg.ToLoggerConfig("coremesh"))
	return nil
}
func (s *LoggerStage) Start(_ context.Context) error {
	return s.requireTransition(s.Name(), "LoggerStage.Start", subInit, subStarted)
}
func (s *LoggerStage) Shutdown(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "LoggerStage.Shutdown", subStarted, subShutdown); err != nil {
		return err
	}
	if s.Log != nil {
		_ = s.Log.Sync()
	}
	return nil
}

// AllocatorStage builds the shared byte-arena allocator; the stage owns
// only the construction seam, not allocation policy.
type AllocatorStage struct {
	phaseState
	Arena                        *alloc.Arena
	bufSize, slabSize, buddySize uint32
}

func NewAllocatorStage(bufSize, slabSize, buddySize uint32) *AllocatorStage {
	s := &AllocatorStage{bufSize: bufSize, slabSize: slabSize, buddySize: buddySize}
	s.init()
	return s
}

func (s *AllocatorStage) Name() string { return "allocator" }

func (s *AllocatorStage) Init(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "AllocatorStage.Init", subPreInit, subInit); err != nil {
		return err
	}
	arena, err := alloc.New(make([]byte, s.bufSize), s.slabSize, s.buddySize)
	if err != nil {
		return err
	}
	s.Arena = arena
	return nil
}
func (s *AllocatorStage) Start(_ context.Context) error {
	return s.requireTransition(s.Name(), "AllocatorStage.Start", subInit, subStarted)
}
func (s *AllocatorStage) Shutdown(_ context.Context) error {
	return s.requireTransition(s.Name(), "AllocatorStage.Shutdown", subStarted, subShutdown)
}

// RPCStage is a placeholder dependency-order slot: it occupies the RPC
// phase pair without owning application RPC semantics. A deployment that
// carries RPC swaps this for a stage owning the queue-backed transport
// the orchestrator wires Channel (below) against.
type RPCStage struct {
	phaseState
	enabled bool
}

func NewRPCStage(enabled bool) *RPCStage {
	s := &RPCStage{enabled: enabled}
	s.init()
	return s
}

func (s *RPCStage) Name() string { return "rpc" }

func (s *RPCStage) Init(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "RPCStage.Init", subPreInit, subInit); err != nil {
		return err
	}
	return nil
}
func (s *RPCStage) Start(_ context.Context) error {
	return s.requireTransition(s.Name(), "RPCStage.Start", subInit, subStarted)
}
func (s *RPCStage) Shutdown(_ context.Context) error {
	return s.requireTransition(s.Name(), "RPCStage.Shutdown", subStarted, subShutdown)
}

// ChannelStage owns the Registry, BackendManager, and every registered
// Backend. Backends are registered by Init itself; Init rejects an
// unknown filter name in topic options, while a backend name that matches
// no registered backend is skipped at Publish time.
type ChannelStage struct {
	phaseState
	Registry *channel.Registry
	Backends *channel.BackendManager

	log  *logger.Logger
	cfg  config.ChannelConfig
	exec *executor.Manager
}

// NewChannelStage builds the Registry and BackendManager; exec may be nil
// (subscriber executor re-dispatch then always runs on the publisher's own
// goroutine). cfg supplies the channel.backends / pub_topics_options /
// sub_topics_options sub-trees Init wires in.
func NewChannelStage(log *logger.Logger, exec *executor.Manager, cfg config.ChannelConfig) *ChannelStage {
	reg := channel.NewRegistry()
	s := &ChannelStage{
		Registry: reg,
		Backends: channel.NewBackendManager(log, reg),
		log:      log,
		cfg:      cfg,
		exec:     exec,
	}
	s.init()
	return s
}

func (s *ChannelStage) Name() string { return "channel" }

// Init registers the local backend unconditionally, plus any configured
// non-local backend ("libp2p" is the one this repo ships), then wires
// every pub/sub topic option's enable_backends/enable_filters, resolving
// filter names against channel.BuiltinFilters.
func (s *ChannelStage) Init(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "ChannelStage.Init", subPreInit, subInit); err != nil {
		return err
	}

	lookupEx := func(name string) (executor.Executor, bool) {
		if s.exec == nil {
			return nil, false
		}
		return s.exec.Get(name)
	}
	if err := s.Backends.RegisterBackend(channel.NewLocalBackend(s.log, lookupEx)); err != nil {
		return corerr.New(corerr.IllegalState, "ChannelStage.Init", err)
	}

	for _, b := range s.cfg.Backends {
		switch b.Type {
		case "local":
			// already registered unconditionally above
		case "libp2p":
			opts := libp2pOptionsFromConfig(b.Options)
			if err := s.Backends.RegisterBackend(libp2p.New(s.log, opts)); err != nil {
				return corerr.New(corerr.IllegalState, "ChannelStage.Init", err)
			}
		default:
			return corerr.Newf(corerr.NotFound, "ChannelStage.Init", "unknown channel backend type %q", b.Type)
		}
	}

	filters := channel.BuiltinFilters(s.log)
	resolveFilters := func(names []string) ([]channel.Filter, error) {
		if len(names) == 0 {
			return nil, nil
		}
		out := make([]channel.Filter, 0, len(names))
		for _, name := range names {
			f, ok := filters[name]
			if !ok {
				return nil, corerr.Newf(corerr.NotFound, "ChannelStage.Init", "unknown channel filter %q", name)
			}
			out = append(out, f)
		}
		return out, nil
	}

	for _, t := range s.cfg.PubTopicsOptions {
		pubFilters, err := resolveFilters(t.EnableFilters)
		if err != nil {
			return err
		}
		if err := s.Backends.SetTopicBackends(t.TopicName, t.EnableBackends, nil); err != nil {
			return corerr.New(corerr.IllegalArgument, "ChannelStage.Init", err)
		}
		if pubFilters != nil {
			if err := s.Backends.SetTopicFilters(t.TopicName, pubFilters, nil); err != nil {
				return corerr.New(corerr.IllegalArgument, "ChannelStage.Init", err)
			}
		}
	}
	for _, t := range s.cfg.SubTopicsOptions {
		subFilters, err := resolveFilters(t.EnableFilters)
		if err != nil {
			return err
		}
		if err := s.Backends.SetTopicBackends(t.TopicName, nil, t.EnableBackends); err != nil {
			return corerr.New(corerr.IllegalArgument, "ChannelStage.Init", err)
		}
		if subFilters != nil {
			if err := s.Backends.SetTopicFilters(t.TopicName, nil, subFilters); err != nil {
				return corerr.New(corerr.IllegalArgument, "ChannelStage.Init", err)
			}
		}
	}
	return nil
}

// libp2pOptionsFromConfig reads the two keys channel.backends[].options
// recognizes for type "libp2p": identity_file_path and peers.
func libp2pOptionsFromConfig(raw map[string]any) libp2p.Options {
	var opts libp2p.Options
	if raw == nil {
		return opts
	}
	if v, ok := raw["identity_file_path"].(string); ok {
		opts.IdentityFilePath = v
	}
	if v, ok := raw["peers"].([]any); ok {
		for _, p := range v {
			if s, ok := p.(string); ok {
				opts.Peers = append(opts.Peers, s)
			}
		}
	}
	return opts
}
func (s *ChannelStage) Start(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "ChannelStage.Start", subInit, subStarted); err != nil {
		return err
	}
	return s.Backends.Start()
}
func (s *ChannelStage) Shutdown(_ context.Context) error {
	if err := s.requireTransition(s.Name(), "ChannelStage.Shutdown", subStarted, subShutdown); err != nil {
		return err
	}
	return s.Backends.Shutdown()
}

// ParameterStage is a minimal key/value parameter store, occupying its
// phase pair in the dependency chain and giving modules something to
// resolve named parameters against via the configurator seam.
type ParameterStage struct {
	phaseState
	values map[string]string
}

func NewParameterStage(initial map[string]string) *ParameterStage {
	s := &ParameterStage{values: make(map[string]string, len(initial))}
	for k, v := range initial {
		s.values[k] = v
	}
	s.init()
	return s
}

func (s *ParameterStage) Name() string { return "parameter" }

func (s *ParameterStage) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *ParameterStage) Init(_ context.Context) error {
	return s.requireTransition(s.Name(), "ParameterStage.Init", subPreInit, subInit)
}
func (s *ParameterStage) Start(_ context.Context) error {
	return s.requireTransition(s.Name(), "ParameterStage.Start", subInit, subStarted)
}
func (s *ParameterStage) Shutdown(_ context.Context) error {
	return s.requireTransition(s.Name(), "ParameterStage.Shutdown", subStarted, subShutdown)
}

// ModuleManagerStage owns the module.Manager and is always the last
// dependency in the chain, since it is the only stage whose Init/Start
// drives user module code.
type ModuleManagerStage struct {
	phaseState
	Manager    *module.Manager
	plugin     *PluginStage
	moduleOpts map[string]config.ModuleEntry
}

// NewModuleManagerStage wires mgr to drive every module plugin already
// discovered (plugin may be nil if module.pkgs is empty), applying the
// per-module enable/log_lvl/cfg_file_path overrides from module.modules
// to every package-loaded module it registers. Modules registered on mgr
// directly keep the ModuleOptions they were registered with.
func NewModuleManagerStage(mgr *module.Manager, plugin *PluginStage, modules []config.ModuleEntry) *ModuleManagerStage {
	opts := make(map[string]config.ModuleEntry, len(modules))
	for _, m := range modules {
		opts[m.Name] = m
	}
	s := &ModuleManagerStage{Manager: mgr, plugin: plugin, moduleOpts: opts}
	s.init()
	return s
}

func (s *ModuleManagerStage) Name() string { return "module-manager" }

func (s *ModuleManagerStage) Init(ctx context.Context) error {
	if err := s.requireTransition(s.Name(), "ModuleManagerStage.Init", subPreInit, subInit); err != nil {
		return err
	}
	if s.plugin != nil {
		for _, name := range s.plugin.LoadedOrder {
			base := s.plugin.Loaded[name]
			modOpts := module.ModuleOptions{Name: name}
			if entry, ok := s.moduleOpts[name]; ok {
				modOpts.Enable = entry.Enable
				modOpts.LogLvl = entry.LogLvl
				modOpts.CfgFilePath = entry.CfgFilePath
			}
			if err := s.Manager.Register(base, modOpts); err != nil {
				return err
			}
		}
	}
	return s.Manager.Initialize(ctx)
}
func (s *ModuleManagerStage) Start(ctx context.Context) error {
	if err := s.requireTransition(s.Name(), "ModuleManagerStage.Start", subInit, subStarted); err != nil {
		return err
	}
	return s.Manager.Start(ctx)
}
func (s *ModuleManagerStage) Shutdown(ctx context.Context) error {
	if err := s.requireTransition(s.Name(), "ModuleManagerStage.Shutdown", subStarted, subShutdown); err != nil {
		return err
	}
	return s.Manager.Shutdown(ctx)
}

var (
	_ Stage = (*ConfiguratorStage)(nil)
	_ Stage = (*PluginStage)(nil)
	_ Stage = (*ExecutorStage)(nil)
	_ Stage = (*LoggerStage)(nil)
	_ Stage = (*AllocatorStage)(nil)
	_ Stage = (*RPCStage)(nil)
	_ Stage = (*ChannelStage)(nil)
	_ Stage = (*ParameterStage)(nil)
	_ Stage = (*ModuleManagerStage)(nil)
)
