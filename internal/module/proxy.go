package module

import (
	"github.com/coremesh/coremesh/internal/alloc"
	"github.com/coremesh/coremesh/internal/channel"
	"github.com/coremesh/coremesh/internal/executor"
	"github.com/coremesh/coremesh/internal/logger"
)

// Configurator is the minimal per-module config surface: the module's own
// config file path plus an opaque key/value view. That is enough for the
// modules this core drives.
type Configurator interface {
	CfgFilePath() string
	Get(key string) (string, bool)
}

// ManagerProxy is the limited module-manager view each module receives,
// letting it list peer modules without seeing the manager itself.
type ManagerProxy interface {
	ModuleNames() []string
	ModuleInfo(name string) (DetailInfo, bool)
}

// CoreProxy is the per-module facade over core services, and the sole
// seam that couples a module to them. A Configurator is injected by
// CoreProxyConfigurator before Initialize runs.
type CoreProxy struct {
	Info DetailInfo

	Log       *logger.Logger
	Executors *executor.Manager
	Channel   *channel.HandleProxy
	Allocator *alloc.Arena
	Manager   ManagerProxy
	Cfg       Configurator
}

// GetExecutor resolves a named executor through the shared executor
// manager.
func (c *CoreProxy) GetExecutor(name string) (executor.Executor, bool) {
	if c.Executors == nil {
		return nil, false
	}
	return c.Executors.Get(name)
}

// CoreProxyConfigurator is given each module's DetailInfo and the
// CoreProxy under construction, and is the only place that wires concrete
// services into it.
type CoreProxyConfigurator func(info DetailInfo, proxy *CoreProxy)
