// Command coremesh is the process entrypoint: it loads the YAML
// configuration, wires every manager into a core.Orchestrator in
// dependency order, and runs until an interrupt asks it to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coremesh/coremesh/internal/channel"
	"github.com/coremesh/coremesh/internal/config"
	"github.com/coremesh/coremesh/internal/core"
	"github.com/coremesh/coremesh/internal/executor"
	"github.com/coremesh/coremesh/internal/logger"
	"github.com/coremesh/coremesh/internal/module"
)

func main() {
	cfgPath := flag.String("config", "coremesh.yaml", "path to the coremesh configuration file")
	flag.Parse()

	bootLog := logger.Default("coremesh")

	if err := run(*cfgPath, bootLog); err != nil {
		bootLog.Error("coremesh exited with error", logger.Err(err))
		os.Exit(1)
	}
}

func run(cfgPath string, bootLog *logger.Logger) error {
	doc, raw, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, key := range raw.UnknownKeys() {
		bootLog.Warn("unknown top-level config key preserved", logger.String("key", key))
	}

	orch := core.New()

	configurator := core.NewConfiguratorStage(doc, raw)
	if err := orch.AddStage(configurator); err != nil {
		return err
	}

	pluginStage := core.NewPluginStage(doc.Module.Pkgs)
	if err := orch.AddStage(pluginStage); err != nil {
		return err
	}

	execMetrics := executor.NewMetrics(prometheus.DefaultRegisterer)
	execMgr := executor.NewManager(bootLog, execMetrics)

	mainOpts, guardOpts, extraOpts := executorOptionsFromConfig(doc.Executor)
	if err := orch.AddStage(core.NewMainThreadExecutorStage(execMgr, mainOpts, extraOpts...)); err != nil {
		return err
	}
	if err := orch.AddStage(core.NewGuardThreadExecutorStage(execMgr, guardOpts)); err != nil {
		return err
	}

	loggerStage := core.NewLoggerStage(doc.Logging)
	if err := orch.AddStage(loggerStage); err != nil {
		return err
	}

	allocStage := core.NewAllocatorStage(16*1024*1024, 4*1024*1024, 12*1024*1024)
	if err := orch.AddStage(allocStage); err != nil {
		return err
	}

	if err := orch.AddStage(core.NewRPCStage(false)); err != nil {
		return err
	}

	channelStage := core.NewChannelStage(bootLog, execMgr, doc.Channel)
	if err := orch.AddStage(channelStage); err != nil {
		return err
	}

	paramStage := core.NewParameterStage(nil)
	if err := orch.AddStage(paramStage); err != nil {
		return err
	}

	var moduleMgr *module.Manager
	moduleMgr = module.NewManager(bootLog, func(info module.DetailInfo, proxy *module.CoreProxy) {
		proxy.Log = loggerStage.Log.Named(info.Name)
		proxy.Executors = execMgr
		proxy.Allocator = allocStage.Arena
		proxy.Manager = moduleMgr
		proxy.Cfg = configuratorAdapter{info: info, params: paramStage}
		proxy.Channel = channel.NewHandleProxy(info.Name, info.PkgPath, channelStage.Registry, channelStage.Backends, loggerStage.Log)
	})
	if err := orch.AddStage(core.NewModuleManagerStage(moduleMgr, pluginStage, doc.Module.Modules)); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := orch.Init(ctx)
	if err != nil {
		bootLog.Error("initialization failed", logger.Err(err))
		return err
	}
	bootLog.Info("initialization report", logger.String("summary", report.String()))
	for _, snap := range execMgr.Snapshot() {
		bootLog.Info("executor",
			logger.String("name", snap.Name),
			logger.String("type", snap.Type),
			logger.Any("thread_safe", snap.ThreadSafe),
			logger.Any("supports_timer", snap.SupportsTimer))
	}
	for _, name := range moduleMgr.ModuleNames() {
		if info, ok := moduleMgr.ModuleInfo(name); ok {
			bootLog.Info("module",
				logger.String("name", info.Name),
				logger.String("version", fmt.Sprintf("%d.%d.%d.%d", info.Major, info.Minor, info.Patch, info.Build)))
		}
	}

	if err := execMgr.Start(); err != nil {
		return fmt.Errorf("start executors: %w", err)
	}

	done, err := orch.AsyncStart(ctx)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	bootLog.Info("coremesh running")

	<-ctx.Done()
	bootLog.Info("shutdown signal received")

	shutdownCtx := context.Background()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		bootLog.Error("shutdown reported errors", logger.Err(err))
	}
	if err := execMgr.Shutdown(shutdownCtx); err != nil {
		bootLog.Error("executor manager shutdown failed", logger.Err(err))
	}
	<-done
	return nil
}

// executorOptionsFromConfig picks the first asio_thread/simple_thread/
// native_thread entry as the main-thread pool executor and the first
// guard_thread entry as the guard executor, falling back to sane
// defaults if config omits either, since every deployment needs both
// phase slots filled. Every other configured
// executor (strands, time wheels, additional pools) is returned in
// declaration order as extras, built right after the main pool so an
// attach_to naming it resolves.
func executorOptionsFromConfig(cfg config.ExecutorConfig) (main, guard executor.Options, extras []executor.Options) {
	main = executor.Options{Name: "main", Type: executor.TypeAsioThread, ThreadNum: 4, QueueThreshold: 10000}
	guard = executor.Options{Name: "guard", Type: executor.TypeGuardThread, QueueThreshold: 10000}
	haveMain, haveGuard := false, false

	for _, e := range cfg.Executors {
		opts := executor.Options{
			Name:                    e.Name,
			Type:                    executor.Type(e.Type),
			ThreadNum:               e.Options.ThreadNum,
			ThreadSchedPolicy:       e.Options.ThreadSchedPolicy,
			ThreadBindCPU:           e.Options.ThreadBindCPU,
			TimeoutAlarmThresholdUS: e.Options.TimeoutAlarmThresholdUS,
			QueueThreshold:          e.Options.QueueThreshold,
			OverflowPolicy:          overflowPolicyFromConfig(e.Options.OverflowPolicy),
			AttachTo:                e.Options.AttachTo,
		}
		switch executor.Type(e.Type) {
		case executor.TypeAsioThread, executor.TypeSimpleThread, executor.TypeNativeThread:
			if !haveMain {
				main = opts
				haveMain = true
				continue
			}
		case executor.TypeGuardThread:
			if !haveGuard {
				guard = opts
				haveGuard = true
				continue
			}
		}
		extras = append(extras, opts)
	}
	return main, guard, extras
}

// overflowPolicyFromConfig maps the overflow_policy config string onto
// the executor policy enum; anything unrecognized falls back to Drop.
func overflowPolicyFromConfig(name string) executor.OverflowPolicy {
	switch name {
	case "block":
		return executor.Block
	case "grow":
		return executor.Grow
	default:
		return executor.Drop
	}
}

type configuratorAdapter struct {
	info   module.DetailInfo
	params *core.ParameterStage
}

func (c configuratorAdapter) CfgFilePath() string { return c.info.CfgFilePath }

func (c configuratorAdapter) Get(key string) (string, bool) {
	if c.params == nil {
		return "", false
	}
	return c.params.Get(key)
}

var _ module.Configurator = configuratorAdapter{}
