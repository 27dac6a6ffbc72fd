package core

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/coremesh/coremesh/internal/corerr"
)

// Hook is a callable invoked at a phase boundary. Hooks are synchronous
// and part of the transition; a returned error aborts the remaining
// sequence and fails startup.
type Hook func(ctx context.Context, phase Phase) error

// Orchestrator drives every registered Stage through Init and Start in
// the order they were added and through Shutdown in the reverse order,
// running any hooks registered for the phases it emits.
type Orchestrator struct {
	mu     sync.Mutex
	stages []namedStage
	hooks  map[Phase][]Hook

	phase atomic.Int32

	doneCh   chan struct{}
	doneOnce sync.Once
}

type namedStage struct {
	pre, post Phase
	stage     Stage
}

// stagePhasePairs is the fixed phase-pair sequence for the
// dependency-ordered stage slots. AddStage assigns pairs from this list
// in call order, so stages must be added in the Configurator, Plugin,
// ..., Module-manager order the phase enum lays out.
var stagePhasePairs = []struct{ pre, post Phase }{
	{PreInitConfigurator, PostInitConfigurator},
	{PreInitPlugin, PostInitPlugin},
	{PreInitMainThreadExecutor, PostInitMainThreadExecutor},
	{PreInitGuardThreadExecutor, PostInitGuardThreadExecutor},
	{PreInitLogger, PostInitLogger},
	{PreInitAllocator, PostInitAllocator},
	{PreInitRPC, PostInitRPC},
	{PreInitChannel, PostInitChannel},
	{PreInitParameter, PostInitParameter},
	{PreInitModules, PostInitModules},
}

func New() *Orchestrator {
	o := &Orchestrator{
		hooks:  make(map[Phase][]Hook),
		doneCh: make(chan struct{}),
	}
	o.phase.Store(int32(PreInit))
	return o
}

// AddStage registers the next stage in dependency order. Calling it more
// times than len(stagePhasePairs) is a configuration error.
func (o *Orchestrator) AddStage(s Stage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx := len(o.stages)
	if idx >= len(stagePhasePairs) {
		return corerr.Newf(corerr.IllegalArgument, "Orchestrator.AddStage", "too many stages: only %d dependency slots defined", len(stagePhasePairs))
	}
	pair := stagePhasePairs[idx]
	o.stages = append(o.stages, namedStage{pre: pair.pre, post: pair.post, stage: s})
	return nil
}

// OnPhase registers a hook to run when phase is entered.
func (o *Orchestrator) OnPhase(phase Phase, h Hook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hooks[phase] = append(o.hooks[phase], h)
}

func (o *Orchestrator) setPhase(ctx context.Context, phase Phase) error {
	o.phase.Store(int32(phase))
	o.mu.Lock()
	hooks := append([]Hook(nil), o.hooks[phase]...)
	o.mu.Unlock()
	for _, h := range hooks {
		if err := h(ctx, phase); err != nil {
			return err
		}
	}
	return nil
}

// Phase returns the last phase the orchestrator fully entered.
func (o *Orchestrator) Phase() Phase { return Phase(o.phase.Load()) }

// Init walks every registered stage's Init in order, entering and
// leaving the stage's Pre/Post phase pair around the call, then enters
// PostInit. The first stage to fail aborts the remaining sequence.
func (o *Orchestrator) Init(ctx context.Context) (*Report, error) {
	if err := o.setPhase(ctx, PreInit); err != nil {
		return nil, err
	}

	o.mu.Lock()
	stages := append([]namedStage(nil), o.stages...)
	o.mu.Unlock()

	report := &Report{}
	for _, ns := range stages {
		if err := o.setPhase(ctx, ns.pre); err != nil {
			return report, err
		}
		if err := ns.stage.Init(ctx); err != nil {
			report.addFailure(ns.stage.Name(), err)
			return report, err
		}
		report.addSuccess(ns.stage.Name())
		if err := o.setPhase(ctx, ns.post); err != nil {
			return report, err
		}
	}
	if err := o.setPhase(ctx, PostInit); err != nil {
		return report, err
	}
	return report, nil
}

// AsyncStart runs Start on every stage and returns a channel that is
// closed once Shutdown has fully completed, so callers can block on the
// process's eventual teardown.
func (o *Orchestrator) AsyncStart(ctx context.Context) (<-chan struct{}, error) {
	if err := o.start(ctx); err != nil {
		return nil, err
	}
	return o.doneCh, nil
}

func (o *Orchestrator) start(ctx context.Context) error {
	if err := o.setPhase(ctx, PreStart); err != nil {
		return err
	}
	o.mu.Lock()
	stages := append([]namedStage(nil), o.stages...)
	o.mu.Unlock()

	for _, ns := range stages {
		if err := ns.stage.Start(ctx); err != nil {
			return corerr.New(corerr.ModuleLifecycleFailed, "Orchestrator.Start", err)
		}
	}
	return o.setPhase(ctx, PostStart)
}

// Shutdown walks every stage's Shutdown in reverse order, preceded by
// PreShutdown/PreShutdownModules and followed by
// PostShutdownModules/PostShutdown, aggregating every failure via
// multierr rather than stopping at the first so no stage is left
// half-stopped.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var err error
	o.doneOnce.Do(func() {
		defer close(o.doneCh)

		if e := o.setPhase(ctx, PreShutdown); e != nil {
			err = multierr.Append(err, e)
		}
		if e := o.setPhase(ctx, PreShutdownModules); e != nil {
			err = multierr.Append(err, e)
		}

		o.mu.Lock()
		stages := append([]namedStage(nil), o.stages...)
		o.mu.Unlock()

		for i := len(stages) - 1; i >= 0; i-- {
			if e := stages[i].stage.Shutdown(ctx); e != nil {
				err = multierr.Append(err, e)
			}
		}

		if e := o.setPhase(ctx, PostShutdownModules); e != nil {
			err = multierr.Append(err, e)
		}
		if e := o.setPhase(ctx, PostShutdown); e != nil {
			err = multierr.Append(err, e)
		}
	})
	return err
}
