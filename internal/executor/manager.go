package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/coremesh/coremesh/internal/corerr"
	"github.com/coremesh/coremesh/internal/logger"
)

// Manager owns the full set of named executors declared by the
// `executor.executors[]` config list, builds the concrete implementation
// behind each Type, and is the only thing modules and other core managers
// use to look an executor up by name.
type Manager struct {
	log *logger.Logger

	mu        sync.RWMutex
	executors map[string]Executor
	order     []string // start/shutdown order, matching config declaration order
	metrics   *Metrics
}

// NewManager builds a Manager with no executors registered yet; call
// Build once per configured executor.Options.
func NewManager(log *logger.Logger, metrics *Metrics) *Manager {
	return &Manager{
		log:       log,
		executors: make(map[string]Executor),
		metrics:   metrics,
	}
}

// Build constructs and registers the concrete Executor for opts, dispatched
// on opts.Type. Strand and time-wheel executors resolve opts.AttachTo
// against already-registered executors, so configs must declare the
// AttachTo target earlier in the list; executors are brought up in
// declaration order.
func (m *Manager) Build(opts Options) (Executor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.Name != "" {
		if _, exists := m.executors[opts.Name]; exists {
			return nil, corerr.New(corerr.IllegalArgument, "executor.Manager.Build",
				fmt.Errorf("executor %q already registered", opts.Name))
		}
	}

	var (
		ex  Executor
		err error
	)
	switch opts.Type {
	case TypeAsioThread, TypeSimpleThread, TypeNativeThread, "":
		ex, err = NewPoolExecutor(opts, m.log)
	case TypeGuardThread:
		ex, err = NewGuardExecutor(opts, m.log)
	case TypeTimeWheel:
		var tw *TimeWheelExecutor
		tw, err = NewTimeWheelExecutor(opts, m.log)
		if err == nil && opts.AttachTo != "" {
			target, ok := m.executors[opts.AttachTo]
			if !ok {
				return nil, corerr.New(corerr.IllegalArgument, "executor.Manager.Build",
					fmt.Errorf("time wheel %q: attach_to target %q not yet registered", opts.Name, opts.AttachTo))
			}
			tw.AttachTo(target)
		}
		ex = tw
	case TypeAsioStrand:
		target, ok := m.executors[opts.AttachTo]
		if !ok {
			return nil, corerr.New(corerr.IllegalArgument, "executor.Manager.Build",
				fmt.Errorf("strand %q: attach_to target %q not yet registered", opts.Name, opts.AttachTo))
		}
		ex = NewStrandExecutor(opts.Name, target)
	default:
		return nil, corerr.New(corerr.IllegalArgument, "executor.Manager.Build",
			fmt.Errorf("unknown executor type %q", opts.Type))
	}
	if err != nil {
		return nil, err
	}

	ex = &instrumented{Executor: ex, metrics: m.metrics}
	m.executors[opts.Name] = ex
	m.order = append(m.order, opts.Name)
	return ex, nil
}

// Get returns the named executor and true, or (nil, false) if no executor
// by that name was ever registered. The explicit two-value form replaces
// any sentinel "null executor" callers would have to remember to check.
func (m *Manager) Get(name string) (Executor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.executors[name]
	return ex, ok
}

// Start brings every registered executor up in declaration order.
func (m *Manager) Start() error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	execs := make(map[string]Executor, len(m.executors))
	for k, v := range m.executors {
		execs[k] = v
	}
	m.mu.RUnlock()

	for _, name := range order {
		if err := execs[name].Start(); err != nil {
			return corerr.New(corerr.ModuleLifecycleFailed, "executor.Manager.Start", fmt.Errorf("%s: %w", name, err))
		}
	}
	return nil
}

// Shutdown tears every registered executor down in reverse declaration
// order, collecting (not short-circuiting on) the first error per
// executor so one stuck executor does not block the others from being
// asked to stop.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	execs := make(map[string]Executor, len(m.executors))
	for k, v := range m.executors {
		execs[k] = v
	}
	m.mu.RUnlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if err := execs[name].Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", name, err)
		}
	}
	return firstErr
}

// Names returns registered executor names in declaration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Snapshot is one executor's read-only observability record, consumed by
// the initialization report.
type Snapshot struct {
	Name          string
	Type          string
	ThreadSafe    bool
	SupportsTimer bool
	Pending       int64
	Dropped       uint64
}

// Snapshot captures every registered executor's flags and counters, in
// declaration order.
func (m *Manager) Snapshot() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.order))
	for _, name := range m.order {
		ex := m.executors[name]
		s := Snapshot{
			Name:          ex.Name(),
			Type:          ex.Type(),
			ThreadSafe:    ex.ThreadSafe(),
			SupportsTimer: ex.SupportTimerSchedule(),
			Pending:       ex.CurrentTaskNum(),
		}
		if dc, ok := ex.(dropCounter); ok {
			s.Dropped = dc.droppedTasks()
		}
		out = append(out, s)
	}
	return out
}
