package executor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coremesh/coremesh/internal/logger"
	"github.com/coremesh/coremesh/internal/threadtools"
)

// GuardExecutor runs every submitted task on a single dedicated goroutine,
// strictly in submission order. It never runs two tasks concurrently, which
// is what makes it suitable for guarding state that callers do not want to
// protect with their own lock. The queue is a blockQueue rather than a
// channel so TryDequeue can distinguish "empty" from "stopped and
// drained".
type GuardExecutor struct {
	name string
	opts Options
	log  *logger.Logger
	bp   *backpressure

	queue *blockQueue
	gid   atomic.Int64 // goroutine id of the single worker, set once Start runs

	phase atomic.Int32
	done  chan struct{}
}

func NewGuardExecutor(opts Options, log *logger.Logger) (*GuardExecutor, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	g := &GuardExecutor{
		name:  opts.Name,
		opts:  opts,
		log:   log,
		bp:    newBackpressure(opts.Name, opts.QueueThreshold, opts.OverflowPolicy, log),
		queue: newBlockQueue(),
		done:  make(chan struct{}),
	}
	g.gid.Store(-1)
	g.phase.Store(int32(phaseInit))
	return g, nil
}

func (g *GuardExecutor) Type() string { return string(TypeGuardThread) }
func (g *GuardExecutor) Name() string { return g.name }
func (g *GuardExecutor) ThreadSafe() bool { return true }
func (g *GuardExecutor) SupportTimerSchedule() bool { return false }
func (g *GuardExecutor) Now() time.Time { return time.Now() }
func (g *GuardExecutor) CurrentTaskNum() int64 { return g.bp.current() }
func (g *GuardExecutor) droppedTasks() uint64 { return g.bp.droppedCount() }

func (g *GuardExecutor) IsInCurrentExecutor() bool {
	return threadtools.CurrentGoroutineID() == g.gid.Load()
}

func (g *GuardExecutor) Start() error {
	if !g.phase.CompareAndSwap(int32(phaseInit), int32(phaseStarted)) {
		return ErrAlreadyInitialized
	}
	go g.run()
	return nil
}

func (g *GuardExecutor) run() {
	g.gid.Store(threadtools.CurrentGoroutineID())
	defer close(g.done)
	for {
		task, ok := g.queue.Pop()
		if !ok {
			return
		}
		g.runTask(task)
	}
}

func (g *GuardExecutor) runTask(task func()) {
	defer g.bp.release()
	defer func() {
		if r := recover(); r != nil && g.log != nil {
			g.log.Error("guard executor task panicked", logger.Any("recovered", r), logger.String("executor", g.name))
		}
	}()
	task()
}

func (g *GuardExecutor) Execute(task func()) {
	ph := lifecyclePhase(g.phase.Load())
	if ph != phaseInit && ph != phaseStarted {
		if g.log != nil {
			g.log.Warn("dropping task submitted outside Init/Start", logger.String("executor", g.name))
		}
		return
	}
	if !g.bp.admit() {
		return
	}
	if !g.queue.Push(task) {
		g.bp.release()
	}
}

// ExecuteAt is a no-op: the guard executor carries no timer support, so a
// caller reaching this path is a programming error rather than a runtime
// condition to recover from. It is logged and the task is dropped, never
// silently run off-schedule.
func (g *GuardExecutor) ExecuteAt(tp time.Time, task func()) {
	if g.log != nil {
		g.log.Warn("guard executor has no timer support, dropping ExecuteAt task",
			logger.String("executor", g.name))
	}
}

func (g *GuardExecutor) Shutdown(ctx context.Context) error {
	if !g.phase.CompareAndSwap(int32(phaseStarted), int32(phaseShutdown)) &&
		!g.phase.CompareAndSwap(int32(phaseInit), int32(phaseShutdown)) {
		return ErrAlreadyInitialized
	}

	g.queue.Stop()

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Executor = (*GuardExecutor)(nil)
