package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coremesh/coremesh/internal/logger"
	"github.com/coremesh/coremesh/internal/threadtools"
)

// TimeWheelExecutor batches ExecuteAt submissions into fixed-width slots of
// a hashed timer wheel instead of arming one runtime timer per call: lower
// timer-management overhead at the cost of coarser resolution (slots fire,
// at the earliest, on the next tick boundary at or after their deadline).
//
// Tasks submitted with Execute run on the wheel's own drain goroutine.
// Running a task fired from a wheel slot is delegated to AttachTo's target
// when one is wired (see fireTask), the same pattern StrandExecutor uses
// for its own target.
type TimeWheelExecutor struct {
	name     string
	opts     Options
	log      *logger.Logger
	bp       *backpressure
	tickSize time.Duration
	slots    int

	mu      sync.Mutex
	wheel   [][]func()
	current int

	immediate chan func()

	// target is the underlying executor this wheel delegates fired tasks
	// to, set via AttachTo before Start. Left nil, fired tasks run on the
	// wheel's own drain goroutine.
	target Executor

	gid   atomic.Int64
	phase atomic.Int32
	quit  chan struct{}
	done  chan struct{}
}

const (
	defaultTimeWheelTick  = 10 * time.Millisecond
	defaultTimeWheelSlots = 512
)

func NewTimeWheelExecutor(opts Options, log *logger.Logger) (*TimeWheelExecutor, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	tw := &TimeWheelExecutor{
		name:      opts.Name,
		opts:      opts,
		log:       log,
		bp:        newBackpressure(opts.Name, opts.QueueThreshold, opts.OverflowPolicy, log),
		tickSize:  defaultTimeWheelTick,
		slots:     defaultTimeWheelSlots,
		wheel:     make([][]func(), defaultTimeWheelSlots),
		immediate: make(chan func(), opts.QueueThreshold),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	tw.gid.Store(-1)
	tw.phase.Store(int32(phaseInit))
	return tw, nil
}

func (tw *TimeWheelExecutor) Type() string { return string(TypeTimeWheel) }
func (tw *TimeWheelExecutor) Name() string { return tw.name }
func (tw *TimeWheelExecutor) ThreadSafe() bool { return true }
func (tw *TimeWheelExecutor) SupportTimerSchedule() bool { return true }
func (tw *TimeWheelExecutor) Now() time.Time { return time.Now() }
func (tw *TimeWheelExecutor) CurrentTaskNum() int64 { return tw.bp.current() }
func (tw *TimeWheelExecutor) droppedTasks() uint64 { return tw.bp.droppedCount() }

func (tw *TimeWheelExecutor) IsInCurrentExecutor() bool {
	return threadtools.CurrentGoroutineID() == tw.gid.Load()
}

// AttachTo sets the executor that actually runs fired tasks. Call before
// Start; Manager.Build resolves this from opts.AttachTo the same way it
// does for a strand.
func (tw *TimeWheelExecutor) AttachTo(target Executor) {
	tw.target = target
}

func (tw *TimeWheelExecutor) Start() error {
	if !tw.phase.CompareAndSwap(int32(phaseInit), int32(phaseStarted)) {
		return ErrAlreadyInitialized
	}
	go tw.run()
	return nil
}

func (tw *TimeWheelExecutor) run() {
	tw.gid.Store(threadtools.CurrentGoroutineID())
	defer close(tw.done)

	ticker := time.NewTicker(tw.tickSize)
	defer ticker.Stop()

	for {
		select {
		case <-tw.quit:
			return
		case task := <-tw.immediate:
			tw.runTask(task)
		case <-ticker.C:
			tw.advance()
		}
	}
}

func (tw *TimeWheelExecutor) advance() {
	tw.mu.Lock()
	due := tw.wheel[tw.current]
	tw.wheel[tw.current] = nil
	tw.current = (tw.current + 1) % tw.slots
	tw.mu.Unlock()

	for _, task := range due {
		tw.fireTask(task)
	}
}

// fireTask runs a task fired from a wheel slot on tw.target if one is
// attached, so once delegation is wired up the drain goroutine does not
// run fired task bodies itself.
func (tw *TimeWheelExecutor) fireTask(task func()) {
	if tw.target != nil {
		tw.target.Execute(func() { tw.runTask(task) })
		return
	}
	tw.runTask(task)
}

func (tw *TimeWheelExecutor) runTask(task func()) {
	defer tw.bp.release()
	defer func() {
		if r := recover(); r != nil && tw.log != nil {
			tw.log.Error("time wheel task panicked", logger.Any("recovered", r), logger.String("executor", tw.name))
		}
	}()
	task()
}

func (tw *TimeWheelExecutor) Execute(task func()) {
	ph := lifecyclePhase(tw.phase.Load())
	if ph != phaseInit && ph != phaseStarted {
		return
	}
	if !tw.bp.admit() {
		return
	}
	if tw.opts.OverflowPolicy != Drop {
		tw.immediate <- task
		return
	}
	select {
	case tw.immediate <- task:
	default:
		tw.bp.release()
		tw.bp.dropped.Add(1)
	}
}

// ExecuteAt schedules task into the wheel slot corresponding to tp,
// rounded up to the next tick. A deadline more than slots*tickSize in
// the future is clamped to the wheel's last slot (equivalent to a coarse
// "fires no later than one full revolution from now"); callers needing
// exact long-horizon deadlines should use a PoolExecutor instead.
func (tw *TimeWheelExecutor) ExecuteAt(tp time.Time, task func()) {
	ph := lifecyclePhase(tw.phase.Load())
	if ph != phaseInit && ph != phaseStarted {
		return
	}
	if !tw.bp.admit() {
		return
	}

	delay := time.Until(tp)
	if delay < 0 {
		delay = 0
	}
	ticks := int((delay + tw.tickSize - 1) / tw.tickSize)
	if ticks >= tw.slots {
		ticks = tw.slots - 1
	}

	tw.mu.Lock()
	slot := (tw.current + ticks) % tw.slots
	tw.wheel[slot] = append(tw.wheel[slot], task)
	tw.mu.Unlock()
}

func (tw *TimeWheelExecutor) Shutdown(ctx context.Context) error {
	if !tw.phase.CompareAndSwap(int32(phaseStarted), int32(phaseShutdown)) &&
		!tw.phase.CompareAndSwap(int32(phaseInit), int32(phaseShutdown)) {
		return ErrAlreadyInitialized
	}
	close(tw.quit)
	select {
	case <-tw.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Executor = (*TimeWheelExecutor)(nil)
