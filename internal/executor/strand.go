package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// StrandExecutor is a cooperative, non-owning executor: it guarantees that
// tasks submitted to it run one at a time and in submission order, but it
// does so by posting a drain task onto an underlying Executor (its
// AttachTo target) rather than owning any goroutine of its own, in the
// manner of Boost.Asio's strand wrapper.
type StrandExecutor struct {
	name   string
	target Executor

	mu       sync.Mutex
	pending  []func()
	draining bool

	phase atomic.Int32
}

// NewStrandExecutor wraps target so that callers get FIFO, non-overlapping
// execution while still scheduling onto target's own worker pool.
func NewStrandExecutor(name string, target Executor) *StrandExecutor {
	s := &StrandExecutor{name: name, target: target}
	s.phase.Store(int32(phaseInit))
	return s
}

func (s *StrandExecutor) Type() string { return string(TypeAsioStrand) }
func (s *StrandExecutor) Name() string { return s.name }
func (s *StrandExecutor) ThreadSafe() bool { return true }
func (s *StrandExecutor) SupportTimerSchedule() bool { return s.target.SupportTimerSchedule() }
func (s *StrandExecutor) Now() time.Time { return s.target.Now() }
func (s *StrandExecutor) CurrentTaskNum() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pending))
}

// IsInCurrentExecutor defers to the underlying executor: a strand has no
// dedicated goroutine of its own, so "running in the strand" and "running
// in its target" are the same question.
func (s *StrandExecutor) IsInCurrentExecutor() bool {
	return s.target.IsInCurrentExecutor()
}

func (s *StrandExecutor) Start() error {
	if !s.phase.CompareAndSwap(int32(phaseInit), int32(phaseStarted)) {
		return ErrAlreadyInitialized
	}
	return nil
}

// Execute appends task to the pending FIFO and, if no drain loop is
// currently posted to the target, posts one. The drain loop keeps popping
// and running tasks (on the target's own worker) until the FIFO empties,
// guaranteeing strand tasks never run concurrently with each other even
// though the target may run many other tasks in parallel.
func (s *StrandExecutor) Execute(task func()) {
	ph := lifecyclePhase(s.phase.Load())
	if ph != phaseInit && ph != phaseStarted {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, task)
	needsDrain := !s.draining
	if needsDrain {
		s.draining = true
	}
	s.mu.Unlock()

	if needsDrain {
		s.target.Execute(s.drain)
	}
}

func (s *StrandExecutor) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		task := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		func() {
			defer func() { recover() }()
			task()
		}()
	}
}

func (s *StrandExecutor) ExecuteAt(tp time.Time, task func()) {
	s.target.ExecuteAt(tp, func() { s.Execute(task) })
}

// Shutdown marks the strand closed; it does not shut down the underlying
// target, which the strand does not own.
func (s *StrandExecutor) Shutdown(ctx context.Context) error {
	if !s.phase.CompareAndSwap(int32(phaseStarted), int32(phaseShutdown)) &&
		!s.phase.CompareAndSwap(int32(phaseInit), int32(phaseShutdown)) {
		return ErrAlreadyInitialized
	}
	_ = ctx
	return nil
}

var _ Executor = (*StrandExecutor)(nil)
