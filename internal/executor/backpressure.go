package executor

import (
	"sync"
	"sync/atomic"

	"github.com/coremesh/coremesh/internal/logger"
)

// backpressure implements the bookkeeping shared by every queueing
// executor: increment-then-check on submit, with the over-threshold
// outcome decided by the executor's OverflowPolicy (Drop discards and
// warns, Block stalls the submitter until the queue recedes, Grow accepts
// unconditionally). All policies warn once the 95% band is reached.
type backpressure struct {
	pending   atomic.Int64
	dropped   atomic.Uint64
	threshold uint64
	warnAt    uint64
	policy    OverflowPolicy
	log       *logger.Logger
	name      string

	// blockMu/blockCond are only touched when policy is Block, keeping
	// the Drop and Grow fast paths free of lock traffic.
	blockMu   sync.Mutex
	blockCond *sync.Cond
}

func newBackpressure(name string, threshold uint64, policy OverflowPolicy, log *logger.Logger) *backpressure {
	b := &backpressure{
		threshold: threshold,
		warnAt:    threshold * 95 / 100,
		policy:    policy,
		log:       log,
		name:      name,
	}
	b.blockCond = sync.NewCond(&b.blockMu)
	return b
}

// admit increments the pending counter and decides whether the caller may
// proceed. It returns false only under the Drop policy; Block waits for
// the queue to recede and Grow always succeeds.
func (b *backpressure) admit() bool {
	for {
		n := b.pending.Add(1)
		if uint64(n) <= b.threshold || b.policy == Grow {
			if uint64(n) > b.warnAt && b.log != nil {
				b.log.Warn("executor queue about to reach threshold",
					logger.String("executor", b.name),
					logger.Uint64("pending", uint64(n)),
					logger.Uint64("threshold", b.threshold))
			}
			return true
		}
		b.pending.Add(-1)

		if b.policy == Drop {
			b.dropped.Add(1)
			if b.log != nil {
				b.log.Warn("executor queue overloaded, dropping task",
					logger.String("executor", b.name),
					logger.Uint64("threshold", b.threshold))
			}
			return false
		}

		// Block: sleep until release() signals a slot may have opened,
		// then retry the increment.
		b.blockMu.Lock()
		for uint64(b.pending.Load()) >= b.threshold {
			b.blockCond.Wait()
		}
		b.blockMu.Unlock()
	}
}

// release decrements the pending counter once a task has run (or been
// abandoned after a panic).
func (b *backpressure) release() {
	b.pending.Add(-1)
	if b.policy == Block {
		b.blockMu.Lock()
		b.blockCond.Signal()
		b.blockMu.Unlock()
	}
}

func (b *backpressure) current() int64 {
	return b.pending.Load()
}

func (b *backpressure) droppedCount() uint64 {
	return b.dropped.Load()
}
