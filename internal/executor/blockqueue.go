package executor

import (
	"errors"
	"sync"
)

// ErrQueueStopped is returned by blockQueue.TryDequeue once the queue has
// been stopped and fully drained. "Stopped" and "empty" are distinct
// conditions: a stopped-but-non-empty queue keeps draining normally, and
// only a stopped-and-empty queue returns this sentinel.
var ErrQueueStopped = errors.New("executor: block queue stopped")

// blockQueue is the simple mutex+condvar FIFO backing the guard-thread
// executor.
type blockQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []func()
	stopped bool
}

func newBlockQueue() *blockQueue {
	q := &blockQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item and wakes one waiting consumer. It is a no-op after
// Stop.
func (q *blockQueue) Push(item func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Pop blocks until an item is available or the queue is stopped and
// drained, in which case it returns (nil, false).
func (q *blockQueue) Pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// TryDequeue is the non-blocking counterpart: it returns ErrQueueStopped
// only once the queue is both stopped and empty, and a nil item with a nil
// error when the queue is merely empty but still running.
func (q *blockQueue) TryDequeue() (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		if q.stopped {
			return nil, ErrQueueStopped
		}
		return nil, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

// Stop marks the queue stopped and wakes every waiter; already-queued
// items remain poppable until drained.
func (q *blockQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.cond.Broadcast()
}

func (q *blockQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
