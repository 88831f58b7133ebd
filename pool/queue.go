// File: pool/queue.go
// Package pool implements the worker pool the dispatcher hands ready events
// to: a bounded multi-producer task queue with a producer-wait / consumer-
// notify discipline, drained by a fixed set of worker goroutines.
// License: Apache-2.0

package pool

import (
	"sync"

	"github.com/eapache/queue"
)

// Task is a oneshot closure executed by a worker. No ordering is guaranteed
// between tasks.
type Task func()

// TaskQueue is the bounded MPSC queue between the dispatcher (and other
// producers) and the workers. The ring storage grows on demand; the bound is
// enforced by the producers through the Length/Capacity/Wait discipline, so
// a producer that respects the contract blocks instead of growing the queue
// past its capacity.
type TaskQueue struct {
	mu       sync.Mutex
	tasks    *queue.Queue
	capacity int
	closed   bool

	producerCond *sync.Cond // a consumer freed a slot
	consumerCond *sync.Cond // a producer queued a task
}

// NewTaskQueue creates a queue bounded at capacity tasks.
func NewTaskQueue(capacity int) *TaskQueue {
	q := &TaskQueue{
		tasks:    queue.New(),
		capacity: capacity,
	}
	q.producerCond = sync.NewCond(&q.mu)
	q.consumerCond = sync.NewCond(&q.mu)
	return q
}

// ProducerAccess locks the queue for one producer. The access must be
// finished with Release; NotifyOne is called after that.
type ProducerAccess struct {
	q *TaskQueue
}

// ProducerAccess acquires the producer side of the queue.
func (q *TaskQueue) ProducerAccess() ProducerAccess {
	q.mu.Lock()
	return ProducerAccess{q}
}

// Length returns the number of queued tasks.
func (a ProducerAccess) Length() int { return a.q.tasks.Length() }

// Capacity returns the queue bound.
func (a ProducerAccess) Capacity() int { return a.q.capacity }

// Closed reports whether the queue was shut down.
func (a ProducerAccess) Closed() bool { return a.q.closed }

// Wait blocks until a consumer signals that it removed a task. The caller
// re-checks capacity afterwards.
func (a ProducerAccess) Wait() { a.q.producerCond.Wait() }

// MoveIn queues a task. The caller must have verified capacity.
func (a ProducerAccess) MoveIn(t Task) { a.q.tasks.Add(t) }

// Release ends the producer access.
func (a ProducerAccess) Release() { a.q.mu.Unlock() }

// NotifyOne wakes one worker. Call after Release.
func (q *TaskQueue) NotifyOne() { q.consumerCond.Signal() }

// Length returns the number of queued tasks right now.
func (q *TaskQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Length()
}

// take removes one task, blocking until one is available or the queue is
// closed and empty.
func (q *TaskQueue) take() (Task, bool) {
	q.mu.Lock()
	for q.tasks.Length() == 0 && !q.closed {
		q.consumerCond.Wait()
	}
	if q.tasks.Length() == 0 {
		q.mu.Unlock()
		return nil, false
	}
	t := q.tasks.Remove().(Task)
	q.mu.Unlock()
	q.producerCond.Signal()
	return t, true
}

// Close shuts the queue down. Queued tasks still run; blocked producers and
// idle workers are released.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.producerCond.Broadcast()
	q.consumerCond.Broadcast()
}
