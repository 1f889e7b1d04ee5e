// Package events provides the serialization and fan-out primitives the risk
// engine is built on: a single-writer task queue per account and a snapshot
// publisher for portfolio and risk-state updates.
package events

import "sync"

// TaskQueue serializes work onto a single goroutine. All mutation of one
// account's portfolio, risk state and transition machine is pushed through
// its queue, so the accounting invariants hold between any two observable
// updates without further locking.
type TaskQueue struct {
	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewTaskQueue starts the draining goroutine.
func NewTaskQueue(buffer int) *TaskQueue {
	q := &TaskQueue{
		tasks: make(chan func(), buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *TaskQueue) run() {
	defer close(q.done)
	for {
		select {
		case task := <-q.tasks:
			task()
		case <-q.quit:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case task := <-q.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Push enqueues a task. Blocks when the buffer is full rather than dropping:
// losing an execution report would corrupt the cost basis. Tasks pushed
// after Close are discarded.
func (q *TaskQueue) Push(task func()) {
	select {
	case q.tasks <- task:
	case <-q.done:
	}
}

// Close drains already-queued tasks and waits for the goroutine to exit.
func (q *TaskQueue) Close() {
	q.once.Do(func() { close(q.quit) })
	<-q.done
}
