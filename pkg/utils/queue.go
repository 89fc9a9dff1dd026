package utils

import (
	"sync"

	"github.com/gammazero/deque"
)

// TaskQueue runs tasks one at a time, in submission order, on its own
// goroutine. All mutable state owned by a queue must only be touched from
// tasks dispatched onto it.
type TaskQueue struct {
	name   string
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  *deque.Deque[func()]
	closed bool
	done   chan struct{}
}

func NewTaskQueue(name string) *TaskQueue {
	q := &TaskQueue{
		name:  name,
		tasks: deque.New[func()](),
		done:  make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *TaskQueue) Name() string {
	return q.name
}

// Dispatch enqueues task and returns immediately. It reports false when the
// queue is already closed and the task was discarded.
func (q *TaskQueue) Dispatch(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks.PushBack(task)
	q.cond.Signal()
	return true
}

// Sync enqueues task and waits for it to run. Must not be called from a task
// running on the same queue.
func (q *TaskQueue) Sync(task func()) bool {
	finished := make(chan struct{})
	if !q.Dispatch(func() {
		defer close(finished)
		task()
	}) {
		return false
	}
	<-finished
	return true
}

// Close stops accepting tasks. Tasks already queued still run; Done is
// closed after the last one returns.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Signal()
}

func (q *TaskQueue) Done() <-chan struct{} {
	return q.done
}

func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

func (q *TaskQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for q.tasks.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.tasks.Len() == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		task := q.tasks.PopFront()
		q.mu.Unlock()
		task()
	}
}
