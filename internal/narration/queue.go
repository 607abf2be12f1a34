package narration

import (
	"errors"
	"sync"
)

// ErrQueueClosed is delivered to tasks submitted after Close.
var ErrQueueClosed = errors.New("narration: task queue closed")

type task struct {
	fn   func() error
	done chan error
}

// TaskQueue runs submitted tasks one at a time, in submission order, on a
// single worker goroutine.
type TaskQueue struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan task
	wg     sync.WaitGroup
}

// NewTaskQueue starts the worker. buffer bounds how many tasks may wait
// before Submit blocks.
func NewTaskQueue(buffer int) *TaskQueue {
	if buffer < 1 {
		buffer = 1
	}
	q := &TaskQueue{tasks: make(chan task, buffer)}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *TaskQueue) run() {
	defer q.wg.Done()
	for t := range q.tasks {
		t.done <- t.fn()
		close(t.done)
	}
}

// Submit enqueues fn. The returned channel receives fn's result once it has
// run and is then closed.
func (q *TaskQueue) Submit(fn func() error) <-chan error {
	done := make(chan error, 1)

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		done <- ErrQueueClosed
		close(done)
		return done
	}
	q.tasks <- task{fn: fn, done: done}
	return done
}

// Close stops accepting tasks and waits for queued ones to finish.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}
