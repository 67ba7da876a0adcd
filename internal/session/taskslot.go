package session

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned by [TaskSlot.Submit] when a task is running and the
// pending queue is full.
var ErrBusy = errors.New("session: a request is already being processed")

// ErrClosed is returned by [TaskSlot.Submit] after the owning session has
// been destroyed.
var ErrClosed = errors.New("session: closed")

// DefaultMaxPending is the number of tasks that may wait behind the running
// one.
const DefaultMaxPending = 2

// TaskSlot runs background tasks for one session, one at a time and in
// submission order. At most maxPending tasks wait behind the running task;
// further submissions fail with [ErrBusy] until the queue drains.
//
// Tasks receive the session context and must return promptly once it is
// cancelled. Tasks still queued at cancellation are dropped.
//
// All methods are safe for concurrent use.
type TaskSlot struct {
	ctx        context.Context
	maxPending int

	mu      sync.Mutex
	running bool
	queue   []func(context.Context)
	wg      sync.WaitGroup
}

// NewTaskSlot returns a TaskSlot bound to ctx. A negative maxPending is
// treated as zero.
func NewTaskSlot(ctx context.Context, maxPending int) *TaskSlot {
	return &TaskSlot{ctx: ctx, maxPending: max(maxPending, 0)}
}

// Submit schedules fn. It never blocks on the task itself.
func (t *TaskSlot) Submit(fn func(context.Context)) error {
	if fn == nil {
		return errors.New("session: nil task")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx.Err() != nil {
		return ErrClosed
	}
	if t.running {
		if len(t.queue) >= t.maxPending {
			return ErrBusy
		}
		t.queue = append(t.queue, fn)
		return nil
	}
	t.running = true
	t.wg.Add(1)
	go t.run(fn)
	return nil
}

func (t *TaskSlot) run(fn func(context.Context)) {
	defer t.wg.Done()
	for {
		fn(t.ctx)

		t.mu.Lock()
		if t.ctx.Err() != nil {
			t.queue = nil
		}
		if len(t.queue) == 0 {
			t.running = false
			t.mu.Unlock()
			return
		}
		fn = t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		t.mu.Unlock()
	}
}

// Busy reports whether a task is running.
func (t *TaskSlot) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Pending returns the number of queued tasks.
func (t *TaskSlot) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Wait blocks until no task is running.
func (t *TaskSlot) Wait() {
	t.wg.Wait()
}
