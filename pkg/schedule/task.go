package schedule

import (
	"sync"
	"time"
)

// Task is a cancellable one-shot timer. It replaces self-rescheduling callbacks so that
// pending retries can be observed and cancelled on shutdown.
type Task struct {
	mu        sync.Mutex
	timer     *time.Timer
	done      chan struct{}
	cancelled bool
	fired     bool
}

// After runs fn once after delay unless the task is cancelled first.
func After(delay time.Duration, fn func()) *Task {
	t := &Task{done: make(chan struct{})}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return
		}
		t.fired = true
		t.mu.Unlock()

		defer close(t.done)
		fn()
	})
	return t
}

// Cancel prevents a pending run. It reports false when fn already started.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.cancelled {
		return false
	}
	t.cancelled = true
	t.timer.Stop()
	close(t.done)
	return true
}

// Done is closed once fn returned or the task was cancelled.
func (t *Task) Done() <-chan struct{} { return t.done }
