package mgr

import (
	"sync"
	"time"
)

// Task runs a worker function on demand, after a delay or repeatedly.
type Task struct {
	mgr  *Manager
	name string
	fn   func(w *WorkerCtx) error

	lock   sync.Mutex
	run    bool
	delay  time.Duration
	repeat time.Duration

	eval chan struct{}
}

// NewTask creates a new task, but does not yet execute or schedule anything.
func (m *Manager) NewTask(name string, fn func(w *WorkerCtx) error) *Task {
	t := &Task{
		mgr:  m,
		name: name,
		fn:   fn,
		eval: make(chan struct{}, 1),
	}
	go t.loop()
	return t
}

// Repeat creates a new task and immediately schedules a repeated execution.
func (m *Manager) Repeat(name string, interval time.Duration, fn func(w *WorkerCtx) error) *Task {
	return m.NewTask(name, fn).Repeat(interval)
}

func (t *Task) loop() {
	var next time.Time
	timer := time.NewTimer(0)
	timer.Stop()
	defer timer.Stop()

	for {
		// Apply changed schedule.
		t.lock.Lock()
		runNow := t.run
		t.run = false
		switch {
		case t.delay > 0:
			next = time.Now().Add(t.delay)
			t.delay = 0
		case next.IsZero() && t.repeat > 0:
			next = time.Now().Add(t.repeat)
		}
		t.lock.Unlock()

		// Errors are logged by the manager.
		if runNow {
			_ = t.mgr.Do(t.name, t.fn)
			continue
		}

		var fire <-chan time.Time
		if !next.IsZero() {
			timer.Reset(time.Until(next))
			fire = timer.C
		}

		select {
		case <-fire:
			_ = t.mgr.Do(t.name, t.fn)

			t.lock.Lock()
			if t.repeat > 0 {
				next = time.Now().Add(t.repeat)
			} else {
				next = time.Time{}
			}
			t.lock.Unlock()

		case <-t.eval:
			timer.Stop()

		case <-t.mgr.Done():
			return
		}
	}
}

func (t *Task) notify() {
	select {
	case t.eval <- struct{}{}:
	default:
	}
}

// Go immediately executes the task.
func (t *Task) Go() *Task {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.run = true
	t.notify()

	return t
}

// Repeat repeats the task at the given interval.
func (t *Task) Repeat(interval time.Duration) *Task {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.repeat = interval
	t.notify()

	return t
}

// Delay executes the task after the given duration.
func (t *Task) Delay(duration time.Duration) *Task {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.delay = duration
	t.notify()

	return t
}
