package mgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"
)

// WorkerCtx provides workers with the necessary environment for flow control
// and logging.
type WorkerCtx struct {
	name   string
	logger *slog.Logger

	ctx       context.Context
	cancelCtx context.CancelFunc
}

// Ctx returns the worker context.
func (w *WorkerCtx) Ctx() context.Context {
	return w.ctx
}

// Cancel cancels the worker context.
func (w *WorkerCtx) Cancel() {
	w.cancelCtx()
}

// Done returns the context Done channel.
func (w *WorkerCtx) Done() <-chan struct{} {
	return w.ctx.Done()
}

// IsDone checks whether the worker context is done.
func (w *WorkerCtx) IsDone() bool {
	return w.ctx.Err() != nil
}

// Logger returns the logger used by the worker.
func (w *WorkerCtx) Logger() *slog.Logger {
	return w.logger
}

// Debug logs at LevelDebug.
// The worker context is automatically supplied.
func (w *WorkerCtx) Debug(msg string, args ...any) {
	w.writeLog(slog.LevelDebug, msg, args...)
}

// Info logs at LevelInfo.
// The worker context is automatically supplied.
func (w *WorkerCtx) Info(msg string, args ...any) {
	w.writeLog(slog.LevelInfo, msg, args...)
}

// Warn logs at LevelWarn.
// The worker context is automatically supplied.
func (w *WorkerCtx) Warn(msg string, args ...any) {
	w.writeLog(slog.LevelWarn, msg, args...)
}

// Error logs at LevelError.
// The worker context is automatically supplied.
func (w *WorkerCtx) Error(msg string, args ...any) {
	w.writeLog(slog.LevelError, msg, args...)
}

func (w *WorkerCtx) writeLog(level slog.Level, msg string, args ...any) {
	if !w.logger.Enabled(w.ctx, level) {
		return
	}

	// Skip the log helper and writeLog in the source reference.
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = w.logger.Handler().Handle(w.ctx, r)
}

// ErrWorkerPanic is returned when a worker panicked.
var ErrWorkerPanic = errors.New("worker panic")

const (
	minRestartBackoff = 100 * time.Millisecond
	maxRestartBackoff = time.Minute
)

// Go starts the given function in a goroutine (as a "worker").
// The worker context has
// - A separate context which is canceled when the functions returns.
// - Access to named structure logging.
// - Given function is re-run after failure (with backoff).
// - Panic catching.
// - Flow control helpers.
func (m *Manager) Go(name string, fn func(w *WorkerCtx) error) {
	m.workerStart()
	go m.manageWorker(name, fn)
}

func (m *Manager) manageWorker(name string, fn func(w *WorkerCtx) error) {
	defer m.workerDone()

	w := m.newWorkerCtx(name)
	defer w.Cancel()

	backoff := minRestartBackoff
	for {
		err := m.runWorker(w, fn)
		switch {
		case err == nil:
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		case w.IsDone():
			return
		}

		w.Error("worker failed, restarting", "err", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-w.Done():
			return
		}
		backoff = min(backoff*2, maxRestartBackoff)
	}
}

// Do directly executes the given function (as a "worker").
// The worker context has
// - A separate context which is canceled when the functions returns.
// - Access to named structure logging.
// - Given function is NOT re-run after failure.
// - Panic catching.
// - Flow control helpers.
func (m *Manager) Do(name string, fn func(w *WorkerCtx) error) error {
	m.workerStart()
	defer m.workerDone()

	w := m.newWorkerCtx(name)
	defer w.Cancel()

	err := m.runWorker(w, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		w.Error("worker failed", "err", err)
		return err
	}
}

func (m *Manager) newWorkerCtx(name string) *WorkerCtx {
	w := &WorkerCtx{
		name:   name,
		logger: m.logger.With("worker", name),
	}
	w.ctx, w.cancelCtx = context.WithCancel(m.ctx)
	return w
}

func (m *Manager) runWorker(w *WorkerCtx, fn func(w *WorkerCtx) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: %v\n%s", ErrWorkerPanic, w.name, p, debug.Stack())
		}
	}()

	return fn(w)
}
