package mgr

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"
)

// ManagerNameSLogKey is used as the logging key for the name of the manager.
var ManagerNameSLogKey = "module"

// defaultWorkerWaitTimeout is used when waiting for workers without a
// specified timeout.
const defaultWorkerWaitTimeout = time.Minute

// Manager manages workers.
type Manager struct {
	name   string
	logger *slog.Logger

	ctx       context.Context
	cancelCtx context.CancelFunc

	workerCnt   atomic.Int32
	workersDone chan struct{}
}

// New returns a new manager.
func New(name string) *Manager {
	m := &Manager{
		name:        name,
		logger:      slog.Default().With(ManagerNameSLogKey, name),
		workersDone: make(chan struct{}),
	}
	m.ctx, m.cancelCtx = context.WithCancel(context.Background())
	return m
}

// Name returns the manager name.
func (m *Manager) Name() string {
	return m.name
}

// Ctx returns the worker context.
func (m *Manager) Ctx() context.Context {
	return m.ctx
}

// Cancel cancels the worker context.
func (m *Manager) Cancel() {
	m.cancelCtx()
}

// Done returns the context Done channel.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// IsDone checks whether the manager context is done.
func (m *Manager) IsDone() bool {
	return m.ctx.Err() != nil
}

// Logger returns the logger used by the manager.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// LogEnabled reports whether the logger emits log records at the given level.
// The manager context is automatically supplied.
func (m *Manager) LogEnabled(level slog.Level) bool {
	return m.logger.Enabled(m.ctx, level)
}

// Debug logs at LevelDebug.
// The manager context is automatically supplied.
func (m *Manager) Debug(msg string, args ...any) {
	m.writeLog(slog.LevelDebug, msg, args...)
}

// Info logs at LevelInfo.
// The manager context is automatically supplied.
func (m *Manager) Info(msg string, args ...any) {
	m.writeLog(slog.LevelInfo, msg, args...)
}

// Warn logs at LevelWarn.
// The manager context is automatically supplied.
func (m *Manager) Warn(msg string, args ...any) {
	m.writeLog(slog.LevelWarn, msg, args...)
}

// Error logs at LevelError.
// The manager context is automatically supplied.
func (m *Manager) Error(msg string, args ...any) {
	m.writeLog(slog.LevelError, msg, args...)
}

func (m *Manager) writeLog(level slog.Level, msg string, args ...any) {
	if !m.logger.Enabled(m.ctx, level) {
		return
	}

	// Skip the log helper and writeLog in the source reference.
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = m.logger.Handler().Handle(m.ctx, r)
}

// WaitForWorkers waits for all workers of this manager to be done.
// The default maximum waiting time is one minute.
func (m *Manager) WaitForWorkers(max time.Duration) (done bool) { //nolint:predeclared
	if max <= 0 {
		max = defaultWorkerWaitTimeout
	}

	// Return immediately if there are no workers.
	if m.workerCnt.Load() == 0 {
		return true
	}

	timeout := time.NewTimer(max)
	defer timeout.Stop()
	recheck := time.NewTicker(10 * time.Millisecond)
	defer recheck.Stop()
	for {
		select {
		case <-m.workersDone:
		case <-recheck.C:
		case <-timeout.C:
			return m.workerCnt.Load() <= 0
		}
		if m.workerCnt.Load() <= 0 {
			return true
		}
	}
}

func (m *Manager) workerStart() {
	m.workerCnt.Add(1)
}

func (m *Manager) workerDone() {
	if m.workerCnt.Add(-1) <= 0 {
		// Notify all waiters.
		for {
			select {
			case m.workersDone <- struct{}{}:
			default:
				return
			}
		}
	}
}
