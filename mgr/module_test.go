package mgr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testModule struct {
	mgr      *Manager
	startErr error
	events   *[]string
	name     string
}

func (tm *testModule) Manager() *Manager { return tm.mgr }

func (tm *testModule) Start() error {
	*tm.events = append(*tm.events, "start "+tm.name)
	if tm.startErr != nil {
		return tm.startErr
	}
	tm.mgr.Go("loop", func(w *WorkerCtx) error {
		<-w.Done()
		return nil
	})
	return nil
}

func (tm *testModule) Stop() error {
	*tm.events = append(*tm.events, "stop "+tm.name)
	return nil
}

func TestGroupOrder(t *testing.T) {
	t.Parallel()

	var events []string
	a := &testModule{mgr: New("a"), events: &events, name: "a"}
	b := &testModule{mgr: New("b"), events: &events, name: "b"}
	var missing *testModule

	g := NewGroup(a, nil, missing, b)
	require.NoError(t, g.Start())
	assert.False(t, g.IsDone())
	assert.True(t, g.Stop())
	assert.True(t, g.IsDone())

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
	assert.True(t, a.mgr.IsDone())
	assert.True(t, b.mgr.WaitForWorkers(time.Second))
}

func TestGroupStartFailure(t *testing.T) {
	t.Parallel()

	var events []string
	a := &testModule{mgr: New("a"), events: &events, name: "a"}
	b := &testModule{mgr: New("b"), events: &events, name: "b", startErr: errors.New("boom")}

	g := NewGroup(a, b)
	err := g.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
}

func TestWorkerRestartAndPanic(t *testing.T) {
	t.Parallel()

	m := New("restart")
	runs := 0
	done := make(chan struct{})
	m.Go("flaky", func(w *WorkerCtx) error {
		runs++
		switch runs {
		case 1:
			return errors.New("first run fails")
		case 2:
			panic("second run panics")
		default:
			close(done)
			return nil
		}
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker was not restarted")
	}
	assert.True(t, m.WaitForWorkers(time.Second))

	err := m.Do("panic", func(w *WorkerCtx) error {
		panic("boom")
	})
	require.ErrorIs(t, err, ErrWorkerPanic)
}
