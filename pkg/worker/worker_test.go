package worker_test

import (
	"testing"
	"time"

	"github.com/calders/mediascope/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatedTask struct {
	started    chan struct{}
	release    chan struct{}
	executions chan struct{}
}

func newGatedTask() *gatedTask {
	return &gatedTask{
		started:    make(chan struct{}, 16),
		release:    make(chan struct{}),
		executions: make(chan struct{}, 16),
	}
}

// Execute blocks on the release channel once, then reports no work so
// the worker goes back to sleep.
func (task *gatedTask) Execute(worker.Worker) (bool, error) {
	task.started <- struct{}{}
	<-task.release
	task.executions <- struct{}{}
	return false, nil
}

func awaitSignal(t *testing.T, ch chan struct{}, message string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		require.FailNow(t, message)
	}
}

// A wakeup raised while the worker is still mid-task must not be lost:
// the worker has to run one more pass after finishing instead of
// sleeping through work that arrived during the window.
func TestWakeupDuringExecutionIsNotLost(t *testing.T) {
	task := newGatedTask()
	pool := worker.NewWorkerPool()
	require.NoError(t, pool.PushWorker(worker.NewWorker("gated", task)))
	require.NoError(t, pool.Start())
	defer pool.Close()

	awaitSignal(t, task.started, "worker never began its first pass")

	// Worker is mid-execution now; this wakeup lands in the window
	// before it sleeps.
	require.NoError(t, pool.WakeupWorkers())
	close(task.release)

	awaitSignal(t, task.executions, "first pass never finished")
	awaitSignal(t, task.started, "buffered wakeup was dropped; worker slept through it")
	awaitSignal(t, task.executions, "second pass never finished")
}

func TestWakeupAfterCloseIsRejected(t *testing.T) {
	task := newGatedTask()
	pool := worker.NewWorkerPool()
	require.NoError(t, pool.PushWorker(worker.NewWorker("gated", task)))
	require.NoError(t, pool.Start())

	awaitSignal(t, task.started, "worker never began its first pass")
	close(task.release)
	awaitSignal(t, task.executions, "first pass never finished")

	pool.Close()
	assert.Error(t, pool.WakeupWorkers(), "a closed pool must refuse wakeups instead of signalling closed channels")
}
