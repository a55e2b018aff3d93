package worker

import (
	"sync/atomic"

	"github.com/calders/mediascope/pkg/logger"
)

var workerLogger = logger.Get("Worker")

type WorkerWakeupChan chan int

type WorkerStatus int32

const (
	Sleeping WorkerStatus = iota
	Working
	Finished
)

// WorkerTask is the unit of work a worker executes each time it's woken.
// The boolean return indicates whether any work was actually performed;
// a worker that performed no work goes back to sleep until signalled.
type WorkerTask interface {
	Execute(Worker) (bool, error)
}

type Worker interface {
	Start()
	Status() WorkerStatus
	WakeupChan() WorkerWakeupChan
	Label() string
	Sleep() bool
	Close()
}

type taskWorker struct {
	label         string
	task          WorkerTask
	wakeupChan    WorkerWakeupChan
	currentStatus atomic.Int32
}

func NewWorker(label string, task WorkerTask) *taskWorker {
	// The buffer holds one pending wakeup so a signal sent while the
	// worker is still finishing its previous pass is not lost; the
	// subsequent Sleep consumes it and loops again immediately.
	return &taskWorker{
		label:      label,
		task:       task,
		wakeupChan: make(WorkerWakeupChan, 1),
	}
}

// Start runs the workers task in a loop. Whenever a task execution reports
// that no work was available, the worker sleeps until it's woken via it's
// wakeup channel. Task errors are logged and do NOT stop the worker; the
// erroneous unit of work is considered settled by whoever raised the error.
func (worker *taskWorker) Start() {
	workerLogger.Emit(logger.NEW, "Starting worker %v\n", worker.label)
	worker.currentStatus.Store(int32(Working))

	for {
		didWork, err := worker.task.Execute(worker)
		if err != nil {
			workerLogger.Emit(logger.ERROR, "Worker %v task reported error(%T): %v\n", worker.label, err, err.Error())
		}

		if !didWork {
			if !worker.Sleep() {
				break
			}
		}
	}

	worker.currentStatus.Store(int32(Finished))
	workerLogger.Emit(logger.STOP, "Worker %v has stopped\n", worker.label)
}

func (worker *taskWorker) Status() WorkerStatus {
	return WorkerStatus(worker.currentStatus.Load())
}

func (worker *taskWorker) WakeupChan() WorkerWakeupChan {
	return worker.wakeupChan
}

// Close closes the Worker by closing the WakeupChan.
// Note that this does not interrupt a task execution
// that is currently in flight.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

func (worker *taskWorker) Label() string {
	return worker.label
}

// Sleep puts a worker to sleep until it's wakeupChan is
// signalled from another goroutine. Returns a boolean that
// is 'false' if the wakeup channel was closed - indicating
// the worker should quit.
func (worker *taskWorker) Sleep() (isAlive bool) {
	worker.currentStatus.Store(int32(Sleeping))

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.currentStatus.Store(int32(Working))
	} else {
		workerLogger.Emit(logger.STOP, "Wakeup channel for worker '%v' has been closed - worker is exiting\n", worker.label)
		worker.currentStatus.Store(int32(Finished))
	}

	return isAlive
}
