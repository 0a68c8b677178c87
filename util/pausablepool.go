package ternutil

import (
	"sync"

	"github.com/pkg/errors"
)

// Errors returned by Submit when the pool does not accept tasks.
var (
	ErrPoolPaused  = errors.New("the worker pool is paused")
	ErrPoolStopped = errors.New("the worker pool is stopped")
)

// Type of the signal sent to the workers to pause or resume.
type poolCtrlSignal int

const (
	poolCtrlSignalPause poolCtrlSignal = iota
	poolCtrlSignalResume
)

// PausablePool is a fixed pool of worker goroutines executing submitted
// tasks, with the capability to pause and resume. Pause blocks until
// every worker finishes its current task, so after it returns no task
// is running and none starts until Resume.
type PausablePool struct {
	// Workers receive the tasks on this channel.
	tasks chan func()
	// Workers receive the pause and resume signals over these
	// channels, one channel per worker.
	ctrlSignals []chan poolCtrlSignal

	mutex   sync.Mutex
	paused  bool
	stopped bool
}

// Creates a pool with the given number of workers. All workers are
// running when the constructor returns.
func NewPausablePool(size int) *PausablePool {
	pool := &PausablePool{
		tasks:       make(chan func()),
		ctrlSignals: make([]chan poolCtrlSignal, size),
	}
	var started sync.WaitGroup
	started.Add(size)
	for i := 0; i < size; i++ {
		pool.ctrlSignals[i] = make(chan poolCtrlSignal)
		go pool.worker(&started, i)
	}
	started.Wait()
	return pool
}

// The worker loop. Between the tasks the worker listens for the control
// signals; a paused worker waits for the resume signal in the inner
// loop and never picks a task while paused. The control channels are
// closed when the pool is stopped.
func (pool *PausablePool) worker(started *sync.WaitGroup, i int) {
	started.Done()
	for {
		select {
		case signal, ok := <-pool.ctrlSignals[i]:
			if !ok {
				return
			}
			if signal != poolCtrlSignalPause {
				continue
			}
			for {
				signal, ok := <-pool.ctrlSignals[i]
				if !ok {
					return
				}
				if signal == poolCtrlSignalResume {
					break
				}
			}
		case task, ok := <-pool.tasks:
			if !ok {
				return
			}
			task()
		}
	}
}

// Pauses the pool. The call blocks until every worker acknowledges the
// pause, i.e. until the tasks running at the time of the call finish.
// It fails with ErrPoolStopped when the pool has been stopped.
func (pool *PausablePool) Pause() error {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()
	if pool.stopped {
		return errors.WithStack(ErrPoolStopped)
	}
	if !pool.paused {
		pool.paused = true
		for _, ch := range pool.ctrlSignals {
			ch <- poolCtrlSignalPause
		}
	}
	return nil
}

// Resumes the pool paused with Pause. It fails with ErrPoolStopped when
// the pool has been stopped.
func (pool *PausablePool) Resume() error {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()
	if pool.stopped {
		return errors.WithStack(ErrPoolStopped)
	}
	if pool.paused {
		pool.paused = false
		for _, ch := range pool.ctrlSignals {
			ch <- poolCtrlSignalResume
		}
	}
	return nil
}

// Stops the pool for good. The workers exit after finishing their
// current tasks; no task submitted after Stop is executed.
func (pool *PausablePool) Stop() {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()
	if !pool.stopped {
		pool.stopped = true
		for _, ch := range pool.ctrlSignals {
			close(ch)
		}
		close(pool.tasks)
	}
}

// Submits a task for execution by the next free worker. The call blocks
// until a worker accepts the task; it fails with ErrPoolPaused or
// ErrPoolStopped when the pool does not accept tasks.
func (pool *PausablePool) Submit(task func()) error {
	pool.mutex.Lock()
	defer pool.mutex.Unlock()
	switch {
	case pool.paused:
		return errors.WithStack(ErrPoolPaused)
	case pool.stopped:
		return errors.WithStack(ErrPoolStopped)
	default:
		pool.tasks <- task
		return nil
	}
}
