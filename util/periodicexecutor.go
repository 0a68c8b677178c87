package ternutil

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Structure representing a periodic executor which is configured to
// execute a function specified by a caller according to the timer
// interval specified.
type PeriodicExecutor struct {
	name            string
	executorFunc    func() error
	interval        int64
	ticker          *time.Ticker
	active          bool
	pauseCount      uint16
	done            chan bool
	wg              *sync.WaitGroup
	mutex           *sync.Mutex
	getIntervalFunc func() (int64, error)
}

// Interval used while the executor is inactive to check if it was re-enabled.
const InactiveInterval int64 = 60

// Creates an instance of a new periodic executor. The executor periodically
// triggers the supplied action in a goroutine, with the interval in seconds
// returned by getIntervalFunc. The interval function is re-evaluated after
// each execution, so the interval can be changed at runtime. An interval of
// zero or less disables the executor until the interval function starts
// returning a positive value again; a disabled executor re-checks the
// interval every InactiveInterval seconds.
func NewPeriodicExecutor(name string, executorFunc func() error, getIntervalFunc func() (int64, error)) (*PeriodicExecutor, error) {
	interval, err := getIntervalFunc()
	if err != nil {
		return nil, err
	}

	active := true
	if interval <= 0 {
		interval = InactiveInterval
		active = false
	}

	executor := &PeriodicExecutor{
		name:            name,
		executorFunc:    executorFunc,
		ticker:          time.NewTicker(time.Duration(interval) * time.Second),
		active:          active,
		pauseCount:      0,
		done:            make(chan bool),
		wg:              &sync.WaitGroup{},
		mutex:           &sync.Mutex{},
		interval:        interval,
		getIntervalFunc: getIntervalFunc,
	}

	executor.wg.Add(1)
	go executor.executorLoop()

	log.WithField("name", name).Info("Started periodic executor")
	return executor, nil
}

// Terminates the executor, i.e. the executor no longer triggers the
// user defined function.
func (executor *PeriodicExecutor) Shutdown() {
	executor.done <- true
	executor.wg.Wait()
	log.WithField("name", executor.name).Info("Stopped periodic executor")
}

// Temporarily stops the timer triggering the executor action. It is called
// internally while the action runs so that a long lasting action is not
// immediately triggered again. It can also be called externally when the
// action would conflict with some other operation. Pause can be called
// multiple times and the timer resumes after calling Unpause the same
// number of times.
func (executor *PeriodicExecutor) Pause() {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	executor.ticker.Stop()
	executor.pauseCount++
}

// Checks if the executor is currently paused.
func (executor *PeriodicExecutor) Paused() bool {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	return executor.pauseCount > 0
}

// Unpause implementation which optionally locks the executor's mutex. It
// is called by Unpause() and Reset(); the latter holds the lock already.
func (executor *PeriodicExecutor) unpause(lock bool) {
	if lock {
		executor.mutex.Lock()
		defer executor.mutex.Unlock()
	}
	if executor.pauseCount > 0 {
		executor.pauseCount--
	}
	// Unpause() called for all earlier calls to Pause(), so we can resume
	// the executor action.
	if executor.pauseCount == 0 {
		executor.ticker.Reset(time.Duration(executor.interval) * time.Second)
	}
}

// Unpauses the executor paused with Pause().
func (executor *PeriodicExecutor) Unpause() {
	executor.unpause(true)
}

// Return the current interval in seconds.
func (executor *PeriodicExecutor) GetInterval() int64 {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	return executor.interval
}

// Reschedule the executor timer to a new interval. It forcibly stops
// the executor and reschedules to the new interval.
func (executor *PeriodicExecutor) Reset(interval int64) {
	executor.mutex.Lock()
	defer executor.mutex.Unlock()
	executor.ticker.Stop()
	executor.pauseCount = 0
	executor.interval = interval
	executor.unpause(false)
}

// This function controls the timing of the function execution and captures
// the termination signal.
func (executor *PeriodicExecutor) executorLoop() {
	defer executor.wg.Done()
	for {
		select {
		// Every N seconds execute the user defined function.
		case <-executor.ticker.C:
			if executor.active {
				// Temporarily stop the executor while running the external
				// action. It will be resumed when the action ends.
				executor.Pause()
				err := executor.executorFunc()
				executor.Unpause()
				if err != nil {
					log.WithField("name", executor.name).WithError(err).
						Error("Errors were encountered while running the periodic action")
				}
			}
		// Wait for the done signal from the Shutdown function.
		case <-executor.done:
			// Make sure this function is never called again.
			executor.Pause()
			return
		}

		// Check if the interval has changed. If so, recreate the ticker.
		interval, err := executor.getIntervalFunc()
		if err != nil {
			log.WithField("name", executor.name).WithError(err).
				Error("Problem getting the executor interval")
			return
		}

		executor.mutex.Lock()
		executorInterval := executor.interval
		executor.mutex.Unlock()

		if interval <= 0 && executor.active {
			// The executor should become disabled but it is still active.
			if executorInterval != InactiveInterval {
				executor.Reset(InactiveInterval)
			}
			executor.active = false
		} else if interval > 0 && interval != executorInterval {
			// The executor interval changed and is not 0 (disabled).
			executor.Reset(interval)
			executor.active = true
		}
	}
}

// Returns the executor name.
func (executor *PeriodicExecutor) GetName() string {
	return executor.name
}
