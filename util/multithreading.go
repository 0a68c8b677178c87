package ternutil

import (
	"runtime"
)

// Multi-threading mode of the whole process. When disabled, the engine
// assumes there are no concurrent mutators and skips its internal locking.
// The mode is threaded through construction of the components.
type MultiThreadingConfig struct {
	// Enables concurrent request processing.
	Enabled bool
	// Number of the worker goroutines processing requests. Zero means
	// one worker per CPU.
	WorkerCount int
}

// Returns the effective worker count, resolving the auto-detection.
func (cfg MultiThreadingConfig) EffectiveWorkerCount() int {
	if !cfg.Enabled {
		return 1
	}
	if cfg.WorkerCount <= 0 {
		return runtime.NumCPU()
	}
	return cfg.WorkerCount
}
