package ternutil

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test the worker count resolution of the multi-threading mode.
func TestEffectiveWorkerCount(t *testing.T) {
	disabled := MultiThreadingConfig{}
	require.EqualValues(t, 1, disabled.EffectiveWorkerCount())

	// Disabled mode wins over a configured worker count.
	disabled.WorkerCount = 4
	require.EqualValues(t, 1, disabled.EffectiveWorkerCount())

	auto := MultiThreadingConfig{Enabled: true}
	require.Equal(t, runtime.NumCPU(), auto.EffectiveWorkerCount())

	fixed := MultiThreadingConfig{Enabled: true, WorkerCount: 4}
	require.EqualValues(t, 4, fixed.EffectiveWorkerCount())
}
