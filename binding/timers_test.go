package binding

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerRegistryFires(t *testing.T) {
	tr := NewTimerRegistry()
	var fired atomic.Bool

	tr.Start("t", 5*time.Millisecond, func() { fired.Store(true) })
	require.True(t, tr.Active("t"))

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
	assert.False(t, tr.Active("t"))
}

func TestTimerRegistryStopPreventsCallback(t *testing.T) {
	tr := NewTimerRegistry()
	var fired atomic.Bool

	tr.Start("t", 10*time.Millisecond, func() { fired.Store(true) })
	tr.Stop("t")

	time.Sleep(30 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, tr.Active("t"))
}

func TestTimerRegistryRestartReplaces(t *testing.T) {
	tr := NewTimerRegistry()
	var first, second atomic.Bool

	tr.Start("t", 10*time.Millisecond, func() { first.Store(true) })
	tr.Start("t", 10*time.Millisecond, func() { second.Store(true) })

	require.Eventually(t, second.Load, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, first.Load())
}

func TestTimerRegistryStopAll(t *testing.T) {
	tr := NewTimerRegistry()
	var fired atomic.Int32

	tr.Start("a", 10*time.Millisecond, func() { fired.Add(1) })
	tr.Start("b", 10*time.Millisecond, func() { fired.Add(1) })
	tr.StopAll()

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, fired.Load())
	assert.False(t, tr.Active("a"))
	assert.False(t, tr.Active("b"))
}
