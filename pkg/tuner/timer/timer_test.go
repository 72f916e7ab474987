package timer_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/timer"
)

func TestService_StartFiresAfterDuration(t *testing.T) {
	var fired atomic.Int64
	svc := timer.New(func(handle int64) { fired.Store(handle) })

	svc.Start(42, 10*time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 42 }, time.Second, time.Millisecond)
}

func TestService_CancelPreventsFire(t *testing.T) {
	var fired atomic.Bool
	svc := timer.New(func(handle int64) { fired.Store(true) })

	svc.Start(1, 30*time.Millisecond)
	svc.Cancel(1)

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestService_CancelUnknownHandleIsNoOp(t *testing.T) {
	svc := timer.New(func(handle int64) {})
	assert.NotPanics(t, func() { svc.Cancel(999) })
}

func TestService_RestartRearmsWithNewDuration(t *testing.T) {
	var fired atomic.Int64
	svc := timer.New(func(handle int64) { fired.Store(handle) })

	svc.Start(7, time.Hour)
	svc.Restart(7, 10*time.Millisecond)

	require.Eventually(t, func() bool { return fired.Load() == 7 }, time.Second, time.Millisecond)
}

func TestService_RestartAllowsShortening(t *testing.T) {
	// The core does not enforce extend-only Retune semantics: a shorter
	// duration supersedes a longer pending one.
	var fired atomic.Int64
	svc := timer.New(func(handle int64) { fired.Store(handle) })

	svc.Start(3, 5*time.Second)
	svc.Restart(3, 5*time.Millisecond)

	require.Eventually(t, func() bool { return fired.Load() == 3 }, time.Second, time.Millisecond)
}

func TestService_Pending(t *testing.T) {
	svc := timer.New(func(handle int64) {})
	assert.False(t, svc.Pending(5))

	svc.Start(5, time.Hour)
	assert.True(t, svc.Pending(5))

	svc.Cancel(5)
	assert.False(t, svc.Pending(5))
}

func TestService_StopAllCancelsEverything(t *testing.T) {
	var fired atomic.Int64
	svc := timer.New(func(handle int64) { fired.Add(1) })

	svc.Start(1, 20*time.Millisecond)
	svc.Start(2, 20*time.Millisecond)
	svc.StopAll()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), fired.Load())
	assert.False(t, svc.Pending(1))
	assert.False(t, svc.Pending(2))
}
