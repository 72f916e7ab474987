package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/queue"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/request"
)

func TestQueue_PopReturnsHighestPriorityFirst(t *testing.T) {
	q := queue.New(10)

	require.NoError(t, q.Push(&request.Request{Handle: 1, Priority: request.SystemLow}))
	require.NoError(t, q.Push(&request.Request{Handle: 2, Priority: request.SystemHigh}))
	require.NoError(t, q.Push(&request.Request{Handle: 3, Priority: request.ThirdPartyLow}))

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(2), first.Handle)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(1), second.Handle)

	third, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(3), third.Handle)
}

func TestQueue_FIFOWithinSamePriority(t *testing.T) {
	q := queue.New(10)

	require.NoError(t, q.Push(&request.Request{Handle: 1, Priority: request.SystemLow}))
	require.NoError(t, q.Push(&request.Request{Handle: 2, Priority: request.SystemLow}))
	require.NoError(t, q.Push(&request.Request{Handle: 3, Priority: request.SystemLow}))

	for _, want := range []int64{1, 2, 3} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got.Handle)
	}
}

func TestQueue_PushFailsPastCapacity(t *testing.T) {
	q := queue.New(1)

	require.NoError(t, q.Push(&request.Request{Handle: 1}))
	err := q.Push(&request.Request{Handle: 2})
	assert.ErrorIs(t, err, queue.ErrQueueFull)
}

func TestQueue_PushFailsAfterStop(t *testing.T) {
	q := queue.New(10)
	q.Stop()

	err := q.Push(&request.Request{Handle: 1})
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestQueue_StopDrainsPendingBeforeSignalingDone(t *testing.T) {
	q := queue.New(10)
	require.NoError(t, q.Push(&request.Request{Handle: 1}))
	q.Stop()

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Handle)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := queue.New(10)

	type result struct {
		req *request.Request
		ok  bool
	}
	resultCh := make(chan result, 1)

	go func() {
		req, ok := q.Pop()
		resultCh <- result{req, ok}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(&request.Request{Handle: 7}))

	select {
	case r := <-resultCh:
		require.True(t, r.ok)
		assert.Equal(t, int64(7), r.req.Handle)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueue_Len(t *testing.T) {
	q := queue.New(10)
	assert.Equal(t, 0, q.Len())

	require.NoError(t, q.Push(&request.Request{Handle: 1}))
	assert.Equal(t, 1, q.Len())
}
