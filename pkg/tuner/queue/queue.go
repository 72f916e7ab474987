// Package queue implements the Request Queue: a mutex- and
// sync.Cond-guarded multi-producer, single-consumer priority queue that
// feeds the CocoTable consumer thread.
package queue

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/request"
)

// ErrQueueFull is returned by Push when the queue is at capacity.
var ErrQueueFull = errors.New("request queue full")

// ErrClosed is returned by Push once the queue has been stopped.
var ErrClosed = errors.New("request queue closed")

type item struct {
	req *request.Request
	seq uint64 // enqueue order, FIFO tiebreak within a priority
}

// priorityHeap orders items by priority descending (highest priority
// first), then by sequence ascending (FIFO within a priority).
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority > h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue is the Request Queue. Capacity bounds the number of pending
// requests; Push beyond capacity fails with ErrQueueFull so the caller
// can surface admission failure upstream, per §4.1.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	heap     priorityHeap
	capacity int
	nextSeq  uint64
	closed   bool
}

// New returns a Queue with the given capacity.
func New(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push enqueues req. Returns ErrQueueFull past capacity, ErrClosed once
// Stop has been called.
func (q *Queue) Push(req *request.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if len(q.heap) >= q.capacity {
		return ErrQueueFull
	}

	heap.Push(&q.heap, &item{req: req, seq: q.nextSeq})
	q.nextSeq++
	q.notEmpty.Signal()
	return nil
}

// Pop blocks until a request is available or the queue is stopped and
// drained, returning (nil, false) in the latter case.
func (q *Queue) Pop() (*request.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.heap) == 0 {
		return nil, false
	}

	it := heap.Pop(&q.heap).(*item)
	return it.req, true
}

// Stop marks the queue closed: pending items already in the heap are
// still returned by Pop until drained (so the consumer can fire tear
// hooks for in-flight work), after which Pop returns false. Further
// Push calls fail with ErrClosed.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}

// Len returns the number of requests currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
