// Package pulse implements the Pulse Monitor: a periodic liveness check
// of every tracked client PID, nominating dead ones for cleanup.
package pulse

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/cdm"
)

// DeadPIDQueue is the FIFO set of PIDs marked dead, not yet processed by
// the GC. A PID appears at most once.
type DeadPIDQueue struct {
	mu      sync.Mutex
	order   []int32
	present map[int32]struct{}
}

// NewDeadPIDQueue returns an empty DeadPIDQueue.
func NewDeadPIDQueue() *DeadPIDQueue {
	return &DeadPIDQueue{present: make(map[int32]struct{})}
}

// Submit adds pid to the queue if it isn't already present.
func (q *DeadPIDQueue) Submit(pid int32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.present[pid]; exists {
		return
	}
	q.present[pid] = struct{}{}
	q.order = append(q.order, pid)
}

// DrainBatch removes and returns up to n PIDs from the head of the queue.
func (q *DeadPIDQueue) DrainBatch(n int) []int32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.order) {
		n = len(q.order)
	}
	batch := q.order[:n]
	q.order = q.order[n:]
	for _, pid := range batch {
		delete(q.present, pid)
	}
	out := make([]int32, len(batch))
	copy(out, batch)
	return out
}

// Requeue appends pid at the tail, for a PID the GC could not fully
// retire this tick.
func (q *DeadPIDQueue) Requeue(pid int32) {
	q.Submit(pid)
}

// Len reports the number of pending dead PIDs.
func (q *DeadPIDQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// livenessCheck reports whether pid is still alive by stating
// /proc/<pid>/status, so it relies on a Linux-style procfs.
var livenessCheck = func(pid int32) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d/status", pid))
	return err == nil
}

// Monitor ticks on its own timer thread, snapshotting active PIDs and
// submitting dead ones to a DeadPIDQueue for the GC.
type Monitor struct {
	cdm      *cdm.Manager
	deadPIDs *DeadPIDQueue
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New returns a Monitor ticking every interval.
func New(manager *cdm.Manager, deadPIDs *DeadPIDQueue, interval time.Duration) *Monitor {
	return &Monitor{
		cdm:      manager,
		deadPIDs: deadPIDs,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, ticking until Stop is called.
func (m *Monitor) Run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	for _, pid := range m.cdm.ActivePIDs() {
		if !livenessCheck(pid) {
			m.deadPIDs.Submit(pid)
		}
	}
}

// Stop signals Run to return and blocks until it has.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}
