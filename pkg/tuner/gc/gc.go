// Package gc implements the Client Garbage Collector: bounded-batch
// cleanup of dead clients, untuning their requests and erasing their CDM
// tracking entries.
package gc

import (
	"time"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/cdm"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/pulse"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/queue"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/request"
)

// Collector drains pulse.DeadPIDQueue on its own timer thread, submitting
// synthetic Untunes through the Request Queue (never mutating CocoTable
// directly) and erasing CDM entries once every handle has drained.
type Collector struct {
	cdm      *cdm.Manager
	deadPIDs *pulse.DeadPIDQueue
	q        *queue.Queue
	interval time.Duration
	batchCap int

	stop chan struct{}
	done chan struct{}
}

// New returns a Collector ticking every interval, processing up to
// batchCap PIDs per tick.
func New(manager *cdm.Manager, deadPIDs *pulse.DeadPIDQueue, q *queue.Queue, interval time.Duration, batchCap int) *Collector {
	return &Collector{
		cdm:      manager,
		deadPIDs: deadPIDs,
		q:        q,
		interval: interval,
		batchCap: batchCap,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, ticking until Stop is called.
func (c *Collector) Run() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Collector) tick() {
	for _, pid := range c.deadPIDs.DrainBatch(c.batchCap) {
		c.processPID(pid)
	}
}

func (c *Collector) processPID(pid int32) {
	tids := c.cdm.ThreadsOf(pid)
	allCleared := true

	for _, tid := range tids {
		handles := c.cdm.RequestsOf(tid)
		if len(handles) == 0 {
			continue
		}
		allCleared = false
		for _, handle := range handles {
			// Best-effort: the queue may be at capacity, in which case this
			// handle is retried next tick via Requeue below.
			_ = c.q.Push(&request.Request{
				Handle:    handle,
				ClientPID: pid,
				ClientTID: tid,
				Kind:      request.Untune,
				Synthetic: true,
			})
		}
	}

	if allCleared {
		for _, tid := range tids {
			c.cdm.DeleteTID(tid)
		}
		c.cdm.DeletePID(pid)
		return
	}

	c.deadPIDs.Requeue(pid)
}

// Stop signals Run to return and blocks until it has.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}
