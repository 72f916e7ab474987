// Package ratelimiter implements the Rate Limiter: a per-client
// health-based admission filter plus a global concurrent-request cap.
package ratelimiter

import (
	"sync/atomic"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/cdm"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/tunererr"
)

// Config holds the knobs the Rate Limiter is configured with at startup
// (spec.md §6 rate_limiter.delta.ms / penalty.factor / reward.factor plus
// the global concurrency cap).
type Config struct {
	DeltaMs               int64
	PenaltyFactor         float64
	RewardFactor          float64
	MaxConcurrentRequests int64
}

// Limiter holds no client state itself — that lives in the CDM — and
// tracks only the global in-flight counter, grounded on the
// ownership-tracking semaphore idiom of a non-blocking try-acquire slot
// pool: admission here must never block the caller, so capacity
// exhaustion is a rejection, not a wait.
type Limiter struct {
	cfg      Config
	cdm      *cdm.Manager
	inFlight atomic.Int64
}

// New returns a Limiter backed by cdm for per-TID health state.
func New(cfg Config, manager *cdm.Manager) *Limiter {
	return &Limiter{cfg: cfg, cdm: manager}
}

// AdmitPerClient runs the per-TID health check for an admission event at
// nowMs: computes delta against the TID's last request, applies a penalty
// or reward, and accepts iff the resulting health is strictly greater
// than zero. tid must already be tracked in the CDM.
func (l *Limiter) AdmitPerClient(tid int32, nowMs int64) error {
	health, ok := l.cdm.Health(tid)
	if !ok {
		return tunererr.ErrUnknownHandle
	}

	lastTs, _ := l.cdm.LastRequestTsMs(tid)
	delta := nowMs - lastTs
	if delta < l.cfg.DeltaMs {
		health -= l.cfg.PenaltyFactor
	} else {
		health += l.cfg.RewardFactor
	}

	l.cdm.SetHealth(tid, health)
	l.cdm.SetLastRequestTsMs(tid, nowMs)

	newHealth, _ := l.cdm.Health(tid)
	if newHealth <= 0 {
		return tunererr.ErrRateLimitDenied
	}
	return nil
}

// AcquireGlobal attempts to reserve one slot of the global concurrent
// request cap. On success the caller must eventually call ReleaseGlobal.
func (l *Limiter) AcquireGlobal() error {
	for {
		cur := l.inFlight.Load()
		if cur >= l.cfg.MaxConcurrentRequests {
			return tunererr.ErrGlobalCapacityExceeded
		}
		if l.inFlight.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// ReleaseGlobal frees one slot of the global concurrent request cap.
func (l *Limiter) ReleaseGlobal() {
	l.inFlight.Add(-1)
}

// InFlight returns the current number of globally in-flight requests.
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}
