// Package request defines the Request type that flows from the listener
// through the Request Queue into CocoTable, along with the
// monotonic handle allocator that names them.
package request

import (
	"sync/atomic"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
)

// Priority is client-declared urgency, partitioned by permission class.
// Ordering, highest first: SystemHigh > ThirdPartyHigh > SystemLow >
// ThirdPartyLow.
type Priority uint8

const (
	ThirdPartyLow Priority = iota
	SystemLow
	ThirdPartyHigh
	SystemHigh
)

func (p Priority) String() string {
	switch p {
	case SystemHigh:
		return "SystemHigh"
	case SystemLow:
		return "SystemLow"
	case ThirdPartyHigh:
		return "ThirdPartyHigh"
	case ThirdPartyLow:
		return "ThirdPartyLow"
	default:
		return "Unknown"
	}
}

// Kind distinguishes the three request verbs the core accepts.
type Kind uint8

const (
	Tune Kind = iota
	Retune
	Untune
)

func (k Kind) String() string {
	switch k {
	case Tune:
		return "Tune"
	case Retune:
		return "Retune"
	case Untune:
		return "Untune"
	default:
		return "Unknown"
	}
}

// Triple is one (resource, sub-index, value) entry in a Tune request.
// SubIndex selects a specific core/cluster/cgroup for non-Global apply
// types; it is ignored for Global resources.
type Triple struct {
	ResourceCode resource.Code
	SubIndex     int32
	Value        int32
}

// Request is a bundle submitted by a client: a Tune carries Resources; a
// Retune carries Handle and a new Duration; an Untune carries only Handle.
type Request struct {
	Handle     int64
	ClientPID  int32
	ClientTID  int32
	Priority   Priority
	Kind       Kind
	DurationMs int64
	Resources  []Triple

	// synthetic marks requests generated by the GC or timer service on
	// behalf of a client, rather than submitted over rpc.sock. Synthetic
	// Untunes bypass rate limiting per spec (§4.5).
	Synthetic bool
}

// HandleAllocator issues monotonically increasing, never-reused handles.
// A zero HandleAllocator is usable; handle 0 is never issued so callers
// can treat 0 as "no handle".
type HandleAllocator struct {
	next atomic.Int64
}

// Next returns the next handle in the sequence.
func (h *HandleAllocator) Next() int64 {
	return h.next.Add(1)
}
