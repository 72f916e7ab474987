// Package coco implements the Concurrency Coordinator Table (CocoTable):
// the heart of the daemon. For every resource sub-target it keeps one
// doubly-linked list per priority and decides, from those lists alone,
// which request currently owns the applied value.
package coco

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/events"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/request"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/target"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/timer"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/tunererr"
)

// CocoNode is exactly one per (request, resource-sub-target) pair. It is
// linked into exactly one priority list for as long as it exists.
type CocoNode struct {
	Handle       int64
	ResourceCode resource.Code
	SubIndex     int32 // logical, as submitted
	Physical     int32 // resolved physical slot (core/cluster/cgroup id); 0 for Global
	Priority     request.Priority
	Value        int32 // post-clamp, post-policy applied value this node carries

	elem *list.Element
}

type trackedRequest struct {
	req   *request.Request
	nodes []*CocoNode
}

// subTarget holds the four priority lists for one (resource, physical
// sub-target) pair, plus the scalar recording which priority currently
// owns the applied value.
type subTarget struct {
	lists      [4]*list.List
	hasApplied bool
	appliedPri request.Priority
}

func newSubTarget() *subTarget {
	st := &subTarget{}
	for i := range st.lists {
		st.lists[i] = list.New()
	}
	return st
}

func (st *subTarget) empty() bool {
	for _, l := range st.lists {
		if l.Len() > 0 {
			return false
		}
	}
	return true
}

// Table is the CocoTable. The consumer thread is its sole mutator;
// read-only accessors (AppliedValue, HandleExists) take the shared side of mu.
type Table struct {
	mu sync.RWMutex

	registry *resource.Registry
	targets  *target.Registry
	timers   *timer.Service
	bus      *events.Broadcaster

	// subTargets[resourceCode][physicalSubIndex]
	subTargets map[resource.Code]map[int32]*subTarget
	// handles[handle] = tracked request, for Retune/Untune lookup.
	handles map[int64]*trackedRequest
}

// New returns an empty Table. timers and bus may be nil in tests that
// don't exercise expiry or diagnostics.
func New(registry *resource.Registry, targets *target.Registry, timers *timer.Service, bus *events.Broadcaster) *Table {
	return &Table{
		registry:   registry,
		targets:    targets,
		timers:     timers,
		bus:        bus,
		subTargets: make(map[resource.Code]map[int32]*subTarget),
		handles:    make(map[int64]*trackedRequest),
	}
}

func (t *Table) subTargetFor(code resource.Code, physical int32) *subTarget {
	byPhysical, ok := t.subTargets[code]
	if !ok {
		byPhysical = make(map[int32]*subTarget)
		t.subTargets[code] = byPhysical
	}
	st, ok := byPhysical[physical]
	if !ok {
		st = newSubTarget()
		byPhysical[physical] = st
	}
	return st
}

// resolvePhysical translates a triple's logical sub-index to the physical
// slot CocoTable tracks lists under. Global resources always resolve to 0.
func (t *Table) resolvePhysical(desc *resource.Descriptor, logicalSubIndex int32) (int32, bool) {
	if desc.ApplyType == resource.ApplyGlobal {
		return 0, true
	}
	return t.targets.Translate(uint32(desc.Code), logicalSubIndex)
}

// InsertRequest accepts a Tune request: allocates a CocoNode per resource
// triple, inserts each into its priority list per the resource's policy,
// applies the value if the node became the new owner, and arms the
// request's expiry timer.
func (t *Table) InsertRequest(req *request.Request, handle int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tracked := &trackedRequest{req: req}

	for _, tr := range req.Resources {
		desc, ok := t.registry.Get(tr.ResourceCode)
		if !ok {
			return tunererr.ErrUnknownResource
		}

		physical, ok := t.resolvePhysical(desc, tr.SubIndex)
		if !ok {
			// Translation failed: skip this triple (spec §4.2 step 1).
			continue
		}

		value := desc.Clamp(tr.Value)
		st := t.subTargetFor(desc.Code, physical)

		node := &CocoNode{
			Handle:       handle,
			ResourceCode: desc.Code,
			SubIndex:     tr.SubIndex,
			Physical:     physical,
			Priority:     req.Priority,
			Value:        value,
		}
		t.insertOrdered(st, node, desc.Policy)
		tracked.nodes = append(tracked.nodes, node)

		if t.isNewHead(st, node) {
			if err := t.applyAction(desc, st, physical, node); err != nil {
				// Transient failure: degrade this node as if Untune'd.
				t.removeNode(st, node, desc)
				continue
			}
		}
	}

	t.handles[handle] = tracked

	if t.timers != nil {
		durationMs := req.DurationMs
		if durationMs <= 0 {
			durationMs = 1 // signal-default resolution is out of scope; never schedule a zero-delay timer
		}
		t.timers.Start(handle, time.Duration(durationMs)*time.Millisecond)
	}

	return nil
}

// isNewHead reports whether node is the current front of its priority
// list AND its priority is high enough to own the applied value (§4.2
// step 5): either no priority currently owns it, or node's priority is
// at least the currently-applied one.
func (t *Table) isNewHead(st *subTarget, node *CocoNode) bool {
	lst := st.lists[node.Priority]
	if lst.Len() == 0 || lst.Front().Value.(*CocoNode) != node {
		return false
	}
	return !st.hasApplied || node.Priority >= st.appliedPri
}

// insertOrdered inserts node into st's list for its priority, in the
// order the resource's policy demands.
func (t *Table) insertOrdered(st *subTarget, node *CocoNode, policy resource.Policy) {
	lst := st.lists[node.Priority]

	switch policy {
	case resource.InstantApply:
		node.elem = lst.PushFront(node)
	case resource.LazyApply:
		node.elem = lst.PushBack(node)
	case resource.HigherIsBetter:
		node.elem = insertBefore(lst, node, func(existing *CocoNode) bool {
			return existing.Value < node.Value
		})
	case resource.LowerIsBetter:
		node.elem = insertBefore(lst, node, func(existing *CocoNode) bool {
			return existing.Value > node.Value
		})
	default:
		node.elem = lst.PushFront(node)
	}
}

// insertBefore scans lst front-to-back for the first element satisfying
// cond, and inserts node before it (ties keep the older node at the
// head, since ties never satisfy a strict cond). If no element
// satisfies cond, node is appended at the tail.
func insertBefore(lst *list.List, node *CocoNode, cond func(*CocoNode) bool) *list.Element {
	for e := lst.Front(); e != nil; e = e.Next() {
		if cond(e.Value.(*CocoNode)) {
			return lst.InsertBefore(node, e)
		}
	}
	return lst.PushBack(node)
}

// applyAction invokes the resource's applier callback for node's value,
// updates the sub-target's applied-priority scalar, captures the default
// on first application, and publishes a diagnostic event.
func (t *Table) applyAction(desc *resource.Descriptor, st *subTarget, physical int32, node *CocoNode) error {
	if desc.Apply == nil {
		return nil
	}
	if err := desc.Apply(desc, physical, node.Value); err != nil {
		return fmt.Errorf("%w: resource %d: %v", tunererr.ErrCallbackFailed, desc.Code, err)
	}
	st.hasApplied = true
	st.appliedPri = node.Priority

	if t.bus != nil {
		t.bus.Publish(&events.AppliedEvent{
			Action:       events.Applied,
			ResourceCode: desc.Code,
			SubIndex:     physical,
			Value:        node.Value,
			Priority:     node.Priority,
		})
	}
	return nil
}

// tearAction invokes the resource's tear callback, restoring its cached
// default, and publishes a diagnostic event.
func (t *Table) tearAction(desc *resource.Descriptor, st *subTarget, physical int32) error {
	if desc.Tear == nil {
		return nil
	}
	if err := desc.Tear(desc, physical); err != nil {
		return fmt.Errorf("%w: resource %d: %v", tunererr.ErrCallbackFailed, desc.Code, err)
	}

	if t.bus != nil {
		def, _ := desc.Default()
		t.bus.Publish(&events.AppliedEvent{
			Action:       events.Torn,
			ResourceCode: desc.Code,
			SubIndex:     physical,
			Value:        def,
		})
	}
	return nil
}

// removeNode unlinks node from its list and, if it was driving the
// applied value, promotes the next head or tears down to default.
func (t *Table) removeNode(st *subTarget, node *CocoNode, desc *resource.Descriptor) {
	lst := st.lists[node.Priority]
	wasHead := node.elem != nil && lst.Front() == node.elem
	if node.elem != nil {
		lst.Remove(node.elem)
		node.elem = nil
	}

	if !wasHead || !st.hasApplied || st.appliedPri != node.Priority {
		return
	}

	if lst.Len() > 0 {
		newHead := lst.Front().Value.(*CocoNode)
		_ = t.applyAction(desc, st, node.Physical, newHead)
		return
	}

	for p := int(node.Priority) - 1; p >= 0; p-- {
		lower := st.lists[request.Priority(p)]
		if lower.Len() > 0 {
			newHead := lower.Front().Value.(*CocoNode)
			st.appliedPri = newHead.Priority
			_ = t.applyAction(desc, st, node.Physical, newHead)
			return
		}
	}

	st.hasApplied = false
	_ = t.tearAction(desc, st, node.Physical)
}

// RemoveRequest removes every CocoNode belonging to handle (Untune),
// cancels its timer, and frees the tracked request. Removing an unknown
// handle is a no-op (idempotent, matching §7 Expiry semantics).
func (t *Table) RemoveRequest(handle int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeRequestLocked(handle)
}

func (t *Table) removeRequestLocked(handle int64) error {
	tracked, ok := t.handles[handle]
	if !ok {
		return nil
	}

	for _, node := range tracked.nodes {
		desc, ok := t.registry.Get(node.ResourceCode)
		if !ok {
			continue
		}
		st := t.subTargetFor(node.ResourceCode, node.Physical)
		t.removeNode(st, node, desc)
	}

	if t.timers != nil {
		t.timers.Cancel(handle)
	}
	delete(t.handles, handle)
	return nil
}

// UpdateRequest restarts handle's expiry timer at now+d (Retune). The
// core does not enforce extend-only semantics: shortening is allowed
// (see DESIGN.md Open Question log).
func (t *Table) UpdateRequest(handle int64, durationMs int64) error {
	t.mu.RLock()
	_, ok := t.handles[handle]
	t.mu.RUnlock()

	if !ok {
		return tunererr.ErrUnknownHandle
	}
	if t.timers != nil {
		t.timers.Restart(handle, time.Duration(durationMs)*time.Millisecond)
	}
	return nil
}

// Shutdown tears down every live CocoNode and restores every resource
// with a captured default, for orderly daemon exit.
func (t *Table) Shutdown() {
	t.mu.Lock()
	handles := make([]int64, 0, len(t.handles))
	for h := range t.handles {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	for _, h := range handles {
		t.mu.Lock()
		_ = t.removeRequestLocked(h)
		t.mu.Unlock()
	}

	t.registry.RestoreAllToDefaults()
}

// AppliedValue reports the value currently owned by the highest
// non-empty priority list for (resourceCode, physical), and whether any
// list is non-empty.
func (t *Table) AppliedValue(resourceCode resource.Code, physical int32) (int32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byPhysical, ok := t.subTargets[resourceCode]
	if !ok {
		return 0, false
	}
	st, ok := byPhysical[physical]
	if !ok || !st.hasApplied {
		return 0, false
	}
	lst := st.lists[st.appliedPri]
	if lst.Len() == 0 {
		return 0, false
	}
	return lst.Front().Value.(*CocoNode).Value, true
}

// HandleExists reports whether handle is currently tracked.
func (t *Table) HandleExists(handle int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.handles[handle]
	return ok
}
