// Package cdm implements the Client Data Manager: the central store of
// per-PID and per-TID client state the Rate Limiter, CocoTable, Pulse
// Monitor, and GC all consult.
package cdm

import (
	"sync"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/tunererr"
)

// PerClientTIDCap bounds the number of threads tracked per PID. Exceeding
// it fails admission with tunererr.ErrTooManyThreads.
const PerClientTIDCap = 32

// ClientInfo is the per-PID record: its permission class and the set of
// thread ids the daemon has seen requests from.
type ClientInfo struct {
	Permission resource.Permission
	ThreadIDs  []int32
}

// TidData is the per-TID record: the handles it currently owns and its
// Rate Limiter health state.
type TidData struct {
	ActiveHandles   map[int64]struct{}
	LastRequestTsMs int64
	Health          float64
}

// Manager is the Client Data Manager. A single RWMutex protects both maps;
// every mutator takes the writer side, every reader the shared side,
// matching the "RW lock over the two maps" design in the original source.
type Manager struct {
	mu     sync.RWMutex
	byPID  map[int32]*ClientInfo
	byTID  map[int32]*TidData
	pidOf  map[int32]int32 // tid -> owning pid, for delete_tid bookkeeping
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		byPID: make(map[int32]*ClientInfo),
		byTID: make(map[int32]*TidData),
		pidOf: make(map[int32]int32),
	}
}

// Exists reports whether pid/tid is already tracked.
func (m *Manager) Exists(pid, tid int32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, pidOK := m.byPID[pid]
	_, tidOK := m.byTID[tid]
	return pidOK && tidOK
}

// Create registers pid/tid if not already tracked, under the given
// permission class. Returns tunererr.ErrTooManyThreads if pid already
// tracks PerClientTIDCap threads and tid is new.
func (m *Manager) Create(pid, tid int32, perm resource.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.byPID[pid]
	if !ok {
		info = &ClientInfo{Permission: perm}
		m.byPID[pid] = info
	}

	if _, exists := m.byTID[tid]; !exists {
		if len(info.ThreadIDs) >= PerClientTIDCap {
			return tunererr.ErrTooManyThreads
		}
		info.ThreadIDs = append(info.ThreadIDs, tid)
		m.byTID[tid] = &TidData{
			ActiveHandles: make(map[int64]struct{}),
			Health:        100,
		}
		m.pidOf[tid] = pid
	}
	return nil
}

// InsertHandle records that tid now owns handle.
func (m *Manager) InsertHandle(tid int32, handle int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if td, ok := m.byTID[tid]; ok {
		td.ActiveHandles[handle] = struct{}{}
	}
}

// DeleteHandle removes handle from tid's active set.
func (m *Manager) DeleteHandle(tid int32, handle int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if td, ok := m.byTID[tid]; ok {
		delete(td.ActiveHandles, handle)
	}
}

// RequestsOf returns a snapshot of the handles currently owned by tid.
func (m *Manager) RequestsOf(tid int32) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	td, ok := m.byTID[tid]
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(td.ActiveHandles))
	for h := range td.ActiveHandles {
		out = append(out, h)
	}
	return out
}

// Health returns tid's current health score and whether tid is tracked.
func (m *Manager) Health(tid int32) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	td, ok := m.byTID[tid]
	if !ok {
		return 0, false
	}
	return td.Health, true
}

// SetHealth sets tid's health score, clamped to [0, 100].
func (m *Manager) SetHealth(tid int32, health float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	td, ok := m.byTID[tid]
	if !ok {
		return
	}
	switch {
	case health > 100:
		health = 100
	case health < 0:
		health = 0
	}
	td.Health = health
}

// LastRequestTsMs returns tid's last admitted-request timestamp.
func (m *Manager) LastRequestTsMs(tid int32) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	td, ok := m.byTID[tid]
	if !ok {
		return 0, false
	}
	return td.LastRequestTsMs, true
}

// SetLastRequestTsMs records tid's last admitted-request timestamp.
func (m *Manager) SetLastRequestTsMs(tid int32, tsMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if td, ok := m.byTID[tid]; ok {
		td.LastRequestTsMs = tsMs
	}
}

// PermissionOf returns pid's permission class.
func (m *Manager) PermissionOf(pid int32) (resource.Permission, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.byPID[pid]
	if !ok {
		return 0, false
	}
	return info.Permission, true
}

// ThreadsOf returns a snapshot of pid's tracked thread ids.
func (m *Manager) ThreadsOf(pid int32) []int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.byPID[pid]
	if !ok {
		return nil
	}
	out := make([]int32, len(info.ThreadIDs))
	copy(out, info.ThreadIDs)
	return out
}

// ActivePIDs returns a snapshot of every tracked PID, for the Pulse
// Monitor's liveness sweep.
func (m *Manager) ActivePIDs() []int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int32, 0, len(m.byPID))
	for pid := range m.byPID {
		out = append(out, pid)
	}
	return out
}

// DeletePID removes pid's ClientInfo. It does not touch byTID; callers
// (GC) must delete_tid each of the PID's threads first.
func (m *Manager) DeletePID(pid int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byPID, pid)
}

// DeleteTID removes tid's TidData and its pid association. The invariant
// (§3) that a TID entry is deleted only once its handle set is empty is
// the caller's responsibility (GC checks this before calling).
func (m *Manager) DeleteTID(tid int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byTID, tid)
	if pid, ok := m.pidOf[tid]; ok {
		if info, exists := m.byPID[pid]; exists {
			info.ThreadIDs = removeInt32(info.ThreadIDs, tid)
		}
		delete(m.pidOf, tid)
	}
}

func removeInt32(s []int32, v int32) []int32 {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
