// Package target implements the Target Registry: the logical-to-physical
// core/cluster/cgroup id translation table CocoTable consults when
// resolving a non-Global request's sub-index.
package target

import "fmt"

// Registry maps a resource's logical sub-index (as submitted by a client)
// to a physical slot (CPU core number, cluster id, or cgroup id). It is
// populated programmatically at startup, never from a config file.
type Registry struct {
	// mappings[resourceCode][logicalSubIndex] = physicalSlot
	mappings map[uint32]map[int32]int32
	// usedSlots guards against two logical indices resolving to the same
	// physical slot for the same resource.
	usedSlots map[uint32]map[int32]int32
}

// NewRegistry returns an empty target Registry.
func NewRegistry() *Registry {
	return &Registry{
		mappings:  make(map[uint32]map[int32]int32),
		usedSlots: make(map[uint32]map[int32]int32),
	}
}

// Map registers a logical→physical translation for resourceCode. Returns
// an error if physical is already claimed by a different logical index
// for the same resource.
func (r *Registry) Map(resourceCode uint32, logical, physical int32) error {
	if r.mappings[resourceCode] == nil {
		r.mappings[resourceCode] = make(map[int32]int32)
		r.usedSlots[resourceCode] = make(map[int32]int32)
	}
	if owner, taken := r.usedSlots[resourceCode][physical]; taken && owner != logical {
		return fmt.Errorf("target registry: physical slot %d for resource %d already claimed by logical %d", physical, resourceCode, owner)
	}
	r.mappings[resourceCode][logical] = physical
	r.usedSlots[resourceCode][physical] = logical
	return nil
}

// Translate resolves a logical sub-index to its physical slot for the
// given resource. ok is false when no mapping exists; callers must skip
// the triple rather than guess.
func (r *Registry) Translate(resourceCode uint32, logical int32) (physical int32, ok bool) {
	byLogical, exists := r.mappings[resourceCode]
	if !exists {
		return 0, false
	}
	physical, ok = byLogical[logical]
	return physical, ok
}
