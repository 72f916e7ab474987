// Package resource implements the Resource Registry: the immutable-after-init
// catalog of tunable system knobs the daemon arbitrates access to.
package resource

import (
	"fmt"
	"sync"
)

// Code is a 32-bit resource identifier. It is used as an opaque key; this
// package defines no accessors or masks that split it into type, id or
// apply-level bits.
type Code uint32

// Permission partitions resources (and by extension, requests) into the two
// classes the Rate Limiter and CocoTable priority scheme key off of.
type Permission uint8

const (
	PermissionSystem Permission = iota
	PermissionThirdParty
)

func (p Permission) String() string {
	if p == PermissionSystem {
		return "System"
	}
	return "ThirdParty"
}

// ApplyType is the scope at which a resource value applies.
type ApplyType uint8

const (
	ApplyCore ApplyType = iota
	ApplyCluster
	ApplyGlobal
	ApplyCGroup
)

func (a ApplyType) String() string {
	switch a {
	case ApplyCore:
		return "Core"
	case ApplyCluster:
		return "Cluster"
	case ApplyGlobal:
		return "Global"
	case ApplyCGroup:
		return "CGroup"
	default:
		return "Unknown"
	}
}

// Policy is the per-resource rule CocoTable uses to order pending requests
// at the same sub-target.
type Policy uint8

const (
	// InstantApply honors the most recently inserted request. Default policy.
	InstantApply Policy = iota
	// HigherIsBetter honors the request writing the highest value.
	HigherIsBetter
	// LowerIsBetter honors the request writing the lowest value.
	LowerIsBetter
	// LazyApply honors requests first-in-first-out.
	LazyApply
)

func (p Policy) String() string {
	switch p {
	case InstantApply:
		return "InstantApply"
	case HigherIsBetter:
		return "HigherIsBetter"
	case LowerIsBetter:
		return "LowerIsBetter"
	case LazyApply:
		return "LazyApply"
	default:
		return "Unknown"
	}
}

// Applier writes value to the resolved sub-target of a resource and must
// do so synchronously, returning an error on failure.
type Applier func(desc *Descriptor, resolvedSubIndex int32, value int32) error

// Tear restores the resource's cached default at the resolved sub-target.
type Tear func(desc *Descriptor, resolvedSubIndex int32) error

// Descriptor is the immutable-after-registration description of one
// tunable resource.
type Descriptor struct {
	Code        Code
	PathTemplate string
	Low, High   int32
	Permission  Permission
	AllowedModes uint32
	ApplyType   ApplyType
	Policy      Policy
	Unit        string

	Apply Applier
	Tear  Tear

	mu             sync.Mutex
	defaultCaptured bool
	defaultValue    int32
}

// Clamp bounds value to [Low, High].
func (d *Descriptor) Clamp(value int32) int32 {
	if value < d.Low {
		return d.Low
	}
	if value > d.High {
		return d.High
	}
	return value
}

// CaptureDefault records value as the descriptor's cached default, the
// first time it is called. Subsequent calls are no-ops; the default is
// captured once, lazily, on first application of this resource since boot.
func (d *Descriptor) CaptureDefault(value int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.defaultCaptured {
		return
	}
	d.defaultValue = value
	d.defaultCaptured = true
}

// Default returns the cached default value and whether one has been
// captured yet.
func (d *Descriptor) Default() (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.defaultValue, d.defaultCaptured
}

// Registry is the catalog of registered resources, immutable once sealed.
// Readers (Get, List) still take the shared side of an RWMutex.
type Registry struct {
	mu        sync.RWMutex
	resources map[Code]*Descriptor
	sealed    bool
}

// NewRegistry returns an empty, unsealed Registry.
func NewRegistry() *Registry {
	return &Registry{resources: make(map[Code]*Descriptor)}
}

// Register adds a descriptor to the catalog. Returns an error if the
// registry has been sealed or the code is already registered.
func (r *Registry) Register(desc *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("resource registry: sealed, cannot register code %d", desc.Code)
	}
	if _, exists := r.resources[desc.Code]; exists {
		return fmt.Errorf("resource registry: code %d already registered", desc.Code)
	}
	r.resources[desc.Code] = desc
	return nil
}

// Seal marks the registry read-only. Call once at the end of daemon startup.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Get looks up a resource descriptor by code.
func (r *Registry) Get(code Code) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.resources[code]
	return d, ok
}

// List returns every registered descriptor. Order is unspecified.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.resources))
	for _, d := range r.resources {
		out = append(out, d)
	}
	return out
}

// RestoreAllToDefaults re-invokes the tear hook of every resource that has
// captured a default, once per resource at sub-index 0; other cores,
// clusters or cgroups of a resource are not visited. Used on shutdown in
// addition to per-request teardown.
func (r *Registry) RestoreAllToDefaults() []error {
	r.mu.RLock()
	descs := make([]*Descriptor, 0, len(r.resources))
	for _, d := range r.resources {
		descs = append(descs, d)
	}
	r.mu.RUnlock()

	var errs []error
	for _, d := range descs {
		if _, captured := d.Default(); !captured || d.Tear == nil {
			continue
		}
		if err := d.Tear(d, 0); err != nil {
			errs = append(errs, fmt.Errorf("resource registry: restore code %d: %w", d.Code, err))
		}
	}
	return errs
}
