package resource

import "fmt"

// ResourceConfigBuilder incrementally assembles a Descriptor, validating
// each field as it is set rather than deferring all checks to Build.
// Registration itself always takes a fully-built, already-validated
// descriptor; no config-file parsing lives in this package.
type ResourceConfigBuilder struct {
	desc *Descriptor
	errs []error
}

// NewResourceConfigBuilder starts building a descriptor for code.
func NewResourceConfigBuilder(code Code) *ResourceConfigBuilder {
	return &ResourceConfigBuilder{desc: &Descriptor{Code: code}}
}

func (b *ResourceConfigBuilder) fail(err error) *ResourceConfigBuilder {
	b.errs = append(b.errs, err)
	return b
}

// WithPath sets the resource's human-readable path template.
func (b *ResourceConfigBuilder) WithPath(path string) *ResourceConfigBuilder {
	if path == "" {
		return b.fail(fmt.Errorf("resource %d: path template must not be empty", b.desc.Code))
	}
	b.desc.PathTemplate = path
	return b
}

// WithBounds sets the numeric domain of the resource.
func (b *ResourceConfigBuilder) WithBounds(low, high int32) *ResourceConfigBuilder {
	if low > high {
		return b.fail(fmt.Errorf("resource %d: low bound %d exceeds high bound %d", b.desc.Code, low, high))
	}
	b.desc.Low, b.desc.High = low, high
	return b
}

// WithPermission sets the resource's permission class.
func (b *ResourceConfigBuilder) WithPermission(p Permission) *ResourceConfigBuilder {
	b.desc.Permission = p
	return b
}

// WithAllowedModes sets the allowed-modes bitmap.
func (b *ResourceConfigBuilder) WithAllowedModes(modes uint32) *ResourceConfigBuilder {
	b.desc.AllowedModes = modes
	return b
}

// WithApplyType sets the scope at which the resource value applies.
func (b *ResourceConfigBuilder) WithApplyType(t ApplyType) *ResourceConfigBuilder {
	b.desc.ApplyType = t
	return b
}

// WithPolicy sets the concurrency policy CocoTable applies to this resource.
func (b *ResourceConfigBuilder) WithPolicy(p Policy) *ResourceConfigBuilder {
	b.desc.Policy = p
	return b
}

// WithUnit sets the resource's unit tag (informational; it is stored on the
// descriptor and not carried in Dump events).
func (b *ResourceConfigBuilder) WithUnit(unit string) *ResourceConfigBuilder {
	b.desc.Unit = unit
	return b
}

// WithHooks sets the applier/tear callback pair. If either is nil, the
// appropriate default hook for the resource's ApplyType is substituted at
// Build time.
func (b *ResourceConfigBuilder) WithHooks(apply Applier, tear Tear) *ResourceConfigBuilder {
	b.desc.Apply = apply
	b.desc.Tear = tear
	return b
}

// Build validates the accumulated field errors and returns the finished
// descriptor, substituting default hooks for the resource's ApplyType
// where none were supplied.
func (b *ResourceConfigBuilder) Build() (*Descriptor, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("resource %d: %d build error(s), first: %w", b.desc.Code, len(b.errs), b.errs[0])
	}
	if b.desc.PathTemplate == "" {
		return nil, fmt.Errorf("resource %d: path template required", b.desc.Code)
	}
	if b.desc.Apply == nil || b.desc.Tear == nil {
		apply, tear := defaultHooks(b.desc.ApplyType)
		if b.desc.Apply == nil {
			b.desc.Apply = apply
		}
		if b.desc.Tear == nil {
			b.desc.Tear = tear
		}
	}
	return b.desc, nil
}
