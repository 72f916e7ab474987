package resource_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
)

func TestDescriptor_Clamp(t *testing.T) {
	d := &resource.Descriptor{Low: 0, High: 1000}

	assert.Equal(t, int32(0), d.Clamp(-5))
	assert.Equal(t, int32(1000), d.Clamp(5000))
	assert.Equal(t, int32(400), d.Clamp(400))
}

func TestDescriptor_CaptureDefault_OnlyFirstWins(t *testing.T) {
	d := &resource.Descriptor{}

	d.CaptureDefault(200)
	d.CaptureDefault(999)

	value, captured := d.Default()
	require.True(t, captured)
	assert.Equal(t, int32(200), value)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := resource.NewRegistry()
	desc := &resource.Descriptor{Code: 1, Low: 0, High: 100}

	require.NoError(t, reg.Register(desc))

	got, ok := reg.Get(1)
	require.True(t, ok)
	assert.Same(t, desc, got)
}

func TestRegistry_RegisterDuplicateFails(t *testing.T) {
	reg := resource.NewRegistry()
	require.NoError(t, reg.Register(&resource.Descriptor{Code: 1}))
	err := reg.Register(&resource.Descriptor{Code: 1})
	assert.Error(t, err)
}

func TestRegistry_SealBlocksFurtherRegistration(t *testing.T) {
	reg := resource.NewRegistry()
	reg.Seal()

	err := reg.Register(&resource.Descriptor{Code: 1})
	assert.Error(t, err)
}

func TestRegistry_GetUnknownCode(t *testing.T) {
	reg := resource.NewRegistry()
	_, ok := reg.Get(99)
	assert.False(t, ok)
}

func TestRegistry_RestoreAllToDefaults(t *testing.T) {
	reg := resource.NewRegistry()
	var torn int32

	desc := &resource.Descriptor{
		Code: 1,
		Tear: func(d *resource.Descriptor, sub int32) error {
			torn++
			return nil
		},
	}
	desc.CaptureDefault(200)
	require.NoError(t, reg.Register(desc))

	errs := reg.RestoreAllToDefaults()
	assert.Empty(t, errs)
	assert.Equal(t, int32(1), torn)
}

func TestRegistry_RestoreAllToDefaults_SkipsUncaptured(t *testing.T) {
	reg := resource.NewRegistry()
	var torn int32

	desc := &resource.Descriptor{
		Code: 1,
		Tear: func(d *resource.Descriptor, sub int32) error {
			torn++
			return nil
		},
	}
	require.NoError(t, reg.Register(desc))

	reg.RestoreAllToDefaults()
	assert.Equal(t, int32(0), torn)
}
