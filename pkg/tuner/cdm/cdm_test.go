package cdm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/cdm"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
)

func TestManager_CreateAndExists(t *testing.T) {
	m := cdm.NewManager()
	assert.False(t, m.Exists(1, 100))

	require.NoError(t, m.Create(1, 100, resource.PermissionSystem))
	assert.True(t, m.Exists(1, 100))
}

func TestManager_HealthInitializesTo100(t *testing.T) {
	m := cdm.NewManager()
	require.NoError(t, m.Create(1, 100, resource.PermissionSystem))

	health, ok := m.Health(100)
	require.True(t, ok)
	assert.Equal(t, 100.0, health)
}

func TestManager_SetHealthClampsRange(t *testing.T) {
	m := cdm.NewManager()
	require.NoError(t, m.Create(1, 100, resource.PermissionSystem))

	m.SetHealth(100, 500)
	health, _ := m.Health(100)
	assert.Equal(t, 100.0, health)

	m.SetHealth(100, -500)
	health, _ = m.Health(100)
	assert.Equal(t, 0.0, health)
}

func TestManager_InsertAndDeleteHandle(t *testing.T) {
	m := cdm.NewManager()
	require.NoError(t, m.Create(1, 100, resource.PermissionSystem))

	m.InsertHandle(100, 42)
	assert.ElementsMatch(t, []int64{42}, m.RequestsOf(100))

	m.DeleteHandle(100, 42)
	assert.Empty(t, m.RequestsOf(100))
}

func TestManager_TooManyThreadsRejected(t *testing.T) {
	m := cdm.NewManager()
	for tid := int32(0); tid < cdm.PerClientTIDCap; tid++ {
		require.NoError(t, m.Create(1, tid, resource.PermissionSystem))
	}

	err := m.Create(1, cdm.PerClientTIDCap, resource.PermissionSystem)
	assert.Error(t, err)
}

func TestManager_ActivePIDs(t *testing.T) {
	m := cdm.NewManager()
	require.NoError(t, m.Create(1, 100, resource.PermissionSystem))
	require.NoError(t, m.Create(2, 200, resource.PermissionThirdParty))

	assert.ElementsMatch(t, []int32{1, 2}, m.ActivePIDs())
}

func TestManager_DeletePIDAndTID(t *testing.T) {
	m := cdm.NewManager()
	require.NoError(t, m.Create(1, 100, resource.PermissionSystem))

	m.DeleteTID(100)
	m.DeletePID(1)

	assert.False(t, m.Exists(1, 100))
	assert.Empty(t, m.ThreadsOf(1))
}

func TestManager_PermissionOf(t *testing.T) {
	m := cdm.NewManager()
	require.NoError(t, m.Create(1, 100, resource.PermissionThirdParty))

	perm, ok := m.PermissionOf(1)
	require.True(t, ok)
	assert.Equal(t, resource.PermissionThirdParty, perm)
}

func TestManager_ThreadsOf(t *testing.T) {
	m := cdm.NewManager()
	require.NoError(t, m.Create(1, 100, resource.PermissionSystem))
	require.NoError(t, m.Create(1, 101, resource.PermissionSystem))

	assert.ElementsMatch(t, []int32{100, 101}, m.ThreadsOf(1))
}

func TestManager_LastRequestTsMs(t *testing.T) {
	m := cdm.NewManager()
	require.NoError(t, m.Create(1, 100, resource.PermissionSystem))

	m.SetLastRequestTsMs(100, 12345)
	ts, ok := m.LastRequestTsMs(100)
	require.True(t, ok)
	assert.Equal(t, int64(12345), ts)
}
