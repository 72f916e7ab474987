package ratelimiter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourcetuner/resourcetuner/pkg/tuner/cdm"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/ratelimiter"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
)

func newLimiter(t *testing.T, cfg ratelimiter.Config) (*ratelimiter.Limiter, *cdm.Manager) {
	t.Helper()
	manager := cdm.NewManager()
	require.NoError(t, manager.Create(1, 100, resource.PermissionThirdParty))
	return ratelimiter.New(cfg, manager), manager
}

func TestLimiter_AdmitPerClient_RewardsWellSpacedRequests(t *testing.T) {
	limiter, manager := newLimiter(t, ratelimiter.Config{DeltaMs: 5, PenaltyFactor: 10, RewardFactor: 2})

	require.NoError(t, limiter.AdmitPerClient(100, 1000))
	require.NoError(t, limiter.AdmitPerClient(100, 1100))

	health, _ := manager.Health(100)
	assert.Equal(t, 100.0, health) // capped at 100
}

func TestLimiter_AdmitPerClient_PenalizesTightSpacing(t *testing.T) {
	limiter, manager := newLimiter(t, ratelimiter.Config{DeltaMs: 5, PenaltyFactor: 10, RewardFactor: 2})

	require.NoError(t, limiter.AdmitPerClient(100, 1000))
	require.NoError(t, limiter.AdmitPerClient(100, 1001))

	health, _ := manager.Health(100)
	assert.Equal(t, 90.0, health)
}

func TestLimiter_AdmitPerClient_RejectsAtZeroHealth(t *testing.T) {
	limiter, manager := newLimiter(t, ratelimiter.Config{DeltaMs: 5, PenaltyFactor: 100, RewardFactor: 2})

	require.NoError(t, limiter.AdmitPerClient(100, 1000))
	err := limiter.AdmitPerClient(100, 1001)
	assert.Error(t, err)

	health, _ := manager.Health(100)
	assert.LessOrEqual(t, health, 0.0)
}

func TestLimiter_AdmitPerClient_BoundaryHealthGreaterThanZeroAccepted(t *testing.T) {
	limiter, manager := newLimiter(t, ratelimiter.Config{DeltaMs: 5, PenaltyFactor: 2, RewardFactor: 0})
	manager.SetHealth(100, 1)

	err := limiter.AdmitPerClient(100, 1000)
	assert.NoError(t, err)
}

func TestLimiter_AdmitPerClient_FractionalRewardRecoversDepletedHealth(t *testing.T) {
	limiter, manager := newLimiter(t, ratelimiter.Config{DeltaMs: 5, PenaltyFactor: 10, RewardFactor: 0.4})
	manager.SetHealth(100, 0)
	manager.SetLastRequestTsMs(100, 1000)

	// Tight spacing against a depleted-but-zero health keeps it clamped at 0
	// and rejected: an int reward would truncate 0.4 to 0 here and never
	// recover, which is exactly what invariant 5 forbids.
	err := limiter.AdmitPerClient(100, 1001)
	assert.Error(t, err)
	health, _ := manager.Health(100)
	assert.Equal(t, 0.0, health)

	// Well-spaced request rewards the fractional amount and is accepted.
	require.NoError(t, limiter.AdmitPerClient(100, 2000))
	health, _ = manager.Health(100)
	assert.Equal(t, 0.4, health)
}

func TestLimiter_AdmitPerClient_UnknownTIDFails(t *testing.T) {
	limiter, _ := newLimiter(t, ratelimiter.Config{DeltaMs: 5})
	err := limiter.AdmitPerClient(999, 0)
	assert.Error(t, err)
}

func TestLimiter_AcquireGlobal_RespectsCap(t *testing.T) {
	limiter, _ := newLimiter(t, ratelimiter.Config{MaxConcurrentRequests: 2})

	require.NoError(t, limiter.AcquireGlobal())
	require.NoError(t, limiter.AcquireGlobal())

	err := limiter.AcquireGlobal()
	assert.Error(t, err)
}

func TestLimiter_ReleaseGlobal_FreesSlot(t *testing.T) {
	limiter, _ := newLimiter(t, ratelimiter.Config{MaxConcurrentRequests: 1})

	require.NoError(t, limiter.AcquireGlobal())
	limiter.ReleaseGlobal()
	assert.NoError(t, limiter.AcquireGlobal())
}
