// Package config provides configuration management for the resource tuning daemon.
package config

// Default configuration values for the daemon.
const (
	// DefaultConfigDir is the default configuration directory path.
	DefaultConfigDir = "~/.config/resourcetuner"

	// DefaultMaxConcurrentRequests bounds in-flight tune requests admitted by the rate limiter.
	DefaultMaxConcurrentRequests = 64

	// DefaultMaxResourcesPerRequest bounds the number of resource codes a single request may target.
	DefaultMaxResourcesPerRequest = 16

	// DefaultPulseDurationMs is the liveness-check interval for the pulse monitor, in milliseconds.
	DefaultPulseDurationMs = 60000

	// DefaultGCDurationMs is the interval between garbage collection sweeps, in milliseconds.
	// Deliberately coprime with DefaultPulseDurationMs so the two sweeps don't synchronize.
	DefaultGCDurationMs = 83000

	// DefaultGCBatchCap bounds how many dead clients are untuned per garbage collection pass.
	DefaultGCBatchCap = 32

	// DefaultRateLimiterDeltaMs is the minimum spacing, in milliseconds, enforced between
	// consecutive admitted requests from the same thread before a health penalty applies.
	DefaultRateLimiterDeltaMs = 5

	// DefaultPenaltyFactor is subtracted from a thread's health score on rate-limit violation.
	DefaultPenaltyFactor = 10.0

	// DefaultRewardFactor is added to a thread's health score on well-spaced requests.
	DefaultRewardFactor = 2.0
)
