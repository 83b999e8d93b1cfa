package retry

import "time"

// NetworkMode decides whether an attempt may run relative to the online
// signal.
type NetworkMode string

const (
	// NetworkModeOnline requires connectivity; attempts pause while offline.
	NetworkModeOnline NetworkMode = "online"
	// NetworkModeAlways never pauses.
	NetworkModeAlways NetworkMode = "always"
	// NetworkModeOfflineFirst lets the first attempt run regardless of
	// connectivity; retries pause while offline.
	NetworkModeOfflineFirst NetworkMode = "offlineFirst"
)

// CanFetch reports whether a fetch may start under the given mode. Only
// NetworkModeOnline gates on connectivity; the other modes always start.
func CanFetch(mode NetworkMode, isOnline bool) bool {
	if mode == NetworkModeOnline || mode == "" {
		return isOnline
	}
	return true
}

// Policy decides whether a failed attempt is retried. The zero value is
// unset; callers fall back to their own default.
type Policy struct {
	fn     func(failureCount int, err error) bool
	count  int
	set    bool
	always bool
}

// Count returns a Policy allowing up to n retries (n+1 attempts total).
func Count(n int) Policy { return Policy{set: true, count: n} }

// Always returns a Policy that retries indefinitely.
func Always() Policy { return Policy{set: true, always: true} }

// Never returns a Policy that performs exactly one attempt.
func Never() Policy { return Count(0) }

// Func returns a Policy driven by a predicate. failureCount is the number of
// failures so far (0 on the first failure).
func Func(fn func(failureCount int, err error) bool) Policy {
	return Policy{set: true, fn: fn}
}

// IsSet reports whether the policy was explicitly configured.
func (p Policy) IsSet() bool { return p.set }

// ShouldRetry evaluates the policy for the given failure.
func (p Policy) ShouldRetry(failureCount int, err error) bool {
	if !p.set {
		return false
	}
	if p.always {
		return true
	}
	if p.fn != nil {
		return p.fn(failureCount, err)
	}
	return failureCount < p.count
}

// Delay computes the wait before the next attempt. The zero value is unset
// and resolves to DefaultDelay.
type Delay struct {
	fn  func(failureCount int, err error) time.Duration
	d   time.Duration
	set bool
}

// DelayOf returns a fixed Delay.
func DelayOf(d time.Duration) Delay { return Delay{set: true, d: d} }

// DelayFunc returns a Delay driven by a function of the failure.
func DelayFunc(fn func(failureCount int, err error) time.Duration) Delay {
	return Delay{set: true, fn: fn}
}

// IsSet reports whether the delay was explicitly configured.
func (d Delay) IsSet() bool { return d.set }

// Duration resolves the delay for the given failure.
func (d Delay) Duration(failureCount int, err error) time.Duration {
	if d.fn != nil {
		return d.fn(failureCount, err)
	}
	if d.set {
		return d.d
	}
	return DefaultDelay(failureCount)
}

// DefaultDelay is exponential backoff capped at 30 seconds: 1s, 2s, 4s, ...
func DefaultDelay(failureCount int) time.Duration {
	if failureCount < 0 {
		failureCount = 0
	}
	if failureCount > 5 {
		return 30 * time.Second
	}
	d := time.Second << uint(failureCount)
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
