package retry

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestPolicyCount(t *testing.T) {
	p := Count(2)
	err := errors.New("boom")
	assert.True(t, p.IsSet())
	assert.True(t, p.ShouldRetry(0, err))
	assert.True(t, p.ShouldRetry(1, err))
	assert.False(t, p.ShouldRetry(2, err))
}

func TestPolicyNever(t *testing.T) {
	p := Never()
	assert.True(t, p.IsSet())
	assert.False(t, p.ShouldRetry(0, errors.New("boom")))
}

func TestPolicyAlways(t *testing.T) {
	p := Always()
	assert.True(t, p.ShouldRetry(10000, errors.New("boom")))
}

func TestPolicyFunc(t *testing.T) {
	p := Func(func(failureCount int, err error) bool {
		return err.Error() != "fatal"
	})
	assert.True(t, p.ShouldRetry(5, errors.New("transient")))
	assert.False(t, p.ShouldRetry(0, errors.New("fatal")))
}

func TestPolicyUnset(t *testing.T) {
	var p Policy
	assert.False(t, p.IsSet())
	assert.False(t, p.ShouldRetry(0, errors.New("boom")))
}

func TestDefaultDelayGrowth(t *testing.T) {
	assert.Equal(t, time.Second, DefaultDelay(0))
	assert.Equal(t, 2*time.Second, DefaultDelay(1))
	assert.Equal(t, 4*time.Second, DefaultDelay(2))
	assert.Equal(t, 16*time.Second, DefaultDelay(4))
	assert.Equal(t, 30*time.Second, DefaultDelay(5))
	assert.Equal(t, 30*time.Second, DefaultDelay(50))
}

func TestDelayResolution(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, 5*time.Millisecond, DelayOf(5*time.Millisecond).Duration(3, err))
	fn := DelayFunc(func(failureCount int, _ error) time.Duration {
		return time.Duration(failureCount) * time.Millisecond
	})
	assert.Equal(t, 3*time.Millisecond, fn.Duration(3, err))
	var unset Delay
	assert.Equal(t, DefaultDelay(2), unset.Duration(2, err))
}

func TestCanFetch(t *testing.T) {
	assert.True(t, CanFetch(NetworkModeOnline, true))
	assert.False(t, CanFetch(NetworkModeOnline, false))
	assert.False(t, CanFetch("", false))
	assert.True(t, CanFetch(NetworkModeAlways, false))
	assert.True(t, CanFetch(NetworkModeOfflineFirst, false))
}
