package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterCapacityNeverExceedsBurst(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewLimiter(3, 1)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(now, "tenantA", "dev-1"))
	}
	assert.False(t, l.Allow(now, "tenantA", "dev-1"), "burst exhausted")

	now = now.Add(10 * time.Second) // 10 tokens' worth of refill, capped at 3
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(now, "tenantA", "dev-1"))
	}
	assert.False(t, l.Allow(now, "tenantA", "dev-1"), "refill capped at capacity, not unbounded")
}

func TestLimiterIsolatesPerDevice(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewLimiter(1, 1)

	assert.True(t, l.Allow(now, "tenantA", "dev-1"))
	assert.False(t, l.Allow(now, "tenantA", "dev-1"))
	assert.True(t, l.Allow(now, "tenantA", "dev-2"), "a different device must have its own bucket")
	assert.True(t, l.Allow(now, "tenantB", "dev-1"), "a different tenant must have its own bucket")
}

func TestLimiterRefillsLinearly(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewLimiter(10, 2) // 2 tokens/sec

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(now, "t", "d"))
	}
	assert.False(t, l.Allow(now, "t", "d"))

	now = now.Add(500 * time.Millisecond) // +1 token
	assert.True(t, l.Allow(now, "t", "d"))
	assert.False(t, l.Allow(now, "t", "d"))
}

func TestLimiterSetRatesAppliesToExistingBuckets(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewLimiter(1, 1)
	assert.True(t, l.Allow(now, "t", "d"))
	assert.False(t, l.Allow(now, "t", "d"))

	l.SetRates(5, 5)
	now = now.Add(time.Second)
	count := 0
	for i := 0; i < 10; i++ {
		if l.Allow(now, "t", "d") {
			count++
		}
	}
	assert.Equal(t, 5, count)
}
