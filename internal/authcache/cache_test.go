package authcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pulse/internal/domain"
)

func mkEntry(tenant, device string) domain.DeviceRegistryEntry {
	return domain.DeviceRegistryEntry{TenantID: tenant, DeviceID: device, SiteID: "site-1", Status: domain.DeviceActive}
}

func TestCacheTenantIsolation(t *testing.T) {
	c := New(time.Minute, 100)
	now := time.Unix(0, 0)
	c.Put(now, mkEntry("tenantA", "dev-1"))

	_, ok := c.Get(now, "tenantB", "dev-1")
	assert.False(t, ok, "a miss for (tenantB, dev-1) must never return tenantA's cached row")

	got, ok := c.Get(now, "tenantA", "dev-1")
	assert.True(t, ok)
	assert.Equal(t, "tenantA", got.TenantID)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(time.Minute, 100)
	now := time.Unix(0, 0)
	c.Put(now, mkEntry("t", "d"))

	_, ok := c.Get(now.Add(59*time.Second), "t", "d")
	assert.True(t, ok)

	_, ok = c.Get(now.Add(61*time.Second), "t", "d")
	assert.False(t, ok)
}

func TestCacheEvictsOldestTenPercentAtCapacity(t *testing.T) {
	c := New(time.Minute, 10)
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		c.Put(now, mkEntry("t", string(rune('a'+i))))
		now = now.Add(time.Millisecond)
	}
	assert.Equal(t, 10, c.Stats().Entries)

	// one more insert should evict at least one (10% of 10) oldest entry
	c.Put(now, mkEntry("t", "k"))
	stats := c.Stats()
	assert.LessOrEqual(t, stats.Entries, 10)
	assert.GreaterOrEqual(t, stats.Evicted, uint64(1))

	_, ok := c.Get(now, "t", "a")
	assert.False(t, ok, "oldest entry should have been evicted")
}

func TestCacheInvalidate(t *testing.T) {
	c := New(time.Minute, 100)
	now := time.Unix(0, 0)
	c.Put(now, mkEntry("t", "d"))
	c.Invalidate("t", "d")
	_, ok := c.Get(now, "t", "d")
	assert.False(t, ok)
}
