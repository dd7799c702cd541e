package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pulse/internal/domain"
)

func TestMaintenanceActiveSimpleWindow(t *testing.T) {
	now := time.Now()
	windows := []domain.MaintenanceWindow{{
		Enabled:  true,
		StartsAt: now.Add(-time.Hour),
		EndsAt:   ptrTime(now.Add(time.Hour)),
	}}
	assert.True(t, MaintenanceActive(windows, "site1", "", now))
}

func TestMaintenanceActiveRespectsEndsAt(t *testing.T) {
	now := time.Now()
	windows := []domain.MaintenanceWindow{{
		Enabled:  true,
		StartsAt: now.Add(-2 * time.Hour),
		EndsAt:   ptrTime(now.Add(-time.Hour)),
	}}
	assert.False(t, MaintenanceActive(windows, "site1", "", now))
}

func TestMaintenanceActiveFiltersBySiteID(t *testing.T) {
	now := time.Now()
	windows := []domain.MaintenanceWindow{{
		Enabled:  true,
		StartsAt: now.Add(-time.Hour),
		SiteIDs:  []string{"other-site"},
	}}
	assert.False(t, MaintenanceActive(windows, "site1", "", now))
}

func TestMaintenanceActiveRecurringDayAndHour(t *testing.T) {
	now := time.Date(2026, 7, 29, 2, 30, 0, 0, time.UTC) // Wednesday 02:30
	windows := []domain.MaintenanceWindow{{
		Enabled:    true,
		StartsAt:   now.Add(-24 * time.Hour),
		Recurring:  true,
		DaysOfWeek: []time.Weekday{time.Wednesday},
		StartHour:  1,
		EndHour:    4,
	}}
	assert.True(t, MaintenanceActive(windows, "site1", "", now))

	windows[0].StartHour = 5
	windows[0].EndHour = 6
	assert.False(t, MaintenanceActive(windows, "site1", "", now))
}

func TestMaintenanceActiveRecurringWrapsMidnight(t *testing.T) {
	now := time.Date(2026, 7, 29, 23, 0, 0, 0, time.UTC)
	windows := []domain.MaintenanceWindow{{
		Enabled:    true,
		StartsAt:   now.Add(-24 * time.Hour),
		Recurring:  true,
		DaysOfWeek: []time.Weekday{now.Weekday()},
		StartHour:  22,
		EndHour:    6,
	}}
	assert.True(t, MaintenanceActive(windows, "site1", "", now))
}

func TestSilenced(t *testing.T) {
	now := time.Now()
	assert.True(t, Silenced(ptrTime(now.Add(time.Minute)), now))
	assert.False(t, Silenced(ptrTime(now.Add(-time.Minute)), now))
	assert.False(t, Silenced(nil, now))
}

func ptrTime(t time.Time) *time.Time { return &t }
