package evaluator

import (
	"time"

	"pulse/internal/domain"
)

// MaintenanceActive reports whether any window in windows currently
// suppresses new alert openings for (siteID, deviceType) at now. Matching
// windows still allow closing alerts that no longer fire (spec.md §4.2).
func MaintenanceActive(windows []domain.MaintenanceWindow, siteID, deviceType string, now time.Time) bool {
	for _, w := range windows {
		if !windowMatches(w, siteID, deviceType, now) {
			continue
		}
		return true
	}
	return false
}

func windowMatches(w domain.MaintenanceWindow, siteID, deviceType string, now time.Time) bool {
	if !w.Enabled {
		return false
	}
	if now.Before(w.StartsAt) {
		return false
	}
	if w.EndsAt != nil && !now.Before(*w.EndsAt) {
		return false
	}
	if len(w.SiteIDs) > 0 && !contains(w.SiteIDs, siteID) {
		return false
	}
	if len(w.DeviceTypes) > 0 && !contains(w.DeviceTypes, deviceType) {
		return false
	}
	if w.Recurring {
		if !recurringMatches(w, now) {
			return false
		}
	}
	return true
}

func recurringMatches(w domain.MaintenanceWindow, now time.Time) bool {
	if len(w.DaysOfWeek) > 0 {
		matched := false
		for _, d := range w.DaysOfWeek {
			if d == now.Weekday() {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	hour := now.Hour()
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	// wraps past midnight, e.g. 22:00-06:00
	return hour >= w.StartHour || hour < w.EndHour
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
