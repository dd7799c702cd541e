// Package dispatcher converts new or escalated alert events into delivery
// jobs, exactly once per (alert, route, event) (spec.md §4.3).
package dispatcher

import (
	"strings"

	"pulse/internal/domain"
)

// RouteMatches applies the filter chain from spec.md §4.3: deliver_on must
// contain the event, then min_severity/alert_types/site_ids/device_prefixes
// narrow further. Lower numeric severity is more severe, so min_severity
// rejects alerts with severity NUMERICALLY GREATER than the floor.
func RouteMatches(route domain.IntegrationRoute, alert domain.FleetAlert, event domain.DeliverOn) bool {
	if !containsDeliverOn(route.DeliverOn, event) {
		return false
	}
	if route.MinSeverity != nil && alert.Severity > *route.MinSeverity {
		return false
	}
	if len(route.AlertTypes) > 0 && !containsAlertType(route.AlertTypes, alert.AlertType) {
		return false
	}
	if len(route.SiteIDs) > 0 && !containsString(route.SiteIDs, alert.SiteID) {
		return false
	}
	if len(route.DevicePrefixes) > 0 && !anyPrefixMatches(route.DevicePrefixes, alert.DeviceID) {
		return false
	}
	return true
}

func containsDeliverOn(list []domain.DeliverOn, v domain.DeliverOn) bool {
	for _, d := range list {
		if d == v {
			return true
		}
	}
	return false
}

func containsAlertType(list []domain.AlertType, v domain.AlertType) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func anyPrefixMatches(prefixes []string, deviceID string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(deviceID, p) {
			return true
		}
	}
	return false
}
