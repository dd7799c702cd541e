package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pulse/internal/domain"
)

// FetchEnabledRules loads every enabled alert_rules row for a tenant.
func (p *Pool) FetchEnabledRules(ctx context.Context, tenantID string) ([]domain.AlertRule, error) {
	rows, err := p.Query(ctx, `
		SELECT rule_id, rule_type, metric_name, operator, threshold, severity,
		       site_ids, group_ids, conditions, match_mode, duration_seconds,
		       aggregation, window_seconds, escalation_minutes,
		       window_minutes, min_samples, z_threshold, gap_minutes
		FROM alert_rules
		WHERE tenant_id = $1 AND enabled = true
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fetch enabled rules: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertRule
	for rows.Next() {
		var r domain.AlertRule
		var conditionsRaw []byte
		var ruleType, operator, matchMode, aggregation string
		r.TenantID = tenantID
		if err := rows.Scan(&r.RuleID, &ruleType, &r.MetricName, &operator, &r.Threshold, &r.Severity,
			&r.SiteIDs, &r.GroupIDs, &conditionsRaw, &matchMode, &r.DurationSeconds,
			&aggregation, &r.WindowSeconds, &r.EscalationMinutes,
			&r.WindowMinutes, &r.MinSamples, &r.ZThreshold, &r.GapMinutes); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		r.Enabled = true
		r.RuleType = domain.RuleType(ruleType)
		r.Operator = domain.AlertOperator(operator)
		r.MatchMode = domain.MatchMode(matchMode)
		r.Aggregation = domain.Aggregation(aggregation)
		if len(conditionsRaw) > 0 {
			_ = json.Unmarshal(conditionsRaw, &r.Conditions)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchMetricMappings loads a tenant's raw->normalized linear transforms.
func (p *Pool) FetchMetricMappings(ctx context.Context, tenantID string) ([]domain.MetricMapping, error) {
	rows, err := p.Query(ctx, `
		SELECT raw_name, normalized_to, multiplier, "offset"
		FROM metric_mappings WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fetch metric mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.MetricMapping
	for rows.Next() {
		m := domain.MetricMapping{TenantID: tenantID}
		if err := rows.Scan(&m.RawName, &m.NormalizedTo, &m.Multiplier, &m.Offset); err != nil {
			return nil, fmt.Errorf("scan metric mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FetchDeviceGroupIDs returns the group ids a device belongs to, used for
// rule scope filtering by group_ids.
func (p *Pool) FetchDeviceGroupIDs(ctx context.Context, tenantID, deviceID string) ([]string, error) {
	rows, err := p.Query(ctx, `
		SELECT group_id FROM device_group_members WHERE tenant_id = $1 AND device_id = $2
	`, tenantID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("fetch device group ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// FetchActiveMaintenanceWindows loads a tenant's currently-matching
// maintenance windows (spec.md §4.2: enabled AND starts_at<=now AND
// (ends_at is null OR ends_at>now); recurring windows additionally need
// day-of-week/hour filtering, applied in internal/evaluator since it needs
// "now" in the tenant's evaluation context, not the DB's).
func (p *Pool) FetchActiveMaintenanceWindows(ctx context.Context, tenantID string) ([]domain.MaintenanceWindow, error) {
	rows, err := p.Query(ctx, `
		SELECT window_id, enabled, starts_at, ends_at, recurring, days_of_week, start_hour, end_hour, site_ids, device_types
		FROM alert_maintenance_windows
		WHERE tenant_id = $1 AND enabled = true
		  AND starts_at <= now() AND (ends_at IS NULL OR ends_at > now())
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fetch maintenance windows: %w", err)
	}
	defer rows.Close()

	var out []domain.MaintenanceWindow
	for rows.Next() {
		w := domain.MaintenanceWindow{TenantID: tenantID}
		var days []int32
		if err := rows.Scan(&w.WindowID, &w.Enabled, &w.StartsAt, &w.EndsAt, &w.Recurring, &days, &w.StartHour, &w.EndHour, &w.SiteIDs, &w.DeviceTypes); err != nil {
			return nil, fmt.Errorf("scan maintenance window: %w", err)
		}
		for _, d := range days {
			w.DaysOfWeek = append(w.DaysOfWeek, time.Weekday(d))
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
