package store

import (
	"context"
	"encoding/json"
	"fmt"

	"pulse/internal/domain"
)

// FetchEnabledIntegration loads one enabled integration row.
func (p *Pool) FetchEnabledIntegration(ctx context.Context, tenantID, integrationID string) (domain.Integration, bool, error) {
	row := p.QueryRow(ctx, `
		SELECT integration_id, type, enabled, config
		FROM integrations
		WHERE tenant_id = $1 AND integration_id = $2
	`, tenantID, integrationID)

	var in domain.Integration
	in.TenantID = tenantID
	var typ string
	var cfgRaw []byte
	if err := row.Scan(&in.IntegrationID, &typ, &in.Enabled, &cfgRaw); err != nil {
		if err.Error() == "no rows in result set" {
			return domain.Integration{}, false, nil
		}
		return domain.Integration{}, false, fmt.Errorf("fetch integration: %w", err)
	}
	in.Type = domain.IntegrationType(typ)
	if len(cfgRaw) > 0 {
		_ = json.Unmarshal(cfgRaw, &in.Config)
	}
	if !in.Enabled {
		return in, false, nil
	}
	return in, true, nil
}

// RouteWithIntegration pairs a route with its joined integration, ordered
// by priority then created_at (spec.md §4.3).
type RouteWithIntegration struct {
	Route       domain.IntegrationRoute
	Integration domain.Integration
}

// FetchRoutes loads a tenant's enabled routes joined to enabled
// integrations, bounded by routeLimit.
func (p *Pool) FetchRoutes(ctx context.Context, tenantID string, routeLimit int) ([]RouteWithIntegration, error) {
	rows, err := p.Query(ctx, `
		SELECT r.route_id, r.integration_id, r.priority, r.min_severity,
		       r.alert_types, r.site_ids, r.device_prefixes, r.deliver_on, r.created_at,
		       i.type, i.config
		FROM integration_routes r
		JOIN integrations i ON i.tenant_id = r.tenant_id AND i.integration_id = r.integration_id
		WHERE r.tenant_id = $1 AND r.enabled = true AND i.enabled = true
		ORDER BY r.priority ASC, r.created_at ASC
		LIMIT $2
	`, tenantID, routeLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch routes: %w", err)
	}
	defer rows.Close()

	var out []RouteWithIntegration
	for rows.Next() {
		var rwi RouteWithIntegration
		rwi.Route.TenantID = tenantID
		rwi.Integration.TenantID = tenantID
		var minSev *int
		var alertTypes, deliverOn []string
		var typ string
		var cfgRaw []byte
		if err := rows.Scan(&rwi.Route.RouteID, &rwi.Route.IntegrationID, &rwi.Route.Priority, &minSev,
			&alertTypes, &rwi.Route.SiteIDs, &rwi.Route.DevicePrefixes, &deliverOn, &rwi.Route.CreatedAt,
			&typ, &cfgRaw); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		rwi.Route.MinSeverity = minSev
		for _, t := range alertTypes {
			rwi.Route.AlertTypes = append(rwi.Route.AlertTypes, domain.AlertType(t))
		}
		for _, d := range deliverOn {
			rwi.Route.DeliverOn = append(rwi.Route.DeliverOn, domain.DeliverOn(d))
		}
		rwi.Integration.IntegrationID = rwi.Route.IntegrationID
		rwi.Integration.Type = domain.IntegrationType(typ)
		rwi.Integration.Enabled = true
		if len(cfgRaw) > 0 {
			_ = json.Unmarshal(cfgRaw, &rwi.Integration.Config)
		}
		out = append(out, rwi)
	}
	return out, rows.Err()
}

// FetchOpenAlerts loads OPEN alerts created within lookbackMinutes, bounded
// by limit, for the dispatcher's primary pass.
func (p *Pool) FetchOpenAlerts(ctx context.Context, lookbackMinutes, limit int) ([]domain.FleetAlert, error) {
	return p.fetchAlerts(ctx, `
		SELECT id, tenant_id, site_id, device_id, alert_type, fingerprint, status,
		       severity, confidence, summary, details, rule_id, trigger_count, created_at,
		       escalation_level, escalated_at
		FROM fleet_alert
		WHERE status = 'OPEN' AND created_at > now() - ($1::int * interval '1 minute')
		ORDER BY created_at ASC
		LIMIT $2
	`, lookbackMinutes, limit)
}

// FetchRecentlyEscalatedAlerts loads alerts escalated within the last 5
// minutes with escalation_level > 0, for the dispatcher's escalation pass.
func (p *Pool) FetchRecentlyEscalatedAlerts(ctx context.Context) ([]domain.FleetAlert, error) {
	return p.fetchAlerts(ctx, `
		SELECT id, tenant_id, site_id, device_id, alert_type, fingerprint, status,
		       severity, confidence, summary, details, rule_id, trigger_count, created_at,
		       escalation_level, escalated_at
		FROM fleet_alert
		WHERE escalated_at IS NOT NULL
		  AND escalated_at > now() - interval '5 minutes'
		  AND escalation_level > 0
	`)
}

func (p *Pool) fetchAlerts(ctx context.Context, sql string, args ...any) ([]domain.FleetAlert, error) {
	rows, err := p.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.FleetAlert
	for rows.Next() {
		var a domain.FleetAlert
		var alertType, status string
		var detailsRaw []byte
		var ruleID *string
		if err := rows.Scan(&a.ID, &a.TenantID, &a.SiteID, &a.DeviceID, &alertType, &a.Fingerprint, &status,
			&a.Severity, &a.Confidence, &a.Summary, &detailsRaw, &ruleID, &a.TriggerCount, &a.CreatedAt,
			&a.EscalationLevel, &a.EscalatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.AlertType = domain.AlertType(alertType)
		a.Status = domain.AlertStatus(status)
		if ruleID != nil {
			a.RuleID = *ruleID
		}
		if len(detailsRaw) > 0 {
			_ = json.Unmarshal(detailsRaw, &a.Details)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// HasCompletedJobSince reports whether a COMPLETED job exists for
// (alertID, routeID) created after sinceAt, used by the dispatcher's
// escalation pass to avoid re-firing a route already delivered.
func (p *Pool) HasCompletedJobSince(ctx context.Context, tenantID string, alertID int64, routeID string, sinceAt any) (bool, error) {
	row := p.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM delivery_jobs
			WHERE tenant_id = $1 AND alert_id = $2 AND route_id = $3
			  AND status = 'COMPLETED' AND created_at > $4
		)
	`, tenantID, alertID, routeID, sinceAt)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check completed job: %w", err)
	}
	return exists, nil
}

// CreateDeliveryJob inserts a pending job, idempotent via ON CONFLICT DO
// NOTHING against the (tenant, alert, route, deliver_on_event) unique key.
// Returns whether a new row was actually created.
func (p *Pool) CreateDeliveryJob(ctx context.Context, j domain.DeliveryJob) (bool, error) {
	payloadJSON, err := json.Marshal(j.Payload)
	if err != nil {
		return false, fmt.Errorf("marshal job payload: %w", err)
	}
	tag, err := p.Exec(ctx, `
		INSERT INTO delivery_jobs (tenant_id, alert_id, integration_id, route_id, deliver_on_event, status, next_run_at, payload_json)
		VALUES ($1,$2,$3,$4,$5,'PENDING',now(),$6::jsonb)
		ON CONFLICT (tenant_id, alert_id, route_id, deliver_on_event) DO NOTHING
	`, j.TenantID, j.AlertID, j.IntegrationID, j.RouteID, string(j.DeliverOnEvent), string(payloadJSON))
	if err != nil {
		return false, fmt.Errorf("create delivery job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
