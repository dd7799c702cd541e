package store

import (
	"context"
	"encoding/json"
	"fmt"

	"pulse/internal/domain"
)

// UpsertAlertResult reports the affected alert id and whether it was newly
// created (for audit/counter purposes).
type UpsertAlertResult struct {
	ID      int64
	Created bool
}

// DeduplicateOrCreateAlert is the authoritative, status-preserving alert
// upsert (spec.md §9 Open Question #1; DESIGN.md). On conflict with an
// existing OPEN/ACKNOWLEDGED row for (tenant_id, fingerprint) it refreshes
// severity/confidence/summary/details, increments trigger_count, and never
// touches status.
func (p *Pool) DeduplicateOrCreateAlert(ctx context.Context, a domain.FleetAlert) (UpsertAlertResult, error) {
	detailsJSON, err := json.Marshal(a.Details)
	if err != nil {
		return UpsertAlertResult{}, fmt.Errorf("marshal alert details: %w", err)
	}
	var ruleID any
	if a.RuleID != "" {
		ruleID = a.RuleID
	}
	row := p.QueryRow(ctx, `
		INSERT INTO fleet_alert
			(tenant_id, site_id, device_id, alert_type, fingerprint, status,
			 severity, confidence, summary, details, rule_id, trigger_count, last_triggered_at)
		VALUES ($1,$2,$3,$4,$5,'OPEN',$6,$7,$8,$9::jsonb,$10,1,now())
		ON CONFLICT (tenant_id, fingerprint) WHERE (status IN ('OPEN', 'ACKNOWLEDGED'))
		DO UPDATE SET
			severity = EXCLUDED.severity,
			confidence = EXCLUDED.confidence,
			summary = EXCLUDED.summary,
			details = EXCLUDED.details,
			trigger_count = fleet_alert.trigger_count + 1,
			last_triggered_at = now()
		RETURNING id, (xmax = 0) AS inserted
	`, a.TenantID, a.SiteID, a.DeviceID, string(a.AlertType), a.Fingerprint, a.Severity, a.Confidence, a.Summary, string(detailsJSON), ruleID)

	var res UpsertAlertResult
	if err := row.Scan(&res.ID, &res.Created); err != nil {
		return UpsertAlertResult{}, fmt.Errorf("deduplicate_or_create_alert: %w", err)
	}
	return res, nil
}

// OpenOrUpdateAlert backs the NO_HEARTBEAT path. Despite its name it is
// also status-preserving on conflict: the DO UPDATE clause never sets
// status, matching the Python source (see DESIGN.md Open Question #1).
func (p *Pool) OpenOrUpdateAlert(ctx context.Context, a domain.FleetAlert) (UpsertAlertResult, error) {
	detailsJSON, err := json.Marshal(a.Details)
	if err != nil {
		return UpsertAlertResult{}, fmt.Errorf("marshal alert details: %w", err)
	}
	row := p.QueryRow(ctx, `
		INSERT INTO fleet_alert (tenant_id, site_id, device_id, alert_type, fingerprint, status, severity, confidence, summary, details)
		VALUES ($1,$2,$3,$4,$5,'OPEN',$6,$7,$8,$9::jsonb)
		ON CONFLICT (tenant_id, fingerprint) WHERE (status IN ('OPEN', 'ACKNOWLEDGED'))
		DO UPDATE SET
			severity = EXCLUDED.severity,
			confidence = EXCLUDED.confidence,
			summary = EXCLUDED.summary,
			details = EXCLUDED.details
		RETURNING id, (xmax = 0) AS inserted
	`, a.TenantID, a.SiteID, a.DeviceID, string(a.AlertType), a.Fingerprint, a.Severity, a.Confidence, a.Summary, string(detailsJSON))

	var res UpsertAlertResult
	if err := row.Scan(&res.ID, &res.Created); err != nil {
		return UpsertAlertResult{}, fmt.Errorf("open_or_update_alert: %w", err)
	}
	return res, nil
}

// CloseAlert transitions every OPEN/ACKNOWLEDGED row for (tenant, fingerprint) to CLOSED.
func (p *Pool) CloseAlert(ctx context.Context, tenantID, fingerprint string) error {
	_, err := p.Exec(ctx, `
		UPDATE fleet_alert
		SET status = 'CLOSED', closed_at = now()
		WHERE tenant_id = $1 AND fingerprint = $2 AND status IN ('OPEN', 'ACKNOWLEDGED')
	`, tenantID, fingerprint)
	if err != nil {
		return fmt.Errorf("close alert: %w", err)
	}
	return nil
}

// IsSilenced reports whether an open/acknowledged alert with fingerprint
// currently has silenced_until in the future.
func (p *Pool) IsSilenced(ctx context.Context, tenantID, fingerprint string) (bool, error) {
	row := p.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM fleet_alert
			WHERE tenant_id = $1 AND fingerprint = $2
			  AND status IN ('OPEN', 'ACKNOWLEDGED')
			  AND silenced_until IS NOT NULL AND silenced_until > now()
		)
	`, tenantID, fingerprint)
	var silenced bool
	if err := row.Scan(&silenced); err != nil {
		return false, fmt.Errorf("check silence: %w", err)
	}
	return silenced, nil
}

// EscalateOpenAlerts runs the escalation sweep: for each tenant, in one
// atomic statement, upgrades OPEN, non-escalated, non-silenced alerts
// whose rule's escalation_minutes has elapsed since created_at. Returns
// the number of rows escalated.
func (p *Pool) EscalateOpenAlerts(ctx context.Context) (int64, error) {
	tag, err := p.Exec(ctx, `
		UPDATE fleet_alert fa
		SET severity = GREATEST(fa.severity - 1, 0),
		    escalation_level = 1,
		    escalated_at = now()
		FROM alert_rules ar
		WHERE fa.rule_id = ar.rule_id
		  AND fa.status = 'OPEN'
		  AND fa.escalation_level = 0
		  AND (fa.silenced_until IS NULL OR fa.silenced_until <= now())
		  AND ar.escalation_minutes IS NOT NULL
		  AND ar.escalation_minutes > 0
		  AND fa.created_at < now() - (ar.escalation_minutes * interval '1 minute')
	`)
	if err != nil {
		return 0, fmt.Errorf("escalation sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
