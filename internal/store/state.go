package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pulse/internal/domain"
)

// DeviceRollup is one device's latest-observed snapshot, grounded on
// evaluator.py's fetch_rollup_timescaledb three-CTE query.
type DeviceRollup struct {
	TenantID       string
	DeviceID       string
	SiteID         string
	RegistryStatus domain.DeviceStatus
	LastHeartbeat  *time.Time
	LastTelemetry  *time.Time
	Metrics        map[string]float64
}

// FetchRollup returns the latest telemetry/heartbeat snapshot for every
// registered device, joined against device_registry. Only rows from the
// last 6 hours are considered live (matches the Python source's window).
func (p *Pool) FetchRollup(ctx context.Context) ([]DeviceRollup, error) {
	rows, err := p.Query(ctx, `
		WITH latest_telemetry AS (
			SELECT DISTINCT ON (tenant_id, device_id)
				tenant_id, device_id, time, msg_type, metrics
			FROM telemetry
			WHERE time > now() - INTERVAL '6 hours'
			ORDER BY tenant_id, device_id, time DESC
		),
		latest_heartbeat AS (
			SELECT tenant_id, device_id, MAX(time) AS last_hb
			FROM telemetry
			WHERE time > now() - INTERVAL '6 hours' AND msg_type = 'heartbeat'
			GROUP BY tenant_id, device_id
		),
		latest_telemetry_time AS (
			SELECT tenant_id, device_id, MAX(time) AS last_tel
			FROM telemetry
			WHERE time > now() - INTERVAL '6 hours' AND msg_type = 'telemetry'
			GROUP BY tenant_id, device_id
		)
		SELECT
			dr.tenant_id, dr.device_id, dr.site_id, dr.status,
			lh.last_hb, lt.last_tel,
			COALESCE(ltel.metrics, '{}'::jsonb)
		FROM device_registry dr
		LEFT JOIN latest_heartbeat lh ON dr.tenant_id = lh.tenant_id AND dr.device_id = lh.device_id
		LEFT JOIN latest_telemetry_time lt ON dr.tenant_id = lt.tenant_id AND dr.device_id = lt.device_id
		LEFT JOIN latest_telemetry ltel ON dr.tenant_id = ltel.tenant_id AND dr.device_id = ltel.device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("fetch rollup: %w", err)
	}
	defer rows.Close()

	var out []DeviceRollup
	for rows.Next() {
		var d DeviceRollup
		var metricsRaw []byte
		var status string
		if err := rows.Scan(&d.TenantID, &d.DeviceID, &d.SiteID, &status, &d.LastHeartbeat, &d.LastTelemetry, &metricsRaw); err != nil {
			return nil, fmt.Errorf("scan rollup row: %w", err)
		}
		d.RegistryStatus = domain.DeviceStatus(status)
		d.Metrics = map[string]float64{}
		if len(metricsRaw) > 0 {
			_ = json.Unmarshal(metricsRaw, &d.Metrics)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertDeviceStateResult reports whether the device's status transitioned.
type UpsertDeviceStateResult struct {
	PreviousStatus domain.DeviceLiveness
	NewStatus      domain.DeviceLiveness
	Transitioned   bool
}

// UpsertDeviceState stamps last_state_change_at only on a status
// transition, matching the CASE ... IS DISTINCT FROM clause in
// evaluator.py.
func (p *Pool) UpsertDeviceState(ctx context.Context, tenantID, deviceID, siteID string, status domain.DeviceLiveness, lastHB, lastTel, lastSeen *time.Time, now time.Time) (UpsertDeviceStateResult, error) {
	row := p.QueryRow(ctx, `
		WITH existing AS (
			SELECT status FROM device_state WHERE tenant_id = $1 AND device_id = $2
		)
		INSERT INTO device_state (tenant_id, device_id, site_id, status, last_heartbeat_at, last_telemetry_at, last_seen_at, last_state_change_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, device_id)
		DO UPDATE SET
			site_id = EXCLUDED.site_id,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			last_telemetry_at = EXCLUDED.last_telemetry_at,
			last_seen_at = EXCLUDED.last_seen_at,
			status = EXCLUDED.status,
			last_state_change_at = CASE
				WHEN device_state.status IS DISTINCT FROM EXCLUDED.status THEN $8
				ELSE device_state.last_state_change_at
			END
		RETURNING
			(SELECT status FROM existing) AS previous_status,
			status AS new_status
	`, tenantID, deviceID, siteID, string(status), lastHB, lastTel, lastSeen, now)

	var prev, cur *string
	if err := row.Scan(&prev, &cur); err != nil {
		return UpsertDeviceStateResult{}, fmt.Errorf("upsert device state: %w", err)
	}
	res := UpsertDeviceStateResult{NewStatus: domain.DeviceLiveness(derefStr(cur))}
	if prev != nil {
		res.PreviousStatus = domain.DeviceLiveness(*prev)
	}
	res.Transitioned = res.PreviousStatus != res.NewStatus
	return res, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
