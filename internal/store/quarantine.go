package store

import (
	"context"
	"fmt"
	"time"
)

// Quarantine persists one rejected payload to quarantine_events. Callers
// only invoke this when STORE_REJECTS is on and MODE != PROD (spec.md
// §4.1: PROD forces raw-body storage off regardless).
func (p *Pool) Quarantine(ctx context.Context, reason string, tenantID, deviceID string, raw []byte, now time.Time) error {
	_, err := p.Exec(ctx, `
		INSERT INTO quarantine_events (time, tenant_id, device_id, reason, raw_payload)
		VALUES ($1, $2, $3, $4, $5)
	`, now, tenantID, deviceID, reason, raw)
	if err != nil {
		return fmt.Errorf("insert quarantine event: %w", err)
	}
	return nil
}

// BumpQuarantineCounter increments the per-minute (bucket, tenant, reason)
// rejection counter, independent of STORE_REJECTS — the counter itself is
// never disabled, only raw-body retention is (spec.md §4.1).
func (p *Pool) BumpQuarantineCounter(ctx context.Context, bucket time.Time, tenantID, reason string) error {
	_, err := p.Exec(ctx, `
		INSERT INTO quarantine_counters_minute (bucket, tenant_id, reason, count)
		VALUES (date_trunc('minute', $1::timestamptz), $2, $3, 1)
		ON CONFLICT (bucket, tenant_id, reason) DO UPDATE SET count = quarantine_counters_minute.count + 1
	`, bucket, tenantID, reason)
	if err != nil {
		return fmt.Errorf("bump quarantine counter: %w", err)
	}
	return nil
}
