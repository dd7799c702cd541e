package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"pulse/internal/domain"
)

// smallBatchThreshold is the boundary between a parameterized multi-row
// INSERT and a COPY bulk load (spec.md §4.1 Batch Writer).
const smallBatchThreshold = 100

// InsertTelemetryBatch writes records and notifies telemetry_inserted with
// the distinct set of tenant_ids touched, on the same connection used for
// the insert (spec.md §4.1).
func (p *Pool) InsertTelemetryBatch(ctx context.Context, records []domain.TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}
	conn, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin telemetry batch: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(records) <= smallBatchThreshold {
		if err := insertSmallBatch(ctx, tx, records); err != nil {
			return err
		}
	} else {
		if err := copyBatch(ctx, tx, records); err != nil {
			return err
		}
	}

	tenants := distinctTenants(records)
	payload, _ := json.Marshal(map[string]any{"tenant_ids": tenants})
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, string(ChannelTelemetryInserted), string(payload)); err != nil {
		return fmt.Errorf("notify telemetry_inserted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit telemetry batch: %w", err)
	}
	return nil
}

func insertSmallBatch(ctx context.Context, tx pgx.Tx, records []domain.TelemetryRecord) error {
	sqlText := `INSERT INTO telemetry (time, tenant_id, device_id, site_id, msg_type, seq, metrics) VALUES `
	args := make([]any, 0, len(records)*7)
	for i, r := range records {
		metricsJSON, err := json.Marshal(r.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		base := i * 7
		if i > 0 {
			sqlText += ","
		}
		sqlText += fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d::jsonb)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, r.Time, r.TenantID, r.DeviceID, r.SiteID, string(r.MsgType), r.Seq, string(metricsJSON))
	}
	if _, err := tx.Exec(ctx, sqlText, args...); err != nil {
		return fmt.Errorf("insert telemetry batch: %w", err)
	}
	return nil
}

func copyBatch(ctx context.Context, tx pgx.Tx, records []domain.TelemetryRecord) error {
	rows := make([][]any, len(records))
	for i, r := range records {
		metricsJSON, err := json.Marshal(r.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		rows[i] = []any{r.Time, r.TenantID, r.DeviceID, r.SiteID, string(r.MsgType), r.Seq, string(metricsJSON)}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"telemetry"},
		[]string{"time", "tenant_id", "device_id", "site_id", "msg_type", "seq", "metrics"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy telemetry batch: %w", err)
	}
	return nil
}

func distinctTenants(records []domain.TelemetryRecord) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.TenantID]; !ok {
			seen[r.TenantID] = struct{}{}
			out = append(out, r.TenantID)
		}
	}
	return out
}
