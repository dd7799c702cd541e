package store

import (
	"context"
	"fmt"
)

// AnomalyStats is the mean/stddev/count/latest over a metric window, used
// by the anomaly (Z-score) rule type.
type AnomalyStats struct {
	Mean    float64
	StdDev  float64
	Count   int
	Latest  float64
	HasData bool
}

// FetchAnomalyStats computes population stats for metric_name over the
// last windowMinutes for one device.
func (p *Pool) FetchAnomalyStats(ctx context.Context, tenantID, deviceID, metricName string, windowMinutes int) (AnomalyStats, error) {
	row := p.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(AVG(v.val), 0),
			COALESCE(STDDEV_POP(v.val), 0),
			COALESCE((ARRAY_AGG(v.val ORDER BY v.time DESC))[1], 0)
		FROM (
			SELECT time, (metrics ->> $3)::double precision AS val
			FROM telemetry
			WHERE tenant_id = $1 AND device_id = $2
			  AND time > now() - ($4::int * interval '1 minute')
			  AND metrics ? $3
		) v
	`, tenantID, deviceID, metricName, windowMinutes)

	var s AnomalyStats
	if err := row.Scan(&s.Count, &s.Mean, &s.StdDev, &s.Latest); err != nil {
		return AnomalyStats{}, fmt.Errorf("fetch anomaly stats: %w", err)
	}
	s.HasData = s.Count > 0
	return s, nil
}

// ContinuouslyBreached reports whether, over the last durationSeconds for
// one device/metric, every row breaches the comparison (i.e. zero rows
// fail it) AND at least one row exists in the window — the "continuously
// breached" definition in spec.md §4.2. With durationSeconds <= 0 there is
// no window: it reports whether the device's latest row carrying the metric
// breaches the comparison.
func (p *Pool) ContinuouslyBreached(ctx context.Context, tenantID, deviceID, metricName, sqlOp string, threshold float64, durationSeconds int) (bool, error) {
	if durationSeconds <= 0 {
		latest := p.QueryRow(ctx, fmt.Sprintf(`
			SELECT COALESCE((
				SELECT (metrics ->> $3)::double precision %s $4
				FROM telemetry
				WHERE tenant_id = $1 AND device_id = $2 AND metrics ? $3
				ORDER BY time DESC
				LIMIT 1
			), false)
		`, sqlOp), tenantID, deviceID, metricName, threshold)
		var breached bool
		if err := latest.Scan(&breached); err != nil {
			return false, fmt.Errorf("latest value breached: %w", err)
		}
		return breached, nil
	}
	row := p.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE NOT ((metrics ->> $3)::double precision %s $4)) AS violations,
			COUNT(*) AS total
		FROM telemetry
		WHERE tenant_id = $1 AND device_id = $2
		  AND time > now() - ($5::int * interval '1 second')
		  AND metrics ? $3
	`, sqlOp), tenantID, deviceID, metricName, threshold, durationSeconds)

	var violations, total int
	if err := row.Scan(&violations, &total); err != nil {
		return false, fmt.Errorf("continuously breached: %w", err)
	}
	return violations == 0 && total > 0, nil
}

// HasMetricWithinMinutes reports whether any telemetry row exists for the
// device with metricName present within the last gapMinutes, used by the
// telemetry_gap rule type.
func (p *Pool) HasMetricWithinMinutes(ctx context.Context, tenantID, deviceID, metricName string, gapMinutes int) (bool, error) {
	row := p.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM telemetry
			WHERE tenant_id = $1 AND device_id = $2
			  AND time > now() - ($4::int * interval '1 minute')
			  AND metrics ? $3
		)
	`, tenantID, deviceID, metricName, gapMinutes)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("has metric within minutes: %w", err)
	}
	return exists, nil
}

// sqlOperator maps domain.AlertOperator to its SQL comparison token.
func sqlOperator(op string) string {
	switch op {
	case "GT":
		return ">"
	case "GTE":
		return ">="
	case "LT":
		return "<"
	case "LTE":
		return "<="
	case "EQ":
		return "="
	case "NE":
		return "!="
	default:
		return "="
	}
}

// SQLOperator exports sqlOperator for callers outside the package.
func SQLOperator(op string) string { return sqlOperator(op) }
