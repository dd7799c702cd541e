package store

import (
	"context"
	"encoding/json"
	"fmt"

	"pulse/internal/domain"
)

// RequeueStuckJobs resets PROCESSING jobs whose lease has been held longer
// than stuckMinutes back to PENDING, grounded on worker.py's
// requeue_stuck_jobs. Returns the number of jobs requeued.
func (p *Pool) RequeueStuckJobs(ctx context.Context, stuckMinutes int) (int64, error) {
	tag, err := p.Exec(ctx, `
		UPDATE delivery_jobs
		SET status = 'PENDING', updated_at = now()
		WHERE status = 'PROCESSING'
		  AND updated_at < now() - ($1::int * interval '1 minute')
	`, stuckMinutes)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FetchAndLeaseJobs atomically selects up to batchSize PENDING jobs whose
// next_run_at has elapsed, flips them to PROCESSING, and returns them —
// grounded on worker.py's fetch_jobs (SELECT ... FOR UPDATE SKIP LOCKED).
func (p *Pool) FetchAndLeaseJobs(ctx context.Context, batchSize int) ([]domain.DeliveryJob, error) {
	tx, err := p.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin lease tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT job_id, tenant_id, alert_id, integration_id, route_id, deliver_on_event,
		       status, attempts, next_run_at, last_error, payload_json, created_at, updated_at
		FROM delivery_jobs
		WHERE status = 'PENDING' AND next_run_at <= now()
		ORDER BY next_run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("select jobs for lease: %w", err)
	}

	var leased []domain.DeliveryJob
	for rows.Next() {
		var j domain.DeliveryJob
		var deliverOn, status string
		var lastError *string
		var payloadRaw []byte
		if err := rows.Scan(&j.JobID, &j.TenantID, &j.AlertID, &j.IntegrationID, &j.RouteID, &deliverOn,
			&status, &j.Attempts, &j.NextRunAt, &lastError, &payloadRaw, &j.CreatedAt, &j.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan leased job: %w", err)
		}
		j.DeliverOnEvent = domain.DeliverOn(deliverOn)
		j.Status = domain.JobStatus(status)
		if lastError != nil {
			j.LastError = *lastError
		}
		if len(payloadRaw) > 0 {
			_ = json.Unmarshal(payloadRaw, &j.Payload)
		}
		leased = append(leased, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate leased jobs: %w", err)
	}
	rows.Close()

	if len(leased) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, len(leased))
	for i, j := range leased {
		ids[i] = j.JobID
	}
	if _, err := tx.Exec(ctx, `
		UPDATE delivery_jobs SET status = 'PROCESSING', updated_at = now() WHERE job_id = ANY($1)
	`, ids); err != nil {
		return nil, fmt.Errorf("mark jobs processing: %w", err)
	}
	for i := range leased {
		leased[i].Status = domain.JobProcessing
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit lease tx: %w", err)
	}
	return leased, nil
}

// FetchIntegration loads the integration a leased job should deliver
// through; callers must still check Enabled.
func (p *Pool) FetchIntegration(ctx context.Context, tenantID, integrationID string) (domain.Integration, bool, error) {
	in, ok, err := p.FetchEnabledIntegration(ctx, tenantID, integrationID)
	if err == nil && !ok && in.IntegrationID != "" {
		// The row exists but is disabled: report it as found.
		return in, true, nil
	}
	return in, ok, err
}

// RecordDeliveryAttempt appends an immutable attempt log row.
func (p *Pool) RecordDeliveryAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	_, err := p.Exec(ctx, `
		INSERT INTO delivery_attempts (job_id, attempt_no, ok, http_status, latency_ms, error, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, a.JobID, a.AttemptNo, a.OK, a.HTTPStatus, a.LatencyMS, a.Error, a.StartedAt, a.FinishedAt)
	if err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}
	return nil
}

// UpdateJobSuccess marks a job COMPLETED.
func (p *Pool) UpdateJobSuccess(ctx context.Context, jobID int64, attemptNo int) error {
	_, err := p.Exec(ctx, `
		UPDATE delivery_jobs
		SET status = 'COMPLETED', attempts = $2, last_error = NULL, updated_at = now()
		WHERE job_id = $1
	`, jobID, attemptNo)
	if err != nil {
		return fmt.Errorf("update job success: %w", err)
	}
	return nil
}

// UpdateJobRetry puts a job back to PENDING with next_run_at pushed out by
// delaySeconds (backoff.go owns the formula).
func (p *Pool) UpdateJobRetry(ctx context.Context, jobID int64, attemptNo int, delaySeconds int, lastErr string) error {
	_, err := p.Exec(ctx, `
		UPDATE delivery_jobs
		SET status = 'PENDING', attempts = $2, last_error = $3,
		    next_run_at = now() + ($4::int * interval '1 second'), updated_at = now()
		WHERE job_id = $1
	`, jobID, attemptNo, lastErr, delaySeconds)
	if err != nil {
		return fmt.Errorf("update job retry: %w", err)
	}
	return nil
}

// UpdateJobFailed marks a job permanently FAILED (attempts exhausted).
func (p *Pool) UpdateJobFailed(ctx context.Context, jobID int64, attemptNo int, lastErr string) error {
	_, err := p.Exec(ctx, `
		UPDATE delivery_jobs
		SET status = 'FAILED', attempts = $2, last_error = $3, updated_at = now()
		WHERE job_id = $1
	`, jobID, attemptNo, lastErr)
	if err != nil {
		return fmt.Errorf("update job failed: %w", err)
	}
	return nil
}
