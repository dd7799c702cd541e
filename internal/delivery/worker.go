package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/eclipse/paho.golang/autopaho"

	"pulse/internal/audit"
	"pulse/internal/domain"
)

// Store is everything the delivery worker reads and writes.
type Store interface {
	RequeueStuckJobs(ctx context.Context, stuckMinutes int) (int64, error)
	FetchAndLeaseJobs(ctx context.Context, batchSize int) ([]domain.DeliveryJob, error)
	FetchIntegration(ctx context.Context, tenantID, integrationID string) (domain.Integration, bool, error)
	RecordDeliveryAttempt(ctx context.Context, a domain.DeliveryAttempt) error
	UpdateJobSuccess(ctx context.Context, jobID int64, attemptNo int) error
	UpdateJobRetry(ctx context.Context, jobID int64, attemptNo int, delaySeconds int, lastErr string) error
	UpdateJobFailed(ctx context.Context, jobID int64, attemptNo int, lastErr string) error
}

// Worker leases and executes delivery jobs, following worker.py's
// run_worker/process_job shape: requeue stuck jobs, lease a batch, process
// each job's single attempt, record it, and transition status.
type Worker struct {
	Store              Store
	Logger             *slog.Logger
	Audit              audit.Log // optional; nil means events are dropped
	HTTPClient         *http.Client
	MQTT               *autopaho.ConnectionManager
	ProdMode           bool
	PollInterval       time.Duration
	BatchSize          int
	MaxAttempts        int
	BackoffBaseSeconds int
	BackoffMaxSeconds  int
	StuckJobMinutes    int
}

// New constructs a Worker with sane defaults; MQTT may be nil if no
// integration of that type is configured for the deployment.
func New(s Store, logger *slog.Logger, timeout time.Duration) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		Store:              s,
		Logger:             logger,
		HTTPClient:         &http.Client{Timeout: timeout},
		PollInterval:       5 * time.Second,
		BatchSize:          50,
		MaxAttempts:        6,
		BackoffBaseSeconds: 30,
		BackoffMaxSeconds:  7200,
		StuckJobMinutes:    5,
	}
}

// Run polls for work until ctx is cancelled, sleeping PollInterval between
// empty batches — grounded on worker.py's run_worker loop.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if stuck, err := w.Store.RequeueStuckJobs(ctx, w.StuckJobMinutes); err != nil {
			w.Logger.Error("requeue stuck jobs failed", "error", err)
		} else if stuck > 0 {
			w.Logger.Info("requeued stuck jobs", "count", stuck)
		}

		jobs, err := w.Store.FetchAndLeaseJobs(ctx, w.BatchSize)
		if err != nil {
			w.Logger.Error("lease jobs failed", "error", err)
			w.sleep(ctx)
			continue
		}
		if len(jobs) == 0 {
			w.sleep(ctx)
			continue
		}

		for _, job := range jobs {
			w.processJob(ctx, job)
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.PollInterval):
	}
}

// processJob executes exactly one delivery attempt, records it, and moves
// the job to COMPLETED, PENDING (retry), or FAILED.
func (w *Worker) processJob(ctx context.Context, job domain.DeliveryJob) {
	attemptNo := job.Attempts + 1
	startedAt := time.Now()

	result := w.deliver(ctx, job)

	finishedAt := time.Now()
	attempt := domain.DeliveryAttempt{
		JobID:      job.JobID,
		AttemptNo:  attemptNo,
		OK:         result.OK,
		HTTPStatus: result.HTTPStatus,
		LatencyMS:  finishedAt.Sub(startedAt).Milliseconds(),
		Error:      result.Error,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	if err := w.Store.RecordDeliveryAttempt(ctx, attempt); err != nil {
		w.Logger.Error("record delivery attempt failed", "job_id", job.JobID, "error", err)
	}

	if result.OK {
		if err := w.Store.UpdateJobSuccess(ctx, job.JobID, attemptNo); err != nil {
			w.Logger.Error("update job success failed", "job_id", job.JobID, "error", err)
		}
		w.publish(ctx, job, "DELIVERED", "")
		return
	}

	lastErr := result.Error
	if lastErr == "" {
		lastErr = "failed"
	}

	if attemptNo >= w.MaxAttempts {
		if err := w.Store.UpdateJobFailed(ctx, job.JobID, attemptNo, lastErr); err != nil {
			w.Logger.Error("update job failed failed", "job_id", job.JobID, "error", err)
		}
		w.publish(ctx, job, "FAILED", lastErr)
		return
	}

	delay := BackoffSeconds(attemptNo, w.BackoffBaseSeconds, w.BackoffMaxSeconds)
	if err := w.Store.UpdateJobRetry(ctx, job.JobID, attemptNo, delay, lastErr); err != nil {
		w.Logger.Error("update job retry failed", "job_id", job.JobID, "error", err)
	}
}

func (w *Worker) publish(ctx context.Context, job domain.DeliveryJob, outcome, lastErr string) {
	if w.Audit == nil {
		return
	}
	fields := map[string]any{"job_id": job.JobID, "integration_id": job.IntegrationID}
	if lastErr != "" {
		fields["error"] = lastErr
	}
	if err := w.Audit.PublishCtx(ctx, audit.Event{
		Category: audit.CategoryDelivery, Type: outcome, TenantID: job.TenantID, Fields: fields,
	}); err != nil {
		w.Logger.Warn("audit publish failed", "error", err)
	}
}

func (w *Worker) deliver(ctx context.Context, job domain.DeliveryJob) deliveryResult {
	integ, ok, err := w.Store.FetchIntegration(ctx, job.TenantID, job.IntegrationID)
	if err != nil {
		return deliveryResult{Error: fmt.Sprintf("integration_lookup_error:%s", err.Error())}
	}
	if !ok {
		return deliveryResult{Error: "integration_not_found"}
	}
	if !integ.Enabled {
		return deliveryResult{Error: "integration_disabled"}
	}

	switch integ.Type {
	case domain.IntegrationSNMP:
		return deliverSNMP(ctx, w.ProdMode, integ, job.Payload)
	case domain.IntegrationEmail:
		return deliverEmail(ctx, w.ProdMode, integ, job.Payload)
	case domain.IntegrationMQTT:
		return deliverMQTT(ctx, w.MQTT, integ, job.Payload)
	default:
		return deliverWebhook(ctx, w.HTTPClient, w.ProdMode, integ, job.Payload)
	}
}
