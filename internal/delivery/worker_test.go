package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/audit"
	"pulse/internal/domain"
)

type fakeDeliveryStore struct {
	integ           domain.Integration
	integFound      bool
	attempts        []domain.DeliveryAttempt
	succeeded       []int64
	retried         []int64
	failed          []int64
}

func (f *fakeDeliveryStore) RequeueStuckJobs(ctx context.Context, stuckMinutes int) (int64, error) {
	return 0, nil
}

func (f *fakeDeliveryStore) FetchAndLeaseJobs(ctx context.Context, batchSize int) ([]domain.DeliveryJob, error) {
	return nil, nil
}

func (f *fakeDeliveryStore) FetchIntegration(ctx context.Context, tenantID, integrationID string) (domain.Integration, bool, error) {
	return f.integ, f.integFound, nil
}

func (f *fakeDeliveryStore) RecordDeliveryAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	f.attempts = append(f.attempts, a)
	return nil
}

func (f *fakeDeliveryStore) UpdateJobSuccess(ctx context.Context, jobID int64, attemptNo int) error {
	f.succeeded = append(f.succeeded, jobID)
	return nil
}

func (f *fakeDeliveryStore) UpdateJobRetry(ctx context.Context, jobID int64, attemptNo int, delaySeconds int, lastErr string) error {
	f.retried = append(f.retried, jobID)
	return nil
}

func (f *fakeDeliveryStore) UpdateJobFailed(ctx context.Context, jobID int64, attemptNo int, lastErr string) error {
	f.failed = append(f.failed, jobID)
	return nil
}

func TestProcessJobDeliversWebhookSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := &fakeDeliveryStore{
		integFound: true,
		integ: domain.Integration{
			IntegrationID: "i1", Type: domain.IntegrationWebhook, Enabled: true,
			Config: map[string]any{"url": srv.URL},
		},
	}
	w := New(s, nil, 0)
	job := domain.DeliveryJob{JobID: 1, TenantID: "t1", IntegrationID: "i1"}

	w.processJob(context.Background(), job)

	require.Len(t, s.attempts, 1)
	assert.True(t, s.attempts[0].OK)
	assert.Equal(t, []int64{1}, s.succeeded)
}

func TestProcessJobRetriesOnFailureBelowMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := &fakeDeliveryStore{
		integFound: true,
		integ: domain.Integration{
			IntegrationID: "i1", Type: domain.IntegrationWebhook, Enabled: true,
			Config: map[string]any{"url": srv.URL},
		},
	}
	w := New(s, nil, 0)
	w.MaxAttempts = 6
	job := domain.DeliveryJob{JobID: 1, TenantID: "t1", IntegrationID: "i1", Attempts: 0}

	w.processJob(context.Background(), job)

	require.Len(t, s.attempts, 1)
	assert.False(t, s.attempts[0].OK)
	assert.Equal(t, []int64{1}, s.retried)
	assert.Empty(t, s.failed)
}

func TestProcessJobFailsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := &fakeDeliveryStore{
		integFound: true,
		integ: domain.Integration{
			IntegrationID: "i1", Type: domain.IntegrationWebhook, Enabled: true,
			Config: map[string]any{"url": srv.URL},
		},
	}
	w := New(s, nil, 0)
	w.MaxAttempts = 3
	job := domain.DeliveryJob{JobID: 1, TenantID: "t1", IntegrationID: "i1", Attempts: 2}

	w.processJob(context.Background(), job)

	require.Len(t, s.attempts, 1)
	assert.Equal(t, []int64{1}, s.failed)
	assert.Empty(t, s.retried)
}

func TestProcessJobPublishesAuditOnOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := &fakeDeliveryStore{
		integFound: true,
		integ: domain.Integration{
			IntegrationID: "i1", Type: domain.IntegrationWebhook, Enabled: true,
			Config: map[string]any{"url": srv.URL},
		},
	}
	eventLog := audit.New(nil)
	sub, err := eventLog.Subscribe(4)
	require.NoError(t, err)
	defer sub.Close()

	w := New(s, nil, 0)
	w.Audit = eventLog
	job := domain.DeliveryJob{JobID: 1, TenantID: "t1", IntegrationID: "i1"}
	w.processJob(context.Background(), job)

	ev := <-sub.C()
	assert.Equal(t, audit.CategoryDelivery, ev.Category)
	assert.Equal(t, "DELIVERED", ev.Type)
}

func TestDeliverReportsMissingIntegration(t *testing.T) {
	s := &fakeDeliveryStore{integFound: false}
	w := New(s, nil, 0)
	result := w.deliver(context.Background(), domain.DeliveryJob{TenantID: "t1", IntegrationID: "missing"})
	assert.Equal(t, "integration_not_found", result.Error)
}

func TestDeliverReportsDisabledIntegration(t *testing.T) {
	s := &fakeDeliveryStore{integFound: true, integ: domain.Integration{IntegrationID: "i1", Enabled: false}}
	w := New(s, nil, 0)
	result := w.deliver(context.Background(), domain.DeliveryJob{TenantID: "t1", IntegrationID: "i1"})
	assert.Equal(t, "integration_disabled", result.Error)
}
