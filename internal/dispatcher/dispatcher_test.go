package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/audit"
	"pulse/internal/domain"
	"pulse/internal/store"
)

type fakeDispatchStore struct {
	openAlerts      []domain.FleetAlert
	escalated       []domain.FleetAlert
	routes          map[string][]store.RouteWithIntegration
	completedSince  bool
	createdJobs     []domain.DeliveryJob
}

func (f *fakeDispatchStore) FetchOpenAlerts(ctx context.Context, lookbackMinutes, limit int) ([]domain.FleetAlert, error) {
	return f.openAlerts, nil
}

func (f *fakeDispatchStore) FetchRecentlyEscalatedAlerts(ctx context.Context) ([]domain.FleetAlert, error) {
	return f.escalated, nil
}

func (f *fakeDispatchStore) FetchRoutes(ctx context.Context, tenantID string, routeLimit int) ([]store.RouteWithIntegration, error) {
	return f.routes[tenantID], nil
}

func (f *fakeDispatchStore) HasCompletedJobSince(ctx context.Context, tenantID string, alertID int64, routeID string, sinceAt any) (bool, error) {
	return f.completedSince, nil
}

func (f *fakeDispatchStore) CreateDeliveryJob(ctx context.Context, j domain.DeliveryJob) (bool, error) {
	f.createdJobs = append(f.createdJobs, j)
	return true, nil
}

func matchAllRoute(routeID, integrationID string) store.RouteWithIntegration {
	return store.RouteWithIntegration{
		Route: domain.IntegrationRoute{
			RouteID: routeID, IntegrationID: integrationID, Enabled: true,
			DeliverOn: []domain.DeliverOn{domain.DeliverOnOpen},
		},
		Integration: domain.Integration{IntegrationID: integrationID, Enabled: true},
	}
}

func TestRunOnceCreatesJobAndPublishesAuditEvent(t *testing.T) {
	s := &fakeDispatchStore{
		openAlerts: []domain.FleetAlert{{ID: 1, TenantID: "t1", AlertType: domain.AlertThreshold}},
		routes:     map[string][]store.RouteWithIntegration{"t1": {matchAllRoute("r1", "i1")}},
	}
	eventLog := audit.New(nil)
	sub, err := eventLog.Subscribe(8)
	require.NoError(t, err)
	defer sub.Close()

	d := New(s, nil)
	d.Audit = eventLog
	d.RunOnce(context.Background())

	require.Len(t, s.createdJobs, 1)
	select {
	case ev := <-sub.C():
		assert.Equal(t, audit.CategoryDelivery, ev.Category)
		assert.Equal(t, "OPEN", ev.Type)
		assert.Equal(t, 1, ev.Fields["jobs_created"])
	case <-time.After(time.Second):
		t.Fatal("expected an audit event")
	}
}

func TestRunOnceSkipsAuditWhenNoJobsCreated(t *testing.T) {
	s := &fakeDispatchStore{}
	eventLog := audit.New(nil)
	sub, err := eventLog.Subscribe(8)
	require.NoError(t, err)
	defer sub.Close()

	d := New(s, nil)
	d.Audit = eventLog
	d.RunOnce(context.Background())

	select {
	case ev := <-sub.C():
		t.Fatalf("expected no audit event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunOnceToleratesNilAudit(t *testing.T) {
	s := &fakeDispatchStore{
		openAlerts: []domain.FleetAlert{{ID: 1, TenantID: "t1", AlertType: domain.AlertThreshold}},
		routes:     map[string][]store.RouteWithIntegration{"t1": {matchAllRoute("r1", "i1")}},
	}
	d := New(s, nil)
	assert.NotPanics(t, func() { d.RunOnce(context.Background()) })
}
