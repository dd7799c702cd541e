package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/broker"
	"pulse/internal/domain"
	"pulse/internal/ratelimit"
)

type fakeRegistry struct {
	entry        domain.DeviceRegistryEntry
	found        bool
	provisioned  domain.DeviceRegistryEntry
	fetchCalls   int
	provisionErr error
}

func (f *fakeRegistry) FetchDeviceRegistry(ctx context.Context, tenantID, deviceID string) (domain.DeviceRegistryEntry, bool, error) {
	f.fetchCalls++
	return f.entry, f.found, nil
}

func (f *fakeRegistry) AutoProvisionDevice(ctx context.Context, tenantID, deviceID, siteID string) (domain.DeviceRegistryEntry, error) {
	if f.provisionErr != nil {
		return domain.DeviceRegistryEntry{}, f.provisionErr
	}
	return f.provisioned, nil
}

func mustFrame(t *testing.T, frame rawFrame) []byte {
	t.Helper()
	b, err := json.Marshal(frame)
	require.NoError(t, err)
	return b
}

func TestValidateAcceptsWellFormedFrame(t *testing.T) {
	registry := &fakeRegistry{found: true, entry: domain.DeviceRegistryEntry{
		TenantID: "t1", DeviceID: "d1", SiteID: "site-a", Status: domain.DeviceActive,
	}}
	v := &Validator{Registry: registry}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}
	raw := mustFrame(t, rawFrame{SiteID: "site-a", Metrics: map[string]float64{"cpu": 42}})

	rec, err := v.Validate(context.Background(), topic, raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.TenantID)
	assert.Equal(t, "d1", rec.DeviceID)
	assert.Equal(t, float64(42), rec.Metrics["cpu"])
}

func TestValidateRejectsOversizedPayload(t *testing.T) {
	v := &Validator{MaxPayloadBytes: 4}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}

	_, err := v.Validate(context.Background(), topic, []byte(`{"big":true}`), time.Now())
	rej, ok := err.(Rejection)
	require.True(t, ok)
	assert.Equal(t, ReasonPayloadTooLarge, rej.Reason)
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	v := &Validator{}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}

	_, err := v.Validate(context.Background(), topic, []byte(`not json`), time.Now())
	rej, ok := err.(Rejection)
	require.True(t, ok)
	assert.Equal(t, ReasonParseError, rej.Reason)
}

func TestValidateRejectsTenantMismatch(t *testing.T) {
	v := &Validator{}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}
	raw := mustFrame(t, rawFrame{TenantID: "other", SiteID: "site-a"})

	_, err := v.Validate(context.Background(), topic, raw, time.Now())
	rej, ok := err.(Rejection)
	require.True(t, ok)
	assert.Equal(t, ReasonTenantMismatch, rej.Reason)
}

func TestValidateRejectsMissingSiteID(t *testing.T) {
	v := &Validator{}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}
	raw := mustFrame(t, rawFrame{})

	_, err := v.Validate(context.Background(), topic, raw, time.Now())
	rej, ok := err.(Rejection)
	require.True(t, ok)
	assert.Equal(t, ReasonMissingSiteID, rej.Reason)
}

func TestValidateRejectsTooManyMetrics(t *testing.T) {
	v := &Validator{}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}
	metrics := make(map[string]float64, maxMetricKeys+1)
	for i := 0; i < maxMetricKeys+1; i++ {
		metrics[string(rune('a'+i))] = float64(i)
	}
	raw := mustFrame(t, rawFrame{SiteID: "site-a", Metrics: metrics})

	_, err := v.Validate(context.Background(), topic, raw, time.Now())
	rej, ok := err.(Rejection)
	require.True(t, ok)
	assert.Equal(t, ReasonTooManyMetrics, rej.Reason)
}

func TestValidateRejectsUnregisteredDeviceWithoutAutoProvision(t *testing.T) {
	registry := &fakeRegistry{found: false}
	v := &Validator{Registry: registry}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}
	raw := mustFrame(t, rawFrame{SiteID: "site-a"})

	_, err := v.Validate(context.Background(), topic, raw, time.Now())
	rej, ok := err.(Rejection)
	require.True(t, ok)
	assert.Equal(t, ReasonUnregisteredDevice, rej.Reason)
}

func TestValidateAutoProvisionsUnknownDevice(t *testing.T) {
	registry := &fakeRegistry{found: false, provisioned: domain.DeviceRegistryEntry{
		TenantID: "t1", DeviceID: "d1", SiteID: "site-a", Status: domain.DeviceActive,
	}}
	v := &Validator{Registry: registry, AutoProvision: true}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}
	raw := mustFrame(t, rawFrame{SiteID: "site-a"})

	_, err := v.Validate(context.Background(), topic, raw, time.Now())
	assert.NoError(t, err)
}

func TestValidateRejectsRevokedDevice(t *testing.T) {
	registry := &fakeRegistry{found: true, entry: domain.DeviceRegistryEntry{
		TenantID: "t1", DeviceID: "d1", SiteID: "site-a", Status: domain.DeviceRevoked,
	}}
	v := &Validator{Registry: registry}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}
	raw := mustFrame(t, rawFrame{SiteID: "site-a"})

	_, err := v.Validate(context.Background(), topic, raw, time.Now())
	rej, ok := err.(Rejection)
	require.True(t, ok)
	assert.Equal(t, ReasonDeviceRevoked, rej.Reason)
}

func TestValidateRejectsSiteMismatch(t *testing.T) {
	registry := &fakeRegistry{found: true, entry: domain.DeviceRegistryEntry{
		TenantID: "t1", DeviceID: "d1", SiteID: "site-a", Status: domain.DeviceActive,
	}}
	v := &Validator{Registry: registry}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}
	raw := mustFrame(t, rawFrame{SiteID: "site-b"})

	_, err := v.Validate(context.Background(), topic, raw, time.Now())
	rej, ok := err.(Rejection)
	require.True(t, ok)
	assert.Equal(t, ReasonSiteMismatch, rej.Reason)
}

func TestValidateEnforcesProvisionToken(t *testing.T) {
	registry := &fakeRegistry{found: true, entry: domain.DeviceRegistryEntry{
		TenantID: "t1", DeviceID: "d1", SiteID: "site-a", Status: domain.DeviceActive,
		ProvisionTokenHash: "deadbeef",
	}}
	v := &Validator{Registry: registry, RequireToken: true}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}
	raw := mustFrame(t, rawFrame{SiteID: "site-a"})

	_, err := v.Validate(context.Background(), topic, raw, time.Now())
	rej, ok := err.(Rejection)
	require.True(t, ok)
	assert.Equal(t, ReasonTokenMissing, rej.Reason)
}

func TestValidateRejectsRateLimitedDevice(t *testing.T) {
	registry := &fakeRegistry{found: true, entry: domain.DeviceRegistryEntry{
		TenantID: "t1", DeviceID: "d1", SiteID: "site-a", Status: domain.DeviceActive,
	}}
	limiter := ratelimit.NewLimiter(0, 0) // capacity floors to 1 token; no time passes, so no refill
	now := time.Now()
	require.True(t, limiter.Allow(now, "t1", "d1")) // consume the only token

	v := &Validator{Registry: registry, Limiter: limiter}
	topic := broker.Topic{TenantID: "t1", DeviceID: "d1", MsgType: "telemetry"}
	raw := mustFrame(t, rawFrame{SiteID: "site-a"})

	_, err := v.Validate(context.Background(), topic, raw, now)
	rej, ok := err.(Rejection)
	require.True(t, ok)
	assert.Equal(t, ReasonRateLimited, rej.Reason)
}
