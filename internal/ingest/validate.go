package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
	"unicode"

	"pulse/internal/authcache"
	"pulse/internal/broker"
	"pulse/internal/domain"
	"pulse/internal/ratelimit"
)

const (
	maxMetricKeys     = 50
	maxMetricKeyBytes = 128
	supportedEnvelope = "1"
)

// rawFrame mirrors the wire envelope documented in spec.md §6.
type rawFrame struct {
	TS              string             `json:"ts"`
	TenantID        string             `json:"tenant_id"`
	SiteID          string             `json:"site_id"`
	Seq             int64              `json:"seq"`
	ProvisionToken  string             `json:"provision_token"`
	Metrics         map[string]float64 `json:"metrics"`
	Version         string             `json:"version"`
}

// RegistrySource resolves device authorization rows on a cache miss and
// optionally auto-provisions unknown devices.
type RegistrySource interface {
	FetchDeviceRegistry(ctx context.Context, tenantID, deviceID string) (domain.DeviceRegistryEntry, bool, error)
	AutoProvisionDevice(ctx context.Context, tenantID, deviceID, siteID string) (domain.DeviceRegistryEntry, error)
}

// Validator runs the full per-message pipeline (spec.md §4.1).
type Validator struct {
	Cache          *authcache.Cache
	Limiter        *ratelimit.Limiter
	Registry       RegistrySource
	RequireToken   bool
	AutoProvision  bool
	MaxPayloadBytes int
}

// Validate applies the eight-step pipeline to one broker message, returning
// a constructed TelemetryRecord on success or a Rejection error otherwise.
func (v *Validator) Validate(ctx context.Context, topic broker.Topic, raw []byte, now time.Time) (domain.TelemetryRecord, error) {
	if v.MaxPayloadBytes > 0 && len(raw) > v.MaxPayloadBytes {
		return domain.TelemetryRecord{}, Rejection{Reason: ReasonPayloadTooLarge, TenantID: topic.TenantID, DeviceID: topic.DeviceID, Raw: raw}
	}

	var frame rawFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return domain.TelemetryRecord{}, Rejection{Reason: ReasonParseError, TenantID: topic.TenantID, DeviceID: topic.DeviceID, Raw: raw}
	}

	if frame.Version != "" && frame.Version != supportedEnvelope {
		return domain.TelemetryRecord{}, Rejection{Reason: ReasonUnsupportedEnvelopeVersion, TenantID: topic.TenantID, DeviceID: topic.DeviceID, Raw: raw}
	}

	if err := validateMetrics(frame.Metrics); err != nil {
		return domain.TelemetryRecord{}, Rejection{Reason: err.(Rejection).Reason, TenantID: topic.TenantID, DeviceID: topic.DeviceID, Raw: raw}
	}

	if frame.TenantID != "" && frame.TenantID != topic.TenantID {
		return domain.TelemetryRecord{}, Rejection{Reason: ReasonTenantMismatch, TenantID: topic.TenantID, DeviceID: topic.DeviceID, Raw: raw}
	}

	if frame.SiteID == "" {
		return domain.TelemetryRecord{}, Rejection{Reason: ReasonMissingSiteID, TenantID: topic.TenantID, DeviceID: topic.DeviceID, Raw: raw}
	}

	if v.Limiter != nil && !v.Limiter.Allow(now, topic.TenantID, topic.DeviceID) {
		return domain.TelemetryRecord{}, Rejection{Reason: ReasonRateLimited, TenantID: topic.TenantID, DeviceID: topic.DeviceID, Raw: raw}
	}

	entry, err := v.authorize(ctx, topic.TenantID, topic.DeviceID, frame.SiteID, now)
	if err != nil {
		return domain.TelemetryRecord{}, err
	}

	if v.RequireToken {
		if entry.ProvisionTokenHash == "" {
			return domain.TelemetryRecord{}, Rejection{Reason: ReasonTokenNotSetInRegistry, TenantID: topic.TenantID, DeviceID: topic.DeviceID, Raw: raw}
		}
		if frame.ProvisionToken == "" {
			return domain.TelemetryRecord{}, Rejection{Reason: ReasonTokenMissing, TenantID: topic.TenantID, DeviceID: topic.DeviceID, Raw: raw}
		}
		sum := sha256.Sum256([]byte(frame.ProvisionToken))
		if hex.EncodeToString(sum[:]) != entry.ProvisionTokenHash {
			return domain.TelemetryRecord{}, Rejection{Reason: ReasonTokenInvalid, TenantID: topic.TenantID, DeviceID: topic.DeviceID, Raw: raw}
		}
	}

	ts := now
	if frame.TS != "" {
		if parsed, err := time.Parse(time.RFC3339, frame.TS); err == nil {
			ts = parsed.UTC()
		}
	}

	return domain.TelemetryRecord{
		Time:     ts,
		TenantID: topic.TenantID,
		DeviceID: topic.DeviceID,
		SiteID:   frame.SiteID,
		MsgType:  domain.MsgType(topic.MsgType),
		Seq:      frame.Seq,
		Metrics:  frame.Metrics,
	}, nil
}

func (v *Validator) authorize(ctx context.Context, tenantID, deviceID, payloadSiteID string, now time.Time) (domain.DeviceRegistryEntry, error) {
	mkReject := func(reason RejectReason) error {
		return Rejection{Reason: reason, TenantID: tenantID, DeviceID: deviceID}
	}

	if v.Cache != nil {
		if entry, ok := v.Cache.Get(now, tenantID, deviceID); ok {
			return checkAuthorized(entry, payloadSiteID, mkReject)
		}
	}

	entry, found, err := v.Registry.FetchDeviceRegistry(ctx, tenantID, deviceID)
	if err != nil {
		return domain.DeviceRegistryEntry{}, err
	}
	if !found {
		if v.AutoProvision {
			entry, err = v.Registry.AutoProvisionDevice(ctx, tenantID, deviceID, payloadSiteID)
			if err != nil {
				return domain.DeviceRegistryEntry{}, err
			}
			if v.Cache != nil {
				v.Cache.Put(now, entry)
			}
			return entry, nil
		}
		return domain.DeviceRegistryEntry{}, mkReject(ReasonUnregisteredDevice)
	}

	if v.Cache != nil {
		v.Cache.Put(now, entry)
	}
	return checkAuthorized(entry, payloadSiteID, mkReject)
}

func checkAuthorized(entry domain.DeviceRegistryEntry, payloadSiteID string, mkReject func(RejectReason) error) (domain.DeviceRegistryEntry, error) {
	if entry.Status != domain.DeviceActive {
		return domain.DeviceRegistryEntry{}, mkReject(ReasonDeviceRevoked)
	}
	if payloadSiteID != entry.SiteID {
		return domain.DeviceRegistryEntry{}, mkReject(ReasonSiteMismatch)
	}
	return entry, nil
}

func validateMetrics(metrics map[string]float64) error {
	if len(metrics) > maxMetricKeys {
		return Rejection{Reason: ReasonTooManyMetrics}
	}
	for k := range metrics {
		if len(k) > maxMetricKeyBytes {
			return Rejection{Reason: ReasonMetricKeyTooLong}
		}
		for _, r := range k {
			if unicode.IsControl(r) {
				return Rejection{Reason: ReasonMetricKeyInvalid}
			}
		}
	}
	return nil
}
