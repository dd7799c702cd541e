// Package domain holds the shared entity types that flow between Pulse's
// four services and the store. Nothing here talks to Postgres or MQTT
// directly; it is the vocabulary every other package shares.
package domain

import "time"

// DeviceStatus is the lifecycle state of a registry entry.
type DeviceStatus string

const (
	DeviceActive  DeviceStatus = "ACTIVE"
	DeviceRevoked DeviceStatus = "REVOKED"
	DeviceDeleted DeviceStatus = "DELETED"
)

// DeviceRegistryEntry authorizes a device to publish telemetry for a tenant.
type DeviceRegistryEntry struct {
	TenantID           string
	DeviceID           string
	SiteID             string
	Status             DeviceStatus
	ProvisionTokenHash string // sha256 hex, empty means token enforcement not set
	Metadata           map[string]any
}

// MsgType distinguishes telemetry from heartbeat frames.
type MsgType string

const (
	MsgTelemetry MsgType = "telemetry"
	MsgHeartbeat MsgType = "heartbeat"
)

// TelemetryRecord is one accepted, validated ingest row.
type TelemetryRecord struct {
	Time     time.Time
	TenantID string
	DeviceID string
	SiteID   string
	MsgType  MsgType
	Seq      int64
	Metrics  map[string]float64
}

// DeviceLiveness is the evaluator's computed online/stale/offline status.
type DeviceLiveness string

const (
	DeviceOnline  DeviceLiveness = "ONLINE"
	DeviceStale   DeviceLiveness = "STALE"
	DeviceOffline DeviceLiveness = "OFFLINE"
)

// DeviceState is the evaluator's durable view of one device.
type DeviceState struct {
	TenantID         string
	DeviceID         string
	Status           DeviceLiveness
	LastHeartbeatAt  *time.Time
	LastTelemetryAt  *time.Time
	LastSeenAt       *time.Time
	LastStateChangeAt *time.Time
	LatestMetrics    map[string]float64
	DesiredState     map[string]any
	ReportedState    map[string]any
	DesiredVersion   int64
	ReportedVersion  int64
	ShadowUpdatedAt  *time.Time
}

// AlertOperator is a threshold comparison operator.
type AlertOperator string

const (
	OpGT  AlertOperator = "GT"
	OpGTE AlertOperator = "GTE"
	OpLT  AlertOperator = "LT"
	OpLTE AlertOperator = "LTE"
	OpEQ  AlertOperator = "EQ"
	OpNE  AlertOperator = "NE"
)

// Compare applies the operator to (value, threshold).
func (o AlertOperator) Compare(value, threshold float64) bool {
	switch o {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpNE:
		return value != threshold
	default:
		return false
	}
}

// MatchMode controls how multi-condition threshold rules combine.
type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// Aggregation is a window rule's aggregation function.
type Aggregation string

const (
	AggAvg   Aggregation = "avg"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
)

// RuleType selects which evaluator dispatches on a rule.
type RuleType string

const (
	RuleThreshold    RuleType = "threshold"
	RuleWindow       RuleType = "window"
	RuleAnomaly      RuleType = "anomaly"
	RuleTelemetryGap RuleType = "telemetry_gap"
)

// AlertRule is a tenant-defined detection rule. Conditions/aggregation
// fields are only meaningful for the matching RuleType (see RuleSpec in
// rules.go for the typed-by-kind view used during evaluation).
type AlertRule struct {
	RuleID            string
	TenantID          string
	RuleType          RuleType
	Enabled           bool
	MetricName        string
	Operator          AlertOperator
	Threshold         float64
	Severity          int
	SiteIDs           []string
	GroupIDs          []string
	Conditions        []ThresholdCondition
	MatchMode         MatchMode
	DurationSeconds   int
	Aggregation       Aggregation
	WindowSeconds     int
	EscalationMinutes int
	// anomaly-specific
	WindowMinutes int
	MinSamples    int
	ZThreshold    float64
	// telemetry_gap-specific
	GapMinutes int
}

// ThresholdCondition is one clause of a multi-condition threshold rule.
type ThresholdCondition struct {
	Metric          string
	Operator        AlertOperator
	Threshold       float64
	DurationMinutes int // 0 means "use rule-level DurationSeconds"
}

// AlertStatus is a fleet alert's lifecycle state.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "OPEN"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertClosed       AlertStatus = "CLOSED"
)

// AlertType classifies what produced a fleet alert.
type AlertType string

const (
	AlertNoHeartbeat AlertType = "NO_HEARTBEAT"
	AlertThreshold   AlertType = "THRESHOLD"
	AlertWindow      AlertType = "WINDOW"
	AlertAnomaly     AlertType = "ANOMALY"
	AlertNoTelemetry AlertType = "NO_TELEMETRY"
)

// FleetAlert is one alert instance. At most one row with Status in
// {OPEN, ACKNOWLEDGED} may exist per (TenantID, Fingerprint) — enforced by
// a partial unique index at the store layer.
type FleetAlert struct {
	ID              int64
	TenantID        string
	SiteID          string
	DeviceID        string
	AlertType       AlertType
	Fingerprint     string
	Status          AlertStatus
	Severity        int
	Confidence      float64
	Summary         string
	Details         map[string]any
	RuleID          string // empty for NO_HEARTBEAT/NO_TELEMETRY
	TriggerCount    int
	CreatedAt       time.Time
	ClosedAt        *time.Time
	SilencedUntil   *time.Time
	AcknowledgedBy  string
	AcknowledgedAt  *time.Time
	EscalationLevel int
	EscalatedAt     *time.Time
}

// HeartbeatFingerprint builds the deterministic fingerprint for a
// heartbeat-liveness alert.
func HeartbeatFingerprint(deviceID string) string {
	return "NO_HEARTBEAT:" + deviceID
}

// RuleFingerprint builds the deterministic fingerprint for a rule-fired alert.
func RuleFingerprint(ruleID, deviceID string) string {
	return "RULE:" + ruleID + ":" + deviceID
}

// IntegrationType names a delivery transport.
type IntegrationType string

const (
	IntegrationWebhook IntegrationType = "webhook"
	IntegrationSNMP    IntegrationType = "snmp"
	IntegrationEmail   IntegrationType = "email"
	IntegrationMQTT    IntegrationType = "mqtt"
)

// Integration is a tenant-configured external sink.
type Integration struct {
	IntegrationID string
	TenantID      string
	Type          IntegrationType
	Enabled       bool
	Config        map[string]any // raw JSON column; typed via IntegrationSpec at use
}

// DeliverOn names which alert lifecycle event triggers delivery.
type DeliverOn string

const (
	DeliverOnOpen   DeliverOn = "OPEN"
	DeliverOnClosed DeliverOn = "CLOSED"
)

// IntegrationRoute filters which alerts reach which integration.
type IntegrationRoute struct {
	RouteID        string
	TenantID       string
	IntegrationID  string
	Priority       int
	Enabled        bool
	MinSeverity    *int
	AlertTypes     []AlertType
	SiteIDs        []string
	DevicePrefixes []string
	DeliverOn      []DeliverOn
	CreatedAt      time.Time
}

// JobStatus is a delivery job's lifecycle state.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// DeliveryJob is one leased unit of delivery work. At most one row may
// exist per (TenantID, AlertID, RouteID, DeliverOnEvent) — enforced by a
// unique index at the store layer.
type DeliveryJob struct {
	JobID          int64
	TenantID       string
	AlertID        int64
	IntegrationID  string
	RouteID        string
	DeliverOnEvent DeliverOn
	Status         JobStatus
	Attempts       int
	NextRunAt      time.Time
	LastError      string
	Payload        map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeliveryAttempt is an immutable log row of one delivery try.
type DeliveryAttempt struct {
	JobID      int64
	AttemptNo  int
	OK         bool
	HTTPStatus *int
	LatencyMS  int64
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// MaintenanceWindow suppresses new alert openings for a tenant.
type MaintenanceWindow struct {
	WindowID    string
	TenantID    string
	Enabled     bool
	StartsAt    time.Time
	EndsAt      *time.Time
	Recurring   bool
	DaysOfWeek  []time.Weekday // only when Recurring
	StartHour   int            // 0-23, only when Recurring
	EndHour     int            // 0-23, only when Recurring
	SiteIDs     []string
	DeviceTypes []string
}

// AlertDigestSettings controls periodic alert-summary delivery (not on the
// core forward path; reserved for the digest maintenance task).
type AlertDigestSettings struct {
	TenantID       string
	Enabled        bool
	IntervalHours  int
	LastSentAt     *time.Time
	MinSeverity    *int
}

// MetricMapping is a raw→normalized linear transform applied before rule
// evaluation: normalized = raw*Multiplier + Offset.
type MetricMapping struct {
	TenantID     string
	RawName      string
	NormalizedTo string
	Multiplier   float64
	Offset       float64
}

// Settings is the subset of app_settings polled by every service.
type Settings struct {
	Mode                 Mode
	StoreRejects         bool
	MirrorRejectsToRaw   bool
	MaxPayloadBytes      int
	RateLimitRPS         float64
	RateLimitBurst       float64
}

// Mode is the PROD/DEV runtime mode; PROD forces stricter storage and
// SSRF/scheme policy everywhere it is consulted.
type Mode string

const (
	ModeProd Mode = "PROD"
	ModeDev  Mode = "DEV"
)
