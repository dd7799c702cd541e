// Package config loads Pulse's environment-variable configuration. It
// mirrors the original services' os.getenv(...) conventions one for one
// rather than introducing a flag/file layer the source never had.
package config

import (
	"os"
	"strconv"
	"time"
)

// Common fields every service recognizes (spec.md §6).
type Common struct {
	DatabaseURL       string
	NotifyDatabaseURL string // falls back to DatabaseURL when unset
	Mode              string // PROD | DEV
	FallbackPoll      time.Duration
	Debounce          time.Duration
}

func loadCommon() Common {
	dbURL := getenv("DATABASE_URL", "")
	notifyURL := getenv("NOTIFY_DATABASE_URL", dbURL)
	return Common{
		DatabaseURL:       dbURL,
		NotifyDatabaseURL: notifyURL,
		Mode:              getenv("MODE", "DEV"),
		FallbackPoll:      getSeconds("FALLBACK_POLL_SECONDS", 30),
		Debounce:          getSeconds("DEBOUNCE_SECONDS", 2),
	}
}

// IsProd reports whether the service is running in PROD mode.
func (c Common) IsProd() bool { return c.Mode == "PROD" }

// Ingest holds ingest-service configuration.
type Ingest struct {
	Common
	MQTTHost           string
	MQTTPort           int
	MQTTTopic          string
	BatchSize          int
	FlushInterval      time.Duration
	WorkerCount        int
	QueueSize          int
	AuthCacheTTL       time.Duration
	AuthCacheMaxSize   int
	SettingsPoll       time.Duration
	RequireToken       bool
	AutoProvision      bool
	MaxBufferSize      int
}

// LoadIngest reads ingest configuration from the process environment.
func LoadIngest() Ingest {
	return Ingest{
		Common:           loadCommon(),
		MQTTHost:         getenv("MQTT_HOST", "localhost"),
		MQTTPort:         getint("MQTT_PORT", 1883),
		MQTTTopic:        getenv("MQTT_TOPIC", "tenant/+/device/+/+"),
		BatchSize:        getint("BATCH_SIZE", 100),
		FlushInterval:    getMillis("FLUSH_INTERVAL_MS", 500),
		WorkerCount:      getint("INGEST_WORKER_COUNT", 4),
		QueueSize:        getint("INGEST_QUEUE_SIZE", 10000),
		AuthCacheTTL:     getSeconds("AUTH_CACHE_TTL_SECONDS", 60),
		AuthCacheMaxSize: getint("AUTH_CACHE_MAX_SIZE", 10000),
		SettingsPoll:     getSeconds("SETTINGS_POLL_SECONDS", 30),
		RequireToken:     getbool("REQUIRE_TOKEN", true),
		AutoProvision:    getbool("AUTO_PROVISION", false),
		MaxBufferSize:    getint("MAX_BUFFER_SIZE", 50000),
	}
}

// Evaluator holds evaluator-service configuration.
type Evaluator struct {
	Common
	HeartbeatStaleSeconds int
}

// LoadEvaluator reads evaluator configuration from the process environment.
func LoadEvaluator() Evaluator {
	return Evaluator{
		Common:                loadCommon(),
		HeartbeatStaleSeconds: getint("HEARTBEAT_STALE_SECONDS", 90),
	}
}

// Dispatcher holds dispatcher-service configuration.
type Dispatcher struct {
	Common
	AlertLookbackMinutes int
	AlertLimit           int
	RouteLimit           int
}

// LoadDispatcher reads dispatcher configuration from the process environment.
func LoadDispatcher() Dispatcher {
	return Dispatcher{
		Common:               loadCommon(),
		AlertLookbackMinutes: getint("ALERT_LOOKBACK_MINUTES", 60),
		AlertLimit:           getint("ALERT_LIMIT", 500),
		RouteLimit:           getint("ROUTE_LIMIT", 500),
	}
}

// Worker holds delivery-worker configuration.
type Worker struct {
	Common
	PollSeconds         time.Duration
	BatchSize           int
	Timeout             time.Duration
	MaxAttempts         int
	BackoffBaseSeconds  int
	BackoffMaxSeconds   int
	StuckJobMinutes     int
	MQTTBrokerURL       string
}

// LoadWorker reads delivery-worker configuration from the process environment.
func LoadWorker() Worker {
	return Worker{
		Common:             loadCommon(),
		PollSeconds:        getSeconds("WORKER_POLL_SECONDS", 5),
		BatchSize:          getint("WORKER_BATCH_SIZE", 50),
		Timeout:            getSeconds("WORKER_TIMEOUT_SECONDS", 10),
		MaxAttempts:        getint("WORKER_MAX_ATTEMPTS", 6),
		BackoffBaseSeconds: getint("WORKER_BACKOFF_BASE_SECONDS", 30),
		BackoffMaxSeconds:  getint("WORKER_BACKOFF_MAX_SECONDS", 7200),
		StuckJobMinutes:    getint("STUCK_JOB_MINUTES", 5),
		MQTTBrokerURL:      getenv("MQTT_BROKER_URL", "tcp://localhost:1883"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getint(key, defSeconds)) * time.Second
}

func getMillis(key string, defMillis int) time.Duration {
	return time.Duration(getint(key, defMillis)) * time.Millisecond
}
