package config

import (
	"strings"
	"time"

	"github.com/httprunner/WatchTracker/internal/env"
	"github.com/pkg/errors"
)

// Environment variable names understood by the tracker.
const (
	EnvUsername     = "MYKI_USERNAME"
	EnvPassword     = "MYKI_PASSWORD"
	EnvScanInterval = "MYKI_SCAN_INTERVAL"
	EnvBaseURL      = "MYKI_BASE_URL"
	EnvHTTPTimeout  = "MYKI_HTTP_TIMEOUT"

	EnvSQLitePath    = "TRACKER_SQLITE_PATH"
	EnvSQLiteDisable = "TRACKER_SQLITE_DISABLE"
	EnvJSONLPath     = "TRACKER_JSONL_PATH"

	EnvInfluxURL    = "INFLUX_URL"
	EnvInfluxToken  = "INFLUX_TOKEN"
	EnvInfluxOrg    = "INFLUX_ORG"
	EnvInfluxBucket = "INFLUX_BUCKET"

	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"
	EnvRedisTTL      = "REDIS_TTL"

	EnvDynamoTable = "DYNAMODB_SIGHTINGS_TABLE"

	EnvFeishuAppID      = "FEISHU_APP_ID"
	EnvFeishuAppSecret  = "FEISHU_APP_SECRET"
	EnvFeishuBaseURL    = "FEISHU_BASE_URL"
	EnvSightingBitable  = "SIGHTING_BITABLE_URL"
	EnvStatusHTTPAddr   = "STATUS_HTTP_ADDR"
	DefaultBaseURL      = "https://my.myki.watch"
	DefaultScanInterval = 300 * time.Second
)

// Tracker holds the remote service credentials and polling cadence.
type Tracker struct {
	Username     string
	Password     string
	ScanInterval time.Duration
	BaseURL      string
	// HTTPTimeout of 0 keeps the transport default (no client timeout).
	HTTPTimeout time.Duration
}

// TrackerFromEnv reads MYKI_* variables. Call Validate before use.
func TrackerFromEnv() Tracker {
	return Tracker{
		Username:     env.String(EnvUsername, ""),
		Password:     env.String(EnvPassword, ""),
		ScanInterval: env.Duration(EnvScanInterval, DefaultScanInterval),
		BaseURL:      env.String(EnvBaseURL, DefaultBaseURL),
		HTTPTimeout:  env.Duration(EnvHTTPTimeout, 0),
	}
}

// Validate enforces the required credentials and a positive interval.
func (t Tracker) Validate() error {
	if strings.TrimSpace(t.Username) == "" {
		return errors.Errorf("username is required (set $%s or --username)", EnvUsername)
	}
	if strings.TrimSpace(t.Password) == "" {
		return errors.Errorf("password is required (set $%s or --password)", EnvPassword)
	}
	if t.ScanInterval <= 0 {
		return errors.Errorf("scan interval must be positive, got %s", t.ScanInterval)
	}
	if t.HTTPTimeout < 0 {
		return errors.Errorf("http timeout must not be negative, got %s", t.HTTPTimeout)
	}
	return nil
}

// Sinks configures where sightings are recorded besides the in-memory registry.
type Sinks struct {
	SQLitePath    string
	DisableSQLite bool
	JSONLPath     string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	DynamoTable string

	FeishuAppID     string
	FeishuAppSecret string
	FeishuBaseURL   string
	BitableURL      string
}

// SinksFromEnv reads sink settings. scanInterval seeds the default redis TTL.
func SinksFromEnv(scanInterval time.Duration) Sinks {
	defaultTTL := 3 * scanInterval
	if defaultTTL <= 0 {
		defaultTTL = 3 * DefaultScanInterval
	}
	return Sinks{
		SQLitePath:    env.String(EnvSQLitePath, ""),
		DisableSQLite: env.Bool(EnvSQLiteDisable, false),
		JSONLPath:     env.String(EnvJSONLPath, ""),

		InfluxURL:    env.String(EnvInfluxURL, ""),
		InfluxToken:  env.String(EnvInfluxToken, ""),
		InfluxOrg:    env.String(EnvInfluxOrg, ""),
		InfluxBucket: env.String(EnvInfluxBucket, "watchtracker"),

		RedisAddr:     env.String(EnvRedisAddr, ""),
		RedisPassword: env.String(EnvRedisPassword, ""),
		RedisDB:       env.Int(EnvRedisDB, 0),
		RedisTTL:      env.Duration(EnvRedisTTL, defaultTTL),

		DynamoTable: env.String(EnvDynamoTable, ""),

		FeishuAppID:     env.String(EnvFeishuAppID, ""),
		FeishuAppSecret: env.String(EnvFeishuAppSecret, ""),
		FeishuBaseURL:   env.String(EnvFeishuBaseURL, ""),
		BitableURL:      env.String(EnvSightingBitable, ""),
	}
}

// InfluxEnabled reports whether both the server URL and token are set.
func (s Sinks) InfluxEnabled() bool {
	return s.InfluxURL != "" && s.InfluxToken != ""
}

// FeishuEnabled reports whether the bitable mirror has everything it needs.
func (s Sinks) FeishuEnabled() bool {
	return s.BitableURL != "" && s.FeishuAppID != "" && s.FeishuAppSecret != ""
}
