// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package config

import (
	"time"
)

// Config holds all application configuration loaded from defaults, an optional
// YAML config file, and environment variables.
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access from
// multiple goroutines.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Mongo    MongoConfig    `koanf:"mongo"`
	Security SecurityConfig `koanf:"security"`
	Cache    CacheConfig    `koanf:"cache"`
	Export   ExportConfig   `koanf:"export"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_HOST: Bind address (default: 0.0.0.0)
//   - HTTP_PORT: Listen port (default: 8080)
//   - HTTP_TIMEOUT: Read/write timeout (default: 60s)
//   - ENVIRONMENT: Deployment environment (development or production)
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`
	Environment     string        `koanf:"environment" validate:"oneof=development production"`
}

// MongoConfig holds MongoDB connection settings. All study data lives in a
// single database; collection names are configurable so staging and production
// deployments can share a cluster.
type MongoConfig struct {
	URI            string        `koanf:"uri" validate:"required"`
	Database       string        `koanf:"database" validate:"required"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"min=1s"`
	QueryTimeout   time.Duration `koanf:"query_timeout" validate:"min=1s"`

	// Collection names.
	ParticipantsCollection      string `koanf:"participants_collection"`
	ValidParticipantsCollection string `koanf:"valid_participants_collection"`
	EventsCollection            string `koanf:"events_collection"`
	CheckinsCollection          string `koanf:"checkins_collection"`
	SafetyAlertsCollection      string `koanf:"safety_alerts_collection"`
	CacheCollection             string `koanf:"cache_collection"`
	ExportJobsCollection        string `koanf:"export_jobs_collection"`
	DashboardUsersCollection    string `koanf:"dashboard_users_collection"`
	AlertRecipientsCollection   string `koanf:"alert_recipients_collection"`
}

// SecurityConfig holds authentication and access-control settings.
//
// JWTSecret signs dashboard session tokens and export download tokens.
// SchedulerSecret authorizes the external cron caller that triggers the
// nightly cache refresh; it is compared in constant time.
type SecurityConfig struct {
	JWTSecret       string        `koanf:"jwt_secret"`
	SessionTimeout  time.Duration `koanf:"session_timeout" validate:"min=1m"`
	SchedulerSecret string        `koanf:"scheduler_secret"`
	AdminEmail      string        `koanf:"admin_email"`

	// AllowedCIDRs restricts dashboard access to the listed networks.
	// Empty means no IP restriction.
	AllowedCIDRs []string `koanf:"allowed_cidrs"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// CacheConfig tunes the dashboard status cache and the safety-alert
// background cache.
type CacheConfig struct {
	// WindowDays is the length of the reporting window used by the nightly
	// refresh, ending yesterday.
	WindowDays int `koanf:"window_days" validate:"min=1,max=90"`

	// EMAPromptsPerDay is the number of scheduled EMA prompts per participant
	// per day, the denominator of the compliance percentage.
	EMAPromptsPerDay int `koanf:"ema_prompts_per_day" validate:"min=1"`

	// AlertRefreshInterval is the safety-alert cache poll period.
	AlertRefreshInterval time.Duration `koanf:"alert_refresh_interval" validate:"min=10s"`

	// AlertFetchLimit bounds how many recent alerts a single refresh pulls.
	AlertFetchLimit int `koanf:"alert_fetch_limit" validate:"min=1"`

	// CheckinFetchLimit bounds the per-participant check-in scan used for
	// crisis cross-referencing.
	CheckinFetchLimit int `koanf:"checkin_fetch_limit" validate:"min=1"`
}

// ExportConfig holds export job engine settings.
type ExportConfig struct {
	// Dir is the local staging directory for archives under construction.
	Dir string `koanf:"dir" validate:"required"`

	// ArchiveDir is the blob store root where finished archives live.
	ArchiveDir string `koanf:"archive_dir" validate:"required"`

	// PublicBaseURL is the externally reachable download endpoint prefix
	// used in signed archive links.
	PublicBaseURL string `koanf:"public_base_url" validate:"required,url"`

	// Workers is the screenshot fetch pool size for a single job.
	Workers int `koanf:"workers" validate:"min=1,max=64"`

	// DownloadExpiry bounds how long a signed download URL stays valid.
	DownloadExpiry time.Duration `koanf:"download_expiry" validate:"min=1m"`

	// FetchTimeout bounds a single screenshot HTTP fetch.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"min=1s"`

	// FetchRatePerSecond throttles outbound screenshot fetches. 0 disables
	// throttling.
	FetchRatePerSecond float64 `koanf:"fetch_rate_per_second" validate:"min=0"`

	// MaxActiveJobs bounds concurrently processing jobs.
	MaxActiveJobs int `koanf:"max_active_jobs" validate:"min=1"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Timeout:         60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Environment:     "development",
		},
		Mongo: MongoConfig{
			URI:            "mongodb://127.0.0.1:27017",
			Database:       "socialscope",
			ConnectTimeout: 10 * time.Second,
			QueryTimeout:   30 * time.Second,

			ParticipantsCollection:      "participants",
			ValidParticipantsCollection: "valid_participants",
			EventsCollection:            "events",
			CheckinsCollection:          "ema_responses",
			SafetyAlertsCollection:      "safety_alerts",
			CacheCollection:             "dashboard_cache",
			ExportJobsCollection:        "export_jobs",
			DashboardUsersCollection:    "dashboard_users",
			AlertRecipientsCollection:   "alert_recipients",
		},
		Security: SecurityConfig{
			JWTSecret:         "",
			SessionTimeout:    24 * time.Hour,
			SchedulerSecret:   "",
			AdminEmail:        "",
			AllowedCIDRs:      []string{},
			RateLimitReqs:     100,
			RateLimitWindow:   1 * time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Cache: CacheConfig{
			WindowDays:           14,
			EMAPromptsPerDay:     3,
			AlertRefreshInterval: 120 * time.Second,
			AlertFetchLimit:      200,
			CheckinFetchLimit:    500,
		},
		Export: ExportConfig{
			Dir:                "/data/exports",
			ArchiveDir:         "/data/archives",
			PublicBaseURL:      "http://localhost:8080/api/export/download",
			Workers:            12,
			DownloadExpiry:     7 * 24 * time.Hour,
			FetchTimeout:       30 * time.Second,
			FetchRatePerSecond: 50,
			MaxActiveJobs:      3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
