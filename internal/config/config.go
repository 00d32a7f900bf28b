// Package config defines service configuration structures and loading.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load(ctx) layers defaults, an optional YAML file, and env vars.
package config

import "context"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8090".
	Addr string `koanf:"addr"`

	// DBPath locates the sqlite database file.
	DBPath string `koanf:"db_path"`

	// UpstreamBaseURL is the provider's REST API base, without trailing slash.
	UpstreamBaseURL string `koanf:"upstream_base_url"`

	// UpstreamTimeoutMS bounds each upstream call.
	UpstreamTimeoutMS int `koanf:"upstream_timeout_ms"`

	// OAuth token exchange settings for credential refresh.
	OAuthTokenURL     string `koanf:"oauth_token_url"`
	OAuthClientID     string `koanf:"oauth_client_id"`
	OAuthClientSecret string `koanf:"oauth_client_secret"`

	// WebhookVerifyToken is echoed during the provider's GET handshake.
	WebhookVerifyToken string `koanf:"webhook_verify_token"`

	// FetchPaddingHours widens the upstream listing window around a week.
	FetchPaddingHours int `koanf:"fetch_padding_hours"`

	// CandidatePaddingDays bounds how far back webhook activities are
	// matched against week windows.
	CandidatePaddingDays int `koanf:"candidate_padding_days"`

	// WebhookQueueSize bounds the in-memory webhook event queue.
	WebhookQueueSize int `koanf:"webhook_queue_size"`

	// WorkerCount sets the number of webhook workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the replay-absorption cache.
	DedupeSize int `koanf:"dedupe_size"`
}

// New creates a Config with defaults. Context is accepted to satisfy the
// project-wide convention; it is reserved for future use.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":8090",
		DBPath:               "criterium.db",
		UpstreamBaseURL:      "https://www.strava.com/api/v3",
		UpstreamTimeoutMS:    15_000,
		OAuthTokenURL:        "https://www.strava.com/oauth/token",
		FetchPaddingHours:    6,
		CandidatePaddingDays: 30,
		WebhookQueueSize:     10_000,
		WorkerCount:          4,
		DedupeSize:           50_000,
	}
}
