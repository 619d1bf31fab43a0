package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Search     SearchConfig     `yaml:"search"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Removal    RemovalConfig    `yaml:"removal"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	API        APIConfig        `yaml:"api"`
	UserAgent  string           `yaml:"user_agent"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type     string         `yaml:"type"` // mysql or postgres
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
}

// MeilisearchConfig contains Meilisearch connection settings
type MeilisearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
	Index  string `yaml:"index"`
}

// MonitorConfig contains the polling targets and schedule
type MonitorConfig struct {
	Regions []string `yaml:"regions"`
	// Makes to search per region; an empty list means one unfiltered search
	Makes          []string `yaml:"makes"`
	CronEnabled    bool     `yaml:"cron_enabled"`
	FullRunTime    string   `yaml:"full_run_time"`  // HH:MM
	LightRunTime   string   `yaml:"light_run_time"` // HH:MM
	RunOnStart     bool     `yaml:"run_on_start"`
	SearchDelaySec int      `yaml:"search_delay_seconds"` // pause between filter searches
}

// FetchConfig contains outbound request settings
type FetchConfig struct {
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MaxRetries        int     `yaml:"max_retries"`
	RetryDelaySeconds int     `yaml:"retry_delay_seconds"`
	PageDelayMs       int     `yaml:"page_delay_ms"` // pause between result pages
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	DetailsPerHour    int     `yaml:"details_per_hour"`
	MaxPages          int     `yaml:"max_pages"`
	HeadlessFallback  bool    `yaml:"headless_fallback"`
	ChromePath        string  `yaml:"chrome_path"`

	// Circuit breaker trip conditions
	BreakerConsecutiveFailures int     `yaml:"breaker_consecutive_failures"`
	BreakerMinRequests         int     `yaml:"breaker_min_requests"`
	BreakerFailureRate         float64 `yaml:"breaker_failure_rate"`
	BreakerResetMinutes        int     `yaml:"breaker_reset_minutes"`
}

// EnrichmentConfig contains detail-fetch worker settings
type EnrichmentConfig struct {
	Concurrency   int `yaml:"concurrency"`
	WorkerDelayMs int `yaml:"worker_delay_ms"` // per-worker pause between units
	BatchSize     int `yaml:"batch_size"`      // backfill query batch size
}

// RemovalConfig contains removal policy settings
type RemovalConfig struct {
	Policy            string `yaml:"policy"` // bulk or verify
	VerifySampleSize  int    `yaml:"verify_sample_size"`
	NotSeenFullHours  int    `yaml:"not_seen_full_hours"`  // aging threshold for full runs
	NotSeenLightHours int    `yaml:"not_seen_light_hours"` // aging threshold for light runs
}

// CleanupConfig contains purge settings for removed listings
type CleanupConfig struct {
	RetentionDays    int  `yaml:"retention_days"`
	MaxDeletionCount int  `yaml:"max_deletion_count"`
	DryRun           bool `yaml:"dry_run"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr   string   `yaml:"listen_addr"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// Removal policies
const (
	RemovalPolicyBulk   = "bulk"
	RemovalPolicyVerify = "verify"
)

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type: "mysql",
		},
		Monitor: MonitorConfig{
			Regions:        []string{"norrbotten", "vasterbotten", "jamtland", "vasternorrland"},
			Makes:          nil,
			CronEnabled:    false,
			FullRunTime:    "06:00",
			LightRunTime:   "18:00",
			RunOnStart:     true,
			SearchDelaySec: 2,
		},
		Fetch: FetchConfig{
			TimeoutSeconds:    30,
			MaxRetries:        3,
			RetryDelaySeconds: 2,
			PageDelayMs:       800,
			RequestsPerSecond: 2,
			DetailsPerHour:    1800,
			MaxPages:          50,
			HeadlessFallback:  false,
			ChromePath:        "/usr/bin/google-chrome",

			BreakerConsecutiveFailures: 2,
			BreakerMinRequests:         20,
			BreakerFailureRate:         0.40,
			BreakerResetMinutes:        60,
		},
		Enrichment: EnrichmentConfig{
			Concurrency:   5,
			WorkerDelayMs: 200,
			BatchSize:     100,
		},
		Removal: RemovalConfig{
			Policy:            RemovalPolicyBulk,
			VerifySampleSize:  10,
			NotSeenFullHours:  48,
			NotSeenLightHours: 72,
		},
		Cleanup: CleanupConfig{
			RetentionDays:    90,
			MaxDeletionCount: 10000,
			DryRun:           false,
		},
		API: APIConfig{
			ListenAddr:   ":8080",
			AllowOrigins: []string{"*"},
		},
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(filepath); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// GetTimeout returns the request timeout as a duration
func (c *FetchConfig) GetTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetRetryDelay returns the base retry delay as a duration
func (c *FetchConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// GetPageDelay returns the inter-page delay as a duration
func (c *FetchConfig) GetPageDelay() time.Duration {
	return time.Duration(c.PageDelayMs) * time.Millisecond
}

// GetBreakerReset returns how long the circuit breaker stays open
func (c *FetchConfig) GetBreakerReset() time.Duration {
	return time.Duration(c.BreakerResetMinutes) * time.Minute
}

// GetWorkerDelay returns the per-worker pause as a duration
func (c *EnrichmentConfig) GetWorkerDelay() time.Duration {
	return time.Duration(c.WorkerDelayMs) * time.Millisecond
}

// GetSearchDelay returns the pause between filter searches
func (c *MonitorConfig) GetSearchDelay() time.Duration {
	return time.Duration(c.SearchDelaySec) * time.Second
}

// NotSeenThreshold returns the aging threshold for the given run type
func (c *RemovalConfig) NotSeenThreshold(runType string) time.Duration {
	if runType == "light" {
		return time.Duration(c.NotSeenLightHours) * time.Hour
	}
	return time.Duration(c.NotSeenFullHours) * time.Hour
}
