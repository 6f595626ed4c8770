// Package config loads platform configuration with spf13/viper, following
// the teacher's config.Load() pattern: environment variables take
// precedence, an optional config file supplies defaults, and every key
// recognized by spec.md §6 has a typed home here.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object, covering every key spec.md §6
// calls "Configuration (recognized)".
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	BaseURL        string               `mapstructure:"base_url"`
	Authentication AuthenticationConfig `mapstructure:"authentication"`
	Retry          RetryConfig          `mapstructure:"retry"`
	KMS            KMSConfig            `mapstructure:"kms"`
	Crypto         CryptoConfig         `mapstructure:"crypto"`

	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`

	PatternDetection PatternDetectionConfig `mapstructure:"pattern_detection"`
	Monitoring       MonitoringConfig       `mapstructure:"monitoring"`
	Alert            AlertConfig            `mapstructure:"alert"`
	DLQ              DLQConfig              `mapstructure:"dlq"`
	Retention        RetentionConfig        `mapstructure:"retention"`
	Worker           WorkerConfig           `mapstructure:"worker"`
	Scheduler        SchedulerConfig        `mapstructure:"scheduler"`
	Email            EmailConfig            `mapstructure:"email"`
	Storage          StorageConfig          `mapstructure:"storage"`

	MigrationsPath string `mapstructure:"migrations_path"`
	MetricsAddr    string `mapstructure:"metrics_addr"`

	PseudonymSalt string `mapstructure:"pseudonym_salt"`
}

type SchedulerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxRetries    int  `mapstructure:"max_retries"`
}

type EmailConfig struct {
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

type StorageConfig struct {
	Provider string `mapstructure:"provider"` // local | s3
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
	Region   string `mapstructure:"region"`
}

type AuthenticationConfig struct {
	Type        string            `mapstructure:"type"`
	Credentials map[string]string `mapstructure:"credentials"`
}

type RetryConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	InitialDelay       time.Duration `mapstructure:"initial_delay_ms"`
	MaxDelay           time.Duration `mapstructure:"max_delay_ms"`
	BackoffMultiplier  float64       `mapstructure:"backoff_multiplier"`
	RetryableStatus    []int         `mapstructure:"retryable_status_codes"`
	RetryableErrors    []string      `mapstructure:"retryable_errors"`
}

type KMSConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BaseURL          string `mapstructure:"base_url"`
	AccessToken      string `mapstructure:"access_token"`
	SigningAlgorithm string `mapstructure:"signing_algorithm"`
	Region           string `mapstructure:"region"`
	KeyID            string `mapstructure:"key_id"`
}

type CryptoConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type Database struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DetectorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Window    time.Duration `mapstructure:"window"`
	Threshold int           `mapstructure:"threshold"`
}

type PatternDetectionConfig struct {
	FailedAuth         DetectorConfig `mapstructure:"failed_auth"`
	UnauthorizedAccess DetectorConfig `mapstructure:"unauthorized_access"`
	DataAccess         DetectorConfig `mapstructure:"data_access"`
	BulkOperation      DetectorConfig `mapstructure:"bulk_operation"`
	OffHoursStart      int            `mapstructure:"off_hours_start"`
	OffHoursEnd        int            `mapstructure:"off_hours_end"`
}

type NotificationConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	URL         string            `mapstructure:"url"`
	Credentials map[string]string `mapstructure:"credentials"`
}

type MonitoringConfig struct {
	Notification NotificationConfig `mapstructure:"notification"`
}

// AlertConfig holds the alert engine's own tuning, distinct from
// PatternDetectionConfig's per-detector thresholds.
type AlertConfig struct {
	// Cooldown is the dedup window raised alerts with the same
	// source/title/severity are suppressed for (§3.2 A3).
	Cooldown time.Duration `mapstructure:"cooldown"`
}

type DLQConfig struct {
	AlertThreshold   int `mapstructure:"alert_threshold"`
	MaxRetentionDays int `mapstructure:"max_retention_days"`
	ArchiveAfterDays int `mapstructure:"archive_after_days"`
}

type RetentionPolicyConfig struct {
	Name               string `mapstructure:"name"`
	DataClassification string `mapstructure:"data_classification"`
	RetentionDays      int    `mapstructure:"retention_days"`
	ArchiveAfterDays   int    `mapstructure:"archive_after_days"`
	DeleteAfterDays    int    `mapstructure:"delete_after_days"`
	IsActive           bool   `mapstructure:"is_active"`
}

type RetentionConfig struct {
	Policies []RetentionPolicyConfig `mapstructure:"policies"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// Load reads configuration from environment variables (prefixed
// AUDITRAIL_) and an optional config file, applying the defaults
// recommended by spec.md §3.4 and §4.3.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("auditrail")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/auditrail")

	v.SetEnvPrefix("AUDITRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.PseudonymSalt == "" {
		cfg.PseudonymSalt = firstNonEmpty(v.GetString("PSEUDONYM_SALT"), v.GetString("GDPR_PSEUDONYM_SALT"))
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("retry.enabled", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay_ms", time.Second)
	v.SetDefault("retry.max_delay_ms", 30*time.Second)
	v.SetDefault("retry.backoff_multiplier", 2.0)

	v.SetDefault("kms.enabled", false)
	v.SetDefault("kms.signing_algorithm", "HMAC-SHA256")

	v.SetDefault("pattern_detection.failed_auth.enabled", true)
	v.SetDefault("pattern_detection.failed_auth.window", 5*time.Minute)
	v.SetDefault("pattern_detection.failed_auth.threshold", 5)
	v.SetDefault("pattern_detection.unauthorized_access.enabled", true)
	v.SetDefault("pattern_detection.unauthorized_access.window", 10*time.Minute)
	v.SetDefault("pattern_detection.unauthorized_access.threshold", 3)
	v.SetDefault("pattern_detection.data_access.enabled", true)
	v.SetDefault("pattern_detection.data_access.window", 60*time.Second)
	v.SetDefault("pattern_detection.data_access.threshold", 50)
	v.SetDefault("pattern_detection.bulk_operation.enabled", true)
	v.SetDefault("pattern_detection.bulk_operation.window", 5*time.Minute)
	v.SetDefault("pattern_detection.bulk_operation.threshold", 100)
	v.SetDefault("pattern_detection.off_hours_start", 22)
	v.SetDefault("pattern_detection.off_hours_end", 6)

	v.SetDefault("alert.cooldown", 300*time.Second)

	v.SetDefault("dlq.alert_threshold", 100)
	v.SetDefault("dlq.max_retention_days", 30)
	v.SetDefault("dlq.archive_after_days", 7)

	v.SetDefault("worker.concurrency", 4)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.max_retries", 3)

	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "./data/exports")

	v.SetDefault("migrations_path", "internal/store/migrations")
	v.SetDefault("metrics_addr", ":9090")

	v.SetDefault("retention.policies", defaultRetentionPolicies())
}

func defaultRetentionPolicies() []map[string]interface{} {
	return []map[string]interface{}{
		{"name": "phi-default", "data_classification": "PHI", "retention_days": 2555, "archive_after_days": 365, "delete_after_days": 2555, "is_active": true},
		{"name": "confidential-default", "data_classification": "CONFIDENTIAL", "retention_days": 1095, "archive_after_days": 365, "delete_after_days": 1095, "is_active": true},
		{"name": "internal-default", "data_classification": "INTERNAL", "retention_days": 180, "archive_after_days": 90, "delete_after_days": 180, "is_active": true},
		{"name": "public-default", "data_classification": "PUBLIC", "retention_days": 90, "archive_after_days": 30, "delete_after_days": 90, "is_active": true},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
