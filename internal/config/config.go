package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Tasks     TasksConfig     `mapstructure:"tasks" validate:"required"`
	Credits   CreditsConfig   `mapstructure:"credits" validate:"required"`
	Provider  ProviderConfig  `mapstructure:"provider" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig contains the settings used to verify bearer tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	// TokenLifetime applies to tokens minted by the CLI for local use.
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// TasksConfig tunes the enhancement worker pool, the pending sweep and the
// retention job.
type TasksConfig struct {
	WorkerCount     int           `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize       int           `mapstructure:"queue_size" validate:"gt=0"`
	SweepBatchSize  int           `mapstructure:"sweep_batch_size" validate:"gt=0"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout" validate:"gt=0"`
	RetentionDays   int           `mapstructure:"retention_days" validate:"gt=0"`
	DefaultProvider string        `mapstructure:"default_provider" validate:"required,oneof=nanobanana gemini"`
}

// CreditsConfig defines how credits are priced and reserved.
type CreditsConfig struct {
	PerTask          int     `mapstructure:"per_task" validate:"gt=0"`
	CostPerCreditUSD float64 `mapstructure:"cost_per_credit_usd" validate:"gte=0"`
}

// ProviderConfig holds settings for the external enhancement providers.
type ProviderConfig struct {
	NanoBanana NanoBananaConfig `mapstructure:"nanobanana"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
}

// NanoBananaConfig configures the NanoBanana HTTP client.
type NanoBananaConfig struct {
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	APIKey        string        `mapstructure:"api_key"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	SubmitRetries uint          `mapstructure:"submit_retries"`
}

// GeminiConfig configures the Gemini image-editing provider.
type GeminiConfig struct {
	APIKey          string  `mapstructure:"api_key"`
	Model           string  `mapstructure:"model"`
	CostPerImageUSD float64 `mapstructure:"cost_per_image_usd" validate:"gte=0"`
	Retries         uint    `mapstructure:"retries"`
}

// StorageConfig configures where provider-returned image bytes are written
// and how they are addressed publicly.
type StorageConfig struct {
	Path    string `mapstructure:"path"`
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

// RedisConfig configures the Redis client used for scheduler locking.
// An empty Addr disables locking.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// KafkaConfig configures task lifecycle event publishing.
// No brokers disables publishing.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// SchedulerConfig configures the in-process cron that drives the sweep and
// retention jobs.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SweepSchedule   string        `mapstructure:"sweep_schedule"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}
