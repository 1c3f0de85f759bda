package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. ENHANCER_DATABASE_URL for database.url.
const EnvPrefix = "ENHANCER"

// keys without defaults still need binding so AutomaticEnv picks them up
// during Unmarshal.
var envOnlyKeys = []string{
	"database.url",
	"auth.jwt_secret",
	"provider.nanobanana.api_key",
	"provider.gemini.api_key",
	"redis.addr",
	"kafka.brokers",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("auth.token_lifetime", "60m")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("tasks.worker_count", 4)
	v.SetDefault("tasks.queue_size", 100)
	v.SetDefault("tasks.sweep_batch_size", 5)
	v.SetDefault("tasks.provider_timeout", "5m")
	v.SetDefault("tasks.retention_days", 30)
	v.SetDefault("tasks.default_provider", "nanobanana")

	v.SetDefault("credits.per_task", 1)
	v.SetDefault("credits.cost_per_credit_usd", 0.10)

	v.SetDefault("provider.nanobanana.base_url", "https://api.nanobanana.ai/v1")
	v.SetDefault("provider.nanobanana.poll_interval", "3s")
	v.SetDefault("provider.nanobanana.submit_retries", 3)
	v.SetDefault("provider.gemini.model", "gemini-2.5-flash-image-preview")
	v.SetDefault("provider.gemini.cost_per_image_usd", 0.039)
	v.SetDefault("provider.gemini.retries", 2)

	v.SetDefault("storage.path", "./storage")
	v.SetDefault("storage.base_url", "http://localhost:8080/static")

	v.SetDefault("kafka.topic", "enhancement.events")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sweep_schedule", "@every 1m")
	v.SetDefault("scheduler.cleanup_schedule", "@daily")
	v.SetDefault("scheduler.lock_ttl", "55s")
}

// Load reads configuration from defaults, an optional config file and
// ENHANCER_* environment variables, in increasing order of precedence.
// A .env file in the working directory is loaded into the environment first
// when present. configFile may be empty.
func Load(configFile string) (*Config, error) {
	return LoadWithFlags(configFile, nil, nil)
}

// LoadWithFlags is Load with command-line flags layered on top. bindings
// maps config keys to flag names; only flags the user actually set override
// the other sources.
func LoadWithFlags(configFile string, flags *pflag.FlagSet, bindings map[string]string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	for key, name := range bindings {
		if flags == nil {
			break
		}
		flag := flags.Lookup(name)
		if flag == nil {
			return nil, fmt.Errorf("unknown flag %q bound to %s", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Tasks.DefaultProvider == "nanobanana" && cfg.Provider.NanoBanana.APIKey == "" {
		return errors.New("invalid configuration: provider.nanobanana.api_key is required when nanobanana is the default provider")
	}
	if cfg.Tasks.DefaultProvider == "gemini" && cfg.Provider.Gemini.APIKey == "" {
		return errors.New("invalid configuration: provider.gemini.api_key is required when gemini is the default provider")
	}
	if cfg.Kafka.Topic == "" && len(cfg.Kafka.Brokers) > 0 {
		return errors.New("invalid configuration: kafka.topic is required when brokers are set")
	}

	return nil
}
