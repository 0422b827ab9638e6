package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads.
const EnvPrefix = "MAILINDEX"

// ConfigFileEnv names an explicit config file. When unset, config.yaml is
// looked up in the working directory and is optional.
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

// ErrNoShards is returned when neither database.url nor database.shards is set.
var ErrNoShards = errors.New("at least one database shard must be configured")

// defaults are applied before any config file or environment variable.
var defaults = map[string]any{
	"server.port":                       8080,
	"server.log_level":                  "info",
	"server.shutdown_timeout_ms":        10000,
	"database.max_open_conns":           10,
	"index.backend":                     "bleve",
	"index.path":                        "./data/index",
	"index.topology":                    "single",
	"index.threads":                     10,
	"index.open_index_cache_size":       256,
	"queue.capacity":                    10000,
	"queue.poll_interval_ms":            500,
	"indexing.max_retries":              2,
	"indexing.backlog_size":             10000,
	"indexing.startup_wait_ms":          100,
	"indexing.verify_mailboxes":         false,
	"indexing.verified_cache_size":      100000,
	"reindex.batch_size":                100,
	"reindex.enqueue_timeout_ms":        10000,
	"reindex.enqueue_retry_interval_ms": 500,
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if file := os.Getenv(ConfigFileEnv); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults are invisible to AutomaticEnv during Unmarshal
	for _, key := range []string{"database.url", "auth.jwt_secret"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
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
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if len(cfg.Database.ShardURLs()) == 0 {
		return fmt.Errorf("config validation failed: %w", ErrNoShards)
	}
	return nil
}
