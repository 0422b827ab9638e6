package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Index    IndexConfig    `mapstructure:"index" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Indexing IndexingConfig `mapstructure:"indexing" validate:"required"`
	Reindex  ReindexConfig  `mapstructure:"reindex" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port              int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel          string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutMS int    `mapstructure:"shutdown_timeout_ms" validate:"gt=0"`
}

// ShutdownTimeout returns the graceful HTTP shutdown timeout.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// DatabaseConfig contains all database-related configuration settings.
// URL, when set, is the database of shard 0. Shards lists additional shards;
// an entry with id 0 overrides URL.
type DatabaseConfig struct {
	URL          string        `mapstructure:"url" validate:"omitempty,url"`
	Shards       []ShardConfig `mapstructure:"shards" validate:"dive"`
	MaxOpenConns int           `mapstructure:"max_open_conns" validate:"gte=0"`
}

// ShardConfig is the connection string of one database shard.
type ShardConfig struct {
	ID  int    `mapstructure:"id" validate:"gte=0"`
	URL string `mapstructure:"url" validate:"required,url"`
}

// ShardURLs returns the connection string of every configured shard keyed by id.
func (c DatabaseConfig) ShardURLs() map[int]string {
	urls := make(map[int]string, len(c.Shards)+1)
	if c.URL != "" {
		urls[0] = c.URL
	}
	for _, s := range c.Shards {
		urls[s.ID] = s.URL
	}
	return urls
}

// AuthConfig contains the admin API authentication settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// IndexConfig selects and tunes the full-text backend.
type IndexConfig struct {
	// Backend is "bleve" for on-disk indexes under Path or "memory" for
	// in-memory indexes.
	Backend string `mapstructure:"backend" validate:"required,oneof=bleve memory"`
	Path    string `mapstructure:"path" validate:"required_if=Backend bleve"`

	// Topology is "single" when the backend tolerates one writer only, in
	// which case a single indexing worker runs regardless of Threads.
	Topology string `mapstructure:"topology" validate:"required,oneof=single distributed"`
	Threads  int    `mapstructure:"threads" validate:"gt=0"`

	// OpenIndexCacheSize bounds the number of account indexes kept open.
	OpenIndexCacheSize int `mapstructure:"open_index_cache_size" validate:"gt=0"`
}

// QueueConfig tunes the local task queue.
type QueueConfig struct {
	Capacity       int `mapstructure:"capacity" validate:"gt=0"`
	PollIntervalMS int `mapstructure:"poll_interval_ms" validate:"gt=0"`
}

// PollInterval returns how long the dispatcher waits for a task before
// re-checking its state.
func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// IndexingConfig tunes the indexing service.
type IndexingConfig struct {
	MaxRetries        int  `mapstructure:"max_retries" validate:"gte=0"`
	BacklogSize       int  `mapstructure:"backlog_size" validate:"gt=0"`
	StartupWaitMS     int  `mapstructure:"startup_wait_ms" validate:"gt=0"`
	VerifyMailboxes   bool `mapstructure:"verify_mailboxes"`
	VerifiedCacheSize int  `mapstructure:"verified_cache_size" validate:"gt=0"`
}

// StartupWait returns how long the dispatcher sleeps while the application
// is not yet started.
func (c IndexingConfig) StartupWait() time.Duration {
	return time.Duration(c.StartupWaitMS) * time.Millisecond
}

// ReindexConfig tunes the bulk reindex driver.
type ReindexConfig struct {
	BatchSize              int `mapstructure:"batch_size" validate:"gt=0"`
	EnqueueTimeoutMS       int `mapstructure:"enqueue_timeout_ms" validate:"gt=0"`
	EnqueueRetryIntervalMS int `mapstructure:"enqueue_retry_interval_ms" validate:"gt=0"`
}

// EnqueueTimeout returns how long the driver keeps offering one batch to a
// full queue.
func (c ReindexConfig) EnqueueTimeout() time.Duration {
	return time.Duration(c.EnqueueTimeoutMS) * time.Millisecond
}

// EnqueueRetryInterval returns the pause between offers to a full queue.
func (c ReindexConfig) EnqueueRetryInterval() time.Duration {
	return time.Duration(c.EnqueueRetryIntervalMS) * time.Millisecond
}
