package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Store    StoreConfig    `mapstructure:"store" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// StoreConfig selects and configures the external store backing the
// job queue broker.
type StoreConfig struct {
	// Backend selects the JobStore implementation.
	Backend string `mapstructure:"backend" validate:"required,oneof=postgres redis memory"`

	// DatabaseURL is required when the backend is postgres.
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Backend postgres,omitempty,url"`

	// RedisAddr is required when the backend is redis.
	RedisAddr string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
}

// QueueConfig contains the broker and worker pool settings.
type QueueConfig struct {
	// Name is the queue the server's worker pool consumes.
	Name string `mapstructure:"name" validate:"required"`

	// Concurrency is the maximum number of jobs executing at once.
	Concurrency int `mapstructure:"concurrency" validate:"required,gte=1,lte=64"`

	// LeaseSeconds is how long a claim stays exclusive before reclaim.
	LeaseSeconds int `mapstructure:"lease_seconds" validate:"gte=1"`

	// ReclaimIntervalSeconds is how often expired leases are swept.
	ReclaimIntervalSeconds int `mapstructure:"reclaim_interval_seconds" validate:"gte=1"`

	// HandlerTimeoutSeconds bounds one execution. It must stay strictly
	// below LeaseSeconds so a running handler cannot outlast its claim
	// and be handed to a second worker mid-flight.
	HandlerTimeoutSeconds int `mapstructure:"handler_timeout_seconds" validate:"gte=1,ltfield=LeaseSeconds"`
}

// PipelineConfig contains the pipeline engine defaults.
type PipelineConfig struct {
	// LogExecution enables per-stage debug logging.
	LogExecution bool `mapstructure:"log_execution"`
}
