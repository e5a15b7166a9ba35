// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Service names accepted by ValidateFor.
const (
	TaskAPI            = "task-api"
	NotificationWorker = "notification-worker"
	CommandWorker      = "command-worker"
	StorageInit        = "storage-init"
)

// Config holds the settings shared by every service.
type Config struct {
	Debug            bool    `mapstructure:"debug"`
	Port             string  `mapstructure:"functions_customhandler_port" validate:"required,numeric"`
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio" validate:"gte=0,lte=1"`

	Storage  StorageConfig  `mapstructure:",squash"`
	Database DatabaseConfig `mapstructure:",squash"`
	Redis    RedisConfig    `mapstructure:",squash"`
	Auth     AuthConfig     `mapstructure:",squash"`
	Upload   UploadConfig   `mapstructure:",squash"`
	Notify   NotifyConfig   `mapstructure:",squash"`
	Worker   WorkerConfig   `mapstructure:",squash"`
	Timeouts TimeoutConfig  `mapstructure:",squash"`
}

// StorageConfig names the Azure storage account, table and queues.
type StorageConfig struct {
	ConnectionString  string `mapstructure:"storage_connection_string" validate:"required"`
	TasksTable        string `mapstructure:"tasks_table" validate:"required,alphanum"`
	NotificationQueue string `mapstructure:"notification_queue" validate:"required"`
	CommandQueue      string `mapstructure:"command_queue" validate:"required"`
}

// DatabaseConfig points at the PostgreSQL membership database.
type DatabaseConfig struct {
	URL      string `mapstructure:"database_url" validate:"required,url"`
	MaxConns int32  `mapstructure:"database_max_conns" validate:"gt=0"`
}

// RedisConfig configures the cache, deduper and notification channel.
type RedisConfig struct {
	ConnectionString string        `mapstructure:"redis_connection_string" validate:"required"`
	TaskCacheTTL     time.Duration `mapstructure:"task_cache_ttl" validate:"gte=0"`
	DedupeTTL        time.Duration `mapstructure:"dedupe_ttl" validate:"gt=0"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Domain       string        `mapstructure:"auth0_domain" validate:"required_unless=TestMode true"`
	Audience     string        `mapstructure:"auth0_audience" validate:"required_unless=TestMode true"`
	TestMode     bool          `mapstructure:"auth0_test_mode"`
	TestSecret   string        `mapstructure:"test_jwt_secret" validate:"required_if=TestMode true"`
	JWKSRefresh  time.Duration `mapstructure:"jwks_cache_ttl" validate:"gt=0"`
	TriggerToken string        `mapstructure:"trigger_token" validate:"required,min=16"`
}

// UploadConfig configures attachment upload grants.
type UploadConfig struct {
	BaseURL     string        `mapstructure:"upload_base_url" validate:"required,url"`
	GrantSecret string        `mapstructure:"upload_grant_secret" validate:"required,min=16"`
	GrantTTL    time.Duration `mapstructure:"upload_grant_ttl" validate:"gt=0"`
}

// NotifyConfig selects how rendered notifications are delivered.
type NotifyConfig struct {
	Channel      string `mapstructure:"notify_channel" validate:"oneof=redis smtp"`
	SMTPAddr     string `mapstructure:"smtp_addr" validate:"required_if=Channel smtp"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	Sender       string `mapstructure:"email_sender" validate:"required_if=Channel smtp"`
}

// WorkerConfig tunes queue polling.
type WorkerConfig struct {
	BatchSize         int32         `mapstructure:"worker_batch_size" validate:"gt=0,lte=32"`
	VisibilityTimeout time.Duration `mapstructure:"worker_visibility_timeout" validate:"gte=1s"`
	PollInterval      time.Duration `mapstructure:"worker_poll_interval" validate:"gt=0"`
	MaxDequeue        int64         `mapstructure:"worker_max_dequeue" validate:"gt=0"`
}

// TimeoutConfig bounds every store and queue call.
type TimeoutConfig struct {
	Store time.Duration `mapstructure:"store_timeout" validate:"gt=0"`
	Queue time.Duration `mapstructure:"queue_timeout" validate:"gt=0"`
}

var defaults = map[string]any{
	"debug":                        false,
	"functions_customhandler_port": "8080",
	"trace_sample_ratio":           1.0,
	"storage_connection_string":    "",
	"tasks_table":                  "Tasks",
	"notification_queue":           "task-notifications",
	"command_queue":                "task-commands",
	"database_url":                 "",
	"database_max_conns":           10,
	"redis_connection_string":      "",
	"task_cache_ttl":               "5m",
	"dedupe_ttl":                   "24h",
	"auth0_domain":                 "",
	"auth0_audience":               "",
	"auth0_test_mode":              false,
	"test_jwt_secret":              "",
	"jwks_cache_ttl":               "1h",
	"trigger_token":                "",
	"upload_base_url":              "",
	"upload_grant_secret":          "",
	"upload_grant_ttl":             "15m",
	"notify_channel":               "redis",
	"smtp_addr":                    "",
	"smtp_username":                "",
	"smtp_password":                "",
	"email_sender":                 "",
	"worker_batch_size":            16,
	"worker_visibility_timeout":    "30s",
	"worker_poll_interval":         "1s",
	"worker_max_dequeue":           5,
	"store_timeout":                "5s",
	"queue_timeout":                "3s",
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment variables
// win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ValidateFor checks the sections the named service depends on.
func (c *Config) ValidateFor(service string) error {
	var sections []any
	switch service {
	case TaskAPI:
		sections = []any{&c.Storage, &c.Database, &c.Redis, &c.Auth, &c.Upload, &c.Timeouts}
	case NotificationWorker:
		sections = []any{&c.Storage, &c.Database, &c.Redis, &c.Notify, &c.Worker, &c.Timeouts}
	case CommandWorker:
		sections = []any{&c.Storage, &c.Database, &c.Redis, &c.Worker, &c.Timeouts}
	case StorageInit:
		sections = []any{&c.Storage, &c.Database}
	default:
		return fmt.Errorf("unknown service %q", service)
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(struct {
		Port             string  `validate:"required,numeric"`
		TraceSampleRatio float64 `validate:"gte=0,lte=1"`
	}{c.Port, c.TraceSampleRatio}); err != nil {
		return fmt.Errorf("%s config: %w", service, err)
	}
	for _, s := range sections {
		if err := validate.Struct(s); err != nil {
			return fmt.Errorf("%s config: %w", service, err)
		}
	}
	return nil
}
