package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
}

type ServiceConfig struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Version    string            `yaml:"version" json:"version" validate:"required"`
	Logger     *LoggerConfig     `yaml:"logger" json:"logger"`
	Cache      *CacheConfig      `yaml:"cache" json:"cache"`
	RateLimit  *RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	Events     *EventsConfig     `yaml:"events" json:"events"`
	Backend    *BackendConfig    `yaml:"backend" json:"backend"`
	Sync       *SyncConfig       `yaml:"sync" json:"sync"`
	LocalStore *LocalStoreConfig `yaml:"local_store" json:"local_store"`
	Metrics    *MetricsConfig    `yaml:"metrics" json:"metrics"`
	Health     *HealthConfig     `yaml:"health" json:"health"`
	Cron       *CronConfig       `yaml:"cron" json:"cron"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Enabled    bool            `yaml:"enabled" json:"enabled"`
	Type       string          `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config     interface{}     `yaml:"config" json:"config"`
	DefaultTTL time.Duration   `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	Eviction   *EvictionConfig `yaml:"eviction" json:"eviction"`
}

type EvictionConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Schedule      string   `yaml:"schedule" json:"schedule"`
	BudgetBytes   uint64   `yaml:"budget_bytes" json:"budget_bytes"`
	SoftThreshold float64  `yaml:"soft_threshold" json:"soft_threshold" validate:"min=0,max=1"`
	Namespaces    []string `yaml:"namespaces" json:"namespaces"`
}

type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int64         `yaml:"max_requests" json:"max_requests" validate:"min=0"`
}

type EventsConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Type    string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{}   `yaml:"config" json:"config"`
	Fanout  *FanoutConfig `yaml:"fanout" json:"fanout"`
}

type FanoutConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Config  interface{} `yaml:"config" json:"config"`
}

type BackendConfig struct {
	BaseURL string      `yaml:"base_url" json:"base_url" validate:"required"`
	Config  interface{} `yaml:"config" json:"config"`
}

type SyncConfig struct {
	BulkConcurrency int           `yaml:"bulk_concurrency" json:"bulk_concurrency" validate:"min=1"`
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts" validate:"min=1"`
	RetryBase       time.Duration `yaml:"retry_base" json:"retry_base"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`
	FastReadTimeout time.Duration `yaml:"fast_read_timeout" json:"fast_read_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	RefetchDelay    time.Duration `yaml:"refetch_delay" json:"refetch_delay"`
}

type LocalStoreConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Config  interface{} `yaml:"config" json:"config"`
}

type HealthConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone"`
}
