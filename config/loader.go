package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/chronodo/chrono-sync/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	applyEnvOverrides(config)

	if err := l.validator.Struct(config); err != nil {
		return nil, types.WrapError(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Cache: &types.CacheConfig{
			Enabled:    true,
			Type:       "memory",
			DefaultTTL: 5 * time.Minute,
			Eviction: &types.EvictionConfig{
				Enabled:       true,
				Schedule:      "0 */5 * * * *",
				BudgetBytes:   50 << 20,
				SoftThreshold: 0.8,
				Namespaces: []string{
					"todos:user:*",
					"stats:user:*",
					"activity:user:*",
				},
			},
		},
		RateLimit: &types.RateLimitConfig{
			Enabled:     true,
			Window:      time.Hour,
			MaxRequests: 100,
		},
		Events: &types.EventsConfig{
			Enabled: true,
			Type:    "memory",
		},
		Sync: &types.SyncConfig{
			BulkConcurrency: 4,
			MaxAttempts:     3,
			RetryBase:       500 * time.Millisecond,
			RetryMaxDelay:   8 * time.Second,
			FastReadTimeout: 1200 * time.Millisecond,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    12 * time.Second,
			RefetchDelay:    15 * time.Second,
		},
		LocalStore: &types.LocalStoreConfig{
			Enabled: false,
		},
		Metrics: &types.MetricsConfig{
			Enabled: true,
		},
		Health: &types.HealthConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
		Cron: &types.CronConfig{
			Enabled:  true,
			Timezone: "UTC",
		},
	}
}

func applyEnvOverrides(config *types.ServiceConfig) {
	if v := os.Getenv("BULK_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Sync.BulkConcurrency = n
		}
	}
	if v := os.Getenv("CACHE_BUDGET_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			config.Cache.Eviction.BudgetBytes = n
		}
	}
}
