// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the reviewmill application configuration.
//
// Values are resolved in this order, later sources winning:
//
//  1. Default()
//  2. the YAML file, when one is given
//  3. .env files (REVIEWMILL_ENV_FILE, else .env.local and .env)
//  4. REVIEWMILL_* environment variables, declared with `env` struct tags
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/poiesic/reviewmill/ai"
	"github.com/poiesic/reviewmill/blob"
	"github.com/poiesic/reviewmill/fetch"
	"github.com/poiesic/reviewmill/index"
	"github.com/poiesic/reviewmill/logging"
	"github.com/poiesic/reviewmill/media"
	"github.com/poiesic/reviewmill/retry"
	"github.com/poiesic/reviewmill/storage/redis"
	"gopkg.in/yaml.v3"
)

// PathEnv names the variable that points at the YAML file when no path is passed.
const PathEnv = "REVIEWMILL_CONFIG"

// Storage, blob and cache drivers.
const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverS3       = "s3"
)

var (
	ErrUnknownDriver = errors.New("unknown driver")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the complete application configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
	Cache     CacheConfig     `yaml:"cache"`
	AI        ai.Config       `yaml:"ai"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Retry     RetryConfig     `yaml:"retry"`
	Media     MediaConfig     `yaml:"media"`
	Index     IndexConfig     `yaml:"index"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects the canonical record store.
// BadgerDB is always opened: it also holds index snapshots, and the page
// cache unless Redis is configured.
type StorageConfig struct {
	Driver      string `yaml:"driver" env:"REVIEWMILL_STORAGE_DRIVER"`
	Path        string `yaml:"path" env:"REVIEWMILL_DB_PATH"`
	InMemory    bool   `yaml:"in_memory" env:"REVIEWMILL_DB_IN_MEMORY"`
	PostgresDSN string `yaml:"postgres_dsn" env:"REVIEWMILL_POSTGRES_DSN"`
}

// BlobConfig selects where raw pages, images and shipped logs are kept.
type BlobConfig struct {
	Driver string        `yaml:"driver" env:"REVIEWMILL_BLOB_DRIVER"`
	Root   string        `yaml:"root" env:"REVIEWMILL_BLOB_ROOT"`
	S3     blob.S3Config `yaml:"s3"`
}

// CacheConfig configures the page cache.
type CacheConfig struct {
	Driver string        `yaml:"driver" env:"REVIEWMILL_CACHE_DRIVER"`
	TTL    time.Duration `yaml:"ttl" env:"REVIEWMILL_CACHE_TTL"`
	Redis  redis.Config  `yaml:"redis"`
}

// FetchConfig configures the review source and pagination.
type FetchConfig struct {
	BaseURL  string        `yaml:"base_url" env:"REVIEWMILL_SOURCE_URL"`
	APIURL   string        `yaml:"api_url" env:"REVIEWMILL_SOURCE_API_URL"`
	PageSize int           `yaml:"page_size"`
	MaxPages int           `yaml:"max_pages" env:"REVIEWMILL_MAX_PAGES"`
	MinDelay time.Duration `yaml:"min_delay" env:"REVIEWMILL_MIN_DELAY"`
	Timeout  time.Duration `yaml:"timeout"`
	// Catalog lists the product URLs mock mode chooses from.
	Catalog []string `yaml:"catalog"`
	// Keywords lists the search terms random mode chooses from.
	Keywords []string `yaml:"keywords" env:"REVIEWMILL_KEYWORDS"`
}

// RetryConfig mirrors retry.Policy for every outbound call.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" env:"REVIEWMILL_RETRY_ATTEMPTS"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	PerAttemptTimeout time.Duration `yaml:"per_attempt_timeout" env:"REVIEWMILL_CALL_TIMEOUT"`
}

// Policy returns the retry policy. Each component supplies its own
// Retryable classifier.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       r.MaxAttempts,
		BackoffBase:       r.BackoffBase,
		MaxDelay:          r.MaxDelay,
		PerAttemptTimeout: r.PerAttemptTimeout,
	}
}

type MediaConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	SnapshotName   string `yaml:"snapshot_name"`
	BatchSize      int    `yaml:"batch_size" env:"REVIEWMILL_INDEX_BATCH_SIZE"`
	ReportInterval int    `yaml:"report_interval"`
}

// IngestionConfig sizes the enrichment worker pool.
type IngestionConfig struct {
	PoolSize int `yaml:"pool_size" env:"REVIEWMILL_POOL_SIZE"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"REVIEWMILL_LOG_LEVEL"`
	Format string `yaml:"format" env:"REVIEWMILL_LOG_FORMAT"`
	// Ship uploads operational logs to the blob store on shutdown.
	Ship bool `yaml:"ship" env:"REVIEWMILL_LOG_SHIP"`
}

// Default returns a configuration that runs entirely on local resources.
func Default() *Config {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	policy := retry.DefaultPolicy()

	return &Config{
		Storage: StorageConfig{
			Driver: DriverBadger,
			Path:   "reviewmill.db",
		},
		Blob: BlobConfig{
			Driver: DriverFile,
			Root:   "reviewmill-blobs",
			S3:     blob.S3Config{Region: "us-east-1"},
		},
		Cache: CacheConfig{
			Driver: DriverBadger,
			TTL:    fetch.DefaultCacheTTL,
			Redis:  redis.Config{Address: "localhost:6379"},
		},
		AI: *ai.DefaultConfig(),
		Fetch: FetchConfig{
			BaseURL:  fetch.DefaultVistaprintURL,
			APIURL:   fetch.DefaultVistaprintAPIURL,
			PageSize: fetch.DefaultPageSize,
			MaxPages: fetch.DefaultMaxPages,
			MinDelay: fetch.DefaultMinDelay,
			Timeout:  30 * time.Second,
			Catalog:  append([]string(nil), fetch.DefaultCatalog...),
			Keywords: append([]string(nil), fetch.DefaultKeywords...),
		},
		Retry: RetryConfig{
			MaxAttempts:       policy.MaxAttempts,
			BackoffBase:       policy.BackoffBase,
			MaxDelay:          policy.MaxDelay,
			PerAttemptTimeout: policy.PerAttemptTimeout,
		},
		Media: MediaConfig{MaxBytes: media.DefaultMaxBytes},
		Index: IndexConfig{
			SnapshotName:   index.DefaultSnapshotName,
			BatchSize:      index.DefaultBatchSize,
			ReportInterval: 100,
		},
		Ingestion: IngestionConfig{PoolSize: workers},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves the configuration. An empty path falls back to $REVIEWMILL_CONFIG;
// when neither is set only defaults and the environment apply.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}
	if path == "" {
		path = os.Getenv(PathEnv)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over cfg. Keys absent from data keep their current values.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks driver names and the settings each driver needs.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverBadger:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: storage.postgres_dsn is required for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: storage %q", ErrUnknownDriver, c.Storage.Driver)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required unless in_memory is set", ErrInvalidConfig)
	}

	switch c.Blob.Driver {
	case DriverMemory:
	case DriverFile:
		if c.Blob.Root == "" {
			return fmt.Errorf("%w: blob.root is required for the file driver", ErrInvalidConfig)
		}
	case DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, blob.ErrBucketRequired)
		}
		if c.Blob.S3.Region == "" {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, blob.ErrRegionRequired)
		}
	default:
		return fmt.Errorf("%w: blob %q", ErrUnknownDriver, c.Blob.Driver)
	}

	switch c.Cache.Driver {
	case DriverBadger:
	case DriverRedis:
		if c.Cache.Redis.Address == "" {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, redis.ErrEmptyAddress)
		}
	default:
		return fmt.Errorf("%w: cache %q", ErrUnknownDriver, c.Cache.Driver)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("%w: cache.ttl must be positive", ErrInvalidConfig)
	}

	if err := c.AI.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Fetch.MaxPages < 1 {
		return fmt.Errorf("%w: fetch.max_pages must be positive", ErrInvalidConfig)
	}
	if c.Fetch.PageSize < 1 {
		return fmt.Errorf("%w: fetch.page_size must be positive", ErrInvalidConfig)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, retry.ErrInvalidMaxAttempts)
	}
	if c.Index.BatchSize < 1 {
		return fmt.Errorf("%w: index.batch_size must be positive", ErrInvalidConfig)
	}
	if c.Ingestion.PoolSize < 1 {
		return fmt.Errorf("%w: ingestion.pool_size must be positive", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
