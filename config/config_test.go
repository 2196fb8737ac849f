package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory so no stray .env is loaded.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(PathEnv, "")
	t.Setenv(EnvFileEnv, "")
	return dir
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, DriverFile, cfg.Blob.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "all-minilm", cfg.AI.EmbeddingModel)
	assert.Equal(t, 384, cfg.AI.Dimension)
	assert.GreaterOrEqual(t, cfg.Ingestion.PoolSize, 1)
	assert.NotEmpty(t, cfg.Fetch.Catalog)
	assert.NotEmpty(t, cfg.Fetch.Keywords)
}

func TestLoadWithoutFile(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLKeepsUnsetDefaults(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "reviewmill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  path: /var/lib/reviewmill
cache:
  driver: redis
  ttl: 2h
  redis:
    address: cache:6379
ai:
  embedding_host: http://embed:8080
  embedding_model: nomic-embed-text
  dimension: 768
fetch:
  max_pages: 5
  min_delay: 250ms
  keywords: [mug, poster]
retry:
  max_attempts: 5
logging:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/reviewmill", cfg.Storage.Path)
	assert.Equal(t, DriverBadger, cfg.Storage.Driver)
	assert.Equal(t, DriverRedis, cfg.Cache.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Address)
	assert.Equal(t, "http://embed:8080/v1", cfg.AI.EmbeddingHost, "hosts are normalized")
	assert.Equal(t, "nomic-embed-text", cfg.AI.EmbeddingModel)
	assert.Equal(t, 768, cfg.AI.Dimension)
	assert.Equal(t, "qwen2.5:3b", cfg.AI.ClassifierModel)
	assert.Equal(t, 5, cfg.Fetch.MaxPages)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.MinDelay)
	assert.Equal(t, []string{"mug", "poster"}, cfg.Fetch.Keywords)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BackoffBase)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromPathEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "alt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingestion:\n  pool_size: 7\n"), 0o600))
	t.Setenv(PathEnv, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Ingestion.PoolSize)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "reviewmill.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  path: from-file\n"), 0o600))

	t.Setenv("REVIEWMILL_DB_PATH", "from-env")
	t.Setenv("REVIEWMILL_CACHE_TTL", "90m")
	t.Setenv("REVIEWMILL_DB_IN_MEMORY", "yes")
	t.Setenv("REVIEWMILL_KEYWORDS", "hat, , scarf")
	t.Setenv("REVIEWMILL_S3_BUCKET", "reviews")
	t.Setenv("REVIEWMILL_API_KEY", "secret")
	t.Setenv("REVIEWMILL_POOL_SIZE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Storage.Path)
	assert.Equal(t, 90*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, []string{"hat", "scarf"}, cfg.Fetch.Keywords)
	assert.Equal(t, "reviews", cfg.Blob.S3.Bucket)
	assert.Equal(t, "secret", cfg.AI.APIKey)
	assert.Equal(t, Default().Ingestion.PoolSize, cfg.Ingestion.PoolSize, "unparsable values are ignored")
}

func TestDotEnvFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REVIEWMILL_LOG_LEVEL=warn\nREVIEWMILL_MAX_PAGES=3\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("REVIEWMILL_MAX_PAGES=4\n"), 0o600))
	t.Setenv("REVIEWMILL_LOG_LEVEL", "")
	t.Setenv("REVIEWMILL_MAX_PAGES", "")
	os.Unsetenv("REVIEWMILL_LOG_LEVEL")
	os.Unsetenv("REVIEWMILL_MAX_PAGES")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Fetch.MaxPages, ".env.local wins over .env")
}

func TestExplicitEnvFile(t *testing.T) {
	dir := isolate(t)
	envFile := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(envFile, []byte("REVIEWMILL_EMBEDDING_MODEL=mxbai-embed-large\n"), 0o600))
	t.Setenv(EnvFileEnv, envFile)
	t.Setenv("REVIEWMILL_EMBEDDING_MODEL", "")
	os.Unsetenv("REVIEWMILL_EMBEDDING_MODEL")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mxbai-embed-large", cfg.AI.EmbeddingModel)
}

func TestLoadErrors(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage: [unclosed"), 0o600))
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"unknown storage", func(c *Config) { c.Storage.Driver = "sqlite" }, ErrUnknownDriver},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, ErrInvalidConfig},
		{"no path on disk", func(c *Config) { c.Storage.Path = "" }, ErrInvalidConfig},
		{"unknown blob", func(c *Config) { c.Blob.Driver = "gcs" }, ErrUnknownDriver},
		{"file blob without root", func(c *Config) { c.Blob.Root = "" }, ErrInvalidConfig},
		{"s3 without bucket", func(c *Config) { c.Blob.Driver = DriverS3 }, ErrInvalidConfig},
		{"unknown cache", func(c *Config) { c.Cache.Driver = "memcached" }, ErrUnknownDriver},
		{"redis without address", func(c *Config) {
			c.Cache.Driver = DriverRedis
			c.Cache.Redis.Address = ""
		}, ErrInvalidConfig},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, ErrInvalidConfig},
		{"ai without model", func(c *Config) { c.AI.EmbeddingModel = "" }, ErrInvalidConfig},
		{"zero pages", func(c *Config) { c.Fetch.MaxPages = 0 }, ErrInvalidConfig},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, ErrInvalidConfig},
		{"zero pool", func(c *Config) { c.Ingestion.PoolSize = 0 }, ErrInvalidConfig},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, ErrInvalidConfig},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("in-memory needs no path", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Path = ""
		cfg.Storage.InMemory = true
		assert.NoError(t, cfg.Validate())
	})

	t.Run("postgres with dsn", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Driver = DriverPostgres
		cfg.Storage.PostgresDSN = "postgres://localhost/reviews"
		assert.NoError(t, cfg.Validate())
	})
}

func TestRetryPolicy(t *testing.T) {
	p := Default().Retry.Policy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 30*time.Second, p.PerAttemptTimeout)
	assert.Nil(t, p.Retryable)
}
