// Package redis provides a Redis-backed page cache. Entries expire through
// Redis key TTLs, so a miss covers both absent and expired entries.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Address  string `yaml:"address" env:"REVIEWMILL_REDIS_ADDRESS"`
	Password string `yaml:"password" env:"REVIEWMILL_REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	// KeyPrefix namespaces cache keys. Defaults to "reviewmill".
	KeyPrefix string `yaml:"key_prefix"`
}

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// NewClient creates a Redis client and verifies the connection.
func NewClient(cfg Config) (*goredis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}
