// Package providers builds the connections shared across gateway components.
package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig describes the Redis that gateway instances share for the
// submission limiter and the redis report store.
type RedisConfig struct {
	Addr        string
	Password    string
	DialTimeout time.Duration
	OpTimeout   time.Duration
}

const (
	defaultDialTimeout = 2 * time.Second
	defaultOpTimeout   = time.Second
)

// NewRedisProvider builds the client and pings it once. The client is
// returned even when the ping fails: the limiter fails open, so a Redis
// outage at startup degrades the gateway instead of stopping it.
func NewRedisProvider(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
		MaxRetries:   1,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout+cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return client, fmt.Errorf("redis %s unreachable: %w", cfg.Addr, err)
	}
	return client, nil
}
