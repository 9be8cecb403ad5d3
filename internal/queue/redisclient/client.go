// Package redisclient builds the shared Redis connection used by the job
// store mirror and the admin rate limiter.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

// New does not dial. Connection problems surface on first use, where the
// callers degrade instead of failing.
func New(cfg Config) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaxRetries:   1,
		PoolTimeout:  3 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

// Ping checks connectivity; used by readiness.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.redisdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.redisdb.Options().Addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.redisdb.Close()
}

// Raw exposes the client for the stores that issue commands directly.
func (c *Client) Raw() *redis.Client {
	return c.redisdb
}
