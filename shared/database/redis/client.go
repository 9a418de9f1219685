package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Client wraps a standalone or cluster Redis client with a circuit breaker
type Client struct {
	config         *Config
	client         redis.UniversalClient
	logger         *zap.Logger
	circuitBreaker *gobreaker.CircuitBreaker
	mu             sync.RWMutex
	closed         bool
}

// NewClient creates a new Redis client and verifies connectivity
func NewClient(ctx context.Context, config *Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	client := NewClientFromUniversal(redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        config.Addresses,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		IdleTimeout:  config.ConnMaxIdleTime,
		PoolTimeout:  config.PoolTimeout,
	}), config, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info("Redis client initialized successfully",
		zap.Bool("cluster_mode", config.IsClusterMode()),
		zap.Strings("addresses", config.Addresses))

	return client, nil
}

// NewClientFromUniversal wraps an existing go-redis client
func NewClientFromUniversal(rdb redis.UniversalClient, config *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultConfig()
	}

	return &Client{
		config: config,
		client: rdb,
		logger: logger,
		circuitBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "redis-client",
			MaxRequests: config.CircuitBreaker.MaxRequests,
			Interval:    config.CircuitBreaker.Interval,
			Timeout:     config.CircuitBreaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.CircuitBreaker.FailureThreshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Info("Circuit breaker state changed",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

// Cmdable exposes the raw command interface
func (c *Client) Cmdable() redis.Cmdable {
	return c.client
}

// Execute runs fn through the circuit breaker
func (c *Client) Execute(ctx context.Context, fn func(ctx context.Context, rdb redis.Cmdable) error) error {
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx, c.client)
	})
	return err
}

// Ping tests the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.Execute(ctx, func(ctx context.Context, rdb redis.Cmdable) error {
		return rdb.Ping(ctx).Err()
	})
}

// Close closes the Redis connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	c.logger.Info("Redis client closed")
	return nil
}
