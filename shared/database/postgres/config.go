package postgres

import (
	"fmt"
	"time"
)

// Config represents the PostgreSQL connection configuration
type Config struct {
	DSN string `mapstructure:"dsn" yaml:"dsn" json:"-"`

	// Pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// Global connection settings
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout" json:"connection_timeout"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout" yaml:"query_timeout" json:"query_timeout"`

	// Circuit breaker settings
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker" json:"circuit_breaker"`

	// Retry settings
	RetryConfig RetryConfig `mapstructure:"retry" yaml:"retry" json:"retry"`
}

// CircuitBreakerConfig defines circuit breaker settings for database connections
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests" yaml:"max_requests" json:"max_requests"`
	Interval         time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`
}

// RetryConfig defines retry behavior for database operations
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval" json:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`
}

// DefaultConfig returns a production-ready PostgreSQL configuration
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:      10,
		MaxIdleConns:      5,
		ConnMaxLifetime:   30 * time.Minute,
		ConnMaxIdleTime:   5 * time.Minute,
		ConnectionTimeout: 10 * time.Second,
		QueryTimeout:      60 * time.Second,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      10,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 5,
		},
		RetryConfig: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("postgres dsn is required")
	}
	if c.MaxOpenConns < 2 {
		// the advisory lock pins one connection for its lifetime
		return fmt.Errorf("max_open_conns must be at least 2, got %d", c.MaxOpenConns)
	}
	if c.RetryConfig.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	return nil
}

// Backoff returns the delay before retry attempt n+1
func (r RetryConfig) Backoff(attempt int) time.Duration {
	delay := r.InitialInterval
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * r.Multiplier)
		if r.MaxInterval > 0 && delay >= r.MaxInterval {
			return r.MaxInterval
		}
	}
	return delay
}
