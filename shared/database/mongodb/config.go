package mongodb

import (
	"fmt"
	"time"
)

// Config represents MongoDB configuration
type Config struct {
	// Connection settings
	URI                    string        `mapstructure:"uri" yaml:"uri" json:"-"`
	Database               string        `mapstructure:"database" yaml:"database" json:"database"`
	ConnectTimeout         time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`
	ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout" yaml:"server_selection_timeout" json:"server_selection_timeout"`

	// Connection pool settings
	MaxPoolSize     uint64        `mapstructure:"max_pool_size" yaml:"max_pool_size" json:"max_pool_size"`
	MinPoolSize     uint64        `mapstructure:"min_pool_size" yaml:"min_pool_size" json:"min_pool_size"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time" yaml:"max_conn_idle_time" json:"max_conn_idle_time"`

	// Authentication, when not embedded in the URI
	Username   string `mapstructure:"username" yaml:"username" json:"username,omitempty"`
	Password   string `mapstructure:"password" yaml:"password" json:"-"`
	AuthSource string `mapstructure:"auth_source" yaml:"auth_source" json:"auth_source,omitempty"`

	// Circuit breaker settings
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker" json:"circuit_breaker"`
}

// CircuitBreakerConfig defines circuit breaker settings
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests" yaml:"max_requests" json:"max_requests"`
	Interval         time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`
}

// DefaultConfig returns a default MongoDB configuration
func DefaultConfig() *Config {
	return &Config{
		URI:                    "mongodb://localhost:27017",
		Database:               "migration_guard",
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 5 * time.Second,
		MaxPoolSize:            20,
		MinPoolSize:            1,
		MaxConnIdleTime:        5 * time.Minute,
		AuthSource:             "admin",
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("mongodb uri is required")
	}
	if c.Database == "" {
		return fmt.Errorf("mongodb database is required")
	}
	return nil
}
