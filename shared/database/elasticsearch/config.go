package elasticsearch

import (
	"fmt"
	"time"
)

// Config represents Elasticsearch configuration
type Config struct {
	// Connection settings
	Addresses []string `mapstructure:"addresses" yaml:"addresses" json:"addresses"`
	Username  string   `mapstructure:"username" yaml:"username" json:"username,omitempty"`
	Password  string   `mapstructure:"password" yaml:"password" json:"-"`
	APIKey    string   `mapstructure:"api_key" yaml:"api_key" json:"-"`

	// IndexPrefix is prepended to every index and template name
	IndexPrefix string `mapstructure:"index_prefix" yaml:"index_prefix" json:"index_prefix"`

	// Transport settings
	MaxIdleConns        int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host" json:"max_idle_conns_per_host"`
	KeepAlive           time.Duration `mapstructure:"keep_alive" yaml:"keep_alive" json:"keep_alive"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`

	// Circuit breaker settings
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker" json:"circuit_breaker"`

	// Retry settings
	RetryConfig RetryConfig `mapstructure:"retry" yaml:"retry" json:"retry"`
}

// CircuitBreakerConfig defines circuit breaker settings
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests" yaml:"max_requests" json:"max_requests"`
	Interval         time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`
}

// RetryConfig defines retry behavior for requests
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval" json:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`
}

// DefaultConfig returns a default Elasticsearch configuration
func DefaultConfig() *Config {
	return &Config{
		Addresses:           []string{"http://localhost:9200"},
		IndexPrefix:         "migration-guard",
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		KeepAlive:           90 * time.Second,
		RequestTimeout:      10 * time.Second,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      5,
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
	if len(c.Addresses) == 0 {
		return fmt.Errorf("at least one elasticsearch address is required")
	}
	return nil
}

// GetIndexName generates a time-based index name
func (c *Config) GetIndexName(kind string, timestamp time.Time) string {
	return fmt.Sprintf("%s-%s-%s", c.IndexPrefix, kind, timestamp.UTC().Format("2006.01.02"))
}

// GetIndexPattern returns the wildcard pattern covering every index of kind
func (c *Config) GetIndexPattern(kind string) string {
	return fmt.Sprintf("%s-%s-*", c.IndexPrefix, kind)
}

// Backoff returns the delay before retry attempt n, growing by Multiplier up
// to MaxInterval
func (r RetryConfig) Backoff(attempt int) time.Duration {
	backoff := r.InitialInterval
	for i := 0; i < attempt && backoff < r.MaxInterval; i++ {
		backoff = time.Duration(float64(backoff) * r.Multiplier)
	}
	if r.MaxInterval > 0 && backoff > r.MaxInterval {
		return r.MaxInterval
	}
	return backoff
}
