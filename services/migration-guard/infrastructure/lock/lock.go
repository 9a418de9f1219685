// Package lock provides the non-blocking named locks that serialise
// migrations, rollbacks and recovery steps across processes.
package lock

import (
	"fmt"
	"time"
)

// Config selects and configures a lock provider
type Config struct {
	// Provider is "postgres", "redis", "consul" or "memory"
	Provider string `mapstructure:"provider" yaml:"provider" json:"provider"`
	// KeyPrefix namespaces redis keys and consul KV paths
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`
	// TTL bounds how long a crashed holder keeps a redis or consul lock
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`

	Consul ConsulConfig `mapstructure:"consul" yaml:"consul" json:"consul"`
}

// ConsulConfig locates the consul agent
type ConsulConfig struct {
	Address    string `mapstructure:"address" yaml:"address" json:"address"`
	Datacenter string `mapstructure:"datacenter" yaml:"datacenter" json:"datacenter"`
	Token      string `mapstructure:"token" yaml:"token" json:"-"`
}

// DefaultConfig returns the default lock configuration
func DefaultConfig() *Config {
	return &Config{
		Provider:  "postgres",
		KeyPrefix: "migration-guard/locks/",
		TTL:       30 * time.Second,
		Consul:    ConsulConfig{Address: "127.0.0.1:8500"},
	}
}

// Validate validates the lock configuration
func (c *Config) Validate() error {
	switch c.Provider {
	case "postgres", "redis", "consul", "memory":
	default:
		return fmt.Errorf("unknown lock provider %q", c.Provider)
	}
	if (c.Provider == "redis" || c.Provider == "consul") && c.TTL < time.Second {
		return fmt.Errorf("lock ttl must be at least 1s for %s", c.Provider)
	}
	if c.Provider == "consul" && c.Consul.Address == "" {
		return fmt.Errorf("consul address is required")
	}
	return nil
}
