// Package config loads the migration-guard configuration from
// migration-guard.yaml and MIGRATION_GUARD_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/logging"
	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/metrics"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/service"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/lock"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/infrastructure/messaging"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/backup"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/elasticsearch"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/mongodb"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/postgres"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/redis"
)

const (
	// FileName is the config file name searched for without extension
	FileName = "migration-guard"
	// EnvPrefix prefixes every automatic environment lookup
	EnvPrefix = "MIGRATION_GUARD"
)

// Store backends for the tracking state
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// secretBindings maps config keys to the unprefixed variables that carry secrets
var secretBindings = map[string]string{
	"database.postgres.dsn": "DATABASE_URL",
	"redis.password":        "REDIS_PASSWORD",
	"lock.consul.token":     "CONSUL_TOKEN",
	"http.jwt_secret":       "ADMIN_JWT_SECRET",
}

// Config holds all configuration for migration-guard
type Config struct {
	Service  ServiceConfig  `mapstructure:"service" yaml:"service"`
	Logging  logging.Config `mapstructure:"logging" yaml:"logging"`
	Metrics  metrics.Config `mapstructure:"metrics" yaml:"metrics"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Redis    redis.Config   `mapstructure:"redis" yaml:"redis"`
	MongoDB  mongodb.Config `mapstructure:"mongodb" yaml:"mongodb"`
	Lock     lock.Config    `mapstructure:"lock" yaml:"lock"`
	Backup   backup.Config  `mapstructure:"backup" yaml:"backup"`
	Sinks    SinksConfig    `mapstructure:"sinks" yaml:"sinks"`
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`

	Migrations MigrationsConfig         `mapstructure:"migrations" yaml:"migrations"`
	Executor   service.ExecutorConfig   `mapstructure:"executor" yaml:"executor"`
	Rollback   service.RollbackConfig   `mapstructure:"rollback" yaml:"rollback"`
	Recovery   service.DRConfig         `mapstructure:"recovery" yaml:"recovery"`
	Monitoring service.MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
	Health     service.HealthConfig     `mapstructure:"health" yaml:"health"`
}

// ServiceConfig contains general service configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	// LockName is the global lock shared by migrations, rollbacks and recovery
	LockName string `mapstructure:"lock_name" yaml:"lock_name"`
	// Actor is the default actor for CLI invocations
	Actor string `mapstructure:"actor" yaml:"actor"`
}

// DatabaseConfig locates the managed database and the tracking store
type DatabaseConfig struct {
	// Store is "postgres" or "memory"
	Store    string          `mapstructure:"store" yaml:"store"`
	Schema   string          `mapstructure:"schema" yaml:"schema"`
	Postgres postgres.Config `mapstructure:"postgres" yaml:"postgres"`
}

// MigrationsConfig locates the migration source directory
type MigrationsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Catalog is an optional DR plan catalogue loaded at startup
	Catalog string `mapstructure:"catalog" yaml:"catalog"`
}

// SinksConfig enables the publish hooks
type SinksConfig struct {
	Kafka         KafkaSinkConfig         `mapstructure:"kafka" yaml:"kafka"`
	Elasticsearch ElasticsearchSinkConfig `mapstructure:"elasticsearch" yaml:"elasticsearch"`
}

// KafkaSinkConfig enables the kafka publisher
type KafkaSinkConfig struct {
	Enabled               bool `mapstructure:"enabled" yaml:"enabled"`
	messaging.KafkaConfig `mapstructure:",squash" yaml:",inline"`
}

// ElasticsearchSinkConfig enables the elasticsearch sink
type ElasticsearchSinkConfig struct {
	Enabled              bool `mapstructure:"enabled" yaml:"enabled"`
	elasticsearch.Config `mapstructure:",squash" yaml:",inline"`
}

// HTTPConfig configures the admin API
type HTTPConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer       string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
}

// ScheduleConfig drives the background jobs of the serve command. A zero
// interval disables the job.
type ScheduleConfig struct {
	HealthInterval  time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
	AlertInterval   time.Duration `mapstructure:"alert_interval" yaml:"alert_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig returns the configuration used when no file or environment
// overrides are present
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "migration-guard",
			Environment: "production",
			LockName:    service.DefaultLockName,
		},
		Logging: *logging.DefaultConfig(),
		Metrics: *metrics.DefaultConfig(),
		Database: DatabaseConfig{
			Store:    StorePostgres,
			Schema:   "public",
			Postgres: *postgres.DefaultConfig(),
		},
		Redis:   *redis.DefaultConfig(),
		MongoDB: *mongodb.DefaultConfig(),
		Lock:    *lock.DefaultConfig(),
		Backup:  *backup.DefaultConfig(),
		Sinks: SinksConfig{
			Kafka:         KafkaSinkConfig{KafkaConfig: messaging.DefaultKafkaConfig()},
			Elasticsearch: ElasticsearchSinkConfig{Config: *elasticsearch.DefaultConfig()},
		},
		HTTP: HTTPConfig{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			JWTIssuer:       "migration-guard",
		},
		Schedule: ScheduleConfig{
			HealthInterval:  5 * time.Minute,
			AlertInterval:   time.Minute,
			CleanupInterval: time.Hour,
		},
		Migrations: MigrationsConfig{Dir: "./migrations"},
		Executor:   service.DefaultExecutorConfig(),
		Rollback:   service.DefaultRollbackConfig(),
		Recovery:   service.DefaultDRConfig(),
		Monitoring: service.DefaultMonitoringConfig(),
		Health:     service.DefaultHealthConfig(),
	}
}

// Load reads configuration from path (a file or a directory), ./config,
// /etc/migration-guard and the working directory, then overlays the
// environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	cfg := &Config{}
	source := common.ConfigSource{
		Name:        FileName,
		Type:        "yaml",
		Paths:       []string{path, "./config", "/etc/migration-guard", "."},
		EnvPrefix:   EnvPrefix,
		EnvBindings: secretBindings,
	}
	if err := common.LoadConfigFromSources(v, source, cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every leaf of defaults with viper so that
// AutomaticEnv can override keys absent from the file
func setDefaults(v *viper.Viper, defaults *Config) error {
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to encode default configuration: %w", err)
	}
	tree := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode default configuration: %w", err)
	}
	flatten(v, "", tree)
	return nil
}

func flatten(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok && len(nested) > 0 {
			flatten(v, full, nested)
			continue
		}
		v.SetDefault(full, value)
	}
}

// normalize propagates the shared lock name into the components
func (c *Config) normalize() {
	c.Service.LockName = common.Coalesce(strings.TrimSpace(c.Service.LockName), service.DefaultLockName)
	c.Executor.LockName = c.Service.LockName
	c.Rollback.LockName = c.Service.LockName
	c.Recovery.LockName = c.Service.LockName
	c.Database.Store = strings.ToLower(strings.TrimSpace(c.Database.Store))
	c.Lock.Provider = strings.ToLower(strings.TrimSpace(c.Lock.Provider))
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.Database.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Database.Store)
	}
	if err := c.Database.Postgres.Validate(); err != nil {
		return err
	}
	if err := c.Lock.Validate(); err != nil {
		return err
	}
	if err := c.Backup.Validate(); err != nil {
		return err
	}
	if c.Lock.Provider == "redis" {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}
	if c.Backup.Backend == "mongodb" {
		if err := c.MongoDB.Validate(); err != nil {
			return err
		}
	}
	if c.Sinks.Kafka.Enabled {
		if err := c.Sinks.Kafka.Validate(); err != nil {
			return err
		}
	}
	if c.Sinks.Elasticsearch.Enabled {
		if err := c.Sinks.Elasticsearch.Validate(); err != nil {
			return err
		}
	}
	if c.Schedule.HealthInterval < 0 || c.Schedule.AlertInterval < 0 || c.Schedule.CleanupInterval < 0 {
		return fmt.Errorf("schedule intervals must not be negative")
	}
	if c.Recovery.HealthFailureThreshold < 1 || c.Recovery.MigrationFailureThreshold < 1 || c.Recovery.DegradationEventThreshold < 1 {
		return fmt.Errorf("recovery detection thresholds must be at least 1")
	}
	return nil
}
