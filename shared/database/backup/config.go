package backup

import (
	"fmt"
	"time"
)

// Config selects and configures the payload store
type Config struct {
	// Backend is "filesystem", "mongodb" or "memory"
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"`

	// Path is the filesystem root for the filesystem backend
	Path string `mapstructure:"path" yaml:"path" json:"path"`

	// Collection is the MongoDB collection for the mongodb backend
	Collection string `mapstructure:"collection" yaml:"collection" json:"collection"`

	Retention RetentionConfig `mapstructure:"retention" yaml:"retention" json:"retention"`
}

// RetentionConfig defines how long a backup stays usable, per backup type
type RetentionConfig struct {
	Default       time.Duration `mapstructure:"default" yaml:"default" json:"default"`
	PreMigration  time.Duration `mapstructure:"pre_migration" yaml:"pre_migration" json:"pre_migration"`
	PostMigration time.Duration `mapstructure:"post_migration" yaml:"post_migration" json:"post_migration"`
	RollbackPoint time.Duration `mapstructure:"rollback_point" yaml:"rollback_point" json:"rollback_point"`
}

// DefaultConfig returns the default backup configuration
func DefaultConfig() *Config {
	return &Config{
		Backend:    "filesystem",
		Path:       "./backups",
		Collection: "backup_payloads",
		Retention: RetentionConfig{
			Default: 30 * 24 * time.Hour,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Backend {
	case "filesystem":
		if c.Path == "" {
			return fmt.Errorf("backup path is required for the filesystem backend")
		}
	case "mongodb":
		if c.Collection == "" {
			return fmt.Errorf("backup collection is required for the mongodb backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown backup backend %q", c.Backend)
	}
	if c.Retention.Default <= 0 {
		return fmt.Errorf("default backup retention must be positive")
	}
	return nil
}

// For returns the retention for a backup type, falling back to Default
func (r RetentionConfig) For(backupType string) time.Duration {
	var d time.Duration
	switch backupType {
	case "pre_migration":
		d = r.PreMigration
	case "post_migration":
		d = r.PostMigration
	case "rollback_point":
		d = r.RollbackPoint
	}
	if d <= 0 {
		return r.Default
	}
	return d
}

// ExpiresAt computes the expiry of a backup created at createdAt
func (r RetentionConfig) ExpiresAt(backupType string, createdAt time.Time) time.Time {
	return createdAt.Add(r.For(backupType))
}
