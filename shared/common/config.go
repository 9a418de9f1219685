package common

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ConfigSource describes where a component reads its configuration from
type ConfigSource struct {
	// Name is the config file name without extension
	Name string
	// Type is the config file type understood by viper (yaml, json, toml)
	Type string
	// Paths are searched in order; an explicit file path may be given as the first entry
	Paths []string
	// EnvPrefix is applied to every automatic environment lookup
	EnvPrefix string
	// EnvBindings maps config keys to unprefixed environment variables (secrets, URLs)
	EnvBindings map[string]string
}

// LoadConfigFromSources reads the config file (if any), overlays environment
// variables and unmarshals the result into out. Defaults must already be set on v.
func LoadConfigFromSources(v *viper.Viper, source ConfigSource, out interface{}) error {
	if source.Type == "" {
		source.Type = "yaml"
	}

	explicitFile := false
	for _, path := range source.Paths {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			v.SetConfigFile(path)
			explicitFile = true
			break
		}
		v.AddConfigPath(path)
	}
	if !explicitFile {
		v.SetConfigName(source.Name)
		v.SetConfigType(source.Type)
	}

	// Enable environment variable support
	v.SetEnvPrefix(source.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range source.EnvBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind environment variable %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}
