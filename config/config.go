// Package config loads the hub service configuration from a YAML or TOML
// file and applies WIREHOME_* environment overrides on top.
package config

import (
	"encoding"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"

	"github.com/wirehome/core"
	"github.com/wirehome/core/messagebus"
)

// EnvPrefix is prepended to every environment override variable.
const EnvPrefix = "WIREHOME_"

// APIConfig configures the HTTP facade.
type APIConfig struct {
	// Address is the listen address of the HTTP server.
	Address string `json:"address,omitempty" yaml:"address,omitempty" toml:"address" env:"ADDRESS"`

	// ShutdownTimeout bounds the graceful server shutdown.
	ShutdownTimeout wirehome.Duration `json:"shutdownTimeout,omitempty" yaml:"shutdownTimeout,omitempty" toml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// DiagnosticsConfig configures the OPS counter ticker.
type DiagnosticsConfig struct {
	// Interval is the counter reset period.
	Interval wirehome.Duration `json:"interval,omitempty" yaml:"interval,omitempty" toml:"interval" env:"INTERVAL"`
}

// WatcherConfig configures the storage change watcher.
type WatcherConfig struct {
	// Enabled turns the fsnotify watcher on.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled" env:"ENABLED"`
}

// Config is the root service configuration.
type Config struct {
	// DataDirectory is the root of the persisted JSON tree.
	DataDirectory string `json:"dataDirectory,omitempty" yaml:"dataDirectory,omitempty" toml:"dataDirectory" env:"DATA_DIRECTORY"`

	API         APIConfig         `json:"api,omitempty" yaml:"api,omitempty" toml:"api" env:"API"`
	MessageBus  messagebus.Config `json:"messageBus,omitempty" yaml:"messageBus,omitempty" toml:"messageBus" env:"MESSAGE_BUS"`
	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty" toml:"diagnostics" env:"DIAGNOSTICS"`
	Watcher     WatcherConfig     `json:"watcher,omitempty" yaml:"watcher,omitempty" toml:"watcher" env:"WATCHER"`
}

// Validate applies defaults to unset fields.
func (c *Config) Validate() error {
	if c.DataDirectory == "" {
		c.DataDirectory = "data"
	}
	if c.API.Address == "" {
		c.API.Address = ":8080"
	}
	if c.API.ShutdownTimeout <= 0 {
		c.API.ShutdownTimeout = wirehome.Duration(10 * time.Second)
	}
	if c.Diagnostics.Interval <= 0 {
		c.Diagnostics.Interval = wirehome.Duration(time.Second)
	}
	return c.MessageBus.Validate()
}

// Default returns the configuration with all defaults applied and
// environment overrides honored.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the configuration file, chosen by extension (.yaml/.yml/.toml),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides walks the config struct and overrides every field whose
// WIREHOME_* variable is set. Nested struct prefixes and field names come
// from the env struct tags, joined with underscores.
func applyEnvOverrides(cfg *Config) error {
	return overrideFields(reflect.ValueOf(cfg).Elem(), strings.TrimSuffix(EnvPrefix, "_"))
}

func overrideFields(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("env")
		if tag == "" {
			continue
		}
		name := prefix + "_" + tag

		value := v.Field(i)
		if value.Kind() == reflect.Struct {
			if err := overrideFields(value, name); err != nil {
				return err
			}
			continue
		}

		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if tu, ok := value.Addr().Interface().(encoding.TextUnmarshaler); ok {
			if err := tu.UnmarshalText([]byte(raw)); err != nil {
				return fmt.Errorf("environment variable %s: %w", name, err)
			}
			continue
		}
		converted, err := cast.FromType(raw, field.Type)
		if err != nil {
			return fmt.Errorf("environment variable %s: %w", name, err)
		}
		value.Set(reflect.ValueOf(converted).Convert(field.Type))
	}
	return nil
}
