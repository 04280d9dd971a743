// Package config provides loading and parsing of the FRIDAY host
// configuration file using Viper. It defines the full configuration schema;
// every key has a default so the desktop app starts without a file.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/friday-assistant/friday/dispatch"
	"github.com/friday-assistant/friday/internal/acl"
	"github.com/friday-assistant/friday/internal/configloader"
	"github.com/friday-assistant/friday/internal/logging"
)

// Subsystem and file name used to locate the host configuration.
const (
	Subsystem = "fridayd"
	FileName  = "fridayd.yaml"
)

// Config represents the full structure of the fridayd configuration file.
type Config struct {
	App     AppConfig          `mapstructure:"app"`
	Bridge  BridgeConfig       `mapstructure:"bridge"`
	Breaker BreakerConfig      `mapstructure:"breaker"`
	Control ControlMultiConfig `mapstructure:"control"`
	Logger  logging.Config     `mapstructure:"log"`

	// Source is the file the config was read from, empty for defaults.
	Source string
}

// AppConfig identifies the application to handlers.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// BridgeConfig tunes the command bridge.
type BridgeConfig struct {
	Workers       int           `mapstructure:"workers"`         // 0 = one per CPU
	Stdio         bool          `mapstructure:"stdio"`           // serve the web view on stdin/stdout
	PubSub        bool          `mapstructure:"pubsub"`          // in-process watermill bridge
	MaxFrameBytes int           `mapstructure:"max_frame_bytes"` // per-line limit on stream transports
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`  // wait for in-flight handlers on exit
}

// BreakerConfig mirrors dispatch.BreakerConfig for the config file.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// ControlInstance describes a single control interface (e.g. unix socket or TCP listener).
type ControlInstance struct {
	Name    string `mapstructure:"name"`    // instance identifier
	Enabled bool   `mapstructure:"enabled"` // whether this instance is active
	Mode    string `mapstructure:"mode"`    // "unix" or "tcp"
	Listen  string `mapstructure:"listen"`  // address or socket path

	// ACL limits the commands this instance may invoke; empty allows all.
	ACL acl.RuleSet `mapstructure:"acl"`
}

// ControlMultiConfig supports multiple control instances with distinct settings.
type ControlMultiConfig struct {
	Instances []ControlInstance `mapstructure:"instances"` // enabled control endpoints
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "FRIDAY")
	v.SetDefault("app.version", "0.0.0-dev")

	v.SetDefault("bridge.workers", 0)
	v.SetDefault("bridge.stdio", true)
	v.SetDefault("bridge.pubsub", false)
	v.SetDefault("bridge.max_frame_bytes", 4<<20)
	v.SetDefault("bridge.shutdown_grace", "5s")

	b := dispatch.DefaultBreakerConfig()
	v.SetDefault("breaker.enabled", b.Enabled)
	v.SetDefault("breaker.max_requests", b.MaxRequests)
	v.SetDefault("breaker.interval", b.Interval.String())
	v.SetDefault("breaker.timeout", b.Timeout.String())
	v.SetDefault("breaker.failure_threshold", b.FailureThreshold)

	l := logging.DefaultConfig()
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.to_stdout", l.ToStdout)
	v.SetDefault("log.to_stderr", l.ToStderr)
	v.SetDefault("log.to_file", false)
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.max_backups", 3)
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg, err := decode(viper.New(), "")
	if err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return cfg
}

// Load resolves the config path and reads it. A missing file is not an
// error: the defaults are returned instead.
func Load() (*Config, error) {
	path, err := configloader.ResolveConfigPath(Subsystem, FileName)
	if errors.Is(err, configloader.ErrNoConfig) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads and validates the YAML file at path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	cfg, err := decode(v, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(v *viper.Viper, source string) (*Config, error) {
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}
	cfg.Source = source
	return &cfg, nil
}

// Validate checks values viper cannot check by type alone.
func (c *Config) Validate() error {
	var errs []error
	if c.Bridge.Workers < 0 {
		errs = append(errs, fmt.Errorf("bridge.workers must not be negative"))
	}
	if c.Bridge.MaxFrameBytes < 0 {
		errs = append(errs, fmt.Errorf("bridge.max_frame_bytes must not be negative"))
	}
	if c.Bridge.Stdio && c.Logger.ToStdout {
		errs = append(errs, fmt.Errorf("log.to_stdout cannot be used while bridge.stdio owns stdout"))
	}

	seen := make(map[string]bool)
	for i, inst := range c.Control.Instances {
		if inst.Name == "" {
			errs = append(errs, fmt.Errorf("control.instances[%d]: name is required", i))
		} else if seen[inst.Name] {
			errs = append(errs, fmt.Errorf("control.instances[%d]: duplicate name %q", i, inst.Name))
		}
		seen[inst.Name] = true

		if !inst.Enabled {
			continue
		}
		if inst.Mode != "unix" && inst.Mode != "tcp" {
			errs = append(errs, fmt.Errorf("control instance %q: mode must be unix or tcp, got %q", inst.Name, inst.Mode))
		}
		if inst.Listen == "" {
			errs = append(errs, fmt.Errorf("control instance %q: listen is required", inst.Name))
		}
		if err := inst.ACL.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("control instance %q: acl: %w", inst.Name, err))
		}
	}
	return errors.Join(errs...)
}

// EffectiveWorkers returns the worker pool size, one per CPU when unset.
func (b BridgeConfig) EffectiveWorkers() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return runtime.NumCPU()
}

// Dispatch converts the file settings into dispatcher settings.
func (b BreakerConfig) Dispatch() dispatch.BreakerConfig {
	return dispatch.BreakerConfig{
		Enabled:          b.Enabled,
		MaxRequests:      b.MaxRequests,
		Interval:         b.Interval,
		Timeout:          b.Timeout,
		FailureThreshold: b.FailureThreshold,
	}
}

// EnabledInstances returns the control instances marked enabled.
func (c ControlMultiConfig) EnabledInstances() []ControlInstance {
	var out []ControlInstance
	for _, inst := range c.Instances {
		if inst.Enabled {
			out = append(out, inst)
		}
	}
	return out
}
