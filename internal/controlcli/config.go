// Package controlcli handles loading and managing local fridayctl configuration.
// This includes the known fridayd control targets and client logging.
package controlcli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friday-assistant/friday/internal/logging"
)

// EnvCTLConfig overrides the client config path.
const EnvCTLConfig = "FRIDAYCTL_CONFIG"

// DefaultTimeout bounds a single invocation when the config sets none.
const DefaultTimeout = 10 * time.Second

// TargetConfig represents one connection target (unix socket or TCP).
type TargetConfig struct {
	Socket string `yaml:"socket,omitempty"`
	TCP    string `yaml:"tcp,omitempty"`
}

// Endpoint returns the network and address to dial.
func (t TargetConfig) Endpoint() (network, address string, err error) {
	switch {
	case t.Socket != "":
		return "unix", t.Socket, nil
	case t.TCP != "":
		return "tcp", t.TCP, nil
	}
	return "", "", errors.New("invalid target config: no socket or tcp defined")
}

// CTLConfig holds the entire client-side fridayctl configuration.
type CTLConfig struct {
	Default string                  `yaml:"default,omitempty"`
	Timeout time.Duration           `yaml:"timeout,omitempty"`
	Targets map[string]TargetConfig `yaml:"targets"`
	Logger  logging.Config          `yaml:"log"`
}

// DefaultCTLPath returns $FRIDAYCTL_CONFIG or ~/.friday/fridayctl/config.yaml.
func DefaultCTLPath() string {
	if env := os.Getenv(EnvCTLConfig); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".friday", "fridayctl", "config.yaml")
}

// LoadCTLConfig reads the client config at path, DefaultCTLPath when empty.
// A missing default file yields an empty config so --addr alone works; an
// explicitly named file must exist.
func LoadCTLConfig(path string) (*CTLConfig, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultCTLPath()
	}

	cfg := &CTLConfig{Logger: logging.DefaultConfig()}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg.normalize(), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg.normalize(), nil
}

func (c *CTLConfig) normalize() *CTLConfig {
	if c.Targets == nil {
		c.Targets = make(map[string]TargetConfig)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// TargetNames returns the configured target names in sorted order.
func (c *CTLConfig) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GuessDefaultTarget returns the configured default, or the first target by
// name, or an empty string if none is configured.
func (c *CTLConfig) GuessDefaultTarget() string {
	if c.Default != "" {
		return c.Default
	}
	if names := c.TargetNames(); len(names) > 0 {
		return names[0]
	}
	return ""
}

// Endpoint picks what to dial. A non-empty addr wins over named targets; an
// addr containing a path separator is a unix socket, anything else tcp.
func (c *CTLConfig) Endpoint(target, addr string) (network, address string, err error) {
	if addr != "" {
		if strings.ContainsRune(addr, '/') {
			return "unix", addr, nil
		}
		return "tcp", addr, nil
	}

	if target == "" {
		target = c.GuessDefaultTarget()
	}
	if target == "" {
		return "", "", errors.New("no target configured, use --addr or add one to the config")
	}
	t, ok := c.Targets[target]
	if !ok {
		return "", "", fmt.Errorf("target '%s' not found", target)
	}
	return t.Endpoint()
}
