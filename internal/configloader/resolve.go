// Package configloader locates FRIDAY configuration files on disk.
package configloader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfig overrides the lookup with an explicit file path.
const EnvConfig = "FRIDAY_CONFIG"

// ErrNoConfig is returned when no candidate file exists.
var ErrNoConfig = errors.New("no config found")

// SystemDir is the system-wide configuration directory.
var SystemDir = "/etc/friday"

// ResolveConfigPath returns the best config path for a given subsystem and filename.
// It checks, in order:
// 1. $FRIDAY_CONFIG if set (used as-is, even if missing)
// 2. ~/.friday/<subsystem>/<file>
// 3. /etc/friday/<file>
func ResolveConfigPath(subsystem, file string) (string, error) {
	if env := os.Getenv(EnvConfig); env != "" {
		return env, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".friday", subsystem, file)
		if _, err := os.Stat(userPath); err == nil {
			return userPath, nil
		}
	}
	systemPath := filepath.Join(SystemDir, file)
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath, nil
	}
	return "", fmt.Errorf("%w for %s/%s", ErrNoConfig, subsystem, file)
}
