package controlcli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCTLConfig(t *testing.T) {
	path := writeFile(t, `
default: remote
timeout: 3s
targets:
  local:
    socket: /run/user/1000/fridayd.sock
  remote:
    tcp: 127.0.0.1:7070
log:
  level: debug
  to_stderr: true
`)
	cfg, err := LoadCTLConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"local", "remote"}, cfg.TargetNames())
	assert.Equal(t, "debug", cfg.Logger.Level)

	network, addr, err := cfg.Endpoint("", "")
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "127.0.0.1:7070", addr)

	network, addr, err = cfg.Endpoint("local", "")
	require.NoError(t, err)
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/run/user/1000/fridayd.sock", addr)

	_, _, err = cfg.Endpoint("missing", "")
	assert.Error(t, err)
}

func TestLoadCTLConfigMissingDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvCTLConfig, "")

	cfg, err := LoadCTLConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Targets)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)

	_, _, err = cfg.Endpoint("", "")
	assert.Error(t, err)

	network, addr, err := cfg.Endpoint("", "/tmp/x.sock")
	require.NoError(t, err)
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/tmp/x.sock", addr)

	network, _, err = cfg.Endpoint("", "localhost:9000")
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)
}

func TestLoadCTLConfigExplicitMissing(t *testing.T) {
	_, err := LoadCTLConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadCTLConfigInvalid(t *testing.T) {
	_, err := LoadCTLConfig(writeFile(t, "targets: [unterminated"))
	assert.Error(t, err)
}

func TestTargetWithoutEndpoint(t *testing.T) {
	cfg, err := LoadCTLConfig(writeFile(t, "targets:\n  empty: {}\n"))
	require.NoError(t, err)
	_, _, err = cfg.Endpoint("empty", "")
	assert.Error(t, err)
}
