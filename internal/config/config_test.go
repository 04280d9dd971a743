package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friday-assistant/friday/internal/configloader"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fridayd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "FRIDAY", cfg.App.Name)
	assert.True(t, cfg.Bridge.Stdio)
	assert.False(t, cfg.Bridge.PubSub)
	assert.Equal(t, 4<<20, cfg.Bridge.MaxFrameBytes)
	assert.Equal(t, 5*time.Second, cfg.Bridge.ShutdownGrace)
	assert.False(t, cfg.Breaker.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Timeout)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Logger.ToStderr)
	assert.False(t, cfg.Logger.ToStdout)
	assert.Empty(t, cfg.Source)
	assert.NoError(t, cfg.Validate())
	assert.Greater(t, cfg.Bridge.EffectiveWorkers(), 0)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
app:
  name: FRIDAY
  version: 1.2.3
bridge:
  workers: 3
  stdio: false
  pubsub: true
  shutdown_grace: 2s
breaker:
  enabled: true
  failure_threshold: 2
  timeout: 1m
control:
  instances:
    - name: local
      enabled: true
      mode: unix
      listen: /tmp/friday.sock
    - name: remote
      enabled: false
      mode: tcp
      listen: 127.0.0.1:7777
log:
  level: debug
  to_stdout: true
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, "1.2.3", cfg.App.Version)
	assert.Equal(t, 3, cfg.Bridge.EffectiveWorkers())
	assert.True(t, cfg.Bridge.PubSub)
	assert.Equal(t, 2*time.Second, cfg.Bridge.ShutdownGrace)
	assert.Equal(t, 4<<20, cfg.Bridge.MaxFrameBytes)

	bc := cfg.Breaker.Dispatch()
	assert.True(t, bc.Enabled)
	assert.Equal(t, uint32(2), bc.FailureThreshold)
	assert.Equal(t, time.Minute, bc.Timeout)
	assert.Equal(t, uint32(1), bc.MaxRequests)

	require.Len(t, cfg.Control.Instances, 2)
	enabled := cfg.Control.EnabledInstances()
	require.Len(t, enabled, 1)
	assert.Equal(t, "local", enabled[0].Name)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"stdout clash": "bridge:\n  stdio: true\nlog:\n  to_stdout: true\n",
		"bad mode":     "control:\n  instances:\n    - name: x\n      enabled: true\n      mode: pipe\n      listen: /tmp/x\n",
		"no listen":    "control:\n  instances:\n    - name: x\n      enabled: true\n      mode: tcp\n",
		"dup name":     "control:\n  instances:\n    - name: x\n    - name: x\n",
		"negative":     "bridge:\n  workers: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	t.Setenv(configloader.EnvConfig, "")
	t.Setenv("HOME", t.TempDir())
	old := configloader.SystemDir
	configloader.SystemDir = t.TempDir()
	t.Cleanup(func() { configloader.SystemDir = old })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "FRIDAY", cfg.App.Name)
	assert.Empty(t, cfg.Source)
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "app:\n  name: Jarvis\n")
	t.Setenv(configloader.EnvConfig, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Jarvis", cfg.App.Name)
	assert.Equal(t, path, cfg.Source)
}

func TestLoadFromEnvMissingFile(t *testing.T) {
	t.Setenv(configloader.EnvConfig, filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFileControlACL(t *testing.T) {
	path := writeConfig(t, `
control:
  instances:
    - name: tools
      enabled: true
      mode: tcp
      listen: 127.0.0.1:7070
      acl:
        rules:
          - description: diagnostics
            commands: ["ping", "system.*"]
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	inst := cfg.Control.EnabledInstances()
	require.Len(t, inst, 1)
	assert.True(t, inst[0].ACL.Enabled())
	assert.True(t, inst[0].ACL.Can("system.info"))
	assert.False(t, inst[0].ACL.Can("bridge.echo"))

	bad := writeConfig(t, `
control:
  instances:
    - name: tools
      enabled: true
      mode: tcp
      listen: 127.0.0.1:7070
      acl:
        rules:
          - commands: ["[oops"]
`)
	_, err = LoadFile(bad)
	assert.ErrorContains(t, err, "acl")
}
