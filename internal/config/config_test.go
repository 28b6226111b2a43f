package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, yamlBody string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), ".flowtree.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFrom(t, "")
	require.NoError(t, err)

	assert.Equal(t, "flows.json", cfg.Paths.FlowsFile)
	assert.Equal(t, "src", cfg.Paths.SrcDir)
	assert.Equal(t, "none", cfg.Server.AuthType)
	assert.Equal(t, time.Second, cfg.Watch.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	assert.Equal(t, 5, cfg.Watch.ConvergenceLimit)
	assert.Equal(t, time.Minute, cfg.Watch.ConvergenceWindow)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := loadFrom(t, `
server:
  url: http://localhost:1880
  auth_type: bearer
  token: abc123
  timeout: 10s
paths:
  flows_file: data/flows.json
  src_dir: data/src
watch:
  poll_interval: 5s
  debounce: 1s
plugins:
  disabled: [func]
`)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:1880", cfg.Server.URL)
	assert.Equal(t, "bearer", cfg.Server.AuthType)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Watch.PollInterval)
	assert.Equal(t, []string{"func"}, cfg.Plugins.Disabled)

	cred := cfg.Credential()
	assert.Equal(t, "bearer", cred.Type)
	assert.Equal(t, "abc123", cred.Token)
}

func TestValidationRejectsBadValues(t *testing.T) {
	_, err := loadFrom(t, "server:\n  auth_type: kerberos\n")
	assert.Error(t, err)

	_, err = loadFrom(t, "server:\n  auth_type: bearer\n")
	assert.Error(t, err, "bearer without token")

	_, err = loadFrom(t, "server:\n  auth_type: basic\n  username: u\n")
	assert.Error(t, err, "basic without password")

	_, err = loadFrom(t, "log:\n  level: loud\n")
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".flowtree.yml")

	require.NoError(t, WriteDefault(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "flows_file: flows.json")
	assert.Contains(t, string(data), "url: http://localhost:1880")

	assert.Error(t, WriteDefault(path), "refuses to overwrite")
}
