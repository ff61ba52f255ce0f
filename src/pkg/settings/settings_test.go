package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), config)
	assert.Equal(t, "http://localhost:3001", config.BaseURL())
	assert.Equal(t, ":3001", config.ListenAddress())
	assert.Equal(t, filepath.Join("tmp", ".ledger"), config.LedgerDir())
	assert.Empty(t, config.Server.AllowedOrigins)
}

func TestLedgerDir(t *testing.T) {
	config := Default()
	config.Scratch.Dir = "/var/tmp/imgrelay"
	assert.Equal(t, "/var/tmp/imgrelay/.ledger", config.LedgerDir())

	config.Artifacts.LedgerPath = "/var/lib/imgrelay/ledger"
	assert.Equal(t, "/var/lib/imgrelay/ledger", config.LedgerDir())

	config.Artifacts.DisableLedger = true
	assert.Empty(t, config.LedgerDir())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgrelay.yaml")
	contents := `
server:
  port: 8080
  publicBaseUrl: https://img.example.com
artifacts:
  serveTtl: 10m
  disableLedger: true
scratch:
  dir: /var/tmp/imgrelay
  watch: false
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "https://img.example.com", config.BaseURL())
	assert.Equal(t, 10*time.Minute, config.Artifacts.ServeTTL)
	assert.Equal(t, "/var/tmp/imgrelay", config.Scratch.Dir)
	assert.False(t, config.Scratch.Watch)
	assert.Equal(t, time.Hour, config.Scratch.SweepInterval)
	assert.True(t, config.Server.Diagnostics)
	assert.Empty(t, config.LedgerDir())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\nfetch:\n  maxBytes: -1\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "fetch.maxBytes")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
