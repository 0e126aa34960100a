package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "any", c.Status.KeyProvider)
	assert.Equal(t, "api-key-updates", c.Keys.Channel.Topic)
	assert.Equal(t, "memory", c.Keys.Channel.Backend)

	table, ok := c.Stream("market-table")
	require.True(t, ok)
	assert.Equal(t, 5000, table.BaseIntervalMs)
	assert.Equal(t, 3, table.MaxAttempts)
	assert.Equal(t, 3000, table.MinFetchGapMs)
	assert.Equal(t, []ErrorTier{{OverErrors: 5, IntervalMs: 15000}, {OverErrors: 2, IntervalMs: 10000}}, table.ErrorTiers)

	chart, ok := c.Stream("chart-detail")
	require.True(t, ok)
	assert.Equal(t, 30000, chart.BaseIntervalMs)
}

func TestLoadYAMLAndDefaults(t *testing.T) {
	path := writeConfig(t, `
force_simulation: true
sources:
  primary:
    url: http://localhost:8091/primary
  collector:
    url: http://localhost:8092/collector
    timeout_ms: 2000
streams:
  - name: market-table
    base_interval_ms: 4000
    max_attempts: 5
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.True(t, c.ForceSimulation)
	assert.Equal(t, "http", c.Sources.Primary.Kind)
	assert.Equal(t, 8000, c.Sources.Primary.TimeoutMs)
	assert.Equal(t, 2000, c.Sources.Collector.TimeoutMs)
	require.Len(t, c.Streams, 1)
	assert.Equal(t, 5, c.Streams[0].MaxAttempts)
	assert.Equal(t, 1000, c.Streams[0].BackoffBaseMs)
}

func TestLoad_ZeroMaxAttemptsDisablesRetries(t *testing.T) {
	path := writeConfig(t, `
streams:
  - name: market-table
    base_interval_ms: 5000
    max_attempts: 0
  - name: chart-detail
    base_interval_ms: 30000
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	require.Len(t, c.Streams, 2)
	assert.Equal(t, 0, c.Streams[0].MaxAttempts)
	assert.Equal(t, 3, c.Streams[1].MaxAttempts)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DASHFEED_FORCE_SIMULATION", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOG_LEVEL", "DEBUG")

	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.True(t, c.ForceSimulation)
	assert.Equal(t, "redis", c.Keys.Channel.Backend)
	assert.Equal(t, "localhost:6379", c.Keys.Channel.RedisAddr)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Root)
	}{
		{"bad log level", func(c *Root) { c.LogLevel = "loud" }},
		{"bad source url", func(c *Root) { c.Sources.Primary.URL = "not a url" }},
		{"unknown source kind", func(c *Root) { c.Sources.Primary.Kind = "ftp" }},
		{"redis without addr", func(c *Root) { c.Keys.Channel.Backend = "redis" }},
		{"duplicate stream", func(c *Root) { c.Streams = append(c.Streams, c.Streams[0]) }},
		{"zero interval", func(c *Root) { c.Streams[0].BaseIntervalMs = 0 }},
		{"slack without webhook", func(c *Root) { c.Notify.Slack.Enabled = true }},
		{"binance without symbols", func(c *Root) { c.Sources.Primary.Kind = "binance" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseError(t *testing.T) {
	_, err := Load(writeConfig(t, "streams: [:"))
	assert.Error(t, err)
}
