package ops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func validConfig() FileConfig {
	return FileConfig{
		Connection: ConnectionConfig{
			Host:     "127.0.0.1",
			Port:     4002,
			ClientID: 7,
			Account:  "DU123",
		},
	}
}

func TestResolveDefaults(t *testing.T) {
	loaded, err := Resolve(validConfig(), schema.RunModeConnect)
	require.NoError(t, err)

	assert.Equal(t, schema.RunModeConnect, loaded.Options.Mode)
	assert.Equal(t, defaultTimeoutSeconds, loaded.Options.TimeoutSeconds)
	assert.Equal(t, defaultHeartbeatInterval, loaded.Options.HeartbeatIntervalSecs)
	assert.Equal(t, defaultProbeTimeoutSeconds, loaded.Options.HeartbeatProbeTimeoutSecs)
	assert.Equal(t, defaultReconnectMaxAttempts, loaded.Options.ReconnectMaxAttempts)
	assert.Equal(t, defaultReconnectBackoffSecs, loaded.Options.ReconnectBackoffSecs)
	assert.Equal(t, "runtime_state", loaded.StateDir)
	assert.Empty(t, loaded.AuditDSN)
}

func TestResolveOverrides(t *testing.T) {
	cfg := validConfig()
	timeout, interval := 10, 2
	fallback := true
	cfg.Connection.TimeoutSeconds = &timeout
	cfg.Heartbeat.IntervalSeconds = &interval
	cfg.Features.OptionGreeksAutoFallback = &fallback
	cfg.Orders.CancelOrderIdempotent = true
	cfg.Orders.CancelOrderID = 42
	cfg.State.Dir = "/var/lib/harvester/state"
	cfg.Audit.PostgresDSN = "host=localhost user=harvester dbname=audit"

	loaded, err := Resolve(cfg, schema.RunModeOrdersCancelSim)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.Options.TimeoutSeconds)
	assert.Equal(t, 2, loaded.Options.HeartbeatIntervalSecs)
	assert.True(t, loaded.Options.OptionGreeksAutoFallback)
	assert.True(t, loaded.Options.CancelOrderIdempotent)
	assert.Equal(t, 42, loaded.Options.CancelOrderID)
	assert.Equal(t, "/var/lib/harvester/state", loaded.StateDir)
	assert.NotEmpty(t, loaded.AuditDSN)
}

func TestResolveRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*FileConfig)
	}{
		{"empty host", func(c *FileConfig) { c.Connection.Host = "" }},
		{"port zero", func(c *FileConfig) { c.Connection.Port = 0 }},
		{"port overflow", func(c *FileConfig) { c.Connection.Port = 70000 }},
		{"negative clientId", func(c *FileConfig) { c.Connection.ClientID = -1 }},
		{"zero timeout", func(c *FileConfig) {
			zero := 0
			c.Connection.TimeoutSeconds = &zero
		}},
		{"zero interval", func(c *FileConfig) {
			zero := 0
			c.Heartbeat.IntervalSeconds = &zero
		}},
		{"idempotent cancel without order id", func(c *FileConfig) {
			c.Orders.CancelOrderIdempotent = true
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			_, err := Resolve(cfg, schema.RunModeConnect)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	payload := `{
		"connection": {"host": "127.0.0.1", "port": 4002, "clientId": 3, "timeoutSeconds": 15},
		"heartbeat": {"intervalSeconds": 3, "reconnectMaxAttempts": 5}
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	loaded, err := Load(path, schema.RunModeSnapshotAll)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", loaded.Options.Host)
	assert.Equal(t, 15, loaded.Options.TimeoutSeconds)
	assert.Equal(t, 3, loaded.Options.HeartbeatIntervalSecs)
	assert.Equal(t, 5, loaded.Options.ReconnectMaxAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"), schema.RunModeConnect)
	assert.Error(t, err)
}
