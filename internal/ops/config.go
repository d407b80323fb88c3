package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/schema"
)

// FileConfig mirrors the JSON config layout. Optional fields are pointers so
// absence can fall back to defaults.
type FileConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Heartbeat  HeartbeatConfig  `json:"heartbeat"`
	Orders     OrdersConfig     `json:"orders"`
	Features   FeaturesConfig   `json:"features"`
	State      StateConfig      `json:"state"`
	Audit      AuditConfig      `json:"audit"`
}

// ConnectionConfig describes the broker gateway endpoint.
type ConnectionConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ClientID       int    `json:"clientId"`
	Account        string `json:"account"`
	TimeoutSeconds *int   `json:"timeoutSeconds"`
}

// HeartbeatConfig tunes the liveness loop.
type HeartbeatConfig struct {
	IntervalSeconds      *int `json:"intervalSeconds"`
	ProbeTimeoutSeconds  *int `json:"probeTimeoutSeconds"`
	ReconnectMaxAttempts *int `json:"reconnectMaxAttempts"`
	ReconnectBackoffSecs *int `json:"reconnectBackoffSeconds"`
}

// OrdersConfig carries the order-workflow settings.
type OrdersConfig struct {
	CancelOrderIdempotent bool `json:"cancelOrderIdempotent"`
	CancelOrderID         int  `json:"cancelOrderId"`
}

// FeaturesConfig captures optional runtime flags.
type FeaturesConfig struct {
	OptionGreeksAutoFallback *bool `json:"optionGreeksAutoFallback"`
}

// StateConfig locates the checkpoint store.
type StateConfig struct {
	Dir string `json:"dir"`
}

// AuditConfig configures the optional Postgres artifact store. An empty DSN
// keeps audit output on the structured log only.
type AuditConfig struct {
	PostgresDSN string `json:"postgresDsn"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Options  schema.RuntimeOptions
	StateDir string
	AuditDSN string
}

const (
	defaultTimeoutSeconds       = 30
	defaultHeartbeatInterval    = 5
	defaultProbeTimeoutSeconds  = 5
	defaultReconnectMaxAttempts = 3
	defaultReconnectBackoffSecs = 2
)

// Load reads a JSON config file and resolves it against the given run mode.
func Load(path string, mode schema.RunMode) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg, mode)
}

// Resolve validates a parsed config and fills defaults.
func Resolve(cfg FileConfig, mode schema.RunMode) (Loaded, error) {
	if cfg.Connection.Host == "" {
		return Loaded{}, fmt.Errorf("connection host is empty")
	}
	if cfg.Connection.Port <= 0 || cfg.Connection.Port > 65535 {
		return Loaded{}, fmt.Errorf("connection port out of range: %d", cfg.Connection.Port)
	}
	if cfg.Connection.ClientID < 0 {
		return Loaded{}, fmt.Errorf("connection clientId must be >= 0")
	}

	options := schema.RuntimeOptions{
		Mode:     mode,
		Host:     cfg.Connection.Host,
		Port:     cfg.Connection.Port,
		ClientID: cfg.Connection.ClientID,
		Account:  cfg.Connection.Account,

		TimeoutSeconds:            intOr(cfg.Connection.TimeoutSeconds, defaultTimeoutSeconds),
		HeartbeatIntervalSecs:     intOr(cfg.Heartbeat.IntervalSeconds, defaultHeartbeatInterval),
		HeartbeatProbeTimeoutSecs: intOr(cfg.Heartbeat.ProbeTimeoutSeconds, defaultProbeTimeoutSeconds),
		ReconnectMaxAttempts:      intOr(cfg.Heartbeat.ReconnectMaxAttempts, defaultReconnectMaxAttempts),
		ReconnectBackoffSecs:      intOr(cfg.Heartbeat.ReconnectBackoffSecs, defaultReconnectBackoffSecs),

		CancelOrderIdempotent: cfg.Orders.CancelOrderIdempotent,
		CancelOrderID:         cfg.Orders.CancelOrderID,
	}
	if cfg.Features.OptionGreeksAutoFallback != nil {
		options.OptionGreeksAutoFallback = *cfg.Features.OptionGreeksAutoFallback
	}

	if options.TimeoutSeconds <= 0 {
		return Loaded{}, fmt.Errorf("timeoutSeconds must be > 0")
	}
	if options.HeartbeatIntervalSecs <= 0 {
		return Loaded{}, fmt.Errorf("heartbeat intervalSeconds must be > 0")
	}
	if options.HeartbeatProbeTimeoutSecs <= 0 {
		return Loaded{}, fmt.Errorf("heartbeat probeTimeoutSeconds must be > 0")
	}
	if options.ReconnectMaxAttempts <= 0 {
		return Loaded{}, fmt.Errorf("reconnectMaxAttempts must be > 0")
	}
	if options.ReconnectBackoffSecs < 0 {
		return Loaded{}, fmt.Errorf("reconnectBackoffSeconds must be >= 0")
	}
	if options.CancelOrderIdempotent && options.CancelOrderID <= 0 {
		return Loaded{}, fmt.Errorf("cancelOrderId must be > 0 when cancelOrderIdempotent is set")
	}

	stateDir := cfg.State.Dir
	if stateDir == "" {
		stateDir = "runtime_state"
	}

	return Loaded{
		Options:  options,
		StateDir: stateDir,
		AuditDSN: cfg.Audit.PostgresDSN,
	}, nil
}

// Timeout returns the per-request deadline derived from the options.
func (l Loaded) Timeout() time.Duration {
	return time.Duration(l.Options.TimeoutSeconds) * time.Second
}

func intOr(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
