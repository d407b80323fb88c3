package schema

// RuntimeOptions are the resolved per-run settings shared across components.
// Error classification reads Mode and the feature flags; the session and
// heartbeat read the connection and timing fields.
type RuntimeOptions struct {
	Mode     RunMode
	Host     string
	Port     int
	ClientID int
	Account  string

	TimeoutSeconds            int
	HeartbeatIntervalSecs     int
	HeartbeatProbeTimeoutSecs int
	ReconnectMaxAttempts      int
	ReconnectBackoffSecs      int

	// OptionGreeksAutoFallback widens the option-greeks workflow to retry
	// with a generic contract when the exact probe fails; the probe errors
	// it provokes are expected and must not fail the run.
	OptionGreeksAutoFallback bool

	// CancelOrderIdempotent treats cancel-not-found responses for
	// CancelOrderID as success in the cancel simulation workflow.
	CancelOrderIdempotent bool
	CancelOrderID         int
}
